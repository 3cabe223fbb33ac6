package transcode

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// Handler exposes the dispatch boundary over HTTP using go-chi: creating a
// pending job, triggering a run and reading status back.
type Handler struct {
	store  Store
	runner *Runner
	layout Layout
	ladder []Profile
	log    *slog.Logger
}

// NewHandler returns a Handler over store and runner. ladder orders the
// renditions in job responses; nil selects DefaultLadder.
func NewHandler(store Store, runner *Runner, layout Layout, ladder []Profile, log *slog.Logger) *Handler {
	if ladder == nil {
		ladder = DefaultLadder
	}
	return &Handler{store: store, runner: runner, layout: layout, ladder: ladder, log: log}
}

// Routes mounts the job endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/jobs", h.CreateJob)
	r.Route("/jobs/{job_id}", func(r chi.Router) {
		r.Get("/", h.GetJob)
		r.Post("/process", h.ProcessJob)
		r.Get("/master.m3u8", h.GetMasterPlaylist)
	})
}

type createJobRequest struct {
	ID         string `json:"id"`
	SourcePath string `json:"source_path"`
}

type jobResponse struct {
	*Job
	Renditions []Rendition `json:"renditions"`
}

// CreateJob handles POST /jobs.
// Body: { "id": "optional", "source_path": "/uploads/a.mp4" }.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid job body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.SourcePath == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	job := &Job{ID: JobID(req.ID), SourcePath: req.SourcePath, Status: StatusPending}
	if err := h.store.CreateJob(r.Context(), job); err != nil {
		if errors.Is(err, ErrJobExists) {
			w.WriteHeader(http.StatusConflict)
			return
		}
		h.log.Error("create job failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.log.Info("job created", slog.String("job_id", req.ID))
	h.writeJob(w, r, job.ID, http.StatusCreated)
}

// GetJob handles GET /jobs/{job_id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := JobID(chi.URLParam(r, "job_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.writeJob(w, r, id, http.StatusOK)
}

// ProcessJob handles POST /jobs/{job_id}/process. The run happens in the
// background; poll GET /jobs/{job_id} for progress.
func (h *Handler) ProcessJob(w http.ResponseWriter, r *http.Request) {
	id := JobID(chi.URLParam(r, "job_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if _, err := h.store.GetJob(r.Context(), id); err != nil {
		h.writeStoreError(w, err)
		return
	}

	if err := h.runner.Submit(id); err != nil {
		switch {
		case errors.Is(err, ErrJobInFlight):
			w.WriteHeader(http.StatusConflict)
		case errors.Is(err, ErrRunnerClosed):
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			h.log.Error("submit job failed", slog.String("job_id", string(id)), slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	h.log.Info("job submitted", slog.String("job_id", string(id)))
	w.WriteHeader(http.StatusAccepted)
}

// GetMasterPlaylist handles GET /jobs/{job_id}/master.m3u8.
func (h *Handler) GetMasterPlaylist(w http.ResponseWriter, r *http.Request) {
	id := JobID(chi.URLParam(r, "job_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if job.MasterPlaylist == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	data, err := os.ReadFile(h.layout.Abs(job.MasterPlaylist))
	if err != nil {
		h.log.Error("read master playlist failed", slog.String("job_id", string(id)), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", playlistContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) writeJob(w http.ResponseWriter, r *http.Request, id JobID, status int) {
	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	renditions, err := h.store.ListRenditions(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	order := make(map[Quality]int, len(h.ladder))
	for i, p := range h.ladder {
		order[p.Quality] = i
	}
	sort.Slice(renditions, func(i, j int) bool {
		return order[renditions[i].Quality] < order[renditions[j].Quality]
	})
	if renditions == nil {
		renditions = []Rendition{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(jobResponse{Job: job, Renditions: renditions}); err != nil {
		h.log.Debug("write job response failed", slog.String("error", err.Error()))
	}
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrJobNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.log.Error("store read failed", slog.String("error", err.Error()))
	w.WriteHeader(http.StatusInternalServerError)
}
