package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hls-transcoder/internal/platform/metrics"

	"github.com/google/uuid"
)

// Progress checkpoints. Each successful rendition adds an equal share of
// progressEncodeAll on top of progressThumbnail.
const (
	progressProbed    = 10
	progressThumbnail = 20
	progressEncodeAll = 70
	progressManifest  = 90
	progressDone      = 100
)

// Config controls an Orchestrator.
type Config struct {
	// Ladder is iterated in order; nil selects DefaultLadder.
	Ladder []Profile

	FFprobePath string
	FFmpegPath  string

	// Zero disables the corresponding bound.
	ProbeTimeout     time.Duration
	ThumbnailTimeout time.Duration
	EncodeTimeout    time.Duration

	// AllowEmptyManifest lets a run with zero renditions end ready with an
	// empty-stream manifest. When false such a run fails with ErrNoRenditions.
	AllowEmptyManifest bool

	// Resolver locates the source file; nil selects RecordedSourceResolver.
	Resolver SourceResolver
}

// RunResult summarizes a finished run.
type RunResult struct {
	RunID      string
	Status     Status
	Renditions int
}

// Orchestrator sequences probe, thumbnail, per-quality encode and manifest
// assembly for one job, persisting the job record after every stage. It
// holds no per-job state, so one instance may run different jobs
// concurrently; runs on the same job must be serialized by the caller.
type Orchestrator struct {
	store     Store
	resolver  SourceResolver
	prober    *Prober
	thumbs    *ThumbnailExtractor
	encoder   *RenditionEncoder
	assembler *MasterAssembler
	cfg       Config
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// NewOrchestrator wires the pipeline stages over store and exec. Metrics may
// be nil to disable metric recording (e.g. in tests).
func NewOrchestrator(store Store, exec Executor, layout Layout, cfg Config, log *slog.Logger, m *metrics.Metrics) *Orchestrator {
	if cfg.Ladder == nil {
		cfg.Ladder = DefaultLadder
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = RecordedSourceResolver{}
	}
	return &Orchestrator{
		store:     store,
		resolver:  resolver,
		prober:    NewProber(exec, cfg.FFprobePath),
		thumbs:    NewThumbnailExtractor(exec, cfg.FFmpegPath, layout),
		encoder:   NewRenditionEncoder(exec, cfg.FFmpegPath, store, layout),
		assembler: NewMasterAssembler(store, layout, cfg.Ladder),
		cfg:       cfg,
		log:       log,
		metrics:   m,
	}
}

// Run processes job id from start to a terminal status. The returned error
// is nil exactly when the job ended ready. ErrJobNotFound is returned without
// touching any record; every other failure has been persisted on the job as
// status failed with a non-empty error detail.
func (o *Orchestrator) Run(ctx context.Context, id JobID) (res RunResult, err error) {
	res.RunID = uuid.NewString()
	log := o.log.With(slog.String("job_id", string(id)), slog.String("run_id", res.RunID))

	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return res, err
	}

	stage := StageSource
	defer func() {
		if r := recover(); r != nil {
			err = unexpected(stage, fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			var se *StageError
			if !errors.As(err, &se) {
				err = unexpected(stage, err)
			}
			o.fail(ctx, job, err, log)
			res.Status = StatusFailed
		}
		if o.metrics != nil {
			o.metrics.IncRun(string(res.Status))
		}
	}()

	job.Status = StatusProcessing
	job.Progress = 0
	job.ErrorDetail = ""
	job.MasterPlaylist = ""
	if err := o.save(ctx, job, stage); err != nil {
		return res, err
	}
	if err := o.clearOutput(ctx, job.ID); err != nil {
		return res, unexpected(stage, err)
	}
	log.Info("pipeline started", slog.String("source", job.SourcePath))

	source, err := o.resolver.Resolve(ctx, job)
	if err != nil {
		log.Error("source unavailable", slog.String("error", err.Error()))
		return res, fatal(stage, err)
	}

	stage = StageProbe
	if err := o.probe(ctx, job, source, log); err != nil {
		return res, err
	}

	stage = StageThumbnail
	if err := o.thumbnail(ctx, job, source, log); err != nil {
		return res, err
	}

	stage = StageEncode
	if res.Renditions, err = o.encodeAll(ctx, job, source, log); err != nil {
		return res, err
	}

	stage = StageManifest
	if err := o.manifest(ctx, job, log); err != nil {
		return res, err
	}

	stage = StageFinalize
	job.Status = StatusReady
	job.Progress = progressDone
	if err := o.save(ctx, job, stage); err != nil {
		return res, err
	}

	res.Status = StatusReady
	log.Info("pipeline finished", slog.Int("renditions", res.Renditions))
	return res, nil
}

// probe is fatal: any failure halts the run with progress left as is.
func (o *Orchestrator) probe(ctx context.Context, job *Job, source string, log *slog.Logger) error {
	start := time.Now()
	pctx, cancel := withTimeout(ctx, o.cfg.ProbeTimeout)
	md, err := o.prober.Probe(pctx, source)
	cancel()
	o.observe(StageProbe, start)
	if err != nil {
		if ctx.Err() != nil {
			return unexpected(StageProbe, ctx.Err())
		}
		log.Error("metadata probe failed", slog.String("error", err.Error()))
		return fatal(StageProbe, fmt.Errorf("metadata extraction failed: %w", err))
	}

	job.Metadata = md
	job.Progress = progressProbed
	if err := o.save(ctx, job, StageProbe); err != nil {
		return err
	}
	log.Info("metadata probed",
		slog.Int("duration_seconds", md.DurationSeconds),
		slog.Int("width", md.Width),
		slog.Int("height", md.Height),
		slog.Float64("frame_rate", md.FrameRate))
	return nil
}

// thumbnail is non-fatal: a failed extraction only skips the reference.
func (o *Orchestrator) thumbnail(ctx context.Context, job *Job, source string, log *slog.Logger) error {
	start := time.Now()
	tctx, cancel := withTimeout(ctx, o.cfg.ThumbnailTimeout)
	rel, err := o.thumbs.Extract(tctx, job.ID, source)
	cancel()
	o.observe(StageThumbnail, start)
	if err != nil {
		if ctx.Err() != nil {
			return unexpected(StageThumbnail, ctx.Err())
		}
		log.Warn("thumbnail extraction failed", slog.String("error", err.Error()))
	} else {
		job.ThumbnailPath = rel
	}

	job.Progress = progressThumbnail
	return o.save(ctx, job, StageThumbnail)
}

// encodeAll runs every ladder rung in order. A failed rung is skipped; only
// persistence failures and cancellation abort the loop.
func (o *Orchestrator) encodeAll(ctx context.Context, job *Job, source string, log *slog.Logger) (int, error) {
	n := len(o.cfg.Ladder)
	done := 0
	for _, p := range o.cfg.Ladder {
		qlog := log.With(slog.String("quality", string(p.Quality)))

		start := time.Now()
		ectx, cancel := withTimeout(ctx, o.cfg.EncodeTimeout)
		r, err := o.encoder.Encode(ectx, job.ID, source, p)
		cancel()
		o.observe(StageEncode, start)

		if err != nil {
			if IsUnexpected(err) {
				return done, err
			}
			if ctx.Err() != nil {
				return done, unexpected(StageEncode, ctx.Err())
			}
			qlog.Warn("rendition encode failed", slog.String("error", err.Error()))
			if o.metrics != nil {
				o.metrics.IncRendition(string(p.Quality), "failed")
			}
			continue
		}

		done++
		if o.metrics != nil {
			o.metrics.IncRendition(string(p.Quality), "ok")
		}
		job.Progress = progressThumbnail + done*progressEncodeAll/n
		if err := o.save(ctx, job, StageEncode); err != nil {
			return done, err
		}
		qlog.Info("rendition encoded",
			slog.Int64("size_bytes", r.SizeBytes),
			slog.Int("bitrate_kbps", r.BitrateKbps),
			slog.Int("progress", job.Progress))
	}
	return done, nil
}

// manifest writes master.m3u8 over whatever renditions are persisted.
func (o *Orchestrator) manifest(ctx context.Context, job *Job, log *slog.Logger) error {
	start := time.Now()
	defer o.observe(StageManifest, start)

	have, err := o.assembler.Present(ctx, job.ID)
	if err != nil {
		return unexpected(StageManifest, err)
	}
	listed := 0
	for _, p := range o.cfg.Ladder {
		if have[p.Quality] {
			listed++
		}
	}
	if listed == 0 {
		if !o.cfg.AllowEmptyManifest {
			log.Error("no renditions to reference")
			return fatal(StageManifest, ErrNoRenditions)
		}
		log.Warn("writing master playlist with no renditions")
	}

	rel, err := o.assembler.Assemble(job.ID, have)
	if err != nil {
		return unexpected(StageManifest, err)
	}
	job.MasterPlaylist = rel
	job.Progress = progressManifest
	if err := o.save(ctx, job, StageManifest); err != nil {
		return err
	}
	log.Info("master playlist written", slog.String("path", rel), slog.Int("streams", listed))
	return nil
}

// Abandon records that a run of id was cancelled before it started. A
// pending job is moved to failed with progress 0 so the dispatcher can tell
// it needs resubmitting; a job in any other status keeps its record. The
// returned status is the job's status afterwards, and the error is always
// non-nil.
func (o *Orchestrator) Abandon(ctx context.Context, id JobID, cause error) (Status, error) {
	ctx = context.WithoutCancel(ctx)
	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return "", err
	}

	err = unexpected(StageQueue, fmt.Errorf("run cancelled before start: %w", cause))
	if job.Status != StatusPending {
		return job.Status, err
	}
	o.fail(ctx, job, err, o.log.With(slog.String("job_id", string(id))))
	if o.metrics != nil {
		o.metrics.IncRun(string(StatusFailed))
	}
	return StatusFailed, err
}

// clearOutput drops the renditions and master playlist of an earlier run, so
// a run that fails early does not leave the job pointing at old output.
func (o *Orchestrator) clearOutput(ctx context.Context, id JobID) error {
	renditions, err := o.store.ListRenditions(ctx, id)
	if err != nil {
		return fmt.Errorf("list previous renditions: %w", err)
	}
	for _, r := range renditions {
		if err := o.store.DeleteRendition(ctx, id, r.Quality); err != nil {
			return fmt.Errorf("drop previous rendition %s: %w", r.Quality, err)
		}
	}
	return o.assembler.Remove(id)
}

// fail is the single place that moves a job to failed.
func (o *Orchestrator) fail(ctx context.Context, job *Job, err error, log *slog.Logger) {
	job.Status = StatusFailed
	job.ErrorDetail = err.Error()
	if IsUnexpected(err) {
		job.Progress = 0
	}
	// Record the failure even when the run was cancelled.
	if serr := o.store.SaveJob(context.WithoutCancel(ctx), job); serr != nil {
		log.Error("failed to persist job failure", slog.String("error", serr.Error()))
	}
	log.Error("pipeline failed",
		slog.String("stage", string(FailedStage(err))),
		slog.Int("progress", job.Progress),
		slog.String("error", err.Error()))
}

func (o *Orchestrator) save(ctx context.Context, job *Job, stage Stage) error {
	if err := o.store.SaveJob(ctx, job); err != nil {
		return unexpected(stage, fmt.Errorf("save job: %w", err))
	}
	return nil
}

func (o *Orchestrator) observe(stage Stage, start time.Time) {
	if o.metrics != nil {
		o.metrics.ObserveStage(string(stage), time.Since(start))
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
