package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"hls-transcoder/internal/platform/logger"
)

const sampleProbe = `{
  "streams": [
    {"index": 0, "codec_type": "audio", "codec_name": "aac"},
    {"index": 1, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080,
     "r_frame_rate": "30000/1001", "avg_frame_rate": "30000/1001"}
  ],
  "format": {"duration": "125.873000"}
}`

// fakeExec scripts ffprobe and ffmpeg. Encodes write real segment files and a
// playlist so the encoder's directory scan runs for real.
type fakeExec struct {
	probeOut  string
	probeErr  error
	thumbErr  error
	failQuals map[Quality]bool
	segments  int
	lastDur   float64
	bareList  bool
	panicOn   string

	mu    sync.Mutex
	calls []string
}

func newFakeExec() *fakeExec {
	return &fakeExec{probeOut: sampleProbe, segments: 3, lastDur: 5.873, failQuals: map[Quality]bool{}}
}

func (f *fakeExec) Exec(ctx context.Context, name string, args ...string) ExecResult {
	f.mu.Lock()
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	f.mu.Unlock()

	if f.panicOn != "" && name == f.panicOn {
		panic("boom")
	}
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ExecResult{Err: fmt.Errorf("%s: %w", name, ErrExecTimeout)}
		}
		return ExecResult{Err: err}
	}

	switch name {
	case "ffprobe":
		if f.probeErr != nil {
			return ExecResult{Err: f.probeErr}
		}
		return ExecResult{Stdout: []byte(f.probeOut)}
	case "ffmpeg":
		if argValue(args, "-vframes") != "" {
			return f.thumbnail(args)
		}
		return f.encode(args)
	}
	return ExecResult{Err: fmt.Errorf("unexpected executable %q", name)}
}

func (f *fakeExec) thumbnail(args []string) ExecResult {
	if f.thumbErr != nil {
		return ExecResult{Err: f.thumbErr}
	}
	out := args[len(args)-1]
	if err := os.WriteFile(out, []byte("jpeg"), 0o644); err != nil {
		return ExecResult{Err: err}
	}
	return ExecResult{}
}

func (f *fakeExec) encode(args []string) ExecResult {
	q := qualityForScale(argValue(args, "-vf"))
	if f.failQuals[q] {
		return ExecResult{Stderr: "Conversion failed!", Err: fmt.Errorf("ffmpeg: exit status 1: Conversion failed! (%s)", q)}
	}

	pattern := argValue(args, "-hls_segment_filename")
	playlist := args[len(args)-1]

	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:0\n")
	for i := 0; i < f.segments; i++ {
		seg := fmt.Sprintf(pattern, i)
		if err := os.WriteFile(seg, []byte(strings.Repeat("x", 100+i)), 0o644); err != nil {
			return ExecResult{Err: err}
		}
		d := 10.0
		if i == f.segments-1 && f.lastDur > 0 {
			d = f.lastDur
		}
		if !f.bareList {
			fmt.Fprintf(&b, "#EXTINF:%.6f,\n", d)
		}
		fmt.Fprintf(&b, "%s\n", filepath.Base(seg))
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	if err := os.WriteFile(playlist, []byte(b.String()), 0o644); err != nil {
		return ExecResult{Err: err}
	}
	return ExecResult{}
}

func (f *fakeExec) callCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func qualityForScale(vf string) Quality {
	for _, p := range DefaultLadder {
		if vf == fmt.Sprintf("scale=%d:%d", p.Width, p.Height) {
			return p.Quality
		}
	}
	return ""
}

// pipelineFixture is a ready-to-run orchestrator over a temp media root with
// one pending job whose source file exists.
type pipelineFixture struct {
	store  *MemoryStore
	exec   *fakeExec
	layout Layout
	orch   *Orchestrator
	jobID  JobID
}

func newPipelineFixture(t *testing.T, cfg Config) *pipelineFixture {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "upload.mp4")
	if err := os.WriteFile(src, []byte("source"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewMemoryStore()
	id := JobID("job-1")
	if err := store.CreateJob(context.Background(), &Job{ID: id, SourcePath: src, Status: StatusPending}); err != nil {
		t.Fatal(err)
	}

	fx := &pipelineFixture{store: store, exec: newFakeExec(), layout: Layout{Root: root}, jobID: id}
	fx.orch = NewOrchestrator(store, fx.exec, fx.layout, cfg, logger.Discard(), nil)
	return fx
}

func (fx *pipelineFixture) job(t *testing.T) *Job {
	t.Helper()
	job, err := fx.store.GetJob(context.Background(), fx.jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return job
}
