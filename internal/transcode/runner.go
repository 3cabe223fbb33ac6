package transcode

import (
	"context"
	"log/slog"
	"sync"

	"hls-transcoder/internal/platform/metrics"
)

// Outcome is the terminal report of one run, handed to the dispatcher.
type Outcome struct {
	JobID  JobID
	RunID  string
	Status Status
	Err    error
}

// Runner owns pipeline concurrency: at most a fixed number of runs execute
// at once, each on its own goroutine, and a job id can only be in flight
// once per Runner.
type Runner struct {
	orch    *Orchestrator
	sem     chan struct{}
	log     *slog.Logger
	metrics *metrics.Metrics
	onDone  func(Outcome)

	mu       sync.Mutex
	inFlight map[JobID]struct{}
	closed   bool
	wg       sync.WaitGroup

	// base is cancelled by Shutdown when the drain deadline passes.
	base   context.Context
	cancel context.CancelFunc
}

// NewRunner returns a Runner executing at most concurrency runs at a time.
// onDone, if non-nil, is called once per finished run from the run's goroutine.
func NewRunner(orch *Orchestrator, concurrency int, log *slog.Logger, m *metrics.Metrics, onDone func(Outcome)) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	base, cancel := context.WithCancel(context.Background())
	return &Runner{
		orch:     orch,
		sem:      make(chan struct{}, concurrency),
		log:      log,
		metrics:  m,
		onDone:   onDone,
		inFlight: make(map[JobID]struct{}),
		base:     base,
		cancel:   cancel,
	}
}

// RunPipeline runs job id synchronously and returns nil only if it ended ready.
func (r *Runner) RunPipeline(ctx context.Context, id JobID) error {
	if err := r.claim(id); err != nil {
		return err
	}
	defer r.wg.Done()
	defer r.release(id)

	return r.run(ctx, id).Err
}

// Submit schedules job id in the background. It returns ErrJobInFlight if
// the job is already queued or running, or ErrRunnerClosed after Shutdown.
// A queued run that is cancelled before it gets a slot never starts; a
// pending job is then marked failed at StageQueue.
func (r *Runner) Submit(id JobID) error {
	if err := r.claim(id); err != nil {
		return err
	}
	go func() {
		defer r.wg.Done()
		defer r.release(id)
		r.run(r.base, id)
	}()
	return nil
}

// Shutdown stops accepting work and waits for in-flight runs. If ctx ends
// first, running pipelines are cancelled and Shutdown returns ctx.Err();
// runs still waiting for a slot are abandoned without starting.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) run(ctx context.Context, id JobID) Outcome {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return r.abandon(ctx, id, ctx.Err())
	}
	defer func() { <-r.sem }()
	if err := ctx.Err(); err != nil {
		return r.abandon(ctx, id, err)
	}

	if r.metrics != nil {
		r.metrics.JobStarted()
		defer r.metrics.JobFinished()
	}

	res, err := r.orch.Run(ctx, id)
	out := Outcome{JobID: id, RunID: res.RunID, Status: res.Status, Err: err}
	r.report(out)
	return out
}

func (r *Runner) abandon(ctx context.Context, id JobID, cause error) Outcome {
	status, err := r.orch.Abandon(ctx, id, cause)
	out := Outcome{JobID: id, Status: status, Err: err}
	r.report(out)
	return out
}

func (r *Runner) report(out Outcome) {
	if out.Err != nil {
		r.log.Debug("run finished with error",
			slog.String("job_id", string(out.JobID)),
			slog.String("run_id", out.RunID),
			slog.String("error", out.Err.Error()))
	}
	if r.onDone != nil {
		r.onDone(out)
	}
}

func (r *Runner) claim(id JobID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRunnerClosed
	}
	if _, busy := r.inFlight[id]; busy {
		return ErrJobInFlight
	}
	r.inFlight[id] = struct{}{}
	r.wg.Add(1)
	return nil
}

func (r *Runner) release(id JobID) {
	r.mu.Lock()
	delete(r.inFlight, id)
	r.mu.Unlock()
}
