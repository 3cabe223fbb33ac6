package transcode

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job id has no record.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when creating a job whose id is already taken.
	ErrJobExists = errors.New("job already exists")

	// ErrSourceNotFound is returned when the job's source file cannot be resolved.
	ErrSourceNotFound = errors.New("source file not found")

	// ErrProbeFailed is returned when the probing executable fails or its
	// output cannot be parsed.
	ErrProbeFailed = errors.New("metadata probe failed")

	// ErrNoVideoStream is returned when the probed source has no video stream.
	ErrNoVideoStream = errors.New("no video stream found")

	// ErrExecTimeout is returned when an external executable exceeds its deadline.
	ErrExecTimeout = errors.New("external process timed out")

	// ErrNoRenditions is returned when a run finished encoding with nothing to
	// reference from the master playlist.
	ErrNoRenditions = errors.New("no renditions produced")

	// ErrJobInFlight is returned by the runner when the job is already running.
	ErrJobInFlight = errors.New("job already in flight")

	// ErrRunnerClosed is returned by the runner after Shutdown.
	ErrRunnerClosed = errors.New("runner is shut down")
)

// Stage names a pipeline step.
type Stage string

const (
	StageQueue     Stage = "queue"
	StageSource    Stage = "source"
	StageProbe     Stage = "probe"
	StageThumbnail Stage = "thumbnail"
	StageEncode    Stage = "encode"
	StageManifest  Stage = "manifest"
	StageFinalize  Stage = "finalize"
)

// StageError records which stage a run failed in. Fatal stage failures leave
// progress where it was; unexpected failures reset it to 0.
type StageError struct {
	Stage      Stage
	Unexpected bool
	Err        error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage carried by err, or "" if err has none.
func FailedStage(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// IsUnexpected reports whether err came from the top-level catch rather than
// a classified fatal stage.
func IsUnexpected(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Unexpected
}

func fatal(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

func unexpected(stage Stage, err error) error {
	return &StageError{Stage: stage, Unexpected: true, Err: err}
}
