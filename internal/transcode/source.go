package transcode

import (
	"context"
	"fmt"
	"os"
)

// SourceResolver maps a job to a readable source file on disk.
type SourceResolver interface {
	Resolve(ctx context.Context, job *Job) (string, error)
}

// RecordedSourceResolver uses the path recorded on the job by the upload path.
type RecordedSourceResolver struct{}

// Resolve implements SourceResolver.
func (RecordedSourceResolver) Resolve(_ context.Context, job *Job) (string, error) {
	if job.SourcePath == "" {
		return "", fmt.Errorf("%w: job %s has no source path", ErrSourceNotFound, job.ID)
	}
	info, err := os.Stat(job.SourcePath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSourceNotFound, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrSourceNotFound, job.SourcePath)
	}
	return job.SourcePath, nil
}
