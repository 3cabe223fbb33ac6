package transcode

import "context"

// Store is the persistence abstraction for jobs, renditions and segments.
// Implementations can be in-memory or backed by a database; the pipeline
// does not need to know which one is used. Every write must be durable
// before it returns, since each stage's write is observable by external
// readers before the next stage starts.
type Store interface {
	// CreateJob inserts a new job. It fails if the id is already taken.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob returns a copy of the job, or ErrJobNotFound.
	GetJob(ctx context.Context, id JobID) (*Job, error)

	// SaveJob persists every mutable field of an existing job.
	SaveJob(ctx context.Context, job *Job) error

	// UpsertRendition creates or replaces the rendition keyed by (JobID, Quality).
	UpsertRendition(ctx context.Context, r *Rendition) error

	// DeleteRendition removes the rendition and its segments. Deleting a
	// rendition that does not exist is not an error.
	DeleteRendition(ctx context.Context, id JobID, q Quality) error

	// ListRenditions returns the job's renditions in no guaranteed order.
	ListRenditions(ctx context.Context, id JobID) ([]Rendition, error)

	// ReplaceSegments upserts segments 0..len(segs)-1 for the rendition and
	// drops any stored rows with a higher sequence number.
	ReplaceSegments(ctx context.Context, id JobID, q Quality, segs []Segment) error

	// ListSegments returns the rendition's segments sorted by sequence.
	ListSegments(ctx context.Context, id JobID, q Quality) ([]Segment, error)
}
