package transcode

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// jobState holds all in-memory state for a single job.
type jobState struct {
	job        *Job
	renditions map[Quality]*renditionState
}

// renditionState holds a rendition and its segments keyed by sequence.
type renditionState struct {
	rendition Rendition
	segments  map[int]Segment
}

// MemoryStore is a concurrency-safe in-memory implementation of Store.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[JobID]*jobState
}

// NewMemoryStore returns a new empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[JobID]*jobState)}
}

// CreateJob implements Store.CreateJob.
func (s *MemoryStore) CreateJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}

	now := time.Now().UTC()
	c := job.clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.jobs[job.ID] = &jobState{job: c, renditions: make(map[Quality]*renditionState)}
	return nil
}

// GetJob implements Store.GetJob.
func (s *MemoryStore) GetJob(_ context.Context, id JobID) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return st.job.clone(), nil
}

// SaveJob implements Store.SaveJob.
func (s *MemoryStore) SaveJob(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.jobs[job.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	c := job.clone()
	c.CreatedAt = st.job.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	st.job = c
	return nil
}

// UpsertRendition implements Store.UpsertRendition.
func (s *MemoryStore) UpsertRendition(_ context.Context, r *Rendition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.jobs[r.JobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, r.JobID)
	}
	s.getOrCreateRenditionLocked(st, r.Quality).rendition = *r
	return nil
}

// DeleteRendition implements Store.DeleteRendition.
func (s *MemoryStore) DeleteRendition(_ context.Context, id JobID, q Quality) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	delete(st.renditions, q)
	return nil
}

// ListRenditions implements Store.ListRenditions.
func (s *MemoryStore) ListRenditions(_ context.Context, id JobID) ([]Rendition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	out := make([]Rendition, 0, len(st.renditions))
	for _, rs := range st.renditions {
		if rs.rendition.JobID == "" {
			// Segments were written without a rendition row.
			continue
		}
		out = append(out, rs.rendition)
	}
	return out, nil
}

// ReplaceSegments implements Store.ReplaceSegments.
func (s *MemoryStore) ReplaceSegments(_ context.Context, id JobID, q Quality, segs []Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	rs := s.getOrCreateRenditionLocked(st, q)
	for _, seg := range segs {
		rs.segments[seg.Sequence] = seg
	}
	for seq := range rs.segments {
		if seq >= len(segs) {
			delete(rs.segments, seq)
		}
	}
	return nil
}

// ListSegments implements Store.ListSegments.
func (s *MemoryStore) ListSegments(_ context.Context, id JobID, q Quality) ([]Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	rs, ok := st.renditions[q]
	if !ok || len(rs.segments) == 0 {
		return nil, nil
	}

	// Build a sorted copy to avoid exposing internal maps.
	sequences := make([]int, 0, len(rs.segments))
	for seq := range rs.segments {
		sequences = append(sequences, seq)
	}
	sort.Ints(sequences)

	out := make([]Segment, 0, len(sequences))
	for _, seq := range sequences {
		out = append(out, rs.segments[seq])
	}
	return out, nil
}

// getOrCreateRenditionLocked returns an existing rendition or creates a new one.
// Caller must hold s.mu in write mode.
func (s *MemoryStore) getOrCreateRenditionLocked(st *jobState, q Quality) *renditionState {
	if rs, ok := st.renditions[q]; ok {
		return rs
	}
	rs := &renditionState{segments: make(map[int]Segment)}
	st.renditions[q] = rs
	return rs
}
