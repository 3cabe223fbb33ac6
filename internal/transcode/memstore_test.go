package transcode

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestMemoryStore_returns_copies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job := &Job{ID: "a", SourcePath: "/a", Status: StatusPending, Metadata: &Metadata{Width: 640}}
	_ = s.CreateJob(ctx, job)

	// Mutating the caller's value after create must not leak in.
	job.Metadata.Width = 1
	got, _ := s.GetJob(ctx, "a")
	if got.Metadata.Width != 640 {
		t.Errorf("stored metadata aliased caller value: %+v", got.Metadata)
	}

	got.Status = StatusFailed
	got.Metadata.Height = 99
	again, _ := s.GetJob(ctx, "a")
	if again.Status != StatusPending || again.Metadata.Height != 0 {
		t.Errorf("GetJob handed out internal state: %+v", again)
	}
}

func TestMemoryStore_segments_without_rendition_row(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateJob(ctx, &Job{ID: "a", SourcePath: "/a"})

	if err := s.ReplaceSegments(ctx, "a", "360p", []Segment{{Sequence: 0, Path: "s0", Duration: 10}}); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}
	renditions, _ := s.ListRenditions(ctx, "a")
	if len(renditions) != 0 {
		t.Errorf("segments alone produced a rendition: %+v", renditions)
	}
}

func TestMemoryStore_concurrent_writes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.CreateJob(ctx, &Job{ID: "a", SourcePath: "/a"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := Quality(fmt.Sprintf("q%d", i))
			_ = s.UpsertRendition(ctx, &Rendition{JobID: "a", Quality: q})
			_ = s.ReplaceSegments(ctx, "a", q, []Segment{{Sequence: 0, Path: "s", Duration: 1}})
			job, _ := s.GetJob(ctx, "a")
			job.Progress = i
			_ = s.SaveJob(ctx, job)
		}(i)
	}
	wg.Wait()

	renditions, _ := s.ListRenditions(ctx, "a")
	if len(renditions) != 20 {
		t.Errorf("renditions = %d, want 20", len(renditions))
	}
}
