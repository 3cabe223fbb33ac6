package transcode

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLStore_persists_across_reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "transcode.db")

	s, err := OpenSQLStore(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLStore: %v", err)
	}
	_ = s.CreateJob(ctx, &Job{ID: "a", SourcePath: "/a", Status: StatusPending})
	_ = s.UpsertRendition(ctx, &Rendition{JobID: "a", Quality: "360p", PlaylistPath: "p", SizeBytes: 7, BitrateKbps: 500})
	_ = s.ReplaceSegments(ctx, "a", "360p", []Segment{{Sequence: 0, Path: "s0", Duration: 10}})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = OpenSQLStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	job, err := s.GetJob(ctx, "a")
	if err != nil || job.Status != StatusPending {
		t.Fatalf("GetJob after reopen: %+v %v", job, err)
	}
	renditions, _ := s.ListRenditions(ctx, "a")
	if len(renditions) != 1 || renditions[0].SizeBytes != 7 {
		t.Errorf("renditions after reopen: %+v", renditions)
	}
	segs, _ := s.ListSegments(ctx, "a", "360p")
	if len(segs) != 1 {
		t.Errorf("segments after reopen: %+v", segs)
	}
}

func TestSQLStore_segments_require_rendition(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLStore(ctx, filepath.Join(t.TempDir(), "transcode.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	_ = s.CreateJob(ctx, &Job{ID: "a", SourcePath: "/a"})

	err = s.ReplaceSegments(ctx, "a", "360p", []Segment{{Sequence: 0, Path: "s0", Duration: 10}})
	if err == nil {
		t.Fatal("expected foreign key failure")
	}
	if segs, _ := s.ListSegments(ctx, "a", "360p"); len(segs) != 0 {
		t.Errorf("failed transaction left rows: %+v", segs)
	}
}

func TestSQLStore_pipeline_end_to_end(t *testing.T) {
	ctx := context.Background()
	fx := newPipelineFixture(t, Config{})
	s, err := OpenSQLStore(ctx, filepath.Join(fx.layout.Root, "transcode.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	job, _ := fx.store.GetJob(ctx, fx.jobID)
	_ = s.CreateJob(ctx, job)

	orch := NewOrchestrator(s, fx.exec, fx.layout, Config{}, fx.orch.log, nil)
	if _, err := orch.Run(ctx, fx.jobID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, _ := s.GetJob(ctx, fx.jobID)
	if got.Status != StatusReady || got.Progress != 100 || got.Metadata == nil {
		t.Errorf("job = %+v", got)
	}
	renditions, _ := s.ListRenditions(ctx, fx.jobID)
	if len(renditions) != 4 {
		t.Errorf("renditions = %d", len(renditions))
	}
}
