package transcode

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// testStores runs fn against every Store implementation.
func testStores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQLStore(context.Background(), filepath.Join(t.TempDir(), "transcode.db"))
		if err != nil {
			t.Fatalf("OpenSQLStore: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func TestStore_job_lifecycle(t *testing.T) {
	testStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		job := &Job{ID: "a", SourcePath: "/in/a.mp4", Status: StatusPending}
		if err := s.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		if err := s.CreateJob(ctx, job); !errors.Is(err, ErrJobExists) {
			t.Errorf("duplicate create: expected ErrJobExists, got %v", err)
		}

		got, err := s.GetJob(ctx, "a")
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.Status != StatusPending || got.SourcePath != "/in/a.mp4" || got.Metadata != nil {
			t.Errorf("unexpected job %+v", got)
		}
		if got.CreatedAt.IsZero() {
			t.Error("created_at not set")
		}

		got.Status = StatusReady
		got.Progress = 100
		got.Metadata = &Metadata{DurationSeconds: 125, Width: 1920, Height: 1080, FrameRate: 29.97}
		got.ThumbnailPath = "thumbnails/a.jpg"
		got.MasterPlaylist = "processed/a/master.m3u8"
		if err := s.SaveJob(ctx, got); err != nil {
			t.Fatalf("SaveJob: %v", err)
		}

		again, _ := s.GetJob(ctx, "a")
		if again.Status != StatusReady || again.Progress != 100 {
			t.Errorf("status/progress not persisted: %+v", again)
		}
		if again.Metadata == nil || *again.Metadata != *got.Metadata {
			t.Errorf("metadata = %+v", again.Metadata)
		}
		if again.ThumbnailPath != got.ThumbnailPath || again.MasterPlaylist != got.MasterPlaylist {
			t.Errorf("paths not persisted: %+v", again)
		}

		if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("GetJob missing: got %v", err)
		}
		if err := s.SaveJob(ctx, &Job{ID: "missing"}); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("SaveJob missing: got %v", err)
		}
	})
}

func TestStore_renditions_upsert(t *testing.T) {
	testStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_ = s.CreateJob(ctx, &Job{ID: "a", SourcePath: "/a", Status: StatusProcessing})

		r := &Rendition{JobID: "a", Quality: "360p", PlaylistPath: "processed/a/360p/playlist.m3u8", SizeBytes: 10, BitrateKbps: 500}
		if err := s.UpsertRendition(ctx, r); err != nil {
			t.Fatalf("UpsertRendition: %v", err)
		}
		r.SizeBytes = 42
		if err := s.UpsertRendition(ctx, r); err != nil {
			t.Fatalf("second UpsertRendition: %v", err)
		}
		_ = s.UpsertRendition(ctx, &Rendition{JobID: "a", Quality: "720p", PlaylistPath: "p", BitrateKbps: 2500})

		list, err := s.ListRenditions(ctx, "a")
		if err != nil {
			t.Fatalf("ListRenditions: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("renditions = %d, want 2", len(list))
		}
		for _, got := range list {
			if got.Quality == "360p" && got.SizeBytes != 42 {
				t.Errorf("upsert did not replace: %+v", got)
			}
		}

		if err := s.UpsertRendition(ctx, &Rendition{JobID: "nope", Quality: "360p"}); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("rendition for missing job: got %v", err)
		}
	})
}

func TestStore_replace_segments(t *testing.T) {
	testStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_ = s.CreateJob(ctx, &Job{ID: "a", SourcePath: "/a", Status: StatusProcessing})
		_ = s.UpsertRendition(ctx, &Rendition{JobID: "a", Quality: "480p", PlaylistPath: "p"})

		first := []Segment{
			{Sequence: 0, Path: "s0", Duration: 10},
			{Sequence: 1, Path: "s1", Duration: 10},
			{Sequence: 2, Path: "s2", Duration: 4.5},
		}
		if err := s.ReplaceSegments(ctx, "a", "480p", first); err != nil {
			t.Fatalf("ReplaceSegments: %v", err)
		}
		segs, err := s.ListSegments(ctx, "a", "480p")
		if err != nil {
			t.Fatalf("ListSegments: %v", err)
		}
		if len(segs) != 3 || segs[2].Duration != 4.5 {
			t.Fatalf("segments = %+v", segs)
		}
		for i, seg := range segs {
			if seg.Sequence != i {
				t.Errorf("segments not sorted: %+v", segs)
			}
		}

		second := []Segment{
			{Sequence: 0, Path: "s0", Duration: 10},
			{Sequence: 1, Path: "s1", Duration: 2},
		}
		if err := s.ReplaceSegments(ctx, "a", "480p", second); err != nil {
			t.Fatalf("second ReplaceSegments: %v", err)
		}
		segs, _ = s.ListSegments(ctx, "a", "480p")
		if len(segs) != 2 || segs[1].Duration != 2 {
			t.Errorf("stale segments kept: %+v", segs)
		}

		if segs, _ := s.ListSegments(ctx, "a", "1080p"); len(segs) != 0 {
			t.Errorf("unknown quality returned segments: %+v", segs)
		}
	})
}

func TestStore_delete_rendition(t *testing.T) {
	testStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_ = s.CreateJob(ctx, &Job{ID: "a", SourcePath: "/a", Status: StatusProcessing})
		_ = s.UpsertRendition(ctx, &Rendition{JobID: "a", Quality: "360p", PlaylistPath: "p"})
		_ = s.UpsertRendition(ctx, &Rendition{JobID: "a", Quality: "720p", PlaylistPath: "p"})
		_ = s.ReplaceSegments(ctx, "a", "360p", []Segment{{Sequence: 0, Path: "s0", Duration: 10}})

		if err := s.DeleteRendition(ctx, "a", "360p"); err != nil {
			t.Fatalf("DeleteRendition: %v", err)
		}
		if err := s.DeleteRendition(ctx, "a", "1080p"); err != nil {
			t.Errorf("deleting an absent rendition: %v", err)
		}

		list, _ := s.ListRenditions(ctx, "a")
		if len(list) != 1 || list[0].Quality != "720p" {
			t.Errorf("renditions = %+v", list)
		}
		if segs, _ := s.ListSegments(ctx, "a", "360p"); len(segs) != 0 {
			t.Errorf("segments survived their rendition: %+v", segs)
		}
	})
}
