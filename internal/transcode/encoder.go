package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// errNoSegments is returned when ffmpeg exits cleanly but leaves no chunks.
var errNoSegments = errors.New("encode produced no segments")

// RenditionEncoder produces one HLS rendition per call and records its
// rendition and segment rows.
type RenditionEncoder struct {
	exec   Executor
	bin    string
	store  Store
	layout Layout
}

// NewRenditionEncoder returns an encoder that invokes bin (normally "ffmpeg").
func NewRenditionEncoder(exec Executor, bin string, store Store, layout Layout) *RenditionEncoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &RenditionEncoder{exec: exec, bin: bin, store: store, layout: layout}
}

// Encode transcodes source into the profile's rendition directory. Process
// failures are returned as plain errors for the caller to degrade on; a
// failure to persist the result is returned as an unexpected StageError.
// Re-running a quality overwrites its files and rows, and a failed re-run
// drops the rendition recorded by an earlier run.
func (e *RenditionEncoder) Encode(ctx context.Context, id JobID, source string, p Profile) (*Rendition, error) {
	r, err := e.encode(ctx, id, source, p)
	if err != nil && !IsUnexpected(err) {
		if derr := e.store.DeleteRendition(context.WithoutCancel(ctx), id, p.Quality); derr != nil {
			return nil, unexpected(StageEncode, fmt.Errorf("drop rendition %s: %w", p.Quality, derr))
		}
	}
	return r, err
}

func (e *RenditionEncoder) encode(ctx context.Context, id JobID, source string, p Profile) (*Rendition, error) {
	dir := e.layout.QualityDir(id, p.Quality)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := removeSegments(dir); err != nil {
		return nil, err
	}

	playlist := filepath.Join(dir, renditionPlaylist)
	res := e.exec.Exec(ctx, e.bin, encodeArgs(source, dir, playlist, p)...)
	if res.Err != nil {
		return nil, res.Err
	}

	names, size, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, errNoSegments
	}

	var entries []mediaEntry
	if data, err := os.ReadFile(playlist); err == nil {
		entries = parseMediaPlaylist(data)
	}
	names, durations := orderSegments(names, entries)

	segs := make([]Segment, len(names))
	for i, name := range names {
		d, ok := durations[name]
		if !ok || d < 0 {
			d = SegmentSeconds
		}
		segs[i] = Segment{
			Sequence: i,
			Path:     e.layout.RelSegment(id, p.Quality, name),
			Duration: d,
		}
	}

	r := &Rendition{
		JobID:        id,
		Quality:      p.Quality,
		PlaylistPath: e.layout.RelRenditionPlaylist(id, p.Quality),
		SizeBytes:    size,
		BitrateKbps:  p.BitrateKbps,
	}
	if err := e.store.UpsertRendition(ctx, r); err != nil {
		return nil, unexpected(StageEncode, fmt.Errorf("save rendition %s: %w", p.Quality, err))
	}
	if err := e.store.ReplaceSegments(ctx, id, p.Quality, segs); err != nil {
		return nil, unexpected(StageEncode, fmt.Errorf("save segments %s: %w", p.Quality, err))
	}
	return r, nil
}

func encodeArgs(source, dir, playlist string, p Profile) []string {
	return []string{
		"-i", source,
		"-vf", fmt.Sprintf("scale=%d:%d", p.Width, p.Height),
		"-c:v", "libx264",
		"-b:v", strconv.Itoa(p.BitrateKbps) + "k",
		"-c:a", "aac",
		"-b:a", strconv.Itoa(AudioBitrateKbps) + "k",
		"-hls_time", strconv.Itoa(SegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(dir, segmentPattern),
		"-f", "hls",
		"-y",
		playlist,
	}
}

// orderSegments puts the chunk files on disk into the order the rendition
// playlist references them. Files the playlist does not list follow in
// numeric order. The returned map holds the playlist duration per file.
func orderSegments(names []string, entries []mediaEntry) ([]string, map[string]float64) {
	onDisk := make(map[string]bool, len(names))
	for _, n := range names {
		onDisk[n] = true
	}

	ordered := make([]string, 0, len(names))
	durations := make(map[string]float64, len(entries))
	for _, e := range entries {
		if !onDisk[e.Name] {
			continue
		}
		if _, seen := durations[e.Name]; seen {
			continue
		}
		durations[e.Name] = e.Duration
		ordered = append(ordered, e.Name)
	}
	for _, n := range names {
		if _, listed := durations[n]; !listed {
			ordered = append(ordered, n)
		}
	}
	return ordered, durations
}

// listSegments returns chunk file names ordered by their numeric suffix
// (creation order for the segment pattern) and their total size.
func listSegments(dir string) ([]string, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, err
	}

	var (
		names []string
		total int64
	)
	for _, ent := range entries {
		if ent.IsDir() || !isSegmentFile(ent.Name()) {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			return nil, 0, err
		}
		names = append(names, ent.Name())
		total += info.Size()
	}
	sort.SliceStable(names, func(i, j int) bool {
		return segmentIndex(names[i]) < segmentIndex(names[j])
	})
	return names, total, nil
}

// segmentIndex parses the number out of segment_<n>.ts; the pattern pads to
// three digits only, so string order breaks past segment_999.
func segmentIndex(name string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "segment_"), segmentExt))
	if err != nil {
		return -1
	}
	return n
}

func removeSegments(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if ent.IsDir() || !isSegmentFile(ent.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, ent.Name())); err != nil {
			return err
		}
	}
	return nil
}

func isSegmentFile(name string) bool {
	return strings.HasPrefix(name, "segment_") && strings.HasSuffix(name, segmentExt)
}
