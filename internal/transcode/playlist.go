package transcode

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// BuildMasterPlaylist renders the master manifest for ladder, listing only
// the qualities present in have. Line order follows ladder order, so the
// output is deterministic.
func BuildMasterPlaylist(ladder []Profile, have map[Quality]bool) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n\n")

	for _, p := range ladder {
		if !have[p.Quality] {
			continue
		}
		b.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n", p.Bandwidth(), p.Width, p.Height))
		b.WriteString(string(p.Quality))
		b.WriteString("/")
		b.WriteString(renditionPlaylist)
		b.WriteString("\n")
	}

	return b.String()
}

// writeFileAtomic writes data next to path and renames it into place, so a
// reader never sees a half-written manifest.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// mediaEntry is one segment URI of a rendition playlist. Duration is -1 when
// the URI had no usable #EXTINF.
type mediaEntry struct {
	Name     string
	Duration float64
}

// parseMediaPlaylist returns the segment URIs of a rendition playlist in the
// order the playlist lists them, keyed by base name.
func parseMediaPlaylist(data []byte) []mediaEntry {
	var out []mediaEntry
	sc := bufio.NewScanner(bytes.NewReader(data))

	pending := -1.0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "#EXTINF:"):
			val, _, _ := strings.Cut(strings.TrimPrefix(line, "#EXTINF:"), ",")
			d, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				pending = -1
				continue
			}
			pending = d
		case strings.HasPrefix(line, "#"):
		default:
			out = append(out, mediaEntry{Name: filepath.Base(line), Duration: pending})
			pending = -1
		}
	}
	return out
}

// MasterAssembler writes the top-level manifest from the renditions that
// are currently persisted for a job.
type MasterAssembler struct {
	store  Store
	layout Layout
	ladder []Profile
}

// NewMasterAssembler returns an assembler over ladder.
func NewMasterAssembler(store Store, layout Layout, ladder []Profile) *MasterAssembler {
	return &MasterAssembler{store: store, layout: layout, ladder: ladder}
}

// Present returns the set of ladder qualities that have a rendition row.
func (a *MasterAssembler) Present(ctx context.Context, id JobID) (map[Quality]bool, error) {
	renditions, err := a.store.ListRenditions(ctx, id)
	if err != nil {
		return nil, err
	}
	have := make(map[Quality]bool, len(renditions))
	for _, r := range renditions {
		have[r.Quality] = true
	}
	return have, nil
}

// Remove deletes the job's master.m3u8 if there is one.
func (a *MasterAssembler) Remove(id JobID) error {
	err := os.Remove(a.layout.Abs(a.layout.RelMasterPlaylist(id)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove master playlist: %w", err)
	}
	return nil
}

// Assemble writes master.m3u8 for the given qualities and returns its
// relative path.
func (a *MasterAssembler) Assemble(id JobID, have map[Quality]bool) (string, error) {
	if err := os.MkdirAll(a.layout.JobDir(id), 0o755); err != nil {
		return "", err
	}
	rel := a.layout.RelMasterPlaylist(id)
	if err := writeFileAtomic(a.layout.Abs(rel), []byte(BuildMasterPlaylist(a.ladder, have))); err != nil {
		return "", fmt.Errorf("write master playlist: %w", err)
	}
	return rel, nil
}
