package transcode

import (
	"path"
	"path/filepath"
)

const (
	processedDir       = "processed"
	thumbnailsDir      = "thumbnails"
	masterPlaylistName = "master.m3u8"
	renditionPlaylist  = "playlist.m3u8"
	segmentPattern     = "segment_%03d.ts"
	segmentExt         = ".ts"
	thumbnailExt       = ".jpg"
)

// Layout maps jobs onto the on-disk output tree:
//
//	<root>/processed/<job>/master.m3u8
//	<root>/processed/<job>/<quality>/playlist.m3u8
//	<root>/processed/<job>/<quality>/segment_000.ts
//	<root>/thumbnails/<job>.jpg
//
// Rel* methods return slash-separated paths relative to root; those are what
// get persisted on records.
type Layout struct {
	Root string
}

// Abs converts a persisted relative path back to a filesystem path.
func (l Layout) Abs(rel string) string {
	return filepath.Join(l.Root, filepath.FromSlash(rel))
}

// JobDir is the per-job output root.
func (l Layout) JobDir(id JobID) string {
	return l.Abs(path.Join(processedDir, string(id)))
}

// QualityDir is the output directory of one rendition.
func (l Layout) QualityDir(id JobID, q Quality) string {
	return l.Abs(path.Join(processedDir, string(id), string(q)))
}

// RelMasterPlaylist is the persisted location of the job's master manifest.
func (l Layout) RelMasterPlaylist(id JobID) string {
	return path.Join(processedDir, string(id), masterPlaylistName)
}

// RelRenditionPlaylist is the persisted location of one rendition's playlist.
func (l Layout) RelRenditionPlaylist(id JobID, q Quality) string {
	return path.Join(processedDir, string(id), string(q), renditionPlaylist)
}

// RelSegment is the persisted location of one segment file.
func (l Layout) RelSegment(id JobID, q Quality, name string) string {
	return path.Join(processedDir, string(id), string(q), name)
}

// RelThumbnail is the persisted location of the job's still image.
func (l Layout) RelThumbnail(id JobID) string {
	return path.Join(thumbnailsDir, string(id)+thumbnailExt)
}
