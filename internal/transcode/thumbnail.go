package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ThumbnailExtractor captures one scaled still frame from the source.
type ThumbnailExtractor struct {
	exec   Executor
	bin    string
	layout Layout
}

// NewThumbnailExtractor returns an extractor that invokes bin (normally "ffmpeg").
func NewThumbnailExtractor(exec Executor, bin string, layout Layout) *ThumbnailExtractor {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &ThumbnailExtractor{exec: exec, bin: bin, layout: layout}
}

// Extract writes the thumbnail for id and returns its relative path.
func (t *ThumbnailExtractor) Extract(ctx context.Context, id JobID, source string) (string, error) {
	rel := t.layout.RelThumbnail(id)
	out := t.layout.Abs(rel)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", err
	}

	res := t.exec.Exec(ctx, t.bin,
		"-i", source,
		"-ss", ThumbnailOffset,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", thumbnailWidth, thumbnailHeight),
		"-y",
		out,
	)
	if res.Err != nil {
		return "", res.Err
	}
	return rel, nil
}
