package transcode

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Prober extracts stream metadata by running ffprobe with JSON output.
type Prober struct {
	exec Executor
	bin  string
}

// NewProber returns a Prober that invokes bin (normally "ffprobe") through exec.
func NewProber(exec Executor, bin string) *Prober {
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{exec: exec, bin: bin}
}

// Probe runs a single ffprobe JSON call against path and returns the
// duration, dimensions and frame rate of the first video stream.
func (p *Prober) Probe(ctx context.Context, path string) (*Metadata, error) {
	res := p.exec.Exec(ctx, p.bin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	if res.Err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProbeFailed, res.Err)
	}
	return ParseProbeJSON(res.Stdout)
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  *ffprobeFormat  `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeStream struct {
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
}

// ParseProbeJSON converts raw ffprobe JSON output into Metadata.
// Exported for testing without a real ffprobe binary.
func ParseProbeJSON(data []byte) (*Metadata, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse ffprobe JSON: %w", ErrProbeFailed, err)
	}

	var video *ffprobeStream
	for i := range raw.Streams {
		if raw.Streams[i].CodecType == "video" {
			video = &raw.Streams[i]
			break
		}
	}
	if video == nil {
		return nil, fmt.Errorf("%w: %w", ErrProbeFailed, ErrNoVideoStream)
	}

	md := &Metadata{Width: video.Width, Height: video.Height}

	rate := video.RFrameRate
	if rate == "" || rate == "0/0" {
		rate = video.AvgFrameRate
	}
	if rate != "" {
		fps, err := parseRational(rate)
		if err != nil {
			return nil, fmt.Errorf("%w: frame rate %q: %w", ErrProbeFailed, rate, err)
		}
		md.FrameRate = fps
	}

	if raw.Format != nil && raw.Format.Duration != "" {
		d, err := strconv.ParseFloat(strings.TrimSpace(raw.Format.Duration), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: duration %q: %w", ErrProbeFailed, raw.Format.Duration, err)
		}
		md.DurationSeconds = int(d)
	}

	return md, nil
}

// parseRational evaluates "num/den" (or a plain decimal) as a float.
// A zero denominator yields 0, matching ffprobe's "0/0" for unknown rates.
func parseRational(s string) (float64, error) {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, err
	}
	if !ok {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return 0, nil
	}
	return n / d, nil
}
