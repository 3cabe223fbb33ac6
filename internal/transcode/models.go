package transcode

import "time"

// JobID uniquely identifies a transcoding job (one per source video).
type JobID string

// Quality is a rendition label from the ladder (e.g. "720p").
type Quality string

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Metadata holds the fields extracted by the prober.
type Metadata struct {
	DurationSeconds int     `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	FrameRate       float64 `json:"frame_rate"`
}

// Job is the mutable record a single pipeline run owns for its lifetime.
// Paths other than SourcePath are relative to the media root.
type Job struct {
	ID             JobID     `json:"id"`
	SourcePath     string    `json:"source_path"`
	Status         Status    `json:"status"`
	Progress       int       `json:"progress"`
	ErrorDetail    string    `json:"error_detail,omitempty"`
	Metadata       *Metadata `json:"metadata,omitempty"`
	ThumbnailPath  string    `json:"thumbnail_path,omitempty"`
	MasterPlaylist string    `json:"master_playlist,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// clone returns a deep copy so stores never hand out aliases of their state.
func (j *Job) clone() *Job {
	c := *j
	if j.Metadata != nil {
		m := *j.Metadata
		c.Metadata = &m
	}
	return &c
}

// Rendition is one successfully encoded quality variant of a Job.
// It is unique per (JobID, Quality).
type Rendition struct {
	JobID        JobID   `json:"job_id"`
	Quality      Quality `json:"quality"`
	PlaylistPath string  `json:"playlist_path"`
	SizeBytes    int64   `json:"size_bytes"`
	BitrateKbps  int     `json:"bitrate_kbps"`
}

// Segment is one media chunk of a Rendition, unique per (Rendition, Sequence).
type Segment struct {
	Sequence int     `json:"sequence"`
	Path     string  `json:"path"`
	Duration float64 `json:"duration"`
}

// Profile describes one rung of the quality ladder.
type Profile struct {
	Quality     Quality
	Width       int
	Height      int
	BitrateKbps int
}

// Bandwidth is the BANDWIDTH attribute advertised in the master playlist.
func (p Profile) Bandwidth() int {
	return p.BitrateKbps * 1000
}

// DefaultLadder is the fixed quality ladder in ascending order. Manifest line
// order follows slice order.
var DefaultLadder = []Profile{
	{Quality: "360p", Width: 640, Height: 360, BitrateKbps: 500},
	{Quality: "480p", Width: 854, Height: 480, BitrateKbps: 1000},
	{Quality: "720p", Width: 1280, Height: 720, BitrateKbps: 2500},
	{Quality: "1080p", Width: 1920, Height: 1080, BitrateKbps: 5000},
}

const (
	// AudioBitrateKbps is the fixed audio bitrate of every rendition.
	AudioBitrateKbps = 128

	// SegmentSeconds is the target HLS chunk duration.
	SegmentSeconds = 10

	// ThumbnailOffset is where in the source the still frame is captured.
	ThumbnailOffset = "00:00:01"

	thumbnailWidth  = 640
	thumbnailHeight = 360
)
