package models

import (
	"time"
)

// SessionStatus is how a transcode session ended.
type SessionStatus string

const (
	// SessionStatusCompleted indicates the encoder exited cleanly.
	SessionStatusCompleted SessionStatus = "completed"
	// SessionStatusFailed indicates the encoder exited with an error.
	SessionStatusFailed SessionStatus = "failed"
	// SessionStatusCancelled indicates the session was killed.
	SessionStatusCancelled SessionStatus = "cancelled"
)

// TranscodeSession records one finished encoder run.
type TranscodeSession struct {
	BaseModel

	// JobID is the transcoding job id the session ran as.
	JobID string `gorm:"uniqueIndex;not null;size:64" json:"job_id"`

	DeviceID      string `gorm:"size:255;index" json:"device_id,omitempty"`
	PlaySessionID string `gorm:"size:255;index" json:"play_session_id,omitempty"`
	MediaSourceID string `gorm:"size:255" json:"media_source_id,omitempty"`
	ItemID        string `gorm:"size:1024" json:"item_id,omitempty"`

	// Type is the delivery mode: progressive, hls or dash.
	Type string `gorm:"size:20" json:"type"`

	OutputPath  string `gorm:"size:2048" json:"output_path"`
	LogPath     string `gorm:"size:2048" json:"log_path,omitempty"`
	CommandLine string `gorm:"type:text" json:"command_line,omitempty"`

	VideoCodec string `gorm:"size:50" json:"video_codec,omitempty"`
	AudioCodec string `gorm:"size:50" json:"audio_codec,omitempty"`
	VideoCopy  bool   `json:"video_copy"`
	AudioCopy  bool   `json:"audio_copy"`

	Status   SessionStatus `gorm:"size:20;index" json:"status"`
	ExitCode int           `json:"exit_code"`
	Error    string        `gorm:"size:4096" json:"error,omitempty"`

	StartedAt  time.Time `gorm:"index" json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	DurationMs int64     `json:"duration_ms"`

	Percent         *float64 `json:"percent,omitempty"`
	PositionTicks   *int64   `json:"position_ticks,omitempty"`
	BytesTranscoded *int64   `json:"bytes_transcoded,omitempty"`
}

// TableName returns the table name for TranscodeSession.
func (TranscodeSession) TableName() string {
	return "transcode_sessions"
}

// Validate checks the session before it is stored.
func (s *TranscodeSession) Validate() error {
	if s.JobID == "" {
		return ErrJobIDRequired
	}
	return nil
}

// Duration returns how long the encoder ran.
func (s *TranscodeSession) Duration() time.Duration {
	return time.Duration(s.DurationMs) * time.Millisecond
}
