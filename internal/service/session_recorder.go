package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/encodr/internal/ffmpeg"
	"github.com/jmylchreest/encodr/internal/models"
	"github.com/jmylchreest/encodr/internal/repository"
	"github.com/jmylchreest/encodr/internal/transcode"
)

const sessionWriteTimeout = 5 * time.Second

// SessionRecorder persists a history entry for every finished transcode job.
type SessionRecorder struct {
	repo   repository.TranscodeSessionRepository
	logger *slog.Logger
	now    func() time.Time
}

var _ transcode.Observer = (*SessionRecorder)(nil)

// NewSessionRecorder creates a recorder writing to repo.
func NewSessionRecorder(repo repository.TranscodeSessionRepository) *SessionRecorder {
	return &SessionRecorder{
		repo:   repo,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// WithLogger sets the logger for the recorder.
func (r *SessionRecorder) WithLogger(logger *slog.Logger) *SessionRecorder {
	r.logger = logger
	return r
}

// JobStarted is a no-op; sessions are written once the job exits.
func (r *SessionRecorder) JobStarted(*transcode.TranscodingJob) {}

// JobProgress is a no-op.
func (r *SessionRecorder) JobProgress(*transcode.TranscodingJob, ffmpeg.Progress) {}

// JobExited stores the session.
func (r *SessionRecorder) JobExited(tj *transcode.TranscodingJob) {
	session := SessionFromJob(tj, r.now())

	ctx, cancel := context.WithTimeout(context.Background(), sessionWriteTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, session); err != nil {
		r.logger.Error("failed to record transcode session",
			slog.String("job_id", tj.ID),
			slog.String("error", err.Error()))
	}
}

// SessionFromJob converts an exited job into a history entry.
func SessionFromJob(tj *transcode.TranscodingJob, endedAt time.Time) *models.TranscodeSession {
	info := tj.Info()

	status := models.SessionStatusCompleted
	switch {
	case info.Cancelled:
		status = models.SessionStatusCancelled
	case info.Error != "":
		status = models.SessionStatusFailed
	}

	session := &models.TranscodeSession{
		JobID:           info.ID,
		DeviceID:        info.Key.DeviceID,
		PlaySessionID:   info.Key.PlaySessionID,
		MediaSourceID:   info.Key.MediaSourceID,
		Type:            string(info.Type),
		OutputPath:      info.Path,
		LogPath:         info.LogPath,
		CommandLine:     info.CommandLine,
		VideoCopy:       info.VideoCopy,
		AudioCopy:       info.AudioCopy,
		Status:          status,
		ExitCode:        info.ExitCode,
		Error:           info.Error,
		StartedAt:       info.StartedAt,
		EndedAt:         endedAt,
		DurationMs:      endedAt.Sub(info.StartedAt).Milliseconds(),
		Percent:         info.Percent,
		PositionTicks:   info.PositionTicks,
		BytesTranscoded: info.BytesTranscoded,
	}
	if job := tj.Job; job != nil {
		if job.Request != nil {
			session.ItemID = job.Request.ItemID
		}
		session.VideoCodec = job.ActualOutputVideoCodec()
		session.AudioCodec = job.ActualOutputAudioCodec()
	}
	return session
}
