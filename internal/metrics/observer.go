package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/ffmpeg"
	"github.com/jmylchreest/encodr/internal/transcode"
)

// transcodeObserver records job lifecycle metrics.
type transcodeObserver struct{}

// NewTranscodeObserver returns an observer feeding the transcode metrics.
func NewTranscodeObserver() transcode.Observer {
	return transcodeObserver{}
}

var _ transcode.ThrottleObserver = transcodeObserver{}

func (transcodeObserver) JobStarted(tj *transcode.TranscodingJob) {
	JobsStartedTotal.WithLabelValues(string(tj.Type)).Inc()
	JobsActive.Inc()
}

func (transcodeObserver) JobProgress(_ *transcode.TranscodingJob, p ffmpeg.Progress) {
	if p.Framerate != nil {
		EncodeFramerate.Observe(*p.Framerate)
	}
}

func (transcodeObserver) JobThrottled(_ *transcode.TranscodingJob, paused bool) {
	if paused {
		JobsThrottled.Inc()
		ThrottleTransitionsTotal.WithLabelValues("pause").Inc()
		return
	}
	JobsThrottled.Dec()
	ThrottleTransitionsTotal.WithLabelValues("resume").Inc()
}

func (transcodeObserver) JobExited(tj *transcode.TranscodingJob) {
	status := "completed"
	switch {
	case tj.Cancelled():
		status = "cancelled"
	case tj.Err() != nil:
		status = "failed"
	}
	JobsExitedTotal.WithLabelValues(string(tj.Type), status).Inc()
	JobDuration.WithLabelValues(string(tj.Type)).Observe(time.Since(tj.StartedAt).Seconds())
	JobsActive.Dec()
}

// ObserveDecision records a successful encoding decision.
func ObserveDecision(job *encoding.Job) {
	videoCopy := job.HasVideoRequest() && job.IsVideoCopy()
	DecisionsTotal.WithLabelValues(string(job.Type), strconv.FormatBool(videoCopy), strconv.FormatBool(job.IsAudioCopy())).Inc()
}

// ObserveDecisionError records a failed decision by its error class.
func ObserveDecisionError(err error) {
	DecisionErrorsTotal.WithLabelValues(ErrorReason(err)).Inc()
}

// ErrorReason classifies decision and start errors for labelling.
func ErrorReason(err error) string {
	switch {
	case errors.Is(err, encoding.ErrValidation):
		return "validation"
	case errors.Is(err, encoding.ErrItemNotFound), errors.Is(err, encoding.ErrMediaSourceNotFound):
		return "not_found"
	case errors.Is(err, encoding.ErrResourceAcquisition):
		return "resource"
	case errors.Is(err, encoding.ErrProcessStart):
		return "process_start"
	default:
		return "internal"
	}
}
