package progress

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmylchreest/encodr/internal/ffmpeg"
	"github.com/jmylchreest/encodr/internal/transcode"
)

// TranscodeObserver mirrors transcode job lifecycles into progress
// operations owned by the job id.
type TranscodeObserver struct {
	service *Service
	logger  *slog.Logger

	mu       sync.Mutex
	managers map[string]*OperationManager
}

var (
	_ transcode.Observer         = (*TranscodeObserver)(nil)
	_ transcode.ThrottleObserver = (*TranscodeObserver)(nil)
)

// NewTranscodeObserver creates an observer reporting into service.
func NewTranscodeObserver(service *Service) *TranscodeObserver {
	return &TranscodeObserver{
		service:  service,
		logger:   service.logger,
		managers: make(map[string]*OperationManager),
	}
}

// JobStarted opens an operation for the job.
func (o *TranscodeObserver) JobStarted(tj *transcode.TranscodingJob) {
	mgr, err := o.service.StartOperation(OpTranscode, tj.ID, fmt.Sprintf("%s transcode started", tj.Type))
	if err != nil {
		o.logger.Warn("failed to track transcode job",
			slog.String("job_id", tj.ID),
			slog.String("error", err.Error()))
		return
	}
	mgr.SetMetadata("device_id", tj.Key.DeviceID)
	mgr.SetMetadata("play_session_id", tj.Key.PlaySessionID)
	mgr.SetMetadata("path", tj.Path)

	o.mu.Lock()
	o.managers[tj.ID] = mgr
	o.mu.Unlock()
}

// JobProgress records the encoder's percentage.
func (o *TranscodeObserver) JobProgress(tj *transcode.TranscodingJob, p ffmpeg.Progress) {
	mgr := o.manager(tj.ID, false)
	if mgr == nil {
		return
	}
	var pct float64
	if p.Percent != nil {
		pct = *p.Percent
	}
	msg := ""
	if p.Framerate != nil {
		msg = fmt.Sprintf("encoding at %.1f fps", *p.Framerate)
	}
	mgr.SetProgress(pct, msg)
}

// JobThrottled mirrors encoder pauses.
func (o *TranscodeObserver) JobThrottled(tj *transcode.TranscodingJob, paused bool) {
	mgr := o.manager(tj.ID, false)
	if mgr == nil {
		return
	}
	if paused {
		mgr.SetState(StatePaused, "encoder paused ahead of playback")
	} else {
		mgr.SetState(StateRunning, "encoder resumed")
	}
}

// JobExited closes the job's operation according to how the encoder ended.
func (o *TranscodeObserver) JobExited(tj *transcode.TranscodingJob) {
	mgr := o.manager(tj.ID, true)
	if mgr == nil {
		return
	}
	switch err := tj.Err(); {
	case tj.Cancelled():
		mgr.Cancel("transcode cancelled")
	case err != nil:
		mgr.Fail(err)
	default:
		mgr.Complete(fmt.Sprintf("encoder exited with code %d", tj.ExitCode()))
	}
}

func (o *TranscodeObserver) manager(id string, remove bool) *OperationManager {
	o.mu.Lock()
	defer o.mu.Unlock()
	mgr := o.managers[id]
	if remove {
		delete(o.managers, id)
	}
	return mgr
}
