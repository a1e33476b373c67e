package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/ffmpeg"
	"github.com/jmylchreest/encodr/internal/logarchive"
	"github.com/jmylchreest/encodr/internal/metrics"
	"github.com/jmylchreest/encodr/internal/models"
	"github.com/jmylchreest/encodr/internal/repository"
	"github.com/jmylchreest/encodr/internal/transcode"
)

const maxLogBytes = 8 << 20

// LogSource opens a job's log, live or archived.
type LogSource interface {
	Open(jobID string) (io.ReadCloser, error)
}

// TranscodeHandler starts, inspects and stops encoder jobs.
type TranscodeHandler struct {
	builder      *encoding.Builder
	orchestrator *transcode.Orchestrator
	sessions     repository.TranscodeSessionRepository
	logs         LogSource
	logger       *slog.Logger
}

// NewTranscodeHandler creates a transcode handler.
func NewTranscodeHandler(builder *encoding.Builder, orchestrator *transcode.Orchestrator) *TranscodeHandler {
	return &TranscodeHandler{
		builder:      builder,
		orchestrator: orchestrator,
		logger:       slog.Default(),
	}
}

// WithSessions enables the session history endpoint.
func (h *TranscodeHandler) WithSessions(repo repository.TranscodeSessionRepository) *TranscodeHandler {
	h.sessions = repo
	return h
}

// WithLogs enables the job log endpoint.
func (h *TranscodeHandler) WithLogs(logs LogSource) *TranscodeHandler {
	h.logs = logs
	return h
}

// WithLogger sets the logger.
func (h *TranscodeHandler) WithLogger(logger *slog.Logger) *TranscodeHandler {
	h.logger = logger
	return h
}

// Register registers the transcode routes with the API.
func (h *TranscodeHandler) Register(api huma.API) {
	tags := []string{"Transcodes"}

	huma.Register(api, huma.Operation{
		OperationID:   "startTranscode",
		Method:        http.MethodPost,
		Path:          "/api/v1/transcodes",
		Summary:       "Start a transcode",
		Description:   "Decides how to deliver the request, starts the encoder and returns once first output exists. A job already writing the same output is returned instead.",
		Tags:          tags,
		DefaultStatus: http.StatusCreated,
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "listTranscodes",
		Method:      http.MethodGet,
		Path:        "/api/v1/transcodes",
		Summary:     "List active transcodes",
		Tags:        tags,
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "listTranscodeHistory",
		Method:      http.MethodGet,
		Path:        "/api/v1/transcodes/history",
		Summary:     "List finished transcodes",
		Description: "Returns persisted session history, newest first",
		Tags:        tags,
	}, h.History)

	huma.Register(api, huma.Operation{
		OperationID: "getTranscode",
		Method:      http.MethodGet,
		Path:        "/api/v1/transcodes/{id}",
		Summary:     "Get an active transcode",
		Tags:        tags,
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "killTranscode",
		Method:      http.MethodDelete,
		Path:        "/api/v1/transcodes/{id}",
		Summary:     "Kill a transcode",
		Tags:        tags,
	}, h.Kill)

	huma.Register(api, huma.Operation{
		OperationID: "killDeviceTranscodes",
		Method:      http.MethodDelete,
		Path:        "/api/v1/transcodes",
		Summary:     "Kill a device's transcodes",
		Description: "Kills every job of a device, optionally limited to one play session, and removes their output",
		Tags:        tags,
	}, h.KillByDevice)

	huma.Register(api, huma.Operation{
		OperationID: "reportTranscodeConsumption",
		Method:      http.MethodPost,
		Path:        "/api/v1/transcodes/{id}/consumption",
		Summary:     "Report client consumption",
		Description: "Records how far the client has read so the throttler can pause an encoder that is too far ahead",
		Tags:        tags,
	}, h.ReportConsumption)

	huma.Register(api, huma.Operation{
		OperationID: "pingTranscode",
		Method:      http.MethodPost,
		Path:        "/api/v1/transcodes/{id}/ping",
		Summary:     "Keep a transcode alive",
		Tags:        tags,
	}, h.Ping)

	huma.Register(api, huma.Operation{
		OperationID: "inspectTranscodeOutput",
		Method:      http.MethodGet,
		Path:        "/api/v1/transcodes/{id}/output",
		Summary:     "Inspect transcode output",
		Description: "Lists the transport stream tracks or playlist segments written so far",
		Tags:        tags,
	}, h.Output)

	huma.Register(api, huma.Operation{
		OperationID: "getTranscodeLog",
		Method:      http.MethodGet,
		Path:        "/api/v1/transcodes/{id}/log",
		Summary:     "Get a transcode log",
		Description: "Returns the encoder log of a running or archived job",
		Tags:        tags,
	}, h.Log)
}

// TranscodeResponse is an active job plus the headers to serve its output with.
type TranscodeResponse struct {
	transcode.Info
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
}

func transcodeResponse(tj *transcode.TranscodingJob) TranscodeResponse {
	resp := TranscodeResponse{Info: tj.Info()}
	if tj.Job != nil {
		resp.ResponseHeaders = tj.Job.ResponseHeaders("", false)
	}
	return resp
}

// StartTranscodeInput is the input for starting a job.
type StartTranscodeInput struct {
	TimeSeek string `header:"TimeSeekRange.dlna.org" doc:"DLNA time seek range, e.g. npt=120-"`
	Body     PlaybackRequest
}

// TranscodeOutput wraps a single job.
type TranscodeOutput struct {
	Body TranscodeResponse
}

// Start decides and starts a job.
func (h *TranscodeHandler) Start(ctx context.Context, input *StartTranscodeInput) (*TranscodeOutput, error) {
	req := input.Body
	job, err := h.builder.Build(ctx, &req.Request, req.RequestedPath, req.headers(input.TimeSeek), req.Type)
	if err != nil {
		metrics.ObserveDecisionError(err)
		return nil, apiError(err)
	}
	metrics.ObserveDecision(job)

	requestURL := req.RequestedPath
	if requestURL == "" {
		requestURL = "/api/v1/transcodes"
	}
	tj, err := h.orchestrator.Start(ctx, job, requestURL)
	if err != nil {
		h.logger.WarnContext(ctx, "transcode failed to start",
			slog.String("item_id", req.ItemID),
			slog.String("reason", metrics.ErrorReason(err)),
			slog.Any("error", err))
		return nil, apiError(err)
	}
	return &TranscodeOutput{Body: transcodeResponse(tj)}, nil
}

// ListTranscodesInput filters active jobs.
type ListTranscodesInput struct {
	DeviceID string `query:"deviceId" doc:"Only jobs of this device"`
}

// ListTranscodesOutput is the output for listing jobs.
type ListTranscodesOutput struct {
	Body struct {
		Transcodes []TranscodeResponse `json:"transcodes"`
	}
}

// List returns active jobs, oldest first.
func (h *TranscodeHandler) List(_ context.Context, input *ListTranscodesInput) (*ListTranscodesOutput, error) {
	out := &ListTranscodesOutput{}
	out.Body.Transcodes = []TranscodeResponse{}
	for _, tj := range h.orchestrator.Registry().List() {
		if input.DeviceID != "" && tj.Key.DeviceID != input.DeviceID {
			continue
		}
		out.Body.Transcodes = append(out.Body.Transcodes, transcodeResponse(tj))
	}
	return out, nil
}

// TranscodeIDInput identifies a job.
type TranscodeIDInput struct {
	ID string `path:"id" doc:"Transcoding job ID"`
}

func (h *TranscodeHandler) job(id string) (*transcode.TranscodingJob, error) {
	tj, ok := h.orchestrator.Registry().GetByID(id)
	if !ok {
		return nil, apiError(transcode.ErrJobNotFound)
	}
	return tj, nil
}

// Get returns one active job.
func (h *TranscodeHandler) Get(_ context.Context, input *TranscodeIDInput) (*TranscodeOutput, error) {
	tj, err := h.job(input.ID)
	if err != nil {
		return nil, err
	}
	return &TranscodeOutput{Body: transcodeResponse(tj)}, nil
}

// Kill terminates one job.
func (h *TranscodeHandler) Kill(ctx context.Context, input *TranscodeIDInput) (*struct{}, error) {
	tj, err := h.job(input.ID)
	if err != nil {
		return nil, err
	}
	if err := tj.Kill(); err != nil {
		return nil, apiError(err)
	}
	h.logger.InfoContext(ctx, "transcode killed", slog.String("job_id", tj.ID))
	return nil, nil
}

// KillByDeviceInput selects the jobs to kill.
type KillByDeviceInput struct {
	DeviceID      string `query:"deviceId" required:"true" doc:"Device whose jobs are killed"`
	PlaySessionID string `query:"playSessionId" doc:"Only jobs of this play session"`
	KeepFiles     bool   `query:"keepFiles" doc:"Leave the jobs' output on disk"`
}

// KillByDeviceOutput lists the killed jobs.
type KillByDeviceOutput struct {
	Body struct {
		Killed []string `json:"killed"`
	}
}

// KillByDevice terminates a device's jobs.
func (h *TranscodeHandler) KillByDevice(ctx context.Context, input *KillByDeviceInput) (*KillByDeviceOutput, error) {
	if strings.TrimSpace(input.DeviceID) == "" {
		return nil, huma.Error400BadRequest("deviceId is required")
	}
	keep := input.KeepFiles
	killed := h.orchestrator.Registry().KillByDevice(input.DeviceID, input.PlaySessionID, func(string) bool { return !keep })

	out := &KillByDeviceOutput{}
	out.Body.Killed = make([]string, 0, len(killed))
	for _, tj := range killed {
		out.Body.Killed = append(out.Body.Killed, tj.ID)
	}
	h.logger.InfoContext(ctx, "device transcodes killed",
		slog.String("device_id", input.DeviceID),
		slog.String("play_session_id", input.PlaySessionID),
		slog.Int("count", len(killed)))
	return out, nil
}

// ConsumptionInput reports how far a client has read.
type ConsumptionInput struct {
	ID   string `path:"id" doc:"Transcoding job ID"`
	Body struct {
		BytesDownloaded       *int64 `json:"bytesDownloaded,omitempty" minimum:"0" doc:"Bytes of progressive output the client has read"`
		DownloadPositionTicks *int64 `json:"downloadPositionTicks,omitempty" minimum:"0" doc:"Playback position of segmented output, in ticks"`
	}
}

// ReportConsumption feeds client consumption to the throttler.
func (h *TranscodeHandler) ReportConsumption(_ context.Context, input *ConsumptionInput) (*struct{}, error) {
	if err := h.orchestrator.Registry().ReportConsumption(input.ID, input.Body.BytesDownloaded, input.Body.DownloadPositionTicks); err != nil {
		return nil, apiError(err)
	}
	return nil, nil
}

// Ping records activity on a job.
func (h *TranscodeHandler) Ping(_ context.Context, input *TranscodeIDInput) (*struct{}, error) {
	if err := h.orchestrator.Registry().Ping(input.ID); err != nil {
		return nil, apiError(err)
	}
	return nil, nil
}

// OutputInspection is the output of an output inspection.
type OutputInspection struct {
	Body *ffmpeg.OutputInfo
}

// Output inspects what a job has written so far.
func (h *TranscodeHandler) Output(ctx context.Context, input *TranscodeIDInput) (*OutputInspection, error) {
	tj, err := h.job(input.ID)
	if err != nil {
		return nil, err
	}
	info, err := ffmpeg.InspectOutput(ctx, tj.Path)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("output cannot be inspected yet", err)
	}
	return &OutputInspection{Body: info}, nil
}

// TranscodeLogOutput is a job log.
type TranscodeLogOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// Log returns a job's encoder log.
func (h *TranscodeHandler) Log(_ context.Context, input *TranscodeIDInput) (*TranscodeLogOutput, error) {
	if h.logs == nil {
		return nil, huma.Error404NotFound("logs are not available")
	}
	rc, err := h.logs.Open(input.ID)
	if errors.Is(err, logarchive.ErrLogNotFound) {
		return nil, huma.Error404NotFound(err.Error())
	}
	if err != nil {
		return nil, apiError(err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxLogBytes))
	if err != nil {
		return nil, apiError(err)
	}
	return &TranscodeLogOutput{ContentType: "text/plain; charset=utf-8", Body: data}, nil
}

// HistoryInput filters session history.
type HistoryInput struct {
	DeviceID      string `query:"deviceId"`
	PlaySessionID string `query:"playSessionId"`
	Status        string `query:"status" enum:"completed,failed,cancelled,"`
	Since         string `query:"since" doc:"Only sessions started at or after this RFC 3339 time"`
	Limit         int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	Offset        int    `query:"offset" minimum:"0"`
}

// SessionResponse is one finished session.
type SessionResponse struct {
	ID              string    `json:"id"`
	JobID           string    `json:"jobId"`
	DeviceID        string    `json:"deviceId,omitempty"`
	PlaySessionID   string    `json:"playSessionId,omitempty"`
	MediaSourceID   string    `json:"mediaSourceId,omitempty"`
	ItemID          string    `json:"itemId,omitempty"`
	Type            string    `json:"type"`
	OutputPath      string    `json:"outputPath"`
	VideoCodec      string    `json:"videoCodec,omitempty"`
	AudioCodec      string    `json:"audioCodec,omitempty"`
	VideoCopy       bool      `json:"videoCopy"`
	AudioCopy       bool      `json:"audioCopy"`
	Status          string    `json:"status"`
	ExitCode        int       `json:"exitCode"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
	EndedAt         time.Time `json:"endedAt"`
	DurationMs      int64     `json:"durationMs"`
	Percent         *float64  `json:"percent,omitempty"`
	BytesTranscoded *int64    `json:"bytesTranscoded,omitempty"`
}

// SessionFromModel converts a stored session.
func SessionFromModel(s *models.TranscodeSession) SessionResponse {
	return SessionResponse{
		ID:              s.ID.String(),
		JobID:           s.JobID,
		DeviceID:        s.DeviceID,
		PlaySessionID:   s.PlaySessionID,
		MediaSourceID:   s.MediaSourceID,
		ItemID:          s.ItemID,
		Type:            s.Type,
		OutputPath:      s.OutputPath,
		VideoCodec:      s.VideoCodec,
		AudioCodec:      s.AudioCodec,
		VideoCopy:       s.VideoCopy,
		AudioCopy:       s.AudioCopy,
		Status:          string(s.Status),
		ExitCode:        s.ExitCode,
		Error:           s.Error,
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
		DurationMs:      s.DurationMs,
		Percent:         s.Percent,
		BytesTranscoded: s.BytesTranscoded,
	}
}

// HistoryOutput is a page of session history.
type HistoryOutput struct {
	Body struct {
		Sessions []SessionResponse `json:"sessions"`
		Total    int64             `json:"total"`
	}
}

// History returns finished sessions.
func (h *TranscodeHandler) History(ctx context.Context, input *HistoryInput) (*HistoryOutput, error) {
	if h.sessions == nil {
		return nil, huma.Error404NotFound("session history is not enabled")
	}
	filter := repository.SessionFilter{
		DeviceID:      input.DeviceID,
		PlaySessionID: input.PlaySessionID,
		Status:        models.SessionStatus(input.Status),
		Limit:         input.Limit,
		Offset:        input.Offset,
	}
	if input.Since != "" {
		since, err := time.Parse(time.RFC3339, input.Since)
		if err != nil {
			return nil, huma.Error400BadRequest("since must be an RFC 3339 time", err)
		}
		filter.Since = since
	}

	sessions, total, err := h.sessions.List(ctx, filter)
	if err != nil {
		return nil, apiError(err)
	}
	out := &HistoryOutput{}
	out.Body.Sessions = make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out.Body.Sessions = append(out.Body.Sessions, SessionFromModel(s))
	}
	out.Body.Total = total
	return out, nil
}
