package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/metrics"
)

// DecisionHandler answers what the engine would do for a request without
// starting anything.
type DecisionHandler struct {
	builder *encoding.Builder
	args    encoding.ArgumentBuilder
}

// NewDecisionHandler creates a decision handler. args renders the encoder
// arguments shown in the decision.
func NewDecisionHandler(builder *encoding.Builder, args encoding.ArgumentBuilder) *DecisionHandler {
	return &DecisionHandler{builder: builder, args: args}
}

// Register registers the decision routes with the API.
func (h *DecisionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "createDecision",
		Method:      http.MethodPost,
		Path:        "/api/v1/decisions",
		Summary:     "Decide how to deliver a request",
		Description: "Runs stream selection, copy checks and parameter normalization and returns the resulting plan. No encoder is started.",
		Tags:        []string{"Decisions"},
	}, h.Decide)
}

// PlaybackRequest is a playback request plus how its output is delivered.
type PlaybackRequest struct {
	encoding.Request
	Type          encoding.JobType  `json:"type,omitempty" enum:"progressive,hls,dash" doc:"Delivery mode, progressive when empty"`
	RequestedPath string            `json:"requestedPath,omitempty" doc:"Path the client requested, used to infer codecs and the container"`
	Headers       map[string]string `json:"headers,omitempty" doc:"Client request headers used for device identification"`
}

// headers merges the TimeSeekRange header into the body headers.
func (r *PlaybackRequest) headers(timeSeek string) map[string]string {
	headers := make(map[string]string, len(r.Headers)+1)
	for k, v := range r.Headers {
		headers[k] = v
	}
	if timeSeek != "" {
		headers[encoding.TimeSeekHeader] = timeSeek
	}
	return headers
}

// DecisionInput is the input for a dry run decision.
type DecisionInput struct {
	TimeSeek string `header:"TimeSeekRange.dlna.org" doc:"DLNA time seek range, e.g. npt=120-"`
	Body     PlaybackRequest
}

// DecisionResponse is the outcome of a decision.
type DecisionResponse struct {
	ItemID          string            `json:"itemId"`
	MediaSourceID   string            `json:"mediaSourceId"`
	Type            encoding.JobType  `json:"type"`
	Container       string            `json:"container"`
	MimeType        string            `json:"mimeType,omitempty"`
	DeviceProfile   string            `json:"deviceProfile,omitempty"`
	VideoCopy       bool              `json:"videoCopy"`
	AudioCopy       bool              `json:"audioCopy"`
	VideoCodec      string            `json:"videoCodec,omitempty"`
	AudioCodec      string            `json:"audioCodec,omitempty"`
	VideoBitrate    *int              `json:"videoBitrate,omitempty"`
	AudioBitrate    *int              `json:"audioBitrate,omitempty"`
	AudioChannels   *int              `json:"audioChannels,omitempty"`
	AudioSampleRate *int              `json:"audioSampleRate,omitempty"`
	Width           *int              `json:"width,omitempty"`
	Height          *int              `json:"height,omitempty"`
	StartTimeTicks  int64             `json:"startTimeTicks"`
	OutputPath      string            `json:"outputPath"`
	Args            []string          `json:"args"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
}

// DecisionOutput is the output of a decision.
type DecisionOutput struct {
	Body DecisionResponse
}

// Decide builds the job for a request and describes it.
func (h *DecisionHandler) Decide(ctx context.Context, input *DecisionInput) (*DecisionOutput, error) {
	req := input.Body
	job, err := h.builder.Build(ctx, &req.Request, req.RequestedPath, req.headers(input.TimeSeek), req.Type)
	if err != nil {
		metrics.ObserveDecisionError(err)
		return nil, apiError(err)
	}
	metrics.ObserveDecision(job)

	resp, err := DecisionFromJob(job, h.args)
	if err != nil {
		return nil, apiError(err)
	}
	return &DecisionOutput{Body: resp}, nil
}

// DecisionFromJob describes a decided job. Arguments are rendered against
// the job's output path.
func DecisionFromJob(job *encoding.Job, args encoding.ArgumentBuilder) (DecisionResponse, error) {
	resp := DecisionResponse{
		ItemID:          job.Request.ItemID,
		Type:            job.Type,
		Container:       job.OutputContainer,
		MimeType:        job.MimeType,
		VideoCopy:       job.HasVideoRequest() && job.IsVideoCopy(),
		AudioCopy:       job.IsAudioCopy(),
		AudioCodec:      job.ActualOutputAudioCodec(),
		AudioBitrate:    job.OutputAudioBitrate,
		AudioChannels:   job.OutputAudioChannels,
		AudioSampleRate: job.OutputAudioSampleRate,
		StartTimeTicks:  job.StartTicks(),
		OutputPath:      job.OutputFilePath,
		ResponseHeaders: job.ResponseHeaders("", false),
	}
	if job.Source != nil {
		resp.MediaSourceID = job.Source.ID
	}
	if job.DeviceProfile != nil {
		resp.DeviceProfile = job.DeviceProfile.Name
	}
	if job.HasVideoRequest() {
		resp.VideoCodec = job.ActualOutputVideoCodec()
		resp.VideoBitrate = job.OutputVideoBitrate
		resp.Width = job.OutputWidth()
		resp.Height = job.OutputHeight()
	}
	if args != nil {
		rendered, err := args.BuildArgs(job, job.OutputFilePath)
		if err != nil {
			return resp, err
		}
		resp.Args = rendered
	}
	return resp, nil
}
