package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/encodr/internal/service/progress"
)

// ProgressHandler exposes progress operations and their event stream.
type ProgressHandler struct {
	service           *progress.Service
	heartbeatInterval time.Duration
}

// NewProgressHandler creates a progress handler.
func NewProgressHandler(service *progress.Service) *ProgressHandler {
	return &ProgressHandler{
		service:           service,
		heartbeatInterval: 30 * time.Second,
	}
}

// SetHeartbeatInterval sets the event stream heartbeat interval.
func (h *ProgressHandler) SetHeartbeatInterval(interval time.Duration) {
	h.heartbeatInterval = interval
}

// Register registers the progress routes with the API.
func (h *ProgressHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listOperations",
		Method:      http.MethodGet,
		Path:        "/api/v1/progress/operations",
		Summary:     "List operations",
		Description: "Returns current and recently finished transcode and maintenance operations",
		Tags:        []string{"Progress"},
	}, h.ListOperations)

	huma.Register(api, huma.Operation{
		OperationID: "getOperation",
		Method:      http.MethodGet,
		Path:        "/api/v1/progress/operations/{id}",
		Summary:     "Get operation",
		Tags:        []string{"Progress"},
	}, h.GetOperation)
}

// RegisterSSE registers the event stream on a chi router. Huma does not
// stream responses, so the route is registered directly.
func (h *ProgressHandler) RegisterSSE(router interface {
	Get(pattern string, handlerFn http.HandlerFunc)
}) {
	router.Get("/api/v1/progress/events", h.handleSSEEvents)
}

// ListOperationsInput filters operations.
type ListOperationsInput struct {
	Type       string `query:"type" enum:"transcode,maintenance," doc:"Operation type"`
	OwnerID    string `query:"owner_id" doc:"Owner, the job id for transcodes"`
	State      string `query:"state" enum:"pending,running,paused,completed,failed,cancelled,"`
	ActiveOnly bool   `query:"active_only"`
}

// ListOperationsOutput is the output for listing operations.
type ListOperationsOutput struct {
	Body ListOperationsBody
}

// ListOperationsBody lists operations.
type ListOperationsBody struct {
	Operations []*progress.Operation `json:"operations"`
}

// ListOperations returns operations matching the filter, oldest first.
func (h *ProgressHandler) ListOperations(_ context.Context, input *ListOperationsInput) (*ListOperationsOutput, error) {
	filter := &progress.Filter{ActiveOnly: input.ActiveOnly}
	if input.Type != "" {
		t := progress.OperationType(input.Type)
		filter.Type = &t
	}
	if input.OwnerID != "" {
		filter.OwnerID = &input.OwnerID
	}
	if input.State != "" {
		s := progress.State(input.State)
		filter.State = &s
	}

	ops := h.service.ListOperations(filter)
	if ops == nil {
		ops = []*progress.Operation{}
	}
	return &ListOperationsOutput{Body: ListOperationsBody{Operations: ops}}, nil
}

// GetOperationInput identifies an operation.
type GetOperationInput struct {
	ID string `path:"id" doc:"Operation ID"`
}

// GetOperationOutput wraps one operation.
type GetOperationOutput struct {
	Body *progress.Operation
}

// GetOperation returns one operation.
func (h *ProgressHandler) GetOperation(_ context.Context, input *GetOperationInput) (*GetOperationOutput, error) {
	op, err := h.service.GetOperation(input.ID)
	if err != nil {
		return nil, apiError(err)
	}
	return &GetOperationOutput{Body: op}, nil
}

// handleSSEEvents streams operation events. Only type and owner filters
// apply so terminal events always reach the client.
func (h *ProgressHandler) handleSSEEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	filter := &progress.Filter{}
	query := r.URL.Query()
	if t := query.Get("type"); t != "" {
		opType := progress.OperationType(t)
		filter.Type = &opType
	}
	if owner := query.Get("owner_id"); owner != "" {
		filter.OwnerID = &owner
	}

	sub := h.service.Subscribe(filter)
	defer h.service.Unsubscribe(sub.ID)

	rc := http.NewResponseController(w)
	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	fmt.Fprint(w, ":connected\n\n")
	if err := rc.Flush(); err != nil {
		slog.Error("failed to flush initial SSE connection", slog.Any("error", err))
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				return
			}
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("failed to write SSE event",
					slog.String("event_type", event.EventType),
					slog.Any("error", err))
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event *progress.Event) error {
	data, err := json.Marshal(event.Operation)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
	return err
}
