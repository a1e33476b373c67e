// Package handlers provides the admin API handlers for encodr.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/encodr/internal/health"
	"github.com/jmylchreest/encodr/internal/transcode"
)

// DatabaseChecker is the part of the database the health check uses.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
	Stats() (map[string]any, error)
	Driver() string
}

// HealthHandler reports service health.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        DatabaseChecker
	registry  *transcode.Registry
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB includes a database check.
func (h *HealthHandler) WithDB(db DatabaseChecker) *HealthHandler {
	h.db = db
	return h
}

// WithRegistry includes active job counts.
func (h *HealthHandler) WithRegistry(r *transcode.Registry) *HealthHandler {
	h.registry = r
	return h
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service status with host load, memory and active transcodes",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// DatabaseHealth is the database component status.
type DatabaseHealth struct {
	Status string         `json:"status"`
	Driver string         `json:"driver,omitempty"`
	Error  string         `json:"error,omitempty"`
	Pool   map[string]any `json:"pool,omitempty"`
}

// TranscodeHealth summarizes running jobs.
type TranscodeHealth struct {
	Active    int `json:"active"`
	Throttled int `json:"throttled"`
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status        string             `json:"status" enum:"healthy,degraded"`
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	Uptime        string             `json:"uptime"`
	UptimeSeconds float64            `json:"uptime_seconds"`
	System        health.SystemStats `json:"system"`
	Database      *DatabaseHealth    `json:"database,omitempty"`
	Transcodes    TranscodeHealth    `json:"transcodes"`
}

// HealthOutput is the output for the health check.
type HealthOutput struct {
	Body HealthResponse
}

// GetHealth returns the service status.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	now := time.Now()
	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        health.Uptime(h.startTime).String(),
		UptimeSeconds: now.Sub(h.startTime).Seconds(),
		System:        health.CollectSystemStats(ctx),
	}

	if h.db != nil {
		resp.Database = h.databaseHealth(ctx)
		if resp.Database.Status != "ok" {
			resp.Status = "degraded"
		}
	}
	if h.registry != nil {
		for _, tj := range h.registry.List() {
			resp.Transcodes.Active++
			if tj.State() == transcode.StateThrottling {
				resp.Transcodes.Throttled++
			}
		}
	}
	return &HealthOutput{Body: resp}, nil
}

func (h *HealthHandler) databaseHealth(ctx context.Context) *DatabaseHealth {
	dh := &DatabaseHealth{Status: "ok", Driver: h.db.Driver()}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.db.Ping(pingCtx); err != nil {
		dh.Status = "error"
		dh.Error = err.Error()
		return dh
	}
	if stats, err := h.db.Stats(); err == nil {
		dh.Pool = stats
	}
	return dh
}
