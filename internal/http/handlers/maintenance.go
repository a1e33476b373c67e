package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/encodr/internal/scheduler"
)

// MaintenanceHandler exposes the maintenance scheduler.
type MaintenanceHandler struct {
	scheduler *scheduler.Scheduler
}

// NewMaintenanceHandler creates a maintenance handler.
func NewMaintenanceHandler(s *scheduler.Scheduler) *MaintenanceHandler {
	return &MaintenanceHandler{scheduler: s}
}

// Register registers the maintenance routes with the API.
func (h *MaintenanceHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listMaintenanceTasks",
		Method:      http.MethodGet,
		Path:        "/api/v1/maintenance/tasks",
		Summary:     "List maintenance tasks",
		Description: "Returns registered maintenance tasks with their schedule and last run",
		Tags:        []string{"Maintenance"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "runMaintenanceTask",
		Method:      http.MethodPost,
		Path:        "/api/v1/maintenance/tasks/{name}/run",
		Summary:     "Run maintenance task",
		Description: "Runs a maintenance task now and waits for it to finish",
		Tags:        []string{"Maintenance"},
	}, h.Run)
}

// ListMaintenanceTasksInput is empty.
type ListMaintenanceTasksInput struct{}

// ListMaintenanceTasksOutput lists tasks.
type ListMaintenanceTasksOutput struct {
	Body struct {
		Tasks []scheduler.TaskInfo `json:"tasks"`
	}
}

// List returns the registered tasks.
func (h *MaintenanceHandler) List(_ context.Context, _ *ListMaintenanceTasksInput) (*ListMaintenanceTasksOutput, error) {
	out := &ListMaintenanceTasksOutput{}
	out.Body.Tasks = h.scheduler.Tasks()
	return out, nil
}

// RunMaintenanceTaskInput names the task.
type RunMaintenanceTaskInput struct {
	Name string `path:"name" doc:"Task name"`
}

// RunMaintenanceTaskOutput is the run result.
type RunMaintenanceTaskOutput struct {
	Body scheduler.Result
}

// Run runs a task.
func (h *MaintenanceHandler) Run(ctx context.Context, input *RunMaintenanceTaskInput) (*RunMaintenanceTaskOutput, error) {
	res, err := h.scheduler.RunNow(ctx, input.Name)
	if err != nil {
		return nil, apiError(err)
	}
	return &RunMaintenanceTaskOutput{Body: res}, nil
}
