package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/tvrec/internal/scheduler"
)

// JobRunner lists and triggers maintenance jobs.
type JobRunner interface {
	Jobs() []scheduler.JobInfo
	RunNow(ctx context.Context, name string) error
}

// JobHandler handles maintenance job endpoints.
type JobHandler struct {
	runner JobRunner
}

// NewJobHandler creates a new job handler.
func NewJobHandler(runner JobRunner) *JobHandler {
	return &JobHandler{runner: runner}
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      "GET",
		Path:        "/api/v1/jobs",
		Summary:     "List jobs",
		Description: "Returns the maintenance jobs with their schedules and run counts",
		Tags:        []string{"Jobs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "runJob",
		Method:      "POST",
		Path:        "/api/v1/jobs/{name}/run",
		Summary:     "Run job now",
		Description: "Runs a maintenance job immediately and waits for it",
		Tags:        []string{"Jobs"},
	}, h.Run)
}

// ListJobsInput is the input for listing jobs.
type ListJobsInput struct{}

// ListJobsOutput is the output for listing jobs.
type ListJobsOutput struct {
	Body struct {
		Jobs []JobResponse `json:"jobs"`
	}
}

// List returns the registered jobs.
func (h *JobHandler) List(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	jobs := h.runner.Jobs()
	resp := &ListJobsOutput{}
	resp.Body.Jobs = make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp.Body.Jobs = append(resp.Body.Jobs, JobFromInfo(j))
	}
	return resp, nil
}

// RunJobInput is the input for running a job.
type RunJobInput struct {
	Name string `path:"name" doc:"Job name"`
}

// RunJobOutput is the output for running a job.
type RunJobOutput struct {
	Body struct {
		Name    string `json:"name"`
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}
}

// Run executes a job synchronously. A job failure is reported in the body.
func (h *JobHandler) Run(ctx context.Context, input *RunJobInput) (*RunJobOutput, error) {
	err := h.runner.RunNow(ctx, input.Name)
	if errors.Is(err, scheduler.ErrUnknownJob) {
		return nil, huma.Error404NotFound(fmt.Sprintf("job %s not found", input.Name))
	}

	resp := &RunJobOutput{}
	resp.Body.Name = input.Name
	resp.Body.Success = err == nil
	if err != nil {
		resp.Body.Error = err.Error()
	}
	return resp, nil
}
