package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/target/cognitriage-api/internal/core"
	"github.com/target/cognitriage-api/internal/domain/model"
)

// JobStatusView is the progress snapshot returned to pollers.
type JobStatusView struct {
	JobID    string            `json:"job_id"`
	Status   model.JobStatus   `json:"status"`
	Progress int               `json:"progress"`
	Agents   model.StageStates `json:"agents"`
}

// JobResultView is the final outcome of a job. Result and Error stay null until the job ends.
type JobResultView struct {
	JobID  string          `json:"job_id"`
	Status model.JobStatus `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

// QueryServiceOptions groups dependencies for QueryService.
type QueryServiceOptions struct {
	Store core.JobStore // Required
}

// QueryService serves read-only job views.
type QueryService struct {
	store core.JobStore
}

// NewQueryService constructs a QueryService.
func NewQueryService(opts QueryServiceOptions) (*QueryService, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	return &QueryService{store: opts.Store}, nil
}

// Status returns the job's progress and per-stage records.
func (s *QueryService) Status(ctx context.Context, id string) (*JobStatusView, error) {
	job, err := getJob(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	return &JobStatusView{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Agents:   job.Stages,
	}, nil
}

// Result returns the job's result or failure message.
func (s *QueryService) Result(ctx context.Context, id string) (*JobResultView, error) {
	job, err := getJob(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	return &JobResultView{
		JobID:  job.ID,
		Status: job.Status,
		Result: job.Result,
		Error:  job.Error,
	}, nil
}

// Stats returns job counts per status.
func (s *QueryService) Stats(ctx context.Context) (model.JobStats, error) {
	return s.store.Stats(ctx)
}
