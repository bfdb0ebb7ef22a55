package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/target/cognitriage-api/internal/core"
	"github.com/target/cognitriage-api/internal/domain/model"
	apperrors "github.com/target/cognitriage-api/internal/errors"
)

// Failure text recorded on jobs the scheduler refused.
const schedulerUnavailableMsg = "scheduler unavailable"

// SubmitRequest is a raw triage submission as received from the transport layer.
type SubmitRequest struct {
	Files        []model.UploadedFile
	ScoreJSON    []byte
	MetadataJSON []byte
}

// SubmissionServiceOptions groups dependencies for SubmissionService.
type SubmissionServiceOptions struct {
	Store      core.JobStore     // Required
	Scheduler  core.JobScheduler // Required
	StageNames []string          // Required: stages every new job tracks, in order
	Validator  *RecordValidator  // Optional: defaults to the embedded schemas
	Logger     *slog.Logger      // Optional
}

// SubmissionService accepts triage requests, registers jobs and hands them to the scheduler.
type SubmissionService struct {
	store      core.JobStore
	scheduler  core.JobScheduler
	stageNames []string
	validator  *RecordValidator
	logger     *slog.Logger
}

// NewSubmissionService constructs a SubmissionService.
func NewSubmissionService(opts SubmissionServiceOptions) (*SubmissionService, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.Scheduler == nil {
		return nil, errors.New("JobScheduler is required")
	}
	if len(opts.StageNames) == 0 {
		return nil, errors.New("stage names are required")
	}

	validator := opts.Validator
	if validator == nil {
		var err error
		if validator, err = NewRecordValidator(); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SubmissionService{
		store:      opts.Store,
		scheduler:  opts.Scheduler,
		stageNames: slices.Clone(opts.StageNames),
		validator:  validator,
		logger:     logger.With("component", "submission_service"),
	}, nil
}

// Submit validates req, creates a QUEUED job and schedules it. It returns as soon
// as the job is queued; the pipeline runs in the background.
func (s *SubmissionService) Submit(ctx context.Context, req SubmitRequest) (*model.Job, error) {
	triage, err := s.parse(req)
	if err != nil {
		return nil, err
	}

	job, err := s.store.Create(ctx, s.stageNames)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.scheduler.Enqueue(ctx, job.ID, triage); err != nil {
		s.logger.ErrorContext(ctx, "enqueue failed", "job_id", job.ID, "error", err)
		s.markUnscheduled(ctx, job.ID)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, schedulerUnavailableMsg)
	}

	s.logger.InfoContext(ctx, "job submitted", "job_id", job.ID, "files", len(triage.Files))
	return job, nil
}

func (s *SubmissionService) parse(req SubmitRequest) (*model.TriageRequest, error) {
	if len(req.Files) == 0 {
		return nil, apperrors.ValidationField("files", "at least one file is required")
	}

	score, err := s.validator.Decode(RecordScore, req.ScoreJSON)
	if err != nil {
		return nil, invalidRecord("moca", err)
	}

	metaJSON := req.MetadataJSON
	if len(metaJSON) == 0 {
		metaJSON = []byte("{}")
	}
	meta, err := s.validator.Decode(RecordMetadata, metaJSON)
	if err != nil {
		return nil, invalidRecord("meta", err)
	}

	return &model.TriageRequest{
		Files:    slices.Clone(req.Files),
		Score:    score,
		Metadata: meta,
	}, nil
}

func invalidRecord(field string, err error) error {
	appErr := apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid JSON for moca or meta")
	appErr.Field = field
	return appErr
}

func (s *SubmissionService) markUnscheduled(ctx context.Context, id string) {
	msg := schedulerUnavailableMsg
	_, err := s.store.Update(context.WithoutCancel(ctx), id, func(job *model.Job) error {
		now := time.Now().UTC()
		job.Status = model.JobStatusFailed
		job.Error = &msg
		job.CompletedAt = &now
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "record unscheduled job", "job_id", id, "error", err)
	}
}

// Cancel requests cancellation of a queued or running job and returns its
// current snapshot. Cancellation is best effort: a job finishing concurrently
// may still complete.
func (s *SubmissionService) Cancel(ctx context.Context, id string) (*model.Job, error) {
	job, err := getJob(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, apperrors.Conflictf("job %s already %s", id, job.Status)
	}

	if s.scheduler.Cancel(id) {
		s.logger.InfoContext(ctx, "job cancel requested", "job_id", id, "status", job.Status)
		return job, nil
	}

	// Unknown to the scheduler: nothing will ever run it, so fail it here.
	msg := "job canceled"
	job, err = s.store.Update(ctx, id, func(j *model.Job) error {
		now := time.Now().UTC()
		for i := range j.Stages {
			if j.Stages[i].Status == model.StageStatusRunning {
				j.Stages[i].Status = model.StageStatusFailed
				j.Stages[i].Error = msg
				j.Stages[i].CompletedAt = &now
			}
		}
		j.Status = model.JobStatusFailed
		j.Error = &msg
		j.CompletedAt = &now
		return nil
	})
	if errors.Is(err, model.ErrJobTerminal) {
		return nil, apperrors.Conflictf("job %s already finished", id)
	}
	if err != nil {
		return nil, fmt.Errorf("cancel job %s: %w", id, err)
	}
	s.logger.InfoContext(ctx, "orphaned job canceled", "job_id", id)
	return job, nil
}

func getJob(ctx context.Context, store core.JobStore, id string) (*model.Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.ValidationField("job_id", "job id is required")
	}
	job, err := store.Get(ctx, id)
	if errors.Is(err, model.ErrJobNotFound) {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeNotFound, "Job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}
