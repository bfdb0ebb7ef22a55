package service

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/target/cognitriage-api/internal/domain/model"
	"github.com/target/cognitriage-api/internal/domain/triage"
	apperrors "github.com/target/cognitriage-api/internal/errors"
)

// LiteratureResult is the standalone evidence lookup response.
type LiteratureResult struct {
	Papers     []model.Citation `json:"papers"`
	QueryUsed  string           `json:"query_used"`
	Provenance string           `json:"provenance"`
}

// LiteratureServiceOptions groups dependencies for LiteratureService.
type LiteratureServiceOptions struct {
	Retriever *triage.EvidenceRetriever // Required
	Validator *RecordValidator          // Optional
	Logger    *slog.Logger              // Optional
}

// LiteratureService runs evidence retrieval outside of a job.
type LiteratureService struct {
	retriever *triage.EvidenceRetriever
	validator *RecordValidator
	logger    *slog.Logger
}

// NewLiteratureService constructs a LiteratureService.
func NewLiteratureService(opts LiteratureServiceOptions) (*LiteratureService, error) {
	if opts.Retriever == nil {
		return nil, errors.New("evidence retriever is required")
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
	return &LiteratureService{
		retriever: opts.Retriever,
		validator: validator,
		logger:    logger.With("component", "literature_service"),
	}, nil
}

// SearchJSON validates a raw patient record and runs Search.
func (s *LiteratureService) SearchJSON(ctx context.Context, raw []byte) (*LiteratureResult, error) {
	record, err := s.validator.Decode(RecordPatient, raw)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid patient record")
	}
	return s.Search(ctx, record)
}

// Search builds a literature query from the patient record (risk_tier,
// mta_score, moca_total, age) and returns matching papers.
func (s *LiteratureService) Search(ctx context.Context, record model.Record) (res *LiteratureResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "literature lookup panic", "panic", r)
			res, err = nil, apperrors.Internal("literature lookup failed")
		}
	}()

	tier, perr := triage.ParseRiskTier(record.StringOr("risk_tier", string(triage.RiskLow)))
	if perr != nil {
		return nil, apperrors.Wrap(perr, apperrors.ErrCodeValidation, "invalid patient record")
	}

	out := s.retriever.Retrieve(ctx, triage.EvidenceQuery{
		Tier:      tier,
		MTAScore:  int(math.Trunc(record.NumberOr("mta_score", 0))),
		MocaTotal: int(math.Trunc(record.NumberOr("moca_total", 0))),
		Age:       int(math.Trunc(record.NumberOr("age", 0))),
	})
	return &LiteratureResult{
		Papers:     out.Citations,
		QueryUsed:  out.Query,
		Provenance: out.Provenance,
	}, nil
}
