package triage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/target/cognitriage-api/internal/pipeline"
)

// ErrInvalidScore is returned when the cognitive test total is missing or out of range.
var ErrInvalidScore = errors.New("invalid MoCA total score")

type ingestionStage struct {
	policy IngestionPolicy
}

// NewIngestionStage validates the uploaded files and the cognitive score.
func NewIngestionStage(policy IngestionPolicy) pipeline.Stage {
	return &ingestionStage{policy: policy}
}

func (s *ingestionStage) Name() string { return StageIngestion }

func (s *ingestionStage) Run(_ context.Context, in pipeline.Input) (any, error) {
	req := in.Request
	formats := make([]string, len(req.Files))
	for i, f := range req.Files {
		formats[i] = DetectFormat(f.Name)
	}

	total, ok := req.Score.Number("total")
	if !ok {
		return nil, fmt.Errorf("%w: total is missing", ErrInvalidScore)
	}
	score := int(math.Trunc(total))
	if score < s.policy.MinTotal || score > s.policy.MaxTotal {
		return nil, fmt.Errorf("%w: %d outside [%d,%d]", ErrInvalidScore, score, s.policy.MinTotal, s.policy.MaxTotal)
	}

	return IngestionOutput{
		AcceptedFormats: formats,
		ValidatedScores: ValidatedScores{Total: score},
		NormalizedHint:  s.policy.NormalizedHint,
		QCReport: QCReport{
			Message: s.policy.QCMessage,
			Files:   req.FileNames(),
		},
	}, nil
}

// DetectFormat maps a file name to its imaging format by extension.
func DetectFormat(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	switch {
	case strings.HasSuffix(lower, ".nii"), strings.HasSuffix(lower, ".nii.gz"):
		return FormatNIfTI
	case strings.HasSuffix(lower, ".dcm"), strings.HasSuffix(lower, ".dicom"):
		return FormatDICOM
	default:
		return FormatUnknown
	}
}
