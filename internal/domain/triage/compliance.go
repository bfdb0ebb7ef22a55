package triage

import (
	"context"
	"slices"

	"github.com/target/cognitriage-api/internal/pipeline"
)

var requiredDisclaimers = []string{
	"Not for diagnostic use without physician oversight",
	"Supplemental tool for clinical decision making",
	"Results require medical interpretation",
}

type complianceStage struct {
	policy CompliancePolicy
}

// NewComplianceStage attaches disclaimers and caps the reported confidence.
func NewComplianceStage(policy CompliancePolicy) pipeline.Stage {
	return &complianceStage{policy: policy}
}

func (s *complianceStage) Name() string { return StageCompliance }

func (s *complianceStage) Run(_ context.Context, in pipeline.Input) (any, error) {
	note, err := pipeline.Lookup[ClinicalNote](in.Outputs, StageNote)
	if err != nil {
		return nil, err
	}
	risk, err := pipeline.Lookup[RiskOutput](in.Outputs, StageRisk)
	if err != nil {
		return nil, err
	}

	adjusted := risk
	adjusted.KeyRationale = slices.Clone(risk.KeyRationale)
	adjusted.ConfidenceScore = min(risk.ConfidenceScore, s.policy.ConfidenceCap)

	return ComplianceOutput{
		SafetyApprovedNote:  note,
		RequiredDisclaimers: slices.Clone(requiredDisclaimers),
		RiskAdjusted:        adjusted,
	}, nil
}
