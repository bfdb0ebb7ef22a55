package triage

import (
	"context"
	"fmt"
	"math"

	"github.com/target/cognitriage-api/internal/pipeline"
)

// Rationale statements attached to risk assessments.
const (
	RationaleReducedVolume = "Reduced hippocampal volume relative to typical aging"
	RationaleElevatedMTA   = "Elevated MTA score"
	RationaleLowMoca       = "MoCA below normal threshold"
)

type riskStage struct {
	policy   RiskPolicy
	features FeaturePolicy
}

// NewRiskStage composes a severity score from features, test score and age and maps it to a tier.
func NewRiskStage(policy RiskPolicy, features FeaturePolicy) pipeline.Stage {
	return &riskStage{policy: policy, features: features}
}

func (s *riskStage) Name() string { return StageRisk }

func (s *riskStage) Run(_ context.Context, in pipeline.Input) (any, error) {
	feats, err := pipeline.Lookup[FeatureOutput](in.Outputs, StageFeatures)
	if err != nil {
		return nil, err
	}
	ingest, err := pipeline.Lookup[IngestionOutput](in.Outputs, StageIngestion)
	if err != nil {
		return nil, err
	}
	age := math.Trunc(in.Request.Metadata.NumberOr("age", s.features.DefaultAge))

	return s.assess(feats, ingest.ValidatedScores.Total, age), nil
}

func (s *riskStage) assess(feats FeatureOutput, moca int, age float64) RiskOutput {
	p := s.policy
	smallest := feats.HippocampalVolumes.Min()

	score := 0
	rationale := []string{}
	if smallest < p.ReducedVolumeML {
		score++
		rationale = append(rationale, RationaleReducedVolume)
	}
	if smallest < p.SevereVolumeML {
		score++
	}
	if feats.MTAScore >= p.ElevatedMTA {
		score++
		rationale = append(rationale, RationaleElevatedMTA)
	}
	if moca < p.MocaNormal {
		score++
		rationale = append(rationale, RationaleLowMoca)
	}
	if moca < p.MocaImpaired {
		score++
	}
	if age >= p.ElderlyAge && score >= p.ElderlyMinScore {
		score++
	}

	return RiskOutput{
		RiskTier:        p.Tier(score),
		ConfidenceScore: p.ConfidenceFor(score),
		KeyRationale:    rationale,
		SeverityScore:   score,
	}
}

// Tier maps a severity score to a risk tier; it never decreases as score grows.
func (p RiskPolicy) Tier(score int) RiskTier {
	switch {
	case score >= p.Tiers.Urgent:
		return RiskUrgent
	case score >= p.Tiers.High:
		return RiskHigh
	case score >= p.Tiers.Moderate:
		return RiskModerate
	default:
		return RiskLow
	}
}

// ConfidenceFor maps a severity score to a confidence in [0, Confidence.Max].
func (p RiskPolicy) ConfidenceFor(score int) float64 {
	c := p.Confidence
	return round2(min(c.Max, c.Base+c.Step*float64(score)))
}

// ParseRiskTier converts a client-supplied tier string.
func ParseRiskTier(s string) (RiskTier, error) {
	t := RiskTier(s)
	if t.Rank() < 0 {
		return "", fmt.Errorf("unknown risk tier %q", s)
	}
	return t, nil
}
