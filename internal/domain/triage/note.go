package triage

import (
	"context"
	"math"
	"slices"

	"github.com/target/cognitriage-api/internal/pipeline"
)

var (
	recommendationsHigh = []string{
		"Recommend neurology memory clinic referral",
		"Consider further biomarker evaluation if appropriate",
	}
	recommendationsModerate = []string{
		"Recommend follow-up cognitive testing in 6–12 months",
		"Lifestyle risk factor modification counseling",
	}
	recommendationsLow = []string{"Routine monitoring"}

	noteLimitations = []string{
		"This is a triage aid; not a definitive diagnosis",
		"MRI-derived measures are approximations; clinical correlation required",
	}
)

// Recommendations returns the follow-up actions for a tier.
func Recommendations(tier RiskTier) []string {
	switch tier {
	case RiskHigh, RiskUrgent:
		return slices.Clone(recommendationsHigh)
	case RiskModerate:
		return slices.Clone(recommendationsModerate)
	default:
		return slices.Clone(recommendationsLow)
	}
}

type noteStage struct {
	defaultAge float64
}

// NewNoteStage assembles the structured clinical note.
func NewNoteStage(features FeaturePolicy) pipeline.Stage {
	return &noteStage{defaultAge: features.DefaultAge}
}

func (s *noteStage) Name() string { return StageNote }

func (s *noteStage) Run(_ context.Context, in pipeline.Input) (any, error) {
	feats, err := pipeline.Lookup[FeatureOutput](in.Outputs, StageFeatures)
	if err != nil {
		return nil, err
	}
	risk, err := pipeline.Lookup[RiskOutput](in.Outputs, StageRisk)
	if err != nil {
		return nil, err
	}
	evidence, err := pipeline.Lookup[EvidenceOutput](in.Outputs, StageEvidence)
	if err != nil {
		return nil, err
	}
	ingest, err := pipeline.Lookup[IngestionOutput](in.Outputs, StageIngestion)
	if err != nil {
		return nil, err
	}

	meta := in.Request.Metadata
	return ClinicalNote{
		PatientInfo: PatientInfo{
			Age:       int(math.Trunc(meta.NumberOr("age", s.defaultAge))),
			Sex:       meta.StringOr("sex", "U"),
			MocaTotal: ingest.ValidatedScores.Total,
		},
		ImagingFindings: ImagingFindings{
			HippocampalVolumesML: feats.HippocampalVolumes,
			MTAScore:             feats.MTAScore,
			Percentiles:          feats.Percentiles,
			Thumbnails:           feats.Thumbnails,
		},
		RiskAssessment:  risk,
		Recommendations: Recommendations(risk.RiskTier),
		Limitations:     slices.Clone(noteLimitations),
		References:      slices.Clone(evidence.Citations),
	}, nil
}
