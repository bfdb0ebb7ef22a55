package triage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"

	"github.com/target/cognitriage-api/internal/domain/model"
	"github.com/target/cognitriage-api/internal/pipeline"
)

type featureStage struct {
	policy FeaturePolicy
}

// NewFeatureStage derives volumetric features from the file names and metadata.
// The derivation is deterministic: identical inputs yield identical features.
func NewFeatureStage(policy FeaturePolicy) pipeline.Stage {
	return &featureStage{policy: policy}
}

func (s *featureStage) Name() string { return StageFeatures }

func (s *featureStage) Run(_ context.Context, in pipeline.Input) (any, error) {
	return s.extract(in.Request), nil
}

func (s *featureStage) extract(req *model.TriageRequest) FeatureOutput {
	p := s.policy
	seed := fileSeed(req.FileNames())
	age := math.Trunc(req.Metadata.NumberOr("age", p.DefaultAge))

	ageEffect := max(0, (age-p.AgeOnset)*p.AgeSlopeML)
	left := max(p.FloorML, p.BaseLeftML-ageEffect) + float64(seed%20)/p.JitterDivisor
	right := max(p.FloorML, p.BaseRightML-ageEffect) + float64((seed/7)%20)/p.JitterDivisor

	if req.Metadata.Bool("pathology_demo") {
		left *= p.PathologyScaleLeft
		right *= p.PathologyScaleRight
	}

	mta := 1
	if age >= p.MTAAgeCutoff {
		mta = 2
	}
	smallest := min(left, right)
	if smallest < p.MTAModerateML {
		mta = max(mta, 3)
	}
	if smallest < p.MTASevereML {
		mta = max(mta, 4)
	}

	leftPct := s.percentile(left)
	rightPct := s.percentile(right)

	return FeatureOutput{
		HippocampalVolumes: HippocampalVolumes{
			LeftML:      round2(left),
			RightML:     round2(right),
			AsymmetryML: round2(math.Abs(left - right)),
			TotalML:     round2(left + right),
		},
		MTAScore: mta,
		Percentiles: Percentiles{
			Left:  leftPct,
			Right: rightPct,
			Mean:  (leftPct + rightPct) / 2,
		},
	}
}

// percentile maps a volume to a 1-99 normative percentile.
func (s *featureStage) percentile(volume float64) int {
	pct := int(100 - (s.policy.PercentileReferenceML-volume)*s.policy.PercentileSlope)
	return min(99, max(1, pct))
}

// fileSeed hashes the concatenated file names into [0,1000).
func fileSeed(names []string) int {
	h := sha256.New()
	for _, n := range names {
		h.Write([]byte(n))
	}
	prefix := hex.EncodeToString(h.Sum(nil))[:8]
	v, _ := strconv.ParseUint(prefix, 16, 32)
	return int(v % 1000)
}

// round2 rounds to two decimals based on the exact binary value, so 3.695
// (stored as 3.69499...) becomes 3.69.
func round2(v float64) float64 {
	r, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 2, 64), 64)
	return r
}
