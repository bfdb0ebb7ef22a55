// Package triage implements the six cognitive-decline triage stages and the
// policy document that parameterizes them.
package triage

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/target/cognitriage-api/internal/domain/model"
)

const policyName = "cognitive_triage"

//go:embed policy.yaml
var policyFS embed.FS

// Policy holds every tunable constant of the triage pipeline.
type Policy struct {
	Pipeline         string           `yaml:"pipeline"`
	Version          int              `yaml:"version"`
	Stages           []StagePolicy    `yaml:"stages"`
	Ingestion        IngestionPolicy  `yaml:"ingestion"`
	Features         FeaturePolicy    `yaml:"features"`
	Risk             RiskPolicy       `yaml:"risk"`
	Evidence         EvidencePolicy   `yaml:"evidence"`
	Compliance       CompliancePolicy `yaml:"compliance"`
	ResultProjection string           `yaml:"result_projection"`
}

// StagePolicy places one stage in the pipeline.
type StagePolicy struct {
	Name       string   `yaml:"name"`
	DependsOn  []string `yaml:"depends_on"`
	Checkpoint int      `yaml:"checkpoint"`
}

// IngestionPolicy bounds the accepted cognitive score.
type IngestionPolicy struct {
	MinTotal       int    `yaml:"min_total"`
	MaxTotal       int    `yaml:"max_total"`
	NormalizedHint string `yaml:"normalized_hint"`
	QCMessage      string `yaml:"qc_message"`
}

// FeaturePolicy parameterizes the volumetric feature heuristic.
type FeaturePolicy struct {
	DefaultAge            float64 `yaml:"default_age"`
	BaseLeftML            float64 `yaml:"base_left_ml"`
	BaseRightML           float64 `yaml:"base_right_ml"`
	FloorML               float64 `yaml:"floor_ml"`
	AgeOnset              float64 `yaml:"age_onset"`
	AgeSlopeML            float64 `yaml:"age_slope_ml"`
	JitterDivisor         float64 `yaml:"jitter_divisor"`
	MTAAgeCutoff          float64 `yaml:"mta_age_cutoff"`
	MTAModerateML         float64 `yaml:"mta_moderate_ml"`
	MTASevereML           float64 `yaml:"mta_severe_ml"`
	PercentileReferenceML float64 `yaml:"percentile_reference_ml"`
	PercentileSlope       float64 `yaml:"percentile_slope"`
	PathologyScaleLeft    float64 `yaml:"pathology_scale_left"`
	PathologyScaleRight   float64 `yaml:"pathology_scale_right"`
}

// RiskPolicy holds the severity score thresholds.
type RiskPolicy struct {
	ReducedVolumeML float64          `yaml:"reduced_volume_ml"`
	SevereVolumeML  float64          `yaml:"severe_volume_ml"`
	ElevatedMTA     int              `yaml:"elevated_mta"`
	MocaNormal      int              `yaml:"moca_normal"`
	MocaImpaired    int              `yaml:"moca_impaired"`
	ElderlyAge      float64          `yaml:"elderly_age"`
	ElderlyMinScore int              `yaml:"elderly_min_score"`
	Tiers           TierThresholds   `yaml:"tiers"`
	Confidence      ConfidencePolicy `yaml:"confidence"`
}

// TierThresholds are the minimum severity scores of each tier above LOW.
type TierThresholds struct {
	Moderate int `yaml:"moderate"`
	High     int `yaml:"high"`
	Urgent   int `yaml:"urgent"`
}

// ConfidencePolicy maps the severity score to a confidence value.
type ConfidencePolicy struct {
	Base float64 `yaml:"base"`
	Step float64 `yaml:"step"`
	Max  float64 `yaml:"max"`
}

// EvidencePolicy configures literature retrieval.
type EvidencePolicy struct {
	MaxResults int `yaml:"max_results"`
}

// CompliancePolicy configures the final safety pass.
type CompliancePolicy struct {
	ConfidenceCap float64 `yaml:"confidence_cap"`
}

// DefaultPolicy returns the embedded policy.
func DefaultPolicy() (*Policy, error) {
	data, err := policyFS.ReadFile("policy.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded policy: %w", err)
	}
	return ParsePolicy(data)
}

// LoadPolicy reads the policy at path, or the embedded policy when path is empty.
func LoadPolicy(path string) (*Policy, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultPolicy()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes and validates a policy document.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return &p, nil
}

// Validate checks the policy for internal consistency.
func (p *Policy) Validate() error {
	if strings.TrimSpace(p.Pipeline) != policyName {
		return fmt.Errorf("unexpected pipeline: %q", p.Pipeline)
	}
	if err := p.validateStages(); err != nil {
		return err
	}

	in := p.Ingestion
	if in.MinTotal < 0 || in.MaxTotal <= in.MinTotal {
		return fmt.Errorf("ingestion score range [%d,%d] is invalid", in.MinTotal, in.MaxTotal)
	}
	if p.Features.JitterDivisor <= 0 {
		return errors.New("features.jitter_divisor must be positive")
	}
	if p.Features.FloorML <= 0 {
		return errors.New("features.floor_ml must be positive")
	}

	t := p.Risk.Tiers
	if t.Moderate <= 0 || t.High <= t.Moderate || t.Urgent <= t.High {
		return fmt.Errorf("risk tiers must increase strictly, got moderate=%d high=%d urgent=%d",
			t.Moderate, t.High, t.Urgent)
	}
	c := p.Risk.Confidence
	if c.Base < 0 || c.Max > 1 || c.Base > c.Max || c.Step < 0 {
		return fmt.Errorf("confidence policy base=%v step=%v max=%v is invalid", c.Base, c.Step, c.Max)
	}
	if p.Compliance.ConfidenceCap <= 0 || p.Compliance.ConfidenceCap > 1 {
		return fmt.Errorf("compliance.confidence_cap %v must be in (0,1]", p.Compliance.ConfidenceCap)
	}
	if p.Evidence.MaxResults <= 0 {
		return errors.New("evidence.max_results must be positive")
	}
	if strings.TrimSpace(p.ResultProjection) == "" {
		return errors.New("result_projection is required")
	}
	return nil
}

func (p *Policy) validateStages() error {
	if len(p.Stages) == 0 {
		return errors.New("no stages defined")
	}
	seen := make(map[string]bool, len(p.Stages))
	last := 0
	for _, st := range p.Stages {
		name := strings.TrimSpace(st.Name)
		if name == "" {
			return errors.New("stage name is required")
		}
		if seen[name] {
			return fmt.Errorf("duplicate stage name: %s", name)
		}
		for _, dep := range st.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("stage %s depends on %s, which does not run before it", name, dep)
			}
		}
		if st.Checkpoint <= last {
			return fmt.Errorf("stage %s checkpoint %d must exceed %d", name, st.Checkpoint, last)
		}
		seen[name] = true
		last = st.Checkpoint
	}
	if last != model.MaxProgress {
		return fmt.Errorf("final checkpoint must be %d, got %d", model.MaxProgress, last)
	}
	return nil
}
