package triage

import (
	"errors"
	"fmt"

	"github.com/target/cognitriage-api/internal/pipeline"
)

// RegistryOptions groups dependencies for NewRegistry.
type RegistryOptions struct {
	Policy   *Policy
	Evidence *EvidenceRetriever
}

// NewRegistry builds the stage registry in the order, dependencies and
// checkpoints declared by the policy.
func NewRegistry(opts RegistryOptions) (*pipeline.Registry, error) {
	p := opts.Policy
	if p == nil {
		return nil, errors.New("policy is required")
	}
	if opts.Evidence == nil {
		return nil, errors.New("evidence retriever is required")
	}

	stages := map[string]pipeline.Stage{
		StageIngestion:  NewIngestionStage(p.Ingestion),
		StageFeatures:   NewFeatureStage(p.Features),
		StageRisk:       NewRiskStage(p.Risk, p.Features),
		StageEvidence:   NewEvidenceStage(opts.Evidence, p.Features),
		StageNote:       NewNoteStage(p.Features),
		StageCompliance: NewComplianceStage(p.Compliance),
	}
	if len(p.Stages) != len(stages) {
		return nil, fmt.Errorf("policy declares %d stages, want %d", len(p.Stages), len(stages))
	}

	reg := &pipeline.Registry{}
	for _, sp := range p.Stages {
		stage, ok := stages[sp.Name]
		if !ok {
			return nil, fmt.Errorf("policy names unknown stage %s", sp.Name)
		}
		if err := reg.Register(pipeline.Definition{
			Stage:      stage,
			DependsOn:  sp.DependsOn,
			Checkpoint: sp.Checkpoint,
		}); err != nil {
			return nil, err
		}
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

// NewProjection compiles the policy's result projection.
func NewProjection(p *Policy) (*pipeline.Projection, error) {
	return pipeline.NewProjection(p.ResultProjection)
}
