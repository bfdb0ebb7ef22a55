package config

import (
	"strings"
	"time"
)

const (
	evidenceModeStatic = "static"
	evidenceModeLive   = "live"

	maxPipelineWorkers = 256
	minJobTimeout      = time.Second
)

// PipelineConfig controls the triage worker pool and stage behavior.
type PipelineConfig struct {
	// Workers is the number of jobs executed concurrently.
	Workers int `env:"PIPELINE_WORKERS" envDefault:"4"`

	// QueueSize bounds the number of accepted jobs waiting for a worker.
	// Submissions beyond it are rejected with 503.
	QueueSize int `env:"PIPELINE_QUEUE_SIZE" envDefault:"64"`

	// JobTimeout is the deadline for one job across all stages.
	JobTimeout time.Duration `env:"PIPELINE_JOB_TIMEOUT" envDefault:"2m"`

	// EvidenceMode selects the evidence source: static or live.
	EvidenceMode string `env:"PIPELINE_EVIDENCE_MODE" envDefault:"static"`

	// PolicyFile overrides the embedded triage policy document.
	PolicyFile string `env:"PIPELINE_POLICY_FILE"`
}

// Sanitize applies guardrails to pipeline configuration values.
func (p *PipelineConfig) Sanitize() {
	p.Workers = min(max(p.Workers, 1), maxPipelineWorkers)
	if p.QueueSize < 1 {
		p.QueueSize = 1
	}
	if p.JobTimeout < minJobTimeout {
		p.JobTimeout = minJobTimeout
	}
	p.EvidenceMode = strings.ToLower(strings.TrimSpace(p.EvidenceMode))
	if p.EvidenceMode != evidenceModeLive {
		p.EvidenceMode = evidenceModeStatic
	}
	p.PolicyFile = strings.TrimSpace(p.PolicyFile)
}

// IsLiveEvidence reports whether the evidence stage queries the literature service.
func (p *PipelineConfig) IsLiveEvidence() bool {
	return p.EvidenceMode == evidenceModeLive
}
