package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/target/cognitriage-api/internal/core"
	"github.com/target/cognitriage-api/internal/observability/metrics"
	"github.com/target/cognitriage-api/internal/observability/statsd"
	"github.com/target/cognitriage-api/internal/pipeline"
)

// Evidence retrieval modes.
const (
	EvidenceModeStatic = "static"
	EvidenceModeLive   = "live"
)

// EvidenceQuery carries the clinical facts a literature search is built from.
type EvidenceQuery struct {
	Tier      RiskTier
	MTAScore  int
	MocaTotal int
	Age       int
}

// BuildQuery turns the clinical facts into a PubMed search expression.
func BuildQuery(q EvidenceQuery) string {
	terms := []string{`"hippocampal atrophy"`}
	switch q.Tier {
	case RiskHigh, RiskUrgent:
		terms = append(terms, `("Alzheimer disease" OR dementia)`)
	case RiskModerate:
		terms = append(terms, `"mild cognitive impairment"`)
	default:
		terms = append(terms, `"cognitive aging"`)
	}
	if q.MTAScore >= 3 {
		terms = append(terms, `"medial temporal atrophy"`)
	}
	if q.MocaTotal > 0 && q.MocaTotal < 26 {
		terms = append(terms, `("Montreal Cognitive Assessment" OR MoCA)`)
	}
	if q.Age >= 75 {
		terms = append(terms, "aged")
	}
	return strings.Join(terms, " AND ")
}

// EvidenceOptions configures an EvidenceRetriever.
type EvidenceOptions struct {
	Mode       string
	Searcher   core.LiteratureSearcher
	MaxResults int
	Logger     *slog.Logger
	Metrics    statsd.Sink
}

// EvidenceRetriever sources citations either from the curated static set or from a
// live bibliographic search, degrading to the static set when the search yields nothing.
type EvidenceRetriever struct {
	mode       string
	searcher   core.LiteratureSearcher
	maxResults int
	logger     *slog.Logger
	metrics    statsd.Sink
}

// NewEvidenceRetriever validates the mode and its dependencies.
func NewEvidenceRetriever(opts EvidenceOptions) (*EvidenceRetriever, error) {
	mode := strings.ToLower(strings.TrimSpace(opts.Mode))
	if mode == "" {
		mode = EvidenceModeStatic
	}
	switch mode {
	case EvidenceModeStatic:
	case EvidenceModeLive:
		if opts.Searcher == nil {
			return nil, errors.New("live evidence mode requires a literature searcher")
		}
	default:
		return nil, fmt.Errorf("unknown evidence mode %q", opts.Mode)
	}

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = len(staticCitations)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &EvidenceRetriever{
		mode:       mode,
		searcher:   opts.Searcher,
		maxResults: maxResults,
		logger:     logger.With("component", "evidence_retriever"),
		metrics:    opts.Metrics,
	}, nil
}

// Mode returns the configured retrieval mode.
func (r *EvidenceRetriever) Mode() string { return r.mode }

// Retrieve never fails: search problems surface as the fallback provenance.
func (r *EvidenceRetriever) Retrieve(ctx context.Context, q EvidenceQuery) EvidenceOutput {
	query := BuildQuery(q)
	if r.mode == EvidenceModeStatic {
		metrics.EmitLiteratureLookup(r.metrics, EvidenceModeStatic, metrics.ResultSuccess, 0)
		return staticEvidence(ProvenanceStatic, query)
	}

	start := time.Now()
	citations := r.searcher.Search(ctx, query, r.maxResults)
	elapsed := time.Since(start)

	if len(citations) == 0 {
		r.logger.WarnContext(ctx, "literature search returned nothing; using static citations",
			"query", query, "duration", elapsed)
		metrics.EmitLiteratureLookup(r.metrics, EvidenceModeLive, metrics.ResultFallback, elapsed)
		return staticEvidence(ProvenanceFallback, query)
	}

	if len(citations) > r.maxResults {
		citations = citations[:r.maxResults]
	}
	metrics.EmitLiteratureLookup(r.metrics, EvidenceModeLive, metrics.ResultSuccess, elapsed)
	return EvidenceOutput{
		Citations:  citations,
		Provenance: ProvenanceLive,
		Count:      len(citations),
		Query:      query,
	}
}

func staticEvidence(provenance, query string) EvidenceOutput {
	citations := StaticCitations()
	return EvidenceOutput{
		Citations:  citations,
		Provenance: provenance,
		Count:      len(citations),
		Query:      query,
	}
}

type evidenceStage struct {
	retriever  *EvidenceRetriever
	defaultAge float64
}

// NewEvidenceStage wraps retriever as the evidence pipeline stage.
func NewEvidenceStage(retriever *EvidenceRetriever, features FeaturePolicy) pipeline.Stage {
	return &evidenceStage{retriever: retriever, defaultAge: features.DefaultAge}
}

func (s *evidenceStage) Name() string { return StageEvidence }

func (s *evidenceStage) Run(ctx context.Context, in pipeline.Input) (any, error) {
	risk, err := pipeline.Lookup[RiskOutput](in.Outputs, StageRisk)
	if err != nil {
		return nil, err
	}
	feats, err := pipeline.Lookup[FeatureOutput](in.Outputs, StageFeatures)
	if err != nil {
		return nil, err
	}
	q := EvidenceQuery{
		Tier:     risk.RiskTier,
		MTAScore: feats.MTAScore,
		Age:      int(math.Trunc(in.Request.Metadata.NumberOr("age", s.defaultAge))),
	}
	if ingest, err := pipeline.Lookup[IngestionOutput](in.Outputs, StageIngestion); err == nil {
		q.MocaTotal = ingest.ValidatedScores.Total
	}
	return s.retriever.Retrieve(ctx, q), nil
}
