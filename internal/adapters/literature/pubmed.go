// Package literature retrieves supporting citations from NCBI PubMed through the
// E-utilities API.
package literature

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/target/cognitriage-api/internal/core"
	"github.com/target/cognitriage-api/internal/domain/model"
	"github.com/target/cognitriage-api/internal/observability/metrics"
	"github.com/target/cognitriage-api/internal/observability/statsd"
)

const (
	// DefaultBaseURL is the public E-utilities endpoint.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	defaultTimeout    = 8 * time.Second
	defaultRateLimit  = 3 // NCBI allows 3 req/s without an API key.
	maxResponseBytes  = 2 << 20
	maxResultsCeiling = 50
)

// Config configures the PubMed client.
type Config struct {
	BaseURL   string
	APIKey    string
	Tool      string
	Email     string
	Timeout   time.Duration
	RateLimit float64
	Client    *http.Client
	Logger    *slog.Logger
	Metrics   statsd.Sink
}

// Client queries PubMed with esearch followed by esummary.
type Client struct {
	baseURL string
	apiKey  string
	tool    string
	email   string
	timeout time.Duration
	limiter *rate.Limiter
	http    *http.Client
	logger  *slog.Logger
	metrics statsd.Sink
}

var _ core.LiteratureSearcher = (*Client)(nil)

// NewClient builds a PubMed client. The base URL must be absolute.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid literature base url %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: base,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		tool:    strings.TrimSpace(cfg.Tool),
		email:   strings.TrimSpace(cfg.Email),
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(limit), 1),
		http:    hc,
		logger:  logger.With("component", "pubmed_client"),
		metrics: cfg.Metrics,
	}, nil
}

// Search implements core.LiteratureSearcher. Failures are logged and yield an empty slice.
func (c *Client) Search(ctx context.Context, query string, maxResults int) []model.Citation {
	citations, err := c.Lookup(ctx, query, maxResults)
	if err != nil {
		c.logger.WarnContext(ctx, "pubmed lookup failed", "query", query, "error", err)
		return []model.Citation{}
	}
	return citations
}

// Lookup runs the search and returns citations in PubMed relevance order.
func (c *Client) Lookup(ctx context.Context, query string, maxResults int) ([]model.Citation, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is required")
	}
	maxResults = min(max(maxResults, 1), maxResultsCeiling)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	citations, err := c.lookup(ctx, query, maxResults)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.EmitLiteratureLookup(c.metrics, "pubmed", result, time.Since(start))
	return citations, err
}

func (c *Client) lookup(ctx context.Context, query string, maxResults int) ([]model.Citation, error) {
	ids, err := c.searchIDs(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []model.Citation{}, nil
	}
	return c.summaries(ctx, ids)
}

type esearchResponse struct {
	Result struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

func (c *Client) searchIDs(ctx context.Context, query string, maxResults int) ([]string, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", query)
	params.Set("retmax", strconv.Itoa(maxResults))
	params.Set("sort", "relevance")

	var resp esearchResponse
	if err := c.get(ctx, "esearch.fcgi", params, &resp); err != nil {
		return nil, fmt.Errorf("esearch: %w", err)
	}
	return resp.Result.IDList, nil
}

type esummaryDoc struct {
	UID             string   `json:"uid"`
	Title           string   `json:"title"`
	Source          string   `json:"source"`
	FullJournalName string   `json:"fulljournalname"`
	PubDate         string   `json:"pubdate"`
	PubType         []string `json:"pubtype"`
	ArticleIDs      []struct {
		IDType string `json:"idtype"`
		Value  string `json:"value"`
	} `json:"articleids"`
}

type esummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

func (c *Client) summaries(ctx context.Context, ids []string) ([]model.Citation, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(ids, ","))

	var resp esummaryResponse
	if err := c.get(ctx, "esummary.fcgi", params, &resp); err != nil {
		return nil, fmt.Errorf("esummary: %w", err)
	}

	citations := make([]model.Citation, 0, len(ids))
	for _, id := range ids {
		raw, ok := resp.Result[id]
		if !ok {
			continue
		}
		var doc esummaryDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("esummary: decode %s: %w", id, err)
		}
		if strings.TrimSpace(doc.Title) == "" {
			continue
		}
		citations = append(citations, toCitation(id, doc))
	}
	return citations, nil
}

func toCitation(id string, doc esummaryDoc) model.Citation {
	journal := doc.FullJournalName
	if journal == "" {
		journal = doc.Source
	}
	year := ""
	if len(doc.PubDate) >= 4 {
		year = doc.PubDate[:4]
	}
	source := journal
	if year != "" {
		source = fmt.Sprintf("%s (%s)", journal, year)
	}

	link := "https://pubmed.ncbi.nlm.nih.gov/" + id + "/"
	for _, aid := range doc.ArticleIDs {
		if aid.IDType == "doi" && aid.Value != "" {
			link = "https://doi.org/" + aid.Value
			break
		}
	}

	return model.Citation{
		Title:    strings.TrimSuffix(strings.TrimSpace(doc.Title), "."),
		Source:   source,
		Year:     year,
		Link:     link,
		Strength: evidenceStrength(doc.PubType),
		PMID:     id,
	}
}

// evidenceStrength grades synthesized evidence above primary studies.
func evidenceStrength(pubTypes []string) string {
	strong := []string{"Meta-Analysis", "Systematic Review", "Practice Guideline", "Guideline", "Review"}
	for _, pt := range pubTypes {
		if slices.Contains(strong, pt) {
			return "high"
		}
	}
	return "moderate"
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	params.Set("retmode", "json")
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	if c.tool != "" {
		params.Set("tool", c.tool)
	}
	if c.email != "" {
		params.Set("email", c.email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
