package config

import (
	"strings"
	"time"
)

// LiteratureConfig configures the bibliographic search client used in live evidence mode.
type LiteratureConfig struct {
	// BaseURL is the E-utilities endpoint root.
	BaseURL string `env:"LITERATURE_BASE_URL" envDefault:"https://eutils.ncbi.nlm.nih.gov/entrez/eutils/"`

	// APIKey raises the upstream rate limit when set.
	APIKey string `env:"LITERATURE_API_KEY"`
	Tool   string `env:"LITERATURE_TOOL"  envDefault:"cognitriage"`
	Email  string `env:"LITERATURE_EMAIL"`

	// Timeout bounds each upstream lookup.
	Timeout time.Duration `env:"LITERATURE_TIMEOUT" envDefault:"8s"`

	// RateLimit is the maximum upstream requests per second.
	RateLimit float64 `env:"LITERATURE_RATE_LIMIT" envDefault:"3"`

	// MaxResults overrides the triage policy's evidence.max_results when positive.
	MaxResults int `env:"LITERATURE_MAX_RESULTS"`

	// CacheTTL is how long successful lookups stay cached.
	CacheTTL time.Duration `env:"LITERATURE_CACHE_TTL" envDefault:"24h"`

	// MemoryCacheSize bounds the in-process cache used when Redis is disabled.
	MemoryCacheSize int `env:"LITERATURE_MEMORY_CACHE_SIZE" envDefault:"512"`
}

// Sanitize applies guardrails to literature configuration values.
func (l *LiteratureConfig) Sanitize() {
	l.BaseURL = strings.TrimSpace(l.BaseURL)
	l.APIKey = strings.TrimSpace(l.APIKey)
	l.Email = strings.TrimSpace(l.Email)
	if l.Timeout <= 0 {
		l.Timeout = 8 * time.Second
	}
	if l.RateLimit <= 0 {
		l.RateLimit = 3
	}
	if l.MaxResults > 0 {
		l.MaxResults = min(l.MaxResults, 50)
	} else {
		l.MaxResults = 0
	}
	if l.MemoryCacheSize < 1 {
		l.MemoryCacheSize = 1
	}
	if l.CacheTTL < time.Minute {
		l.CacheTTL = time.Minute
	}
}
