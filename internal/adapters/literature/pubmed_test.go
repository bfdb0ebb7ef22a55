package literature

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/cognitriage-api/internal/observability/statsd"
)

const esearchBody = `{"header":{"type":"esearch"},"esearchresult":{"count":"2","retmax":"2","idlist":["29653606","31558465"]}}`

const esummaryBody = `{
  "result": {
    "uids": ["29653606", "31558465"],
    "29653606": {
      "uid": "29653606",
      "title": "NIA-AA Research Framework: Toward a biological definition of Alzheimer's disease.",
      "source": "Alzheimers Dement",
      "fulljournalname": "Alzheimer's & dementia",
      "pubdate": "2018 Apr",
      "pubtype": ["Journal Article", "Review"],
      "articleids": [{"idtype": "pubmed", "value": "29653606"}, {"idtype": "doi", "value": "10.1016/j.jalz.2018.02.018"}]
    },
    "31558465": {
      "uid": "31558465",
      "title": "Hippocampal volume in cohort study",
      "source": "Neurology",
      "pubdate": "2019 Oct 1",
      "pubtype": ["Journal Article"],
      "articleids": []
    }
  }
}`

func newPubMedServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query()
		assert.Equal(t, "pubmed", q.Get("db"))
		assert.Equal(t, "json", q.Get("retmode"))
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/esearch.fcgi"):
			assert.Equal(t, "cognitive decline AND MRI", q.Get("term"))
			assert.Equal(t, "2", q.Get("retmax"))
			assert.Equal(t, "secret", q.Get("api_key"))
			_, _ = w.Write([]byte(esearchBody))
		case strings.HasSuffix(r.URL.Path, "/esummary.fcgi"):
			assert.Equal(t, "29653606,31558465", q.Get("id"))
			_, _ = w.Write([]byte(esummaryBody))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Lookup(t *testing.T) {
	var calls atomic.Int32
	srv := newPubMedServer(t, &calls)
	rec := &statsd.Recorder{}

	c, err := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "secret", RateLimit: 100, Metrics: rec})
	require.NoError(t, err)

	got, err := c.Lookup(context.Background(), "cognitive decline AND MRI", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int32(2), calls.Load())

	assert.Equal(t, "NIA-AA Research Framework: Toward a biological definition of Alzheimer's disease", got[0].Title)
	assert.Equal(t, "Alzheimer's & dementia (2018)", got[0].Source)
	assert.Equal(t, "2018", got[0].Year)
	assert.Equal(t, "https://doi.org/10.1016/j.jalz.2018.02.018", got[0].Link)
	assert.Equal(t, "high", got[0].Strength)
	assert.Equal(t, "29653606", got[0].PMID)

	assert.Equal(t, "Neurology (2019)", got[1].Source)
	assert.Equal(t, "https://pubmed.ncbi.nlm.nih.gov/31558465/", got[1].Link)
	assert.Equal(t, "moderate", got[1].Strength)

	samples := rec.Samples("literature.lookup")
	require.Len(t, samples, 1)
	assert.Equal(t, "pubmed", samples[0].Tags["source"])
	assert.Equal(t, "success", samples[0].Tags["result"])
}

func TestClient_LookupEmptyResultSkipsSummary(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"esearchresult":{"idlist":[]}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, RateLimit: 100})
	require.NoError(t, err)

	got, err := c.Lookup(context.Background(), "nothing matches", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Errors(t *testing.T) {
	t.Run("upstream status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		c, err := NewClient(Config{BaseURL: srv.URL, RateLimit: 100})
		require.NoError(t, err)

		_, err = c.Lookup(context.Background(), "q", 5)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unexpected status 429")

		got := c.Search(context.Background(), "q", 5)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{not json`))
		}))
		defer srv.Close()

		c, err := NewClient(Config{BaseURL: srv.URL, RateLimit: 100})
		require.NoError(t, err)
		_, err = c.Lookup(context.Background(), "q", 5)
		assert.ErrorContains(t, err, "decode response")
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		c, err := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond, RateLimit: 100})
		require.NoError(t, err)
		start := time.Now()
		_, err = c.Lookup(context.Background(), "q", 5)
		require.Error(t, err)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("empty query", func(t *testing.T) {
		c, err := NewClient(Config{})
		require.NoError(t, err)
		_, err = c.Lookup(context.Background(), "  ", 5)
		assert.ErrorContains(t, err, "query is required")
	})
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "not-a-url"})
	assert.ErrorContains(t, err, "invalid literature base url")
}
