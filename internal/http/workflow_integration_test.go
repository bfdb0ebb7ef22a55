package httpx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/cognitriage-api/internal/adapters/jobrunner"
	"github.com/target/cognitriage-api/internal/data"
	"github.com/target/cognitriage-api/internal/domain/triage"
	"github.com/target/cognitriage-api/internal/pipeline"
	"github.com/target/cognitriage-api/internal/service"
)

// newTriageServer wires the full in-process stack behind a real HTTP listener.
func newTriageServer(t *testing.T) *httptest.Server {
	t.Helper()
	policy, err := triage.DefaultPolicy()
	require.NoError(t, err)
	retriever, err := triage.NewEvidenceRetriever(triage.EvidenceOptions{Mode: triage.EvidenceModeStatic})
	require.NoError(t, err)
	registry, err := triage.NewRegistry(triage.RegistryOptions{Policy: policy, Evidence: retriever})
	require.NoError(t, err)
	projection, err := triage.NewProjection(policy)
	require.NoError(t, err)

	store := data.NewMemoryJobStore(data.JobStoreOptions{})
	exec, err := pipeline.NewExecutor(pipeline.ExecutorOptions{Store: store, Registry: registry, Projection: projection})
	require.NoError(t, err)
	runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{Executor: exec, Workers: 2})
	require.NoError(t, err)

	submission, err := service.NewSubmissionService(service.SubmissionServiceOptions{
		Store: store, Scheduler: runner, StageNames: exec.StageNames(),
	})
	require.NoError(t, err)
	query, err := service.NewQueryService(service.QueryServiceOptions{Store: store})
	require.NoError(t, err)
	literature, err := service.NewLiteratureService(service.LiteratureServiceOptions{Retriever: retriever})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = runner.Run(ctx)
	}()

	srv := httptest.NewServer(NewRouter(RouterServices{Submission: submission, Query: query, Literature: literature}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return srv
}

func submitOverHTTP(t *testing.T, srv *httptest.Server, moca string) string {
	t.Helper()
	body, contentType := submission{files: []string{"t1.nii.gz"}, moca: moca, meta: `{"age": 74}`}.body(t)
	resp, err := srv.Client().Post(srv.URL+"/api/submit", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out["job_id"]
}

func getJSON(t *testing.T, srv *httptest.Server, path string, dst any) int {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dst), string(raw))
	return resp.StatusCode
}

// pollUntilTerminal checks that progress never goes backwards while waiting.
func pollUntilTerminal(t *testing.T, srv *httptest.Server, id string) service.JobStatusView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	last := 0
	for {
		var view service.JobStatusView
		require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/status/"+id, &view))
		require.GreaterOrEqual(t, view.Progress, last)
		last = view.Progress
		if view.Status.Terminal() {
			return view
		}
		require.True(t, time.Now().Before(deadline), "job %s still %s", id, view.Status)
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWorkflow_SubmitPollResult(t *testing.T) {
	srv := newTriageServer(t)
	id := submitOverHTTP(t, srv, `{"total": 22}`)

	status := pollUntilTerminal(t, srv, id)
	assert.Equal(t, "COMPLETED", string(status.Status))
	assert.Equal(t, 100, status.Progress)
	require.Len(t, status.Agents, 6)
	for _, st := range status.Agents {
		assert.Equal(t, "DONE", string(st.Status), st.Name)
	}

	var result struct {
		Status string                     `json:"status"`
		Result map[string]json.RawMessage `json:"result"`
		Error  *string                    `json:"error"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/result/"+id, &result))
	assert.Equal(t, "COMPLETED", result.Status)
	assert.Nil(t, result.Error)
	for _, key := range []string{"triage", "note", "citations", "qc"} {
		assert.Contains(t, result.Result, key)
	}
}

func TestWorkflow_InvalidScoreFailsAtIngestion(t *testing.T) {
	srv := newTriageServer(t)
	id := submitOverHTTP(t, srv, `{"total": 31}`)

	status := pollUntilTerminal(t, srv, id)
	assert.Equal(t, "FAILED", string(status.Status))
	assert.Equal(t, "FAILED", string(status.Agents.Get(triage.StageIngestion).Status))
	assert.Equal(t, "PENDING", string(status.Agents.Get(triage.StageFeatures).Status))

	var result service.JobResultView
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/result/"+id, &result))
	assert.JSONEq(t, `null`, string(result.Result))
	require.NotNil(t, result.Error)
	assert.Contains(t, *result.Error, "invalid MoCA total score")

	resp, err := srv.Client().Post(srv.URL+"/api/cancel/"+id, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
