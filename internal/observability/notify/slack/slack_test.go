package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/target/cognitriage-api/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error when webhook url missing")
	}
}

func TestFormatMessageIncludesFields(t *testing.T) {
	client, err := NewClient(Config{
		WebhookURL: "https://hooks.slack.com/services/test",
		Channel:    "#triage-alerts",
		Username:   "bot",
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := client.formatMessage(notify.JobFailurePayload{
		JobID:      "123",
		JobType:    "triage",
		Stage:      "Ingestion_QC_Agent",
		Error:      "Ingestion_QC_Agent: invalid MoCA total score",
		ErrorClass: "stage_error",
		Metadata:   map[string]string{"component": "triage_runner", "attempt": "1"},
	})

	if msg["username"] != "bot" {
		t.Fatalf("expected username to be preserved, got %v", msg["username"])
	}
	if msg["channel"] != "#triage-alerts" {
		t.Fatalf("expected channel to be set, got %v", msg["channel"])
	}

	text, ok := msg["text"].(string)
	if !ok {
		t.Fatalf("expected text field")
	}
	for _, want := range []string{
		"Triage job failed", "`123`", "triage", "Ingestion_QC_Agent", "invalid MoCA total score",
		"stage_error", "attempt: 1", "component: triage_runner", "Severity: critical",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("message text missing %q: %s", want, text)
		}
	}
	if strings.Index(text, "attempt") > strings.Index(text, "component") {
		t.Fatalf("expected metadata keys sorted: %s", text)
	}
}

func TestFormatMessageStatusLink(t *testing.T) {
	client, err := NewClient(Config{
		WebhookURL:      "https://hooks.slack.com/services/test",
		StatusURLPrefix: "https://triage.example.org/api/status",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := client.formatMessage(notify.JobFailurePayload{JobID: "job-123"})
	text, _ := msg["text"].(string)

	expected := "<https://triage.example.org/api/status/job-123|job-123>"
	if !strings.Contains(text, expected) {
		t.Fatalf("expected status link %q in text: %s", expected, text)
	}
}

func TestSendJobFailureRetries(t *testing.T) {
	notify.RetryBackoff = time.Millisecond
	t.Cleanup(func() { notify.RetryBackoff = 200 * time.Millisecond })

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if n == 1 {
			http.Error(w, "rate_limited", http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewClient(Config{WebhookURL: srv.URL, RetryLimit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := client.SendJobFailure(context.Background(), notify.JobFailurePayload{JobID: "1"}); err != nil {
		t.Fatalf("expected delivery to succeed after retry: %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestSendJobFailureReturnsLastError(t *testing.T) {
	notify.RetryBackoff = time.Millisecond
	t.Cleanup(func() { notify.RetryBackoff = 200 * time.Millisecond })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{WebhookURL: srv.URL, RetryLimit: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = client.SendJobFailure(context.Background(), notify.JobFailurePayload{JobID: "1"})
	if err == nil || !strings.Contains(err.Error(), "invalid_payload") {
		t.Fatalf("expected upstream error body in error, got %v", err)
	}
}
