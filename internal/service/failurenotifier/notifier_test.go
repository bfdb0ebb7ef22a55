package failurenotifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/target/cognitriage-api/internal/observability/notify"
)

type capture struct {
	mu       sync.Mutex
	received []notify.JobFailurePayload
}

func (c *capture) sink() notify.Sink {
	return notify.SinkFunc(func(_ context.Context, payload notify.JobFailurePayload) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.received = append(c.received, payload)
		return nil
	})
}

func TestServiceNotifyJobFailure(t *testing.T) {
	var a, b capture
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{Name: "a", Sink: a.sink()},
			{Name: "b", Sink: b.sink()},
			{Name: "nil"},
		},
	})

	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{
		JobID:      "123",
		JobType:    "triage",
		ErrorClass: "stage_error",
	})

	for _, c := range []*capture{&a, &b} {
		if len(c.received) != 1 {
			t.Fatalf("expected 1 payload, got %d", len(c.received))
		}
		if c.received[0].Severity != notify.SeverityCritical {
			t.Fatalf("expected severity to default to critical, got %s", c.received[0].Severity)
		}
	}
}

func TestServiceDisabled(t *testing.T) {
	svc := NewService(Options{})
	if svc.Enabled() {
		t.Fatal("expected Enabled() to be false when no sinks registered")
	}
	var nilSvc *Service
	if nilSvc.Enabled() {
		t.Fatal("expected nil service to be disabled")
	}
	nilSvc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{JobID: "1"})
}

func TestServiceLogsErrors(t *testing.T) {
	svc := NewService(Options{
		Sinks: []SinkRegistration{{
			Name: "fail",
			Sink: notify.SinkFunc(func(context.Context, notify.JobFailurePayload) error {
				return errors.New("boom")
			}),
		}},
	})

	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{JobID: "123"})
}

func TestServiceSkipsCanceledJobs(t *testing.T) {
	var c capture
	svc := NewService(Options{Sinks: []SinkRegistration{{Name: "capture", Sink: c.sink()}}})

	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{JobID: "x", ErrorClass: "canceled"})
	if len(c.received) != 0 {
		t.Fatal("expected sink not to be invoked for canceled job")
	}

	svc = NewService(Options{NotifyCanceled: true, Sinks: []SinkRegistration{{Name: "capture", Sink: c.sink()}}})
	svc.NotifyJobFailure(context.Background(), notify.JobFailurePayload{JobID: "x", ErrorClass: "canceled"})
	if len(c.received) != 1 {
		t.Fatal("expected canceled job to be reported when enabled")
	}
}
