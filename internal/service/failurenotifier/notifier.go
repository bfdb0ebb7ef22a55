// Package failurenotifier fans failed-job notifications out to the configured sinks.
package failurenotifier

import (
	"context"
	"log/slog"
	"sync"

	"github.com/target/cognitriage-api/internal/observability/notify"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// NotifyCanceled also reports jobs that failed because a client canceled them.
	NotifyCanceled bool
}

// Service dispatches failure events to all registered sinks.
type Service struct {
	logger         *slog.Logger
	sinks          []SinkRegistration
	notifyCanceled bool
}

// NewService constructs a failure notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		sinks = append(sinks, SinkRegistration{
			Name: notify.Fallback(entry.Name, "sink"),
			Sink: entry.Sink,
		})
	}

	return &Service{
		logger:         logger.With("component", "failure_notifier"),
		sinks:          sinks,
		notifyCanceled: opts.NotifyCanceled,
	}
}

// NotifyJobFailure fans the payload out to all sinks and waits for delivery.
func (s *Service) NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload) {
	if s == nil || len(s.sinks) == 0 {
		return
	}

	if payload.ErrorClass == "canceled" && !s.notifyCanceled {
		s.logger.DebugContext(ctx, "skipping notification for canceled job", "job_id", payload.JobID)
		return
	}

	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}

	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := entry.Sink.SendJobFailure(ctx, payload); err != nil {
				s.logger.ErrorContext(ctx, "failure notifier delivery error",
					"sink", entry.Name,
					"job_id", payload.JobID,
					"job_type", payload.JobType,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}
