// Package metrics defines the standard metric names and tags emitted by the triage pipeline.
package metrics

import (
	"maps"
	"time"

	obserrors "github.com/target/cognitriage-api/internal/observability/errors"
	"github.com/target/cognitriage-api/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess  = "success"
	ResultError    = "error"
	ResultFallback = "fallback"
	ResultCacheHit = "cache_hit"
)

// Transition names for job lifecycle metrics.
const (
	TransitionQueued    = "queued"
	TransitionStarted   = "started"
	TransitionCompleted = "completed"
	TransitionFailed    = "failed"
	TransitionRejected  = "rejected"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	JobType    string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits job.transition and, when a duration is known, job.duration.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_type":   in.JobType,
		"transition": in.Transition,
		"result":     in.Result,
	}
	addErrorClass(tags, in.Result, in.Err)

	sink.Count("job.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// StageMetric describes the outcome of one stage execution.
type StageMetric struct {
	Stage    string
	Result   string
	Duration time.Duration
	Err      error
}

// EmitStage emits pipeline.stage.result and pipeline.stage.duration.
func EmitStage(sink statsd.Sink, in StageMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{"stage": in.Stage, "result": in.Result}
	addErrorClass(tags, in.Result, in.Err)

	sink.Count("pipeline.stage.result", 1, tags)
	sink.Timing("pipeline.stage.duration", in.Duration, CloneTags(tags))
}

// EmitLiteratureLookup counts literature searches by source and outcome.
func EmitLiteratureLookup(sink statsd.Sink, source, result string, d time.Duration) {
	if sink == nil {
		return
	}
	tags := map[string]string{"source": source, "result": result}
	sink.Count("literature.lookup", 1, tags)
	if d > 0 {
		sink.Timing("literature.lookup.duration", d, CloneTags(tags))
	}
}

// EmitQueueDepth reports the number of jobs waiting for a worker.
func EmitQueueDepth(sink statsd.Sink, depth int) {
	if sink == nil {
		return
	}
	sink.Gauge("jobs.queue_depth", float64(depth), nil)
}

func addErrorClass(tags map[string]string, result string, err error) {
	if err == nil || result != ResultError {
		return
	}
	if class := obserrors.Classify(err); class != "" {
		tags["error_class"] = class
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}
