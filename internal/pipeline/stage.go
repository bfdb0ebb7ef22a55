// Package pipeline runs an ordered set of stages against one triage request and
// records every transition in the job store.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/target/cognitriage-api/internal/domain/model"
)

var (
	// ErrUnknownStage is returned when an output is requested for a stage that has not run.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrStagePanic marks a stage failure recovered from a panic.
	ErrStagePanic = errors.New("stage panicked")
)

// Stage is one named unit of work in the pipeline. Run must not mutate in.
type Stage interface {
	Name() string
	Run(ctx context.Context, in Input) (any, error)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, in Input) (any, error)
}

// Name implements Stage.
func (f StageFunc) Name() string { return f.StageName }

// Run implements Stage.
func (f StageFunc) Run(ctx context.Context, in Input) (any, error) { return f.Fn(ctx, in) }

// Input is what every stage receives: the original request and the outputs of
// the stages that already completed.
type Input struct {
	Request *model.TriageRequest
	Outputs *Outputs
}

// Outputs holds the typed results of completed stages in execution order.
type Outputs struct {
	names  []string
	values map[string]any
}

// NewOutputs returns an empty output set.
func NewOutputs() *Outputs {
	return &Outputs{values: make(map[string]any)}
}

// Set records the output of a stage. Setting the same stage twice keeps its original position.
func (o *Outputs) Set(name string, value any) {
	if _, ok := o.values[name]; !ok {
		o.names = append(o.names, name)
	}
	o.values[name] = value
}

// Get returns the raw output of a stage.
func (o *Outputs) Get(name string) (any, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.values[name]
	return v, ok
}

// Names returns completed stage names in execution order.
func (o *Outputs) Names() []string {
	if o == nil {
		return nil
	}
	return append([]string(nil), o.names...)
}

// Documents returns every output as a generic JSON document keyed by stage name,
// the shape expected by JMESPath evaluation.
func (o *Outputs) Documents() (map[string]any, error) {
	docs := make(map[string]any, len(o.names))
	for _, name := range o.names {
		raw, err := json.Marshal(o.values[name])
		if err != nil {
			return nil, fmt.Errorf("marshal %s output: %w", name, err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode %s output: %w", name, err)
		}
		docs[name] = doc
	}
	return docs, nil
}

// Lookup returns the output of stage name as T.
func Lookup[T any](o *Outputs, name string) (T, error) {
	var zero T
	v, ok := o.Get(name)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("stage %s output has type %T, want %T", name, v, zero)
	}
	return typed, nil
}

// StageError wraps a failure raised by a stage.
type StageError struct {
	Stage string
	Err   error
}

// Error renders "<stage>: <message>", the text stored on failed jobs.
func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

// Unwrap returns the underlying stage error.
func (e *StageError) Unwrap() error { return e.Err }

// ErrorClass implements the metrics error classifier.
func (e *StageError) ErrorClass() string {
	if errors.Is(e.Err, ErrStagePanic) {
		return "stage_panic"
	}
	return "stage_error"
}
