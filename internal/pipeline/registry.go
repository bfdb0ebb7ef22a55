package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/target/cognitriage-api/internal/domain/model"
)

// Definition registers a stage with its declared dependencies and the job
// progress reached once it completes.
type Definition struct {
	Stage      Stage
	DependsOn  []string
	Checkpoint int
}

// Name returns the stage name.
func (d Definition) Name() string { return d.Stage.Name() }

// Registry is the ordered, fixed list of stages a job runs.
type Registry struct {
	defs []Definition
}

// NewRegistry registers defs in order.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustNewRegistry is like NewRegistry but panics on error.
func MustNewRegistry(defs ...Definition) *Registry {
	r, err := NewRegistry(defs...)
	if err != nil {
		//nolint:forbidigo // Must* constructor intentionally panics on invalid wiring
		panic(err)
	}
	return r
}

// Register appends a stage. Names must be unique, dependencies must name earlier
// stages, and checkpoints must increase strictly.
func (r *Registry) Register(d Definition) error {
	if d.Stage == nil {
		return errors.New("stage is required")
	}
	name := strings.TrimSpace(d.Stage.Name())
	if name == "" {
		return errors.New("stage name is required")
	}
	if r.index(name) >= 0 {
		return fmt.Errorf("stage %s already registered", name)
	}
	for _, dep := range d.DependsOn {
		if r.index(dep) < 0 {
			return fmt.Errorf("stage %s depends on %s, which is not registered before it", name, dep)
		}
	}
	if d.Checkpoint <= 0 || d.Checkpoint > model.MaxProgress {
		return fmt.Errorf("stage %s: checkpoint %d out of range (1-%d)", name, d.Checkpoint, model.MaxProgress)
	}
	if n := len(r.defs); n > 0 && d.Checkpoint <= r.defs[n-1].Checkpoint {
		return fmt.Errorf("stage %s: checkpoint %d must exceed %d", name, d.Checkpoint, r.defs[n-1].Checkpoint)
	}

	d.DependsOn = slices.Clone(d.DependsOn)
	r.defs = append(r.defs, d)
	return nil
}

// Validate checks that the registry can run a job to completion.
func (r *Registry) Validate() error {
	if len(r.defs) == 0 {
		return errors.New("registry has no stages")
	}
	if last := r.defs[len(r.defs)-1]; last.Checkpoint != model.MaxProgress {
		return fmt.Errorf("final stage %s must reach progress %d, got %d",
			last.Name(), model.MaxProgress, last.Checkpoint)
	}
	return nil
}

// Names returns the stage names in execution order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.defs))
	for i, d := range r.defs {
		names[i] = d.Name()
	}
	return names
}

// Definitions returns a copy of the registered definitions in execution order.
func (r *Registry) Definitions() []Definition {
	return slices.Clone(r.defs)
}

func (r *Registry) index(name string) int {
	return slices.IndexFunc(r.defs, func(d Definition) bool { return d.Name() == name })
}
