package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"
)

// Projection shapes the final job result from the stage outputs with a JMESPath
// expression evaluated over {stageName: output}.
type Projection struct {
	expr     string
	compiled jmespath.JMESPath
}

// NewProjection compiles expr once; Apply reuses the compiled form.
func NewProjection(expr string) (*Projection, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("result projection is required")
	}
	compiled, err := jmespath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile result projection: %w", err)
	}
	return &Projection{expr: expr, compiled: compiled}, nil
}

// Expression returns the JMESPath source.
func (p *Projection) Expression() string { return p.expr }

// Apply evaluates the projection and returns the JSON-encoded result.
func (p *Projection) Apply(outputs *Outputs) (json.RawMessage, error) {
	docs, err := outputs.Documents()
	if err != nil {
		return nil, err
	}
	v, err := p.compiled.Search(docs)
	if err != nil {
		return nil, fmt.Errorf("evaluate result projection: %w", err)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return raw, nil
}
