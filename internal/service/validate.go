package service

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/target/cognitriage-api/internal/domain/model"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Record kinds understood by RecordValidator.
const (
	RecordScore    = "score"
	RecordMetadata = "meta"
	RecordPatient  = "patient"
)

var schemaFiles = map[string]string{
	RecordScore:    "score.json",
	RecordMetadata: "meta.json",
	RecordPatient:  "patient.json",
}

// RecordValidator decodes JSON records and checks them against the embedded JSON Schemas.
type RecordValidator struct {
	schemas map[string]*jsonschema.Schema
}

// NewRecordValidator compiles the embedded schemas.
func NewRecordValidator() (*RecordValidator, error) {
	compiler := jsonschema.NewCompiler()
	for kind, file := range schemaFiles {
		raw, err := schemaFS.ReadFile("schemas/" + file)
		if err != nil {
			return nil, fmt.Errorf("read %s schema: %w", kind, err)
		}
		if err := compiler.AddResource(file, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", kind, err)
		}
	}

	v := &RecordValidator{schemas: make(map[string]*jsonschema.Schema, len(schemaFiles))}
	for kind, file := range schemaFiles {
		schema, err := compiler.Compile(file)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", kind, err)
		}
		v.schemas[kind] = schema
	}
	return v, nil
}

// Decode parses data as a JSON object and validates it as kind.
func (v *RecordValidator) Decode(kind string, data []byte) (model.Record, error) {
	schema, ok := v.schemas[kind]
	if !ok {
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("record is empty")
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", kind, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%s does not match schema: %w", kind, err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a JSON object", kind)
	}
	return model.Record(obj), nil
}
