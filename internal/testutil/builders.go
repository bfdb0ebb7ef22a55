// Package testutil provides testing utilities and helpers for the triage job system.
package testutil

import (
	"time"

	"github.com/target/cognitriage-api/internal/domain/model"
)

// TriageRequestBuilder provides a fluent interface for building TriageRequest objects for testing.
type TriageRequestBuilder struct {
	req *model.TriageRequest
}

// NewTriageRequest creates a builder with one NIfTI file, a normal score and a 70 year old patient.
func NewTriageRequest() *TriageRequestBuilder {
	return &TriageRequestBuilder{
		req: &model.TriageRequest{
			Files:    []model.UploadedFile{{Name: "scan.nii.gz", Size: 1024}},
			Score:    model.Record{"total": float64(28)},
			Metadata: model.Record{"age": float64(70), "sex": "F"},
		},
	}
}

// WithFiles replaces the uploaded file names.
func (b *TriageRequestBuilder) WithFiles(names ...string) *TriageRequestBuilder {
	b.req.Files = make([]model.UploadedFile, len(names))
	for i, n := range names {
		b.req.Files[i] = model.UploadedFile{Name: n, Size: 1024}
	}
	return b
}

// WithScore sets the cognitive test total.
func (b *TriageRequestBuilder) WithScore(total float64) *TriageRequestBuilder {
	b.req.Score["total"] = total
	return b
}

// WithoutScore removes the cognitive test total.
func (b *TriageRequestBuilder) WithoutScore() *TriageRequestBuilder {
	delete(b.req.Score, "total")
	return b
}

// WithAge sets the patient age.
func (b *TriageRequestBuilder) WithAge(age float64) *TriageRequestBuilder {
	b.req.Metadata["age"] = age
	return b
}

// WithMeta sets an arbitrary metadata field.
func (b *TriageRequestBuilder) WithMeta(key string, value any) *TriageRequestBuilder {
	b.req.Metadata[key] = value
	return b
}

// Build returns the built request.
func (b *TriageRequestBuilder) Build() *model.TriageRequest {
	return b.req
}

// TestTime returns a fixed time for testing.
func TestTime() time.Time {
	return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
}

// StringPtr returns a pointer to the given string value.
func StringPtr(s string) *string {
	return &s
}
