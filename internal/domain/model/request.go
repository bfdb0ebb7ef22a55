package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Record is a free-form structured record decoded from a JSON object
// (the test-score payload and the demographic metadata).
type Record map[string]any

// Number returns the numeric value stored under key.
// JSON numbers and numeric strings are accepted.
func (r Record) Number(key string) (float64, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// NumberOr returns the numeric value under key or fallback.
func (r Record) NumberOr(key string, fallback float64) float64 {
	if v, ok := r.Number(key); ok {
		return v
	}
	return fallback
}

// String returns the string value stored under key.
func (r Record) String(key string) (string, bool) {
	v, ok := r[key].(string)
	return v, ok
}

// StringOr returns the non-empty string under key or fallback.
func (r Record) StringOr(key, fallback string) string {
	if v, ok := r.String(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

// Bool returns the boolean value stored under key.
func (r Record) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	default:
		return false
	}
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return Record{}
	}
	cp := make(Record, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

// UploadedFile describes one uploaded scan file. Contents are not retained.
type UploadedFile struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
}

// TriageRequest is the original payload handed to every stage.
type TriageRequest struct {
	Files    []UploadedFile `json:"files"`
	Score    Record         `json:"moca"`
	Metadata Record         `json:"meta"`
}

// FileNames returns the uploaded file names in submission order.
func (r *TriageRequest) FileNames() []string {
	names := make([]string, len(r.Files))
	for i, f := range r.Files {
		names[i] = f.Name
	}
	return names
}

// Citation is one supporting literature reference.
type Citation struct {
	Title    string `json:"title"`
	Source   string `json:"source"`
	Year     string `json:"year,omitempty"`
	Link     string `json:"link"`
	Strength string `json:"strength"`
	PMID     string `json:"pmid,omitempty"`
}
