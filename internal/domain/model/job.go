// Package model defines the core data types shared by the triage job system.
package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a triage job.
type JobStatus string

// StageStatus represents the lifecycle state of one pipeline stage within a job.
type StageStatus string

const (
	// JobStatusQueued indicates a job was accepted and is waiting for a worker.
	JobStatusQueued JobStatus = "QUEUED"
	// JobStatusRunning indicates a worker is executing the job's stages.
	JobStatusRunning JobStatus = "RUNNING"
	// JobStatusCompleted indicates every stage finished and the result is available.
	JobStatusCompleted JobStatus = "COMPLETED"
	// JobStatusFailed indicates a stage failed or the run was interrupted.
	JobStatusFailed JobStatus = "FAILED"

	// StageStatusPending indicates the stage has not started.
	StageStatusPending StageStatus = "PENDING"
	// StageStatusRunning indicates the stage is executing.
	StageStatusRunning StageStatus = "RUNNING"
	// StageStatusDone indicates the stage produced its output.
	StageStatusDone StageStatus = "DONE"
	// StageStatusFailed indicates the stage raised an error.
	StageStatusFailed StageStatus = "FAILED"
)

// MaxProgress is the progress value reported by completed jobs.
const MaxProgress = 100

var (
	// ErrJobTerminal is returned when a mutation targets a job that already finished.
	ErrJobTerminal = errors.New("job is in a terminal state")
	// ErrJobNotFound is returned when a job id is unknown.
	ErrJobNotFound = errors.New("job not found")
)

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusQueued || s == JobStatusRunning || s == JobStatusCompleted ||
		s == JobStatusFailed
}

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) rank() int {
	switch s {
	case JobStatusQueued:
		return 0
	case JobStatusRunning:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	default:
		return -1
	}
}

// Valid returns true if the StageStatus is valid.
func (s StageStatus) Valid() bool {
	return s == StageStatusPending || s == StageStatusRunning || s == StageStatusDone ||
		s == StageStatusFailed
}

// Terminal reports whether the stage finished, successfully or not.
func (s StageStatus) Terminal() bool {
	return s == StageStatusDone || s == StageStatusFailed
}

func (s StageStatus) rank() int {
	switch s {
	case StageStatusPending:
		return 0
	case StageStatusRunning:
		return 1
	case StageStatusDone, StageStatusFailed:
		return 2
	default:
		return -1
	}
}

// StageState is the per-stage record of a job.
type StageState struct {
	Name        string          `json:"-"`
	Status      StageStatus     `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// StageStates keeps stage records in execution order.
// It serializes as a JSON object keyed by stage name, preserving that order.
type StageStates []StageState

// Get returns a pointer to the named stage, or nil.
func (s StageStates) Get(name string) *StageState {
	for i := range s {
		if s[i].Name == name {
			return &s[i]
		}
	}
	return nil
}

// Names returns the stage names in execution order.
func (s StageStates) Names() []string {
	names := make([]string, len(s))
	for i := range s {
		names[i] = s[i].Name
	}
	return names
}

// MarshalJSON implements json.Marshaler.
func (s StageStates) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, st := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(st.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(st)
		if err != nil {
			return nil, fmt.Errorf("marshal stage %s: %w", st.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, keeping the document's key order.
func (s *StageStates) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("stage states must be a JSON object")
	}
	var out StageStates
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := keyTok.(string)
		var st StageState
		if err := dec.Decode(&st); err != nil {
			return fmt.Errorf("decode stage %s: %w", name, err)
		}
		st.Name = name
		out = append(out, st)
	}
	*s = out
	return nil
}

// Job is the mutable execution record of one submitted triage request.
type Job struct {
	ID          string          `json:"id"`
	Status      JobStatus       `json:"status"`
	Progress    int             `json:"progress"`
	Stages      StageStates     `json:"agents"`
	Result      json.RawMessage `json:"result"`
	Error       *string         `json:"error"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// NewJob builds a queued job with every stage pending.
func NewJob(id string, stageNames []string, now time.Time) *Job {
	stages := make(StageStates, len(stageNames))
	for i, name := range stageNames {
		stages[i] = StageState{Name: name, Status: StageStatusPending}
	}
	return &Job{
		ID:        id,
		Status:    JobStatusQueued,
		Stages:    stages,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy that shares no mutable memory with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Stages = make(StageStates, len(j.Stages))
	for i, st := range j.Stages {
		st.Output = cloneRaw(st.Output)
		st.StartedAt = cloneTime(st.StartedAt)
		st.CompletedAt = cloneTime(st.CompletedAt)
		cp.Stages[i] = st
	}
	cp.Result = cloneRaw(j.Result)
	if j.Error != nil {
		msg := *j.Error
		cp.Error = &msg
	}
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	return &cp
}

// Validate checks the invariants that must hold for any stored job.
func (j *Job) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("job id is required")
	}
	if !j.Status.Valid() {
		return fmt.Errorf("invalid job status %q", j.Status)
	}
	if j.Progress < 0 || j.Progress > MaxProgress {
		return fmt.Errorf("progress %d out of range", j.Progress)
	}
	if (j.Progress == MaxProgress) != (j.Status == JobStatusCompleted) {
		return fmt.Errorf("progress %d inconsistent with status %s", j.Progress, j.Status)
	}
	if (len(j.Result) > 0) != (j.Status == JobStatusCompleted) {
		return fmt.Errorf("result must be set only when job is %s", JobStatusCompleted)
	}
	if (j.Error != nil) != (j.Status == JobStatusFailed) {
		return fmt.Errorf("error must be set only when job is %s", JobStatusFailed)
	}

	running := 0
	seen := make(map[string]struct{}, len(j.Stages))
	for _, st := range j.Stages {
		if !st.Status.Valid() {
			return fmt.Errorf("stage %s: invalid status %q", st.Name, st.Status)
		}
		if _, dup := seen[st.Name]; dup {
			return fmt.Errorf("duplicate stage %s", st.Name)
		}
		seen[st.Name] = struct{}{}
		if st.Status == StageStatusRunning {
			running++
		}
	}
	if running > 1 {
		return fmt.Errorf("%d stages running, at most one allowed", running)
	}
	if running == 1 && j.Status != JobStatusRunning {
		return fmt.Errorf("stage running while job is %s", j.Status)
	}
	return nil
}

// ValidateTransition checks that next is a legal successor of prev.
func ValidateTransition(prev, next *Job) error {
	if prev.Status.Terminal() {
		return ErrJobTerminal
	}
	if next.ID != prev.ID {
		return errors.New("job id is immutable")
	}
	if !next.CreatedAt.Equal(prev.CreatedAt) {
		return errors.New("created_at is immutable")
	}
	if next.Status.rank() < prev.Status.rank() {
		return fmt.Errorf("illegal status transition %s -> %s", prev.Status, next.Status)
	}
	if next.Progress < prev.Progress {
		return fmt.Errorf("progress cannot decrease (%d -> %d)", prev.Progress, next.Progress)
	}
	if len(next.Stages) != len(prev.Stages) {
		return errors.New("stage list is immutable")
	}
	for i := range prev.Stages {
		before, after := prev.Stages[i], next.Stages[i]
		if before.Name != after.Name {
			return errors.New("stage order is immutable")
		}
		if before.Status.Terminal() && after.Status != before.Status {
			return fmt.Errorf("stage %s already %s", before.Name, before.Status)
		}
		if after.Status.rank() < before.Status.rank() {
			return fmt.Errorf("stage %s: illegal transition %s -> %s", before.Name, before.Status, after.Status)
		}
	}
	return nil
}

// ErrorMessage returns the failure description or an empty string.
func (j *Job) ErrorMessage() string {
	if j.Error == nil {
		return ""
	}
	return *j.Error
}

// JobStats counts jobs per status.
type JobStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Total returns the number of jobs counted.
func (s JobStats) Total() int {
	return s.Queued + s.Running + s.Completed + s.Failed
}

// Add increments the counter for status.
func (s *JobStats) Add(status JobStatus) {
	switch status {
	case JobStatusQueued:
		s.Queued++
	case JobStatusRunning:
		s.Running++
	case JobStatusCompleted:
		s.Completed++
	case JobStatusFailed:
		s.Failed++
	}
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	cp := make(json.RawMessage, len(raw))
	copy(cp, raw)
	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
