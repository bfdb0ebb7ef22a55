// Package httpx provides the HTTP handlers and middleware for the cognitriage API.
package httpx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/target/cognitriage-api/internal/domain/model"
	"github.com/target/cognitriage-api/internal/service"
)

const (
	// DefaultMaxUploadBytes caps a submission's multipart body.
	DefaultMaxUploadBytes int64 = 64 << 20
	multipartMemory       int64 = 8 << 20

	formFieldFiles = "files"
	formFieldScore = "moca"
	formFieldMeta  = "meta"
)

// Submitter accepts and cancels triage jobs.
type Submitter interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*model.Job, error)
	Cancel(ctx context.Context, id string) (*model.Job, error)
}

// JobQuerier serves job snapshots.
type JobQuerier interface {
	Status(ctx context.Context, id string) (*service.JobStatusView, error)
	Result(ctx context.Context, id string) (*service.JobResultView, error)
}

// JobHandlers provides HTTP handlers for triage job operations.
type JobHandlers struct {
	Submission     Submitter
	Query          JobQuerier
	MaxUploadBytes int64
	Logger         *slog.Logger
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type cancelResponse struct {
	JobID  string          `json:"job_id"`
	Status model.JobStatus `json:"status"`
}

// Submit handles multipart triage submissions.
func (h *JobHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, ErrorParams{Code: http.StatusRequestEntityTooLarge, ErrCode: "payload_too_large", Err: err})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_form", Err: err})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	job, err := h.Submission.Submit(r.Context(), service.SubmitRequest{
		Files:        uploadedFiles(r.MultipartForm.File[formFieldFiles]),
		ScoreJSON:    formValue(r.MultipartForm, formFieldScore),
		MetadataJSON: formValue(r.MultipartForm, formFieldMeta),
	})
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusOK, submitResponse{JobID: job.ID})
}

// Status handles GET /api/status/{id}.
func (h *JobHandlers) Status(w http.ResponseWriter, r *http.Request) {
	view, err := h.Query.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// Result handles GET /api/result/{id}.
func (h *JobHandlers) Result(w http.ResponseWriter, r *http.Request) {
	view, err := h.Query.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// Cancel handles POST /api/cancel/{id}.
func (h *JobHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.Submission.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusAccepted, cancelResponse{JobID: job.ID, Status: job.Status})
}

func (h *JobHandlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// uploadedFiles records the descriptors of the uploaded parts. File contents are
// not read; stages work from names and sizes.
func uploadedFiles(headers []*multipart.FileHeader) []model.UploadedFile {
	files := make([]model.UploadedFile, 0, len(headers))
	for _, fh := range headers {
		files = append(files, model.UploadedFile{
			Name:        fh.Filename,
			Size:        fh.Size,
			ContentType: fh.Header.Get("Content-Type"),
		})
	}
	return files
}

func formValue(form *multipart.Form, key string) []byte {
	if vals := form.Value[key]; len(vals) > 0 {
		return []byte(vals[0])
	}
	// Clients sometimes send JSON fields as file parts.
	if fhs := form.File[key]; len(fhs) > 0 {
		return readFilePart(fhs[0])
	}
	return nil
}

func readFilePart(fh *multipart.FileHeader) []byte {
	if fh.Size > maxJSONBodyBytes {
		return nil
	}
	f, err := fh.Open()
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()
	buf := make([]byte, fh.Size)
	n, _ := io.ReadFull(f, buf)
	return buf[:n]
}
