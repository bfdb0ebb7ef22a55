package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/target/cognitriage-api/internal/errors"
)

var statusByCode = map[apperrors.ErrorCode]int{
	apperrors.ErrCodeValidation:  http.StatusBadRequest,
	apperrors.ErrCodeNotFound:    http.StatusNotFound,
	apperrors.ErrCodeConflict:    http.StatusConflict,
	apperrors.ErrCodeUnavailable: http.StatusServiceUnavailable,
	apperrors.ErrCodeTimeout:     http.StatusGatewayTimeout,
	apperrors.ErrCodeCanceled:    http.StatusConflict,
}

// StatusForError maps an application error to its HTTP status. Errors that are
// not AppErrors are internal.
func StatusForError(err error) int {
	if status, ok := statusByCode[apperrors.GetCode(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeServiceError renders err as a JSON error. Internal failures are logged and
// their details withheld from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := StatusForError(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		WriteError(w, ErrorParams{Code: status, ErrCode: "internal_error", Err: errors.New("internal server error")})
		return
	}

	code := string(apperrors.GetCode(err))
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Field != "" {
		WriteJSON(w, status, map[string]string{"error": code, "message": appErr.Error(), "field": appErr.Field})
		return
	}
	WriteError(w, ErrorParams{Code: status, ErrCode: code, Err: err})
}
