package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/target/cognitriage-api/internal/service"
)

// LiteratureSearcher runs a standalone evidence lookup for a raw patient record.
type LiteratureSearcher interface {
	SearchJSON(ctx context.Context, raw []byte) (*service.LiteratureResult, error)
}

// LiteratureHandlers serves POST /api/literature.
type LiteratureHandlers struct {
	Svc    LiteratureSearcher
	Logger *slog.Logger
}

// Search handles a literature lookup request.
func (h *LiteratureHandlers) Search(w http.ResponseWriter, r *http.Request) {
	body, ok := ReadJSONBody(w, r)
	if !ok {
		return
	}

	res, err := h.Svc.SearchJSON(r.Context(), body)
	if err != nil {
		logger := h.Logger
		if logger == nil {
			logger = slog.Default()
		}
		writeServiceError(w, r, logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}
