package httpx

import (
	"errors"
	"log/slog"
	"net/http"
)

// RouterServices contains the dependencies needed by the HTTP router.
type RouterServices struct {
	Submission Submitter
	Query      JobQuerier
	Literature LiteratureSearcher

	MaxUploadBytes     int64    // Multipart body cap for /api/submit (optional)
	CORSAllowedOrigins []string // Empty or "*" allows every origin
	Logger             *slog.Logger
}

// NewRouter creates the API router wrapped in CORS handling.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	registerJobRoutes(mux, &JobHandlers{
		Submission:     services.Submission,
		Query:          services.Query,
		MaxUploadBytes: services.MaxUploadBytes,
		Logger:         logger,
	})
	if services.Literature != nil {
		registerLiteratureRoutes(mux, &LiteratureHandlers{Svc: services.Literature, Logger: logger})
	}
	mux.Handle("/", http.HandlerFunc(notFoundHandler))

	return CORS(services.CORSAllowedOrigins)(mux)
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	if h.Submission != nil {
		mux.HandleFunc("POST /api/submit", h.Submit)
		mux.HandleFunc("POST /api/cancel/{id}", h.Cancel)
	}
	if h.Query != nil {
		mux.HandleFunc("GET /api/status/{id}", h.Status)
		mux.HandleFunc("GET /api/result/{id}", h.Result)
	}
}

func registerLiteratureRoutes(mux *http.ServeMux, h *LiteratureHandlers) {
	mux.HandleFunc("POST /api/literature", h.Search)
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, ErrorParams{
		Code:    http.StatusNotFound,
		ErrCode: "not_found",
		Err:     errors.New("no route for " + r.Method + " " + r.URL.Path),
	})
}
