package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/vuelogic/schedule-agent/internal/middleware"
)

func NewRouter(h *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)       // Basic request logging
	r.Use(chimiddleware.Recoverer)    // Recover from panics
	r.Use(chimiddleware.StripSlashes) // Ensure consistent path handling
	r.Use(middleware.CORS)

	r.Get("/health", h.HealthHandler)
	r.Options("/health", preflight(http.MethodGet))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.StatusHandler)
		r.Options("/status", preflight(http.MethodGet))

		r.Post("/chat", h.ChatHandler)
		r.Options("/chat", preflight(http.MethodPost))

		r.Get("/conversation", h.ConversationHandler)
		r.Options("/conversation", preflight(http.MethodGet))

		r.Get("/lessons", h.GetLessonsHandler)
		r.Post("/lessons", h.AppendLessonHandler)
		r.Options("/lessons", preflight(http.MethodGet, http.MethodPost))

		r.Get("/trust_score", h.GetTrustScoreHandler)
		r.Post("/trust_score", h.RecordProposalHandler)
		r.Options("/trust_score", preflight(http.MethodGet, http.MethodPost))

		r.Get("/files", h.ListFilesHandler)
		r.Post("/files", h.UploadFileHandler)
		r.Delete("/files", h.DeleteFileHandler)
		r.Options("/files", preflight(http.MethodGet, http.MethodPost, http.MethodDelete))

		// Kept for clients that post uploads to a dedicated route.
		r.Post("/upload", h.UploadFileHandler)
		r.Options("/upload", preflight(http.MethodPost))
	})

	return r
}

// preflight answers an OPTIONS request with the route's allowed methods.
func preflight(methods ...string) http.HandlerFunc {
	allowed := strings.Join(append(methods, http.MethodOptions), ", ")
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", allowed)
		w.WriteHeader(http.StatusNoContent)
	}
}
