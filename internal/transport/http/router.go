package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// NewRouter wires the REST API and the attempt WebSocket onto one handler.
func NewRouter(api *API, ws *WSHandler, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/questions", api.handleListQuestions)
		r.Get("/questions/{id}", api.handleGetQuestion)
		r.Get("/sessions", api.handleListSessions)
		r.Post("/sessions", api.handleCreateSession)
		r.Get("/sessions/{id}", api.handleGetSession)
		r.Post("/sessions/{id}/answers", api.handleSubmitAnswer)
		r.Post("/sessions/{id}/finish", api.handleFinishSession)
		r.Get("/sessions/{id}/review", api.handleReview)
		r.Get("/sessions/{id}/summary", api.handleSummary)
	})

	if ws != nil {
		r.Get("/ws/attempt", ws.ServeWS)
	}
	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			evt := log.Debug()
			if ww.Status() >= 500 {
				evt = log.Error()
			}
			evt.Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}
