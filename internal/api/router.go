package api

import (
	"net/http"

	"github.com/davidahmann/relia-bot/internal/metrics"
)

func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", h.Messages)
	mux.HandleFunc("GET /v1/sessions", h.ActiveSessions)
	mux.HandleFunc("POST /v1/requests", h.SubmitRequest)
	mux.HandleFunc("GET /v1/requests/{id}", h.GetRequest)
	mux.HandleFunc("POST /v1/requests/{id}/decision", h.Decide)
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}
