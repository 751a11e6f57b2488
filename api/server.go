// Package api exposes the gateway over HTTP: notification sends, runtime
// rate limit administration, usage reporting and token issuance.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/notigate/notigate/gateway"
)

// NewRouter builds the HTTP surface. Everything except /token requires an
// admin bearer token.
func NewRouter(gw *gateway.Gateway, auth *Auth) http.Handler {
	h := &handlers{gw: gw, auth: auth}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/token", h.token)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Post("/send-notification/", h.sendNotification)
		r.Put("/rate-limits/", h.updateRateLimits)
		r.Get("/rate-limits/", h.rateLimits)
		r.Delete("/notifications", h.clearNotifications)
		r.Delete("/notifications/", h.clearNotifications)
		r.Get("/usage/", h.usage)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeDetail mirrors the {"detail": ...} error body shape clients of the
// original service already parse.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeSuccess(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": message})
}
