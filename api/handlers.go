package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/notigate/notigate/dispatch"
	"github.com/notigate/notigate/gateway"
	"github.com/notigate/notigate/policy"
)

type handlers struct {
	gw   *gateway.Gateway
	auth *Auth
}

type notificationRequest struct {
	Category string `json:"category"`
	// Legacy field name still sent by older clients.
	NotificationType string `json:"notification_type"`
	Recipient        string `json:"recipient"`
	Message          string `json:"message"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type ruleResponse struct {
	MaxCount      int `json:"max_count"`
	PeriodSeconds int `json:"period_seconds"`
}

// token exchanges admin credentials for a bearer token. Credentials arrive
// form-encoded, matching the original password flow.
func (h *handlers) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid form body")
		return
	}

	token, err := h.auth.IssueToken(r.PostFormValue("username"), r.PostFormValue("password"))
	if err != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (h *handlers) sendNotification(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	category := req.Category
	if category == "" {
		category = req.NotificationType
	}

	err := h.gw.Send(r.Context(), category, req.Recipient, req.Message)
	switch {
	case err == nil:
		writeSuccess(w, "Notification sent to "+strings.TrimSpace(req.Recipient))
	case gateway.IsRateLimitError(err):
		writeDetail(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, policy.ErrUnknownCategory):
		writeDetail(w, http.StatusBadRequest, "Unknown notification type: "+category)
	case errors.Is(err, gateway.ErrInvalidRecipient):
		writeDetail(w, http.StatusBadRequest, "Invalid recipient")
	case dispatch.IsDeliveryError(err):
		writeDetail(w, http.StatusBadGateway, "Notification delivery failed")
	default:
		log.Error().Err(err).Msg("send notification failed")
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
	}
}

// updateRateLimits applies a partial policy update. The body is a flat
// object of "<category>_count" and "<category>_period" integers; omitted
// fields keep their prior values.
func (h *handlers) updateRateLimits(w http.ResponseWriter, r *http.Request) {
	var body map[string]int
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updates := make(map[string]policy.Update)
	for field, value := range body {
		switch {
		case strings.HasSuffix(field, "_count"):
			category := strings.TrimSuffix(field, "_count")
			u := updates[category]
			u.MaxCount = &value
			updates[category] = u
		case strings.HasSuffix(field, "_period"):
			category := strings.TrimSuffix(field, "_period")
			u := updates[category]
			u.WindowSeconds = &value
			updates[category] = u
		default:
			writeDetail(w, http.StatusBadRequest, "unrecognized field: "+field)
			return
		}
	}
	if len(updates) == 0 {
		writeDetail(w, http.StatusBadRequest, "no rate limit fields supplied")
		return
	}

	for category, u := range updates {
		if err := h.gw.Limits().Update(category, u); err != nil {
			writeDetail(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	writeSuccess(w, "Rate limits updated successfully")
}

func (h *handlers) rateLimits(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.gw.Limits().Snapshot()
	out := make(map[string]ruleResponse, len(snapshot))
	for category, rule := range snapshot {
		out[category] = ruleResponse{
			MaxCount:      rule.MaxCount,
			PeriodSeconds: int(rule.Window / time.Second),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) clearNotifications(w http.ResponseWriter, r *http.Request) {
	if err := h.gw.Reset(r.Context()); err != nil {
		log.Error().Err(err).Msg("clear notifications failed")
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeSuccess(w, "All notifications cleared successfully")
}

func (h *handlers) usage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.gw.Usage(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("usage snapshot failed")
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, usage)
}
