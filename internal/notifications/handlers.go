package notifications

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/fabriz042/Chat-test/internal/httputil"
)

// Handlers provides HTTP handlers for the notifications API.
type Handlers struct {
	orchestrator *Orchestrator
}

func NewHandlers(o *Orchestrator) *Handlers {
	return &Handlers{orchestrator: o}
}

// RegisterRoutes wires the notification endpoints onto the provided router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/notifications/user", h.SendToUser).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/notifications/broadcast", h.Broadcast).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/notifications/status/{id}", h.GetStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/notifications/user/{user_id}", h.ListForUser).Methods(http.MethodGet)
}

type acceptedResponse struct {
	NotificationID string `json:"notification_id"`
	Status         string `json:"status"`
}

// SendToUser handles POST /api/v1/notifications/user
func (h *Handlers) SendToUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.orchestrator.AcceptUser(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, acceptedResponse{NotificationID: t.ID, Status: "accepted"})
}

// Broadcast handles POST /api/v1/notifications/broadcast
func (h *Handlers) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.orchestrator.AcceptBroadcast(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, acceptedResponse{NotificationID: t.ID, Status: "accepted"})
}

// GetStatus handles GET /api/v1/notifications/status/{id}
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	n, err := h.orchestrator.GetStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, n)
}

// ListForUser handles GET /api/v1/notifications/user/{user_id}?limit=
func (h *Handlers) ListForUser(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			httputil.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = v
	}

	list, err := h.orchestrator.ListForUser(r.Context(), mux.Vars(r)["user_id"], limit)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"notifications": list})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidChannelSet), errors.Is(err, ErrInvalidRequest):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUpstreamUnavailable):
		httputil.WriteError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, ErrShuttingDown):
		httputil.WriteError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httputil.WriteError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
