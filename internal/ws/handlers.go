package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/fabriz042/Chat-test/internal/httputil"
	"github.com/fabriz042/Chat-test/internal/logging"
)

// Handler upgrades HTTP connections to WebSocket and serves the push API
// other services use to reach live clients.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, allowedOrigins string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     OriginChecker(allowedOrigins),
		},
	}
}

// RegisterRoutes wires the WebSocket endpoint and the push API.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", h.ServeWS).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/send/user/{user_id}", h.SendToUser).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/broadcast", h.Broadcast).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/channels", h.ListChannels).Methods(http.MethodGet)
}

// ServeWS upgrades GET /ws and waits for the handshake frame
// {client_id, name, role, channel} before admitting the client. Callers are
// authenticated upstream.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already wrote the error response.
		return
	}
	log := logging.Component("ws")

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(handshakeWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		log.Info().Err(err).Msg("connection closed before handshake")
		conn.Close()
		return
	}
	hs, err := ParseHandshake(raw)
	if err != nil {
		h.refuse(conn, err)
		return
	}

	client := NewClient(conn)
	if _, err := h.hub.Connect(client, hs); err != nil {
		h.refuse(conn, err)
		return
	}

	go client.WritePump()
	go client.ReadPump(h.hub)
}

func (h *Handler) refuse(conn *websocket.Conn, cause error) {
	data, _ := json.Marshal(ErrorMessage{
		Type:      "error",
		Code:      CodeMalformedEnvelope,
		Message:   cause.Error(),
		Timestamp: time.Now().UTC(),
	})
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.TextMessage, data)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "handshake rejected"))
	conn.Close()
}

type pushRequest struct {
	Roles []string        `json:"roles"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// SendToUser handles POST /api/v1/send/user/{user_id}
func (h *Handler) SendToUser(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Event == "" {
		req.Event = "notification"
	}

	d, err := h.hub.PushToClient(mux.Vars(r)["user_id"], req.Event, req.Data)
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "user has no live connection")
		return
	case err != nil:
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	case d.Delivered == 0:
		httputil.WriteError(w, http.StatusServiceUnavailable, "delivery to live connection failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

// Broadcast handles POST /api/v1/broadcast
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Event == "" {
		req.Event = "notification"
	}
	if len(req.Roles) == 0 {
		req.Roles = []string{"all"}
	}

	d, err := h.hub.PushToRoles(req.Roles, req.Event, req.Data)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

// ListChannels handles GET /api/v1/channels
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	counts := h.hub.Registry().Counts()
	type channelView struct {
		Name    string `json:"name"`
		Members int    `json:"members"`
	}
	out := make([]channelView, 0, len(counts))
	for _, name := range h.hub.Registry().Channels() {
		out = append(out, channelView{Name: name, Members: counts[name]})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"channels": out,
		"clients":  h.hub.Registry().Len(),
	})
}
