package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/example/chat-gateway/internal/auth"
)

// Handler accepts websocket handshakes on the chat endpoint. The token is
// checked before the upgrade so an unauthenticated client is refused with a
// plain 401 and never gets a socket.
type Handler struct {
	validator *auth.Validator
	relay     *Relay
	upgrader  websocket.Upgrader
}

func NewHandler(validator *auth.Validator, relay *Relay) *Handler {
	return &Handler{
		validator: validator,
		relay:     relay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.validator.Validate(r.URL.Query().Get("token"))
	if err != nil {
		slog.Info("Refused websocket handshake", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		slog.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(conn, identity.Subject)
	if err := h.relay.Connect(r.Context(), c); err != nil {
		slog.Error("Failed to register connection", "conn", c.id, "error", err)
		conn.Close()
		return
	}
	slog.Info("Client connected", "conn", c.id, "user", identity.Subject, "remote", r.RemoteAddr)

	if frame, err := encodeFrame(EventConnected, ConnectedPayload{UserID: identity.Subject}); err == nil {
		c.enqueue(frame)
	}

	go c.writePump()
	go c.readPump(h)
}

// dispatch routes one inbound frame to the relay operation for its event
// name. Unknown events and rejected operations come back to the sender as an
// error frame; they never close the connection.
func (h *Handler) dispatch(c *Client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.sendError(c, "bad_frame", "frame is not valid JSON")
		return
	}

	ctx := context.Background()
	switch frame.Event {
	case EventJoinRoom:
		var req RoomRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil || req.RoomID == "" {
			h.sendError(c, "bad_payload", "join_room requires a roomId")
			return
		}
		if err := h.relay.Join(ctx, c, req.RoomID); err != nil {
			h.relayError(c, err)
		}
	case EventLeaveRoom:
		var req RoomRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil || req.RoomID == "" {
			h.sendError(c, "bad_payload", "leave_room requires a roomId")
			return
		}
		if err := h.relay.Leave(ctx, c, req.RoomID); err != nil {
			h.relayError(c, err)
		}
	case EventChatMessage:
		var msg ChatInbound
		if err := json.Unmarshal(frame.Data, &msg); err != nil || msg.RoomID == "" {
			h.sendError(c, "bad_payload", "chat_message requires a roomId")
			return
		}
		if err := h.relay.Send(ctx, c, msg.RoomID, msg.Text); err != nil {
			h.relayError(c, err)
		}
	case EventHeartbeat:
		h.relay.Heartbeat(ctx, c)
	default:
		h.sendError(c, "unknown_event", "unsupported event: "+frame.Event)
	}
}

func (h *Handler) relayError(c *Client, err error) {
	switch {
	case errors.Is(err, ErrNotJoined):
		h.sendError(c, "not_joined", "join the room before sending to it")
	case errors.Is(err, ErrBadRoom):
		h.sendError(c, "bad_room", "room id contains invalid characters")
	default:
		slog.Warn("Relay operation failed", "conn", c.id, "user", c.identity, "error", err)
		h.sendError(c, "internal", "operation failed")
	}
}

func (h *Handler) sendError(c *Client, code, message string) {
	frame, err := encodeFrame(EventError, ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

// disconnect runs when the read pump exits: cascade room cleanup, then stop
// the write pump.
func (h *Handler) disconnect(c *Client) {
	h.relay.Disconnect(context.Background(), c)
	c.close()
	slog.Info("Client disconnected", "conn", c.id, "user", c.identity)
}
