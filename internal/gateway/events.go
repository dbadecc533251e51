package gateway

import (
	"encoding/json"
	"fmt"
)

// Inbound event names (client → gateway).
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventChatMessage = "chat_message"
	EventHeartbeat   = "heartbeat"
)

// Outbound event names (gateway → client).
const (
	EventConnected = "connected"
	EventRoomUsers = "room_users"
	EventError     = "error"
)

// Frame is the wire envelope for every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomRequest is the payload of join_room and leave_room.
type RoomRequest struct {
	RoomID string `json:"roomId"`
}

// ChatInbound is the payload of an inbound chat_message.
type ChatInbound struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

// ConnectedPayload acknowledges a successful handshake to the connecting
// client only.
type ConnectedPayload struct {
	UserID string `json:"userId"`
}

// RoomUsersPayload carries the refreshed roster of a room.
type RoomUsersPayload struct {
	RoomID string   `json:"roomId"`
	Users  []string `json:"users"`
}

// ChatOutbound is the payload of an outbound chat_message.
type ChatOutbound struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

// ErrorPayload reports a rejected operation to the offending client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: data})
}
