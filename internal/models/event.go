package models

import "time"

// Event types emitted to live connections.
const (
	EventMessageNew       = "message:new"
	EventMessageSentAck   = "message:sent-ack"
	EventMessageDelivered = "message:delivered"
	EventMessageRead      = "message:read"
	EventPresenceUpdate   = "presence:update"
)

// Event is the envelope written to a websocket connection.
type Event struct {
	Type        string          `json:"type"`
	Message     *Message        `json:"message,omitempty"`
	MessageID   string          `json:"message_id,omitempty"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
	ReadAt      *time.Time      `json:"read_at,omitempty"`
	Presence    *PresenceUpdate `json:"presence,omitempty"`
}

// PresenceUpdate announces an online/offline transition of a user.
type PresenceUpdate struct {
	UserID   string     `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}
