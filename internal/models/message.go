package models

import "time"

// Message is a direct message. Exactly one of Content and ImageRef is set.
// All fields are immutable after creation except the delivery/read stamps
// and per-user hiding, which live in the ledger.
type Message struct {
	ID             string     `db:"id" json:"id"`
	ConversationID string     `db:"conversation_id" json:"conversation_id"`
	SenderID       string     `db:"sender_id" json:"sender_id"`
	ReceiverID     string     `db:"receiver_id" json:"receiver_id"`
	Content        *string    `db:"content" json:"content,omitempty"`
	ImageRef       *string    `db:"image_ref" json:"image_ref,omitempty"`
	SentAt         time.Time  `db:"sent_at" json:"sent_at"`
	DeliveredAt    *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt         *time.Time `db:"read_at" json:"read_at,omitempty"`
}
