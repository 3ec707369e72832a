package models

import "time"

// Conversation links exactly two users. The pair is stored canonically:
// User1ID is always the lexicographically smaller id, so (A,B) and (B,A)
// resolve to the same row.
type Conversation struct {
	ID            string    `db:"id" json:"id"`
	User1ID       string    `db:"user1_id" json:"user1_id"`
	User2ID       string    `db:"user2_id" json:"user2_id"`
	LastMessageAt time.Time `db:"last_message_at" json:"last_message_at"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// PeerID returns the other participant of the conversation.
func (c Conversation) PeerID(userID string) string {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// HasParticipant reports whether the user belongs to the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// ConversationSummary provides the API-friendly view of a conversation for a user.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	PeerID         string    `json:"peer_id"`
	LastMessageAt  time.Time `json:"last_message_at"`
}
