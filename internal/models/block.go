package models

import "time"

// BlockRelation is a directional block. Delivery treats blocks as
// bidirectional; storage keeps the direction so unblock stays precise.
type BlockRelation struct {
	ID        string    `db:"id" json:"id"`
	BlockerID string    `db:"blocker_id" json:"blocker_id"`
	BlockedID string    `db:"blocked_id" json:"blocked_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
