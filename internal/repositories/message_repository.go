package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"dm-service/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrInvalidMessage  = errors.New("message requires exactly one of content or image_ref")
)

// MessageRepository is the append-only, mutable-status message ledger.
type MessageRepository interface {
	Append(ctx context.Context, conversationID, senderID, receiverID string, content, imageRef *string) (models.Message, error)
	Get(ctx context.Context, messageID string) (models.Message, error)
	MarkDelivered(ctx context.Context, messageID string, at time.Time) (models.Message, error)
	MarkRead(ctx context.Context, messageID string, at time.Time) (models.Message, error)
	HideForUser(ctx context.Context, messageID, userID string) error
	ListForUser(ctx context.Context, conversationID, userID string) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, conversation_id, sender_id, receiver_id, content, image_ref, sent_at, delivered_at, read_at`

// Append validates and persists a new message with state SENT. Validation
// happens before the insert so a rejected message leaves no row behind.
func (r *MessageRepo) Append(ctx context.Context, conversationID, senderID, receiverID string, content, imageRef *string) (models.Message, error) {
	if content != nil && *content == "" {
		content = nil
	}
	if imageRef != nil && *imageRef == "" {
		imageRef = nil
	}
	if (content != nil) == (imageRef != nil) {
		return models.Message{}, ErrInvalidMessage
	}

	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, image_ref)
         VALUES ($1, $2, $3, $4, $5, $6)
         RETURNING `+messageColumns,
		uuid.NewString(), conversationID, senderID, receiverID, content, imageRef).
		StructScan(&msg)
	return msg, err
}

// Get retrieves a single message.
func (r *MessageRepo) Get(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MarkDelivered stamps delivered_at once; repeated calls keep the first stamp.
func (r *MessageRepo) MarkDelivered(ctx context.Context, messageID string, at time.Time) (models.Message, error) {
	_, err := r.db.ExecContext(ctx,
		`UPDATE messages SET delivered_at=$2 WHERE id=$1 AND delivered_at IS NULL`,
		messageID, at)
	if err != nil {
		return models.Message{}, err
	}
	return r.Get(ctx, messageID)
}

// MarkRead stamps read_at once. A read before an explicit delivery ack applies
// delivery implicitly at the same timestamp, keeping sent<=delivered<=read.
func (r *MessageRepo) MarkRead(ctx context.Context, messageID string, at time.Time) (models.Message, error) {
	_, err := r.db.ExecContext(ctx,
		`UPDATE messages SET read_at=$2, delivered_at=COALESCE(delivered_at, $2)
         WHERE id=$1 AND read_at IS NULL`,
		messageID, at)
	if err != nil {
		return models.Message{}, err
	}
	return r.Get(ctx, messageID)
}

// HideForUser records a per-viewer soft delete. Each participant can hide the
// same message independently; hiding twice is a no-op.
func (r *MessageRepo) HideForUser(ctx context.Context, messageID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO message_hidden (message_id, user_id) VALUES ($1, $2)
         ON CONFLICT (message_id, user_id) DO NOTHING`,
		messageID, userID)
	return err
}

// ListForUser returns ordered conversation messages, skipping rows the
// requesting user has hidden. This is also the catch-up read path after a
// reconnect; delivery still requires an explicit acknowledgment.
func (r *MessageRepo) ListForUser(ctx context.Context, conversationID, userID string) ([]models.Message, error) {
	query := `SELECT ` + prefixedMessageColumns("m") + ` FROM messages m
        WHERE m.conversation_id=$1
        AND NOT EXISTS (SELECT 1 FROM message_hidden h WHERE h.message_id = m.id AND h.user_id=$2)
        ORDER BY m.sent_at ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, conversationID, userID)
	return msgs, err
}

func prefixedMessageColumns(alias string) string {
	return alias + `.id, ` + alias + `.conversation_id, ` + alias + `.sender_id, ` + alias + `.receiver_id, ` +
		alias + `.content, ` + alias + `.image_ref, ` + alias + `.sent_at, ` + alias + `.delivered_at, ` + alias + `.read_at`
}
