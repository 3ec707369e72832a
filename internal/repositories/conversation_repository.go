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
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidPair          = errors.New("conversation requires two distinct users")
)

// CanonicalPair orders two user ids so both orderings map to the same row.
func CanonicalPair(a, b string) (string, string, error) {
	if a == b {
		return "", "", ErrInvalidPair
	}
	if b < a {
		a, b = b, a
	}
	return a, b, nil
}

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	GetOrCreate(ctx context.Context, userA, userB string) (models.Conversation, error)
	Get(ctx context.Context, conversationID string) (models.Conversation, error)
	TouchLastMessage(ctx context.Context, conversationID string, at time.Time) error
	ListForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	ListPeerIDs(ctx context.Context, userID string) ([]string, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `id, user1_id, user2_id, last_message_at, created_at`

// GetOrCreate returns the single conversation for a user pair, creating it on
// first contact. The unique index on the canonical pair makes concurrent
// first-sends converge on one row: the insert uses ON CONFLICT DO NOTHING and
// the loser of the race re-reads the winner's row.
func (r *ConversationRepo) GetOrCreate(ctx context.Context, userA, userB string) (models.Conversation, error) {
	user1, user2, err := CanonicalPair(userA, userB)
	if err != nil {
		return models.Conversation{}, err
	}

	var conv models.Conversation
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE user1_id=$1 AND user2_id=$2`
	err = r.db.GetContext(ctx, &conv, query, user1, user2)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user1_id, user2_id) VALUES ($1, $2, $3)
         ON CONFLICT (user1_id, user2_id) DO NOTHING`,
		uuid.NewString(), user1, user2)
	if err != nil {
		return models.Conversation{}, err
	}

	err = r.db.GetContext(ctx, &conv, query, user1, user2)
	return conv, err
}

// Get fetches a conversation by id.
func (r *ConversationRepo) Get(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// TouchLastMessage advances last_message_at. Older timestamps never win.
func (r *ConversationRepo) TouchLastMessage(ctx context.Context, conversationID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at=$2 WHERE id=$1 AND last_message_at < $2`,
		conversationID, at)
	return err
}

// ListForUser returns the user's conversations, most recently active first.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations
        WHERE user1_id=$1 OR user2_id=$1
        ORDER BY last_message_at DESC`
	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.ConversationSummary
	for rows.Next() {
		var conv models.Conversation
		if err := rows.StructScan(&conv); err != nil {
			return nil, err
		}
		result = append(result, models.ConversationSummary{
			ConversationID: conv.ID,
			PeerID:         conv.PeerID(userID),
			LastMessageAt:  conv.LastMessageAt,
		})
	}
	return result, rows.Err()
}

// ListPeerIDs returns the counterpart of every conversation the user is in.
func (r *ConversationRepo) ListPeerIDs(ctx context.Context, userID string) ([]string, error) {
	var peers []string
	query := `SELECT CASE WHEN user1_id=$1 THEN user2_id ELSE user1_id END
        FROM conversations WHERE user1_id=$1 OR user2_id=$1`
	err := r.db.SelectContext(ctx, &peers, query, userID)
	return peers, err
}
