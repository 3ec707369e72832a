package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"dm-service/internal/models"
)

// BlockRepository stores directional block relations.
type BlockRepository interface {
	Block(ctx context.Context, blockerID, blockedID string) error
	Unblock(ctx context.Context, blockerID, blockedID string) error
	IsBlocked(ctx context.Context, a, b string) (bool, error)
	ListBlockedBy(ctx context.Context, blockerID string) ([]models.BlockRelation, error)
}

// BlockRepo is a sqlx implementation of BlockRepository.
type BlockRepo struct {
	db *sqlx.DB
}

// NewBlockRepo constructs a BlockRepo.
func NewBlockRepo(db *sqlx.DB) *BlockRepo {
	return &BlockRepo{db: db}
}

// Block records a block; blocking an already-blocked user is a no-op.
func (r *BlockRepo) Block(ctx context.Context, blockerID, blockedID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO blocked_users (id, blocker_id, blocked_id) VALUES ($1, $2, $3)
         ON CONFLICT (blocker_id, blocked_id) DO NOTHING`,
		uuid.NewString(), blockerID, blockedID)
	return err
}

// Unblock removes a block; unblocking a non-blocked user is a no-op.
func (r *BlockRepo) Unblock(ctx context.Context, blockerID, blockedID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM blocked_users WHERE blocker_id=$1 AND blocked_id=$2`,
		blockerID, blockedID)
	return err
}

// IsBlocked reports whether either user blocked the other. The check stays as
// two directional lookups over the stored relation rather than a denormalized
// symmetric table.
func (r *BlockRepo) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	var blocked bool
	err := r.db.GetContext(ctx, &blocked,
		`SELECT EXISTS(SELECT 1 FROM blocked_users WHERE blocker_id=$1 AND blocked_id=$2)
             OR EXISTS(SELECT 1 FROM blocked_users WHERE blocker_id=$2 AND blocked_id=$1)`,
		a, b)
	return blocked, err
}

// ListBlockedBy returns the users blocked by blockerID.
func (r *BlockRepo) ListBlockedBy(ctx context.Context, blockerID string) ([]models.BlockRelation, error) {
	var relations []models.BlockRelation
	err := r.db.SelectContext(ctx, &relations,
		`SELECT id, blocker_id, blocked_id, created_at FROM blocked_users WHERE blocker_id=$1 ORDER BY created_at DESC`,
		blockerID)
	return relations, err
}
