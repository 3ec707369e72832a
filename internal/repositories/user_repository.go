package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"dm-service/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("username or email already taken")
)

// UserRepository is the identity directory with its presence projection.
type UserRepository interface {
	Create(ctx context.Context, username, email string, avatarURL *string) (models.User, error)
	Get(ctx context.Context, userID string) (models.User, error)
	List(ctx context.Context) ([]models.User, error)
	SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, username, email, avatar_url, is_online, last_seen, created_at`

// Create inserts a new user. Duplicate username or email yields ErrUserExists.
func (r *UserRepo) Create(ctx context.Context, username, email string, avatarURL *string) (models.User, error) {
	var user models.User
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO users (id, username, email, avatar_url) VALUES ($1, $2, $3, $4)
         RETURNING `+userColumns,
		uuid.NewString(), username, email, avatarURL).
		StructScan(&user)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return models.User{}, ErrUserExists
	}
	return user, err
}

// Get fetches a user by id.
func (r *UserRepo) Get(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// List returns all users ordered by username.
func (r *UserRepo) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY username ASC`)
	return users, err
}

// SetPresence persists an online/offline transition. last_seen never moves
// backwards, so a stale transition cannot undo a newer stamp.
func (r *UserRepo) SetPresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_online=$2, last_seen=GREATEST(last_seen, $3) WHERE id=$1`,
		userID, online, lastSeen)
	return err
}
