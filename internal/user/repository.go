package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrEmailTaken is returned on a unique-constraint violation.
	ErrEmailTaken = errors.New("email already registered")
)

const uniqueViolation = "23505"

// Repository is the Postgres-backed user store. All statements are
// parameterized.
type Repository struct {
	db *sqlx.DB
}

// NewRepository wraps the given database handle.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts the user and fills in its generated fields.
func (r *Repository) Create(ctx context.Context, u *User) error {
	const q = `
		INSERT INTO users (name, email, password_hash, role, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, q, u.Name, u.Email, u.PasswordHash, u.Role, u.Status).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// ByID loads a user by primary key. Soft-deleted users are not returned.
func (r *Repository) ByID(ctx context.Context, id int64) (*User, error) {
	const q = `
		SELECT id, name, email, password_hash, role, status, avatar_url, created_at, updated_at
		FROM users WHERE id = $1 AND status <> 'deleted'`

	var u User
	if err := r.db.GetContext(ctx, &u, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}
	return &u, nil
}

// ByEmail loads a user by email, including suspended accounts so the
// login handler can distinguish inactive from unknown.
func (r *Repository) ByEmail(ctx context.Context, email string) (*User, error) {
	const q = `
		SELECT id, name, email, password_hash, role, status, avatar_url, created_at, updated_at
		FROM users WHERE email = $1 AND status <> 'deleted'`

	var u User
	if err := r.db.GetContext(ctx, &u, q, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load user by email: %w", err)
	}
	return &u, nil
}

// Update persists name, role, status, password hash and avatar changes.
func (r *Repository) Update(ctx context.Context, u *User) error {
	const q = `
		UPDATE users
		SET name = $2, role = $3, status = $4, password_hash = $5, avatar_url = $6,
		    updated_at = now()
		WHERE id = $1 AND status <> 'deleted'
		RETURNING updated_at`

	err := r.db.QueryRowxContext(ctx, q, u.ID, u.Name, u.Role, u.Status, u.PasswordHash, u.AvatarURL).
		Scan(&u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("update user %d: %w", u.ID, err)
	}
	return nil
}

// UpdateAvatar sets only the avatar URL, leaving the rest of the record
// untouched.
func (r *Repository) UpdateAvatar(ctx context.Context, id int64, url string) error {
	const q = `UPDATE users SET avatar_url = $2, updated_at = now() WHERE id = $1 AND status <> 'deleted'`

	res, err := r.db.ExecContext(ctx, q, id, url)
	if err != nil {
		return fmt.Errorf("update avatar %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete marks the user deleted. The record is retained for audit.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	const q = `UPDATE users SET status = 'deleted', updated_at = now() WHERE id = $1 AND status <> 'deleted'`

	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a page of users ordered by id, newest last.
func (r *Repository) List(ctx context.Context, offset, limit int) ([]User, error) {
	const q = `
		SELECT id, name, email, password_hash, role, status, avatar_url, created_at, updated_at
		FROM users WHERE status <> 'deleted'
		ORDER BY id
		OFFSET $1 LIMIT $2`

	users := []User{}
	if err := r.db.SelectContext(ctx, &users, q, offset, limit); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Count returns the number of non-deleted users.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT count(*) FROM users WHERE status <> 'deleted'`); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// Healthy reports database reachability for the readiness probe.
func (r *Repository) Healthy(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
