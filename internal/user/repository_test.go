package user

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewRepository(sqlx.NewDb(db, "postgres")), mock
}

func userColumns() []string {
	return []string{"id", "name", "email", "password_hash", "role", "status", "avatar_url", "created_at", "updated_at"}
}

func TestByEmail(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM users WHERE email = \$1`).
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows(userColumns()).
			AddRow(1, "Alice", "alice@example.com", "$argon2id$...", "admin", "active", "", now, now))

	u, err := repo.ByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.ID)
	assert.Equal(t, "admin", u.Role)
	assert.True(t, u.Active())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT .+ FROM users WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(userColumns()))

	_, err := repo.ByID(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateDuplicateEmail(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("Bob", "bob@example.com", "hash", "user", "active").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &User{
		Name: "Bob", Email: "bob@example.com", PasswordHash: "hash",
		Role: RoleUser, Status: StatusActive,
	})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestCreateFillsGeneratedFields(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("Bob", "bob@example.com", "hash", "user", "active").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(7, now, now))

	u := &User{Name: "Bob", Email: "bob@example.com", PasswordHash: "hash", Role: RoleUser, Status: StatusActive}
	require.NoError(t, repo.Create(context.Background(), u))
	assert.Equal(t, int64(7), u.ID)
	assert.False(t, u.CreatedAt.IsZero())
}

func TestUpdateAvatar(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE users SET avatar_url = \$2`).
		WithArgs(int64(1), "https://cdn.example.com/uploads/a.png").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateAvatar(context.Background(), 1, "https://cdn.example.com/uploads/a.png"))

	mock.ExpectExec(`UPDATE users SET avatar_url = \$2`).
		WithArgs(int64(99), "https://cdn.example.com/uploads/a.png").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.True(t, errors.Is(repo.UpdateAvatar(context.Background(), 99, "https://cdn.example.com/uploads/a.png"), ErrNotFound))
}

func TestDeleteSoft(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE users SET status = 'deleted'`).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), 3))

	mock.ExpectExec(`UPDATE users SET status = 'deleted'`).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.True(t, errors.Is(repo.Delete(context.Background(), 3), ErrNotFound))
}

func TestList(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM users WHERE status <> 'deleted' ORDER BY id`).
		WithArgs(0, 20).
		WillReturnRows(sqlmock.NewRows(userColumns()).
			AddRow(1, "Alice", "a@example.com", "h", "admin", "active", "", now, now).
			AddRow(2, "Bob", "b@example.com", "h", "user", "suspended", "", now, now))

	users, err := repo.List(context.Background(), 0, 20)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.False(t, users[1].Active())
}
