//go:build integration

package repo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

func startPostgres(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("auth"),
		postgres.WithUsername("auth"),
		postgres.WithPassword("auth"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.Connect(ctx, database.Config{DSN: dsn, MaxConns: 10, Timeout: 5 * time.Second, ConnectAttempts: 5})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(ctx, db))

	return sqlx.NewDb(db, "postgres")
}

func TestUserRepo_Postgres(t *testing.T) {
	db := startPostgres(t)
	r := NewUserRepo(db, &lockedIDs{id: 1000})
	ctx := context.Background()

	u, err := r.Create(ctx, entity.NewUser{Email: "alice@example.com", PasswordHash: "h1", Name: strPtr("Alice")})
	require.NoError(t, err)
	assert.True(t, u.IsActive)

	_, err = r.Create(ctx, entity.NewUser{Email: "alice@example.com", PasswordHash: "h2"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	got, err := r.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "h1", got.PasswordHash)

	time.Sleep(10 * time.Millisecond)
	upd, err := r.UpdateProfile(ctx, u.ID, entity.ProfileUpdate{Avatar: strPtr("pic")})
	require.NoError(t, err)
	assert.Equal(t, "Alice", *upd.Name)
	assert.Equal(t, "pic", *upd.Avatar)
	assert.True(t, upd.UpdatedAt.After(u.UpdatedAt))

	require.NoError(t, r.UpdatePassword(ctx, u.ID, "h3"))
	got, err = r.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "h3", got.PasswordHash)

	_, err = r.FindByID(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, r.Ping(ctx))
}

func TestUserRepo_PostgresConcurrentRegistration(t *testing.T) {
	db := startPostgres(t)
	r := NewUserRepo(db, &lockedIDs{id: 5000})
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, dups := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Create(ctx, entity.NewUser{Email: "race@example.com", PasswordHash: "h"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if assert.ErrorIs(t, err, ErrDuplicateEmail) {
				dups++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 9, dups)
}
