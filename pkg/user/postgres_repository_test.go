package user

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("auth_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("../../migrations/auth_db.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)

	return pool
}

func TestPostgresUserRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed repository test in short mode")
	}

	ctx := context.Background()
	pool := setupTestDB(t)
	repo := NewPostgresUserRepository(pool)

	create := func(t *testing.T, email string) User {
		t.Helper()
		u, err := repo.Create(ctx, CreateUserParams{
			Email:        email,
			Name:         "Test User",
			PasswordHash: "hash",
			Role:         "USER",
		})
		require.NoError(t, err)
		return u
	}

	t.Run("CreateAndFind", func(t *testing.T) {
		u := create(t, "create@x.com")
		assert.False(t, u.IsVerified)
		assert.Equal(t, "USER", u.Role)

		found, err := repo.FindByEmail(ctx, "create@x.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, found.ID)

		found, err = repo.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, u.Email, found.Email)
	})

	t.Run("CreateDuplicateEmail", func(t *testing.T) {
		create(t, "dup@x.com")
		_, err := repo.Create(ctx, CreateUserParams{Email: "dup@x.com", Name: "n", PasswordHash: "h", Role: "USER"})
		assert.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("FindMissing", func(t *testing.T) {
		_, err := repo.FindByEmail(ctx, "missing@x.com")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("MarkVerified", func(t *testing.T) {
		u := create(t, "verify@x.com")
		require.NoError(t, repo.MarkVerified(ctx, "verify@x.com"))

		found, err := repo.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, found.IsVerified)
	})

	t.Run("ActivateSessionLifecycle", func(t *testing.T) {
		u := create(t, "session@x.com")
		expiresAt := time.Now().UTC().Add(7 * 24 * time.Hour)

		require.NoError(t, repo.SetPendingLogin(ctx, u.ID, "pending-1", PlatformWeb, time.Now().UTC()))

		activated, err := repo.ActivateSession(ctx, "session@x.com", PlatformWeb, expiresAt, func(version int64) (TokenPair, error) {
			return TokenPair{AccessToken: "a", RefreshToken: fmt.Sprintf("refresh-v%d", version)}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), activated.Version)

		found, err := repo.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "refresh-v1", found.Web.RefreshToken)
		assert.Equal(t, int64(1), found.Web.Version)
		assert.Empty(t, found.PendingLoginToken)
		assert.Zero(t, found.Mobile.Version)

		// Losing a second activation without a new pending login
		_, err = repo.ActivateSession(ctx, "session@x.com", PlatformWeb, expiresAt, func(version int64) (TokenPair, error) {
			return TokenPair{}, nil
		})
		assert.ErrorIs(t, err, ErrNoPendingLogin)

		// Mobile pending must not activate a web session
		require.NoError(t, repo.SetPendingLogin(ctx, u.ID, "pending-2", PlatformMobile, time.Now().UTC()))
		_, err = repo.ActivateSession(ctx, "session@x.com", PlatformWeb, expiresAt, func(version int64) (TokenPair, error) {
			return TokenPair{}, nil
		})
		assert.ErrorIs(t, err, ErrNoPendingLogin)

		activated, err = repo.ActivateSession(ctx, "session@x.com", PlatformMobile, expiresAt, func(version int64) (TokenPair, error) {
			return TokenPair{AccessToken: "a", RefreshToken: "mobile-refresh"}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), activated.Version)
	})

	t.Run("ActivateSessionMintFailureRollsBack", func(t *testing.T) {
		u := create(t, "rollback@x.com")
		require.NoError(t, repo.SetPendingLogin(ctx, u.ID, "pending", PlatformWeb, time.Now().UTC()))

		_, err := repo.ActivateSession(ctx, "rollback@x.com", PlatformWeb, time.Now().UTC().Add(time.Hour), func(version int64) (TokenPair, error) {
			return TokenPair{}, fmt.Errorf("mint failed")
		})
		require.Error(t, err)

		found, err := repo.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "pending", found.PendingLoginToken)
		assert.Zero(t, found.Web.Version)
	})

	t.Run("ClearSessionKeepsVersion", func(t *testing.T) {
		u := create(t, "logout@x.com")
		require.NoError(t, repo.SetPendingLogin(ctx, u.ID, "pending", PlatformWeb, time.Now().UTC()))
		_, err := repo.ActivateSession(ctx, "logout@x.com", PlatformWeb, time.Now().UTC().Add(time.Hour), func(version int64) (TokenPair, error) {
			return TokenPair{AccessToken: "a", RefreshToken: "r"}, nil
		})
		require.NoError(t, err)

		require.NoError(t, repo.ClearSession(ctx, u.ID, PlatformWeb))

		found, err := repo.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Empty(t, found.Web.RefreshToken)
		assert.Equal(t, int64(1), found.Web.Version)
	})

	t.Run("ResetTokenLifecycle", func(t *testing.T) {
		u := create(t, "reset@x.com")
		require.NoError(t, repo.SetResetToken(ctx, u.ID, "reset-token", time.Now().UTC().Add(15*time.Minute)))

		require.NoError(t, repo.ConsumeResetToken(ctx, "reset-token", "new-hash"))

		found, err := repo.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "new-hash", found.PasswordHash)
		assert.Empty(t, found.ResetPasswordToken)

		err = repo.ConsumeResetToken(ctx, "reset-token", "other-hash")
		assert.ErrorIs(t, err, ErrResetTokenInvalid)
	})

	t.Run("ResetTokenExpired", func(t *testing.T) {
		u := create(t, "reset-expired@x.com")
		require.NoError(t, repo.SetResetToken(ctx, u.ID, "expired-token", time.Now().UTC().Add(-time.Minute)))

		err := repo.ConsumeResetToken(ctx, "expired-token", "new-hash")
		assert.ErrorIs(t, err, ErrResetTokenInvalid)
	})
}
