package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool used by the repository. Begin is needed
// because session activation runs inside a transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresUserRepository implements UserRepository using PostgreSQL
type PostgresUserRepository struct {
	db DB
}

// NewPostgresUserRepository creates a new PostgreSQL user repository
func NewPostgresUserRepository(db DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

const userColumns = `
	id, email, name, password_hash, role, is_verified, last_login_at,
	web_refresh_token, web_session_id, web_refresh_token_expires_at, web_session_version,
	mobile_refresh_token, mobile_session_id, mobile_refresh_token_expires_at, mobile_session_version,
	pending_login_token, pending_login_platform,
	reset_password_token, reset_password_expires_at,
	created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	var lastLoginAt, webExpiresAt, mobileExpiresAt, resetExpiresAt sql.NullTime
	var webRefresh, webSessionID, mobileRefresh, mobileSessionID sql.NullString
	var pendingToken, pendingPlatform, resetToken sql.NullString

	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.IsVerified, &lastLoginAt,
		&webRefresh, &webSessionID, &webExpiresAt, &u.Web.Version,
		&mobileRefresh, &mobileSessionID, &mobileExpiresAt, &u.Mobile.Version,
		&pendingToken, &pendingPlatform,
		&resetToken, &resetExpiresAt,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}

	u.LastLoginAt = lastLoginAt.Time
	u.Web.RefreshToken = webRefresh.String
	u.Web.SessionID = webSessionID.String
	u.Web.ExpiresAt = webExpiresAt.Time
	u.Mobile.RefreshToken = mobileRefresh.String
	u.Mobile.SessionID = mobileSessionID.String
	u.Mobile.ExpiresAt = mobileExpiresAt.Time
	u.PendingLoginToken = pendingToken.String
	u.PendingLoginPlatform = Platform(pendingPlatform.String)
	u.ResetPasswordToken = resetToken.String
	u.ResetPasswordExpiresAt = resetExpiresAt.Time
	return u, nil
}

// Create creates a new user record
func (r *PostgresUserRepository) Create(ctx context.Context, arg CreateUserParams) (User, error) {
	query := `
		INSERT INTO users (email, name, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + userColumns

	u, err := scanUser(r.db.QueryRow(ctx, query, normalizeEmail(arg.Email), arg.Name, arg.PasswordHash, arg.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// FindByEmail finds a user by email
func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	u, err := scanUser(r.db.QueryRow(ctx, query, normalizeEmail(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to find user by email: %w", err)
	}
	return u, nil
}

// FindByID finds a user by id
func (r *PostgresUserRepository) FindByID(ctx context.Context, id uuid.UUID) (User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to find user by id: %w", err)
	}
	return u, nil
}

// MarkVerified flips the verified flag for the given email
func (r *PostgresUserRepository) MarkVerified(ctx context.Context, email string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET is_verified = TRUE, updated_at = now() WHERE email = $1`,
		normalizeEmail(email))
	if err != nil {
		return fmt.Errorf("failed to mark user verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetPendingLogin overwrites the pending login token and platform
func (r *PostgresUserRepository) SetPendingLogin(ctx context.Context, id uuid.UUID, token string, platform Platform, lastLoginAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET pending_login_token = $2,
		    pending_login_platform = $3,
		    last_login_at = $4,
		    updated_at = now()
		WHERE id = $1`,
		id, token, string(platform), lastLoginAt)
	if err != nil {
		return fmt.Errorf("failed to set pending login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ActivateSession atomically activates a session for the platform. The whole
// read-increment-mint-write sequence runs in one transaction with the user
// row locked, so concurrent activations serialize on the row and the loser
// observes the cleared pending fields.
func (r *PostgresUserRepository) ActivateSession(ctx context.Context, email string, platform Platform, expiresAt time.Time, mint MintFunc) (ActivatedSession, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return ActivatedSession{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			slog.Error("Failed to rollback activation transaction", "err", rbErr)
		}
	}()

	prefix := platform.Lower()
	lockQuery := fmt.Sprintf(`
		SELECT id, pending_login_token, pending_login_platform, %s_session_version
		FROM users WHERE email = $1 FOR UPDATE`, prefix)

	var id uuid.UUID
	var pendingToken, pendingPlatform sql.NullString
	var version int64
	err = tx.QueryRow(ctx, lockQuery, normalizeEmail(email)).Scan(&id, &pendingToken, &pendingPlatform, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return ActivatedSession{}, ErrUserNotFound
	}
	if err != nil {
		return ActivatedSession{}, fmt.Errorf("failed to lock user row: %w", err)
	}

	if pendingToken.String == "" || Platform(pendingPlatform.String) != platform {
		return ActivatedSession{}, ErrNoPendingLogin
	}

	newVersion := version + 1
	tokens, err := mint(newVersion)
	if err != nil {
		return ActivatedSession{}, err
	}

	sessionID := uuid.New().String()
	updateQuery := fmt.Sprintf(`
		UPDATE users
		SET %[1]s_refresh_token = $2,
		    %[1]s_session_id = $3,
		    %[1]s_refresh_token_expires_at = $4,
		    %[1]s_session_version = $5,
		    pending_login_token = NULL,
		    pending_login_platform = NULL,
		    updated_at = now()
		WHERE id = $1`, prefix)
	if _, err = tx.Exec(ctx, updateQuery, id, tokens.RefreshToken, sessionID, expiresAt, newVersion); err != nil {
		return ActivatedSession{}, fmt.Errorf("failed to write session fields: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return ActivatedSession{}, fmt.Errorf("failed to commit activation: %w", err)
	}

	return ActivatedSession{
		UserID:    id,
		SessionID: sessionID,
		Version:   newVersion,
		ExpiresAt: expiresAt,
		Tokens:    tokens,
	}, nil
}

// ClearSession nulls the platform's session fields, leaving the version alone
func (r *PostgresUserRepository) ClearSession(ctx context.Context, id uuid.UUID, platform Platform) error {
	prefix := platform.Lower()
	query := fmt.Sprintf(`
		UPDATE users
		SET %[1]s_refresh_token = NULL,
		    %[1]s_session_id = NULL,
		    %[1]s_refresh_token_expires_at = NULL,
		    updated_at = now()
		WHERE id = $1`, prefix)

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetResetToken stores a password reset token with expiry
func (r *PostgresUserRepository) SetResetToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET reset_password_token = $2,
		    reset_password_expires_at = $3,
		    updated_at = now()
		WHERE id = $1`,
		id, token, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to set reset token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ConsumeResetToken replaces the password hash and clears the reset token
// fields in a single statement, so the token is single-use by construction
func (r *PostgresUserRepository) ConsumeResetToken(ctx context.Context, token string, newPasswordHash string) error {
	if token == "" {
		return ErrResetTokenInvalid
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET password_hash = $2,
		    reset_password_token = NULL,
		    reset_password_expires_at = NULL,
		    updated_at = now()
		WHERE reset_password_token = $1
		  AND reset_password_expires_at > now()`,
		token, newPasswordHash)
	if err != nil {
		return fmt.Errorf("failed to consume reset token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrResetTokenInvalid
	}
	return nil
}
