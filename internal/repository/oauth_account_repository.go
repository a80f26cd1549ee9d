package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prperemyshlev/eduportal-auth/internal/domain"
	"github.com/prperemyshlev/eduportal-auth/pkg/database"
)

const oauthAccountColumns = `id, user_id, provider, provider_account_id, email,
	access_token, refresh_token, id_token, token_type, scope, expires_at, created_at, updated_at`

// oauthAccountRepository implements OAuthAccountRepository on PostgreSQL
type oauthAccountRepository struct {
	db *database.Postgres
}

// NewOAuthAccountRepository creates a new OAuth account repository
func NewOAuthAccountRepository(db *database.Postgres) OAuthAccountRepository {
	return &oauthAccountRepository{db: db}
}

// Create links a provider account to a user. Both (provider, provider_account_id)
// and (user_id, provider) are unique.
func (r *oauthAccountRepository) Create(ctx context.Context, account *domain.OAuthAccount) error {
	query := `
		INSERT INTO oauth_accounts (id, user_id, provider, provider_account_id, email,
			access_token, refresh_token, id_token, token_type, scope, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	if account.ID == "" {
		account.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = now
	}

	_, err := r.db.DB.ExecContext(ctx, query,
		account.ID,
		account.UserID,
		account.Provider,
		account.ProviderAccountID,
		nullableString(account.Email),
		account.Tokens.AccessToken,
		account.Tokens.RefreshToken,
		account.Tokens.IDToken,
		account.Tokens.TokenType,
		account.Tokens.Scope,
		nullableTime(account.Tokens.ExpiresAt),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s account %s: %w", account.Provider, account.ProviderAccountID, ErrDuplicateOAuthAccount)
		}
		return fmt.Errorf("failed to create oauth account: %w", err)
	}

	return nil
}

// GetByProvider retrieves the link for an external account
func (r *oauthAccountRepository) GetByProvider(ctx context.Context, provider, providerAccountID string) (*domain.OAuthAccount, error) {
	query := `SELECT ` + oauthAccountColumns + ` FROM oauth_accounts WHERE provider = $1 AND provider_account_id = $2`

	account, err := scanOAuthAccount(r.db.DB.QueryRowContext(ctx, query, provider, providerAccountID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s account %s: %w", provider, providerAccountID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get oauth account: %w", err)
	}

	return account, nil
}

// GetByUserIDAndProvider retrieves the link a user holds at one provider
func (r *oauthAccountRepository) GetByUserIDAndProvider(ctx context.Context, userID, provider string) (*domain.OAuthAccount, error) {
	query := `SELECT ` + oauthAccountColumns + ` FROM oauth_accounts WHERE user_id = $1 AND provider = $2`

	account, err := scanOAuthAccount(r.db.DB.QueryRowContext(ctx, query, userID, provider))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s account of user %s: %w", provider, userID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get oauth account: %w", err)
	}

	return account, nil
}

// GetByUserID retrieves all links of a user, newest first
func (r *oauthAccountRepository) GetByUserID(ctx context.Context, userID string) ([]*domain.OAuthAccount, error) {
	query := `SELECT ` + oauthAccountColumns + ` FROM oauth_accounts WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get oauth accounts by user id: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.OAuthAccount
	for rows.Next() {
		account, err := scanOAuthAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan oauth account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating oauth accounts: %w", err)
	}

	return accounts, nil
}

// UpdateTokens replaces the stored provider tokens of a link
func (r *oauthAccountRepository) UpdateTokens(ctx context.Context, id string, tokens domain.OAuthTokens) error {
	query := `
		UPDATE oauth_accounts
		SET access_token = $2, refresh_token = $3, id_token = $4, token_type = $5, scope = $6,
			expires_at = $7, updated_at = $8
		WHERE id = $1
	`

	result, err := r.db.DB.ExecContext(ctx, query,
		id,
		tokens.AccessToken,
		tokens.RefreshToken,
		tokens.IDToken,
		tokens.TokenType,
		tokens.Scope,
		nullableTime(tokens.ExpiresAt),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update oauth tokens: %w", err)
	}

	return expectAffected(result, fmt.Sprintf("oauth account %s", id))
}

// Delete removes a link by id
func (r *oauthAccountRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.DB.ExecContext(ctx, `DELETE FROM oauth_accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete oauth account: %w", err)
	}

	return expectAffected(result, fmt.Sprintf("oauth account %s", id))
}

// DeleteByUserIDAndProvider unlinks a provider from a user
func (r *oauthAccountRepository) DeleteByUserIDAndProvider(ctx context.Context, userID, provider string) error {
	result, err := r.db.DB.ExecContext(ctx,
		`DELETE FROM oauth_accounts WHERE user_id = $1 AND provider = $2`, userID, provider)
	if err != nil {
		return fmt.Errorf("failed to delete oauth account: %w", err)
	}

	return expectAffected(result, fmt.Sprintf("%s account of user %s", provider, userID))
}

// DeleteUnlessLastSignIn unlinks a provider from a user unless the user has no
// password and this is their only link, in which case it returns
// ErrLastSignInMethod and changes nothing. The user row is locked for the
// duration so concurrent unlinks of the same user run one after another.
func (r *oauthAccountRepository) DeleteUnlessLastSignIn(ctx context.Context, userID, provider string) error {
	tx, err := r.db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var hasPassword bool
	err = tx.QueryRowContext(ctx,
		`SELECT password_hash IS NOT NULL FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&hasPassword)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock user: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM oauth_accounts WHERE user_id = $1 AND provider = $2`, userID, provider)
	if err != nil {
		return fmt.Errorf("failed to delete oauth account: %w", err)
	}
	if err := expectAffected(result, fmt.Sprintf("%s account of user %s", provider, userID)); err != nil {
		return err
	}

	if !hasPassword {
		var remaining int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM oauth_accounts WHERE user_id = $1`, userID).Scan(&remaining)
		if err != nil {
			return fmt.Errorf("failed to count oauth accounts: %w", err)
		}
		if remaining == 0 {
			return fmt.Errorf("%s account of user %s: %w", provider, userID, ErrLastSignInMethod)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit unlink: %w", err)
	}
	return nil
}

// CountByUserID counts the links of a user
func (r *oauthAccountRepository) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM oauth_accounts WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count oauth accounts: %w", err)
	}

	return count, nil
}

// HasProvider reports whether a user has linked the given provider
func (r *oauthAccountRepository) HasProvider(ctx context.Context, userID, provider string) (bool, error) {
	var exists bool
	err := r.db.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM oauth_accounts WHERE user_id = $1 AND provider = $2)`,
		userID, provider).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check oauth provider: %w", err)
	}

	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOAuthAccount(row rowScanner) (*domain.OAuthAccount, error) {
	account := &domain.OAuthAccount{}
	var (
		email                              sql.NullString
		accessToken, refreshToken, idToken sql.NullString
		tokenType, scope                   sql.NullString
		expiresAt                          sql.NullTime
	)

	err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.Provider,
		&account.ProviderAccountID,
		&email,
		&accessToken,
		&refreshToken,
		&idToken,
		&tokenType,
		&scope,
		&expiresAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if email.Valid {
		account.Email = &email.String
	}
	account.Tokens = domain.OAuthTokens{
		AccessToken:  accessToken.String,
		RefreshToken: refreshToken.String,
		IDToken:      idToken.String,
		TokenType:    tokenType.String,
		Scope:        scope.String,
	}
	if expiresAt.Valid {
		account.Tokens.ExpiresAt = &expiresAt.Time
	}

	return account, nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
