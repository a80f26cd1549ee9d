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

const userColumns = `id, email, password_hash, name, role, is_suspended, created_at, updated_at, last_login_at`

// userRepository implements UserRepository on PostgreSQL
type userRepository struct {
	db *database.Postgres
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *database.Postgres) UserRepository {
	return &userRepository{db: db}
}

// Create inserts a user. Uniqueness of LOWER(email) is enforced by an index,
// so of two concurrent inserts for the same address exactly one succeeds.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, name, role, is_suspended, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}

	_, err := r.db.DB.ExecContext(ctx, query,
		user.ID,
		user.Email,
		nullableString(user.PasswordHash),
		user.Name,
		string(user.Role),
		user.IsSuspended,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user with email %s: %w", user.Email, ErrDuplicateEmail)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByEmail retrieves a user by email, ignoring case
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`

	user, err := scanUser(r.db.DB.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user with email %s: %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}

// GetByID retrieves a user by ID
func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user with id %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return user, nil
}

// Update writes the mutable profile fields of a user
func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users
		SET email = $2, name = $3, role = $4, is_suspended = $5, updated_at = $6
		WHERE id = $1
	`

	user.UpdatedAt = time.Now().UTC()

	result, err := r.db.DB.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		string(user.Role),
		user.IsSuspended,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user with email %s: %w", user.Email, ErrDuplicateEmail)
		}
		return fmt.Errorf("failed to update user: %w", err)
	}

	return expectAffected(result, fmt.Sprintf("user with id %s", user.ID))
}

// UpdatePassword replaces the password hash of a user
func (r *userRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	query := `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`

	result, err := r.db.DB.ExecContext(ctx, query, userID, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	return expectAffected(result, fmt.Sprintf("user with id %s", userID))
}

// UpdateLastLogin updates the last login timestamp for a user
func (r *userRepository) UpdateLastLogin(ctx context.Context, userID string) error {
	query := `UPDATE users SET last_login_at = $2 WHERE id = $1`

	result, err := r.db.DB.ExecContext(ctx, query, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}

	return expectAffected(result, fmt.Sprintf("user with id %s", userID))
}

// Delete removes a user; linked oauth accounts go with it via ON DELETE CASCADE
func (r *userRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.DB.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	return expectAffected(result, fmt.Sprintf("user with id %s", id))
}

func scanUser(row rowScanner) (*domain.User, error) {
	user := &domain.User{}
	var (
		passwordHash sql.NullString
		role         string
		lastLoginAt  sql.NullTime
	)

	err := row.Scan(
		&user.ID,
		&user.Email,
		&passwordHash,
		&user.Name,
		&role,
		&user.IsSuspended,
		&user.CreatedAt,
		&user.UpdatedAt,
		&lastLoginAt,
	)
	if err != nil {
		return nil, err
	}

	user.Role = domain.Role(role)
	if passwordHash.Valid {
		user.PasswordHash = &passwordHash.String
	}
	if lastLoginAt.Valid {
		user.LastLoginAt = &lastLoginAt.Time
	}

	return user, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func expectAffected(result sql.Result, subject string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", subject, ErrNotFound)
	}

	return nil
}
