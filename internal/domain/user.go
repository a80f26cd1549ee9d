package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role is the portal-wide privilege level of a user
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Valid reports whether r belongs to the closed role set
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	}
	return false
}

// ParseRole converts a raw role name. An empty value resolves to RoleStudent.
func ParseRole(raw string) (Role, error) {
	if strings.TrimSpace(raw) == "" {
		return RoleStudent, nil
	}

	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q: %w", raw, ErrInvalidInput)
	}
	return role, nil
}

// User represents a user in the system
type User struct {
	ID           string     `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	PasswordHash *string    `json:"-" db:"password_hash"`
	Name         string     `json:"name" db:"name"`
	Role         Role       `json:"role" db:"role"`
	IsSuspended  bool       `json:"is_suspended" db:"is_suspended"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at" db:"last_login_at"`
}

// HasPassword reports whether the user can log in with a local password.
// Users created by an OAuth callback have none.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}
