package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

const (
	ProviderLocal  = "local"
	ProviderGoogle = "google"
)

type User struct {
	ID           uuid.UUID
	CreatedAt    time.Time
	Email        string
	Username     string
	PasswordHash string // empty when the account was created by an identity provider
	Role         string
	Provider     string
	IsActive     bool
	IsVerified   bool
	LastLoginAt  *time.Time // nil if user never logged in
}

func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Claims embedded into access token
func (u User) Claims() Claims {
	return Claims{
		UserID:   u.ID,
		Email:    u.Email,
		Username: u.Username,
		Role:     u.Role,
	}
}

// Emails are compared in lower case without surrounding spaces
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
