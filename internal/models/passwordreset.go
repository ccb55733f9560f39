package models

import (
	"time"

	"github.com/google/uuid"
)

// Single use token authorizing one password change
type PasswordReset struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Email     string
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time // nil if token not used
}

func (r PasswordReset) IsUsed() bool {
	return r.UsedAt != nil
}

func (r PasswordReset) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
