package models

import (
	"time"

	"github.com/google/uuid"
)

// Identity carried by signed tokens
// Refresh tokens carry UserID only
type Claims struct {
	UserID   uuid.UUID
	Email    string
	Username string
	Role     string
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued on login, verification, or rotation
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time // nil if token not revoked
}

func (t RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

func (t RefreshToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
