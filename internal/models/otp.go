package models

import (
	"time"

	"github.com/google/uuid"
)

type OTPType string

const (
	OTPTypeVerification OTPType = "verification"
	OTPTypeLogin        OTPType = "login"
	OTPTypeReset        OTPType = "reset"
)

func (t OTPType) Valid() bool {
	switch t {
	case OTPTypeVerification, OTPTypeLogin, OTPTypeReset:
		return true
	default:
		return false
	}
}

// One time code bound to (email, type)
// At most one unused code exists for the pair
type OTP struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Email     string
	Code      string
	Type      OTPType
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time // nil if code not used
}

func (o OTP) IsUsed() bool {
	return o.UsedAt != nil
}

func (o OTP) IsExpired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}
