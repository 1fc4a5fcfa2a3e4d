package models

import (
	"time"

	"github.com/google/uuid"
)

// OTPChallenge is a short-lived single-use code bound to a phone number.
// Only the bcrypt hash of the code is stored.
type OTPChallenge struct {
	ID         uuid.UUID
	Seq        int64
	Phone      string
	CodeHash   string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Verified   bool
	VerifiedAt *time.Time
}

// Eligible reports whether the challenge can still be matched at now.
func (c *OTPChallenge) Eligible(now time.Time) bool {
	return !c.Verified && now.Before(c.ExpiresAt)
}
