package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Provider is the public profile of a provider account. Unlock records and
// bids reference the profile id; money goes to AccountID.
type Provider struct {
	ID              uuid.UUID       `json:"id"`
	AccountID       uuid.UUID       `json:"account_id"`
	Skills          []string        `json:"skills"`
	ExperienceYears int             `json:"experience_years"`
	Location        string          `json:"location"`
	PinCode         string          `json:"pin_code"`
	Rating          decimal.Decimal `json:"rating"`
	TotalReviews    int             `json:"total_reviews"`
	CreatedAt       time.Time       `json:"created_at"`
}

type Review struct {
	ID         uuid.UUID  `json:"id"`
	ProviderID uuid.UUID  `json:"provider_id"`
	CustomerID uuid.UUID  `json:"customer_id"`
	JobID      *uuid.UUID `json:"job_id,omitempty"`
	Rating     int        `json:"rating"`
	Comment    string     `json:"comment,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ProviderFilter narrows ListProviders. Skill matches case-insensitively.
type ProviderFilter struct {
	Skill   string
	PinCode string
}
