package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Job status enums.
const (
	JobStatusOpen      = "open"
	JobStatusAssigned  = "assigned"
	JobStatusCompleted = "completed"
	JobStatusCancelled = "cancelled"
)

// Bid status enums.
const (
	BidStatusPending  = "pending"
	BidStatusAccepted = "accepted"
	BidStatusRejected = "rejected"
)

type Job struct {
	ID                 uuid.UUID        `json:"id"`
	CustomerID         uuid.UUID        `json:"customer_id"`
	Title              string           `json:"title"`
	Description        string           `json:"description"`
	Category           string           `json:"category"`
	Budget             *decimal.Decimal `json:"budget,omitempty"`
	Location           string           `json:"location"`
	PinCode            string           `json:"pin_code"`
	Status             string           `json:"status"`
	AssignedProviderID *uuid.UUID       `json:"assigned_provider_id,omitempty"`
	AcceptedBidID      *uuid.UUID       `json:"accepted_bid_id,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

type Bid struct {
	ID         uuid.UUID       `json:"id"`
	JobID      uuid.UUID       `json:"job_id"`
	ProviderID uuid.UUID       `json:"provider_id"`
	Amount     decimal.Decimal `json:"amount"`
	Message    string          `json:"message,omitempty"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func ValidJobStatus(status string) bool {
	switch status {
	case JobStatusOpen, JobStatusAssigned, JobStatusCompleted, JobStatusCancelled:
		return true
	}
	return false
}

// JobFilter narrows ListJobs. Zero values match everything.
type JobFilter struct {
	CustomerID *uuid.UUID
	Status     string
}
