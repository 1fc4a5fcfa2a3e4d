package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account roles.
const (
	RoleCustomer = "customer"
	RoleProvider = "provider"
)

// Account is one per user. Balance is the cached sum of the account's ledger entries.
type Account struct {
	ID        uuid.UUID       `json:"id"`
	Phone     string          `json:"phone"`
	Name      string          `json:"name"`
	Role      string          `json:"role"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func ValidRole(role string) bool {
	return role == RoleCustomer || role == RoleProvider
}
