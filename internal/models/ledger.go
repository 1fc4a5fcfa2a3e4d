package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger entry kinds.
const (
	EntryRecharge     = "recharge"
	EntryUnlockDebit  = "unlock_debit"
	EntryUnlockCredit = "unlock_credit"
)

// LedgerEntry is an immutable record of one balance change. Amount is signed:
// debits are negative.
type LedgerEntry struct {
	ID           uuid.UUID       `json:"id"`
	Seq          int64           `json:"-"`
	AccountID    uuid.UUID       `json:"account_id"`
	Kind         string          `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Description  string          `json:"description"`
	RelatedID    *uuid.UUID      `json:"related_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func ValidEntryKind(kind string) bool {
	switch kind {
	case EntryRecharge, EntryUnlockDebit, EntryUnlockCredit:
		return true
	}
	return false
}

// UnlockRecord marks that a customer paid to see a provider's contact channel.
// At most one exists per (CustomerID, ProviderID).
type UnlockRecord struct {
	ID         uuid.UUID       `json:"id"`
	CustomerID uuid.UUID       `json:"customer_id"`
	ProviderID uuid.UUID       `json:"provider_id"`
	Fee        decimal.Decimal `json:"fee"`
	CreatedAt  time.Time       `json:"created_at"`
}
