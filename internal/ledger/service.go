// Package ledger is the single place balances change. Every change appends an
// entry and moves the cached balance in the same storage step, so the two
// never diverge.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labourconnect/backend/internal/models"
	"github.com/labourconnect/backend/internal/money"
	"github.com/labourconnect/backend/internal/storage"
)

// ErrMismatch is returned by Reconcile when the cached balance differs from the
// sum of the account's entries.
var ErrMismatch = errors.New("ledger: balance does not match entries")

// EntryRequest describes one balance change. Amount is signed.
type EntryRequest struct {
	AccountID   uuid.UUID
	Kind        string
	Amount      decimal.Decimal
	Description string
	RelatedID   *uuid.UUID
}

// Reconciliation is the outcome of comparing an account against its entries.
type Reconciliation struct {
	AccountID  uuid.UUID
	Balance    decimal.Decimal
	EntrySum   decimal.Decimal
	EntryCount int
}

func (r Reconciliation) Balanced() bool {
	return r.Balance.Equal(r.EntrySum)
}

type Service interface {
	// RecordEntry locks the account and applies req in its own transaction.
	RecordEntry(ctx context.Context, req EntryRequest) (*models.LedgerEntry, error)
	// RecordEntryTx applies req inside tx. The caller must hold the account lock.
	RecordEntryTx(ctx context.Context, tx storage.Tx, req EntryRequest) (*models.LedgerEntry, error)
	EntriesFor(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error)
	CurrentBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
	Reconcile(ctx context.Context, accountID uuid.UUID) (*Reconciliation, error)
}

type service struct {
	store storage.Store
}

func NewService(store storage.Store) Service {
	return &service{store: store}
}

var _ Service = (*service)(nil)

func (s *service) RecordEntry(ctx context.Context, req EntryRequest) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.LockAccounts(ctx, req.AccountID); err != nil {
			return err
		}
		e, err := s.RecordEntryTx(ctx, tx, req)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) RecordEntryTx(ctx context.Context, tx storage.Tx, req EntryRequest) (*models.LedgerEntry, error) {
	if !models.ValidEntryKind(req.Kind) {
		return nil, models.Invalid("unknown entry kind %q", req.Kind)
	}
	if req.Amount.IsZero() {
		return nil, models.Invalid("entry amount must be non-zero")
	}
	if !money.HasValidScale(req.Amount) {
		return nil, models.Invalid("entry amount has more than %d fraction digits", money.Scale)
	}
	e := &models.LedgerEntry{
		ID:          uuid.New(),
		AccountID:   req.AccountID,
		Kind:        req.Kind,
		Amount:      req.Amount,
		Description: req.Description,
		RelatedID:   req.RelatedID,
	}
	if _, err := tx.ApplyEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("apply %s entry: %w", req.Kind, err)
	}
	return e, nil
}

func (s *service) EntriesFor(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error) {
	return s.store.ListEntries(ctx, accountID)
}

func (s *service) CurrentBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

// Reconcile reads the balance and the entries under the account lock so a
// concurrent write cannot produce a false mismatch.
func (s *service) Reconcile(ctx context.Context, accountID uuid.UUID) (*Reconciliation, error) {
	var rec Reconciliation
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		locked, err := tx.LockAccounts(ctx, accountID)
		if err != nil {
			return err
		}
		entries, err := tx.ListEntries(ctx, accountID)
		if err != nil {
			return err
		}
		sum := decimal.Zero
		for _, e := range entries {
			sum = sum.Add(e.Amount)
		}
		rec = Reconciliation{
			AccountID:  accountID,
			Balance:    locked[accountID].Balance,
			EntrySum:   sum,
			EntryCount: len(entries),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !rec.Balanced() {
		return &rec, fmt.Errorf("%w: account %s balance %s, entries %s", ErrMismatch,
			accountID, money.Format(rec.Balance), money.Format(rec.EntrySum))
	}
	return &rec, nil
}
