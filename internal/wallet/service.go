// Package wallet is the only path for money movement. Credits and debits go
// through the ledger under the account lock, so the balance check that
// validates a debit and the entry that applies it cannot be interleaved.
package wallet

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labourconnect/backend/internal/events"
	"github.com/labourconnect/backend/internal/ledger"
	"github.com/labourconnect/backend/internal/metrics"
	"github.com/labourconnect/backend/internal/models"
	"github.com/labourconnect/backend/internal/money"
	"github.com/labourconnect/backend/internal/storage"
)

// Movement describes one credit or debit. Amount is always positive; the
// direction comes from the operation.
type Movement struct {
	AccountID   uuid.UUID
	Amount      decimal.Decimal
	Kind        string
	Description string
	RelatedID   *uuid.UUID
}

// Statement is an account's balance with its entries, newest first.
type Statement struct {
	Account *models.Account
	Entries []*models.LedgerEntry
}

type Service interface {
	Credit(ctx context.Context, m Movement) (decimal.Decimal, error)
	Debit(ctx context.Context, m Movement) (decimal.Decimal, error)
	// CreditTx and DebitTx run inside the caller's transaction. The caller must
	// already hold the account lock and publishes nothing until it commits.
	CreditTx(ctx context.Context, tx storage.Tx, m Movement) (*models.LedgerEntry, error)
	DebitTx(ctx context.Context, tx storage.Tx, locked *models.Account, m Movement) (*models.LedgerEntry, error)
	Recharge(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*models.LedgerEntry, error)
	Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
	Statement(ctx context.Context, accountID uuid.UUID) (*Statement, error)
}

var (
	creditKinds = map[string]bool{models.EntryRecharge: true, models.EntryUnlockCredit: true}
	debitKinds  = map[string]bool{models.EntryUnlockDebit: true}
)

type service struct {
	store  storage.Store
	ledger ledger.Service
	events events.Publisher
	log    *slog.Logger
}

func NewService(store storage.Store, ledger ledger.Service, pub events.Publisher, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	if pub == nil {
		pub = events.NoopPublisher{}
	}
	return &service{store: store, ledger: ledger, events: pub, log: log}
}

var _ Service = (*service)(nil)

func (s *service) Credit(ctx context.Context, m Movement) (decimal.Decimal, error) {
	var entry *models.LedgerEntry
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.LockAccounts(ctx, m.AccountID); err != nil {
			return err
		}
		e, err := s.CreditTx(ctx, tx, m)
		entry = e
		return err
	})
	metrics.WalletOps.WithLabelValues("credit", metrics.Result(err)).Inc()
	if err != nil {
		return decimal.Zero, err
	}
	s.announce(ctx, events.WalletCredited, entry)
	return entry.BalanceAfter, nil
}

func (s *service) Debit(ctx context.Context, m Movement) (decimal.Decimal, error) {
	var entry *models.LedgerEntry
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		locked, err := tx.LockAccounts(ctx, m.AccountID)
		if err != nil {
			return err
		}
		e, err := s.DebitTx(ctx, tx, locked[m.AccountID], m)
		entry = e
		return err
	})
	metrics.WalletOps.WithLabelValues("debit", metrics.Result(err)).Inc()
	if err != nil {
		return decimal.Zero, err
	}
	s.announce(ctx, events.WalletDebited, entry)
	return entry.BalanceAfter, nil
}

func (s *service) CreditTx(ctx context.Context, tx storage.Tx, m Movement) (*models.LedgerEntry, error) {
	if err := money.ValidatePositive(m.Amount); err != nil {
		return nil, err
	}
	if !creditKinds[m.Kind] {
		return nil, models.Invalid("%q is not a credit kind", m.Kind)
	}
	return s.ledger.RecordEntryTx(ctx, tx, ledger.EntryRequest{
		AccountID:   m.AccountID,
		Kind:        m.Kind,
		Amount:      m.Amount,
		Description: m.Description,
		RelatedID:   m.RelatedID,
	})
}

// DebitTx checks the locked balance before writing. locked must be the row
// returned by LockAccounts in this transaction.
func (s *service) DebitTx(ctx context.Context, tx storage.Tx, locked *models.Account, m Movement) (*models.LedgerEntry, error) {
	if err := money.ValidatePositive(m.Amount); err != nil {
		return nil, err
	}
	if !debitKinds[m.Kind] {
		return nil, models.Invalid("%q is not a debit kind", m.Kind)
	}
	if locked == nil || locked.ID != m.AccountID {
		return nil, models.Invalid("debit requires the locked account row")
	}
	if locked.Balance.LessThan(m.Amount) {
		return nil, &models.InsufficientBalanceError{
			AccountID: m.AccountID,
			Required:  m.Amount,
			Available: locked.Balance,
		}
	}
	e, err := s.ledger.RecordEntryTx(ctx, tx, ledger.EntryRequest{
		AccountID:   m.AccountID,
		Kind:        m.Kind,
		Amount:      m.Amount.Neg(),
		Description: m.Description,
		RelatedID:   m.RelatedID,
	})
	if err != nil {
		return nil, err
	}
	locked.Balance = e.BalanceAfter
	return e, nil
}

func (s *service) Recharge(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*models.LedgerEntry, error) {
	if err := money.ValidatePositive(amount); err != nil {
		return nil, err
	}
	var entry *models.LedgerEntry
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.LockAccounts(ctx, accountID); err != nil {
			return err
		}
		e, err := s.CreditTx(ctx, tx, Movement{
			AccountID:   accountID,
			Amount:      amount,
			Kind:        models.EntryRecharge,
			Description: "Wallet recharged with " + money.Format(amount),
		})
		entry = e
		return err
	})
	metrics.WalletOps.WithLabelValues("recharge", metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "wallet recharged", "account_id", accountID, "amount", money.Format(amount))
	s.announce(ctx, events.WalletCredited, entry)
	return entry, nil
}

func (s *service) Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	return s.ledger.CurrentBalance(ctx, accountID)
}

func (s *service) Statement(ctx context.Context, accountID uuid.UUID) (*Statement, error) {
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	entries, err := s.ledger.EntriesFor(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &Statement{Account: acc, Entries: entries}, nil
}

func (s *service) announce(ctx context.Context, subject string, e *models.LedgerEntry) {
	events.Emit(ctx, s.events, s.log, subject, events.WalletEvent{
		AccountID: e.AccountID.String(),
		EntryID:   e.ID.String(),
		Kind:      e.Kind,
		Amount:    money.Format(e.Amount),
		Balance:   money.Format(e.BalanceAfter),
	})
}
