// Package unlock moves the contact fee from a customer to a provider and
// records the unlock, all in one storage transaction.
package unlock

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labourconnect/backend/internal/events"
	"github.com/labourconnect/backend/internal/metrics"
	"github.com/labourconnect/backend/internal/models"
	"github.com/labourconnect/backend/internal/money"
	"github.com/labourconnect/backend/internal/storage"
	"github.com/labourconnect/backend/internal/wallet"
)

// Fee is the price of revealing one provider's contact, 10.00.
var Fee = decimal.New(1000, -money.Scale)

type Transactor interface {
	Unlock(ctx context.Context, customerID, providerID uuid.UUID) (*models.UnlockRecord, error)
	// Unlocked reports whether customerID holds an unlock for providerID.
	Unlocked(ctx context.Context, customerID, providerID uuid.UUID) (bool, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.UnlockRecord, error)
}

type transactor struct {
	store  storage.Store
	wallet wallet.Service
	events events.Publisher
	log    *slog.Logger
}

func NewTransactor(store storage.Store, w wallet.Service, pub events.Publisher, log *slog.Logger) Transactor {
	if log == nil {
		log = slog.Default()
	}
	if pub == nil {
		pub = events.NoopPublisher{}
	}
	return &transactor{store: store, wallet: w, events: pub, log: log}
}

var _ Transactor = (*transactor)(nil)

// Unlock checks for an existing record first, then the customer's balance.
// Both accounts are locked in id order before either check, so a concurrent
// unlock on the same pair or the same customer waits and then observes this
// one's effects.
func (t *transactor) Unlock(ctx context.Context, customerID, providerID uuid.UUID) (*models.UnlockRecord, error) {
	provider, err := t.store.GetProvider(ctx, providerID)
	if err != nil {
		metrics.Unlocks.WithLabelValues(metrics.Result(err)).Inc()
		return nil, err
	}
	if provider.AccountID == customerID {
		err := models.Invalid("cannot unlock your own profile")
		metrics.Unlocks.WithLabelValues(metrics.Result(err)).Inc()
		return nil, err
	}

	var record *models.UnlockRecord
	err = t.store.InTx(ctx, func(tx storage.Tx) error {
		locked, err := tx.LockAccounts(ctx, customerID, provider.AccountID)
		if err != nil {
			return err
		}

		if _, err := tx.GetUnlock(ctx, customerID, providerID); err == nil {
			return models.ErrAlreadyUnlocked
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		customer := locked[customerID]
		if customer.Balance.LessThan(Fee) {
			return &models.InsufficientBalanceError{AccountID: customerID, Required: Fee, Available: customer.Balance}
		}

		if _, err := t.wallet.DebitTx(ctx, tx, customer, wallet.Movement{
			AccountID:   customerID,
			Amount:      Fee,
			Kind:        models.EntryUnlockDebit,
			Description: "Contact unlock fee",
			RelatedID:   &providerID,
		}); err != nil {
			return err
		}
		if _, err := t.wallet.CreditTx(ctx, tx, wallet.Movement{
			AccountID:   provider.AccountID,
			Amount:      Fee,
			Kind:        models.EntryUnlockCredit,
			Description: "Contact unlocked by customer",
			RelatedID:   &customerID,
		}); err != nil {
			return err
		}

		rec := &models.UnlockRecord{ID: uuid.New(), CustomerID: customerID, ProviderID: providerID, Fee: Fee}
		if err := tx.CreateUnlock(ctx, rec); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return models.ErrAlreadyUnlocked
			}
			return err
		}
		record = rec
		return nil
	})
	metrics.Unlocks.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}

	t.log.InfoContext(ctx, "contact unlocked", "customer_id", customerID, "provider_id", providerID)
	events.Emit(ctx, t.events, t.log, events.UnlockCompleted, events.UnlockEvent{
		UnlockID:          record.ID.String(),
		CustomerID:        customerID.String(),
		ProviderID:        providerID.String(),
		ProviderAccountID: provider.AccountID.String(),
		Fee:               money.Format(record.Fee),
	})
	return record, nil
}

func (t *transactor) Unlocked(ctx context.Context, customerID, providerID uuid.UUID) (bool, error) {
	_, err := t.store.GetUnlock(ctx, customerID, providerID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *transactor) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.UnlockRecord, error) {
	return t.store.ListUnlocksByCustomer(ctx, customerID)
}
