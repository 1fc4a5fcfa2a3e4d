package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/labourconnect/backend/internal/ledger"
	"github.com/labourconnect/backend/internal/metrics"
)

// ChallengePurger deletes old OTP challenges.
type ChallengePurger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// AccountLister lists every account id.
type AccountLister interface {
	ListAccountIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Jobs holds the scheduled tasks. Each run uses its own timeout.
type Jobs struct {
	purger    ChallengePurger
	accounts  AccountLister
	ledger    ledger.Service
	retention time.Duration
	timeout   time.Duration
	log       *slog.Logger
}

func NewJobs(purger ChallengePurger, accounts AccountLister, l ledger.Service, retention time.Duration, log *slog.Logger) *Jobs {
	if log == nil {
		log = slog.Default()
	}
	return &Jobs{
		purger:    purger,
		accounts:  accounts,
		ledger:    l,
		retention: retention,
		timeout:   5 * time.Minute,
		log:       log,
	}
}

// SweepChallenges removes challenges that expired more than the retention
// period ago. Verify already rejects them; this only reclaims space.
func (j *Jobs) SweepChallenges() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	n, err := j.purger.Purge(ctx, j.retention)
	if err != nil {
		j.log.Error("failed to sweep otp challenges", "error", err)
		return
	}
	j.log.Info("otp challenge sweep finished", "purged", n)
}

// ReconcileAccounts checks every account's cached balance against its entries.
func (j *Jobs) ReconcileAccounts() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	j.log.Info("starting ledger reconciliation job")
	mismatched, err := j.ReconcileAll(ctx)
	if err != nil {
		j.log.Error("ledger reconciliation aborted", "error", err)
		return
	}
	j.log.Info("ledger reconciliation job finished", "mismatched", len(mismatched))
}

// ReconcileAll returns the accounts whose balance does not match and sets the
// mismatch gauge. Errors on single accounts are logged and skipped.
func (j *Jobs) ReconcileAll(ctx context.Context) ([]uuid.UUID, error) {
	ids, err := j.accounts.ListAccountIDs(ctx)
	if err != nil {
		return nil, err
	}
	var mismatched []uuid.UUID
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return mismatched, err
		}
		_, err := j.ledger.Reconcile(ctx, id)
		switch {
		case err == nil:
		case errors.Is(err, ledger.ErrMismatch):
			j.log.Error("ledger mismatch", "account_id", id, "error", err)
			mismatched = append(mismatched, id)
		default:
			j.log.Warn("reconcile failed", "account_id", id, "error", err)
		}
	}
	metrics.LedgerMismatches.Set(float64(len(mismatched)))
	return mismatched, nil
}
