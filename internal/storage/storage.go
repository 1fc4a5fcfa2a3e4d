// Package storage defines the persistence contract shared by the in-memory and
// Postgres backends. Business rules live in the services, never here.
package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labourconnect/backend/internal/models"
)

// Storage errors wrap the model sentinels so errors.Is works against either.
var (
	ErrNotFound      = fmt.Errorf("storage: %w", models.ErrNotFound)
	ErrAlreadyExists = fmt.Errorf("storage: %w", models.ErrAlreadyExists)
	// ErrNegativeBalance is returned by ApplyEntry when the entry would take the
	// balance below zero. Nothing is written.
	ErrNegativeBalance = fmt.Errorf("storage: balance would go negative: %w", models.ErrInsufficientBalance)
)

// Reader holds the read accessors available outside a transaction. Lists are
// newest first unless noted.
type Reader interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetAccountByPhone(ctx context.Context, phone string) (*models.Account, error)
	ListAccountIDs(ctx context.Context) ([]uuid.UUID, error)
	ListEntries(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error)

	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, f models.JobFilter) ([]*models.Job, error)
	GetBid(ctx context.Context, id uuid.UUID) (*models.Bid, error)
	ListBidsByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Bid, error)
	ListBidsByProvider(ctx context.Context, providerID uuid.UUID) ([]*models.Bid, error)

	GetUnlock(ctx context.Context, customerID, providerID uuid.UUID) (*models.UnlockRecord, error)
	ListUnlocksByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.UnlockRecord, error)

	GetProvider(ctx context.Context, id uuid.UUID) (*models.Provider, error)
	GetProviderByAccount(ctx context.Context, accountID uuid.UUID) (*models.Provider, error)
	ListProviders(ctx context.Context, f models.ProviderFilter) ([]*models.Provider, error)
	ListReviews(ctx context.Context, providerID uuid.UUID) ([]*models.Review, error)
}

// Store is the full persistence surface.
type Store interface {
	Reader

	// InTx runs fn in one atomic unit. Any error from fn rolls back every write
	// fn made and is returned unchanged.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// CreateAccount inserts a with a zero balance, and p when non-nil, in one unit.
	// A duplicate phone yields ErrAlreadyExists.
	CreateAccount(ctx context.Context, a *models.Account, p *models.Provider) error
	CreateJob(ctx context.Context, j *models.Job) error

	CreateChallenge(ctx context.Context, c *models.OTPChallenge) error
	// ConsumeChallenge picks the newest challenge for phone that is eligible at
	// now and calls match on it. When match returns true the challenge is marked
	// verified and returned. Otherwise ErrNotFound. The mark is atomic: a
	// challenge is consumed at most once, and only while it is still the newest
	// eligible one.
	ConsumeChallenge(ctx context.Context, phone string, now time.Time, match func(*models.OTPChallenge) bool) (*models.OTPChallenge, error)
	// PurgeChallenges deletes challenges that expired before cutoff.
	PurgeChallenges(ctx context.Context, cutoff time.Time) (int64, error)
}

// Tx is the write surface inside InTx.
type Tx interface {
	// LockAccounts acquires the rows for ids in ascending id order and returns
	// them keyed by id. Duplicates are ignored. Unknown ids yield ErrNotFound.
	LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*models.Account, error)
	// ApplyEntry appends e and moves the cached balance by e.Amount in the same
	// step. It fills e.ID, e.Seq, e.BalanceAfter and e.CreatedAt and returns the
	// new balance. The account must already be locked in this Tx.
	ApplyEntry(ctx context.Context, e *models.LedgerEntry) (decimal.Decimal, error)
	ListEntries(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error)

	GetUnlock(ctx context.Context, customerID, providerID uuid.UUID) (*models.UnlockRecord, error)
	// CreateUnlock yields ErrAlreadyExists when the pair already has a record.
	CreateUnlock(ctx context.Context, u *models.UnlockRecord) error

	// LockJob acquires the job row so status checks and writes are serialized.
	LockJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateJob(ctx context.Context, j *models.Job) error
	GetBid(ctx context.Context, id uuid.UUID) (*models.Bid, error)
	ListBidsByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Bid, error)
	CreateBid(ctx context.Context, b *models.Bid) error
	UpdateBidStatus(ctx context.Context, id uuid.UUID, status string) error

	// LockProvider acquires the provider row for rating updates.
	LockProvider(ctx context.Context, id uuid.UUID) (*models.Provider, error)
	CreateReview(ctx context.Context, r *models.Review) error
	ListReviews(ctx context.Context, providerID uuid.UUID) ([]*models.Review, error)
	UpdateProviderRating(ctx context.Context, id uuid.UUID, rating decimal.Decimal, total int) error
}

// SortIDs orders ids ascending with duplicates removed. Both backends lock in
// this order.
func SortIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
