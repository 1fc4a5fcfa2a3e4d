// Package storagetest holds behaviour checks every storage.Store backend must
// pass. Backends call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labourconnect/backend/internal/models"
	"github.com/labourconnect/backend/internal/storage"
)

// Factory returns a ready store. Stores may be shared between subtests, so
// every check creates its own rows.
type Factory func(t *testing.T) storage.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("AccountCreate", func(t *testing.T) { testAccountCreate(t, newStore(t)) })
	t.Run("ApplyEntry", func(t *testing.T) { testApplyEntry(t, newStore(t)) })
	t.Run("AmountRange", func(t *testing.T) { testAmountRange(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("UnlockUnique", func(t *testing.T) { testUnlockUnique(t, newStore(t)) })
	t.Run("ConcurrentDebits", func(t *testing.T) { testConcurrentDebits(t, newStore(t)) })
	t.Run("Challenges", func(t *testing.T) { testChallenges(t, newStore(t)) })
	t.Run("JobsAndBids", func(t *testing.T) { testJobsAndBids(t, newStore(t)) })
	t.Run("Providers", func(t *testing.T) { testProviders(t, newStore(t)) })
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func phone() string { return fmt.Sprintf("+1%010d", uuid.New().ID()) }

func account(t *testing.T, s storage.Store, role string) *models.Account {
	t.Helper()
	a := &models.Account{ID: uuid.New(), Phone: phone(), Name: "test", Role: role}
	var p *models.Provider
	if role == models.RoleProvider {
		p = &models.Provider{ID: uuid.New(), Skills: []string{"plumbing"}, PinCode: "560001"}
	}
	if err := s.CreateAccount(context.Background(), a, p); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return a
}

func credit(t *testing.T, s storage.Store, id uuid.UUID, amount string) {
	t.Helper()
	err := s.InTx(context.Background(), func(tx storage.Tx) error {
		if _, err := tx.LockAccounts(context.Background(), id); err != nil {
			return err
		}
		_, err := tx.ApplyEntry(context.Background(), &models.LedgerEntry{AccountID: id, Kind: models.EntryRecharge, Amount: dec(amount)})
		return err
	})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
}

func balance(t *testing.T, s storage.Store, id uuid.UUID) decimal.Decimal {
	t.Helper()
	a, err := s.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	return a.Balance
}

// ---------------------------------------------------------------------------
// Checks
// ---------------------------------------------------------------------------

func testAccountCreate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := account(t, s, models.RoleCustomer)
	if !a.Balance.IsZero() {
		t.Errorf("new balance: %s", a.Balance)
	}
	got, err := s.GetAccountByPhone(ctx, a.Phone)
	if err != nil || got.ID != a.ID {
		t.Fatalf("GetAccountByPhone: %v %v", got, err)
	}
	dup := &models.Account{ID: uuid.New(), Phone: a.Phone, Name: "dup", Role: models.RoleCustomer}
	if err := s.CreateAccount(ctx, dup, nil); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("duplicate phone: expected ErrAlreadyExists, got %v", err)
	}
	if _, err := s.GetAccount(ctx, uuid.New()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown account: expected ErrNotFound, got %v", err)
	}
}

func testApplyEntry(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := account(t, s, models.RoleCustomer)
	credit(t, s, a.ID, "25.50")

	err := s.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.LockAccounts(ctx, a.ID); err != nil {
			return err
		}
		_, err := tx.ApplyEntry(ctx, &models.LedgerEntry{AccountID: a.ID, Kind: models.EntryUnlockDebit, Amount: dec("-30.00")})
		return err
	})
	if !errors.Is(err, storage.ErrNegativeBalance) {
		t.Fatalf("overdraw: expected ErrNegativeBalance, got %v", err)
	}

	var after decimal.Decimal
	err = s.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.LockAccounts(ctx, a.ID); err != nil {
			return err
		}
		e := &models.LedgerEntry{AccountID: a.ID, Kind: models.EntryUnlockDebit, Amount: dec("-25.50")}
		var err error
		after, err = tx.ApplyEntry(ctx, e)
		if err == nil && !e.BalanceAfter.Equal(after) {
			t.Errorf("BalanceAfter %s, returned %s", e.BalanceAfter, after)
		}
		return err
	})
	if err != nil {
		t.Fatalf("exact debit: %v", err)
	}
	if !after.IsZero() || !balance(t, s, a.ID).IsZero() {
		t.Errorf("balance after exact debit: %s", after)
	}

	entries, err := s.ListEntries(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 2 || entries[0].Kind != models.EntryUnlockDebit {
		t.Fatalf("entries should be newest first: %+v", entries)
	}
}

func testAmountRange(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := account(t, s, models.RoleCustomer)
	credit(t, s, a.ID, "10.00")

	apply := func(amount string) error {
		return s.InTx(ctx, func(tx storage.Tx) error {
			if _, err := tx.LockAccounts(ctx, a.ID); err != nil {
				return err
			}
			_, err := tx.ApplyEntry(ctx, &models.LedgerEntry{AccountID: a.ID, Kind: models.EntryRecharge, Amount: dec(amount)})
			return err
		})
	}
	for _, amt := range []string{"184467440737095506.16", "184467440737095516.16", "92233720368547758.08"} {
		if err := apply(amt); !errors.Is(err, models.ErrInvalidInput) {
			t.Errorf("ApplyEntry(%s): expected ErrInvalidInput, got %v", amt, err)
		}
	}
	if !balance(t, s, a.ID).Equal(dec("10")) {
		t.Fatalf("balance moved: %s", balance(t, s, a.ID))
	}

	// The entry fits but the resulting balance does not.
	if err := apply("92233720368547758.00"); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("balance overflow: expected ErrInvalidInput, got %v", err)
	}
	if !balance(t, s, a.ID).Equal(dec("10")) {
		t.Errorf("balance moved: %s", balance(t, s, a.ID))
	}
	if es, _ := s.ListEntries(ctx, a.ID); len(es) != 1 {
		t.Errorf("entries: got %d, want 1", len(es))
	}
}

func testRollback(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := account(t, s, models.RoleCustomer)
	b := account(t, s, models.RoleCustomer)
	credit(t, s, a.ID, "10.00")

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.LockAccounts(ctx, a.ID, b.ID); err != nil {
			return err
		}
		if _, err := tx.ApplyEntry(ctx, &models.LedgerEntry{AccountID: a.ID, Kind: models.EntryUnlockDebit, Amount: dec("-10.00")}); err != nil {
			return err
		}
		if _, err := tx.ApplyEntry(ctx, &models.LedgerEntry{AccountID: b.ID, Kind: models.EntryUnlockCredit, Amount: dec("10.00")}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error back, got %v", err)
	}
	if !balance(t, s, a.ID).Equal(dec("10")) || !balance(t, s, b.ID).IsZero() {
		t.Errorf("rollback left balances %s / %s", balance(t, s, a.ID), balance(t, s, b.ID))
	}
	if es, _ := s.ListEntries(ctx, b.ID); len(es) != 0 {
		t.Errorf("rollback left %d entries", len(es))
	}

	err = s.InTx(ctx, func(tx storage.Tx) error {
		_, err := tx.LockAccounts(ctx, a.ID, uuid.New())
		return err
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("locking unknown account: expected ErrNotFound, got %v", err)
	}
}

func testUnlockUnique(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := account(t, s, models.RoleCustomer)
	pa := account(t, s, models.RoleProvider)
	p, err := s.GetProviderByAccount(ctx, pa.ID)
	if err != nil {
		t.Fatalf("GetProviderByAccount: %v", err)
	}

	create := func() error {
		return s.InTx(ctx, func(tx storage.Tx) error {
			return tx.CreateUnlock(ctx, &models.UnlockRecord{CustomerID: c.ID, ProviderID: p.ID, Fee: dec("10.00")})
		})
	}
	if err := create(); err != nil {
		t.Fatalf("first unlock: %v", err)
	}
	if err := create(); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("second unlock: expected ErrAlreadyExists, got %v", err)
	}
	list, err := s.ListUnlocksByCustomer(ctx, c.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListUnlocksByCustomer: %d %v", len(list), err)
	}
	if _, err := s.GetUnlock(ctx, c.ID, p.ID); err != nil {
		t.Errorf("GetUnlock: %v", err)
	}
}

func testConcurrentDebits(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := account(t, s, models.RoleCustomer)
	credit(t, s, a.ID, "50.00")

	const workers = 12
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(ctx, func(tx storage.Tx) error {
				if _, err := tx.LockAccounts(ctx, a.ID); err != nil {
					return err
				}
				_, err := tx.ApplyEntry(ctx, &models.LedgerEntry{AccountID: a.ID, Kind: models.EntryUnlockDebit, Amount: dec("-10.00")})
				return err
			})
			switch {
			case err == nil:
				mu.Lock()
				ok++
				mu.Unlock()
			case !errors.Is(err, storage.ErrNegativeBalance):
				t.Errorf("debit: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 5 {
		t.Errorf("successful debits: got %d, want 5", ok)
	}
	if !balance(t, s, a.ID).IsZero() {
		t.Errorf("final balance: %s", balance(t, s, a.ID))
	}
}

func testChallenges(t *testing.T, s storage.Store) {
	ctx := context.Background()
	ph := phone()
	t0 := time.Date(2001, 1, 1, 12, 0, 0, 0, time.UTC)

	add := func(hash string, issued time.Time, ttl time.Duration) {
		if err := s.CreateChallenge(ctx, &models.OTPChallenge{Phone: ph, CodeHash: hash, IssuedAt: issued, ExpiresAt: issued.Add(ttl)}); err != nil {
			t.Fatalf("CreateChallenge: %v", err)
		}
	}
	is := func(hash string) func(*models.OTPChallenge) bool {
		return func(c *models.OTPChallenge) bool { return c.CodeHash == hash }
	}

	add("old", t0, 10*time.Minute)
	add("new", t0.Add(time.Minute), 10*time.Minute)
	now := t0.Add(2 * time.Minute)

	if _, err := s.ConsumeChallenge(ctx, ph, now, is("old")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("older challenge matched: %v", err)
	}
	c, err := s.ConsumeChallenge(ctx, ph, now, is("new"))
	if err != nil {
		t.Fatalf("newest challenge: %v", err)
	}
	if !c.Verified || c.VerifiedAt == nil {
		t.Errorf("consumed challenge not marked: %+v", c)
	}
	if _, err := s.ConsumeChallenge(ctx, ph, now, is("new")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("reuse: %v", err)
	}
	if _, err := s.ConsumeChallenge(ctx, ph, t0.Add(time.Hour), is("old")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expired challenge matched: %v", err)
	}

	n, err := s.PurgeChallenges(ctx, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeChallenges: %v", err)
	}
	if n < 2 {
		t.Errorf("purged %d, want at least 2", n)
	}
}

func testJobsAndBids(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := account(t, s, models.RoleCustomer)
	pa := account(t, s, models.RoleProvider)
	p, _ := s.GetProviderByAccount(ctx, pa.ID)

	j := &models.Job{ID: uuid.New(), CustomerID: c.ID, Title: "tap", Description: "drips", Category: "plumbing", Status: models.JobStatusOpen}
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	b := &models.Bid{ID: uuid.New(), JobID: j.ID, ProviderID: p.ID, Amount: dec("450.00"), Status: models.BidStatusPending}
	err := s.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.LockJob(ctx, j.ID); err != nil {
			return err
		}
		return tx.CreateBid(ctx, b)
	})
	if err != nil {
		t.Fatalf("CreateBid: %v", err)
	}

	err = s.InTx(ctx, func(tx storage.Tx) error {
		job, err := tx.LockJob(ctx, j.ID)
		if err != nil {
			return err
		}
		job.Status = models.JobStatusAssigned
		job.AssignedProviderID = &p.ID
		job.AcceptedBidID = &b.ID
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		return tx.UpdateBidStatus(ctx, b.ID, models.BidStatusAccepted)
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != models.JobStatusAssigned || got.AssignedProviderID == nil || *got.AssignedProviderID != p.ID {
		t.Errorf("job after accept: %+v", got)
	}
	mine, _ := s.ListBidsByProvider(ctx, p.ID)
	if len(mine) != 1 || mine[0].Status != models.BidStatusAccepted || !mine[0].Amount.Equal(dec("450")) {
		t.Errorf("bids by provider: %+v", mine)
	}
	open, _ := s.ListJobs(ctx, models.JobFilter{CustomerID: &c.ID, Status: models.JobStatusOpen})
	if len(open) != 0 {
		t.Errorf("open jobs for customer: %d", len(open))
	}
}

func testProviders(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := account(t, s, models.RoleCustomer)
	pa := account(t, s, models.RoleProvider)
	p, _ := s.GetProviderByAccount(ctx, pa.ID)

	err := s.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.LockProvider(ctx, p.ID); err != nil {
			return err
		}
		if err := tx.CreateReview(ctx, &models.Review{ProviderID: p.ID, CustomerID: c.ID, Rating: 4}); err != nil {
			return err
		}
		all, err := tx.ListReviews(ctx, p.ID)
		if err != nil {
			return err
		}
		return tx.UpdateProviderRating(ctx, p.ID, dec("4.00"), len(all))
	})
	if err != nil {
		t.Fatalf("review: %v", err)
	}

	got, err := s.GetProvider(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	if !got.Rating.Equal(dec("4")) || got.TotalReviews != 1 {
		t.Errorf("rating: %s/%d", got.Rating, got.TotalReviews)
	}

	list, err := s.ListProviders(ctx, models.ProviderFilter{Skill: "PLUMBING", PinCode: "560001"})
	if err != nil {
		t.Fatalf("ListProviders: %v", err)
	}
	found := false
	for _, x := range list {
		found = found || x.ID == p.ID
	}
	if !found {
		t.Error("provider missing from skill search")
	}
}
