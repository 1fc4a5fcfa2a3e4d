// Package memory is an in-process storage.Store. Transactions take the store's
// write lock for their whole duration and record an undo journal so a failed
// transaction leaves nothing behind.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labourconnect/backend/internal/models"
	"github.com/labourconnect/backend/internal/money"
	"github.com/labourconnect/backend/internal/storage"
)

type unlockKey struct {
	customer uuid.UUID
	provider uuid.UUID
}

type Store struct {
	mu  sync.RWMutex
	now func() time.Time
	seq int64

	accounts      map[uuid.UUID]*models.Account
	accountOrder  []uuid.UUID
	phones        map[string]uuid.UUID
	entries       map[uuid.UUID][]*models.LedgerEntry
	jobs          map[uuid.UUID]*models.Job
	jobOrder      []uuid.UUID
	bids          map[uuid.UUID]*models.Bid
	bidOrder      []uuid.UUID
	unlocks       map[unlockKey]*models.UnlockRecord
	unlockOrder   []unlockKey
	providers     map[uuid.UUID]*models.Provider
	providerOrder []uuid.UUID
	byAccount     map[uuid.UUID]uuid.UUID
	reviews       map[uuid.UUID][]*models.Review
	challenges    []*models.OTPChallenge
}

func New() *Store {
	return &Store{
		now:       time.Now,
		accounts:  make(map[uuid.UUID]*models.Account),
		phones:    make(map[string]uuid.UUID),
		entries:   make(map[uuid.UUID][]*models.LedgerEntry),
		jobs:      make(map[uuid.UUID]*models.Job),
		bids:      make(map[uuid.UUID]*models.Bid),
		unlocks:   make(map[unlockKey]*models.UnlockRecord),
		providers: make(map[uuid.UUID]*models.Provider),
		byAccount: make(map[uuid.UUID]uuid.UUID),
		reviews:   make(map[uuid.UUID][]*models.Review),
	}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{s: s}
	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

type tx struct {
	s    *Store
	undo []func()
}

var _ storage.Tx = (*tx)(nil)

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*models.Account, error) {
	out := make(map[uuid.UUID]*models.Account, len(ids))
	for _, id := range storage.SortIDs(ids) {
		a, ok := t.s.accounts[id]
		if !ok {
			return nil, storage.ErrNotFound
		}
		out[id] = cloneAccount(a)
	}
	return out, nil
}

func (t *tx) ApplyEntry(ctx context.Context, e *models.LedgerEntry) (decimal.Decimal, error) {
	a, ok := t.s.accounts[e.AccountID]
	if !ok {
		return decimal.Zero, storage.ErrNotFound
	}
	// Same range the durable backend stores in BIGINT cents.
	if _, err := money.ToCents(e.Amount); err != nil {
		return decimal.Zero, err
	}
	next := a.Balance.Add(e.Amount)
	if _, err := money.ToCents(next); err != nil {
		return decimal.Zero, err
	}
	if next.IsNegative() {
		return decimal.Zero, storage.ErrNegativeBalance
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := t.s.now()
	e.Seq = t.s.nextSeq()
	e.BalanceAfter = next
	e.CreatedAt = now

	prevBalance, prevUpdated := a.Balance, a.UpdatedAt
	a.Balance = next
	a.UpdatedAt = now
	n := len(t.s.entries[e.AccountID])
	t.s.entries[e.AccountID] = append(t.s.entries[e.AccountID], cloneEntry(e))

	t.undo = append(t.undo, func() {
		a.Balance, a.UpdatedAt = prevBalance, prevUpdated
		t.s.entries[e.AccountID] = t.s.entries[e.AccountID][:n]
	})
	return next, nil
}

func (t *tx) ListEntries(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error) {
	return t.s.listEntries(accountID)
}

func (t *tx) GetUnlock(ctx context.Context, customerID, providerID uuid.UUID) (*models.UnlockRecord, error) {
	return t.s.getUnlock(customerID, providerID)
}

func (t *tx) CreateUnlock(ctx context.Context, u *models.UnlockRecord) error {
	key := unlockKey{customer: u.CustomerID, provider: u.ProviderID}
	if _, ok := t.s.unlocks[key]; ok {
		return storage.ErrAlreadyExists
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = t.s.now()
	cp := *u
	t.s.unlocks[key] = &cp
	t.s.unlockOrder = append(t.s.unlockOrder, key)
	t.undo = append(t.undo, func() {
		delete(t.s.unlocks, key)
		t.s.unlockOrder = t.s.unlockOrder[:len(t.s.unlockOrder)-1]
	})
	return nil
}

func (t *tx) LockJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return t.s.getJob(id)
}

func (t *tx) UpdateJob(ctx context.Context, j *models.Job) error {
	cur, ok := t.s.jobs[j.ID]
	if !ok {
		return storage.ErrNotFound
	}
	prev := cloneJob(cur)
	next := cloneJob(j)
	next.UpdatedAt = t.s.now()
	t.s.jobs[j.ID] = next
	j.UpdatedAt = next.UpdatedAt
	t.undo = append(t.undo, func() { t.s.jobs[j.ID] = prev })
	return nil
}

func (t *tx) GetBid(ctx context.Context, id uuid.UUID) (*models.Bid, error) {
	return t.s.getBid(id)
}

func (t *tx) ListBidsByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Bid, error) {
	return t.s.listBids(func(b *models.Bid) bool { return b.JobID == jobID }), nil
}

func (t *tx) CreateBid(ctx context.Context, b *models.Bid) error {
	if _, ok := t.s.jobs[b.JobID]; !ok {
		return storage.ErrNotFound
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := t.s.now()
	b.CreatedAt, b.UpdatedAt = now, now
	cp := *b
	t.s.bids[b.ID] = &cp
	t.s.bidOrder = append(t.s.bidOrder, b.ID)
	t.undo = append(t.undo, func() {
		delete(t.s.bids, b.ID)
		t.s.bidOrder = t.s.bidOrder[:len(t.s.bidOrder)-1]
	})
	return nil
}

func (t *tx) UpdateBidStatus(ctx context.Context, id uuid.UUID, status string) error {
	b, ok := t.s.bids[id]
	if !ok {
		return storage.ErrNotFound
	}
	prevStatus, prevUpdated := b.Status, b.UpdatedAt
	b.Status = status
	b.UpdatedAt = t.s.now()
	t.undo = append(t.undo, func() { b.Status, b.UpdatedAt = prevStatus, prevUpdated })
	return nil
}

func (t *tx) LockProvider(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	return t.s.getProvider(id)
}

func (t *tx) CreateReview(ctx context.Context, r *models.Review) error {
	if _, ok := t.s.providers[r.ProviderID]; !ok {
		return storage.ErrNotFound
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = t.s.now()
	cp := *r
	n := len(t.s.reviews[r.ProviderID])
	t.s.reviews[r.ProviderID] = append(t.s.reviews[r.ProviderID], &cp)
	t.undo = append(t.undo, func() { t.s.reviews[r.ProviderID] = t.s.reviews[r.ProviderID][:n] })
	return nil
}

func (t *tx) ListReviews(ctx context.Context, providerID uuid.UUID) ([]*models.Review, error) {
	return t.s.listReviews(providerID), nil
}

func (t *tx) UpdateProviderRating(ctx context.Context, id uuid.UUID, rating decimal.Decimal, total int) error {
	p, ok := t.s.providers[id]
	if !ok {
		return storage.ErrNotFound
	}
	prevRating, prevTotal := p.Rating, p.TotalReviews
	p.Rating, p.TotalReviews = rating, total
	t.undo = append(t.undo, func() { p.Rating, p.TotalReviews = prevRating, prevTotal })
	return nil
}

// ---------------------------------------------------------------------------
// Creates
// ---------------------------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, a *models.Account, p *models.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.phones[a.Phone]; ok {
		return storage.ErrAlreadyExists
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := s.now()
	a.Balance = decimal.Zero
	a.CreatedAt, a.UpdatedAt = now, now
	s.accounts[a.ID] = cloneAccount(a)
	s.accountOrder = append(s.accountOrder, a.ID)
	s.phones[a.Phone] = a.ID

	if p != nil {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.AccountID = a.ID
		p.Rating = decimal.Zero
		p.TotalReviews = 0
		p.CreatedAt = now
		s.providers[p.ID] = cloneProvider(p)
		s.providerOrder = append(s.providerOrder, p.ID)
		s.byAccount[a.ID] = p.ID
	}
	return nil
}

func (s *Store) CreateJob(ctx context.Context, j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[j.CustomerID]; !ok {
		return storage.ErrNotFound
	}
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	now := s.now()
	j.CreatedAt, j.UpdatedAt = now, now
	s.jobs[j.ID] = cloneJob(j)
	s.jobOrder = append(s.jobOrder, j.ID)
	return nil
}

func (s *Store) CreateChallenge(ctx context.Context, c *models.OTPChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Seq = s.nextSeq()
	cp := *c
	s.challenges = append(s.challenges, &cp)
	return nil
}

// ConsumeChallenge runs match without holding the lock, so a slow hash
// comparison does not stall other writers. The challenge is marked only if it
// is still the newest eligible one afterwards.
func (s *Store) ConsumeChallenge(ctx context.Context, phone string, now time.Time, match func(*models.OTPChallenge) bool) (*models.OTPChallenge, error) {
	s.mu.RLock()
	c := s.newestChallenge(phone, now)
	var snap models.OTPChallenge
	if c != nil {
		snap = *c
	}
	s.mu.RUnlock()
	if c == nil || !match(&snap) {
		return nil, storage.ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.newestChallenge(phone, now)
	if cur == nil || cur.ID != snap.ID {
		return nil, storage.ErrNotFound
	}
	cur.Verified = true
	at := now
	cur.VerifiedAt = &at
	out := *cur
	return &out, nil
}

// newestChallenge picks the latest eligible challenge for phone. The caller
// holds s.mu.
func (s *Store) newestChallenge(phone string, now time.Time) *models.OTPChallenge {
	var newest *models.OTPChallenge
	for _, c := range s.challenges {
		if c.Phone != phone || !c.Eligible(now) {
			continue
		}
		if newest == nil || c.IssuedAt.After(newest.IssuedAt) ||
			(c.IssuedAt.Equal(newest.IssuedAt) && c.Seq > newest.Seq) {
			newest = c
		}
	}
	return newest
}

func (s *Store) PurgeChallenges(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.challenges[:0]
	var purged int64
	for _, c := range s.challenges {
		if c.ExpiresAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, c)
	}
	s.challenges = kept
	return purged, nil
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneAccount(a), nil
}

func (s *Store) GetAccountByPhone(ctx context.Context, phone string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.phones[phone]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneAccount(s.accounts[id]), nil
}

func (s *Store) ListAccountIDs(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uuid.UUID, len(s.accountOrder))
	copy(out, s.accountOrder)
	return out, nil
}

func (s *Store) ListEntries(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listEntries(accountID)
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getJob(id)
}

func (s *Store) ListJobs(ctx context.Context, f models.JobFilter) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Job
	for i := len(s.jobOrder) - 1; i >= 0; i-- {
		j := s.jobs[s.jobOrder[i]]
		if f.CustomerID != nil && j.CustomerID != *f.CustomerID {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		out = append(out, cloneJob(j))
	}
	return out, nil
}

func (s *Store) GetBid(ctx context.Context, id uuid.UUID) (*models.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getBid(id)
}

func (s *Store) ListBidsByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listBids(func(b *models.Bid) bool { return b.JobID == jobID }), nil
}

func (s *Store) ListBidsByProvider(ctx context.Context, providerID uuid.UUID) ([]*models.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listBids(func(b *models.Bid) bool { return b.ProviderID == providerID }), nil
}

func (s *Store) GetUnlock(ctx context.Context, customerID, providerID uuid.UUID) (*models.UnlockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getUnlock(customerID, providerID)
}

func (s *Store) ListUnlocksByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.UnlockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.UnlockRecord
	for i := len(s.unlockOrder) - 1; i >= 0; i-- {
		key := s.unlockOrder[i]
		if key.customer != customerID {
			continue
		}
		cp := *s.unlocks[key]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) GetProvider(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getProvider(id)
}

func (s *Store) GetProviderByAccount(ctx context.Context, accountID uuid.UUID) (*models.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAccount[accountID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.getProvider(id)
}

func (s *Store) ListProviders(ctx context.Context, f models.ProviderFilter) ([]*models.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	skill := strings.ToLower(strings.TrimSpace(f.Skill))
	var out []*models.Provider
	for _, id := range s.providerOrder {
		p := s.providers[id]
		if f.PinCode != "" && p.PinCode != f.PinCode {
			continue
		}
		if skill != "" && !hasSkill(p.Skills, skill) {
			continue
		}
		out = append(out, cloneProvider(p))
	}
	return out, nil
}

func (s *Store) ListReviews(ctx context.Context, providerID uuid.UUID) ([]*models.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listReviews(providerID), nil
}

// ---------------------------------------------------------------------------
// Unlocked helpers; callers hold s.mu.
// ---------------------------------------------------------------------------

func (s *Store) listEntries(accountID uuid.UUID) ([]*models.LedgerEntry, error) {
	if _, ok := s.accounts[accountID]; !ok {
		return nil, storage.ErrNotFound
	}
	src := s.entries[accountID]
	out := make([]*models.LedgerEntry, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		out = append(out, cloneEntry(src[i]))
	}
	return out, nil
}

func (s *Store) getJob(id uuid.UUID) (*models.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *Store) getBid(id uuid.UUID) (*models.Bid, error) {
	b, ok := s.bids[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *Store) listBids(keep func(*models.Bid) bool) []*models.Bid {
	var out []*models.Bid
	for i := len(s.bidOrder) - 1; i >= 0; i-- {
		b := s.bids[s.bidOrder[i]]
		if !keep(b) {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	return out
}

func (s *Store) getUnlock(customerID, providerID uuid.UUID) (*models.UnlockRecord, error) {
	u, ok := s.unlocks[unlockKey{customer: customerID, provider: providerID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) getProvider(id uuid.UUID) (*models.Provider, error) {
	p, ok := s.providers[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneProvider(p), nil
}

func (s *Store) listReviews(providerID uuid.UUID) []*models.Review {
	src := s.reviews[providerID]
	out := make([]*models.Review, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		cp := *src[i]
		out = append(out, &cp)
	}
	return out
}

func hasSkill(skills []string, want string) bool {
	for _, sk := range skills {
		if strings.ToLower(sk) == want {
			return true
		}
	}
	return false
}

func cloneAccount(a *models.Account) *models.Account {
	cp := *a
	return &cp
}

func cloneEntry(e *models.LedgerEntry) *models.LedgerEntry {
	cp := *e
	if e.RelatedID != nil {
		id := *e.RelatedID
		cp.RelatedID = &id
	}
	return &cp
}

func cloneJob(j *models.Job) *models.Job {
	cp := *j
	if j.Budget != nil {
		b := *j.Budget
		cp.Budget = &b
	}
	if j.AssignedProviderID != nil {
		id := *j.AssignedProviderID
		cp.AssignedProviderID = &id
	}
	if j.AcceptedBidID != nil {
		id := *j.AcceptedBidID
		cp.AcceptedBidID = &id
	}
	return &cp
}

func cloneProvider(p *models.Provider) *models.Provider {
	cp := *p
	cp.Skills = append([]string(nil), p.Skills...)
	return &cp
}
