package unlock

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labourconnect/backend/internal/events"
	"github.com/labourconnect/backend/internal/ledger"
	"github.com/labourconnect/backend/internal/middleware"
	"github.com/labourconnect/backend/internal/models"
	"github.com/labourconnect/backend/internal/storage/memory"
	"github.com/labourconnect/backend/internal/wallet"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store  *memory.Store
	wallet wallet.Service
	tr     Transactor
	events *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	rec := &events.Recorder{}
	w := wallet.NewService(store, ledger.NewService(store), rec, nil)
	return &fixture{store: store, wallet: w, tr: NewTransactor(store, w, rec, nil), events: rec}
}

func (f *fixture) customer(t *testing.T, phone, balance string) uuid.UUID {
	t.Helper()
	a := &models.Account{Phone: phone, Name: "customer", Role: models.RoleCustomer}
	if err := f.store.CreateAccount(context.Background(), a, nil); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if b := dec(balance); b.IsPositive() {
		if _, err := f.wallet.Recharge(context.Background(), a.ID, b); err != nil {
			t.Fatalf("Recharge: %v", err)
		}
	}
	return a.ID
}

// provider returns the provider profile id and its owning account id.
func (f *fixture) provider(t *testing.T, phone string) (uuid.UUID, uuid.UUID) {
	t.Helper()
	a := &models.Account{Phone: phone, Name: "provider", Role: models.RoleProvider}
	p := &models.Provider{Skills: []string{"plumbing"}, PinCode: "560001"}
	if err := f.store.CreateAccount(context.Background(), a, p); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return p.ID, a.ID
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	b, err := f.wallet.Balance(context.Background(), id)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return b
}

func (f *fixture) entries(t *testing.T, id uuid.UUID) []*models.LedgerEntry {
	t.Helper()
	es, err := f.store.ListEntries(context.Background(), id)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	return es
}

func (f *fixture) assertBalanced(t *testing.T, ids ...uuid.UUID) {
	t.Helper()
	l := ledger.NewService(f.store)
	for _, id := range ids {
		rec, err := l.Reconcile(context.Background(), id)
		if err != nil {
			t.Fatalf("Reconcile: %v", err)
		}
		if !rec.Balanced() {
			t.Errorf("account %s: balance %s != entry sum %s", id, rec.Balance, rec.EntrySum)
		}
	}
}

// ---------------------------------------------------------------------------
// Unlock
// ---------------------------------------------------------------------------

func TestUnlock_MovesFeeAndRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.customer(t, "+15550002001", "10.00")
	prov, owner := f.provider(t, "+15550002002")

	rec, err := f.tr.Unlock(ctx, cust, prov)
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if !rec.Fee.Equal(dec("10")) || rec.CustomerID != cust || rec.ProviderID != prov {
		t.Errorf("record: %+v", rec)
	}
	if b := f.balance(t, cust); !b.IsZero() {
		t.Errorf("customer balance: got %s, want 0.00", b)
	}
	if b := f.balance(t, owner); !b.Equal(dec("10")) {
		t.Errorf("provider balance: got %s, want 10.00", b)
	}

	debit := f.entries(t, cust)[0]
	if debit.Kind != models.EntryUnlockDebit || !debit.Amount.Equal(dec("-10")) || debit.RelatedID == nil || *debit.RelatedID != prov {
		t.Errorf("debit entry: %+v", debit)
	}
	credits := f.entries(t, owner)
	if len(credits) != 1 || credits[0].Kind != models.EntryUnlockCredit || !credits[0].Amount.Equal(dec("10")) || *credits[0].RelatedID != cust {
		t.Errorf("credit entries: %+v", credits)
	}

	ok, err := f.tr.Unlocked(ctx, cust, prov)
	if err != nil || !ok {
		t.Errorf("Unlocked: %v %v", ok, err)
	}
	f.assertBalanced(t, cust, owner)

	subj := f.events.Subjects()
	if subj[len(subj)-1] != events.UnlockCompleted {
		t.Errorf("last event: got %s", subj[len(subj)-1])
	}
}

func TestUnlock_SecondAttemptDoesNotCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.customer(t, "+15550002003", "50.00")
	prov, owner := f.provider(t, "+15550002004")

	if _, err := f.tr.Unlock(ctx, cust, prov); err != nil {
		t.Fatalf("first Unlock: %v", err)
	}
	_, err := f.tr.Unlock(ctx, cust, prov)
	if !errors.Is(err, models.ErrAlreadyUnlocked) {
		t.Fatalf("expected ErrAlreadyUnlocked, got %v", err)
	}
	if b := f.balance(t, cust); !b.Equal(dec("40")) {
		t.Errorf("customer balance: got %s, want 40.00", b)
	}
	if b := f.balance(t, owner); !b.Equal(dec("10")) {
		t.Errorf("provider balance: got %s, want 10.00", b)
	}
}

func TestUnlock_AlreadyUnlockedCheckedBeforeBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.customer(t, "+15550002005", "10.00")
	prov, _ := f.provider(t, "+15550002006")

	if _, err := f.tr.Unlock(ctx, cust, prov); err != nil {
		t.Fatalf("first Unlock: %v", err)
	}
	// Balance is now zero; the duplicate still reports AlreadyUnlocked.
	if _, err := f.tr.Unlock(ctx, cust, prov); !errors.Is(err, models.ErrAlreadyUnlocked) {
		t.Fatalf("expected ErrAlreadyUnlocked, got %v", err)
	}
}

func TestUnlock_InsufficientBalanceMovesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.customer(t, "+15550002007", "9.99")
	prov, owner := f.provider(t, "+15550002008")

	_, err := f.tr.Unlock(ctx, cust, prov)
	var ib *models.InsufficientBalanceError
	if !errors.As(err, &ib) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if !ib.Required.Equal(Fee) || !ib.Available.Equal(dec("9.99")) {
		t.Errorf("context: %+v", ib)
	}
	if n := len(f.entries(t, cust)); n != 1 {
		t.Errorf("customer entries: got %d, want only the recharge", n)
	}
	if n := len(f.entries(t, owner)); n != 0 {
		t.Errorf("provider entries: got %d, want 0", n)
	}
	if ok, _ := f.tr.Unlocked(ctx, cust, prov); ok {
		t.Error("unlock record should not exist")
	}
}

func TestUnlock_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.customer(t, "+15550002009", "20.00")
	prov, owner := f.provider(t, "+15550002010")

	if _, err := f.tr.Unlock(ctx, cust, uuid.New()); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown provider: expected ErrNotFound, got %v", err)
	}
	if _, err := f.tr.Unlock(ctx, owner, prov); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("own profile: expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.tr.Unlock(ctx, uuid.New(), prov); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown customer: expected ErrNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestUnlock_ConcurrentSamePair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.customer(t, "+15550002011", "100.00")
	prov, owner := f.provider(t, "+15550002012")

	const workers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, dupe int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.tr.Unlock(ctx, cust, prov)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, models.ErrAlreadyUnlocked):
				dupe++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || dupe != workers-1 {
		t.Fatalf("outcomes: %d ok, %d already unlocked", ok, dupe)
	}
	if b := f.balance(t, cust); !b.Equal(dec("90")) {
		t.Errorf("customer balance: got %s, want 90.00", b)
	}
	if b := f.balance(t, owner); !b.Equal(dec("10")) {
		t.Errorf("provider balance: got %s, want 10.00", b)
	}
	list, _ := f.tr.ListByCustomer(ctx, cust)
	if len(list) != 1 {
		t.Errorf("unlock records: got %d, want 1", len(list))
	}
	f.assertBalanced(t, cust, owner)
}

func TestUnlock_ConcurrentDrainAcrossProviders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.customer(t, "+15550002013", "10.00")
	p1, o1 := f.provider(t, "+15550002014")
	p2, o2 := f.provider(t, "+15550002015")

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, p := range []uuid.UUID{p1, p2} {
		wg.Add(1)
		go func(i int, p uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.tr.Unlock(ctx, cust, p)
		}(i, p)
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, models.ErrInsufficientBalance):
			short++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || short != 1 {
		t.Fatalf("outcomes: %d ok, %d insufficient", ok, short)
	}
	if b := f.balance(t, cust); !b.IsZero() {
		t.Errorf("customer balance: got %s, want 0.00", b)
	}
	total := f.balance(t, o1).Add(f.balance(t, o2))
	if !total.Equal(dec("10")) {
		t.Errorf("providers received %s, want 10.00", total)
	}
	f.assertBalanced(t, cust, o1, o2)
}

func TestUnlock_OppositeRolesDoNotDeadlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two provider accounts that each unlock the other.
	p1, a1 := f.provider(t, "+15550002016")
	p2, a2 := f.provider(t, "+15550002017")
	for _, id := range []uuid.UUID{a1, a2} {
		if _, err := f.wallet.Recharge(ctx, id, dec("10")); err != nil {
			t.Fatalf("Recharge: %v", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = f.tr.Unlock(ctx, a1, p2) }()
	go func() { defer wg.Done(); _, _ = f.tr.Unlock(ctx, a2, p1) }()
	wg.Wait()

	if b := f.balance(t, a1); !b.Equal(dec("10")) {
		t.Errorf("a1 balance: got %s, want 10.00", b)
	}
	if b := f.balance(t, a2); !b.Equal(dec("10")) {
		t.Errorf("a2 balance: got %s, want 10.00", b)
	}
	f.assertBalanced(t, a1, a2)
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

func TestHandler_UnlockStatusCodes(t *testing.T) {
	f := newFixture(t)
	cust := f.customer(t, "+15550002018", "10.00")
	prov, _ := f.provider(t, "+15550002019")

	r := chi.NewRouter()
	h := NewHandler(f.tr, nil)
	r.Post("/providers/{id}/unlock", h.Unlock)

	do := func() int {
		req := httptest.NewRequest(http.MethodPost, "/providers/"+prov.String()+"/unlock", nil)
		req = req.WithContext(middleware.WithPrincipal(req.Context(), &middleware.Principal{AccountID: cust, Role: models.RoleCustomer}))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := do(); code != http.StatusCreated {
		t.Fatalf("first unlock: expected 201, got %d", code)
	}
	if code := do(); code != http.StatusConflict {
		t.Fatalf("second unlock: expected 409, got %d", code)
	}
}
