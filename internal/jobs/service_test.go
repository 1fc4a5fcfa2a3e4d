package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labourconnect/backend/internal/events"
	"github.com/labourconnect/backend/internal/models"
	"github.com/labourconnect/backend/internal/storage/memory"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store  *memory.Store
	svc    Service
	events *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	rec := &events.Recorder{}
	return &fixture{store: store, svc: NewService(store, rec, nil), events: rec}
}

func (f *fixture) customer(t *testing.T, phone string) uuid.UUID {
	t.Helper()
	a := &models.Account{Phone: phone, Name: "customer", Role: models.RoleCustomer}
	if err := f.store.CreateAccount(context.Background(), a, nil); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return a.ID
}

// provider returns the provider profile id.
func (f *fixture) provider(t *testing.T, phone string) uuid.UUID {
	t.Helper()
	a := &models.Account{Phone: phone, Name: "provider", Role: models.RoleProvider}
	p := &models.Provider{Skills: []string{"electrical"}}
	if err := f.store.CreateAccount(context.Background(), a, p); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return p.ID
}

func (f *fixture) openJob(t *testing.T, customer uuid.UUID) *models.Job {
	t.Helper()
	job, err := f.svc.PostJob(context.Background(), customer, JobDetails{Title: "Fix wiring", Description: "Kitchen", Category: "Electrical"})
	if err != nil {
		t.Fatalf("PostJob: %v", err)
	}
	return job
}

func (f *fixture) bid(t *testing.T, jobID, provider uuid.UUID, amount string) *models.Bid {
	t.Helper()
	b, err := f.svc.PlaceBid(context.Background(), jobID, provider, dec(amount), "")
	if err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	return b
}

func (f *fixture) bidStatus(t *testing.T, id uuid.UUID) string {
	t.Helper()
	b, err := f.store.GetBid(context.Background(), id)
	if err != nil {
		t.Fatalf("GetBid: %v", err)
	}
	return b.Status
}

// ---------------------------------------------------------------------------
// PostJob
// ---------------------------------------------------------------------------

func TestPostJob_StartsOpen(t *testing.T) {
	f := newFixture(t)
	cust := f.customer(t, "+15550003001")
	job := f.openJob(t, cust)
	if job.Status != models.JobStatusOpen {
		t.Errorf("status: got %s, want open", job.Status)
	}
	if job.Category != "electrical" {
		t.Errorf("category should be normalised, got %q", job.Category)
	}
	if subj := f.events.Subjects(); len(subj) != 1 || subj[0] != events.JobPosted {
		t.Errorf("events: %v", subj)
	}
}

func TestPostJob_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.customer(t, "+15550003002")
	f.provider(t, "+15550003003")
	provAcc, _ := f.store.GetAccountByPhone(ctx, "+15550003003")
	negative := dec("-1")

	tests := []struct {
		name     string
		customer uuid.UUID
		d        JobDetails
		want     error
	}{
		{"blank title", cust, JobDetails{Title: "  "}, models.ErrInvalidInput},
		{"negative budget", cust, JobDetails{Title: "t", Budget: &negative}, models.ErrInvalidInput},
		{"provider account", provAcc.ID, JobDetails{Title: "t"}, models.ErrInvalidInput},
		{"unknown account", uuid.New(), JobDetails{Title: "t"}, models.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.PostJob(ctx, tt.customer, tt.d); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// PlaceBid
// ---------------------------------------------------------------------------

func TestPlaceBid_Pending(t *testing.T) {
	f := newFixture(t)
	job := f.openJob(t, f.customer(t, "+15550003004"))
	prov := f.provider(t, "+15550003005")

	b := f.bid(t, job.ID, prov, "500")
	if b.Status != models.BidStatusPending || !b.Amount.Equal(dec("500")) {
		t.Errorf("bid: %+v", b)
	}
	mine, err := f.svc.BidsByProvider(context.Background(), prov)
	if err != nil || len(mine) != 1 {
		t.Errorf("BidsByProvider: %d %v", len(mine), err)
	}
}

func TestPlaceBid_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.openJob(t, f.customer(t, "+15550003006"))
	prov := f.provider(t, "+15550003007")

	if _, err := f.svc.PlaceBid(ctx, job.ID, prov, dec("0"), ""); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("zero amount: got %v", err)
	}
	if _, err := f.svc.PlaceBid(ctx, uuid.New(), prov, dec("1"), ""); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown job: got %v", err)
	}
	if _, err := f.svc.PlaceBid(ctx, job.ID, uuid.New(), dec("1"), ""); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown provider: got %v", err)
	}
	if _, err := f.svc.SetJobStatus(ctx, job.ID, models.JobStatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.PlaceBid(ctx, job.ID, prov, dec("1"), ""); !errors.Is(err, models.ErrJobNotOpen) {
		t.Errorf("cancelled job: got %v", err)
	}
}

// ---------------------------------------------------------------------------
// AcceptBid
// ---------------------------------------------------------------------------

func TestAcceptBid_AssignsAndRejectsSiblings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.openJob(t, f.customer(t, "+15550003008"))
	p1 := f.provider(t, "+15550003009")
	p2 := f.provider(t, "+15550003010")
	b1 := f.bid(t, job.ID, p1, "500")
	b2 := f.bid(t, job.ID, p2, "450")

	got, err := f.svc.AcceptBid(ctx, job.ID, b1.ID)
	if err != nil {
		t.Fatalf("AcceptBid: %v", err)
	}
	if got.Status != models.JobStatusAssigned {
		t.Errorf("job status: got %s", got.Status)
	}
	if got.AssignedProviderID == nil || *got.AssignedProviderID != p1 {
		t.Errorf("assigned provider: %v", got.AssignedProviderID)
	}
	if got.AcceptedBidID == nil || *got.AcceptedBidID != b1.ID {
		t.Errorf("accepted bid: %v", got.AcceptedBidID)
	}
	if s := f.bidStatus(t, b1.ID); s != models.BidStatusAccepted {
		t.Errorf("b1: got %s", s)
	}
	if s := f.bidStatus(t, b2.ID); s != models.BidStatusRejected {
		t.Errorf("b2: got %s", s)
	}

	// A second accept on any other bid observes the job already assigned.
	if _, err := f.svc.AcceptBid(ctx, job.ID, b2.ID); !errors.Is(err, models.ErrJobNotOpen) {
		t.Fatalf("second accept: expected ErrJobNotOpen, got %v", err)
	}
}

func TestAcceptBid_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.customer(t, "+15550003011")
	job := f.openJob(t, cust)
	other := f.openJob(t, cust)
	prov := f.provider(t, "+15550003012")
	foreign := f.bid(t, other.ID, prov, "10")

	if _, err := f.svc.AcceptBid(ctx, job.ID, uuid.New()); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown bid: got %v", err)
	}
	if _, err := f.svc.AcceptBid(ctx, job.ID, foreign.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("bid on another job: got %v", err)
	}
	if _, err := f.svc.AcceptBid(ctx, uuid.New(), foreign.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unknown job: got %v", err)
	}

	// Cancelling the open job rejects its pending bids.
	if _, err := f.svc.SetJobStatus(ctx, other.ID, models.JobStatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if s := f.bidStatus(t, foreign.ID); s != models.BidStatusRejected {
		t.Errorf("bid after cancel: got %s", s)
	}
	if _, err := f.svc.AcceptBid(ctx, other.ID, foreign.ID); !errors.Is(err, models.ErrJobNotOpen) {
		t.Errorf("cancelled job: got %v", err)
	}
}

func TestAcceptBid_ConcurrentTestAndSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.openJob(t, f.customer(t, "+15550003013"))

	const n = 8
	bids := make([]*models.Bid, n)
	for i := range bids {
		bids[i] = f.bid(t, job.ID, f.provider(t, "+1555000310"+string(rune('0'+i))), "100")
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range bids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.AcceptBid(ctx, job.ID, bids[i].ID)
		}(i)
	}
	wg.Wait()

	var ok, notOpen int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, models.ErrJobNotOpen):
			notOpen++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || notOpen != n-1 {
		t.Fatalf("outcomes: %d ok, %d not open", ok, notOpen)
	}

	accepted := 0
	for _, b := range bids {
		if f.bidStatus(t, b.ID) == models.BidStatusAccepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("accepted bids: got %d, want 1", accepted)
	}
	got, _ := f.svc.GetJob(ctx, job.ID)
	if got.Status != models.JobStatusAssigned {
		t.Errorf("job status: got %s", got.Status)
	}
}

// ---------------------------------------------------------------------------
// SetJobStatus
// ---------------------------------------------------------------------------

func TestSetJobStatus_Transitions(t *testing.T) {
	tests := []struct {
		name     string
		assigned bool
		path     []string
		want     error
	}{
		{"open to cancelled", false, []string{models.JobStatusCancelled}, nil},
		{"open to assigned reserved for acceptBid", false, []string{models.JobStatusAssigned}, models.ErrIllegalTransition},
		{"open to completed", false, []string{models.JobStatusCompleted}, models.ErrIllegalTransition},
		{"open to open", false, []string{models.JobStatusOpen}, models.ErrIllegalTransition},
		{"assigned to completed", true, []string{models.JobStatusCompleted}, nil},
		{"assigned to cancelled", true, []string{models.JobStatusCancelled}, nil},
		{"completed to open", true, []string{models.JobStatusCompleted, models.JobStatusOpen}, models.ErrIllegalTransition},
		{"completed to cancelled", true, []string{models.JobStatusCompleted, models.JobStatusCancelled}, models.ErrIllegalTransition},
		{"cancelled to open", false, []string{models.JobStatusCancelled, models.JobStatusOpen}, models.ErrIllegalTransition},
		{"unknown status", false, []string{"paused"}, models.ErrInvalidInput},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			job := f.openJob(t, f.customer(t, "+1555000320"+string(rune('0'+i%10))))
			if tt.assigned {
				b := f.bid(t, job.ID, f.provider(t, "+15550003299"), "10")
				if _, err := f.svc.AcceptBid(ctx, job.ID, b.ID); err != nil {
					t.Fatalf("AcceptBid: %v", err)
				}
			}
			var err error
			for _, s := range tt.path {
				if _, err = f.svc.SetJobStatus(ctx, job.ID, s); err != nil {
					break
				}
			}
			if tt.want == nil {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				got, _ := f.svc.GetJob(ctx, job.ID)
				if got.Status != tt.path[len(tt.path)-1] {
					t.Errorf("status: got %s", got.Status)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// End to end
// ---------------------------------------------------------------------------

func TestScenario_PostBidAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.openJob(t, f.customer(t, "+15550003301"))
	pa := f.provider(t, "+15550003302")
	pb := f.provider(t, "+15550003303")
	bidA := f.bid(t, job.ID, pa, "500")
	bidB := f.bid(t, job.ID, pb, "520")

	got, err := f.svc.AcceptBid(ctx, job.ID, bidA.ID)
	if err != nil {
		t.Fatalf("AcceptBid: %v", err)
	}
	if got.Status != models.JobStatusAssigned || f.bidStatus(t, bidA.ID) != models.BidStatusAccepted {
		t.Fatalf("after accept: job %s, bid %s", got.Status, f.bidStatus(t, bidA.ID))
	}
	if _, err := f.svc.AcceptBid(ctx, job.ID, bidB.ID); !errors.Is(err, models.ErrJobNotOpen) {
		t.Fatalf("expected ErrJobNotOpen, got %v", err)
	}
	list, _ := f.svc.BidsForJob(ctx, job.ID)
	if len(list) != 2 {
		t.Errorf("bids for job: got %d", len(list))
	}
}
