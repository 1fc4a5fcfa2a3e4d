// Package jobs runs the job and bid state machines. Every transition happens
// under the job lock so a status check and the write that depends on it are
// one step.
package jobs

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labourconnect/backend/internal/events"
	"github.com/labourconnect/backend/internal/metrics"
	"github.com/labourconnect/backend/internal/models"
	"github.com/labourconnect/backend/internal/money"
	"github.com/labourconnect/backend/internal/storage"
)

// JobDetails is what a customer supplies when posting.
type JobDetails struct {
	Title       string
	Description string
	Category    string
	Budget      *decimal.Decimal
	Location    string
	PinCode     string
}

type Service interface {
	PostJob(ctx context.Context, customerID uuid.UUID, d JobDetails) (*models.Job, error)
	PlaceBid(ctx context.Context, jobID, providerID uuid.UUID, amount decimal.Decimal, message string) (*models.Bid, error)
	// AcceptBid accepts bidID, moves the job to assigned and rejects the job's
	// other pending bids.
	AcceptBid(ctx context.Context, jobID, bidID uuid.UUID) (*models.Job, error)
	SetJobStatus(ctx context.Context, jobID uuid.UUID, status string) (*models.Job, error)

	GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, f models.JobFilter) ([]*models.Job, error)
	ListAvailable(ctx context.Context) ([]*models.Job, error)
	BidsForJob(ctx context.Context, jobID uuid.UUID) ([]*models.Bid, error)
	BidsByProvider(ctx context.Context, providerID uuid.UUID) ([]*models.Bid, error)
}

// transitions lists the edges setJobStatus may take. open -> assigned is
// reserved for AcceptBid.
var transitions = map[string][]string{
	models.JobStatusOpen:     {models.JobStatusCancelled},
	models.JobStatusAssigned: {models.JobStatusCompleted, models.JobStatusCancelled},
}

func legal(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type service struct {
	store  storage.Store
	events events.Publisher
	log    *slog.Logger
}

func NewService(store storage.Store, pub events.Publisher, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	if pub == nil {
		pub = events.NoopPublisher{}
	}
	return &service{store: store, events: pub, log: log}
}

var _ Service = (*service)(nil)

func (s *service) PostJob(ctx context.Context, customerID uuid.UUID, d JobDetails) (*models.Job, error) {
	d.Title = strings.TrimSpace(d.Title)
	if d.Title == "" {
		return nil, models.Invalid("title is required")
	}
	if d.Budget != nil {
		if err := money.ValidatePositive(*d.Budget); err != nil {
			return nil, err
		}
	}
	acc, err := s.store.GetAccount(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if acc.Role != models.RoleCustomer {
		return nil, models.Invalid("only customers can post jobs")
	}

	job := &models.Job{
		ID:          uuid.New(),
		CustomerID:  customerID,
		Title:       d.Title,
		Description: d.Description,
		Category:    strings.ToLower(strings.TrimSpace(d.Category)),
		Budget:      d.Budget,
		Location:    d.Location,
		PinCode:     d.PinCode,
		Status:      models.JobStatusOpen,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	events.Emit(ctx, s.events, s.log, events.JobPosted, jobEvent(job, ""))
	return job, nil
}

func (s *service) PlaceBid(ctx context.Context, jobID, providerID uuid.UUID, amount decimal.Decimal, message string) (*models.Bid, error) {
	if err := money.ValidatePositive(amount); err != nil {
		return nil, err
	}
	if _, err := s.store.GetProvider(ctx, providerID); err != nil {
		return nil, err
	}

	var bid *models.Bid
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		job, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status != models.JobStatusOpen {
			return models.ErrJobNotOpen
		}
		b := &models.Bid{
			ID:         uuid.New(),
			JobID:      jobID,
			ProviderID: providerID,
			Amount:     amount,
			Message:    message,
			Status:     models.BidStatusPending,
		}
		if err := tx.CreateBid(ctx, b); err != nil {
			return err
		}
		bid = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	events.Emit(ctx, s.events, s.log, events.BidPlaced, bidEvent(bid))
	return bid, nil
}

func (s *service) AcceptBid(ctx context.Context, jobID, bidID uuid.UUID) (*models.Job, error) {
	var (
		job      *models.Job
		accepted *models.Bid
	)
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		j, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if j.Status != models.JobStatusOpen {
			return models.ErrJobNotOpen
		}
		bid, err := tx.GetBid(ctx, bidID)
		if err != nil {
			return err
		}
		if bid.JobID != jobID {
			return storage.ErrNotFound
		}
		if bid.Status != models.BidStatusPending {
			return models.ErrBidNotPending
		}

		if err := tx.UpdateBidStatus(ctx, bidID, models.BidStatusAccepted); err != nil {
			return err
		}
		if err := rejectPending(ctx, tx, jobID, bidID); err != nil {
			return err
		}

		j.Status = models.JobStatusAssigned
		j.AssignedProviderID = &bid.ProviderID
		j.AcceptedBidID = &bid.ID
		if err := tx.UpdateJob(ctx, j); err != nil {
			return err
		}
		bid.Status = models.BidStatusAccepted
		job, accepted = j, bid
		return nil
	})
	metrics.BidAcceptances.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "bid accepted", "job_id", jobID, "bid_id", bidID, "provider_id", accepted.ProviderID)
	events.Emit(ctx, s.events, s.log, events.BidAccepted, bidEvent(accepted))
	events.Emit(ctx, s.events, s.log, events.JobStatusChanged, jobEvent(job, models.JobStatusOpen))
	return job, nil
}

// rejectPending rejects every pending bid on jobID except keep.
func rejectPending(ctx context.Context, tx storage.Tx, jobID, keep uuid.UUID) error {
	bids, err := tx.ListBidsByJob(ctx, jobID)
	if err != nil {
		return err
	}
	for _, b := range bids {
		if b.ID == keep || b.Status != models.BidStatusPending {
			continue
		}
		if err := tx.UpdateBidStatus(ctx, b.ID, models.BidStatusRejected); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) SetJobStatus(ctx context.Context, jobID uuid.UUID, status string) (*models.Job, error) {
	if !models.ValidJobStatus(status) {
		return nil, models.Invalid("unknown job status %q", status)
	}
	var (
		job  *models.Job
		prev string
	)
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		j, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if !legal(j.Status, status) {
			return &TransitionError{From: j.Status, To: status}
		}
		if status == models.JobStatusCancelled && j.Status == models.JobStatusOpen {
			if err := rejectPending(ctx, tx, jobID, uuid.Nil); err != nil {
				return err
			}
		}
		prev = j.Status
		j.Status = status
		if err := tx.UpdateJob(ctx, j); err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	events.Emit(ctx, s.events, s.log, events.JobStatusChanged, jobEvent(job, prev))
	return job, nil
}

func (s *service) GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

func (s *service) ListJobs(ctx context.Context, f models.JobFilter) ([]*models.Job, error) {
	if f.Status != "" && !models.ValidJobStatus(f.Status) {
		return nil, models.Invalid("unknown job status %q", f.Status)
	}
	return s.store.ListJobs(ctx, f)
}

func (s *service) ListAvailable(ctx context.Context) ([]*models.Job, error) {
	return s.store.ListJobs(ctx, models.JobFilter{Status: models.JobStatusOpen})
}

func (s *service) BidsForJob(ctx context.Context, jobID uuid.UUID) ([]*models.Bid, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.store.ListBidsByJob(ctx, jobID)
}

func (s *service) BidsByProvider(ctx context.Context, providerID uuid.UUID) ([]*models.Bid, error) {
	return s.store.ListBidsByProvider(ctx, providerID)
}

// TransitionError reports an edge the state machine does not allow. It
// matches models.ErrIllegalTransition.
type TransitionError struct {
	From, To string
}

func (e *TransitionError) Error() string {
	return "illegal job transition " + e.From + " -> " + e.To
}

func (e *TransitionError) Is(target error) bool {
	return target == models.ErrIllegalTransition
}

func jobEvent(j *models.Job, prev string) events.JobEvent {
	return events.JobEvent{
		JobID:      j.ID.String(),
		CustomerID: j.CustomerID.String(),
		Status:     j.Status,
		PrevStatus: prev,
	}
}

func bidEvent(b *models.Bid) events.BidEvent {
	return events.BidEvent{
		BidID:      b.ID.String(),
		JobID:      b.JobID.String(),
		ProviderID: b.ProviderID.String(),
		Amount:     money.Format(b.Amount),
		Status:     b.Status,
	}
}

// IsOwner reports whether accountID posted j.
func IsOwner(j *models.Job, accountID uuid.UUID) bool {
	return j != nil && j.CustomerID == accountID
}
