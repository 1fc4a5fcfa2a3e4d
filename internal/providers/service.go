// Package providers serves the provider directory: profile reads, ranked
// search, contact reveal for unlocked customers, and reviews.
package providers

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labourconnect/backend/internal/events"
	"github.com/labourconnect/backend/internal/models"
	"github.com/labourconnect/backend/internal/money"
	"github.com/labourconnect/backend/internal/storage"
)

const (
	MinRating = 1
	MaxRating = 5
)

// Profile is a provider with the owning account's public fields.
type Profile struct {
	*models.Provider
	Name string
}

// Contact is only returned to the owner or an unlocked customer.
type Contact struct {
	ProviderID uuid.UUID
	Name       string
	Phone      string
}

type ReviewInput struct {
	Rating  int
	Comment string
	JobID   *uuid.UUID
}

// UnlockChecker reports whether a customer has paid to see a provider's contact.
type UnlockChecker interface {
	Unlocked(ctx context.Context, customerID, providerID uuid.UUID) (bool, error)
}

type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*Profile, error)
	// Search lists providers matching f, best rated first.
	Search(ctx context.Context, f models.ProviderFilter) ([]*Profile, error)
	Contact(ctx context.Context, callerID, providerID uuid.UUID) (*Contact, error)
	CreateReview(ctx context.Context, customerID, providerID uuid.UUID, in ReviewInput) (*models.Review, error)
	ListReviews(ctx context.Context, providerID uuid.UUID) ([]*models.Review, error)
}

type service struct {
	store   storage.Store
	unlocks UnlockChecker
	pub     events.Publisher
	log     *slog.Logger
}

func NewService(store storage.Store, unlocks UnlockChecker, pub events.Publisher, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	if pub == nil {
		pub = events.NoopPublisher{}
	}
	return &service{store: store, unlocks: unlocks, pub: pub, log: log}
}

var _ Service = (*service)(nil)

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Profile, error) {
	p, err := s.store.GetProvider(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.profile(ctx, p)
}

func (s *service) profile(ctx context.Context, p *models.Provider) (*Profile, error) {
	acc, err := s.store.GetAccount(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}
	return &Profile{Provider: p, Name: acc.Name}, nil
}

func (s *service) Search(ctx context.Context, f models.ProviderFilter) ([]*Profile, error) {
	f.Skill = strings.ToLower(strings.TrimSpace(f.Skill))
	f.PinCode = strings.TrimSpace(f.PinCode)
	list, err := s.store.ListProviders(ctx, f)
	if err != nil {
		return nil, err
	}
	rank(list)
	out := make([]*Profile, 0, len(list))
	for _, p := range list {
		prof, err := s.profile(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, prof)
	}
	return out, nil
}

// rank orders by rating desc, then total reviews desc, then oldest first.
func rank(list []*models.Provider) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if c := a.Rating.Cmp(b.Rating); c != 0 {
			return c > 0
		}
		if a.TotalReviews != b.TotalReviews {
			return a.TotalReviews > b.TotalReviews
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (s *service) Contact(ctx context.Context, callerID, providerID uuid.UUID) (*Contact, error) {
	p, err := s.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if p.AccountID != callerID {
		ok, err := s.unlocks.Unlocked(ctx, callerID, providerID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, models.ErrForbidden
		}
	}
	acc, err := s.store.GetAccount(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}
	return &Contact{ProviderID: p.ID, Name: acc.Name, Phone: acc.Phone}, nil
}

func (s *service) CreateReview(ctx context.Context, customerID, providerID uuid.UUID, in ReviewInput) (*models.Review, error) {
	if in.Rating < MinRating || in.Rating > MaxRating {
		return nil, models.Invalid("rating must be between %d and %d", MinRating, MaxRating)
	}
	p, err := s.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if p.AccountID == customerID {
		return nil, models.Invalid("cannot review your own profile")
	}
	if in.JobID != nil {
		j, err := s.store.GetJob(ctx, *in.JobID)
		if err != nil {
			return nil, err
		}
		if j.CustomerID != customerID || j.AssignedProviderID == nil || *j.AssignedProviderID != providerID {
			return nil, models.Invalid("job %s was not done by this provider for you", j.ID)
		}
	}

	rev := &models.Review{
		ID:         uuid.New(),
		ProviderID: providerID,
		CustomerID: customerID,
		JobID:      in.JobID,
		Rating:     in.Rating,
		Comment:    strings.TrimSpace(in.Comment),
	}
	var newRating decimal.Decimal
	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.LockProvider(ctx, providerID); err != nil {
			return err
		}
		if err := tx.CreateReview(ctx, rev); err != nil {
			return err
		}
		all, err := tx.ListReviews(ctx, providerID)
		if err != nil {
			return err
		}
		newRating = meanRating(all)
		return tx.UpdateProviderRating(ctx, providerID, newRating, len(all))
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "review created", "review_id", rev.ID, "provider_id", providerID, "rating", rev.Rating)
	events.Emit(ctx, s.pub, s.log, events.ReviewCreated, events.ReviewEvent{
		ReviewID:   rev.ID.String(),
		ProviderID: providerID.String(),
		Rating:     rev.Rating,
		NewRating:  money.Format(newRating),
	})
	return rev, nil
}

// meanRating is the average of all ratings rounded to two places.
func meanRating(all []*models.Review) decimal.Decimal {
	if len(all) == 0 {
		return decimal.Zero
	}
	sum := 0
	for _, r := range all {
		sum += r.Rating
	}
	return decimal.NewFromInt(int64(sum)).DivRound(decimal.NewFromInt(int64(len(all))), money.Scale)
}

func (s *service) ListReviews(ctx context.Context, providerID uuid.UUID) ([]*models.Review, error) {
	if _, err := s.store.GetProvider(ctx, providerID); err != nil {
		return nil, err
	}
	return s.store.ListReviews(ctx, providerID)
}
