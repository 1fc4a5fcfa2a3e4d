package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/labourconnect/backend/internal/models"
	"github.com/labourconnect/backend/internal/money"
	"github.com/labourconnect/backend/internal/storage"
)

const (
	jobColumns = `id, customer_id, title, description, category, budget_cents, location, pin_code,
		status, assigned_provider_id, accepted_bid_id, created_at, updated_at`
	bidColumns      = `id, job_id, provider_id, amount_cents, message, status, created_at, updated_at`
	providerColumns = `id, account_id, skills, experience_years, location, pin_code, rating::text,
		total_reviews, created_at`
)

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	var cents int64
	if err := row.Scan(&a.ID, &a.Phone, &a.Name, &a.Role, &cents, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Balance = money.FromCents(cents)
	return &a, nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var budget *int64
	err := row.Scan(&j.ID, &j.CustomerID, &j.Title, &j.Description, &j.Category, &budget, &j.Location, &j.PinCode,
		&j.Status, &j.AssignedProviderID, &j.AcceptedBidID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if budget != nil {
		b := money.FromCents(*budget)
		j.Budget = &b
	}
	return &j, nil
}

func scanBid(row pgx.Row) (*models.Bid, error) {
	var b models.Bid
	var cents int64
	if err := row.Scan(&b.ID, &b.JobID, &b.ProviderID, &cents, &b.Message, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Amount = money.FromCents(cents)
	return &b, nil
}

func scanProvider(row pgx.Row) (*models.Provider, error) {
	var p models.Provider
	var rating string
	err := row.Scan(&p.ID, &p.AccountID, &p.Skills, &p.ExperienceYears, &p.Location, &p.PinCode, &rating,
		&p.TotalReviews, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Rating, err = decimal.NewFromString(rating)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `
		SELECT id, phone, name, role, balance_cents, created_at, updated_at FROM accounts WHERE id = $1
	`, id))
	return a, notFound(err)
}

func (s *Store) GetAccountByPhone(ctx context.Context, phone string) (*models.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `
		SELECT id, phone, name, role, balance_cents, created_at, updated_at FROM accounts WHERE phone = $1
	`, phone))
	return a, notFound(err)
}

func (s *Store) ListAccountIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (s *Store) ListEntries(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error) {
	return listEntries(ctx, s.pool, accountID)
}

func listEntries(ctx context.Context, q querier, accountID uuid.UUID) ([]*models.LedgerEntry, error) {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, storage.ErrNotFound
	}
	rows, err := q.Query(ctx, `
		SELECT id, seq, account_id, kind, amount_cents, balance_after_cents, description, related_id, created_at
		FROM ledger_entries WHERE account_id = $1
		ORDER BY seq DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var amount, after int64
		if err := rows.Scan(&e.ID, &e.Seq, &e.AccountID, &e.Kind, &amount, &after, &e.Description, &e.RelatedID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Amount = money.FromCents(amount)
		e.BalanceAfter = money.FromCents(after)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	return j, notFound(err)
}

func (s *Store) ListJobs(ctx context.Context, f models.JobFilter) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE ($1::uuid IS NULL OR customer_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
	`, f.CustomerID, f.Status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) GetBid(ctx context.Context, id uuid.UUID) (*models.Bid, error) {
	return getBid(ctx, s.pool, id)
}

func (s *Store) ListBidsByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Bid, error) {
	return listBids(ctx, s.pool, `WHERE job_id = $1`, jobID)
}

func (s *Store) ListBidsByProvider(ctx context.Context, providerID uuid.UUID) ([]*models.Bid, error) {
	return listBids(ctx, s.pool, `WHERE provider_id = $1`, providerID)
}

func (s *Store) GetUnlock(ctx context.Context, customerID, providerID uuid.UUID) (*models.UnlockRecord, error) {
	return getUnlock(ctx, s.pool, customerID, providerID)
}

func (s *Store) ListUnlocksByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.UnlockRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, customer_id, provider_id, fee_cents, created_at
		FROM unlocks WHERE customer_id = $1 ORDER BY created_at DESC
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.UnlockRecord
	for rows.Next() {
		u, err := scanUnlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) GetProvider(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	p, err := scanProvider(s.pool.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id))
	return p, notFound(err)
}

func (s *Store) GetProviderByAccount(ctx context.Context, accountID uuid.UUID) (*models.Provider, error) {
	p, err := scanProvider(s.pool.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE account_id = $1`, accountID))
	return p, notFound(err)
}

// ListProviders matches skills case-insensitively against the lowercased array.
func (s *Store) ListProviders(ctx context.Context, f models.ProviderFilter) ([]*models.Provider, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+providerColumns+` FROM providers
		WHERE ($1 = '' OR pin_code = $1)
			AND ($2 = '' OR EXISTS (SELECT 1 FROM unnest(skills) sk WHERE lower(sk) = lower($2)))
		ORDER BY created_at
	`, f.PinCode, f.Skill)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListReviews(ctx context.Context, providerID uuid.UUID) ([]*models.Review, error) {
	return listReviews(ctx, s.pool, providerID)
}

// ---------------------------------------------------------------------------
// Shared by Store and pgTx
// ---------------------------------------------------------------------------

func getBid(ctx context.Context, q querier, id uuid.UUID) (*models.Bid, error) {
	b, err := scanBid(q.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id))
	return b, notFound(err)
}

func listBids(ctx context.Context, q querier, where string, arg any) ([]*models.Bid, error) {
	rows, err := q.Query(ctx, `SELECT `+bidColumns+` FROM bids `+where+` ORDER BY created_at DESC`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanUnlock(row pgx.Row) (*models.UnlockRecord, error) {
	var u models.UnlockRecord
	var fee int64
	if err := row.Scan(&u.ID, &u.CustomerID, &u.ProviderID, &fee, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Fee = money.FromCents(fee)
	return &u, nil
}

func getUnlock(ctx context.Context, q querier, customerID, providerID uuid.UUID) (*models.UnlockRecord, error) {
	u, err := scanUnlock(q.QueryRow(ctx, `
		SELECT id, customer_id, provider_id, fee_cents, created_at
		FROM unlocks WHERE customer_id = $1 AND provider_id = $2
	`, customerID, providerID))
	return u, notFound(err)
}

func listReviews(ctx context.Context, q querier, providerID uuid.UUID) ([]*models.Review, error) {
	rows, err := q.Query(ctx, `
		SELECT id, provider_id, customer_id, job_id, rating, comment, created_at
		FROM reviews WHERE provider_id = $1 ORDER BY created_at DESC
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Review
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.ProviderID, &r.CustomerID, &r.JobID, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
