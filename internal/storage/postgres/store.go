// Package postgres is the durable storage.Store on pgx. Money is stored as
// BIGINT cents; the accounts table refuses negative balances on its own.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/labourconnect/backend/internal/models"
	"github.com/labourconnect/backend/internal/money"
	"github.com/labourconnect/backend/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

const (
	uniqueViolation   = "23505"
	numericOutOfRange = "22003"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ storage.Store = (*Store)(nil)

// Migrate applies schema.sql. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Pool exposes the pool for River, which shares the database.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func isOutOfRange(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == numericOutOfRange
}

func budgetCents(b *decimal.Decimal) (*int64, error) {
	if b == nil {
		return nil, nil
	}
	c, err := money.ToCents(*b)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// ---------------------------------------------------------------------------
// Transaction
// ---------------------------------------------------------------------------

type pgTx struct {
	tx pgx.Tx
}

var _ storage.Tx = (*pgTx)(nil)

// LockAccounts takes row locks one id at a time in ascending order so two
// transactions touching the same accounts never wait on each other in a cycle.
func (t *pgTx) LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*models.Account, error) {
	out := make(map[uuid.UUID]*models.Account, len(ids))
	for _, id := range storage.SortIDs(ids) {
		a, err := scanAccount(t.tx.QueryRow(ctx, `
			SELECT id, phone, name, role, balance_cents, created_at, updated_at
			FROM accounts WHERE id = $1 FOR UPDATE
		`, id))
		if err != nil {
			return nil, notFound(err)
		}
		out[id] = a
	}
	return out, nil
}

func (t *pgTx) ApplyEntry(ctx context.Context, e *models.LedgerEntry) (decimal.Decimal, error) {
	delta, err := money.ToCents(e.Amount)
	if err != nil {
		return decimal.Zero, err
	}
	var balanceCents int64
	err = t.tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance_cents = balance_cents + $1, updated_at = now()
		WHERE id = $2 AND balance_cents + $1 >= 0
		RETURNING balance_cents
	`, delta, e.AccountID).Scan(&balanceCents)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, e.AccountID).Scan(&exists); err != nil {
			return decimal.Zero, err
		}
		if !exists {
			return decimal.Zero, storage.ErrNotFound
		}
		return decimal.Zero, storage.ErrNegativeBalance
	}
	if isOutOfRange(err) {
		return decimal.Zero, money.ErrOutOfRange
	}
	if err != nil {
		return decimal.Zero, err
	}

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err = t.tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, account_id, kind, amount_cents, balance_after_cents, description, related_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq, created_at
	`, e.ID, e.AccountID, e.Kind, delta, balanceCents, e.Description, e.RelatedID).Scan(&e.Seq, &e.CreatedAt)
	if err != nil {
		return decimal.Zero, err
	}
	e.BalanceAfter = money.FromCents(balanceCents)
	return e.BalanceAfter, nil
}

func (t *pgTx) ListEntries(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error) {
	return listEntries(ctx, t.tx, accountID)
}

func (t *pgTx) GetUnlock(ctx context.Context, customerID, providerID uuid.UUID) (*models.UnlockRecord, error) {
	return getUnlock(ctx, t.tx, customerID, providerID)
}

func (t *pgTx) CreateUnlock(ctx context.Context, u *models.UnlockRecord) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	fee, err := money.ToCents(u.Fee)
	if err != nil {
		return err
	}
	err = t.tx.QueryRow(ctx, `
		INSERT INTO unlocks (id, customer_id, provider_id, fee_cents)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (customer_id, provider_id) DO NOTHING
		RETURNING created_at
	`, u.ID, u.CustomerID, u.ProviderID, fee).Scan(&u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrAlreadyExists
	}
	return err
}

func (t *pgTx) LockJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(t.tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
	return j, notFound(err)
}

func (t *pgTx) UpdateJob(ctx context.Context, j *models.Job) error {
	budget, err := budgetCents(j.Budget)
	if err != nil {
		return err
	}
	err = t.tx.QueryRow(ctx, `
		UPDATE jobs
		SET title = $2, description = $3, category = $4, budget_cents = $5, location = $6, pin_code = $7,
			status = $8, assigned_provider_id = $9, accepted_bid_id = $10, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, j.ID, j.Title, j.Description, j.Category, budget, j.Location, j.PinCode,
		j.Status, j.AssignedProviderID, j.AcceptedBidID).Scan(&j.UpdatedAt)
	return notFound(err)
}

func (t *pgTx) GetBid(ctx context.Context, id uuid.UUID) (*models.Bid, error) {
	return getBid(ctx, t.tx, id)
}

func (t *pgTx) ListBidsByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Bid, error) {
	return listBids(ctx, t.tx, `WHERE job_id = $1`, jobID)
}

func (t *pgTx) CreateBid(ctx context.Context, b *models.Bid) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	amount, err := money.ToCents(b.Amount)
	if err != nil {
		return err
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO bids (id, job_id, provider_id, amount_cents, message, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, b.ID, b.JobID, b.ProviderID, amount, b.Message, b.Status).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (t *pgTx) UpdateBidStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := t.tx.Exec(ctx, `UPDATE bids SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *pgTx) LockProvider(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	p, err := scanProvider(t.tx.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1 FOR UPDATE`, id))
	return p, notFound(err)
}

func (t *pgTx) CreateReview(ctx context.Context, r *models.Review) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO reviews (id, provider_id, customer_id, job_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, r.ID, r.ProviderID, r.CustomerID, r.JobID, r.Rating, r.Comment).Scan(&r.CreatedAt)
}

func (t *pgTx) ListReviews(ctx context.Context, providerID uuid.UUID) ([]*models.Review, error) {
	return listReviews(ctx, t.tx, providerID)
}

func (t *pgTx) UpdateProviderRating(ctx context.Context, id uuid.UUID, rating decimal.Decimal, total int) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE providers SET rating = $2::numeric, total_reviews = $3 WHERE id = $1
	`, id, rating.StringFixed(2), total)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Creates outside InTx
// ---------------------------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, a *models.Account, p *models.Provider) error {
	return s.InTx(ctx, func(stx storage.Tx) error {
		tx := stx.(*pgTx).tx
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.Balance = decimal.Zero
		err := tx.QueryRow(ctx, `
			INSERT INTO accounts (id, phone, name, role)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at, updated_at
		`, a.ID, a.Phone, a.Name, a.Role).Scan(&a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return storage.ErrAlreadyExists
			}
			return err
		}
		if p == nil {
			return nil
		}
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.AccountID = a.ID
		p.Rating = decimal.Zero
		p.TotalReviews = 0
		skills := p.Skills
		if skills == nil {
			skills = []string{}
		}
		return tx.QueryRow(ctx, `
			INSERT INTO providers (id, account_id, skills, experience_years, location, pin_code)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at
		`, p.ID, p.AccountID, skills, p.ExperienceYears, p.Location, p.PinCode).Scan(&p.CreatedAt)
	})
}

func (s *Store) CreateJob(ctx context.Context, j *models.Job) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	budget, err := budgetCents(j.Budget)
	if err != nil {
		return err
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, customer_id, title, description, category, budget_cents, location, pin_code, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, j.ID, j.CustomerID, j.Title, j.Description, j.Category, budget, j.Location, j.PinCode, j.Status).
		Scan(&j.CreatedAt, &j.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return storage.ErrNotFound
	}
	return err
}

func (s *Store) CreateChallenge(ctx context.Context, c *models.OTPChallenge) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO otp_challenges (id, phone, code_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq
	`, c.ID, c.Phone, c.CodeHash, c.IssuedAt, c.ExpiresAt).Scan(&c.Seq)
}

func (s *Store) ConsumeChallenge(ctx context.Context, phone string, now time.Time, match func(*models.OTPChallenge) bool) (*models.OTPChallenge, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var c models.OTPChallenge
	err = tx.QueryRow(ctx, `
		SELECT id, seq, phone, code_hash, issued_at, expires_at
		FROM otp_challenges
		WHERE phone = $1 AND NOT verified AND expires_at > $2
		ORDER BY issued_at DESC, seq DESC
		LIMIT 1
		FOR UPDATE
	`, phone, now).Scan(&c.ID, &c.Seq, &c.Phone, &c.CodeHash, &c.IssuedAt, &c.ExpiresAt)
	if err != nil {
		return nil, notFound(err)
	}
	if !match(&c) {
		return nil, storage.ErrNotFound
	}
	if _, err := tx.Exec(ctx, `
		UPDATE otp_challenges SET verified = true, verified_at = $2 WHERE id = $1
	`, c.ID, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	c.Verified = true
	c.VerifiedAt = &now
	return &c, nil
}

func (s *Store) PurgeChallenges(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM otp_challenges WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
