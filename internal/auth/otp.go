package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/labourconnect/backend/internal/metrics"
	"github.com/labourconnect/backend/internal/models"
	"github.com/labourconnect/backend/internal/notify"
	"github.com/labourconnect/backend/internal/storage"
)

const (
	DefaultOTPTTL = 10 * time.Minute
	codeDigits    = 6
)

var codeSpace = big.NewInt(1_000_000)

// Authenticator issues and verifies one-time codes. Codes are stored as
// bcrypt hashes and never logged.
type Authenticator struct {
	store      storage.Store
	sender     notify.Sender
	ttl        time.Duration
	bcryptCost int
	now        func() time.Time
	log        *slog.Logger
}

type OTPOption func(*Authenticator)

func WithTTL(d time.Duration) OTPOption { return func(a *Authenticator) { a.ttl = d } }

// WithClock replaces time.Now for issue and verify.
func WithClock(now func() time.Time) OTPOption { return func(a *Authenticator) { a.now = now } }

// WithBcryptCost lowers the hashing cost, mainly for tests.
func WithBcryptCost(cost int) OTPOption { return func(a *Authenticator) { a.bcryptCost = cost } }

func NewAuthenticator(store storage.Store, sender notify.Sender, log *slog.Logger, opts ...OTPOption) *Authenticator {
	if log == nil {
		log = slog.Default()
	}
	if sender == nil {
		sender = notify.LogSender{Log: log}
	}
	a := &Authenticator{
		store:      store,
		sender:     sender,
		ttl:        DefaultOTPTTL,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
		log:        log,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Issue stores a new challenge for phone and hands the code to the sender.
// A delivery failure is logged; the challenge stays valid.
func (a *Authenticator) Issue(ctx context.Context, phone string) (string, error) {
	code, err := generateCode()
	if err != nil {
		metrics.OTP.WithLabelValues("issue", "error").Inc()
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), a.bcryptCost)
	if err != nil {
		metrics.OTP.WithLabelValues("issue", "error").Inc()
		return "", err
	}
	now := a.now()
	c := &models.OTPChallenge{
		ID:        uuid.New(),
		Phone:     phone,
		CodeHash:  string(hash),
		IssuedAt:  now,
		ExpiresAt: now.Add(a.ttl),
	}
	if err := a.store.CreateChallenge(ctx, c); err != nil {
		metrics.OTP.WithLabelValues("issue", "error").Inc()
		return "", fmt.Errorf("store challenge: %w", err)
	}
	metrics.OTP.WithLabelValues("issue", "ok").Inc()

	msg := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(a.ttl.Minutes()))
	if err := a.sender.Send(ctx, phone, msg); err != nil {
		a.log.WarnContext(ctx, "otp delivery failed", "phone", phone, "error", err)
	}
	return code, nil
}

// Verify matches code against the newest unexpired, unverified challenge for
// phone and consumes it on success. A missing challenge or a wrong code is
// false with a nil error.
func (a *Authenticator) Verify(ctx context.Context, phone, code string) (bool, error) {
	_, err := a.store.ConsumeChallenge(ctx, phone, a.now(), func(c *models.OTPChallenge) bool {
		return bcrypt.CompareHashAndPassword([]byte(c.CodeHash), []byte(code)) == nil
	})
	switch {
	case err == nil:
		metrics.OTP.WithLabelValues("verify", "ok").Inc()
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		metrics.OTP.WithLabelValues("verify", "rejected").Inc()
		return false, nil
	default:
		metrics.OTP.WithLabelValues("verify", "error").Inc()
		return false, err
	}
}

// Purge deletes challenges that expired more than retention ago.
func (a *Authenticator) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	return a.store.PurgeChallenges(ctx, a.now().Add(-retention))
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
