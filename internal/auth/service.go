package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/labourconnect/backend/internal/models"
	"github.com/labourconnect/backend/internal/storage"
)

// ErrSignupRequired is returned by Login when the code verified but no account
// uses the phone. It matches models.ErrNotFound.
var ErrSignupRequired = fmt.Errorf("no account for this phone, sign up first: %w", models.ErrNotFound)

// SignupRequest carries the provider fields only when Role is provider.
type SignupRequest struct {
	Phone           string
	Name            string
	Role            string
	Skills          []string
	ExperienceYears int
	Location        string
	PinCode         string
}

type Session struct {
	Token     string
	ExpiresAt time.Time
	Account   *models.Account
}

type Service interface {
	// Signup creates the account and issues a code for it. The account stands
	// even if issuing fails; the code is then empty and the caller should use
	// SendOTP.
	Signup(ctx context.Context, req SignupRequest) (*models.Account, string, error)
	SendOTP(ctx context.Context, phone string) (string, error)
	// Login consumes the code and returns a session token.
	Login(ctx context.Context, phone, code string) (*Session, error)
	ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error)
}

type Config struct {
	Secret     []byte
	SessionTTL time.Duration
}

type service struct {
	store  storage.Store
	otp    *Authenticator
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	log    *slog.Logger
}

func NewService(store storage.Store, otp *Authenticator, cfg Config, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	return &service{store: store, otp: otp, secret: cfg.Secret, ttl: cfg.SessionTTL, now: time.Now, log: log}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func (s *service) Signup(ctx context.Context, req SignupRequest) (*models.Account, string, error) {
	req.Phone = strings.TrimSpace(req.Phone)
	req.Name = strings.TrimSpace(req.Name)
	if req.Phone == "" || req.Name == "" {
		return nil, "", models.Invalid("phone and name are required")
	}
	if !models.ValidRole(req.Role) {
		return nil, "", models.Invalid("invalid role %q", req.Role)
	}
	if req.ExperienceYears < 0 {
		return nil, "", models.Invalid("experience years must not be negative")
	}

	acc := &models.Account{ID: uuid.New(), Phone: req.Phone, Name: req.Name, Role: req.Role}
	var prov *models.Provider
	if req.Role == models.RoleProvider {
		prov = &models.Provider{
			ID:              uuid.New(),
			Skills:          normalizeSkills(req.Skills),
			ExperienceYears: req.ExperienceYears,
			Location:        req.Location,
			PinCode:         req.PinCode,
		}
	}
	if err := s.store.CreateAccount(ctx, acc, prov); err != nil {
		return nil, "", err
	}
	s.log.InfoContext(ctx, "account created", "account_id", acc.ID, "role", acc.Role)

	code, err := s.otp.Issue(ctx, acc.Phone)
	if err != nil {
		s.log.WarnContext(ctx, "otp issue after signup failed", "account_id", acc.ID, "error", err)
		return acc, "", nil
	}
	return acc, code, nil
}

// normalizeSkills lowercases each skill so search is case-insensitive.
func normalizeSkills(skills []string) []string {
	out := make([]string, 0, len(skills))
	for _, sk := range skills {
		if sk = strings.ToLower(strings.TrimSpace(sk)); sk != "" {
			out = append(out, sk)
		}
	}
	return out
}

func (s *service) SendOTP(ctx context.Context, phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", models.Invalid("phone is required")
	}
	return s.otp.Issue(ctx, phone)
}

func (s *service) Login(ctx context.Context, phone, code string) (*Session, error) {
	ok, err := s.otp.Verify(ctx, strings.TrimSpace(phone), code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrInvalidOrExpiredCode
	}
	acc, err := s.store.GetAccountByPhone(ctx, strings.TrimSpace(phone))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSignupRequired
	}
	if err != nil {
		return nil, err
	}
	token, exp, err := s.issueToken(acc.ID, acc.Role)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: exp, Account: acc}, nil
}

func (s *service) issueToken(userID uuid.UUID, role string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(s.secret)
	return signed, exp, err
}

func (s *service) ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, "", err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, "", errors.New("invalid token")
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, "", err
	}
	return id, c.Role, nil
}
