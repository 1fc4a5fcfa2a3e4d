package auth

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/labourconnect/backend/internal/storage/memory"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type captureSender struct {
	mu   sync.Mutex
	msgs map[string][]string
	err  error
}

func (s *captureSender) Send(_ context.Context, phone, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msgs == nil {
		s.msgs = make(map[string][]string)
	}
	s.msgs[phone] = append(s.msgs[phone], message)
	return s.err
}

func (s *captureSender) count(phone string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs[phone])
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newAuthenticator(t *testing.T) (*Authenticator, *memory.Store, *captureSender, *clock) {
	t.Helper()
	store := memory.New()
	sender := &captureSender{}
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	a := NewAuthenticator(store, sender, nil, WithClock(clk.Now), WithBcryptCost(bcrypt.MinCost))
	return a, store, sender, clk
}

var sixDigits = regexp.MustCompile(`^[0-9]{6}$`)

// ---------------------------------------------------------------------------
// Issue
// ---------------------------------------------------------------------------

func TestIssue_SixDigitsAndDelivered(t *testing.T) {
	a, _, sender, _ := newAuthenticator(t)
	code, err := a.Issue(context.Background(), "+15550007001")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !sixDigits.MatchString(code) {
		t.Errorf("code %q is not six digits", code)
	}
	if sender.count("+15550007001") != 1 {
		t.Errorf("expected one message sent")
	}
}

func TestIssue_DeliveryFailureIsNotFatal(t *testing.T) {
	a, _, sender, _ := newAuthenticator(t)
	sender.err = errors.New("gateway down")
	ctx := context.Background()

	code, err := a.Issue(ctx, "+15550007002")
	if err != nil {
		t.Fatalf("Issue should succeed when delivery fails: %v", err)
	}
	ok, err := a.Verify(ctx, "+15550007002", code)
	if err != nil || !ok {
		t.Fatalf("code should still verify: ok=%v err=%v", ok, err)
	}
}

func TestGenerateCode_Distribution(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		c, err := generateCode()
		if err != nil {
			t.Fatalf("generateCode: %v", err)
		}
		if !sixDigits.MatchString(c) {
			t.Fatalf("bad code %q", c)
		}
		seen[c] = true
	}
	if len(seen) < 190 {
		t.Errorf("only %d distinct codes in 200 draws", len(seen))
	}
}

// ---------------------------------------------------------------------------
// Verify
// ---------------------------------------------------------------------------

func TestVerify_RoundTripSingleUse(t *testing.T) {
	a, _, _, _ := newAuthenticator(t)
	ctx := context.Background()
	code, _ := a.Issue(ctx, "+15550007003")

	ok, err := a.Verify(ctx, "+15550007003", code)
	if err != nil || !ok {
		t.Fatalf("first verify: ok=%v err=%v", ok, err)
	}
	ok, err = a.Verify(ctx, "+15550007003", code)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if ok {
		t.Fatal("a verified challenge must not verify again")
	}
}

func TestVerify_Rejections(t *testing.T) {
	a, _, _, _ := newAuthenticator(t)
	ctx := context.Background()
	code, _ := a.Issue(ctx, "+15550007004")
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	tests := []struct {
		name, phone, code string
	}{
		{"wrong code", "+15550007004", wrong},
		{"unknown phone", "+15550007999", code},
		{"other phone's code", "+15550007005", code},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := a.Verify(ctx, tt.phone, tt.code)
			if err != nil {
				t.Fatalf("rejection should not be an error: %v", err)
			}
			if ok {
				t.Fatal("expected false")
			}
		})
	}

	// A wrong guess does not consume the challenge.
	if ok, _ := a.Verify(ctx, "+15550007004", code); !ok {
		t.Fatal("correct code should still verify after a wrong guess")
	}
}

func TestVerify_ExpiredFailsWithCorrectCode(t *testing.T) {
	a, _, _, clk := newAuthenticator(t)
	ctx := context.Background()
	code, _ := a.Issue(ctx, "+15550007006")

	clk.Advance(DefaultOTPTTL)
	ok, err := a.Verify(ctx, "+15550007006", code)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("code verified at its expiry instant")
	}
}

func TestVerify_JustBeforeExpiry(t *testing.T) {
	a, _, _, clk := newAuthenticator(t)
	ctx := context.Background()
	code, _ := a.Issue(ctx, "+15550007007")

	clk.Advance(DefaultOTPTTL - time.Second)
	if ok, _ := a.Verify(ctx, "+15550007007", code); !ok {
		t.Fatal("code should verify before expiry")
	}
}

func TestVerify_OnlyNewestChallengeMatches(t *testing.T) {
	a, _, _, clk := newAuthenticator(t)
	ctx := context.Background()
	older, _ := a.Issue(ctx, "+15550007008")
	clk.Advance(time.Minute)
	newer, _ := a.Issue(ctx, "+15550007008")
	if older == newer {
		t.Skip("codes collided")
	}

	if ok, _ := a.Verify(ctx, "+15550007008", older); ok {
		t.Fatal("older code must not match while a newer challenge is eligible")
	}
	if ok, _ := a.Verify(ctx, "+15550007008", newer); !ok {
		t.Fatal("newest code should verify")
	}
}

func TestVerify_ReissueDoesNotReviveExpiredCode(t *testing.T) {
	a, _, _, clk := newAuthenticator(t)
	ctx := context.Background()
	stale, _ := a.Issue(ctx, "+15550007009")
	clk.Advance(DefaultOTPTTL + time.Minute)
	fresh, _ := a.Issue(ctx, "+15550007009")
	if stale == fresh {
		t.Skip("codes collided")
	}

	if ok, _ := a.Verify(ctx, "+15550007009", stale); ok {
		t.Fatal("expired code verified")
	}
	if ok, _ := a.Verify(ctx, "+15550007009", fresh); !ok {
		t.Fatal("fresh code should verify")
	}
}

func TestVerify_ConcurrentSingleSuccess(t *testing.T) {
	a, _, _, _ := newAuthenticator(t)
	ctx := context.Background()
	code, _ := a.Issue(ctx, "+15550007010")

	const n = 10
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			good, err := a.Verify(ctx, "+15550007010", code)
			if err != nil {
				t.Errorf("Verify: %v", err)
			}
			if good {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if ok != 1 {
		t.Fatalf("successes: got %d, want 1", ok)
	}
}

// ---------------------------------------------------------------------------
// Purge
// ---------------------------------------------------------------------------

func TestPurge_RemovesOnlyOldChallenges(t *testing.T) {
	a, _, _, clk := newAuthenticator(t)
	ctx := context.Background()
	_, _ = a.Issue(ctx, "+15550007011")
	clk.Advance(2 * time.Hour)
	fresh, _ := a.Issue(ctx, "+15550007011")

	n, err := a.Purge(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged: got %d, want 1", n)
	}
	if ok, _ := a.Verify(ctx, "+15550007011", fresh); !ok {
		t.Error("fresh challenge should survive the purge")
	}
}
