// Package events publishes domain events after their transaction commits.
// Delivery is best effort: a failed publish is logged and never undoes the
// operation that produced it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects.
const (
	WalletCredited   = "wallet.credited"
	WalletDebited    = "wallet.debited"
	UnlockCompleted  = "unlock.completed"
	JobPosted        = "job.posted"
	JobStatusChanged = "job.status_changed"
	BidPlaced        = "bid.placed"
	BidAccepted      = "bid.accepted"
	ReviewCreated    = "review.created"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data any) error
	Close() error
}

// Payloads. Amounts are two-digit decimal strings.

type WalletEvent struct {
	AccountID string `json:"account_id"`
	EntryID   string `json:"entry_id"`
	Kind      string `json:"kind"`
	Amount    string `json:"amount"`
	Balance   string `json:"balance"`
}

type UnlockEvent struct {
	UnlockID          string `json:"unlock_id"`
	CustomerID        string `json:"customer_id"`
	ProviderID        string `json:"provider_id"`
	ProviderAccountID string `json:"provider_account_id"`
	Fee               string `json:"fee"`
}

type JobEvent struct {
	JobID      string `json:"job_id"`
	CustomerID string `json:"customer_id"`
	Status     string `json:"status"`
	PrevStatus string `json:"prev_status,omitempty"`
}

type BidEvent struct {
	BidID      string `json:"bid_id"`
	JobID      string `json:"job_id"`
	ProviderID string `json:"provider_id"`
	Amount     string `json:"amount"`
	Status     string `json:"status"`
}

type ReviewEvent struct {
	ReviewID   string `json:"review_id"`
	ProviderID string `json:"provider_id"`
	Rating     int    `json:"rating"`
	NewRating  string `json:"new_rating"`
}

// ---------------------------------------------------------------------------
// NATS
// ---------------------------------------------------------------------------

type NATSPublisher struct {
	conn *nats.Conn
	log  *slog.Logger
}

func NewNATSPublisher(url string, log *slog.Logger) (*NATSPublisher, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := nats.Connect(url, nats.Name("labourconnect-api"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn, log: log}, nil
}

func (n *NATSPublisher) Publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	n.log.DebugContext(ctx, "publishing event", "subject", subject)
	return n.conn.Publish(subject, payload)
}

func (n *NATSPublisher) Close() error {
	return n.conn.Drain()
}

// ---------------------------------------------------------------------------
// Fallbacks
// ---------------------------------------------------------------------------

// NoopPublisher drops every event. Used when NATS_URL is unset.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }
func (NoopPublisher) Close() error                               { return nil }

// Message is one event captured by Recorder.
type Message struct {
	Subject string
	Data    any
	At      time.Time
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Publish(_ context.Context, subject string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, Message{Subject: subject, Data: data, At: time.Now()})
	return nil
}

func (r *Recorder) Close() error { return nil }

// Subjects returns the subjects published so far, in order.
func (r *Recorder) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Subject
	}
	return out
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// Emit publishes and logs a failure instead of returning it.
func Emit(ctx context.Context, p Publisher, log *slog.Logger, subject string, data any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, subject, data); err != nil {
		if log == nil {
			log = slog.Default()
		}
		log.WarnContext(ctx, "event publish failed", "subject", subject, "error", err)
	}
}
