package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type recordingSender struct {
	mu   sync.Mutex
	sent []SendSMSArgs
	err  error
}

func (s *recordingSender) Send(_ context.Context, phone, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, SendSMSArgs{Phone: phone, Message: message})
	return nil
}

// ---------------------------------------------------------------------------
// HTTPSender
// ---------------------------------------------------------------------------

func TestHTTPSender_PostsJSON(t *testing.T) {
	var got gatewayRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type: %q", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	if err := NewHTTPSender(srv.URL).Send(context.Background(), "+15550005001", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.To != "+15550005001" || got.Message != "hello" {
		t.Errorf("gateway received %+v", got)
	}
}

func TestHTTPSender_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewHTTPSender(srv.URL).Send(context.Background(), "+15550005002", "x"); err == nil {
		t.Fatal("expected error for 502")
	}
}

// ---------------------------------------------------------------------------
// Async
// ---------------------------------------------------------------------------

func TestAsyncSender_Enqueues(t *testing.T) {
	var queued []SendSMSArgs
	s := NewAsyncSender(func(_ context.Context, args SendSMSArgs) error {
		queued = append(queued, args)
		return nil
	})
	if err := s.Send(context.Background(), "+15550005003", "code 123456"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(queued) != 1 || queued[0].Phone != "+15550005003" {
		t.Errorf("queued: %+v", queued)
	}

	failing := NewAsyncSender(func(context.Context, SendSMSArgs) error { return errors.New("db down") })
	if err := failing.Send(context.Background(), "+1", "x"); err == nil {
		t.Error("expected enqueue error")
	}
}

func TestSendSMSWorker_Delivers(t *testing.T) {
	rec := &recordingSender{}
	w := NewSendSMSWorker(rec)
	job := &river.Job[SendSMSArgs]{
		JobRow: &rivertype.JobRow{Attempt: 1},
		Args:   SendSMSArgs{Phone: "+15550005004", Message: "hi"},
	}
	if err := w.Work(context.Background(), job); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if len(rec.sent) != 1 {
		t.Fatalf("sent: %d", len(rec.sent))
	}

	rec.err = errors.New("gateway down")
	if err := w.Work(context.Background(), job); err == nil {
		t.Error("expected error so river retries")
	}
}

func TestArgsKind(t *testing.T) {
	if (SendSMSArgs{}).Kind() != "send_sms" {
		t.Errorf("kind: %q", SendSMSArgs{}.Kind())
	}
}
