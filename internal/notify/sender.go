// Package notify delivers short text messages to a phone number.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(ctx context.Context, phone, message string) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "sms (not delivered)", "phone", phone, "message", message)
	return nil
}

// HTTPSender posts {"to","message"} to an SMS gateway.
type HTTPSender struct {
	url        string
	httpClient *http.Client
}

func NewHTTPSender(url string) *HTTPSender {
	return &HTTPSender{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type gatewayRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func (s *HTTPSender) Send(ctx context.Context, phone, message string) error {
	body, err := json.Marshal(gatewayRequest{To: phone, Message: message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("network error calling sms gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}
	return nil
}
