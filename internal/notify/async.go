package notify

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
)

type SendSMSArgs struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func (SendSMSArgs) Kind() string { return "send_sms" }

// InsertFunc enqueues a SendSMSArgs job. Provided by main using river.Client.Insert.
type InsertFunc func(ctx context.Context, args SendSMSArgs) error

// AsyncSender enqueues delivery and returns once the job is stored. The
// worker retries failed deliveries with river's backoff.
type AsyncSender struct {
	insert InsertFunc
}

func NewAsyncSender(insert InsertFunc) *AsyncSender {
	return &AsyncSender{insert: insert}
}

func (s *AsyncSender) Send(ctx context.Context, phone, message string) error {
	if err := s.insert(ctx, SendSMSArgs{Phone: phone, Message: message}); err != nil {
		return fmt.Errorf("enqueue sms: %w", err)
	}
	return nil
}

type SendSMSWorker struct {
	river.WorkerDefaults[SendSMSArgs]
	sender Sender
}

// NewSendSMSWorker delivers queued messages through sender.
func NewSendSMSWorker(sender Sender) *SendSMSWorker {
	return &SendSMSWorker{sender: sender}
}

func (w *SendSMSWorker) Work(ctx context.Context, job *river.Job[SendSMSArgs]) error {
	if err := w.sender.Send(ctx, job.Args.Phone, job.Args.Message); err != nil {
		return fmt.Errorf("deliver sms (attempt %d): %w", job.Attempt, err)
	}
	return nil
}
