package email

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultQueueSize = 100
	deliverTimeout   = 10 * time.Second
)

// Deliverer sends a single message.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) error
}

// Queue hands messages to a Deliverer on a background goroutine. Notify
// never blocks: when the buffer is full the message is dropped and logged.
// Failed deliveries are logged and not retried.
type Queue struct {
	deliverer Deliverer
	messages  chan Message
	logger    *slog.Logger
}

func NewQueue(d Deliverer, size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		deliverer: d,
		messages:  make(chan Message, size),
		logger:    logger,
	}
}

func (q *Queue) Notify(_ context.Context, recipient, purpose string, params map[string]string) {
	msg := Message{To: recipient, Purpose: purpose, Params: params}
	select {
	case q.messages <- msg:
	default:
		q.logger.Warn("email queue full, dropping message", "purpose", purpose)
	}
}

// Run delivers queued messages until ctx is done, then delivers whatever is
// still buffered and returns.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case msg := <-q.messages:
			q.deliver(msg)
		case <-ctx.Done():
			q.drain()
			return nil
		}
	}
}

func (q *Queue) drain() {
	for {
		select {
		case msg := <-q.messages:
			q.deliver(msg)
		default:
			return
		}
	}
}

func (q *Queue) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	if err := q.deliverer.Deliver(ctx, msg); err != nil {
		q.logger.Error("deliver email", "purpose", msg.Purpose, "error", err)
		return
	}
	q.logger.Debug("email delivered", "purpose", msg.Purpose)
}

// LogDeliverer writes messages to the log instead of sending them. It is
// meant for development without a Postmark token.
type LogDeliverer struct {
	Logger *slog.Logger
}

func (d LogDeliverer) Deliver(_ context.Context, msg Message) error {
	subject, text, _, err := Render(msg)
	if err != nil {
		return err
	}
	d.Logger.Info("email", "to", msg.To, "subject", subject, "body", text)
	return nil
}
