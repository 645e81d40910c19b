package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/zlammie/keepup-mailer/internal/domain"
)

// EventPublisher publishes job outcome events.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, event domain.JobEvent) error
	Close() error
}

// MessageHandler handles a consumed recipient event.
type MessageHandler func(ctx context.Context, event domain.RecipientEvent) error

// Consumer consumes recipient events from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.recipient.events.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", strings.TrimSpace(queue))
}

// DLQNames returns the dead-letter queues for the given work queues.
func DLQNames(queues []string) []string {
	names := make([]string, 0, len(queues))
	for _, q := range queues {
		names = append(names, DLQName(q))
	}
	return names
}
