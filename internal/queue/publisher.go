package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/zlammie/keepup-mailer/internal/domain"
)

type RabbitMQPublisher struct {
	client *RabbitMQ
	queue  string
}

func NewRabbitMQPublisher(client *RabbitMQ, queue string) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, queue: strings.TrimSpace(queue)}
}

func (p *RabbitMQPublisher) PublishJobEvent(ctx context.Context, event domain.JobEvent) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if p.queue == "" {
		return fmt.Errorf("queue name is required")
	}

	payload, err := encodeJobEvent(event)
	if err != nil {
		return fmt.Errorf("invalid job event: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    event.JobID + ":" + event.Status.String(),
		Type:         "email.job." + event.Status.String(),
		Body:         payload,
	}

	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish job event to queue %q: %w", p.queue, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
