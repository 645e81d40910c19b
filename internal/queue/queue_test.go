package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/zlammie/keepup-mailer/internal/domain"
	"go.uber.org/zap"
)

type fakeAcknowledger struct {
	acked    int
	nacked   int
	rejected int
	requeue  bool
}

func (f *fakeAcknowledger) Ack(uint64, bool) error {
	f.acked++
	return nil
}

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked++
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	f.rejected++
	f.requeue = requeue
	return nil
}

func TestDLQName(t *testing.T) {
	t.Parallel()

	if got := DLQName("recipient.events"); got != "dlq.recipient.events" {
		t.Fatalf("DLQName = %s, want dlq.recipient.events", got)
	}

	names := DLQNames([]string{"recipient.events", "email.job.events"})
	if len(names) != 2 || names[1] != "dlq.email.job.events" {
		t.Fatalf("DLQNames = %v", names)
	}

	args := deadLetterArgs("recipient.events")
	if args["x-dead-letter-exchange"] != dlxExchangeName || args["x-dead-letter-routing-key"] != "recipient.events" {
		t.Fatalf("deadLetterArgs = %v", args)
	}
}

func TestDecodeRecipientEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{
			name: "status change",
			body: `{"type":"recipient.status_changed","companyId":"c1","recipientId":"r1","recipientKind":"contact","previousStatus":"lead","nextStatus":"buyer"}`,
		},
		{
			name: "unenroll",
			body: `{"type":"recipient.schedule_unenrolled","companyId":"c1","recipientId":"r1","recipientKind":"contact"}`,
		},
		{name: "not json", body: `{`, wantErr: true},
		{name: "unknown type", body: `{"type":"recipient.deleted","companyId":"c1","recipientId":"r1","recipientKind":"contact"}`, wantErr: true},
		{name: "missing next status", body: `{"type":"recipient.status_changed","companyId":"c1","recipientId":"r1","recipientKind":"contact"}`, wantErr: true},
		{name: "bad kind", body: `{"type":"recipient.schedule_unenrolled","companyId":"c1","recipientId":"r1","recipientKind":"lender"}`, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := DecodeRecipientEvent([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("DecodeRecipientEvent() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeRecipientEvent() error = %v", err)
			}
		})
	}
}

func TestEncodeJobEventRequiresTerminalStatus(t *testing.T) {
	t.Parallel()

	event := domain.JobEvent{
		JobID:      "job-1",
		CompanyID:  "c1",
		Status:     domain.JobStatusSent,
		OccurredAt: time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC),
	}
	if _, err := encodeJobEvent(event); err != nil {
		t.Fatalf("encodeJobEvent() error = %v", err)
	}

	event.Status = domain.JobStatusQueued
	if _, err := encodeJobEvent(event); err == nil {
		t.Fatal("expected error for non-terminal status")
	}
}

func TestHandleDelivery(t *testing.T) {
	t.Parallel()

	valid := []byte(`{"type":"recipient.status_changed","companyId":"c1","recipientId":"r1","recipientKind":"contact","nextStatus":"buyer"}`)

	tests := []struct {
		name        string
		body        []byte
		handlerErr  error
		wantAck     int
		wantNack    int
		wantReject  int
		wantRequeue bool
		wantHandled bool
	}{
		{name: "ack on success", body: valid, wantAck: 1, wantHandled: true},
		{name: "nack and requeue on handler error", body: valid, handlerErr: errors.New("db down"), wantNack: 1, wantRequeue: true, wantHandled: true},
		{name: "reject invalid payload", body: []byte(`{"type":"nope"}`), wantReject: 1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ack := &fakeAcknowledger{}
			consumer := NewRabbitMQConsumer(nil, 1, zap.NewNop())
			handled := false

			err := consumer.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Body: tt.body},
				func(_ context.Context, event domain.RecipientEvent) error {
					handled = true
					if event.RecipientID != "r1" {
						t.Errorf("RecipientID = %q, want r1", event.RecipientID)
					}
					return tt.handlerErr
				})
			if err != nil {
				t.Fatalf("handleDelivery() error = %v", err)
			}

			if handled != tt.wantHandled {
				t.Fatalf("handled = %v, want %v", handled, tt.wantHandled)
			}
			if ack.acked != tt.wantAck || ack.nacked != tt.wantNack || ack.rejected != tt.wantReject {
				t.Fatalf("ack/nack/reject = %d/%d/%d, want %d/%d/%d",
					ack.acked, ack.nacked, ack.rejected, tt.wantAck, tt.wantNack, tt.wantReject)
			}
			if ack.requeue != tt.wantRequeue {
				t.Fatalf("requeue = %v, want %v", ack.requeue, tt.wantRequeue)
			}
		})
	}
}

func TestConsumeValidatesArguments(t *testing.T) {
	t.Parallel()

	var nilConsumer *RabbitMQConsumer
	if err := nilConsumer.Consume(context.Background(), "q", func(context.Context, domain.RecipientEvent) error { return nil }); err == nil {
		t.Fatal("expected error for nil consumer")
	}
}
