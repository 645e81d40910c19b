package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/zlammie/keepup-mailer/internal/domain"
)

// Message is one rendered-on-delivery email handed to a transport.
type Message struct {
	JobID      string
	CompanyID  string
	To         string
	TemplateID string
	Reason     string
	MergeData  map[string]string
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("%w: jobId is required", domain.ErrValidation)
	}
	if !domain.IsValidEmail(m.To) {
		return fmt.Errorf("%w: invalid recipient address", domain.ErrValidation)
	}
	if strings.TrimSpace(m.TemplateID) == "" {
		return fmt.Errorf("%w: templateId is required", domain.ErrValidation)
	}
	return nil
}

// NewMessage builds the transport message for a job and its fresh recipient record.
func NewMessage(job *domain.EmailJob, recipient *domain.Recipient) Message {
	msg := Message{
		JobID:      job.ID,
		CompanyID:  job.CompanyID,
		To:         job.To,
		TemplateID: job.TemplateID,
		Reason:     job.Reason(),
	}
	if recipient != nil {
		if recipient.Email != "" {
			msg.To = recipient.Email
		}
		msg.MergeData = recipient.MergeData()
	}
	return msg
}

// Transport is the outbound email delivery port.
type Transport interface {
	Send(ctx context.Context, msg Message) (*ProviderResponse, error)
}

// ProviderResponse stores provider call metadata for persistence.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
