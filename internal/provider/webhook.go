package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultWebhookTimeout = 10 * time.Second

type webhookRequest struct {
	JobID      string            `json:"jobId"`
	CompanyID  string            `json:"companyId"`
	To         string            `json:"to"`
	TemplateID string            `json:"templateId"`
	Reason     string            `json:"reason,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}

// WebhookTransport hands emails to an HTTP relay that renders and delivers them.
type WebhookTransport struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookTransport(endpoint string) (*WebhookTransport, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookTransportWithClient(endpoint, client)
}

func NewWebhookTransportWithClient(endpoint string, client *resty.Client) (*WebhookTransport, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookTransport{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (p *WebhookTransport) Send(ctx context.Context, msg Message) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("transport is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return nil, &ProviderError{
			Message:   "invalid message",
			Transient: false,
			Cause:     err,
		}
	}

	reqBody := webhookRequest{
		JobID:      msg.JobID,
		CompanyID:  msg.CompanyID,
		To:         msg.To,
		TemplateID: msg.TemplateID,
		Reason:     msg.Reason,
		Data:       msg.MergeData,
	}

	// The relay deduplicates on the job id, so a retried job never double-sends.
	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Idempotency-Key", msg.JobID).
		SetBody(reqBody).
		Post(p.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "relay request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "relay returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &ProviderResponse{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  providerMessageID(response),
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("relay returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func providerMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Request-ID", "X-Correlation-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
