package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
)

func testMessage() Message {
	return Message{
		JobID:      "job-1",
		CompanyID:  "company-1",
		To:         "jane@example.com",
		TemplateID: "spring-open-house",
		Reason:     "blast:blast-1",
		MergeData:  map[string]string{"firstName": "Jane"},
	}
}

func TestWebhookTransportSendSuccess(t *testing.T) {
	t.Parallel()

	var (
		gotBody        webhookRequest
		gotIdempotency string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotIdempotency = r.Header.Get("Idempotency-Key")

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		w.Header().Set("X-Message-ID", "relay-msg-1")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	p, err := NewWebhookTransport(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookTransport() error = %v", err)
	}

	msg := testMessage()
	resp, err := p.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("StatusCode = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	if resp.MessageID != "relay-msg-1" {
		t.Fatalf("MessageID = %q, want %q", resp.MessageID, "relay-msg-1")
	}
	if gotIdempotency != msg.JobID {
		t.Fatalf("Idempotency-Key = %q, want %q", gotIdempotency, msg.JobID)
	}
	if gotBody.To != msg.To || gotBody.TemplateID != msg.TemplateID {
		t.Fatalf("request = %+v, want to=%q templateId=%q", gotBody, msg.To, msg.TemplateID)
	}
	if gotBody.Data["firstName"] != "Jane" {
		t.Fatalf("request.data = %v, want firstName=Jane", gotBody.Data)
	}
}

func TestWebhookTransportSendStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantTransient: false},
		{name: "unprocessable is permanent", statusCode: http.StatusUnprocessableEntity, wantTransient: false},
		{name: "bad gateway is transient", statusCode: http.StatusBadGateway, wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("relay failed"))
			}))
			defer server.Close()

			p, err := NewWebhookTransport(server.URL)
			if err != nil {
				t.Fatalf("NewWebhookTransport() error = %v", err)
			}

			_, err = p.Send(context.Background(), testMessage())
			if err == nil {
				t.Fatal("expected error")
			}

			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}

			var providerErr *ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("expected ProviderError, got %T", err)
			}
			if providerErr.StatusCode != tc.statusCode {
				t.Fatalf("ProviderError.StatusCode = %d, want %d", providerErr.StatusCode, tc.statusCode)
			}
		})
	}
}

func TestWebhookTransportSendTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(30 * time.Millisecond)

	p, err := NewWebhookTransportWithClient(server.URL, client)
	if err != nil {
		t.Fatalf("NewWebhookTransportWithClient() error = %v", err)
	}

	_, err = p.Send(context.Background(), testMessage())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
}

func TestWebhookTransportRejectsInvalidMessage(t *testing.T) {
	t.Parallel()

	p, err := NewWebhookTransport("http://127.0.0.1:1/send")
	if err != nil {
		t.Fatalf("NewWebhookTransport() error = %v", err)
	}

	msg := testMessage()
	msg.To = "not-an-address"
	_, err = p.Send(context.Background(), msg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if IsTransient(err) {
		t.Fatal("invalid message must be permanent")
	}
}

func TestNewWebhookTransportValidatesEndpoint(t *testing.T) {
	t.Parallel()

	for _, endpoint := range []string{"", "   ", "not a url"} {
		if _, err := NewWebhookTransport(endpoint); err == nil {
			t.Fatalf("NewWebhookTransport(%q) expected error", endpoint)
		}
	}
}
