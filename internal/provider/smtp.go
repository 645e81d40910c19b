package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"
)

// SMTPConfig holds relay connection settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// RatePerSecond caps outbound messages per process; <= 0 disables the cap.
	RatePerSecond float64
}

type mailDialer interface {
	Dial() (gomail.SendCloser, error)
}

// SMTPTransport renders file templates and delivers them over SMTP.
type SMTPTransport struct {
	dialer    mailDialer
	from      string
	templates *TemplateSet
	limiter   *rate.Limiter
}

func NewSMTPTransport(cfg SMTPConfig, templates *TemplateSet) (*SMTPTransport, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("smtp port must be > 0")
	}

	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return newSMTPTransport(dialer, cfg.From, templates, newSendLimiter(cfg.RatePerSecond))
}

func newSMTPTransport(dialer mailDialer, from string, templates *TemplateSet, limiter *rate.Limiter) (*SMTPTransport, error) {
	if dialer == nil {
		return nil, fmt.Errorf("smtp dialer is required")
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	if templates == nil {
		return nil, fmt.Errorf("template set is required")
	}
	if limiter == nil {
		limiter = newSendLimiter(0)
	}

	return &SMTPTransport{
		dialer:    dialer,
		from:      from,
		templates: templates,
		limiter:   limiter,
	}, nil
}

func newSendLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

func (t *SMTPTransport) Send(ctx context.Context, msg Message) (*ProviderResponse, error) {
	if err := msg.Validate(); err != nil {
		return nil, &ProviderError{Message: "invalid message", Cause: err}
	}

	subject, body, err := t.templates.Render(msg.TemplateID, msg.MergeData)
	if err != nil {
		return nil, &ProviderError{Message: "render template", Cause: err}
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return nil, &ProviderError{
			Message:   "smtp throttle wait",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	m := gomail.NewMessage()
	m.SetHeader("From", t.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", subject)
	m.SetHeader("X-Job-ID", msg.JobID)
	m.SetBody("text/html", body)

	// gomail has no context support; the send goroutine finishes on its own
	// when the caller gives up.
	done := make(chan error, 1)
	go func() {
		done <- t.deliver(msg.To, m)
	}()

	select {
	case <-ctx.Done():
		return nil, &ProviderError{
			Message:   "smtp send interrupted",
			Transient: !errors.Is(ctx.Err(), context.Canceled),
			Cause:     ctx.Err(),
		}
	case err := <-done:
		if err != nil {
			return nil, &ProviderError{
				Message:   "smtp send failed",
				Transient: IsTransient(err),
				Cause:     err,
			}
		}
	}

	return &ProviderResponse{MessageID: msg.JobID}, nil
}

func (t *SMTPTransport) deliver(to string, m *gomail.Message) error {
	sender, err := t.dialer.Dial()
	if err != nil {
		return err
	}
	defer sender.Close()

	return sender.Send(t.from, []string{to}, m)
}
