package queue

import (
	"encoding/json"
	"fmt"

	"github.com/zlammie/keepup-mailer/internal/domain"
)

// DecodeRecipientEvent parses and validates a recipient event payload.
func DecodeRecipientEvent(body []byte) (domain.RecipientEvent, error) {
	var event domain.RecipientEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return domain.RecipientEvent{}, fmt.Errorf("%w: invalid JSON: %v", domain.ErrValidation, err)
	}
	if err := event.Validate(); err != nil {
		return domain.RecipientEvent{}, err
	}
	return event, nil
}

func encodeJobEvent(event domain.JobEvent) ([]byte, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job event: %w", err)
	}
	return payload, nil
}
