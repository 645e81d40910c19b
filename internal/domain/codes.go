package domain

import (
	"fmt"
	"strings"
)

// ErrorCode is the machine code recorded as a job's lastError.
type ErrorCode string

const (
	CodeNone ErrorCode = ""

	CodeRuleStatusExit     ErrorCode = "RULE_STATUS_EXIT"
	CodeScheduleStopStatus ErrorCode = "SCHEDULE_STOP_STATUS"
	CodeScheduleUnenrolled ErrorCode = "SCHEDULE_UNENROLLED"
	CodeScheduleReplaced   ErrorCode = "SCHEDULE_REPLACED"
	CodeScheduleReapplied  ErrorCode = "SCHEDULE_REAPPLIED"
	CodeRuleDisabled       ErrorCode = "RULE_DISABLED"
	CodeBlastCanceled      ErrorCode = "BLAST_CANCELED"
	CodeOperatorCanceled   ErrorCode = "OPERATOR_CANCELED"

	CodeContactPaused ErrorCode = "CONTACT_PAUSED"
	CodeRealtorPaused ErrorCode = "REALTOR_PAUSED"
	CodeBlastPaused   ErrorCode = "BLAST_PAUSED"

	CodeCompanySendingPaused ErrorCode = "COMPANY_SENDING_PAUSED"

	CodeSuppressed       ErrorCode = "SUPPRESSED"
	CodeInvalidEmail     ErrorCode = "INVALID_EMAIL"
	CodeRecipientMissing ErrorCode = "RECIPIENT_MISSING"

	CodeOutsideSendWindow ErrorCode = "OUTSIDE_SEND_WINDOW"
	CodeDailyCap          ErrorCode = "DAILY_CAP"
	CodeRateLimit         ErrorCode = "RATE_LIMIT"

	CodeTransportTransient ErrorCode = "TRANSPORT_TRANSIENT"
	CodeTransportRejected  ErrorCode = "TRANSPORT_REJECTED"
	CodeRetriesExhausted   ErrorCode = "RETRIES_EXHAUSTED"

	CodeStaleProcessing ErrorCode = "STALE_PROCESSING"
)

// CodeCategory groups error codes by how the state machine treats them.
type CodeCategory string

const (
	CategoryNone         CodeCategory = ""
	CategoryCancellation CodeCategory = "cancellation"
	CategoryPause        CodeCategory = "pause"
	CategorySuppression  CodeCategory = "suppression"
	CategoryThrottle     CodeCategory = "throttle"
	CategoryDelivery     CodeCategory = "delivery"
	CategoryRecovery     CodeCategory = "recovery"
)

var codeCategories = map[ErrorCode]CodeCategory{
	CodeRuleStatusExit:       CategoryCancellation,
	CodeScheduleStopStatus:   CategoryCancellation,
	CodeScheduleUnenrolled:   CategoryCancellation,
	CodeScheduleReplaced:     CategoryCancellation,
	CodeScheduleReapplied:    CategoryCancellation,
	CodeRuleDisabled:         CategoryCancellation,
	CodeBlastCanceled:        CategoryCancellation,
	CodeOperatorCanceled:     CategoryCancellation,
	CodeContactPaused:        CategoryPause,
	CodeRealtorPaused:        CategoryPause,
	CodeBlastPaused:          CategoryPause,
	CodeCompanySendingPaused: CategoryPause,
	CodeSuppressed:           CategorySuppression,
	CodeInvalidEmail:         CategorySuppression,
	CodeRecipientMissing:     CategorySuppression,
	CodeOutsideSendWindow:    CategoryThrottle,
	CodeDailyCap:             CategoryThrottle,
	CodeRateLimit:            CategoryThrottle,
	CodeTransportTransient:   CategoryDelivery,
	CodeTransportRejected:    CategoryDelivery,
	CodeRetriesExhausted:     CategoryDelivery,
	CodeStaleProcessing:      CategoryRecovery,
}

func (c ErrorCode) String() string { return string(c) }

func (c ErrorCode) IsValid() bool {
	if c == CodeNone {
		return true
	}
	_, ok := codeCategories[c]
	return ok
}

func (c ErrorCode) Category() CodeCategory {
	return codeCategories[c]
}

// IsTransient reports whether a queued job carrying this code is waiting to be
// retried rather than waiting for its first attempt.
func (c ErrorCode) IsTransient() bool {
	switch c {
	case CodeOutsideSendWindow, CodeDailyCap, CodeRateLimit, CodeTransportTransient, CodeStaleProcessing:
		return true
	}
	return false
}

// TransientCodes lists every code for which IsTransient is true.
func TransientCodes() []ErrorCode {
	return []ErrorCode{CodeOutsideSendWindow, CodeDailyCap, CodeRateLimit, CodeTransportTransient, CodeStaleProcessing}
}

// ResultingStatus is the job status a dispatch decision with this code leads to.
// Delivery codes are excluded since the outcome depends on the attempt count.
func (c ErrorCode) ResultingStatus() (JobStatus, bool) {
	switch c.Category() {
	case CategoryCancellation:
		return JobStatusCanceled, true
	case CategorySuppression:
		return JobStatusSkipped, true
	case CategoryPause, CategoryThrottle, CategoryRecovery:
		return JobStatusQueued, true
	}
	return "", false
}

func ParseErrorCode(s string) (ErrorCode, error) {
	code := ErrorCode(strings.ToUpper(strings.TrimSpace(s)))
	if !code.IsValid() {
		return "", fmt.Errorf("%w: invalid error code %q", ErrValidation, s)
	}
	return code, nil
}
