package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/observability"
	"github.com/zlammie/keepup-mailer/internal/repository"
	"go.uber.org/zap"
)

// RecipientEventService applies upstream CRM changes: the stored status is
// updated, stale automation jobs are canceled, then new enrollments are made.
type RecipientEventService struct {
	recipients repository.RecipientRepository
	watcher    *CancellationWatcher
	enroller   *AutomationEnroller
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

func NewRecipientEventService(
	recipients repository.RecipientRepository,
	watcher *CancellationWatcher,
	enroller *AutomationEnroller,
	logger *zap.Logger,
) (*RecipientEventService, error) {
	if recipients == nil || watcher == nil || enroller == nil {
		return nil, fmt.Errorf("recipient repository, cancellation watcher and enroller are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecipientEventService{
		recipients: recipients,
		watcher:    watcher,
		enroller:   enroller,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *RecipientEventService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

type StatusChangeResult struct {
	PreviousStatus string
	Canceled       int64
	Enrolled       []*domain.EmailJob
}

// ChangeStatus stores a recipient's new status and reacts to the transition.
// previous overrides the stored value when the caller knows it.
func (s *RecipientEventService) ChangeStatus(ctx context.Context, companyID string, kind domain.RecipientKind, id, status, previous string) (*StatusChangeResult, error) {
	if err := validateRecipientRef(companyID, kind, id); err != nil {
		return nil, err
	}
	if strings.TrimSpace(status) == "" {
		return nil, fmt.Errorf("%w: status is required", domain.ErrValidation)
	}

	stored, err := s.recipients.UpdateStatus(ctx, companyID, kind, id, status, s.now())
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(previous) == "" {
		previous = stored
	}

	recipient, err := s.recipients.Get(ctx, companyID, kind, id)
	if err != nil {
		return nil, err
	}

	canceled, err := s.watcher.Evaluate(ctx, recipient)
	if err != nil {
		return nil, err
	}

	result := &StatusChangeResult{PreviousStatus: previous, Canceled: canceled}
	if domain.NormalizeStatus(previous) == domain.NormalizeStatus(status) {
		return result, nil
	}

	result.Enrolled, err = s.enroller.EnrollRules(ctx, recipient, previous, status)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// HandleEvent is the consumer entry point. Events for records this engine
// does not know are acknowledged and dropped.
func (s *RecipientEventService) HandleEvent(ctx context.Context, event domain.RecipientEvent) error {
	s.metrics.IncRecipientEvent(string(event.Type))
	log := s.logger.With(
		zap.String("eventType", string(event.Type)),
		zap.String("companyId", event.CompanyID),
		zap.String("recipientId", event.RecipientID),
	)

	var err error
	switch event.Type {
	case domain.EventRecipientStatusChanged:
		var result *StatusChangeResult
		result, err = s.ChangeStatus(ctx, event.CompanyID, event.RecipientKind, event.RecipientID, event.NextStatus, event.PreviousStatus)
		if err == nil {
			log.Info("recipient status applied",
				zap.String("nextStatus", event.NextStatus),
				zap.Int64("canceled", result.Canceled),
				zap.Int("enrolled", len(result.Enrolled)),
			)
		}
	case domain.EventRecipientScheduleUnenrolled:
		err = s.unenroll(ctx, event)
	default:
		return fmt.Errorf("%w: unsupported event type %q", domain.ErrValidation, event.Type)
	}

	if isNotFound(err) {
		log.Warn("recipient event for unknown record dropped")
		return nil
	}
	return err
}

func (s *RecipientEventService) unenroll(ctx context.Context, event domain.RecipientEvent) error {
	if event.ScheduleID != "" {
		recipient, err := s.recipients.Get(ctx, event.CompanyID, event.RecipientKind, event.RecipientID)
		if err != nil {
			return err
		}
		if recipient.ScheduleID == nil || *recipient.ScheduleID != event.ScheduleID {
			return nil
		}
	}

	_, err := s.watcher.Unenroll(ctx, event.CompanyID, event.RecipientKind, event.RecipientID)
	return err
}

// EnrollSchedule enrolls a recipient in a follow-up schedule.
func (s *RecipientEventService) EnrollSchedule(ctx context.Context, companyID string, kind domain.RecipientKind, id, scheduleID string) ([]*domain.EmailJob, error) {
	return s.enroller.EnrollSchedule(ctx, companyID, kind, id, scheduleID)
}

// Unenroll removes a recipient from its schedule and cancels the queued steps.
func (s *RecipientEventService) Unenroll(ctx context.Context, companyID string, kind domain.RecipientKind, id string) (int64, error) {
	return s.watcher.Unenroll(ctx, companyID, kind, id)
}
