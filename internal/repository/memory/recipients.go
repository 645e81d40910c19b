package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
)

type RecipientRepo struct {
	s *Store
}

func (r *RecipientRepo) lookup(companyID string, kind domain.RecipientKind, id string) (*domain.Recipient, bool) {
	rec, ok := r.s.recipients[recipientKey{kind: kind, id: id}]
	if !ok || rec.CompanyID != companyID {
		return nil, false
	}
	return rec, true
}

func (r *RecipientRepo) Get(_ context.Context, companyID string, kind domain.RecipientKind, id string) (*domain.Recipient, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rec, ok := r.lookup(companyID, kind, id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (r *RecipientRepo) Find(_ context.Context, companyID string, kind domain.RecipientKind, filter domain.AudienceFilter) ([]domain.Recipient, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	statuses := make([]string, 0, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses = append(statuses, domain.NormalizeStatus(st))
	}

	var out []domain.Recipient
	for key, rec := range r.s.recipients {
		if key.kind != kind || rec.CompanyID != companyID {
			continue
		}
		if len(filter.RecipientIDs) > 0 && !slices.Contains(filter.RecipientIDs, rec.ID) {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, domain.NormalizeStatus(rec.Status)) {
			continue
		}
		if len(filter.CommunityIDs) > 0 && !slices.ContainsFunc(filter.CommunityIDs, func(id string) bool {
			return slices.Contains(rec.CommunityIDs, id)
		}) {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (r *RecipientRepo) Upsert(_ context.Context, recipients []*domain.Recipient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, rec := range recipients {
		if rec == nil {
			continue
		}
		key := recipientKey{kind: rec.Kind, id: rec.ID}
		next := *rec
		next.Email = domain.NormalizeEmail(rec.Email)
		if existing, ok := r.s.recipients[key]; ok {
			next.Paused = existing.Paused
			next.PausedAt = existing.PausedAt
			next.ScheduleID = existing.ScheduleID
		}
		r.s.recipients[key] = &next
	}
	return nil
}

func (r *RecipientRepo) SetPaused(_ context.Context, companyID string, kind domain.RecipientKind, id string, paused bool, now time.Time) (*domain.Recipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.lookup(companyID, kind, id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	rec.Paused = paused
	rec.PausedAt = nil
	if paused {
		rec.PausedAt = ptr(now)
	}
	rec.UpdatedAt = now

	out := *rec
	return &out, nil
}

func (r *RecipientRepo) UpdateStatus(_ context.Context, companyID string, kind domain.RecipientKind, id, status string, now time.Time) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.lookup(companyID, kind, id)
	if !ok {
		return "", domain.ErrNotFound
	}
	previous := rec.Status
	rec.Status = status
	rec.UpdatedAt = now
	return previous, nil
}

func (r *RecipientRepo) SetSchedule(_ context.Context, companyID string, kind domain.RecipientKind, id string, scheduleID *string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.lookup(companyID, kind, id)
	if !ok {
		return domain.ErrNotFound
	}
	rec.ScheduleID = nil
	if scheduleID != nil {
		rec.ScheduleID = ptr(*scheduleID)
	}
	rec.UpdatedAt = now
	return nil
}

type SuppressionRepo struct {
	s *Store
}

func (r *SuppressionRepo) Add(_ context.Context, sup *domain.Suppression) error {
	if sup == nil {
		return domain.ErrValidation
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored := *sup
	stored.Email = domain.NormalizeEmail(sup.Email)
	key := suppressionKey{companyID: sup.CompanyID, email: stored.Email}
	if existing, ok := r.s.suppressions[key]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	r.s.suppressions[key] = &stored
	return nil
}

func (r *SuppressionRepo) Remove(_ context.Context, companyID, email string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := suppressionKey{companyID: companyID, email: domain.NormalizeEmail(email)}
	if _, ok := r.s.suppressions[key]; !ok {
		return domain.ErrNotFound
	}
	delete(r.s.suppressions, key)
	return nil
}

func (r *SuppressionRepo) IsSuppressed(_ context.Context, companyID, email string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	_, ok := r.s.suppressions[suppressionKey{companyID: companyID, email: domain.NormalizeEmail(email)}]
	return ok, nil
}

func (r *SuppressionRepo) Suppressed(_ context.Context, companyID string, emails []string) (map[string]bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	found := make(map[string]bool)
	for _, e := range emails {
		normalized := domain.NormalizeEmail(e)
		if _, ok := r.s.suppressions[suppressionKey{companyID: companyID, email: normalized}]; ok {
			found[normalized] = true
		}
	}
	return found, nil
}
