package memory

import (
	"context"
	"sort"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
)

type BlastRepo struct {
	s *Store
}

func (r *BlastRepo) GetByID(_ context.Context, id string) (*domain.Blast, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	b, ok := r.s.blasts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *b
	return &out, nil
}

func (r *BlastRepo) GetByRequestID(_ context.Context, companyID, requestID string) (*domain.Blast, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if b := r.s.blastByRequestID(companyID, requestID); b != nil {
		out := *b
		return &out, nil
	}
	return nil, domain.ErrNotFound
}

func (s *Store) blastByRequestID(companyID, requestID string) *domain.Blast {
	for _, b := range s.blasts {
		if b.CompanyID == companyID && b.RequestID != nil && *b.RequestID == requestID {
			return b
		}
	}
	return nil
}

func (r *BlastRepo) List(_ context.Context, companyID string, status *domain.BlastStatus, limit int) ([]domain.Blast, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.Blast
	for _, b := range r.s.blasts {
		if b.CompanyID != companyID {
			continue
		}
		if status != nil && b.Status != *status {
			continue
		}
		out = append(out, *b)
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })

	if n := limitOr(limit, 50, 200); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (r *BlastRepo) UpdateStatus(_ context.Context, id string, from []domain.BlastStatus, to domain.BlastStatus, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.blasts[id]
	if !ok {
		return domain.ErrNotFound
	}
	if len(from) > 0 {
		allowed := false
		for _, st := range from {
			if b.Status == st {
				allowed = true
				break
			}
		}
		if !allowed {
			return domain.ErrConflict
		}
	}
	b.Status = to
	b.UpdatedAt = now
	return nil
}

func (r *BlastRepo) UpdatePacingSummary(_ context.Context, id string, summary *domain.PacingSummary, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.blasts[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.PacingSummary = summary
	b.UpdatedAt = now
	return nil
}

func (r *BlastRepo) Materialize(_ context.Context, blast *domain.Blast, jobs []*domain.EmailJob) error {
	if blast == nil {
		return domain.ErrValidation
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.blasts[blast.ID]; exists {
		return domain.ErrConflict
	}
	if blast.RequestID != nil && r.s.blastByRequestID(blast.CompanyID, *blast.RequestID) != nil {
		return domain.ErrConflict
	}

	stored := *blast
	r.s.blasts[blast.ID] = &stored
	r.s.insertJobs(jobs)
	return nil
}
