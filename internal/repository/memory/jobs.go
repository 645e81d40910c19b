package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/repository"
)

type JobRepo struct {
	s *Store
}

func (r *JobRepo) CreateBatch(_ context.Context, jobs []*domain.EmailJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.insertJobs(jobs)
	return nil
}

// insertJobs requires the write lock.
func (s *Store) insertJobs(jobs []*domain.EmailJob) {
	for _, j := range jobs {
		if j == nil {
			continue
		}
		stored := *j
		s.jobs[j.ID] = &stored
	}
}

func (r *JobRepo) GetByID(_ context.Context, id string) (*domain.EmailJob, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	job, ok := r.s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *job
	return &out, nil
}

func (r *JobRepo) List(_ context.Context, params repository.JobListParams) ([]domain.EmailJob, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.EmailJob
	for _, j := range r.s.jobs {
		if params.CompanyID != "" && j.CompanyID != params.CompanyID {
			continue
		}
		if params.BlastID != nil && (j.BlastID == nil || *j.BlastID != *params.BlastID) {
			continue
		}
		if params.RecipientID != nil && j.RecipientID != *params.RecipientID {
			continue
		}
		if params.RecipientKind != nil && j.RecipientKind != *params.RecipientKind {
			continue
		}
		if params.AutomationOnly && j.BlastID != nil {
			continue
		}
		if len(params.Statuses) > 0 && !slices.Contains(params.Statuses, j.Status) {
			continue
		}
		switch params.Bucket {
		case repository.JobBucketUpcoming:
			if !j.Status.IsPending() {
				continue
			}
		case repository.JobBucketHistory:
			if !j.Status.IsTerminal() {
				continue
			}
		}
		out = append(out, *j)
	}

	if params.Bucket == repository.JobBucketHistory {
		sort.SliceStable(out, func(i, k int) bool { return out[i].UpdatedAt.After(out[k].UpdatedAt) })
	} else {
		sortBySchedule(out)
	}

	if n := limitOr(params.Limit, 50, 500); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func sortBySchedule(jobs []domain.EmailJob) {
	sort.SliceStable(jobs, func(i, k int) bool {
		if jobs[i].ScheduledFor.Equal(jobs[k].ScheduledFor) {
			return jobs[i].ID < jobs[k].ID
		}
		return jobs[i].ScheduledFor.Before(jobs[k].ScheduledFor)
	})
}

func (r *JobRepo) ListDue(_ context.Context, now time.Time, limit int) ([]domain.EmailJob, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.EmailJob
	for _, j := range r.s.jobs {
		if j.Status != domain.JobStatusQueued || j.ScheduledFor.After(now) {
			continue
		}
		if j.BlastID != nil {
			if b, ok := r.s.blasts[*j.BlastID]; ok && !b.Status.Dispatchable() {
				continue
			}
		}
		out = append(out, *j)
	}

	sortBySchedule(out)
	if n := limitOr(limit, 25, 1000); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (r *JobRepo) Claim(_ context.Context, id, workerID string, now time.Time) (*domain.EmailJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	job, ok := r.s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.Status != domain.JobStatusQueued || job.ScheduledFor.After(now) {
		return nil, domain.ErrConflict
	}

	job.Status = domain.JobStatusProcessing
	job.ProcessingAt = ptr(now)
	job.ProcessingBy = ptr(workerID)
	if job.ClaimedAt == nil {
		job.ClaimedAt = ptr(now)
	}
	job.AdmittedAt = nil
	job.UpdatedAt = now

	out := *job
	return &out, nil
}

func (r *JobRepo) RecordOutcome(_ context.Context, id, workerID string, outcome domain.JobOutcome, now time.Time) error {
	if err := outcome.Validate(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	job, ok := r.s.jobs[id]
	if !ok || job.Status != domain.JobStatusProcessing || job.ProcessingBy == nil || *job.ProcessingBy != workerID {
		return domain.ErrConflict
	}

	job.Status = outcome.Status
	job.LastError = outcome.LastError
	job.ProcessingAt = nil
	job.ProcessingBy = nil
	job.AdmittedAt = nil
	job.UpdatedAt = now
	if outcome.ScheduledFor != nil {
		job.ScheduledFor = *outcome.ScheduledFor
	}
	if outcome.IncrementAttempts {
		job.Attempts++
	}
	if outcome.SentAt != nil {
		job.SentAt = ptr(*outcome.SentAt)
	}
	if outcome.ProviderMessageID != nil {
		job.ProviderMessageID = ptr(*outcome.ProviderMessageID)
	}
	return nil
}

func (r *JobRepo) CancelQueued(_ context.Context, ids []string, code domain.ErrorCode, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for _, id := range ids {
		job, ok := r.s.jobs[id]
		if !ok || job.Status != domain.JobStatusQueued {
			continue
		}
		job.Status = domain.JobStatusCanceled
		job.LastError = code
		job.UpdatedAt = now
		n++
	}
	return n, nil
}

func (r *JobRepo) CancelBlastJobs(_ context.Context, blastID string, code domain.ErrorCode, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for _, job := range r.s.jobs {
		if job.BlastID == nil || *job.BlastID != blastID || !job.Status.IsPending() {
			continue
		}
		job.Status = domain.JobStatusCanceled
		job.LastError = code
		job.ProcessingAt = nil
		job.ProcessingBy = nil
		job.AdmittedAt = nil
		job.UpdatedAt = now
		n++
	}
	return n, nil
}

func (r *JobRepo) RequeueStale(_ context.Context, cutoff, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for _, job := range r.s.jobs {
		if job.Status != domain.JobStatusProcessing || job.ProcessingAt == nil || !job.ProcessingAt.Before(cutoff) {
			continue
		}
		job.Status = domain.JobStatusQueued
		job.LastError = domain.CodeStaleProcessing
		job.ProcessingAt = nil
		job.ProcessingBy = nil
		job.AdmittedAt = nil
		job.UpdatedAt = now
		n++
	}
	return n, nil
}

func (r *JobRepo) Reschedule(_ context.Context, id string, scheduledFor time.Time, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	job, ok := r.s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != domain.JobStatusQueued {
		return domain.ErrConflict
	}
	job.ScheduledFor = scheduledFor
	job.UpdatedAt = now
	return nil
}

func (r *JobRepo) RescheduleQueued(_ context.Context, schedule map[string]time.Time, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, at := range schedule {
		job, ok := r.s.jobs[id]
		if !ok || job.Status != domain.JobStatusQueued {
			continue
		}
		job.ScheduledFor = at
		job.UpdatedAt = now
	}
	return nil
}

func (r *JobRepo) BlastCounts(_ context.Context, blastID string, now time.Time) (domain.JobCounts, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var counts domain.JobCounts
	for _, job := range r.s.jobs {
		if job.BlastID == nil || *job.BlastID != blastID {
			continue
		}
		counts.Add(job.Status, 1)
		if job.ClaimedAt != nil {
			counts.Dispatched++
		}
		if job.Status != domain.JobStatusQueued {
			continue
		}
		if !job.ScheduledFor.After(now) {
			counts.DueNow++
		}
		if job.Attempts > 0 && job.LastError.IsTransient() {
			counts.Retrying++
		}
	}
	return counts, nil
}

func (r *JobRepo) ListQueuedByBlast(_ context.Context, blastID string) ([]domain.EmailJob, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.EmailJob
	for _, job := range r.s.jobs {
		if job.BlastID != nil && *job.BlastID == blastID && job.Status == domain.JobStatusQueued {
			out = append(out, *job)
		}
	}
	sortBySchedule(out)
	return out, nil
}

func (r *JobRepo) ListScheduleTimes(_ context.Context, blastID string) ([]time.Time, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var times []time.Time
	for _, job := range r.s.jobs {
		if job.BlastID != nil && *job.BlastID == blastID {
			times = append(times, job.ScheduledFor)
		}
	}
	sort.Slice(times, func(i, k int) bool { return times[i].Before(times[k]) })
	return times, nil
}

func (r *JobRepo) AdmitDaily(_ context.Context, jobID, workerID, companyID string, dayStart, dayEnd time.Time, limit int, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var used int64
	for _, job := range r.s.jobs {
		if job.CompanyID != companyID || job.ID == jobID {
			continue
		}
		switch {
		case job.Status == domain.JobStatusProcessing && job.AdmittedAt != nil:
			used++
		case job.Status == domain.JobStatusSent && sentWithin(job, dayStart, dayEnd):
			used++
		}
	}
	if used >= int64(limit) {
		return false, nil
	}

	job, ok := r.s.jobs[jobID]
	if !ok || job.Status != domain.JobStatusProcessing || job.ProcessingBy == nil || *job.ProcessingBy != workerID {
		return false, domain.ErrConflict
	}
	job.AdmittedAt = ptr(now)
	job.UpdatedAt = now
	return true, nil
}

func sentWithin(job *domain.EmailJob, from, to time.Time) bool {
	return job.SentAt != nil && !job.SentAt.Before(from) && job.SentAt.Before(to)
}

func (r *JobRepo) CountSentBetween(_ context.Context, companyID string, from, to time.Time) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var n int64
	for _, job := range r.s.jobs {
		if job.CompanyID == companyID && job.Status == domain.JobStatusSent && sentWithin(job, from, to) {
			n++
		}
	}
	return n, nil
}

func (r *JobRepo) CountFailedBetween(_ context.Context, companyID string, code domain.ErrorCode, from, to time.Time) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var n int64
	for _, job := range r.s.jobs {
		if job.CompanyID != companyID || job.Status != domain.JobStatusFailed || job.LastError != code {
			continue
		}
		if !job.UpdatedAt.Before(from) && job.UpdatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (r *JobRepo) HasRuleJobSince(_ context.Context, ruleID, recipientID string, since time.Time) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, job := range r.s.jobs {
		if job.RuleID == nil || *job.RuleID != ruleID || job.RecipientID != recipientID {
			continue
		}
		if job.CreatedAt.Before(since) {
			continue
		}
		switch job.Status {
		case domain.JobStatusQueued, domain.JobStatusProcessing, domain.JobStatusSent:
			return true, nil
		}
	}
	return false, nil
}
