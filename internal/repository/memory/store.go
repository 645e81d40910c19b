// Package memory keeps every repository port in process memory. It is used by
// service tests and for running the API without Postgres.
package memory

import (
	"sync"

	"github.com/zlammie/keepup-mailer/internal/domain"
	"github.com/zlammie/keepup-mailer/internal/repository"
)

type recipientKey struct {
	kind domain.RecipientKind
	id   string
}

type suppressionKey struct {
	companyID string
	email     string
}

// Store holds all records behind one lock so multi-record writes are atomic.
type Store struct {
	mu           sync.RWMutex
	jobs         map[string]*domain.EmailJob
	blasts       map[string]*domain.Blast
	recipients   map[recipientKey]*domain.Recipient
	suppressions map[suppressionKey]*domain.Suppression
	rules        map[string]*domain.AutomationRule
	schedules    map[string]*domain.FollowUpSchedule
	settings     map[string]*domain.SendWindowSettings
}

func NewStore() *Store {
	return &Store{
		jobs:         make(map[string]*domain.EmailJob),
		blasts:       make(map[string]*domain.Blast),
		recipients:   make(map[recipientKey]*domain.Recipient),
		suppressions: make(map[suppressionKey]*domain.Suppression),
		rules:        make(map[string]*domain.AutomationRule),
		schedules:    make(map[string]*domain.FollowUpSchedule),
		settings:     make(map[string]*domain.SendWindowSettings),
	}
}

func (s *Store) Jobs() *JobRepo { return &JobRepo{s: s} }
func (s *Store) Blasts() *BlastRepo { return &BlastRepo{s: s} }
func (s *Store) Recipients() *RecipientRepo { return &RecipientRepo{s: s} }
func (s *Store) Suppressions() *SuppressionRepo { return &SuppressionRepo{s: s} }
func (s *Store) Automation() *AutomationRepo { return &AutomationRepo{s: s} }
func (s *Store) Settings() *SettingsRepo { return &SettingsRepo{s: s} }

func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Jobs:         s.Jobs(),
		Blasts:       s.Blasts(),
		Recipients:   s.Recipients(),
		Suppressions: s.Suppressions(),
		Automation:   s.Automation(),
		Settings:     s.Settings(),
	}
}

var (
	_ repository.JobRepository         = (*JobRepo)(nil)
	_ repository.BlastRepository       = (*BlastRepo)(nil)
	_ repository.RecipientRepository   = (*RecipientRepo)(nil)
	_ repository.SuppressionRepository = (*SuppressionRepo)(nil)
	_ repository.AutomationRepository  = (*AutomationRepo)(nil)
	_ repository.SettingsRepository    = (*SettingsRepo)(nil)
)

func ptr[T any](v T) *T {
	return &v
}

func limitOr(limit, fallback, ceiling int) int {
	if limit < 1 {
		limit = fallback
	}
	return min(limit, ceiling)
}
