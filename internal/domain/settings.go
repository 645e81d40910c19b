package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTimezone           = "America/Chicago"
	DefaultAllowedStart       = "09:00"
	DefaultAllowedEnd         = "17:00"
	DefaultDailyCap           = 200
	DefaultRateLimitPerMinute = 30

	DefaultBounceRateThreshold = 0.05
	DefaultBounceMinSent       = 50
	DefaultWarmupDays          = 14
)

// Who paused a company's sending and why.
const (
	PausedBySystem   = "system"
	PausedByOperator = "operator"

	PauseReasonManual     = "manual"
	PauseReasonBounceRate = "bounce_rate"
)

// SendWindowSettings are a company's delivery constraints.
type SendWindowSettings struct {
	CompanyID          string `json:"companyId,omitempty"`
	Timezone           string `json:"timezone"`
	AllowedDays        []int  `json:"allowedDays"`
	AllowedStartTime   string `json:"allowedStartTime"`
	AllowedEndTime     string `json:"allowedEndTime"`
	QuietHoursEnabled  bool   `json:"quietHoursEnabled"`
	DailyCap           int    `json:"dailyCap"`
	RateLimitPerMinute int    `json:"rateLimitPerMinute"`

	SendingPaused       bool       `json:"sendingPaused"`
	SendingPausedAt     *time.Time `json:"sendingPausedAt,omitempty"`
	SendingPausedBy     string     `json:"sendingPausedBy,omitempty"`
	SendingPausedReason string     `json:"sendingPausedReason,omitempty"`

	// BounceRateThreshold of 0 disables the bounce-rate auto-pause.
	BounceRateThreshold float64 `json:"bounceRateThreshold"`
	BounceMinSent       int     `json:"bounceMinSent"`

	Warmup *Warmup `json:"warmup,omitempty"`
}

// Warmup ramps a new sending domain's daily volume up over its first days.
type Warmup struct {
	StartedAt time.Time    `json:"startedAt"`
	Days      int          `json:"days"`
	Schedule  []WarmupStep `json:"schedule"`
}

// WarmupStep applies Cap from warmup day Day (1-based) onward.
type WarmupStep struct {
	Day int `json:"day"`
	Cap int `json:"cap"`
}

// DefaultWarmupSchedule is used when a warmup carries no schedule of its own.
func DefaultWarmupSchedule() []WarmupStep {
	return []WarmupStep{
		{Day: 1, Cap: 25},
		{Day: 4, Cap: 50},
		{Day: 8, Cap: 100},
		{Day: 11, Cap: 250},
	}
}

// DefaultSendWindowSettings returns the settings used when a company has none stored.
func DefaultSendWindowSettings(companyID string, timezone string) SendWindowSettings {
	if strings.TrimSpace(timezone) == "" {
		timezone = DefaultTimezone
	}
	return SendWindowSettings{
		CompanyID:           companyID,
		Timezone:            timezone,
		AllowedDays:         []int{1, 2, 3, 4, 5},
		AllowedStartTime:    DefaultAllowedStart,
		AllowedEndTime:      DefaultAllowedEnd,
		QuietHoursEnabled:   true,
		DailyCap:            DefaultDailyCap,
		RateLimitPerMinute:  DefaultRateLimitPerMinute,
		BounceRateThreshold: DefaultBounceRateThreshold,
		BounceMinSent:       DefaultBounceMinSent,
	}
}

func (s *SendWindowSettings) Validate() error {
	if _, err := time.LoadLocation(s.Timezone); err != nil || strings.TrimSpace(s.Timezone) == "" {
		return fmt.Errorf("%w: invalid timezone %q", ErrValidation, s.Timezone)
	}
	for _, day := range s.AllowedDays {
		if day < 0 || day > 6 {
			return fmt.Errorf("%w: allowedDays entries must be 0-6, got %d", ErrValidation, day)
		}
	}
	start, err := ParseClockMinutes(s.AllowedStartTime)
	if err != nil {
		return err
	}
	end, err := ParseClockMinutes(s.AllowedEndTime)
	if err != nil {
		return err
	}
	if s.QuietHoursEnabled && start == end {
		return fmt.Errorf("%w: allowedStartTime and allowedEndTime must differ", ErrValidation)
	}
	if s.DailyCap < 0 {
		return fmt.Errorf("%w: dailyCap must be >= 0", ErrValidation)
	}
	if s.RateLimitPerMinute < 0 {
		return fmt.Errorf("%w: rateLimitPerMinute must be >= 0", ErrValidation)
	}
	if s.BounceRateThreshold < 0 || s.BounceRateThreshold > 1 {
		return fmt.Errorf("%w: bounceRateThreshold must be between 0 and 1", ErrValidation)
	}
	if s.BounceMinSent < 0 {
		return fmt.Errorf("%w: bounceMinSent must be >= 0", ErrValidation)
	}
	if s.Warmup != nil {
		if s.Warmup.StartedAt.IsZero() {
			return fmt.Errorf("%w: warmup.startedAt is required", ErrValidation)
		}
		if s.Warmup.Days < 0 {
			return fmt.Errorf("%w: warmup.days must be >= 0", ErrValidation)
		}
		for _, step := range s.Warmup.Schedule {
			if step.Day < 1 || step.Cap < 1 {
				return fmt.Errorf("%w: warmup schedule entries need day >= 1 and cap >= 1", ErrValidation)
			}
		}
	}
	return nil
}

// WarmupCapOn returns the warmup cap for the local day containing t, or 0 when
// no warmup applies that day.
func (s *SendWindowSettings) WarmupCapOn(t time.Time) int {
	if s.Warmup == nil || s.Warmup.StartedAt.IsZero() {
		return 0
	}
	days := s.Warmup.Days
	if days == 0 {
		days = DefaultWarmupDays
	}
	loc := s.Location()
	start := s.Warmup.StartedAt.In(loc)
	local := t.In(loc)
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	dayIndex := int(today.Sub(startDay).Hours()/24) + 1
	if dayIndex < 1 {
		dayIndex = 1
	}
	if dayIndex > days {
		return 0
	}

	schedule := s.Warmup.Schedule
	if len(schedule) == 0 {
		schedule = DefaultWarmupSchedule()
	}
	capacity := 0
	for _, step := range schedule {
		if step.Day <= dayIndex {
			capacity = step.Cap
		}
	}
	if capacity == 0 {
		capacity = schedule[0].Cap
	}
	return capacity
}

// EffectiveDailyCap combines DailyCap with any warmup cap for the day containing t.
// 0 means unlimited.
func (s *SendWindowSettings) EffectiveDailyCap(t time.Time) int {
	return CombineCaps(s.DailyCap, s.WarmupCapOn(t))
}

// CombineCaps returns the tighter of two caps where 0 means unlimited.
func CombineCaps(base, warmup int) int {
	switch {
	case warmup <= 0:
		return base
	case base <= 0:
		return warmup
	case warmup < base:
		return warmup
	default:
		return base
	}
}

// Location resolves the settings timezone, falling back to UTC.
func (s *SendWindowSettings) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil || strings.TrimSpace(s.Timezone) == "" {
		return time.UTC
	}
	return loc
}

// ParseClockMinutes parses "HH:MM" into minutes after midnight.
func ParseClockMinutes(value string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrValidation, value)
	}
	hours, err := strconv.Atoi(hh)
	if err != nil || hours < 0 || hours > 24 {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrValidation, value)
	}
	minutes, err := strconv.Atoi(mm)
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrValidation, value)
	}
	total := hours*60 + minutes
	if total > 24*60 {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrValidation, value)
	}
	return total, nil
}
