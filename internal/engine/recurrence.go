package engine

import (
	"fmt"
	"time"

	"agentline/internal/domain"
)

// Used when a daily action has neither a recurrence time nor a prior schedule.
const defaultRecurrenceClock = "09:00"

func parseClock(v string) (int, int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, 0, fmt.Errorf("time must be HH:MM, got %q", v)
	}
	return t.Hour(), t.Minute(), nil
}

// nextOccurrence returns when a completed daily action recurs: the day after
// the later of completion and its prior schedule, at the configured
// time-of-day. An explicit recurrence time wins over the prior schedule's.
func nextOccurrence(a domain.Action, completedAt time.Time) (time.Time, bool) {
	r := a.TaskConfig.Recurrence
	if r == nil || r.Frequency != "daily" {
		return time.Time{}, false
	}
	base := completedAt.UTC()
	var prior *time.Time
	if a.ScheduledFor != nil {
		if t, err := time.Parse(time.RFC3339, *a.ScheduledFor); err == nil {
			t = t.UTC()
			prior = &t
			if t.After(base) {
				base = t
			}
		}
	}
	hour, minute, _ := parseClock(defaultRecurrenceClock)
	switch {
	case r.Time != "":
		h, m, err := parseClock(r.Time)
		if err != nil {
			return time.Time{}, false
		}
		hour, minute = h, m
	case prior != nil:
		hour, minute = prior.Hour(), prior.Minute()
	}
	day := base.AddDate(0, 0, 1)
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC), true
}

func recurrenceOf(a domain.Action, at time.Time, now string) domain.Action {
	when := at.Format(time.RFC3339)
	return domain.Action{
		ID:           domain.NewID(domain.PrefixAction),
		UserID:       a.UserID,
		AgentID:      a.AgentID,
		ProjectID:    a.ProjectID,
		Title:        a.Title,
		Description:  a.Description,
		Priority:     a.Priority,
		TaskType:     a.TaskType,
		State:        domain.StateScheduled,
		TaskConfig:   a.TaskConfig,
		ScheduledFor: &when,
		RecurredFrom: a.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
