package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/repo"
)

func TestDailyRecurrenceSpawnsOneScheduledAction(t *testing.T) {
	env := newTestEnv(t)
	at := "2024-03-10T07:45:00Z"
	a := env.define(t, engine.NewAction{
		Title:        "Morning check-in",
		Description:  "Log mood",
		ScheduledFor: &at,
		TaskType:     domain.TaskMeasurement,
		TaskConfig: domain.TaskConfig{
			Instructions: "Ask three questions",
			Dimensions:   []string{"mood"},
			Recurrence:   &domain.Recurrence{Frequency: "daily"},
		},
	})

	_, next, err := env.Engine.CompleteAction(env.Ctx, "user-1", a.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, domain.StateScheduled, next.State)
	assert.Equal(t, a.ID, next.RecurredFrom)
	assert.Equal(t, a.Title, next.Title)
	assert.Equal(t, a.TaskConfig.Instructions, next.TaskConfig.Instructions)
	require.NotNil(t, next.ScheduledFor)
	assert.Equal(t, "2024-03-11T07:45:00Z", *next.ScheduledFor)

	scheduled, err := env.Engine.Store.ListActions(env.Ctx, repo.ActionFilter{AgentID: env.Agent.ID, States: []string{domain.StateScheduled}})
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, next.ID, scheduled[0].ID)
	assert.Equal(t, 2, env.metrics(t).TotalActions)
}

func TestRecurrenceTimeOverridesPriorSchedule(t *testing.T) {
	env := newTestEnv(t)
	at := "2024-03-10T07:45:00Z"
	a := env.define(t, engine.NewAction{
		Title:        "Evening review",
		ScheduledFor: &at,
		TaskConfig:   domain.TaskConfig{Recurrence: &domain.Recurrence{Frequency: "daily", Time: "18:30"}},
	})
	_, next, err := env.Engine.CompleteAction(env.Ctx, "user-1", a.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "2024-03-11T18:30:00Z", *next.ScheduledFor)
}

func TestRecurrenceFromFutureSchedule(t *testing.T) {
	env := newTestEnv(t)
	at := fixedNow.Add(72 * time.Hour).Format(time.RFC3339)
	a := env.define(t, engine.NewAction{
		Title:        "Early finish",
		ScheduledFor: &at,
		TaskConfig:   domain.TaskConfig{Recurrence: &domain.Recurrence{Frequency: "daily"}},
	})
	_, next, err := env.Engine.CompleteAction(env.Ctx, "user-1", a.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "2024-03-14T14:30:00Z", *next.ScheduledFor)
}

func TestNoRecurrenceWithoutDailyConfig(t *testing.T) {
	env := newTestEnv(t)
	a := env.define(t, engine.NewAction{Title: "One-off"})
	_, next, err := env.Engine.CompleteAction(env.Ctx, "user-1", a.ID)
	require.NoError(t, err)
	assert.Nil(t, next)

	_, err = env.Engine.ProposeAction("user-1", engine.NewAction{
		Title:      "Weekly",
		TaskConfig: domain.TaskConfig{Recurrence: &domain.Recurrence{Frequency: "weekly"}},
	})
	assert.Error(t, err)
}
