package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"agentline/internal/config"
	"agentline/internal/domain"
	"agentline/internal/events"
	"agentline/internal/logging"
	"agentline/internal/repo"
)

// ErrTerminalState is returned for any transition out of completed or dismissed.
var ErrTerminalState = errors.New("action is in a terminal state")

// TransitionError reports a disallowed state change.
type TransitionError struct {
	From string
	To   string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid action state transition %s -> %s", e.From, e.To)
}

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type Engine struct {
	Store  repo.Store
	Events events.Writer
	Config *config.Config
	Log    *zap.Logger
	Now    func() time.Time
}

func New(store repo.Store, cfg *config.Config, log *zap.Logger) Engine {
	return Engine{
		Store:  store,
		Config: cfg,
		Log:    logging.OrNop(log),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) stamp() string {
	return e.now().Format(time.RFC3339)
}

func (e Engine) logger() *zap.Logger {
	return logging.OrNop(e.Log)
}

// appendEvent builds an event with the engine clock and writes it through s.
func (e Engine) appendEvent(ctx context.Context, s repo.Store, evtType, agentID, entityKind, entityID, userID string, payload events.Payload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	evt, err := w.Build(evtType, agentID, entityKind, entityID, userID, payload)
	if err != nil {
		return err
	}
	return s.AppendEvent(ctx, evt)
}

func requireText(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

func validPriority(p string) bool {
	switch p {
	case "low", "medium", "high":
		return true
	}
	return false
}

func validTaskType(t string) bool {
	switch t {
	case domain.TaskInteractive, domain.TaskScheduled, domain.TaskMeasurement, domain.TaskManual:
		return true
	}
	return false
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
