package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/engine/auth"
	"agentline/internal/llm"
	"agentline/internal/logging"
)

// Capabilities describe what the deployment allows, independent of any agent.
type Capabilities struct {
	// LocalExecution enables sandboxed filesystem tools for agents that opt in.
	LocalExecution bool
	SandboxRoot    string
}

// Scope is the set of tool groups offered in one turn.
type Scope struct {
	Filesystem bool
	Notes      bool
	Review     bool
}

// ScopeFor combines deployment capabilities with the agent's own flags and
// whether the turn carries drafts awaiting review.
func (c Capabilities) ScopeFor(agent domain.Agent, pendingDrafts int) Scope {
	return Scope{
		Filesystem: c.LocalExecution && agent.Capabilities.Filesystem,
		Notes:      agent.Capabilities.Notes,
		Review:     pendingDrafts > 0,
	}
}

func (s Scope) allows(g group) bool {
	switch g {
	case groupActions:
		return true
	case groupNotes:
		return s.Notes
	case groupFilesystem:
		return s.Filesystem
	case groupReview:
		return s.Review
	}
	return false
}

// Call is the per-turn context every handler receives.
type Call struct {
	UserID        string
	AgentID       string
	ActionID      string
	ReviewBatchID string
	Scope         Scope
}

// Result is what the model sees: either Data or an Error message.
type Result struct {
	Name  Name
	Data  any
	Error string
}

func (r Result) Failed() bool { return r.Error != "" }

// JSON renders the result as a tool_result body.
func (r Result) JSON() string {
	var v any = r.Data
	if r.Failed() {
		v = map[string]string{"error": r.Error}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, "result could not be encoded")
	}
	return string(b)
}

type Registry struct {
	handlers Handlers
	log      *zap.Logger
}

func NewRegistry(h Handlers, log *zap.Logger) *Registry {
	return &Registry{handlers: h, log: logging.OrNop(log).Named("tools")}
}

// Specs lists the tools offered under scope, in catalog order.
func (r *Registry) Specs(scope Scope) []llm.ToolSpec {
	var out []llm.ToolSpec
	for _, d := range catalog {
		if !scope.allows(d.group) {
			continue
		}
		out = append(out, llm.ToolSpec{Name: string(d.name), Description: d.description, InputSchema: d.schema})
	}
	return out
}

// Execute runs one tool call. It never returns an error: unknown tools,
// tools outside the turn's scope, bad input, handler failures and panics
// all become a Result with Error set.
func (r *Registry) Execute(ctx context.Context, call Call, name string, input json.RawMessage) (res Result) {
	res.Name = Name(name)
	def, ok := byName[Name(name)]
	if !ok {
		res.Error = fmt.Sprintf("Unknown tool %q", name)
		return res
	}
	if !call.Scope.allows(def.group) {
		res.Error = fmt.Sprintf("Tool %q is not available in this conversation", name)
		return res
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("tool panicked", zap.String("tool", name), zap.Any("panic", p))
			res.Data = nil
			res.Error = "Tool failed unexpectedly"
		}
	}()
	data, err := def.run(ctx, r.handlers, call, input)
	if err != nil {
		res.Error = r.message(name, err)
		return res
	}
	res.Data = data
	return res
}

func (r *Registry) message(name string, err error) string {
	var (
		denied     auth.AccessDeniedError
		invalidID  auth.InvalidIDError
		validation engine.ValidationError
		transition engine.TransitionError
		badInput   inputError
	)
	switch {
	case errors.As(err, &denied):
		return denied.Error()
	case errors.As(err, &invalidID), errors.As(err, &validation), errors.As(err, &transition),
		errors.As(err, &badInput), errors.Is(err, engine.ErrTerminalState), errors.Is(err, ErrSandbox):
		return err.Error()
	}
	r.log.Warn("tool failed", zap.String("tool", name), zap.Error(err))
	return "Tool failed: " + err.Error()
}
