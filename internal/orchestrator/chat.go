package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/prompt"
	"agentline/internal/repo"
	"agentline/internal/signal"
	"agentline/internal/tools"
	"agentline/internal/tracker"
)

type TurnRequest struct {
	UserID        string
	AgentID       string
	SessionID     string
	ActionID      string
	ReviewBatchID string
	History       []HistoryMessage
	Message       string
}

// TurnResult is what a chat turn hands back. At most one of ActionDraft,
// Asset and Measurement is set, matching Signal.
type TurnResult struct {
	Reply            string              `json:"reply"`
	Signal           string              `json:"signal,omitempty"`
	ActionDraft      *domain.Action      `json:"action_draft,omitempty"`
	Asset            *domain.Asset       `json:"asset,omitempty"`
	Measurement      *domain.Measurement `json:"measurement,omitempty"`
	CompletedAction  *domain.Action      `json:"completed_action,omitempty"`
	NextAction       *domain.Action      `json:"next_action,omitempty"`
	Tools            []ToolOutcome       `json:"tools,omitempty"`
	IgnoredToolCalls []string            `json:"ignored_tool_calls,omitempty"`
	InputTokens      int64               `json:"input_tokens"`
	OutputTokens     int64               `json:"output_tokens"`
	CacheReadTokens  int64               `json:"cache_read_tokens"`
	CostUSD          float64             `json:"cost_usd"`
}

// Chat runs one turn of an agent conversation.
func (o *Orchestrator) Chat(ctx context.Context, req TurnRequest) (TurnResult, error) {
	start := time.Now()
	res, err := o.chat(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = string(err.Kind)
		o.log.Warn("turn failed",
			zap.String("agent_id", req.AgentID),
			zap.String("kind", string(err.Kind)),
			zap.Error(err.Err),
		)
		o.deps.Metrics.Turn("chat", outcome, time.Since(start))
		return TurnResult{}, err
	}
	o.deps.Metrics.Turn("chat", outcome, time.Since(start))
	return res, nil
}

func (o *Orchestrator) chat(ctx context.Context, req TurnRequest) (TurnResult, *TurnError) {
	if strings.TrimSpace(req.UserID) == "" {
		return TurnResult{}, validationError("user_id is required")
	}
	msgs, terr := buildMessages(req.History, req.Message)
	if terr != nil {
		return TurnResult{}, terr
	}

	eng := o.deps.Engine
	agent, err := eng.GetAgent(ctx, req.UserID, req.AgentID)
	if err != nil {
		return TurnResult{}, lookupError(err)
	}
	var action *domain.Action
	if req.ActionID != "" {
		a, err := eng.GetAction(ctx, req.UserID, req.ActionID)
		if err != nil {
			return TurnResult{}, lookupError(err)
		}
		if a.AgentID != agent.ID {
			return TurnResult{}, validationError("action %s does not belong to agent %s", a.ID, agent.ID)
		}
		action = &a
	}
	var review *prompt.Review
	if req.ReviewBatchID != "" {
		drafts, err := eng.ListDrafts(ctx, req.UserID, repo.DraftFilter{AgentID: agent.ID, BatchID: req.ReviewBatchID})
		if err != nil {
			return TurnResult{}, lookupError(err)
		}
		review = &prompt.Review{BatchID: req.ReviewBatchID, Drafts: drafts}
	}

	meta := tracker.Meta{UserID: req.UserID, AgentID: agent.ID, Kind: "chat"}
	if action != nil {
		meta.ActionID = action.ID
	}
	tr := tracker.New(eng.Store, meta, o.log, o.now)
	defer o.flush(ctx, tr)

	turnCtx, cancel := o.detached(ctx)
	defer cancel()
	turnCtx, span := o.deps.Tracer.Start(turnCtx, "agentline.turn", trace.WithAttributes(
		attribute.String("agent.id", agent.ID),
		attribute.String("turn.kind", "chat"),
	))
	defer span.End()

	built, err := o.deps.Builder.Build(turnCtx, prompt.Input{
		UserID:    req.UserID,
		Agent:     agent,
		SessionID: req.SessionID,
		Action:    action,
		Review:    review,
	})
	if err != nil {
		tr.Error("context", err)
		return TurnResult{}, lookupError(err)
	}
	tr.Context(map[string]any{
		"system_blocks": len(built.System),
		"tools":         len(built.Tools),
		"snapshot_hit":  built.SnapshotHit,
		"history":       len(req.History),
	})

	call := tools.Call{
		UserID:        req.UserID,
		AgentID:       agent.ID,
		ReviewBatchID: req.ReviewBatchID,
		Scope:         built.Scope,
	}
	if action != nil {
		call.ActionID = action.ID
	}

	resp, outcomes, ignored, usage, err := o.dispatch(turnCtx, tr, o.request(built.System, msgs, built.Tools), call)
	summary := tr.Summary()
	o.recordUsage(turnCtx, agent.ID, action, summary.APICalls, usage, summary.CostUSD)
	if err != nil {
		span.SetStatus(codes.Error, "provider")
		return TurnResult{}, providerError(err)
	}

	out := TurnResult{
		Tools:            outcomes,
		IgnoredToolCalls: ignored,
		InputTokens:      usage.InputTokens,
		OutputTokens:     usage.OutputTokens,
		CacheReadTokens:  usage.CacheReadTokens,
		CostUSD:          summary.CostUSD,
	}

	parsed, err := signal.Parse(resp.Text)
	if err != nil {
		tr.Error("signal_parse", err)
		span.SetStatus(codes.Error, "signal")
		return TurnResult{}, generationError(err)
	}
	out.Reply = parsed.Text
	if parsed.DroppedObjects > 0 {
		o.log.Warn("extra signal payloads ignored",
			zap.String("agent_id", agent.ID),
			zap.String("signal", string(parsed.Signal.Kind)),
			zap.Int("count", parsed.DroppedObjects),
		)
	}

	if action != nil {
		if err := o.startIfPending(turnCtx, req.UserID, action); err != nil {
			o.log.Warn("start action failed", zap.String("action_id", action.ID), zap.Error(err))
		}
	}

	if parsed.Signal != nil {
		tr.Signal(string(parsed.Signal.Kind))
		o.deps.Metrics.Signal(string(parsed.Signal.Kind))
		out.Signal = string(parsed.Signal.Kind)
		if terr := o.applySignal(turnCtx, req.UserID, agent, action, parsed.Signal, &out); terr != nil {
			tr.Error("signal_apply", terr.Err)
			span.SetStatus(codes.Error, "signal")
			return TurnResult{}, terr
		}
	}
	return out, nil
}

// startIfPending moves the turn's action into progress on its first
// substantive exchange.
func (o *Orchestrator) startIfPending(ctx context.Context, userID string, action *domain.Action) error {
	if action.State != domain.StateOpen && action.State != domain.StateScheduled {
		return nil
	}
	started, err := o.deps.Engine.StartAction(ctx, userID, action.ID)
	if err != nil {
		return err
	}
	*action = started
	return nil
}

func (o *Orchestrator) applySignal(ctx context.Context, userID string, agent domain.Agent, action *domain.Action, s *signal.Signal, out *TurnResult) *TurnError {
	eng := o.deps.Engine
	switch p := s.Payload.(type) {
	case signal.GeneratedAction:
		draft, err := eng.ProposeAction(userID, engine.NewAction{
			AgentID:     agent.ID,
			Title:       p.Title,
			Description: p.Description,
			Priority:    p.Priority,
			TaskType:    p.TaskType,
			TaskConfig: domain.TaskConfig{
				Instructions:   p.TaskConfig.Instructions,
				ExpectedOutput: p.TaskConfig.ExpectedOutput,
			},
		})
		if err != nil {
			return generationError(err)
		}
		out.ActionDraft = &draft
		if out.Reply == "" {
			out.Reply = fmt.Sprintf("Here is a proposed action: %s", draft.Title)
		}

	case signal.GeneratedAsset:
		asset := domain.Asset{
			UserID:      userID,
			AgentID:     agent.ID,
			Title:       p.Title,
			Description: p.Description,
			Type:        p.Type,
			Content:     p.Content,
		}
		if action != nil {
			asset.ActionID = action.ID
		}
		out.Asset = &asset
		if out.Reply == "" {
			out.Reply = fmt.Sprintf("Here is the %s you asked for: %s", p.Type, p.Title)
		}

	case signal.Measurement:
		m := domain.Measurement{AgentID: agent.ID, Notes: p.Notes}
		if action != nil {
			m.ActionID = action.ID
		}
		for _, d := range p.Dimensions {
			m.Dimensions = append(m.Dimensions, domain.MeasurementDimension{Name: d.Name, Score: d.Score, Notes: d.Notes})
		}
		saved, err := eng.RecordMeasurement(ctx, userID, m)
		if err != nil {
			return generationError(err)
		}
		out.Measurement = &saved
		if action != nil && action.TaskType == domain.TaskMeasurement && !action.Terminal() {
			done, next, err := eng.CompleteAction(ctx, userID, action.ID)
			if err != nil {
				o.log.Warn("complete measurement action failed", zap.String("action_id", action.ID), zap.Error(err))
			} else {
				out.CompletedAction = &done
				out.NextAction = next
			}
		}
		if out.Reply == "" {
			out.Reply = "Thanks, I've recorded this check-in."
		}

	case signal.Goal:
		return generationError(fmt.Errorf("%s is only valid during onboarding", s.Kind))

	default:
		return generationError(fmt.Errorf("unhandled signal %s", s.Kind))
	}
	return nil
}
