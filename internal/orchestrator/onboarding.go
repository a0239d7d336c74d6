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

	"agentline/internal/engine"
	"agentline/internal/signal"
	"agentline/internal/tracker"
)

type OnboardRequest struct {
	UserID  string
	History []HistoryMessage
	Message string
}

// OnboardResult carries the assistant reply and, once the model has settled
// on a goal, the proposal the caller may turn into an agent.
type OnboardResult struct {
	Reply        string           `json:"reply"`
	Ready        bool             `json:"ready"`
	Proposal     *engine.Proposal `json:"proposal,omitempty"`
	InputTokens  int64            `json:"input_tokens"`
	OutputTokens int64            `json:"output_tokens"`
	CostUSD      float64          `json:"cost_usd"`
}

// Onboard runs one turn of the goal-setup conversation. No tools are offered
// and READY_TO_CREATE is the only signal accepted.
func (o *Orchestrator) Onboard(ctx context.Context, req OnboardRequest) (OnboardResult, error) {
	start := time.Now()
	res, err := o.onboard(ctx, req)
	if err != nil {
		o.log.Warn("onboarding turn failed", zap.String("kind", string(err.Kind)), zap.Error(err.Err))
		o.deps.Metrics.Turn("onboarding", string(err.Kind), time.Since(start))
		return OnboardResult{}, err
	}
	o.deps.Metrics.Turn("onboarding", "ok", time.Since(start))
	return res, nil
}

func (o *Orchestrator) onboard(ctx context.Context, req OnboardRequest) (OnboardResult, *TurnError) {
	if strings.TrimSpace(req.UserID) == "" {
		return OnboardResult{}, validationError("user_id is required")
	}
	msgs, terr := buildMessages(req.History, req.Message)
	if terr != nil {
		return OnboardResult{}, terr
	}

	tr := tracker.New(o.deps.Engine.Store, tracker.Meta{UserID: req.UserID, Kind: "onboarding"}, o.log, o.now)
	defer o.flush(ctx, tr)

	turnCtx, cancel := o.detached(ctx)
	defer cancel()
	turnCtx, span := o.deps.Tracer.Start(turnCtx, "agentline.turn", trace.WithAttributes(
		attribute.String("turn.kind", "onboarding"),
	))
	defer span.End()

	system := o.deps.Builder.Onboarding()
	tr.Context(map[string]any{"system_blocks": len(system), "history": len(req.History)})

	resp, err := o.complete(turnCtx, tr, o.request(system, msgs, nil), 0)
	if err != nil {
		span.SetStatus(codes.Error, "provider")
		return OnboardResult{}, providerError(err)
	}
	summary := tr.Summary()
	out := OnboardResult{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CostUSD:      summary.CostUSD,
	}

	parsed, err := signal.Parse(resp.Text)
	if err != nil {
		tr.Error("signal_parse", err)
		span.SetStatus(codes.Error, "signal")
		return OnboardResult{}, generationError(err)
	}
	out.Reply = parsed.Text
	if parsed.Signal == nil {
		return out, nil
	}

	goal, ok := parsed.Signal.Payload.(signal.Goal)
	if !ok {
		err := fmt.Errorf("%s is not valid during onboarding", parsed.Signal.Kind)
		tr.Error("signal_apply", err)
		span.SetStatus(codes.Error, "signal")
		return OnboardResult{}, generationError(err)
	}
	tr.Signal(string(parsed.Signal.Kind))
	o.deps.Metrics.Signal(string(parsed.Signal.Kind))
	out.Ready = true
	out.Proposal = &engine.Proposal{
		Title:           goal.Title,
		Goal:            goal.Goal,
		SuccessCriteria: goal.SuccessCriteria,
		Timeline:        goal.Timeline,
	}
	if out.Reply == "" {
		out.Reply = fmt.Sprintf("Great, I have everything I need to set up %q.", goal.Title)
	}
	return out, nil
}
