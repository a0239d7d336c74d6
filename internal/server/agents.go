package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/orchestrator"
)

type AgentPath struct {
	AgentID string `path:"agent_id"`
}

func (s server) registerAgents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-agent",
		Method:        http.MethodPost,
		Path:          "/agents",
		Summary:       "Create agent",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateAgentRequest `json:"body"`
	}) (*response[domain.Agent], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := s.engine.CreateAgent(ctx, userID, engine.NewAgent{
			Name:            input.Body.Name,
			Goal:            input.Body.Goal,
			SuccessCriteria: input.Body.SuccessCriteria,
			Timeline:        input.Body.Timeline,
			Capabilities:    defaultCapabilities(input.Body.Capabilities),
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
	}, func(ctx context.Context, _ *struct{}) (*response[[]domain.Agent], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := s.engine.ListAgents(ctx, userID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}",
		Summary:     "Get agent",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *AgentPath) (*response[domain.Agent], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := s.engine.GetAgent(ctx, userID, input.AgentID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-agent",
		Method:      http.MethodPatch,
		Path:        "/agents/{agent_id}",
		Summary:     "Update agent",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AgentPath
		Body UpdateAgentRequest `json:"body"`
	}) (*response[domain.Agent], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		a, err := s.engine.UpdateAgent(ctx, userID, input.AgentID, engine.AgentPatch{
			Name:            b.Name,
			Goal:            b.Goal,
			SuccessCriteria: b.SuccessCriteria,
			Timeline:        b.Timeline,
			Status:          b.Status,
			Capabilities:    b.Capabilities,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(a), nil
	})
}

func (s server) registerTurns(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "agent-chat",
		Method:      http.MethodPost,
		Path:        "/agents/{agent_id}/chat",
		Summary:     "Run one conversation turn with an agent",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}, func(ctx context.Context, input *struct {
		AgentPath
		Body ChatRequest `json:"body"`
	}) (*response[orchestrator.TurnResult], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := s.orch.Chat(ctx, orchestrator.TurnRequest{
			UserID:        userID,
			AgentID:       input.AgentID,
			SessionID:     input.Body.SessionID,
			ActionID:      input.Body.ActionID,
			ReviewBatchID: input.Body.ReviewBatchID,
			History:       input.Body.History,
			Message:       input.Body.Message,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "onboarding-chat",
		Method:      http.MethodPost,
		Path:        "/onboarding/chat",
		Summary:     "Run one turn of the goal-setup conversation",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}, func(ctx context.Context, input *struct {
		Body OnboardingChatRequest `json:"body"`
	}) (*response[orchestrator.OnboardResult], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := s.orch.Onboard(ctx, orchestrator.OnboardRequest{
			UserID:  userID,
			History: input.Body.History,
			Message: input.Body.Message,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "onboarding-create-agent",
		Method:        http.MethodPost,
		Path:          "/onboarding/agents",
		Summary:       "Create an agent from an onboarding proposal",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateFromProposalRequest `json:"body"`
	}) (*response[domain.Agent], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		a, err := s.engine.CreateAgentFromProposal(ctx, userID, engine.Proposal{
			Title:           b.Title,
			Goal:            b.Goal,
			SuccessCriteria: b.SuccessCriteria,
			Timeline:        b.Timeline,
		}, defaultCapabilities(b.Capabilities))
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(a), nil
	})
}
