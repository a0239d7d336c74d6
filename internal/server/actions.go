package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/repo"
)

type ActionPath struct {
	ID string `path:"id"`
}

func (s server) registerActions(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}/actions",
		Summary:     "List an agent's actions",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AgentPath
		State []string `query:"state" enum:"open,scheduled,in_progress,completed,dismissed"`
		Limit int      `query:"limit" default:"50"`
	}) (*response[[]domain.Action], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := s.engine.GetAgent(ctx, userID, input.AgentID); err != nil {
			return nil, s.handleError(err)
		}
		items, err := s.engine.ListActions(ctx, userID, repo.ActionFilter{
			AgentID: input.AgentID,
			States:  input.State,
			Limit:   normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "define-action",
		Method:        http.MethodPost,
		Path:          "/actions",
		Summary:       "Persist a draft action",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body DefineActionRequest `json:"body"`
	}) (*response[domain.Action], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		in := engine.NewAction{
			AgentID:      b.AgentID,
			ProjectID:    b.ProjectID,
			Title:        b.Title,
			Description:  b.Description,
			Priority:     b.Priority,
			TaskType:     b.TaskType,
			ScheduledFor: b.ScheduledFor,
		}
		if b.TaskConfig != nil {
			in.TaskConfig = *b.TaskConfig
		}
		draft, err := s.engine.ProposeAction(userID, in)
		if err != nil {
			return nil, s.handleError(err)
		}
		if b.ID != "" {
			draft.ID = b.ID
		}
		a, err := s.engine.DefineAction(ctx, userID, draft)
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-action",
		Method:      http.MethodGet,
		Path:        "/actions/{id}",
		Summary:     "Get action",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *ActionPath) (*response[domain.Action], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := s.engine.GetAction(ctx, userID, input.ID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-action",
		Method:      http.MethodPatch,
		Path:        "/actions/{id}",
		Summary:     "Update action fields",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ActionPath
		Body UpdateActionRequest `json:"body"`
	}) (*response[domain.Action], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		b := input.Body
		a, err := s.engine.UpdateAction(ctx, userID, input.ID, engine.ActionPatch{
			Title:        b.Title,
			Description:  b.Description,
			Priority:     b.Priority,
			TaskConfig:   b.TaskConfig,
			ScheduledFor: b.ScheduledFor,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-action",
		Method:      http.MethodPost,
		Path:        "/actions/{id}/start",
		Summary:     "Start action",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *ActionPath) (*response[domain.Action], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := s.engine.StartAction(ctx, userID, input.ID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-action",
		Method:      http.MethodPost,
		Path:        "/actions/{id}/complete",
		Summary:     "Complete action",
		Description: "Completing a recurring action schedules its next occurrence.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *ActionPath) (*response[CompleteActionResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		done, next, err := s.engine.CompleteAction(ctx, userID, input.ID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(CompleteActionResponse{Action: done, Next: next}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dismiss-action",
		Method:      http.MethodPost,
		Path:        "/actions/{id}/dismiss",
		Summary:     "Dismiss action",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ActionPath
		Body DismissActionRequest `json:"body"`
	}) (*response[domain.Action], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := s.engine.DismissAction(ctx, userID, input.ID, input.Body.Reason)
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(a), nil
	})
}
