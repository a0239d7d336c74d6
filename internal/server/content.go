package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/repo"
)

func (s server) registerContent(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-note",
		Method:        http.MethodPost,
		Path:          "/agents/{agent_id}/notes",
		Summary:       "Create note",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AgentPath
		Body CreateNoteRequest `json:"body"`
	}) (*response[domain.Note], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := s.engine.CreateNote(ctx, userID, engine.NewNote{
			AgentID:  input.AgentID,
			ActionID: input.Body.ActionID,
			Title:    input.Body.Title,
			Content:  input.Body.Content,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(n), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-notes",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}/notes",
		Summary:     "List notes",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AgentPath
		ActionID string `query:"action_id"`
		Limit    int    `query:"limit" default:"50"`
	}) (*response[[]domain.Note], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := s.engine.GetAgent(ctx, userID, input.AgentID); err != nil {
			return nil, s.handleError(err)
		}
		items, err := s.engine.ListNotes(ctx, userID, repo.NoteFilter{
			AgentID:  input.AgentID,
			ActionID: input.ActionID,
			Limit:    normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-note",
		Method:      http.MethodPatch,
		Path:        "/notes/{id}",
		Summary:     "Update note",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateNoteRequest `json:"body"`
	}) (*response[domain.Note], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := s.engine.UpdateNote(ctx, userID, input.ID, input.Body.Title, input.Body.Content)
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(n), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-draft",
		Method:        http.MethodPost,
		Path:          "/agents/{agent_id}/drafts",
		Summary:       "Submit a content draft for review",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AgentPath
		Body CreateDraftRequest `json:"body"`
	}) (*response[domain.Draft], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := s.engine.CreateDraft(ctx, userID, engine.NewDraft{
			AgentID:  input.AgentID,
			ActionID: input.Body.ActionID,
			BatchID:  input.Body.BatchID,
			Title:    input.Body.Title,
			Content:  input.Body.Content,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-drafts",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}/drafts",
		Summary:     "List drafts",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AgentPath
		BatchID string `query:"batch_id"`
		Status  string `query:"status" enum:"pending,approved,rejected,revised"`
		Limit   int    `query:"limit" default:"50"`
	}) (*response[[]domain.Draft], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := s.engine.GetAgent(ctx, userID, input.AgentID); err != nil {
			return nil, s.handleError(err)
		}
		items, err := s.engine.ListDrafts(ctx, userID, repo.DraftFilter{
			AgentID: input.AgentID,
			BatchID: input.BatchID,
			Status:  input.Status,
			Limit:   normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-draft",
		Method:      http.MethodPost,
		Path:        "/drafts/{id}/review",
		Summary:     "Approve, reject or revise a draft",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body ReviewDraftRequest `json:"body"`
	}) (*response[domain.Draft], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := s.engine.ReviewDraft(ctx, userID, input.ID, engine.DraftReview{
			Decision: input.Body.Decision,
			Feedback: input.Body.Feedback,
			Revision: input.Body.Revision,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(d), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "save-asset",
		Method:        http.MethodPost,
		Path:          "/agents/{agent_id}/assets",
		Summary:       "Save a generated asset",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AgentPath
		Body SaveAssetRequest `json:"body"`
	}) (*response[domain.Asset], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		a, err := s.engine.SaveAsset(ctx, userID, domain.Asset{
			AgentID:     input.AgentID,
			ActionID:    b.ActionID,
			Title:       b.Title,
			Description: b.Description,
			Type:        b.Type,
			Content:     b.Content,
		})
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assets",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}/assets",
		Summary:     "List saved assets",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AgentPath
		Limit int `query:"limit" default:"50"`
	}) (*response[[]domain.Asset], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := s.engine.ListAssets(ctx, userID, input.AgentID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-measurements",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}/measurements",
		Summary:     "List measurements",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AgentPath
		Limit int `query:"limit" default:"50"`
	}) (*response[[]domain.Measurement], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := s.engine.ListMeasurements(ctx, userID, input.AgentID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(nonNil(items)), nil
	})
}

func (s server) registerLogs(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-invocations",
		Method:      http.MethodGet,
		Path:        "/agents/{agent_id}/invocations",
		Summary:     "List invocation logs",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AgentPath
		Limit int `query:"limit" default:"50"`
	}) (*response[[]domain.InvocationLog], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := s.engine.ListInvocationLogs(ctx, userID, input.AgentID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-invocation",
		Method:      http.MethodGet,
		Path:        "/invocations/{id}",
		Summary:     "Get invocation log",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*response[domain.InvocationLog], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := s.engine.GetInvocationLog(ctx, userID, input.ID)
		if err != nil {
			return nil, s.handleError(err)
		}
		return reply(l), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List lifecycle events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		AgentID string `query:"agent_id"`
		Cursor  int64  `query:"cursor" doc:"Return events after this id"`
		Limit   int    `query:"limit" default:"50"`
	}) (*response[PaginatedEvents], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		items, err := s.engine.ListEvents(ctx, userID, input.AgentID, input.Cursor, limit+1)
		if err != nil {
			return nil, s.handleError(err)
		}
		out := PaginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			items = items[:limit]
			out.NextCursor = items[limit-1].ID
		}
		out.Items = append(out.Items, items...)
		return reply(out), nil
	})
}
