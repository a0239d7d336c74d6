package server

import (
	"agentline/internal/domain"
	"agentline/internal/orchestrator"
)

// Request payloads

type CreateAgentRequest struct {
	Name            string               `json:"name"`
	Goal            string               `json:"goal,omitempty"`
	SuccessCriteria []string             `json:"success_criteria,omitempty"`
	Timeline        string               `json:"timeline,omitempty"`
	Capabilities    *domain.Capabilities `json:"capabilities,omitempty" doc:"Defaults to notes enabled, filesystem disabled"`
}

type UpdateAgentRequest struct {
	Name            *string              `json:"name,omitempty"`
	Goal            *string              `json:"goal,omitempty"`
	SuccessCriteria *[]string            `json:"success_criteria,omitempty"`
	Timeline        *string              `json:"timeline,omitempty"`
	Status          *string              `json:"status,omitempty" enum:"active,paused,archived"`
	Capabilities    *domain.Capabilities `json:"capabilities,omitempty"`
}

type ChatRequest struct {
	Message       string                        `json:"message"`
	History       []orchestrator.HistoryMessage `json:"history,omitempty" maxItems:"200"`
	SessionID     string                        `json:"session_id,omitempty" doc:"Stable per conversation; enables snapshot caching"`
	ActionID      string                        `json:"action_id,omitempty"`
	ReviewBatchID string                        `json:"review_batch_id,omitempty"`
}

type OnboardingChatRequest struct {
	Message string                        `json:"message"`
	History []orchestrator.HistoryMessage `json:"history,omitempty" maxItems:"200"`
}

type CreateFromProposalRequest struct {
	Title           string               `json:"title"`
	Goal            string               `json:"goal"`
	SuccessCriteria []string             `json:"success_criteria,omitempty"`
	Timeline        string               `json:"timeline,omitempty"`
	Capabilities    *domain.Capabilities `json:"capabilities,omitempty"`
}

// DefineActionRequest persists a draft returned by a chat turn.
type DefineActionRequest struct {
	ID           string             `json:"id,omitempty" doc:"Draft id from the chat response"`
	AgentID      string             `json:"agent_id"`
	ProjectID    string             `json:"project_id,omitempty"`
	Title        string             `json:"title"`
	Description  string             `json:"description,omitempty"`
	Priority     string             `json:"priority,omitempty" enum:"low,medium,high"`
	TaskType     string             `json:"task_type,omitempty" enum:"interactive,scheduled,measurement,manual"`
	TaskConfig   *domain.TaskConfig `json:"task_config,omitempty"`
	ScheduledFor *string            `json:"scheduled_for,omitempty" format:"date-time"`
}

type UpdateActionRequest struct {
	Title        *string            `json:"title,omitempty"`
	Description  *string            `json:"description,omitempty"`
	Priority     *string            `json:"priority,omitempty" enum:"low,medium,high"`
	TaskConfig   *domain.TaskConfig `json:"task_config,omitempty"`
	ScheduledFor *string            `json:"scheduled_for,omitempty" format:"date-time"`
}

type DismissActionRequest struct {
	Reason string `json:"reason"`
}

type CreateNoteRequest struct {
	ActionID string `json:"action_id,omitempty"`
	Title    string `json:"title,omitempty"`
	Content  string `json:"content"`
}

type UpdateNoteRequest struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

type CreateDraftRequest struct {
	ActionID string `json:"action_id,omitempty"`
	BatchID  string `json:"batch_id,omitempty"`
	Title    string `json:"title"`
	Content  string `json:"content"`
}

type ReviewDraftRequest struct {
	Decision string `json:"decision" enum:"approve,reject,revise"`
	Feedback string `json:"feedback,omitempty"`
	Revision string `json:"revision,omitempty"`
}

type SaveAssetRequest struct {
	ActionID    string `json:"action_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type" enum:"markdown,code,text,prompt"`
	Content     string `json:"content"`
}

// Response payloads

type CompleteActionResponse struct {
	Action domain.Action  `json:"action"`
	Next   *domain.Action `json:"next,omitempty" doc:"Next occurrence for recurring actions"`
}

type PaginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor int64          `json:"next_cursor,omitempty"`
}

func defaultCapabilities(c *domain.Capabilities) domain.Capabilities {
	if c == nil {
		return domain.Capabilities{Notes: true}
	}
	return *c
}
