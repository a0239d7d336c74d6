package agentlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal agentline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	// Timeout applies when HTTPClient is nil. Chat turns can take close to a
	// minute, so keep it above the server's turn timeout.
	Timeout time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  70 * time.Second,
	}
}

// Agent represents the API agent model (partial).
type Agent struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Goal            string   `json:"goal"`
	SuccessCriteria []string `json:"success_criteria"`
	Timeline        string   `json:"timeline"`
	Status          string   `json:"status"`
}

type TaskConfig struct {
	Instructions   string   `json:"instructions,omitempty"`
	ExpectedOutput string   `json:"expectedOutput,omitempty"`
	Dimensions     []string `json:"dimensions,omitempty"`
}

// Action represents the API action model (partial).
type Action struct {
	ID           string     `json:"id"`
	AgentID      string     `json:"agent_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Priority     string     `json:"priority"`
	TaskType     string     `json:"task_type"`
	State        string     `json:"state"`
	TaskConfig   TaskConfig `json:"task_config"`
	ScheduledFor *string    `json:"scheduled_for,omitempty"`
}

type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatInput struct {
	Message       string           `json:"message"`
	History       []HistoryMessage `json:"history,omitempty"`
	SessionID     string           `json:"session_id,omitempty"`
	ActionID      string           `json:"action_id,omitempty"`
	ReviewBatchID string           `json:"review_batch_id,omitempty"`
}

// ChatReply is the outcome of one turn. ActionDraft is not persisted until
// passed to DefineAction.
type ChatReply struct {
	Reply           string          `json:"reply"`
	Signal          string          `json:"signal"`
	ActionDraft     *Action         `json:"action_draft"`
	Asset           json.RawMessage `json:"asset,omitempty"`
	Measurement     json.RawMessage `json:"measurement,omitempty"`
	CompletedAction *Action         `json:"completed_action"`
	NextAction      *Action         `json:"next_action"`
	InputTokens     int64           `json:"input_tokens"`
	OutputTokens    int64           `json:"output_tokens"`
	CostUSD         float64         `json:"cost_usd"`
}

// Event represents a lifecycle log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	AgentID    string `json:"agent_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor int64   `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateAgent creates an agent with notes enabled.
func (c *Client) CreateAgent(ctx context.Context, name, goal string) (Agent, error) {
	var resp Agent
	err := c.do(ctx, http.MethodPost, "agents", map[string]any{"name": name, "goal": goal}, &resp)
	return resp, err
}

// Chat runs one conversation turn.
func (c *Client) Chat(ctx context.Context, agentID string, in ChatInput) (ChatReply, error) {
	var resp ChatReply
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("agents/%s/chat", url.PathEscape(agentID)), in, &resp)
	return resp, err
}

// DefineAction persists a drafted action, keeping the draft's id.
func (c *Client) DefineAction(ctx context.Context, draft Action) (Action, error) {
	body := map[string]any{
		"id":          draft.ID,
		"agent_id":    draft.AgentID,
		"title":       draft.Title,
		"description": draft.Description,
		"task_config": draft.TaskConfig,
	}
	if draft.Priority != "" {
		body["priority"] = draft.Priority
	}
	if draft.TaskType != "" {
		body["task_type"] = draft.TaskType
	}
	if draft.ScheduledFor != nil {
		body["scheduled_for"] = *draft.ScheduledFor
	}
	var resp Action
	err := c.do(ctx, http.MethodPost, "actions", body, &resp)
	return resp, err
}

// ListActions returns an agent's actions, optionally filtered by state.
func (c *Client) ListActions(ctx context.Context, agentID string, states ...string) ([]Action, error) {
	q := url.Values{}
	for _, s := range states {
		q.Add("state", s)
	}
	endpoint := fmt.Sprintf("agents/%s/actions", url.PathEscape(agentID))
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Action
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CompleteAction completes an action. For recurring actions next is the
// scheduled follow-up.
func (c *Client) CompleteAction(ctx context.Context, id string) (done Action, next *Action, err error) {
	var resp struct {
		Action Action  `json:"action"`
		Next   *Action `json:"next"`
	}
	err = c.do(ctx, http.MethodPost, fmt.Sprintf("actions/%s/complete", url.PathEscape(id)), nil, &resp)
	return resp.Action, resp.Next, err
}

// DismissAction drops an action with a reason.
func (c *Client) DismissAction(ctx context.Context, id, reason string) (Action, error) {
	var resp Action
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("actions/%s/dismiss", url.PathEscape(id)), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing. Pass the previous page's
// NextCursor to continue; 0 starts from the beginning.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor int64) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor > 0 {
		q.Set("cursor", fmt.Sprint(cursor))
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := c.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(basePath, "/")
}
