package domain

// Action states.
const (
	StateDraft      = "draft"
	StateOpen       = "open"
	StateScheduled  = "scheduled"
	StateInProgress = "in_progress"
	StateCompleted  = "completed"
	StateDismissed  = "dismissed"
)

// Action task types.
const (
	TaskInteractive = "interactive"
	TaskScheduled   = "scheduled"
	TaskMeasurement = "measurement"
	TaskManual      = "manual"
)

// Draft review statuses.
const (
	DraftPending  = "pending"
	DraftApproved = "approved"
	DraftRejected = "rejected"
	DraftRevised  = "revised"
)

type Capabilities struct {
	Filesystem bool `json:"filesystem" bson:"filesystem"`
	Notes      bool `json:"notes" bson:"notes"`
}

type AgentMetrics struct {
	TotalActions      int     `json:"total_actions" bson:"total_actions"`
	CompletedActions  int     `json:"completed_actions" bson:"completed_actions"`
	InProgressActions int     `json:"in_progress_actions" bson:"in_progress_actions"`
	DismissedActions  int     `json:"dismissed_actions" bson:"dismissed_actions"`
	InputTokens       int64   `json:"input_tokens" bson:"input_tokens"`
	OutputTokens      int64   `json:"output_tokens" bson:"output_tokens"`
	CostUSD           float64 `json:"cost_usd" bson:"cost_usd"`
	APICalls          int64   `json:"api_calls" bson:"api_calls"`
}

// MetricsDelta is applied atomically to an agent's counters.
type MetricsDelta struct {
	TotalActions      int
	CompletedActions  int
	InProgressActions int
	DismissedActions  int
	InputTokens       int64
	OutputTokens      int64
	CostUSD           float64
	APICalls          int64
}

func (d MetricsDelta) IsZero() bool {
	return d == MetricsDelta{}
}

type Agent struct {
	ID              string       `json:"id" bson:"_id"`
	UserID          string       `json:"user_id" bson:"user_id"`
	Name            string       `json:"name" bson:"name"`
	Goal            string       `json:"goal,omitempty" bson:"goal,omitempty"`
	SuccessCriteria []string     `json:"success_criteria,omitempty" bson:"success_criteria,omitempty"`
	Timeline        string       `json:"timeline,omitempty" bson:"timeline,omitempty"`
	Status          string       `json:"status" bson:"status" enum:"active,paused,archived"`
	Capabilities    Capabilities `json:"capabilities" bson:"capabilities"`
	Metrics         AgentMetrics `json:"metrics" bson:"metrics"`
	CreatedAt       string       `json:"created_at" bson:"created_at" format:"date-time"`
	UpdatedAt       string       `json:"updated_at" bson:"updated_at" format:"date-time"`
}

type Recurrence struct {
	Frequency string `json:"frequency" bson:"frequency" enum:"daily"`
	Time      string `json:"time,omitempty" bson:"time,omitempty" doc:"HH:MM, UTC"`
}

// TaskConfig carries free-form execution settings for an action.
type TaskConfig struct {
	Instructions   string      `json:"instructions,omitempty" bson:"instructions,omitempty"`
	ExpectedOutput string      `json:"expectedOutput,omitempty" bson:"expectedOutput,omitempty"`
	Dimensions     []string    `json:"dimensions,omitempty" bson:"dimensions,omitempty"`
	Recurrence     *Recurrence `json:"recurrence,omitempty" bson:"recurrence,omitempty"`
}

type Action struct {
	ID            string     `json:"id" bson:"_id"`
	UserID        string     `json:"user_id" bson:"user_id"`
	AgentID       string     `json:"agent_id,omitempty" bson:"agent_id,omitempty"`
	ProjectID     string     `json:"project_id,omitempty" bson:"project_id,omitempty"`
	Title         string     `json:"title" bson:"title"`
	Description   string     `json:"description,omitempty" bson:"description,omitempty"`
	Priority      string     `json:"priority" bson:"priority" enum:"low,medium,high"`
	TaskType      string     `json:"task_type" bson:"task_type" enum:"interactive,scheduled,measurement,manual"`
	State         string     `json:"state" bson:"state" enum:"draft,open,scheduled,in_progress,completed,dismissed"`
	TaskConfig    TaskConfig `json:"task_config" bson:"task_config"`
	ScheduledFor  *string    `json:"scheduled_for,omitempty" bson:"scheduled_for,omitempty" format:"date-time"`
	RecurredFrom  string     `json:"recurred_from,omitempty" bson:"recurred_from,omitempty"`
	DismissReason string     `json:"dismiss_reason,omitempty" bson:"dismiss_reason,omitempty"`
	APICalls      int64      `json:"api_calls" bson:"api_calls"`
	InputTokens   int64      `json:"input_tokens" bson:"input_tokens"`
	OutputTokens  int64      `json:"output_tokens" bson:"output_tokens"`
	CostUSD       float64    `json:"cost_usd" bson:"cost_usd"`
	CreatedAt     string     `json:"created_at,omitempty" bson:"created_at,omitempty" format:"date-time"`
	UpdatedAt     string     `json:"updated_at,omitempty" bson:"updated_at,omitempty" format:"date-time"`
	StartedAt     *string    `json:"started_at,omitempty" bson:"started_at,omitempty" format:"date-time"`
	CompletedAt   *string    `json:"completed_at,omitempty" bson:"completed_at,omitempty" format:"date-time"`
	DismissedAt   *string    `json:"dismissed_at,omitempty" bson:"dismissed_at,omitempty" format:"date-time"`
}

// Terminal reports whether no further transitions are allowed.
func (a Action) Terminal() bool {
	return a.State == StateCompleted || a.State == StateDismissed
}

type Note struct {
	ID        string `json:"id" bson:"_id"`
	UserID    string `json:"user_id" bson:"user_id"`
	AgentID   string `json:"agent_id,omitempty" bson:"agent_id,omitempty"`
	ActionID  string `json:"action_id,omitempty" bson:"action_id,omitempty"`
	Title     string `json:"title,omitempty" bson:"title,omitempty"`
	Content   string `json:"content" bson:"content"`
	CreatedAt string `json:"created_at" bson:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" bson:"updated_at" format:"date-time"`
}

// Draft is a content item awaiting the user's review.
type Draft struct {
	ID         string  `json:"id" bson:"_id"`
	UserID     string  `json:"user_id" bson:"user_id"`
	AgentID    string  `json:"agent_id" bson:"agent_id"`
	ActionID   string  `json:"action_id,omitempty" bson:"action_id,omitempty"`
	BatchID    string  `json:"batch_id,omitempty" bson:"batch_id,omitempty"`
	Title      string  `json:"title" bson:"title"`
	Content    string  `json:"content" bson:"content"`
	Status     string  `json:"status" bson:"status" enum:"pending,approved,rejected,revised"`
	Feedback   string  `json:"feedback,omitempty" bson:"feedback,omitempty"`
	Revision   string  `json:"revision,omitempty" bson:"revision,omitempty"`
	CreatedAt  string  `json:"created_at" bson:"created_at" format:"date-time"`
	ReviewedAt *string `json:"reviewed_at,omitempty" bson:"reviewed_at,omitempty" format:"date-time"`
}

type Asset struct {
	ID          string `json:"id" bson:"_id"`
	UserID      string `json:"user_id" bson:"user_id"`
	AgentID     string `json:"agent_id,omitempty" bson:"agent_id,omitempty"`
	ActionID    string `json:"action_id,omitempty" bson:"action_id,omitempty"`
	Title       string `json:"title" bson:"title"`
	Description string `json:"description" bson:"description"`
	Type        string `json:"type" bson:"type" enum:"markdown,code,text,prompt"`
	Content     string `json:"content" bson:"content"`
	CreatedAt   string `json:"created_at,omitempty" bson:"created_at,omitempty" format:"date-time"`
}

type MeasurementDimension struct {
	Name  string  `json:"name" bson:"name"`
	Score float64 `json:"score" bson:"score"`
	Notes *string `json:"notes,omitempty" bson:"notes,omitempty"`
}

type Measurement struct {
	ID         string                 `json:"id" bson:"_id"`
	UserID     string                 `json:"user_id" bson:"user_id"`
	AgentID    string                 `json:"agent_id" bson:"agent_id"`
	ActionID   string                 `json:"action_id,omitempty" bson:"action_id,omitempty"`
	Dimensions []MeasurementDimension `json:"dimensions" bson:"dimensions"`
	Notes      *string                `json:"notes,omitempty" bson:"notes,omitempty"`
	CreatedAt  string                 `json:"created_at" bson:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id" bson:"_id"`
	TS         string `json:"ts" bson:"ts" format:"date-time"`
	Type       string `json:"type" bson:"type"`
	AgentID    string `json:"agent_id,omitempty" bson:"agent_id,omitempty"`
	EntityKind string `json:"entity_kind" bson:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty" bson:"entity_id,omitempty"`
	UserID     string `json:"user_id" bson:"user_id"`
	Payload    string `json:"payload_json" bson:"payload_json"`
}

// Invocation event types.
const (
	InvocationContext    = "context"
	InvocationAPICall    = "api_call"
	InvocationToolCall   = "tool_call"
	InvocationToolResult = "tool_result"
	InvocationSignal     = "signal"
	InvocationError      = "error"
)

type InvocationEvent struct {
	Type             string         `json:"type" bson:"type"`
	TS               string         `json:"ts" bson:"ts" format:"date-time"`
	Name             string         `json:"name,omitempty" bson:"name,omitempty"`
	InputTokens      int64          `json:"input_tokens,omitempty" bson:"input_tokens,omitempty"`
	OutputTokens     int64          `json:"output_tokens,omitempty" bson:"output_tokens,omitempty"`
	CacheReadTokens  int64          `json:"cache_read_tokens,omitempty" bson:"cache_read_tokens,omitempty"`
	CacheWriteTokens int64          `json:"cache_write_tokens,omitempty" bson:"cache_write_tokens,omitempty"`
	CostUSD          float64        `json:"cost_usd,omitempty" bson:"cost_usd,omitempty"`
	DurationMS       int64          `json:"duration_ms,omitempty" bson:"duration_ms,omitempty"`
	Error            string         `json:"error,omitempty" bson:"error,omitempty"`
	Data             map[string]any `json:"data,omitempty" bson:"data,omitempty"`
}

// InvocationLog is the telemetry record of one turn.
type InvocationLog struct {
	ID               string            `json:"id" bson:"_id"`
	UserID           string            `json:"user_id" bson:"user_id"`
	AgentID          string            `json:"agent_id,omitempty" bson:"agent_id,omitempty"`
	ActionID         string            `json:"action_id,omitempty" bson:"action_id,omitempty"`
	Kind             string            `json:"kind" bson:"kind" enum:"chat,onboarding"`
	Events           []InvocationEvent `json:"events" bson:"events"`
	InputTokens      int64             `json:"input_tokens" bson:"input_tokens"`
	OutputTokens     int64             `json:"output_tokens" bson:"output_tokens"`
	CacheReadTokens  int64             `json:"cache_read_tokens" bson:"cache_read_tokens"`
	CacheWriteTokens int64             `json:"cache_write_tokens" bson:"cache_write_tokens"`
	CostUSD          float64           `json:"cost_usd" bson:"cost_usd"`
	DurationMS       int64             `json:"duration_ms" bson:"duration_ms"`
	APICalls         int64             `json:"api_calls" bson:"api_calls"`
	ToolsUsed        []string          `json:"tools_used" bson:"tools_used"`
	Signal           string            `json:"signal,omitempty" bson:"signal,omitempty"`
	CreatedAt        string            `json:"created_at" bson:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id" bson:"_id"`
	UserID    string `json:"user_id" bson:"user_id"`
	Name      string `json:"name,omitempty" bson:"name,omitempty"`
	KeyHash   string `json:"-" bson:"key_hash"`
	CreatedAt string `json:"created_at" bson:"created_at" format:"date-time"`
}
