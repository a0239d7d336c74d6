package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"agentline/internal/domain"
	"agentline/internal/events"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repo is the SQLite implementation of Store.
type Repo struct {
	DB     *sql.DB
	Events events.Writer
	tx     *sql.Tx
}

var _ Store = Repo{}

func New(db *sql.DB) Repo {
	return Repo{DB: db}
}

func (r Repo) q() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.DB
}

func (r Repo) InTx(ctx context.Context, fn func(Store) error) error {
	if r.tx != nil {
		return fn(r)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(Repo{DB: r.DB, Events: r.Events, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

const agentColumns = `id,user_id,name,COALESCE(goal,''),COALESCE(success_criteria_json,''),COALESCE(timeline,''),status,cap_filesystem,cap_notes,
total_actions,completed_actions,in_progress_actions,dismissed_actions,input_tokens,output_tokens,cost_usd,api_calls,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (domain.Agent, error) {
	var a domain.Agent
	var criteria string
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Goal, &criteria, &a.Timeline, &a.Status,
		&a.Capabilities.Filesystem, &a.Capabilities.Notes,
		&a.Metrics.TotalActions, &a.Metrics.CompletedActions, &a.Metrics.InProgressActions, &a.Metrics.DismissedActions,
		&a.Metrics.InputTokens, &a.Metrics.OutputTokens, &a.Metrics.CostUSD, &a.Metrics.APICalls,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if criteria != "" {
		if err := json.Unmarshal([]byte(criteria), &a.SuccessCriteria); err != nil {
			return a, fmt.Errorf("decode success criteria: %w", err)
		}
	}
	return a, nil
}

func (r Repo) InsertAgent(ctx context.Context, a domain.Agent) error {
	criteria, err := marshalOptional(a.SuccessCriteria)
	if err != nil {
		return err
	}
	_, err = r.q().ExecContext(ctx, `INSERT INTO agents(id,user_id,name,goal,success_criteria_json,timeline,status,cap_filesystem,cap_notes,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.UserID, a.Name, nullable(a.Goal), criteria, nullable(a.Timeline), a.Status,
		a.Capabilities.Filesystem, a.Capabilities.Notes, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	return scanAgent(r.q().QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id=?`, id))
}

func (r Repo) ListAgents(ctx context.Context, userID string) ([]domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	var args []any
	if userID != "" {
		query += ` WHERE user_id=?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateAgent(ctx context.Context, a domain.Agent) error {
	criteria, err := marshalOptional(a.SuccessCriteria)
	if err != nil {
		return err
	}
	res, err := r.q().ExecContext(ctx, `UPDATE agents SET name=?,goal=?,success_criteria_json=?,timeline=?,status=?,cap_filesystem=?,cap_notes=?,updated_at=? WHERE id=?`,
		a.Name, nullable(a.Goal), criteria, nullable(a.Timeline), a.Status,
		a.Capabilities.Filesystem, a.Capabilities.Notes, a.UpdatedAt, a.ID)
	return affectedOrNotFound(res, err)
}

func (r Repo) IncrementAgentMetrics(ctx context.Context, agentID string, d domain.MetricsDelta) error {
	if d.IsZero() {
		return nil
	}
	res, err := r.q().ExecContext(ctx, `UPDATE agents SET
total_actions=total_actions+?,
completed_actions=completed_actions+?,
in_progress_actions=MAX(in_progress_actions+?,0),
dismissed_actions=dismissed_actions+?,
input_tokens=input_tokens+?,
output_tokens=output_tokens+?,
cost_usd=cost_usd+?,
api_calls=api_calls+?
WHERE id=?`,
		d.TotalActions, d.CompletedActions, d.InProgressActions, d.DismissedActions,
		d.InputTokens, d.OutputTokens, d.CostUSD, d.APICalls, agentID)
	return affectedOrNotFound(res, err)
}

const actionColumns = `id,user_id,COALESCE(agent_id,''),COALESCE(project_id,''),title,COALESCE(description,''),priority,task_type,state,task_config_json,
scheduled_for,COALESCE(recurred_from,''),COALESCE(dismiss_reason,''),api_calls,input_tokens,output_tokens,cost_usd,created_at,updated_at,started_at,completed_at,dismissed_at`

func scanAction(row rowScanner) (domain.Action, error) {
	var a domain.Action
	var cfg string
	var scheduled, started, completed, dismissed sql.NullString
	err := row.Scan(&a.ID, &a.UserID, &a.AgentID, &a.ProjectID, &a.Title, &a.Description, &a.Priority, &a.TaskType, &a.State, &cfg,
		&scheduled, &a.RecurredFrom, &a.DismissReason, &a.APICalls, &a.InputTokens, &a.OutputTokens, &a.CostUSD,
		&a.CreatedAt, &a.UpdatedAt, &started, &completed, &dismissed)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal([]byte(cfg), &a.TaskConfig); err != nil {
		return a, fmt.Errorf("decode task config: %w", err)
	}
	a.ScheduledFor = fromNull(scheduled)
	a.StartedAt = fromNull(started)
	a.CompletedAt = fromNull(completed)
	a.DismissedAt = fromNull(dismissed)
	return a, nil
}

func (r Repo) InsertAction(ctx context.Context, a domain.Action) error {
	cfg, err := json.Marshal(a.TaskConfig)
	if err != nil {
		return err
	}
	_, err = r.q().ExecContext(ctx, `INSERT INTO actions(id,user_id,agent_id,project_id,title,description,priority,task_type,state,task_config_json,
scheduled_for,recurred_from,dismiss_reason,api_calls,input_tokens,output_tokens,cost_usd,created_at,updated_at,started_at,completed_at,dismissed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.UserID, nullable(a.AgentID), nullable(a.ProjectID), a.Title, nullable(a.Description), a.Priority, a.TaskType, a.State, string(cfg),
		a.ScheduledFor, nullable(a.RecurredFrom), nullable(a.DismissReason), a.APICalls, a.InputTokens, a.OutputTokens, a.CostUSD,
		a.CreatedAt, a.UpdatedAt, a.StartedAt, a.CompletedAt, a.DismissedAt)
	return err
}

func (r Repo) GetAction(ctx context.Context, id string) (domain.Action, error) {
	return scanAction(r.q().QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id=?`, id))
}

func (r Repo) UpdateAction(ctx context.Context, a domain.Action) error {
	cfg, err := json.Marshal(a.TaskConfig)
	if err != nil {
		return err
	}
	res, err := r.q().ExecContext(ctx, `UPDATE actions SET title=?,description=?,priority=?,task_type=?,state=?,task_config_json=?,scheduled_for=?,
dismiss_reason=?,api_calls=?,input_tokens=?,output_tokens=?,cost_usd=?,updated_at=?,started_at=?,completed_at=?,dismissed_at=? WHERE id=?`,
		a.Title, nullable(a.Description), a.Priority, a.TaskType, a.State, string(cfg), a.ScheduledFor,
		nullable(a.DismissReason), a.APICalls, a.InputTokens, a.OutputTokens, a.CostUSD,
		a.UpdatedAt, a.StartedAt, a.CompletedAt, a.DismissedAt, a.ID)
	return affectedOrNotFound(res, err)
}

func (r Repo) ListActions(ctx context.Context, f ActionFilter) ([]domain.Action, error) {
	var (
		clauses []string
		args    []any
	)
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.AgentID != "" {
		clauses = append(clauses, "agent_id=?")
		args = append(args, f.AgentID)
	}
	if len(f.States) > 0 {
		clauses = append(clauses, "state IN ("+placeholders(len(f.States))+")")
		for _, s := range f.States {
			args = append(args, s)
		}
	}
	query := `SELECT ` + actionColumns + ` FROM actions`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ?`
	args = append(args, normalizeLimit(f.Limit))
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

const noteColumns = `id,user_id,COALESCE(agent_id,''),COALESCE(action_id,''),COALESCE(title,''),content,created_at,updated_at`

func scanNote(row rowScanner) (domain.Note, error) {
	var n domain.Note
	err := row.Scan(&n.ID, &n.UserID, &n.AgentID, &n.ActionID, &n.Title, &n.Content, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return n, ErrNotFound
	}
	return n, err
}

func (r Repo) InsertNote(ctx context.Context, n domain.Note) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO notes(id,user_id,agent_id,action_id,title,content,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, nullable(n.AgentID), nullable(n.ActionID), nullable(n.Title), n.Content, n.CreatedAt, n.UpdatedAt)
	return err
}

func (r Repo) GetNote(ctx context.Context, id string) (domain.Note, error) {
	return scanNote(r.q().QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id=?`, id))
}

func (r Repo) UpdateNote(ctx context.Context, n domain.Note) error {
	res, err := r.q().ExecContext(ctx, `UPDATE notes SET title=?,content=?,updated_at=? WHERE id=?`,
		nullable(n.Title), n.Content, n.UpdatedAt, n.ID)
	return affectedOrNotFound(res, err)
}

func (r Repo) ListNotes(ctx context.Context, f NoteFilter) ([]domain.Note, error) {
	var (
		clauses []string
		args    []any
	)
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.AgentID != "" {
		clauses = append(clauses, "agent_id=?")
		args = append(args, f.AgentID)
	}
	if f.ActionID != "" {
		clauses = append(clauses, "action_id=?")
		args = append(args, f.ActionID)
	}
	query := `SELECT ` + noteColumns + ` FROM notes`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, normalizeLimit(f.Limit))
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

const draftColumns = `id,user_id,agent_id,COALESCE(action_id,''),COALESCE(batch_id,''),title,content,status,COALESCE(feedback,''),COALESCE(revision,''),created_at,reviewed_at`

func scanDraft(row rowScanner) (domain.Draft, error) {
	var d domain.Draft
	var reviewed sql.NullString
	err := row.Scan(&d.ID, &d.UserID, &d.AgentID, &d.ActionID, &d.BatchID, &d.Title, &d.Content, &d.Status, &d.Feedback, &d.Revision, &d.CreatedAt, &reviewed)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	d.ReviewedAt = fromNull(reviewed)
	return d, err
}

func (r Repo) InsertDraft(ctx context.Context, d domain.Draft) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO drafts(id,user_id,agent_id,action_id,batch_id,title,content,status,feedback,revision,created_at,reviewed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.UserID, d.AgentID, nullable(d.ActionID), nullable(d.BatchID), d.Title, d.Content, d.Status,
		nullable(d.Feedback), nullable(d.Revision), d.CreatedAt, d.ReviewedAt)
	return err
}

func (r Repo) GetDraft(ctx context.Context, id string) (domain.Draft, error) {
	return scanDraft(r.q().QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id=?`, id))
}

func (r Repo) UpdateDraft(ctx context.Context, d domain.Draft) error {
	res, err := r.q().ExecContext(ctx, `UPDATE drafts SET title=?,content=?,status=?,feedback=?,revision=?,reviewed_at=? WHERE id=?`,
		d.Title, d.Content, d.Status, nullable(d.Feedback), nullable(d.Revision), d.ReviewedAt, d.ID)
	return affectedOrNotFound(res, err)
}

func (r Repo) ListDrafts(ctx context.Context, f DraftFilter) ([]domain.Draft, error) {
	var (
		clauses []string
		args    []any
	)
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.AgentID != "" {
		clauses = append(clauses, "agent_id=?")
		args = append(args, f.AgentID)
	}
	if f.BatchID != "" {
		clauses = append(clauses, "batch_id=?")
		args = append(args, f.BatchID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + draftColumns + ` FROM drafts`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ?`
	args = append(args, normalizeLimit(f.Limit))
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) InsertAsset(ctx context.Context, a domain.Asset) error {
	_, err := r.q().ExecContext(ctx, `INSERT INTO assets(id,user_id,agent_id,action_id,title,description,type,content,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.UserID, nullable(a.AgentID), nullable(a.ActionID), a.Title, nullable(a.Description), a.Type, a.Content, a.CreatedAt)
	return err
}

func (r Repo) ListAssets(ctx context.Context, agentID string, limit int) ([]domain.Asset, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT id,user_id,COALESCE(agent_id,''),COALESCE(action_id,''),title,COALESCE(description,''),type,content,created_at
FROM assets WHERE agent_id=? ORDER BY created_at DESC, id DESC LIMIT ?`, agentID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Asset
	for rows.Next() {
		var a domain.Asset
		if err := rows.Scan(&a.ID, &a.UserID, &a.AgentID, &a.ActionID, &a.Title, &a.Description, &a.Type, &a.Content, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertMeasurement(ctx context.Context, m domain.Measurement) error {
	dims, err := json.Marshal(m.Dimensions)
	if err != nil {
		return err
	}
	_, err = r.q().ExecContext(ctx, `INSERT INTO measurements(id,user_id,agent_id,action_id,dimensions_json,notes,created_at) VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.UserID, m.AgentID, nullable(m.ActionID), string(dims), m.Notes, m.CreatedAt)
	return err
}

func (r Repo) ListMeasurements(ctx context.Context, agentID string, limit int) ([]domain.Measurement, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT id,user_id,agent_id,COALESCE(action_id,''),dimensions_json,notes,created_at
FROM measurements WHERE agent_id=? ORDER BY created_at DESC, id DESC LIMIT ?`, agentID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Measurement
	for rows.Next() {
		var m domain.Measurement
		var dims string
		var notes sql.NullString
		if err := rows.Scan(&m.ID, &m.UserID, &m.AgentID, &m.ActionID, &dims, &notes, &m.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(dims), &m.Dimensions); err != nil {
			return nil, fmt.Errorf("decode dimensions: %w", err)
		}
		m.Notes = fromNull(notes)
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) AppendEvent(ctx context.Context, evt domain.Event) error {
	return r.Events.Insert(ctx, r.q(), evt)
}

func (r Repo) ListEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	clauses := []string{"id > ?"}
	args := []any{f.AfterID}
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.AgentID != "" {
		clauses = append(clauses, "agent_id=?")
		args = append(args, f.AgentID)
	}
	query := `SELECT id,ts,type,COALESCE(agent_id,''),entity_kind,COALESCE(entity_id,''),user_id,payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id ASC LIMIT ?`
	args = append(args, normalizeLimit(f.Limit))
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.AgentID, &e.EntityKind, &e.EntityID, &e.UserID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

const invocationColumns = `id,user_id,COALESCE(agent_id,''),COALESCE(action_id,''),kind,events_json,input_tokens,output_tokens,cache_read_tokens,cache_write_tokens,
cost_usd,duration_ms,api_calls,tools_used_json,COALESCE(signal,''),created_at`

func scanInvocationLog(row rowScanner) (domain.InvocationLog, error) {
	var l domain.InvocationLog
	var evts, tools string
	err := row.Scan(&l.ID, &l.UserID, &l.AgentID, &l.ActionID, &l.Kind, &evts, &l.InputTokens, &l.OutputTokens, &l.CacheReadTokens, &l.CacheWriteTokens,
		&l.CostUSD, &l.DurationMS, &l.APICalls, &tools, &l.Signal, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if err := json.Unmarshal([]byte(evts), &l.Events); err != nil {
		return l, fmt.Errorf("decode invocation events: %w", err)
	}
	if err := json.Unmarshal([]byte(tools), &l.ToolsUsed); err != nil {
		return l, fmt.Errorf("decode tools used: %w", err)
	}
	return l, nil
}

func (r Repo) InsertInvocationLog(ctx context.Context, l domain.InvocationLog) error {
	evts, err := json.Marshal(l.Events)
	if err != nil {
		return err
	}
	if l.ToolsUsed == nil {
		l.ToolsUsed = []string{}
	}
	tools, err := json.Marshal(l.ToolsUsed)
	if err != nil {
		return err
	}
	_, err = r.q().ExecContext(ctx, `INSERT INTO invocation_logs(id,user_id,agent_id,action_id,kind,events_json,input_tokens,output_tokens,cache_read_tokens,cache_write_tokens,
cost_usd,duration_ms,api_calls,tools_used_json,signal,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.UserID, nullable(l.AgentID), nullable(l.ActionID), l.Kind, string(evts), l.InputTokens, l.OutputTokens, l.CacheReadTokens, l.CacheWriteTokens,
		l.CostUSD, l.DurationMS, l.APICalls, string(tools), nullable(l.Signal), l.CreatedAt)
	return err
}

func (r Repo) GetInvocationLog(ctx context.Context, id string) (domain.InvocationLog, error) {
	return scanInvocationLog(r.q().QueryRowContext(ctx, `SELECT `+invocationColumns+` FROM invocation_logs WHERE id=?`, id))
}

func (r Repo) ListInvocationLogs(ctx context.Context, agentID string, limit int) ([]domain.InvocationLog, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT `+invocationColumns+` FROM invocation_logs WHERE agent_id=? ORDER BY created_at DESC, id DESC LIMIT ?`,
		agentID, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InvocationLog
	for rows.Next() {
		l, err := scanInvocationLog(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func affectedOrNotFound(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func marshalOptional(in []string) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func fromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
