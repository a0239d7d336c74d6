package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentline/internal/config"
	"agentline/internal/db"
	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/llm"
	"agentline/internal/metrics"
	"agentline/internal/migrate"
	"agentline/internal/orchestrator"
	"agentline/internal/prompt"
	"agentline/internal/repo"
	"agentline/internal/signal"
	"agentline/internal/tools"
)

const testSecret = "test-secret"

// cannedProvider returns its replies in order.
type cannedProvider struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (p *cannedProvider) Name() string { return "canned" }

func (p *cannedProvider) Complete(_ context.Context, _ llm.Request) (llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls >= len(p.replies) {
		return llm.Response{}, fmt.Errorf("unexpected call %d", p.calls)
	}
	text := p.replies[p.calls]
	p.calls++
	return llm.Response{
		Text:  text,
		Usage: llm.Usage{InputTokens: 50, OutputTokens: 10},
		Model: "claude-test",
	}, nil
}

type testServer struct {
	URL      string
	engine   engine.Engine
	provider *cannedProvider
	client   *http.Client
}

func newTestServer(t *testing.T, replies ...string) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)

	e := engine.New(repo.New(conn), config.Default(), nil)
	provider := &cannedProvider{replies: replies}
	reg := tools.NewRegistry(tools.EngineHandlers{Engine: e, Sandbox: tools.NewSandboxFs(afero.NewMemMapFs())}, nil)
	promReg := prometheus.NewRegistry()
	orch := orchestrator.New(orchestrator.Deps{
		Engine:   e,
		Provider: provider,
		Registry: reg,
		Builder: prompt.Builder{
			Registry:    reg,
			OpenActions: e.OpenActions,
			Cache:       prompt.NewMemoryCache(),
		},
		Pricing: llm.Pricing{"claude-test": {Input: 3, Output: 15}},
		Metrics: metrics.New(promReg),
	}, orchestrator.Options{Model: "claude-test"})

	handler, err := New(Config{
		Engine:       e,
		Orchestrator: orch,
		Auth:         AuthConfig{JWTSecret: testSecret},
		Metrics:      promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)

	ts := &testServer{
		URL:      "http://" + ln.Addr().String(),
		engine:   e,
		provider: provider,
		client:   &http.Client{},
	}
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		orch.Wait()
		ts.client.CloseIdleConnections()
		conn.Close()
	})
	return ts
}

func bearer(t *testing.T, userID string) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, userID, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *testServer) createAgent(t *testing.T, userID, name string) domain.Agent {
	t.Helper()
	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/v1/agents", map[string]any{
		"name": name,
		"goal": "Grow a newsletter to 1k subscribers",
	}, bearer(t, userID))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	return decode[domain.Agent](t, data)
}

func TestHealthIsPublicAndAPIRequiresAuth(t *testing.T) {
	srv := newTestServer(t)

	res, _ := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/agents", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decode[errorEnvelope](t, data).Error.Code)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/agents", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", decode[errorEnvelope](t, data).Error.Code)
}

func TestAgentsAreScopedToCaller(t *testing.T) {
	srv := newTestServer(t)
	agent := srv.createAgent(t, "alice", "Newsletter")
	assert.True(t, agent.Capabilities.Notes)
	assert.False(t, agent.Capabilities.Filesystem)

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/agents/"+agent.ID, nil, bearer(t, "bob"))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	env := decode[errorEnvelope](t, data)
	assert.Equal(t, "access_denied", env.Error.Code)
	assert.Equal(t, "Access denied", env.Error.Message)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/agents", nil, bearer(t, "bob"))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `[]`, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/agents/not-an-id", nil, bearer(t, "alice"))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "invalid_id", decode[errorEnvelope](t, data).Error.Code)
}

func TestChatDraftThenDefineAndComplete(t *testing.T) {
	block, err := signal.Format(signal.GeneratedAction{
		Title:       "Write the welcome email",
		Description: "First email new subscribers receive",
		Priority:    "high",
		TaskType:    "interactive",
		TaskConfig: signal.ActionTaskConfig{
			Instructions:   "Draft a friendly welcome",
			ExpectedOutput: "One email draft",
		},
	})
	require.NoError(t, err)
	srv := newTestServer(t, block+"\nShall I save it?")
	agent := srv.createAgent(t, "alice", "Newsletter")
	auth := bearer(t, "alice")

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/agents/"+agent.ID+"/chat", map[string]any{
		"message": "What should I do first?",
	}, auth)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	turn := decode[orchestrator.TurnResult](t, data)
	assert.Equal(t, "GENERATE_ACTIONS", turn.Signal)
	assert.Equal(t, "Shall I save it?", turn.Reply)
	require.NotNil(t, turn.ActionDraft)
	draft := *turn.ActionDraft

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/actions", map[string]any{
		"id":          draft.ID,
		"agent_id":    agent.ID,
		"title":       draft.Title,
		"description": draft.Description,
		"priority":    draft.Priority,
		"task_type":   draft.TaskType,
		"task_config": draft.TaskConfig,
	}, auth)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	defined := decode[domain.Action](t, data)
	assert.Equal(t, draft.ID, defined.ID)
	assert.Equal(t, domain.StateOpen, defined.State)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/actions/"+defined.ID+"/complete", nil, bearer(t, "bob"))
	assert.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/actions/"+defined.ID+"/complete", nil, auth)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	done := decode[CompleteActionResponse](t, data)
	assert.Equal(t, domain.StateCompleted, done.Action.State)
	assert.Nil(t, done.Next)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/actions/"+defined.ID+"/dismiss", map[string]any{"reason": "late"}, auth)
	assert.Equal(t, http.StatusConflict, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/agents/"+agent.ID+"/actions?state=completed", nil, auth)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Len(t, decode[[]domain.Action](t, data), 1)

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), `agentline_turns_total{kind="chat",outcome="ok"} 1`)
}

func TestChatValidationMapsToBadRequest(t *testing.T) {
	srv := newTestServer(t)
	agent := srv.createAgent(t, "alice", "Newsletter")

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/agents/"+agent.ID+"/chat", map[string]any{
		"message": "   ",
	}, bearer(t, "alice"))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "validation", decode[errorEnvelope](t, data).Error.Code)
	assert.Equal(t, 0, srv.provider.calls)
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv := newTestServer(t)
	agent := srv.createAgent(t, "alice", "Newsletter")
	_, plain, err := srv.engine.CreateAPIKey(context.Background(), "alice", "ci")
	require.NoError(t, err)

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/agents", nil, map[string]string{"X-Api-Key": plain})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	agents := decode[[]domain.Agent](t, data)
	require.Len(t, agents, 1)
	assert.Equal(t, agent.ID, agents[0].ID)

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/agents", nil, map[string]string{"X-Api-Key": plain + "x"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestNotesAndDraftReview(t *testing.T) {
	srv := newTestServer(t)
	agent := srv.createAgent(t, "alice", "Newsletter")
	auth := bearer(t, "alice")
	base := srv.URL + "/v1/agents/" + agent.ID

	res, data := doJSON(t, srv.client, http.MethodPost, base+"/notes", map[string]any{"title": "Tone", "content": "Warm, short"}, auth)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	note := decode[domain.Note](t, data)

	res, data = doJSON(t, srv.client, http.MethodPatch, srv.URL+"/v1/notes/"+note.ID, map[string]any{"content": "Warm, very short"}, auth)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "Warm, very short", decode[domain.Note](t, data).Content)

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/notes", nil, bearer(t, "bob"))
	assert.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodPost, base+"/drafts", map[string]any{
		"batch_id": "b1",
		"title":    "Issue #1",
		"content":  "Hello readers",
	}, auth)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	draft := decode[domain.Draft](t, data)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/drafts/"+draft.ID+"/review", map[string]any{
		"decision": "revise",
		"feedback": "Shorter",
		"revision": "Hi readers",
	}, auth)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	reviewed := decode[domain.Draft](t, data)
	assert.Equal(t, domain.DraftRevised, reviewed.Status)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/drafts/"+draft.ID+"/review", map[string]any{"decision": "approve"}, auth)
	assert.Equal(t, http.StatusConflict, res.StatusCode, string(data))

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/drafts?status=pending", nil, auth)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Empty(t, decode[[]domain.Draft](t, data))
}

func TestEventsPaginateWithCursor(t *testing.T) {
	srv := newTestServer(t)
	srv.createAgent(t, "alice", "One")
	srv.createAgent(t, "alice", "Two")
	srv.createAgent(t, "bob", "Theirs")
	auth := bearer(t, "alice")

	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v1/events?limit=1", nil, auth)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	first := decode[PaginatedEvents](t, data)
	require.Len(t, first.Items, 1)
	require.NotZero(t, first.NextCursor)

	res, data = doJSON(t, srv.client, http.MethodGet, fmt.Sprintf("%s/v1/events?limit=10&cursor=%d", srv.URL, first.NextCursor), nil, auth)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	rest := decode[PaginatedEvents](t, data)
	require.Len(t, rest.Items, 1)
	assert.Zero(t, rest.NextCursor)
	for _, evt := range append(first.Items, rest.Items...) {
		assert.Equal(t, "alice", evt.UserID)
	}
}

func TestWebhookDispatcherDeliversMatchingEvents(t *testing.T) {
	srv := newTestServer(t)

	var (
		mu       sync.Mutex
		received []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, r.Header.Get("X-Agentline-Event")+":"+body.EntityKind)
		mu.Unlock()
	}))
	defer hook.Close()

	agent := srv.createAgent(t, "alice", "Newsletter")
	_, err := srv.engine.CreateNote(context.Background(), "alice", engine.NewNote{AgentID: agent.ID, Content: "remember"})
	require.NoError(t, err)

	d := NewWebhookDispatcher(srv.engine.Store, []config.Webhook{
		{ID: "agents-only", URL: hook.URL, Events: []string{"agent.created"}, Enabled: true},
		{ID: "off", URL: hook.URL, Enabled: false},
	}, nil)
	d.DispatchAll(context.Background())
	d.DispatchAll(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.True(t, strings.HasPrefix(received[0], "agent.created:"), received[0])
}

func TestAgentAndActionRoutesBindPathIDs(t *testing.T) {
	srv := newTestServer(t, "Start with the welcome email.")
	agent := srv.createAgent(t, "alice", "Newsletter")
	auth := bearer(t, "alice")
	base := srv.URL + "/v1/agents/" + agent.ID

	res, data := doJSON(t, srv.client, http.MethodPatch, base, map[string]any{"name": "Weekly newsletter"}, auth)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "Weekly newsletter", decode[domain.Agent](t, data).Name)

	res, data = doJSON(t, srv.client, http.MethodPost, base+"/notes", map[string]any{"content": "Readers like lists"}, auth)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	assert.Equal(t, agent.ID, decode[domain.Note](t, data).AgentID)

	res, data = doJSON(t, srv.client, http.MethodPost, base+"/assets", map[string]any{
		"title": "Welcome email", "type": "markdown", "content": "# Hi",
	}, auth)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	assert.Equal(t, agent.ID, decode[domain.Asset](t, data).AgentID)

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/assets", nil, auth)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Len(t, decode[[]domain.Asset](t, data), 1)

	res, data = doJSON(t, srv.client, http.MethodGet, base+"/measurements", nil, auth)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.JSONEq(t, `[]`, string(data))

	res, data = doJSON(t, srv.client, http.MethodPost, base+"/chat", map[string]any{"message": "Where do I start?"}, auth)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "Start with the welcome email.", decode[orchestrator.TurnResult](t, data).Reply)

	require.Eventually(t, func() bool {
		res, data := doJSON(t, srv.client, http.MethodGet, base+"/invocations", nil, auth)
		return res.StatusCode == http.StatusOK && len(decode[[]domain.InvocationLog](t, data)) == 1
	}, 2*time.Second, 20*time.Millisecond)

	draft, err := srv.engine.ProposeAction("alice", engine.NewAction{AgentID: agent.ID, Title: "Pick a send day"})
	require.NoError(t, err)
	action, err := srv.engine.DefineAction(context.Background(), "alice", draft)
	require.NoError(t, err)

	res, data = doJSON(t, srv.client, http.MethodPatch, srv.URL+"/v1/actions/"+action.ID, map[string]any{"title": "Pick a send day and time"}, auth)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "Pick a send day and time", decode[domain.Action](t, data).Title)

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v1/actions/"+action.ID+"/dismiss", map[string]any{"reason": "Tuesday it is"}, auth)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, domain.StateDismissed, decode[domain.Action](t, data).State)
}
