package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgate/agentd/internal/common/config"
	"github.com/agentgate/agentd/internal/session"
	"github.com/agentgate/agentd/internal/streaming"
	"github.com/agentgate/agentd/internal/workspace"
	"github.com/agentgate/agentd/pkg/claudecode"
)

type fakeConn struct {
	events       []claudecode.Event
	queryErr     error
	disconnects  atomic.Int32
	interrupts   atomic.Int32
	lastPrompt   string
}

func (f *fakeConn) Query(ctx context.Context, prompt string) error {
	f.lastPrompt = prompt
	return f.queryErr
}

func (f *fakeConn) ReceiveResponse() <-chan claudecode.Event {
	ch := make(chan claudecode.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch
}

func (f *fakeConn) Interrupt(ctx context.Context) error {
	f.interrupts.Add(1)
	return nil
}

func (f *fakeConn) Disconnect() error {
	f.disconnects.Add(1)
	return nil
}

func connectTo(conn *fakeConn) ConnectFunc {
	return func(ctx context.Context, opts claudecode.Options) (session.Connection, error) {
		return conn, nil
	}
}

type testServer struct {
	router     *gin.Engine
	workspaces *workspace.Manager
}

func newTestServer(t *testing.T, connect ConnectFunc) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	wm, err := workspace.NewManager(workspace.Config{BasePath: t.TempDir()}, nil)
	require.NoError(t, err)
	require.NoError(t, wm.Initialize())
	sm := session.NewManager(wm, nil)

	h := NewHandler(HandlerConfig{
		Agent:         config.AgentConfig{BinaryPath: "claude", ConnectTimeout: 5},
		SkillsUserDir: t.TempDir(),
	}, wm, sm, streaming.NewResponder(nil), connect, nil)

	r := gin.New()
	h.RegisterRoutes(r)
	return &testServer{router: r, workspaces: wm}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func simpleTurn(text, result string) []claudecode.Event {
	return []claudecode.Event{
		claudecode.TextEvent{Text: text},
		claudecode.ResultEvent{Result: result, SessionID: "cli-session"},
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, connectTo(&fakeConn{}))

	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestQuery(t *testing.T) {
	conn := &fakeConn{events: simpleTurn("thinking", "42")}
	ts := newTestServer(t, connectTo(conn))

	w := ts.do(t, http.MethodPost, "/query", QueryRequest{Prompt: "meaning of life?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "42", resp.Result)
	assert.Equal(t, "cli-session", resp.SessionID)
	assert.Equal(t, "meaning of life?", conn.lastPrompt)

	// One-shot: connection torn down, workspace removed.
	assert.Equal(t, int32(1), conn.disconnects.Load())
	assert.Equal(t, 0, ts.workspaces.Count())
}

func TestQueryValidation(t *testing.T) {
	ts := newTestServer(t, connectTo(&fakeConn{}))

	w := ts.do(t, http.MethodPost, "/query", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/query", map[string]any{
		"prompt":        "hi",
		"output_format": map[string]any{"type": "yaml"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = ts.do(t, http.MethodPost, "/query", map[string]any{
		"prompt":        "hi",
		"output_format": map[string]any{"type": "json_schema"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "schema is required")
}

func TestQueryStreamFraming(t *testing.T) {
	conn := &fakeConn{events: simpleTurn("hello", "done")}
	ts := newTestServer(t, connectTo(conn))

	w := ts.do(t, http.MethodPost, "/query/stream", QueryRequest{Prompt: "hi"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	lines := strings.Split(strings.TrimSpace(body), "\n\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "data: {"))
	assert.Contains(t, lines[0], `"type":"text"`)
	assert.Contains(t, lines[1], `"type":"result"`)
	assert.Equal(t, "data: [DONE]", lines[2])

	assert.Equal(t, int32(1), conn.disconnects.Load())
	assert.Equal(t, 0, ts.workspaces.Count())
}

func TestSessionLifecycle(t *testing.T) {
	conn := &fakeConn{events: simpleTurn("hi there", "hi there")}
	ts := newTestServer(t, connectTo(conn))

	w := ts.do(t, http.MethodPost, "/sessions", CreateSessionRequest{SessionID: "s1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created CreateSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "s1", created.SessionID)
	assert.NotEmpty(t, created.Workspace)
	assert.Equal(t, 1, ts.workspaces.Count())

	w = ts.do(t, http.MethodPost, "/sessions", CreateSessionRequest{SessionID: "s1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list SessionListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, []string{"s1"}, list.Sessions)

	w = ts.do(t, http.MethodPost, "/sessions/s1/chat", ChatRequest{Message: "hello"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var chat ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chat))
	assert.Equal(t, "hi there", chat.Response)

	w = ts.do(t, http.MethodDelete, "/sessions/s1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(1), conn.disconnects.Load())
	assert.Equal(t, 0, ts.workspaces.Count())

	w = ts.do(t, http.MethodDelete, "/sessions/s1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionWithCallerCwd(t *testing.T) {
	ts := newTestServer(t, connectTo(&fakeConn{}))

	w := ts.do(t, http.MethodPost, "/sessions", CreateSessionRequest{SessionID: "s1", Cwd: t.TempDir()})
	require.Equal(t, http.StatusCreated, w.Code)
	// Caller-provided cwd: no workspace created or tracked.
	assert.Equal(t, 0, ts.workspaces.Count())

	w = ts.do(t, http.MethodDelete, "/sessions/s1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChatUnknownSession(t *testing.T) {
	ts := newTestServer(t, connectTo(&fakeConn{}))

	w := ts.do(t, http.MethodPost, "/sessions/nope/chat", ChatRequest{Message: "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/sessions/nope/chat/stream", ChatRequest{Message: "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/sessions/nope/interrupt", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatTurnInFlight(t *testing.T) {
	conn := &fakeConn{queryErr: claudecode.ErrTurnInFlight}
	ts := newTestServer(t, connectTo(conn))

	w := ts.do(t, http.MethodPost, "/sessions", CreateSessionRequest{SessionID: "busy"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodPost, "/sessions/busy/chat", ChatRequest{Message: "hi"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestChatStreamFraming(t *testing.T) {
	conn := &fakeConn{events: []claudecode.Event{
		claudecode.TextEvent{Text: "a"},
		claudecode.ToolUseEvent{ID: "t1", Name: "calculate"},
		claudecode.ToolResultEvent{ToolUseID: "t1"},
		claudecode.ResultEvent{Result: "a"},
	}}
	ts := newTestServer(t, connectTo(conn))

	w := ts.do(t, http.MethodPost, "/sessions", CreateSessionRequest{SessionID: "s1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodPost, "/sessions/s1/chat/stream", ChatRequest{Message: "hi"})
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, `"type":"text"`)
	assert.Contains(t, body, `"type":"tool_use"`)
	assert.Contains(t, body, `"type":"tool_result"`)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]"))

	// Session streaming never tears the connection down.
	assert.Equal(t, int32(0), conn.disconnects.Load())
}

func TestInterrupt(t *testing.T) {
	conn := &fakeConn{}
	ts := newTestServer(t, connectTo(conn))

	w := ts.do(t, http.MethodPost, "/sessions", CreateSessionRequest{SessionID: "s1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodPost, "/sessions/s1/interrupt", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(1), conn.interrupts.Load())
}

func TestSkillsEndpoint(t *testing.T) {
	ts := newTestServer(t, connectTo(&fakeConn{}))

	w := ts.do(t, http.MethodGet, "/skills", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Skills []any `json:"skills"`
		Count  int   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Count)
	assert.NotNil(t, body.Skills)
}

func TestValidateOutputFormat(t *testing.T) {
	assert.NoError(t, validateOutputFormat(nil))
	assert.NoError(t, validateOutputFormat(map[string]any{
		"type":   "json_schema",
		"schema": map[string]any{"type": "object"},
	}))
	assert.Error(t, validateOutputFormat(map[string]any{"type": "other"}))
	assert.Error(t, validateOutputFormat(map[string]any{"type": "json_schema"}))
}
