// Package server exposes the agent runtime over HTTP: one-shot queries,
// long-lived sessions, and streaming responses over SSE and websocket.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentgate/agentd/internal/common/config"
	apperrors "github.com/agentgate/agentd/internal/common/errors"
	"github.com/agentgate/agentd/internal/common/logger"
	"github.com/agentgate/agentd/internal/session"
	"github.com/agentgate/agentd/internal/skills"
	"github.com/agentgate/agentd/internal/streaming"
	"github.com/agentgate/agentd/internal/workspace"
	"github.com/agentgate/agentd/pkg/claudecode"
)

// ConnectFunc establishes an agent connection for the given options,
// handshake included. Injected so tests can substitute a fake.
type ConnectFunc func(ctx context.Context, opts claudecode.Options) (session.Connection, error)

// CLIConnect returns the production ConnectFunc, spawning the Claude Code
// CLI.
func CLIConnect(log *logger.Logger) ConnectFunc {
	return func(ctx context.Context, opts claudecode.Options) (session.Connection, error) {
		client := claudecode.NewClient(opts, log)
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		return client, nil
	}
}

// HandlerConfig carries the handler's static configuration.
type HandlerConfig struct {
	Agent config.AgentConfig

	// SkillsUserDir is the user-level skills directory.
	SkillsUserDir string

	// MCPURL is the embedded tools server SSE endpoint; empty disables it.
	MCPURL string
}

// Handler holds the request handlers and their collaborators.
type Handler struct {
	cfg        HandlerConfig
	workspaces *workspace.Manager
	sessions   *session.Manager
	responder  *streaming.Responder
	connect    ConnectFunc
	logger     *logger.Logger
}

// NewHandler creates the handler set.
func NewHandler(cfg HandlerConfig, workspaces *workspace.Manager, sessions *session.Manager,
	responder *streaming.Responder, connect ConnectFunc, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{
		cfg:        cfg,
		workspaces: workspaces,
		sessions:   sessions,
		responder:  responder,
		connect:    connect,
		logger:     log.WithFields(zap.String("component", "http-handler")),
	}
}

// RegisterRoutes attaches all endpoints to the router.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/", h.health)
	r.GET("/health", h.health)
	r.GET("/skills", h.listSkills)
	r.POST("/query", h.query)
	r.POST("/query/stream", h.queryStream)

	s := r.Group("/sessions")
	s.POST("", h.createSession)
	s.GET("", h.listSessions)
	s.DELETE("/:id", h.deleteSession)
	s.POST("/:id/chat", h.chat)
	s.POST("/:id/chat/stream", h.chatStream)
	s.GET("/:id/chat/ws", h.chatWS)
	s.POST("/:id/interrupt", h.interrupt)
}

func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusInternalServerError, apperrors.Internal(err.Error()))
}

// validateOutputFormat enforces the structured-output shape:
// {"type": "json_schema", "schema": {...}}.
func validateOutputFormat(of map[string]any) error {
	if of == nil {
		return nil
	}
	typ, _ := of["type"].(string)
	if typ != "json_schema" {
		return apperrors.Unprocessable(`output_format.type must be "json_schema"`)
	}
	if _, ok := of["schema"].(map[string]any); !ok {
		return apperrors.Unprocessable("output_format.schema must be an object")
	}
	return nil
}

// buildOptions merges per-request agent options with server configuration.
func (h *Handler) buildOptions(systemPrompt string, maxTurns int, allowedTools []string,
	permissionMode string, outputFormat map[string]any, cwd string) claudecode.Options {
	opts := claudecode.Options{
		BinaryPath:     h.cfg.Agent.BinaryPath,
		Model:          h.cfg.Agent.Model,
		ConnectTimeout: h.cfg.Agent.ConnectTimeoutDuration(),
		SystemPrompt:   systemPrompt,
		MaxTurns:       maxTurns,
		AllowedTools:   allowedTools,
		PermissionMode: permissionMode,
		OutputFormat:   outputFormat,
		Cwd:            cwd,
		SettingSources: []string{"user", "project"},
	}
	if h.cfg.MCPURL != "" {
		opts.MCPServers = map[string]claudecode.MCPServerConfig{
			"agentd": {Type: "sse", URL: h.cfg.MCPURL},
		}
	}
	return opts
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"service":    "agentd",
		"sessions":   h.sessions.Count(),
		"workspaces": h.workspaces.Count(),
	})
}

func (h *Handler) listSkills(c *gin.Context) {
	list := skills.List(h.cfg.SkillsUserDir, c.Query("cwd"))
	if list == nil {
		list = []skills.Skill{}
	}
	c.JSON(http.StatusOK, gin.H{"skills": list, "count": len(list)})
}

// query runs a one-shot prompt in a fresh workspace (unless the caller
// provides a cwd) and returns the collected result.
func (h *Handler) query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest("invalid request: "+err.Error()))
		return
	}
	if err := validateOutputFormat(req.OutputFormat); err != nil {
		respondError(c, err)
		return
	}

	cwd := req.Cwd
	if cwd == "" {
		id := "query-" + uuid.NewString()
		path, err := h.workspaces.Create(id, workspace.OwnerQuery)
		if err != nil {
			respondError(c, apperrors.Internal("failed to create workspace: "+err.Error()))
			return
		}
		cwd = path
		defer h.workspaces.Cleanup(id)
	}

	ctx := c.Request.Context()
	conn, err := h.connect(ctx, h.buildOptions(req.SystemPrompt, req.MaxTurns,
		req.AllowedTools, req.PermissionMode, req.OutputFormat, cwd))
	if err != nil {
		respondError(c, apperrors.Internal("failed to connect agent: "+err.Error()))
		return
	}
	defer func() { _ = conn.Disconnect() }()

	out, err := h.responder.Collect(ctx, conn, req.Prompt)
	if err != nil {
		respondError(c, apperrors.Internal("query failed: "+err.Error()))
		return
	}
	c.JSON(http.StatusOK, QueryResponse{
		Result:           out.FinalResult(),
		SessionID:        out.SessionID,
		IsError:          out.IsError,
		TotalCostUSD:     out.TotalCostUSD,
		DurationMS:       out.DurationMS,
		StructuredOutput: out.StructuredOutput,
	})
}

// queryStream runs a one-shot prompt and streams frames over SSE. The
// workspace and connection are torn down by the stream's cleanup hook, after
// the last frame.
func (h *Handler) queryStream(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest("invalid request: "+err.Error()))
		return
	}
	if err := validateOutputFormat(req.OutputFormat); err != nil {
		respondError(c, err)
		return
	}

	cwd := req.Cwd
	workspaceID := ""
	if cwd == "" {
		workspaceID = "query-" + uuid.NewString()
		path, err := h.workspaces.Create(workspaceID, workspace.OwnerQueryStream)
		if err != nil {
			respondError(c, apperrors.Internal("failed to create workspace: "+err.Error()))
			return
		}
		cwd = path
	}

	ctx := c.Request.Context()
	conn, err := h.connect(ctx, h.buildOptions(req.SystemPrompt, req.MaxTurns,
		req.AllowedTools, req.PermissionMode, req.OutputFormat, cwd))
	if err != nil {
		if workspaceID != "" {
			h.workspaces.Cleanup(workspaceID)
		}
		respondError(c, apperrors.Internal("failed to connect agent: "+err.Error()))
		return
	}

	cleanup := func() {
		_ = conn.Disconnect()
		if workspaceID != "" {
			h.workspaces.Cleanup(workspaceID)
		}
	}
	h.writeSSE(c, h.responder.Stream(ctx, conn, req.Prompt, cleanup))
}

func (h *Handler) createSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest("invalid request: "+err.Error()))
		return
	}
	if err := validateOutputFormat(req.OutputFormat); err != nil {
		respondError(c, err)
		return
	}

	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	// Refuse before touching the workspace so a duplicate can never disturb
	// the live session's directory.
	if _, err := h.sessions.GetSession(id); err == nil {
		respondError(c, apperrors.Conflict("session already exists: "+id))
		return
	}

	cwd := req.Cwd
	ownsWorkspace := false
	if cwd == "" {
		path, err := h.workspaces.Create(id, workspace.OwnerSession)
		if err != nil {
			respondError(c, apperrors.Internal("failed to create workspace: "+err.Error()))
			return
		}
		cwd = path
		ownsWorkspace = true
	}

	opts := h.buildOptions(req.SystemPrompt, req.MaxTurns, req.AllowedTools,
		req.PermissionMode, req.OutputFormat, cwd)
	_, err := h.sessions.CreateSession(c.Request.Context(), id,
		func(ctx context.Context) (session.Connection, error) {
			return h.connect(ctx, opts)
		}, ownsWorkspace)
	if err != nil {
		if errors.Is(err, session.ErrDuplicateSession) {
			respondError(c, apperrors.Conflict("session already exists: "+id))
			return
		}
		if ownsWorkspace {
			h.workspaces.Cleanup(id)
		}
		respondError(c, apperrors.Internal("failed to create session: "+err.Error()))
		return
	}
	c.JSON(http.StatusCreated, CreateSessionResponse{SessionID: id, Workspace: cwd})
}

func (h *Handler) listSessions(c *gin.Context) {
	ids := h.sessions.ListSessions()
	c.JSON(http.StatusOK, SessionListResponse{Sessions: ids, Count: len(ids)})
}

func (h *Handler) deleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.sessions.CloseSession(id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			respondError(c, apperrors.NotFound("session not found: "+id))
			return
		}
		respondError(c, apperrors.Internal(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed", "session_id": id})
}

func (h *Handler) chat(c *gin.Context) {
	id := c.Param("id")
	conn, err := h.sessions.GetSession(id)
	if err != nil {
		respondError(c, apperrors.NotFound("session not found: "+id))
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest("invalid request: "+err.Error()))
		return
	}

	out, err := h.responder.Collect(c.Request.Context(), conn, req.Message)
	if err != nil {
		if errors.Is(err, claudecode.ErrTurnInFlight) {
			respondError(c, apperrors.Conflict("a turn is already in flight for session "+id))
			return
		}
		respondError(c, apperrors.Internal("chat failed: "+err.Error()))
		return
	}

	response := out.Text
	if response == "" {
		response = out.Result
	}
	c.JSON(http.StatusOK, ChatResponse{
		Response:         response,
		SessionID:        out.SessionID,
		IsError:          out.IsError,
		TotalCostUSD:     out.TotalCostUSD,
		DurationMS:       out.DurationMS,
		StructuredOutput: out.StructuredOutput,
	})
}

func (h *Handler) chatStream(c *gin.Context) {
	id := c.Param("id")
	conn, err := h.sessions.GetSession(id)
	if err != nil {
		respondError(c, apperrors.NotFound("session not found: "+id))
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.BadRequest("invalid request: "+err.Error()))
		return
	}

	// The session keeps its connection and workspace; nothing to clean up.
	ctx := c.Request.Context()
	h.writeSSE(c, h.responder.Stream(ctx, conn, req.Message, nil))
}

func (h *Handler) interrupt(c *gin.Context) {
	id := c.Param("id")
	conn, err := h.sessions.GetSession(id)
	if err != nil {
		respondError(c, apperrors.NotFound("session not found: "+id))
		return
	}
	if err := conn.Interrupt(c.Request.Context()); err != nil {
		respondError(c, apperrors.Internal("interrupt failed: "+err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "interrupted", "session_id": id})
}
