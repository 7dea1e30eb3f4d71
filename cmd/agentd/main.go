// Package main is the agentd entry point: an HTTP server exposing the
// Claude Code agent runtime (one-shot queries, sessions, streaming) plus an
// embedded MCP tools server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentgate/agentd/internal/common/config"
	"github.com/agentgate/agentd/internal/common/httpmw"
	"github.com/agentgate/agentd/internal/common/logger"
	"github.com/agentgate/agentd/internal/server"
	"github.com/agentgate/agentd/internal/session"
	"github.com/agentgate/agentd/internal/skills"
	"github.com/agentgate/agentd/internal/streaming"
	"github.com/agentgate/agentd/internal/tools"
	"github.com/agentgate/agentd/internal/workspace"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("Starting agentd...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Workspace registry
	workspaces, err := workspace.NewManager(workspace.Config{
		BasePath: cfg.Workspace.BasePath,
		MaxAge:   cfg.Workspace.MaxAge(),
	}, log)
	if err != nil {
		log.Fatal("Failed to create workspace manager", zap.Error(err))
	}
	if err := workspaces.Initialize(); err != nil {
		log.Fatal("Failed to initialize workspaces", zap.Error(err))
	}
	log.Info("Workspace registry ready", zap.String("base_path", workspaces.BasePath()))

	// 4. Session registry
	sessions := session.NewManager(workspaces, log)

	// 5. Embedded MCP tools server
	mcpURL := ""
	var toolsServer *tools.Server
	if cfg.Tools.Enabled {
		toolsServer = tools.New(tools.Config{Port: cfg.Tools.Port}, log)
		if err := toolsServer.Start(ctx); err != nil {
			log.Fatal("Failed to start tools server", zap.Error(err))
		}
		mcpURL = toolsServer.SSEEndpoint()
		log.Info("Tools server ready", zap.String("sse_endpoint", mcpURL))
	}

	// 6. HTTP server
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.RequestLogger(log, "agentd"))

	handler := server.NewHandler(server.HandlerConfig{
		Agent:         cfg.Agent,
		SkillsUserDir: skills.UserDir(),
		MCPURL:        mcpURL,
	}, workspaces, sessions, streaming.NewResponder(log), server.CLIConnect(log), log)
	handler.RegisterRoutes(router)

	// No WriteTimeout: SSE responses stay open for the whole turn.
	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeoutDuration(),
	}

	go func() {
		log.Info("HTTP server listening",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down agentd...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		cfg.Server.ShutdownGraceDuration())
	defer shutdownCancel()

	// Sessions first so their agent processes exit, then their workspaces.
	sessions.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if toolsServer != nil {
		if err := toolsServer.Stop(shutdownCtx); err != nil {
			log.Error("Tools server shutdown error", zap.Error(err))
		}
	}

	log.Info("agentd stopped")
}
