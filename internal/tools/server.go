// Package tools runs the embedded MCP server that exposes custom tools to
// the agent over SSE.
package tools

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agentgate/agentd/internal/common/logger"
)

// Config holds the tools server configuration.
type Config struct {
	Port int
}

// Server wraps the MCP SSE server with lifecycle management.
type Server struct {
	cfg        Config
	sseServer  *server.SSEServer
	httpServer *http.Server
	logger     *logger.Logger

	mu      sync.Mutex
	running bool
}

// New creates a tools server. Nothing listens until Start.
func New(cfg Config, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: log.WithFields(zap.String("component", "tools-server")),
	}
}

// Start begins serving and returns once the listener is bound. Port 0
// selects a free port; SSEEndpoint reports the bound address.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("tools server already running")
	}
	s.mu.Unlock()

	mcpServer := server.NewMCPServer(
		"agentd-tools",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	registerTools(mcpServer, s.logger)

	s.sseServer = server.NewSSEServer(mcpServer)

	mux := http.NewServeMux()
	mux.Handle("/sse", s.sseServer.SSEHandler())
	mux.Handle("/message", s.sseServer.MessageHandler())

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.cfg.Port = tcpAddr.Port
	}

	s.httpServer = &http.Server{Handler: mux}

	ready := make(chan struct{})
	go func() {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		close(ready)

		s.logger.Info("tools server listening", zap.Int("port", s.cfg.Port))
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("tools server error", zap.Error(err))
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown tools server: %w", err)
		}
	}
	if s.sseServer != nil {
		if err := s.sseServer.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown SSE transport", zap.Error(err))
		}
	}
	return nil
}

// SSEEndpoint returns the SSE URL the agent CLI connects to.
func (s *Server) SSEEndpoint() string {
	return fmt.Sprintf("http://localhost:%d/sse", s.cfg.Port)
}
