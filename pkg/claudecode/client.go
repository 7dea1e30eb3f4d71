package claudecode

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentgate/agentd/internal/common/logger"
)

var (
	// ErrNotConnected is returned when an operation requires a live CLI process.
	ErrNotConnected = errors.New("agent connection not established")

	// ErrTurnInFlight is returned when a query is issued while a previous
	// turn's response sequence has not finished. The client enforces at most
	// one in-flight turn per connection.
	ErrTurnInFlight = errors.New("a turn is already in flight on this connection")
)

// eventBuffer is the per-turn channel capacity. Bounded so a stalled consumer
// cannot grow memory without limit; the read loop blocks once it fills.
const eventBuffer = 64

// pendingRequest tracks a control request waiting for a response.
type pendingRequest struct {
	ch chan *IncomingControlResponse
}

// Client drives one Claude Code CLI process over stdin/stdout. It writes user
// messages and control requests to stdin and reads streaming JSON from stdout,
// translating wire messages into the Event taxonomy.
//
// A Client is safe for concurrent use, but only one turn may be in flight at
// a time (see ErrTurnInFlight).
type Client struct {
	opts   Options
	logger *logger.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader

	// Pending control requests (requests we sent, waiting for responses)
	pendingRequests   map[string]*pendingRequest
	pendingRequestsMu sync.Mutex

	mu        sync.Mutex
	connected bool
	turn      chan Event
	sessionID string

	writeMu  sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
	waitOnce sync.Once
}

// NewClient creates a client for the given options. No process is spawned
// until Connect.
func NewClient(opts Options, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Default()
	}
	return &Client{
		opts:            opts,
		logger:          log.WithFields(zap.String("component", "claudecode-client")),
		pendingRequests: make(map[string]*pendingRequest),
	}
}

// Connect spawns the CLI process, starts the read loop, and performs the
// initialize handshake. Calling Connect on a connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.stdout == nil {
		if err := c.spawn(); err != nil {
			return err
		}
	}
	c.start()

	if err := c.initialize(ctx); err != nil {
		_ = c.Disconnect()
		return fmt.Errorf("initialize agent: %w", err)
	}
	return nil
}

func (c *Client) spawn() error {
	cmd := exec.Command(c.opts.binary(), c.opts.buildArgs()...)
	if c.opts.Cwd != "" {
		cmd.Dir = c.opts.Cwd
	}
	cmd.Stderr = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open agent stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open agent stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.opts.binary(), err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.stdout = stdout
	c.logger.Info("agent process started",
		zap.String("binary", c.opts.binary()),
		zap.Int("pid", cmd.Process.Pid))
	return nil
}

// attach wires the client to pre-existing streams instead of a spawned
// process. Used by tests.
func (c *Client) attach(stdin io.WriteCloser, stdout io.Reader) {
	c.stdin = stdin
	c.stdout = stdout
}

// start marks the client connected and launches the read loop.
func (c *Client) start() {
	c.done = make(chan struct{})
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	go c.readLoop()
}

// initialize sends the initialize control request and waits for the response.
// Structured output configuration travels in the request body.
func (c *Client) initialize(ctx context.Context) error {
	requestID := uuid.New().String()

	pending := &pendingRequest{ch: make(chan *IncomingControlResponse, 1)}
	c.pendingRequestsMu.Lock()
	c.pendingRequests[requestID] = pending
	c.pendingRequestsMu.Unlock()
	defer func() {
		c.pendingRequestsMu.Lock()
		delete(c.pendingRequests, requestID)
		c.pendingRequestsMu.Unlock()
	}()

	req := &SDKControlRequest{
		Type:      MessageTypeControlRequest,
		RequestID: requestID,
		Request: SDKControlRequestBody{
			Subtype:      SubtypeInitialize,
			OutputFormat: c.opts.OutputFormat,
		},
	}
	if err := c.send(req); err != nil {
		return err
	}

	timeout := c.opts.connectTimeout()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("initialize timed out after %v", timeout)
	case resp := <-pending.ch:
		if resp.Subtype == "error" {
			return fmt.Errorf("initialize failed: %s", resp.Error)
		}
		return nil
	}
}

// Query sends one prompt. The response sequence is consumed via
// ReceiveResponse. Fails with ErrTurnInFlight if the previous turn has not
// finished.
func (c *Client) Query(ctx context.Context, prompt string) error {
	_ = ctx

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.turn != nil {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.turn = make(chan Event, eventBuffer)
	c.mu.Unlock()

	msg := &UserMessage{
		Type:    MessageTypeUser,
		Message: UserMessageBody{Role: "user", Content: prompt},
	}
	if err := c.send(msg); err != nil {
		c.mu.Lock()
		c.turn = nil
		c.mu.Unlock()
		return fmt.Errorf("send prompt: %w", err)
	}
	return nil
}

// ReceiveResponse returns the current turn's event sequence. The channel is
// closed after the ResultEvent (or an ErrorEvent on transport failure). If no
// turn is in flight, a closed channel is returned.
func (c *Client) ReceiveResponse() <-chan Event {
	c.mu.Lock()
	t := c.turn
	c.mu.Unlock()
	if t == nil {
		closed := make(chan Event)
		close(closed)
		return closed
	}
	return t
}

// Interrupt asks the CLI to abort the current turn. The turn's sequence still
// terminates with a ResultEvent emitted by the CLI.
func (c *Client) Interrupt(ctx context.Context) error {
	_ = ctx

	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	req := &SDKControlRequest{
		Type:      MessageTypeControlRequest,
		RequestID: uuid.New().String(),
		Request:   SDKControlRequestBody{Subtype: SubtypeInterrupt},
	}
	return c.send(req)
}

// SessionID returns the CLI-reported session identifier, if one has been
// observed yet.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Disconnect tears the process down. In-flight consumers are released by the
// read loop, which observes EOF and finishes the turn. Safe to call more than
// once.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	connected := c.connected
	c.connected = false
	c.mu.Unlock()
	if !connected {
		return nil
	}

	c.doneOnce.Do(func() { close(c.done) })
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	c.logger.Info("agent connection closed")
	return nil
}

func (c *Client) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.stdout)
	// Allow for large JSON messages (up to 10MB)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		select {
		case <-c.done:
			c.finishTurn(errors.New("connection closed"))
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		c.handleLine(line)
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.finishTurn(fmt.Errorf("agent stream closed: %w", err))

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	// Reap the process once the pipe is drained.
	c.waitOnce.Do(func() {
		if c.cmd != nil {
			_ = c.cmd.Wait()
		}
	})
}

func (c *Client) handleLine(line []byte) {
	var msg CLIMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		c.logger.Warn("failed to parse agent message", zap.Error(err), zap.String("line", string(line)))
		return
	}

	switch msg.Type {
	case MessageTypeControlResponse:
		if msg.Response != nil {
			c.handleControlResponse(msg.Response)
		}

	case MessageTypeControlRequest:
		// The server runs non-interactively: tool use is allowed or denied up
		// front via the allowlist and permission mode, never per request.
		c.denyControlRequest(msg.RequestID)

	case MessageTypeSystem:
		if msg.SessionID != "" {
			c.mu.Lock()
			c.sessionID = msg.SessionID
			c.mu.Unlock()
		}

	case MessageTypeAssistant, MessageTypeUser:
		if msg.Message != nil {
			c.emitBlocks(msg.Message.Content)
		}

	case MessageTypeResult:
		if msg.SessionID != "" {
			c.mu.Lock()
			c.sessionID = msg.SessionID
			c.mu.Unlock()
		}
		c.emit(ResultEvent{
			Result:           msg.GetResultString(),
			SessionID:        msg.SessionID,
			IsError:          msg.IsError,
			TotalCostUSD:     msg.TotalCostUSD,
			DurationMS:       msg.DurationMS,
			StructuredOutput: msg.StructuredOutput,
			Subtype:          msg.Subtype,
		})
		c.closeTurn()

	default:
		c.logger.Debug("ignoring agent message", zap.String("type", msg.Type))
	}
}

func (c *Client) emitBlocks(blocks []ContentBlock) {
	for _, block := range blocks {
		switch block.Type {
		case BlockTypeText:
			if block.Text != "" {
				c.emit(TextEvent{Text: block.Text})
			}
		case BlockTypeToolUse:
			c.emit(ToolUseEvent{ID: block.ID, Name: block.Name, Input: block.Input})
		case BlockTypeToolResult:
			c.emit(ToolResultEvent{ToolUseID: block.ToolUseID, IsError: block.IsError})
		}
	}
}

func (c *Client) emit(ev Event) {
	c.mu.Lock()
	t := c.turn
	c.mu.Unlock()
	if t == nil {
		return
	}
	select {
	case t <- ev:
	case <-c.done:
	}
}

// closeTurn ends the sequence cleanly after a ResultEvent.
func (c *Client) closeTurn() {
	c.mu.Lock()
	t := c.turn
	c.turn = nil
	c.mu.Unlock()
	if t != nil {
		close(t)
	}
}

// finishTurn ends an in-flight sequence with an ErrorEvent. No-op when no
// turn is active.
func (c *Client) finishTurn(err error) {
	c.mu.Lock()
	t := c.turn
	c.turn = nil
	c.mu.Unlock()
	if t == nil {
		return
	}
	select {
	case t <- ErrorEvent{Err: err}:
	default:
	}
	close(t)
}

func (c *Client) denyControlRequest(requestID string) {
	resp := &ControlResponseMessage{
		Type:      MessageTypeControlResponse,
		RequestID: requestID,
		Response: &ControlResponse{
			Subtype: "error",
			Error:   "no interactive permission handler",
		},
	}
	if err := c.send(resp); err != nil {
		c.logger.Warn("failed to send control response", zap.Error(err))
	}
}

func (c *Client) handleControlResponse(resp *IncomingControlResponse) {
	c.pendingRequestsMu.Lock()
	pending, ok := c.pendingRequests[resp.RequestID]
	c.pendingRequestsMu.Unlock()

	if !ok {
		c.logger.Warn("control response for unknown request",
			zap.String("request_id", resp.RequestID),
			zap.String("subtype", resp.Subtype))
		return
	}

	select {
	case pending.ch <- resp:
	default:
		c.logger.Warn("pending request channel full", zap.String("request_id", resp.RequestID))
	}
}
