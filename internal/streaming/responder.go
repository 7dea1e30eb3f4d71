package streaming

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/agentgate/agentd/internal/common/logger"
	"github.com/agentgate/agentd/pkg/claudecode"
)

// Connection is the subset of the agent connection the responder drives.
type Connection interface {
	Query(ctx context.Context, prompt string) error
	ReceiveResponse() <-chan claudecode.Event
}

// Responder drives one agent turn and renders it as frames or a collected
// outcome.
type Responder struct {
	logger *logger.Logger
}

// NewResponder creates a responder.
func NewResponder(log *logger.Logger) *Responder {
	if log == nil {
		log = logger.Default()
	}
	return &Responder{logger: log.WithFields(zap.String("component", "streaming-responder"))}
}

// Stream issues the prompt and returns a finite channel of frames: the
// turn's events in order, any drive failure as a single error frame, and
// always a sentinel frame last (unless ctx is cancelled first). cleanup runs
// exactly once, after the channel is closed. The sequence is not
// restartable.
func (r *Responder) Stream(ctx context.Context, conn Connection, prompt string, cleanup func()) <-chan Frame {
	out := make(chan Frame)

	go func() {
		if cleanup != nil {
			defer cleanup()
		}
		defer close(out)

		send := func(f Frame) bool {
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if err := conn.Query(ctx, prompt); err != nil {
			r.logger.Warn("stream query failed", zap.Error(err))
			if send(Frame{Type: FrameError, Error: err.Error()}) {
				send(Frame{Sentinel: true})
			}
			return
		}

		events := conn.ReceiveResponse()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					send(Frame{Sentinel: true})
					return
				}
				if !send(fromEvent(ev)) {
					return
				}
			}
		}
	}()

	return out
}

// Outcome is the collected result of one turn.
type Outcome struct {
	Result           string
	HasResult        bool
	Text             string // all assistant text, concatenated
	LastText         string
	SessionID        string
	IsError          bool
	TotalCostUSD     float64
	DurationMS       int64
	StructuredOutput map[string]any
	Subtype          string
}

// FinalResult returns the turn's result text, falling back to the last
// assistant text when the result message carried none.
func (o *Outcome) FinalResult() string {
	if o.Result != "" {
		return o.Result
	}
	return o.LastText
}

// Collect issues the prompt and drains the turn without streaming. Transport
// failures surface as errors; an agent-reported error result is returned in
// the Outcome with IsError set.
func (r *Responder) Collect(ctx context.Context, conn Connection, prompt string) (*Outcome, error) {
	if err := conn.Query(ctx, prompt); err != nil {
		return nil, err
	}

	out := &Outcome{}
	var text strings.Builder
	events := conn.ReceiveResponse()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				out.Text = text.String()
				return out, nil
			}
			switch e := ev.(type) {
			case claudecode.TextEvent:
				text.WriteString(e.Text)
				out.LastText = e.Text
			case claudecode.ResultEvent:
				out.Result = e.Result
				out.HasResult = true
				out.SessionID = e.SessionID
				out.IsError = e.IsError
				out.TotalCostUSD = e.TotalCostUSD
				out.DurationMS = e.DurationMS
				out.StructuredOutput = e.StructuredOutput
				out.Subtype = e.Subtype
			case claudecode.ErrorEvent:
				return nil, e.Err
			}
		}
	}
}
