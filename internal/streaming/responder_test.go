package streaming

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgate/agentd/pkg/claudecode"
)

// scriptedConn replays a fixed event sequence for one turn.
type scriptedConn struct {
	events   []claudecode.Event
	queryErr error
	hold     chan struct{} // when set, blocks before emitting anything
}

func (s *scriptedConn) Query(ctx context.Context, prompt string) error {
	return s.queryErr
}

func (s *scriptedConn) ReceiveResponse() <-chan claudecode.Event {
	ch := make(chan claudecode.Event)
	go func() {
		defer close(ch)
		if s.hold != nil {
			<-s.hold
		}
		for _, ev := range s.events {
			ch <- ev
		}
	}()
	return ch
}

func collectFrames(t *testing.T, frames <-chan Frame) []Frame {
	t.Helper()
	var got []Frame
	for f := range frames {
		got = append(got, f)
	}
	return got
}

func TestStreamOrderAndSentinel(t *testing.T) {
	conn := &scriptedConn{events: []claudecode.Event{
		claudecode.TextEvent{Text: "hello"},
		claudecode.ToolUseEvent{ID: "t1", Name: "calculate", Input: map[string]any{"expression": "1+1"}},
		claudecode.ToolResultEvent{ToolUseID: "t1"},
		claudecode.TextEvent{Text: "two"},
		claudecode.ResultEvent{Result: "two", SessionID: "abc", DurationMS: 5},
	}}

	var cleanups atomic.Int32
	r := NewResponder(nil)
	got := collectFrames(t, r.Stream(context.Background(), conn, "2?", func() { cleanups.Add(1) }))

	require.Len(t, got, 6)
	assert.Equal(t, FrameText, got[0].Type)
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, FrameToolUse, got[1].Type)
	assert.Equal(t, "calculate", got[1].Name)
	assert.Equal(t, FrameToolResult, got[2].Type)
	assert.Equal(t, "t1", got[2].ToolUseID)
	assert.Equal(t, FrameText, got[3].Type)
	assert.Equal(t, FrameResult, got[4].Type)
	assert.Equal(t, "two", got[4].Result)
	assert.Equal(t, "abc", got[4].SessionID)
	assert.True(t, got[5].Sentinel)
	assert.Equal(t, int32(1), cleanups.Load())
}

func TestStreamErrorMidSequence(t *testing.T) {
	conn := &scriptedConn{events: []claudecode.Event{
		claudecode.TextEvent{Text: "partial"},
		claudecode.ErrorEvent{Err: errors.New("agent stream closed")},
	}}

	r := NewResponder(nil)
	got := collectFrames(t, r.Stream(context.Background(), conn, "q", nil))

	require.Len(t, got, 3)
	assert.Equal(t, FrameText, got[0].Type)
	assert.Equal(t, FrameError, got[1].Type)
	assert.Contains(t, got[1].Error, "agent stream closed")
	assert.True(t, got[2].Sentinel)
}

func TestStreamQueryFailure(t *testing.T) {
	conn := &scriptedConn{queryErr: claudecode.ErrTurnInFlight}

	var cleanups atomic.Int32
	r := NewResponder(nil)
	got := collectFrames(t, r.Stream(context.Background(), conn, "q", func() { cleanups.Add(1) }))

	require.Len(t, got, 2)
	assert.Equal(t, FrameError, got[0].Type)
	assert.True(t, got[1].Sentinel)
	assert.Equal(t, int32(1), cleanups.Load())
}

func TestStreamCancelRunsCleanupOnce(t *testing.T) {
	hold := make(chan struct{})
	conn := &scriptedConn{
		hold:   hold,
		events: []claudecode.Event{claudecode.TextEvent{Text: "never delivered"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cleaned := make(chan struct{})
	r := NewResponder(nil)
	frames := r.Stream(ctx, conn, "q", func() { close(cleaned) })

	cancel()
	select {
	case <-cleaned:
	case <-time.After(time.Second):
		t.Fatal("cleanup did not run after cancellation")
	}
	close(hold)

	// Channel closes without a sentinel frame.
	for f := range frames {
		assert.False(t, f.Sentinel)
	}
}

func TestCollect(t *testing.T) {
	conn := &scriptedConn{events: []claudecode.Event{
		claudecode.TextEvent{Text: "a"},
		claudecode.TextEvent{Text: "b"},
		claudecode.ResultEvent{Result: "ab", SessionID: "s", TotalCostUSD: 0.01},
	}}

	r := NewResponder(nil)
	out, err := r.Collect(context.Background(), conn, "q")
	require.NoError(t, err)
	assert.Equal(t, "ab", out.Text)
	assert.Equal(t, "b", out.LastText)
	assert.Equal(t, "ab", out.FinalResult())
	assert.True(t, out.HasResult)
	assert.Equal(t, "s", out.SessionID)
}

func TestCollectFallsBackToLastText(t *testing.T) {
	conn := &scriptedConn{events: []claudecode.Event{
		claudecode.TextEvent{Text: "first"},
		claudecode.TextEvent{Text: "second"},
		claudecode.ResultEvent{Result: "", SessionID: "s"},
	}}

	r := NewResponder(nil)
	out, err := r.Collect(context.Background(), conn, "q")
	require.NoError(t, err)
	assert.Equal(t, "second", out.FinalResult())
}

func TestCollectTransportError(t *testing.T) {
	boom := errors.New("pipe broke")
	conn := &scriptedConn{events: []claudecode.Event{
		claudecode.TextEvent{Text: "partial"},
		claudecode.ErrorEvent{Err: boom},
	}}

	r := NewResponder(nil)
	_, err := r.Collect(context.Background(), conn, "q")
	assert.ErrorIs(t, err, boom)
}
