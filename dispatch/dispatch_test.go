package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentsync-dev/agentsync/wire"
)

func TestOnAndUnsubscribe(t *testing.T) {
	d := New()
	var calls int

	unsub := On(d, func(ev wire.AgentStatus) { calls++ })

	d.Dispatch(context.Background(), wire.AgentStatus{SessionID: "s", AgentID: "a", Status: "active"})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}

	unsub()
	unsub() // second unsubscribe is a no-op

	d.Dispatch(context.Background(), wire.AgentStatus{SessionID: "s", AgentID: "a", Status: "idle"})
	if calls != 1 {
		t.Errorf("unsubscribed handler still called, calls=%d", calls)
	}
}

func TestMultipleSubscribersSameEvent(t *testing.T) {
	d := New()
	var first, second int

	On(d, func(ev wire.AgentStatus) { first++ })
	On(d, func(ev wire.AgentStatus) { second++ })

	d.Dispatch(context.Background(), wire.AgentStatus{Status: "active"})

	if first != 1 || second != 1 {
		t.Errorf("both subscribers should fire once, got %d and %d", first, second)
	}
}

func TestTypedHandlerReceivesOnlyItsType(t *testing.T) {
	d := New()
	var tokens []string

	On(d, func(ev wire.AgentToken) { tokens = append(tokens, ev.Token) })

	d.Dispatch(context.Background(), wire.AgentToken{Token: "x"})
	d.Dispatch(context.Background(), wire.AgentStatus{Status: "active"})

	if len(tokens) != 1 || tokens[0] != "x" {
		t.Errorf("expected only the token event, got %v", tokens)
	}
}

func TestDispatchRawDecodes(t *testing.T) {
	d := New()
	var got wire.AgentMessage

	On(d, func(ev wire.AgentMessage) { got = ev })

	payload, _ := json.Marshal(map[string]any{
		"id": "m1", "agent_id": "a1", "session_id": "s1",
		"role": "assistant", "content": "hello",
	})
	d.DispatchRaw(context.Background(), "agent_message", payload)

	if got.ID != "m1" || got.Content != "hello" {
		t.Errorf("decoded event wrong: %+v", got)
	}
}

func TestDispatchRawDropsBadFrames(t *testing.T) {
	d := New()
	var calls int
	On(d, func(ev wire.AgentMessage) { calls++ })

	d.DispatchRaw(context.Background(), "agent_message", []byte(`{not json`))
	d.DispatchRaw(context.Background(), "no_such_event", []byte(`{}`))

	if calls != 0 {
		t.Errorf("bad frames must not reach handlers, got %d calls", calls)
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	d := New()
	var survived bool

	On(d, func(ev wire.AgentStatus) { panic("boom") })
	On(d, func(ev wire.AgentStatus) { survived = true })

	d.Dispatch(context.Background(), wire.AgentStatus{Status: "active"})

	if !survived {
		t.Error("a panicking handler must not stop the other subscribers")
	}
}

func TestSpawnerDrain(t *testing.T) {
	s := NewSpawner(context.Background())
	var ran atomic.Int32

	s.Go("quick", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})
	s.Go("failing", func(ctx context.Context) error {
		ran.Add(1)
		return errors.New("logged, not fatal")
	})

	s.Drain(time.Second)

	if ran.Load() != 2 {
		t.Errorf("expected both tasks to run, got %d", ran.Load())
	}

	// New tasks after Drain are dropped.
	s.Go("late", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})
	time.Sleep(20 * time.Millisecond)
	if ran.Load() != 2 {
		t.Error("tasks spawned after Drain must not run")
	}
}

func TestSpawnerCancelsStragglers(t *testing.T) {
	s := NewSpawner(context.Background())
	done := make(chan struct{})

	s.Go("straggler", func(ctx context.Context) error {
		<-ctx.Done()
		close(done)
		return ctx.Err()
	})

	s.Drain(50 * time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("straggler never saw cancellation")
	}
}
