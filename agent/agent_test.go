package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/najoast/conductor/core"
)

const waitFor = 2 * time.Second

func newSystem(t *testing.T) *core.System {
	t.Helper()
	s := core.NewSystem(core.WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

// collector spawns an actor that pushes every user message to the returned channel.
func collector(t *testing.T, s *core.System) (core.Actor, <-chan *core.Message) {
	t.Helper()
	ch := make(chan *core.Message, 16)
	a, err := s.Spawn(core.BehaviorFunc(func(c *core.Context, msg *core.Message) (core.Behavior, error) {
		if !msg.IsSystem() {
			ch <- msg
		}
		return nil, nil
	}), core.ActorOptions{Name: "collector"})
	require.NoError(t, err)
	return a, ch
}

func next(t *testing.T, ch <-chan *core.Message) *core.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for result")
		return nil
	}
}

func TestAgentForwardsOneResultPerMessage(t *testing.T) {
	s := newSystem(t)
	sink, results := collector(t, s)

	var calls atomic.Int32
	proc := ProcessorFunc(func(ctx context.Context, msg *core.Message) (any, error) {
		calls.Add(1)
		return msg.Payload.(int) * 2, nil
	})

	a, err := s.Spawn(New("doubler", sink, proc, WithLogger(zaptest.NewLogger(t))), core.ActorOptions{Name: "doubler"})
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		msg := core.NewMessage(i)
		msg.CorrelationID = "run-7"
		require.NoError(t, a.Send(msg))
	}

	for i := 1; i <= 3; i++ {
		got := next(t, results)
		assert.Equal(t, i*2, got.Payload)
		assert.Equal(t, "run-7", got.CorrelationID)
		assert.Equal(t, a.ID(), got.Sender.ID())
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestAgentIgnoresSystemMessages(t *testing.T) {
	s := newSystem(t)
	sink, results := collector(t, s)

	a, err := s.Spawn(New("echo", sink, ProcessorFunc(func(ctx context.Context, msg *core.Message) (any, error) {
		return msg.Payload, nil
	})), core.ActorOptions{})
	require.NoError(t, err)

	require.NoError(t, a.Send(core.NewMessage(core.Rejected{Reason: errors.New("overrun")})))
	require.NoError(t, a.Send(core.NewMessage("real")))

	assert.Equal(t, "real", next(t, results).Payload)
	select {
	case extra := <-results:
		t.Fatalf("unexpected result %v", extra.Payload)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestAgentCrashesOnProcessorError(t *testing.T) {
	s := newSystem(t)
	sink, _ := collector(t, s)

	a, err := s.Spawn(New("broken", sink, ProcessorFunc(func(ctx context.Context, msg *core.Message) (any, error) {
		return nil, ErrProcessorFailed
	})), core.ActorOptions{Name: "broken"})
	require.NoError(t, err)

	require.NoError(t, a.Send(core.NewMessage("x")))

	select {
	case <-a.Done():
	case <-time.After(waitFor):
		t.Fatal("agent did not crash")
	}

	var failure *core.ActorFailure
	require.ErrorAs(t, a.Err(), &failure)
	assert.ErrorIs(t, a.Err(), ErrProcessorFailed)
}

func TestAgentSurvivesStoppedRecipient(t *testing.T) {
	s := newSystem(t)
	sink, _ := collector(t, s)
	require.NoError(t, sink.Stop())
	select {
	case <-sink.Done():
	case <-time.After(waitFor):
		t.Fatal("recipient did not stop")
	}

	processed := make(chan any, 3)
	a, err := s.Spawn(New("late", sink, ProcessorFunc(func(ctx context.Context, msg *core.Message) (any, error) {
		processed <- msg.Payload
		return msg.Payload, nil
	})), core.ActorOptions{Name: "late"})
	require.NoError(t, err)

	for _, payload := range []string{"first", "second", "third"} {
		require.NoError(t, a.Send(core.NewMessage(payload)))
		select {
		case got := <-processed:
			assert.Equal(t, payload, got)
		case <-time.After(waitFor):
			t.Fatalf("%s was not processed: %v", payload, a.Err())
		}
	}

	// undeliverable results end in a normal stop, not a crash
	require.NoError(t, a.Stop())
	select {
	case <-a.Done():
	case <-time.After(waitFor):
		t.Fatal("agent did not stop")
	}
	assert.NoError(t, a.Err())
}

func TestFactoryBuildsFreshAgents(t *testing.T) {
	s := newSystem(t)
	sink, results := collector(t, s)

	factory := NewFactory("upper", mustGet(t, NewCatalog(), "upper"))
	first := factory(sink)
	second := factory(sink)
	assert.NotSame(t, first, second)

	a, err := s.Spawn(first, core.ActorOptions{})
	require.NoError(t, err)
	require.NoError(t, a.Send(core.NewMessage("shout")))
	assert.Equal(t, "SHOUT", next(t, results).Payload)
}

func mustGet(t *testing.T, c *Catalog, kind string) Processor {
	t.Helper()
	p, err := c.Get(kind)
	require.NoError(t, err)
	return p
}

func TestCatalog(t *testing.T) {
	c := NewCatalog()
	ctx := context.Background()

	cases := map[string]string{
		"echo":    "  Hello ",
		"upper":   "  HELLO ",
		"lower":   "  hello ",
		"trim":    "Hello",
		"reverse": " olleH  ",
	}
	for kind, want := range cases {
		t.Run(kind, func(t *testing.T) {
			got, err := mustGet(t, c, kind).Process(ctx, core.NewMessage("  Hello "))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	_, err := mustGet(t, c, "fail").Process(ctx, core.NewMessage("x"))
	assert.ErrorIs(t, err, ErrProcessorFailed)

	_, err = c.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownProcessor)

	assert.Equal(t, []string{"echo", "fail", "lower", "reverse", "trim", "upper"}, c.Kinds())
}
