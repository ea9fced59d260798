package frontend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/testenv"
	"marketchat/pkg/gateway"
	"marketchat/pkg/models"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type pumpResult struct {
	out     *syncBuffer
	revoked chan bool
}

func startPump(sub *gateway.Subscription, opts streamOptions) *pumpResult {
	r := &pumpResult{out: &syncBuffer{}, revoked: make(chan bool, 1)}
	w := bufio.NewWriter(r.out)
	go func() { r.revoked <- pumpEvents(w, sub, opts) }()
	return r
}

func (r *pumpResult) wait(t *testing.T) bool {
	t.Helper()
	select {
	case v := <-r.revoked:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not end; output so far:\n%s", r.out.String())
	}
	return false
}

func allowAll() (bool, error) { return true, nil }

func TestPumpEventsFramingAndHeartbeat(t *testing.T) {
	hub := gateway.NewHub(8)
	sub := hub.Subscribe("user.b1")
	stop := make(chan struct{})
	r := startPump(sub, streamOptions{heartbeat: 10 * time.Millisecond, stop: stop, admit: allowAll})

	data := json.RawMessage(`{"event":"message.created","conversation_id":"c1"}`)
	hub.Publish("user.b1", gateway.Event{Type: "message.created", Data: data})

	require.Eventually(t, func() bool {
		out := r.out.String()
		return strings.Contains(out, "event: message.created\ndata: ") && strings.Contains(out, ": ping\n\n")
	}, 2*time.Second, 5*time.Millisecond)

	close(stop)
	assert.False(t, r.wait(t))

	out := r.out.String()
	assert.True(t, strings.HasPrefix(out, "retry: 3000\n\n"), "output: %q", out)
	for _, frame := range strings.Split(strings.TrimSpace(out), "\n\n") {
		if !strings.HasPrefix(frame, "event: ") {
			continue
		}
		lines := strings.Split(frame, "\n")
		require.Len(t, lines, 2, "frame %q", frame)
		var ev gateway.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &ev))
		assert.Equal(t, "user.b1", ev.Channel)
		assert.JSONEq(t, string(data), string(ev.Data))
	}
	assert.Equal(t, 0, hub.Subscribers("user.b1"), "ending the stream releases the subscription")
}

func TestPumpEventsEndsWithSubscription(t *testing.T) {
	hub := gateway.NewHub(8)
	sub := hub.Subscribe("user.s1")
	r := startPump(sub, streamOptions{heartbeat: time.Hour, admit: allowAll})
	require.Eventually(t, func() bool { return r.out.String() != "" }, time.Second, 5*time.Millisecond)
	sub.Close()
	assert.False(t, r.wait(t))
}

func TestPumpEventsStopsWhenAccessDenied(t *testing.T) {
	hub := gateway.NewHub(8)
	sub := hub.Subscribe("conversation.c1")
	var allowed atomic.Bool
	allowed.Store(true)
	r := startPump(sub, streamOptions{heartbeat: time.Hour, admit: func() (bool, error) { return allowed.Load(), nil }})

	hub.Publish("conversation.c1", gateway.Event{Type: "message.created", Data: json.RawMessage(`{"n":1}`)})
	require.Eventually(t, func() bool { return strings.Contains(r.out.String(), `{"n":1}`) }, time.Second, 5*time.Millisecond)

	allowed.Store(false)
	hub.Publish("conversation.c1", gateway.Event{Type: "message.created", Data: json.RawMessage(`{"n":2}`)})
	assert.True(t, r.wait(t))

	out := r.out.String()
	assert.NotContains(t, out, `{"n":2}`)
	assert.Contains(t, out, "event: revoked\ndata: {\"channel\":\"conversation.c1\"}\n\n")
}

// An agent streaming a conversation loses the stream when the conversation
// moves to another agent, before any later message reaches it.
func TestStreamClosesWhenAgentIsReplaced(t *testing.T) {
	env := testenv.New(t, testenv.Options{StartWorkers: true})
	ctx := context.Background()
	conv := env.Conversation(t, "b1", "s1", "")
	a1, a2 := "a1", "a2"
	_, err := env.Registry.AssignAgent(ctx, conv.ID, &a1)
	require.NoError(t, err)

	ch := models.ConversationChannel(conv.ID).String()
	sub := env.Hub.Subscribe(ch)
	r := startPump(sub, streamOptions{
		heartbeat: time.Hour,
		admit:     func() (bool, error) { return env.Gateway.CanSubscribe(ctx, "a1", ch) },
	})

	env.Text(t, conv.ID, "b1", "before the handover")
	require.Eventually(t, func() bool { return strings.Contains(r.out.String(), "before the handover") }, 2*time.Second, 5*time.Millisecond)

	_, err = env.Registry.AssignAgent(ctx, conv.ID, &a2)
	require.NoError(t, err)
	assert.True(t, r.wait(t), "reassignment must end the replaced agent's stream")

	env.Text(t, conv.ID, "b1", "private terms for a2 only")
	time.Sleep(50 * time.Millisecond)
	assert.NotContains(t, r.out.String(), "private terms for a2 only")
	assert.Equal(t, 0, env.Hub.Subscribers(ch))
}
