package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	sessionId string
	raw       json.RawMessage
}

func newTestPair(t *testing.T) (*Client, *Server, chan received, chan received) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	msgs := make(chan received, 10)
	events := make(chan received, 10)
	srv := NewServer("localhost:0",
		func(sessionId string, raw json.RawMessage) {
			msgs <- received{sessionId, raw}
		},
		func(sessionId string, raw json.RawMessage) {
			events <- received{sessionId, raw}
		})
	require.NoError(t, srv.Start(ctx))

	c := NewClient(srv.ListenAddr().String())
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() {
		_ = c.Stop()
	})

	return c, srv, msgs, events
}

func recv(t *testing.T, ch chan received) received {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for a record")
		return received{}
	}
}

func TestRpcSendMessage(t *testing.T) {
	c, _, msgs, _ := newTestPair(t)

	require.NoError(t, c.SendMessage("s1", map[string]any{"message": "m"}))

	got := recv(t, msgs)
	assert.Equal(t, "s1", got.sessionId)
	assert.JSONEq(t, `{"message": "m"}`, string(got.raw))
}

func TestRpcFireEvent(t *testing.T) {
	c, _, _, events := newTestPair(t)

	require.NoError(t, c.FireEvent("s1", map[string]any{"type": "e"}))

	got := recv(t, events)
	assert.Equal(t, "s1", got.sessionId)
	assert.JSONEq(t, `{"type": "e"}`, string(got.raw))
}

func TestRpcDeliver(t *testing.T) {
	c, srv, msgs, _ := newTestPair(t)

	inbound := make(chan received, 10)
	l := Listener(func(sessionId string, raw json.RawMessage) {
		inbound <- received{sessionId, raw}
	})
	c.AddListener(&l)

	// a sync call first, so the server knows the session's connection
	require.NoError(t, c.SendMessage("s1", map[string]any{"message": "m"}))
	recv(t, msgs)

	require.NoError(t, srv.Deliver("s1", map[string]any{"checkpoints": []any{}}))
	got := recv(t, inbound)
	assert.Equal(t, "s1", got.sessionId)
	assert.JSONEq(t, `{"checkpoints": []}`, string(got.raw))
}

func TestRpcDeliverUnknownSession(t *testing.T) {
	_, srv, _, _ := newTestPair(t)

	err := srv.Deliver("ghost", map[string]any{})
	assert.ErrorIs(t, err, ErrNoSession)
}
