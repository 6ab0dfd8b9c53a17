package session

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewatch/checkpoints/pkg/bridge"
	"github.com/pagewatch/checkpoints/pkg/protocol"
	"github.com/pagewatch/checkpoints/pkg/store"
)

type evalStub struct {
	vals map[string]uint64
}

func (e evalStub) EvaluateUnsigned(expr string) (uint64, error) {
	v, ok := e.vals[expr]
	if !ok {
		return 0, errors.New("unresolved symbol")
	}

	return v, nil
}

func newTest(opts *Opts) (*Session, *bridge.Loopback) {
	b := bridge.NewLoopback()
	s := New("s1", b, evalStub{vals: map[string]uint64{
		"0x7fff1234": 0x7fff1234,
		"&buf":       0x401000,
	}}, opts)

	return s, b
}

func sample() []protocol.CheckpointRecord {
	return []protocol.CheckpointRecord{{
		LastAccess: 0x1000,
		Frames: []protocol.Frame{{
			Module:      "a.out",
			FileAddress: 0x10,
			LoadAddress: 0x401010,
		}},
	}}
}

// ///// ///// /////

// ///// WATCH ADAPTER

// ///// ///// /////

func TestWatchPage(t *testing.T) {
	s, b := newTest(nil)

	addr, err := s.WatchPage([]string{"0x7fff1234"})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7fff1234), addr)

	// exactly one event, no correlation state
	events := b.Events()
	require.Len(t, events, 1)
	ev := &protocol.WatchCommand{}
	require.NoError(t, events[0].Decode(ev))
	assert.Equal(t, protocol.EvWatchCommand, ev.Type)
	assert.Equal(t, uint64(0x7fff1234), ev.Address)

	assert.Equal(t, 0, s.Registry.Len(), "fire-and-forget")
	assert.Empty(t, b.Messages())
}

func TestWatchPageUsage(t *testing.T) {
	s, b := newTest(nil)

	_, err := s.WatchPage([]string{"0x1000", "0x2000"})
	assert.ErrorIs(t, err, ErrUsage)

	_, err = s.WatchPage(nil)
	assert.ErrorIs(t, err, ErrUsage)

	assert.Empty(t, b.Events(), "no bridge action on usage errors")
}

func TestWatchPageEvalFailure(t *testing.T) {
	s, b := newTest(nil)

	_, err := s.WatchPage([]string{"&missing"})
	assert.ErrorIs(t, err, ErrEval)
	assert.Empty(t, b.Events(), "no bridge action on eval failures")
}

// ///// ///// /////

// ///// CHECKPOINT FLOW

// ///// ///// /////

func TestGetCheckpointsFlow(t *testing.T) {
	s, b := newTest(nil)

	// request
	require.NoError(t, s.GetCheckpoints())
	events := b.Events()
	require.Len(t, events, 1)
	ev := &protocol.GetCheckpoints{}
	require.NoError(t, events[0].Decode(ev))
	assert.Equal(t, protocol.EvGetCheckpoints, ev.Type)
	assert.Equal(t, 1, s.Registry.Len(), "one registration in flight")

	// response
	require.NoError(t, b.Deliver("s1", &protocol.CheckpointsResponse{
		Checkpoints: sample(),
	}))

	// dispatched exactly once, forwarded to the panel
	assert.Equal(t, 0, s.Registry.Len())
	msgs := b.Messages()
	require.Len(t, msgs, 2, "panel created, data posted")
	post := &protocol.WebviewPostMessage{}
	require.NoError(t, msgs[1].Decode(post))
	assert.Equal(t, sample(), post.Inner.Json)

	// a duplicate response is a no-op
	require.NoError(t, b.Deliver("s1", &protocol.CheckpointsResponse{
		Checkpoints: sample(),
	}))
	assert.Len(t, b.Messages(), 2, "no 2nd post")
}

func TestGetCheckpointsReissue(t *testing.T) {
	s, b := newTest(nil)

	// a lost request followed by a retry
	require.NoError(t, s.GetCheckpoints())
	require.NoError(t, s.GetCheckpoints())
	assert.Equal(t, 1, s.Registry.Len(), "stale registration cancelled")

	require.NoError(t, b.Deliver("s1", &protocol.CheckpointsResponse{
		Checkpoints: sample(),
	}))
	assert.Equal(t, 0, s.Registry.Len())
	assert.Len(t, b.Messages(), 2)
}

func TestResponseForOtherSession(t *testing.T) {
	s, b := newTest(nil)

	require.NoError(t, s.GetCheckpoints())
	require.NoError(t, b.Deliver("s2", &protocol.CheckpointsResponse{
		Checkpoints: sample(),
	}))

	assert.Equal(t, 1, s.Registry.Len(), "still waiting")
	assert.Empty(t, b.Messages())
}

func TestMalformedResponse(t *testing.T) {
	s, b := newTest(nil)

	require.NoError(t, s.GetCheckpoints())

	// neither a checkpoints record nor a disposal
	require.NoError(t, b.Deliver("s1", map[string]any{"noise": true}))
	assert.Equal(t, 1, s.Registry.Len())
	assert.Empty(t, b.Messages())
}

func TestDispose(t *testing.T) {
	s, b := newTest(nil)

	require.NoError(t, s.GetCheckpoints())
	s.Dispose()
	assert.Equal(t, 0, s.Registry.Len(), "pending registration dropped")

	// a response after teardown is ignored
	require.NoError(t, b.Deliver("s1", &protocol.CheckpointsResponse{
		Checkpoints: sample(),
	}))
	assert.Empty(t, b.Messages())

	assert.ErrorIs(t, s.GetCheckpoints(), ErrDisposed)
}

// ///// ///// /////

// ///// EVENTS & COMMANDS

// ///// ///// /////

func TestConsoleMessage(t *testing.T) {
	s, b := newTest(nil)

	require.NoError(t, s.ConsoleMessage("hello", ""))

	events := b.Events()
	require.Len(t, events, 1)
	ev := &protocol.DebuggerMessage{}
	require.NoError(t, events[0].Decode(ev))
	assert.Equal(t, protocol.EvDebuggerMessage, ev.Type)
	assert.Equal(t, "hello", ev.Output)
	assert.Equal(t, "console", ev.Category, "default category")
}

func TestGetCheckpointByAccess(t *testing.T) {
	s, b := newTest(nil)

	require.NoError(t, s.GetCheckpointByAccess(0x2000))

	events := b.Events()
	require.Len(t, events, 1)
	ev := &protocol.GetCheckpointByAccess{}
	require.NoError(t, events[0].Decode(ev))
	assert.Equal(t, protocol.EvGetCheckpointByAccess, ev.Type)
	assert.Equal(t, uint64(0x2000), ev.LastAccess)
}

func TestWatchPageCommand(t *testing.T) {
	s, b := newTest(nil)

	result := &Result{}
	WatchPageCommand(s, result, []string{"&buf"})
	assert.True(t, result.Succeeded())
	assert.Contains(t, result.Output(), "0x401000")
	assert.Len(t, b.Events(), 1)

	// usage error lands in the result, not the bridge
	result = &Result{}
	WatchPageCommand(s, result, []string{"a", "b"})
	assert.ErrorIs(t, result.Err(), ErrUsage)
	assert.Len(t, b.Events(), 1, "no new events")
}

func TestGetCheckpointsCommand(t *testing.T) {
	s, b := newTest(nil)

	result := &Result{}
	GetCheckpointsCommand(s, result, nil)
	assert.True(t, result.Succeeded())
	assert.Len(t, b.Events(), 1)

	result = &Result{}
	GetCheckpointsCommand(s, result, []string{"extra"})
	assert.ErrorIs(t, result.Err(), ErrUsage)
	assert.Len(t, b.Events(), 1)
}

// ///// ///// /////

// ///// STORE WRITE-THROUGH

// ///// ///// /////

func TestStoreWriteThrough(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "ckpt.db"))
	require.NoError(t, err)
	defer db.Close()

	s, b := newTest(&Opts{Store: db})

	// watch persists
	_, err = s.WatchPage([]string{"0x7fff1234"})
	require.NoError(t, err)
	pages, err := db.WatchPages("s1")
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x7fff1234}, pages)

	// response persists
	require.NoError(t, s.GetCheckpoints())
	require.NoError(t, b.Deliver("s1", &protocol.CheckpointsResponse{
		Checkpoints: sample(),
	}))
	recs, err := db.Checkpoints("s1")
	require.NoError(t, err)
	assert.Equal(t, sample(), recs)
}
