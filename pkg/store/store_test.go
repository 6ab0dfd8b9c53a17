package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewatch/checkpoints/pkg/protocol"
)

func newTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ckpt.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

func TestWatchPages(t *testing.T) {
	s := newTest(t)

	require.NoError(t, s.AddWatchPage("s1", 0x401000))
	require.NoError(t, s.AddWatchPage("s1", 0x7fff1234))
	// duplicates collapse
	require.NoError(t, s.AddWatchPage("s1", 0x401000))

	pages, err := s.WatchPages("s1")
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x401000, 0x7fff1234}, pages)

	// sessions are isolated
	pages, err = s.WatchPages("s2")
	require.NoError(t, err)
	assert.Empty(t, pages)
}

func TestIsWatched(t *testing.T) {
	s := newTest(t)

	require.NoError(t, s.AddWatchPage("s1", 0x401234))

	// anywhere within the 4 KiB page
	for _, addr := range []uint64{0x401000, 0x401234, 0x401fff} {
		ok, err := s.IsWatched("s1", addr)
		require.NoError(t, err)
		assert.True(t, ok, "0x%x", addr)
	}

	// outside the page
	for _, addr := range []uint64{0x400fff, 0x402000, 0} {
		ok, err := s.IsWatched("s1", addr)
		require.NoError(t, err)
		assert.False(t, ok, "0x%x", addr)
	}
}

func TestPageOf(t *testing.T) {
	assert.Equal(t, uint64(0x401000), PageOf(0x401234))
	assert.Equal(t, uint64(0x401000), PageOf(0x401000))
	assert.Equal(t, uint64(0), PageOf(0xfff))
}

func TestCheckpoints(t *testing.T) {
	s := newTest(t)

	recs := []protocol.CheckpointRecord{{
		LastAccess: 0x1000,
		Frames: []protocol.Frame{{
			Module:      "a.out",
			FileAddress: 0x10,
			LoadAddress: 0x401010,
		}},
	}}
	require.NoError(t, s.SaveCheckpoints("s1", recs))

	got, err := s.Checkpoints("s1")
	require.NoError(t, err)
	assert.Equal(t, recs, got)

	// the latest response replaces the previous one
	require.NoError(t, s.SaveCheckpoints("s1", recs[:0]))
	got, err = s.Checkpoints("s1")
	require.NoError(t, err)
	assert.Empty(t, got)

	// unknown session
	got, err = s.Checkpoints("ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}
