// Package store persists the watched pages and the last received checkpoint
// list of each session in a bbolt K/V database.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/pagewatch/checkpoints/pkg/protocol"
)

const (
	BuckWatches     = "watch_pages"
	BuckCheckpoints = "checkpoints"

	// PageSize is the assumed page granularity of watches.
	PageSize = 0x1000
)

// PageOf masks an address down to its page start.
func PageOf(addr uint64) uint64 {
	return addr &^ (PageSize - 1)
}

// Store is a per-process checkpoint database, keyed by session id. Safe for
// concurrent use.
type Store struct {
	Db *bbolt.DB

	mx sync.Mutex
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o666, &bbolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	err = db.Update(func(dbTx *bbolt.Tx) error {
		for _, name := range []string{BuckWatches, BuckCheckpoints} {
			if _, err := dbTx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init store: %w", err)
	}

	return &Store{Db: db}, nil
}

func (s *Store) Close() error {
	return s.Db.Close()
}

// AddWatchPage records a watched address for a session. Duplicates collapse.
func (s *Store) AddWatchPage(sessionId string, addr uint64) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	pages, err := s.watchPages(sessionId)
	if err != nil {
		return err
	}
	pages = lo.Uniq(append(pages, addr))

	return s.put(BuckWatches, sessionId, pages)
}

// WatchPages returns the watched addresses of a session, in insert order.
func (s *Store) WatchPages(sessionId string) ([]uint64, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	return s.watchPages(sessionId)
}

// IsWatched reports whether addr falls into any watched page.
func (s *Store) IsWatched(sessionId string, addr uint64) (bool, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	pages, err := s.watchPages(sessionId)
	if err != nil {
		return false, err
	}

	return lo.ContainsBy(pages, func(page uint64) bool {
		start := PageOf(page)

		return addr >= start && addr < start+PageSize
	}), nil
}

// SaveCheckpoints replaces the session's checkpoint list with the latest
// response.
func (s *Store) SaveCheckpoints(
	sessionId string, recs []protocol.CheckpointRecord,
) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	return s.put(BuckCheckpoints, sessionId, recs)
}

// Checkpoints returns the last saved checkpoint list of a session.
func (s *Store) Checkpoints(
	sessionId string,
) ([]protocol.CheckpointRecord, error) {
	var recs []protocol.CheckpointRecord
	err := s.get(BuckCheckpoints, sessionId, &recs)

	return recs, err
}

// ///// ///// /////

// ///// INTERNALS

// ///// ///// /////

func (s *Store) watchPages(sessionId string) ([]uint64, error) {
	var pages []uint64
	err := s.get(BuckWatches, sessionId, &pages)

	return pages, err
}

func (s *Store) put(bucket, sessionId string, v any) error {
	enc, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}

	return s.Db.Update(func(dbTx *bbolt.Tx) error {
		return dbTx.Bucket([]byte(bucket)).Put([]byte(sessionId), enc)
	})
}

func (s *Store) get(bucket, sessionId string, v any) error {
	return s.Db.View(func(dbTx *bbolt.Tx) error {
		enc := dbTx.Bucket([]byte(bucket)).Get([]byte(sessionId))
		if enc == nil {
			return nil
		}

		return msgpack.Unmarshal(enc, v)
	})
}
