// Package session scopes the coordinator to a single debug session. It wires
// the callback registry, the panel controller, and the optional checkpoint
// store to the bridge, and exposes the user-facing operations.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/pagewatch/checkpoints/pkg/bridge"
	"github.com/pagewatch/checkpoints/pkg/panel"
	"github.com/pagewatch/checkpoints/pkg/protocol"
	"github.com/pagewatch/checkpoints/pkg/registry"
	"github.com/pagewatch/checkpoints/pkg/store"
)

// sentinel errors

var (
	ErrUsage    = errors.New("usage error")
	ErrEval     = errors.New("evaluation failed")
	ErrDisposed = errors.New("session disposed")
)

// Evaluator resolves a native expression to an unsigned value. External
// collaborator, typically backed by the debugger's expression engine.
type Evaluator interface {
	EvaluateUnsigned(expr string) (uint64, error)
}

// Opts are optional Session dependencies.
type Opts struct {
	// Panel overrides the panel rendering parameters.
	Panel *panel.Opts
	// Store enables durable write-through of watches and checkpoints.
	Store *store.Store
}

// Session identifies one active debug session. All operations are scoped to
// its id; the id itself is owned by the host environment.
type Session struct {
	Id       string
	Bridge   bridge.Bridge
	Registry *registry.Registry
	Panel    *panel.Controller
	Eval     Evaluator
	Store    *store.Store

	mx         sync.Mutex
	pendingId  uint64
	hasPending bool
	disposed   bool
	listener   *bridge.Listener
}

// New creates a Session and attaches it to the bridge's inbound stream.
func New(id string, b bridge.Bridge, eval Evaluator, opts *Opts) *Session {
	if opts == nil {
		opts = &Opts{}
	}
	pOpts := panel.DefaultOpts()
	if opts.Panel != nil {
		pOpts = *opts.Panel
	}

	s := &Session{
		Id:       id,
		Bridge:   b,
		Registry: registry.New(),
		Panel:    panel.New(b, id, pOpts),
		Eval:     eval,
		Store:    opts.Store,
	}

	l := bridge.Listener(s.route)
	s.listener = &l
	b.AddListener(s.listener)

	return s
}

// ///// ///// /////

// ///// OPERATIONS

// ///// ///// /////

// WatchPage resolves a single address argument and fires a one-way watch
// request. Returns the resolved address. No response is correlated - this
// path is fire-and-forget, unlike the checkpoint request flow.
func (s *Session) WatchPage(args []string) (uint64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%w: watch_page <address>", ErrUsage)
	}

	addr, err := s.Eval.EvaluateUnsigned(args[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrEval, args[0], err)
	}

	return addr, s.Watch(addr)
}

// Watch fires the watch request for an already-resolved address.
func (s *Session) Watch(addr uint64) error {
	if s.Store != nil {
		if err := s.Store.AddWatchPage(s.Id, addr); err != nil {
			s.log("%s: watch store failed: %s", s.Id, err)
		}
	}

	return s.Bridge.FireEvent(s.Id, &protocol.WatchCommand{
		Type:    protocol.EvWatchCommand,
		Address: addr,
	})
}

// GetCheckpoints registers a one-shot handler and fires the request event.
// Non-blocking; the response arrives through the inbound stream and lands in
// the panel. A still-pending earlier request is cancelled first - the
// response wouldn't be distinguishable from the new one.
func (s *Session) GetCheckpoints() error {
	s.mx.Lock()
	if s.disposed {
		s.mx.Unlock()
		return ErrDisposed
	}
	if s.hasPending {
		s.Registry.Cancel(s.pendingId)
	}

	id := s.Registry.Register(s.Id, s.onCheckpoints)
	s.pendingId = id
	s.hasPending = true
	s.mx.Unlock()

	err := s.Bridge.FireEvent(s.Id, &protocol.GetCheckpoints{
		Type: protocol.EvGetCheckpoints,
	})
	if err != nil {
		s.Registry.Cancel(id)
		s.clearPending(id)

		return err
	}

	return nil
}

// GetCheckpointByAccess asks for the checkpoint matching a single access
// address. Fire-and-forget.
func (s *Session) GetCheckpointByAccess(addr uint64) error {
	return s.Bridge.FireEvent(s.Id, &protocol.GetCheckpointByAccess{
		Type:       protocol.EvGetCheckpointByAccess,
		LastAccess: addr,
	})
}

// ConsoleMessage prints diagnostic output on the host console.
func (s *Session) ConsoleMessage(output, category string) error {
	if category == "" {
		category = "console"
	}

	return s.Bridge.FireEvent(s.Id, &protocol.DebuggerMessage{
		Type:     protocol.EvDebuggerMessage,
		Output:   output,
		Category: category,
	})
}

// Dispose detaches the session from the bridge and drops its pending
// registrations. The host keeps the session id; this only releases the
// coordinator's resources.
func (s *Session) Dispose() {
	s.mx.Lock()
	if s.disposed {
		s.mx.Unlock()
		return
	}
	s.disposed = true
	s.hasPending = false
	s.mx.Unlock()

	s.Bridge.RemoveListener(s.listener)
	s.Registry.CancelSession(s.Id)
}

// ///// ///// /////

// ///// INBOUND

// ///// ///// /////

// route is the session's bridge listener. Records for other sessions, and
// records correlating to no live registration, are silently skipped.
func (s *Session) route(sessionId string, raw json.RawMessage) {
	if sessionId != s.Id {
		return
	}

	msg, ok := protocol.DecodeInbound(raw)
	if !ok {
		return
	}

	if _, ok := msg.(*protocol.CheckpointsResponse); ok {
		s.mx.Lock()
		id, has := s.pendingId, s.hasPending
		s.mx.Unlock()
		if !has {
			return
		}

		if s.Registry.Dispatch(id, raw) {
			s.clearPending(id)
		}
	}
}

// onCheckpoints is the one-shot handler of the checkpoint request flow.
func (s *Session) onCheckpoints(sessionId string, raw json.RawMessage) {
	resp := &protocol.CheckpointsResponse{}
	if err := json.Unmarshal(raw, resp); err != nil {
		return
	}

	if s.Store != nil {
		if err := s.Store.SaveCheckpoints(sessionId, resp.Checkpoints); err != nil {
			s.log("%s: checkpoint store failed: %s", sessionId, err)
		}
	}

	if err := s.Panel.Update(resp.Checkpoints); err != nil {
		s.log("%s: panel update failed: %s", sessionId, err)
	}
}

func (s *Session) clearPending(id uint64) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.hasPending && s.pendingId == id {
		s.hasPending = false
	}
}

func (s *Session) log(msg string, args ...any) {
	if os.Getenv(bridge.EnvLog) == "" {
		return
	}
	log.Printf(msg, args...)
}
