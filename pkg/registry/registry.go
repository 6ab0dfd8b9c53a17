// Package registry correlates asynchronously produced responses with their
// one-shot handlers. Ids are monotonic and never reused within a Registry.
package registry

import (
	"encoding/json"
	"log"
	"os"
	"sync"

	"github.com/pagewatch/checkpoints/pkg/bridge"
)

// Handler consumes one inbound record. The session id is passed explicitly,
// handlers don't capture it.
type Handler func(sessionId string, raw json.RawMessage)

type registration struct {
	sessionId string
	handler   Handler
}

// Registry maps correlation ids to one-shot handlers. Registrations are
// removed on dispatch or cancellation, never on failure inside a handler.
// Safe for concurrent use.
type Registry struct {
	mx     sync.Mutex
	nextId uint64
	regs   map[uint64]*registration
}

func New() *Registry {
	return &Registry{
		regs: map[uint64]*registration{},
	}
}

// Register stores a handler under the next unused id and returns the id.
// Never fails.
func (r *Registry) Register(sessionId string, h Handler) uint64 {
	r.mx.Lock()
	defer r.mx.Unlock()

	id := r.nextId
	r.nextId++
	r.regs[id] = &registration{sessionId: sessionId, handler: h}

	return id
}

// Dispatch invokes the handler registered under id exactly once and removes
// the registration. Unknown ids are a no-op - responses legitimately arrive
// after a cancel, a re-request, or the end of a session. Returns whether a
// handler ran.
func (r *Registry) Dispatch(id uint64, raw json.RawMessage) bool {
	r.mx.Lock()
	reg, ok := r.regs[id]
	if ok {
		delete(r.regs, id)
	}
	r.mx.Unlock()

	if !ok {
		return false
	}

	// a handler failure can't disrupt the shared listener stream
	defer func() {
		if p := recover(); p != nil && os.Getenv(bridge.EnvLog) != "" {
			log.Printf("%s: handler %d panic: %v", reg.sessionId, id, p)
		}
	}()
	reg.handler(reg.sessionId, raw)

	return true
}

// Cancel removes a registration without invoking it. Idempotent.
func (r *Registry) Cancel(id uint64) {
	r.mx.Lock()
	defer r.mx.Unlock()
	delete(r.regs, id)
}

// CancelSession removes every registration of a session, for teardown.
// Returns the number removed.
func (r *Registry) CancelSession(sessionId string) int {
	r.mx.Lock()
	defer r.mx.Unlock()

	count := 0
	for id, reg := range r.regs {
		if reg.sessionId == sessionId {
			delete(r.regs, id)
			count++
		}
	}

	return count
}

// Len returns the number of live registrations.
func (r *Registry) Len() int {
	r.mx.Lock()
	defer r.mx.Unlock()

	return len(r.regs)
}
