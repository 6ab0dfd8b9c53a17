package session

import (
	"fmt"
	"strings"
	"sync"
)

// Result collects the outcome of a debugger console command, standing in for
// the host's command result object. Errors land here, not in the bridge.
type Result struct {
	mx    sync.Mutex
	lines []string
	err   error
}

func (r *Result) AppendMessage(msg string) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.lines = append(r.lines, msg)
}

func (r *Result) SetError(err error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.err = err
}

func (r *Result) Err() error {
	r.mx.Lock()
	defer r.mx.Unlock()

	return r.err
}

func (r *Result) Succeeded() bool {
	return r.Err() == nil
}

func (r *Result) Output() string {
	r.mx.Lock()
	defer r.mx.Unlock()

	return strings.Join(r.lines, "\n")
}

// WatchPageCommand implements `watch_page <address>`. Malformed invocations
// report a usage error to the result and perform no bridge action.
func WatchPageCommand(s *Session, result *Result, args []string) {
	addr, err := s.WatchPage(args)
	if err != nil {
		result.SetError(err)
		return
	}

	result.AppendMessage(fmt.Sprintf("Added watch on address 0x%X", addr))
}

// GetCheckpointsCommand implements `get_checkpoints`. Takes no arguments and
// triggers the non-blocking checkpoint request flow.
func GetCheckpointsCommand(s *Session, result *Result, args []string) {
	if len(args) != 0 {
		result.SetError(fmt.Errorf("%w: get_checkpoints", ErrUsage))
		return
	}

	if err := s.GetCheckpoints(); err != nil {
		result.SetError(err)
		return
	}

	result.AppendMessage("Requested checkpoints")
}
