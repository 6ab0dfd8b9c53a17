// Package bridge carries structured records between a debug session and its
// visualization host over a single reliable, ordered channel. The package
// provides the channel contract, an in-memory loopback, and a TCP transport
// pair built on rpc2.
package bridge

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"
)

const (
	// Addr is the default address of a panel host.
	Addr = "localhost:7331"
	// EnvAddr overrides the panel host address. "1" expands to Addr.
	EnvAddr = "CKPT_BRIDGE_ADDR"
	// EnvLog enables bridge logging when non-empty.
	EnvLog = "CKPT_LOG"
)

// sentinel errors

var (
	ErrNetwork        = errors.New("network error")
	ErrNetworkTimeout = errors.New("network timeout")
	ErrClosed         = errors.New("bridge closed")
	ErrNoSession      = errors.New("no such session")
)

// Listener receives every record from the process-wide inbound stream.
// Registration and removal are explicit; identity is the pointer.
type Listener func(sessionId string, raw json.RawMessage)

// Bridge is the message channel between a session and the host.
type Bridge interface {
	// SendMessage requests a UI-side action on behalf of a session.
	SendMessage(sessionId string, payload any) error
	// FireEvent notifies the host, one-way.
	FireEvent(sessionId string, payload any) error
	// AddListener attaches to the inbound stream.
	AddListener(l *Listener)
	// RemoveListener detaches from the inbound stream.
	RemoveListener(l *Listener)
}

// ResolveAddr expands the env override, like the CLI flags do.
func ResolveAddr(addr string) string {
	if addr == "" {
		addr = os.Getenv(EnvAddr)
	}
	if addr == "" || addr == "1" {
		addr = Addr
	}

	return addr
}

// ///// ///// /////

// ///// LISTENERS

// ///// ///// /////

// listeners is the shared inbound-stream fan-out.
type listeners struct {
	mx   sync.Mutex
	list []*Listener
}

func (l *listeners) AddListener(p *Listener) {
	l.mx.Lock()
	defer l.mx.Unlock()

	for _, el := range l.list {
		if el == p {
			return
		}
	}
	l.list = append(l.list, p)
}

func (l *listeners) RemoveListener(p *Listener) {
	l.mx.Lock()
	defer l.mx.Unlock()

	for i, el := range l.list {
		if el == p {
			l.list = append(l.list[:i], l.list[i+1:]...)
			return
		}
	}
}

// deliver fans a record out to every listener. A failing listener can't take
// the stream down with it.
func (l *listeners) deliver(sessionId string, raw json.RawMessage) {
	l.mx.Lock()
	list := make([]*Listener, len(l.list))
	copy(list, l.list)
	l.mx.Unlock()

	for _, el := range list {
		func() {
			defer func() {
				if r := recover(); r != nil && os.Getenv(EnvLog) != "" {
					log.Printf("%s: listener panic: %v", sessionId, r)
				}
			}()
			(*el)(sessionId, raw)
		}()
	}
}
