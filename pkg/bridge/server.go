package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"

	"github.com/cenkalti/rpc2"
	"github.com/soheilhy/cmux"
	"golang.org/x/sync/errgroup"
)

// HandlerFn consumes one outbound record on the host side.
type HandlerFn func(sessionId string, raw json.RawMessage)

// Server is the host side of the bridge. It accepts session connections,
// hands their messages and events to the host callbacks, and pushes inbound
// records back to the connection a session arrived on.
type Server struct {
	Addr string
	// OnMessage receives sendMessage records.
	OnMessage HandlerFn
	// OnEvent receives fireEvent records.
	OnEvent    HandlerFn
	LogEnabled bool

	mx       sync.Mutex
	sessions map[string]*rpc2.Client
	lis      net.Listener
	srv      *rpc2.Server
	g        *errgroup.Group
}

func NewServer(addr string, onMessage, onEvent HandlerFn) *Server {
	return &Server{
		Addr:       ResolveAddr(addr),
		OnMessage:  onMessage,
		OnEvent:    onEvent,
		LogEnabled: os.Getenv(EnvLog) != "",
		sessions:   map[string]*rpc2.Client{},
	}
}

// Start listens and serves in the background. Use Wait to block.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	s.lis = lis
	s.log("bridge server started at %s", lis.Addr())

	s.srv = rpc2.NewServer()
	s.srv.Handle(methodSendMessage,
		func(client *rpc2.Client, env *Envelope, _ *Empty) error {
			s.track(env.SessionId, client)
			if s.OnMessage != nil {
				s.OnMessage(env.SessionId, env.Payload)
			}

			return nil
		})
	s.srv.Handle(methodFireEvent,
		func(client *rpc2.Client, env *Envelope, _ *Empty) error {
			s.track(env.SessionId, client)
			if s.OnEvent != nil {
				s.OnEvent(env.SessionId, env.Payload)
			}

			return nil
		})
	s.srv.OnDisconnect(func(client *rpc2.Client) {
		s.untrack(client)
	})

	// mux the listener, rpc first
	m := cmux.New(lis)
	rpcL := m.Match(cmux.Any())

	g, ctx := errgroup.WithContext(ctx)
	s.g = g
	g.Go(func() error {
		err := m.Serve()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}

		return nil
	})
	g.Go(func() error {
		s.srv.Accept(rpcL)

		return nil
	})
	g.Go(func() error {
		<-ctx.Done()

		return lis.Close()
	})

	return nil
}

// Wait blocks until the server winds down.
func (s *Server) Wait() error {
	if s.g == nil {
		return nil
	}

	return s.g.Wait()
}

// ListenAddr returns the bound address, useful with ":0".
func (s *Server) ListenAddr() net.Addr {
	return s.lis.Addr()
}

// Deliver pushes an inbound record to the session's connection.
func (s *Server) Deliver(sessionId string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	s.mx.Lock()
	client, ok := s.sessions[sessionId]
	s.mx.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, sessionId)
	}

	if err := client.Notify(methodDeliver,
		&Envelope{SessionId: sessionId, Payload: raw}); err != nil {

		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	return nil
}

// track remembers which connection a session talks on. Re-tracking on every
// record keeps the map fresh across reconnects.
func (s *Server) track(sessionId string, client *rpc2.Client) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.sessions[sessionId] = client
}

func (s *Server) untrack(client *rpc2.Client) {
	s.mx.Lock()
	defer s.mx.Unlock()

	for id, c := range s.sessions {
		if c == client {
			delete(s.sessions, id)
		}
	}
}

func (s *Server) log(msg string, args ...any) {
	if !s.LogEnabled {
		return
	}
	log.Printf(msg, args...)
}
