package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/cenkalti/rpc2"
)

// rpc method names, shared by Client and Server.
const (
	methodSendMessage = "Host.SendMessage"
	methodFireEvent   = "Host.FireEvent"
	methodDeliver     = "Client.Deliver"
)

// Envelope frames a payload with its session on the wire.
type Envelope struct {
	SessionId string
	Payload   json.RawMessage
}

// Empty is a placeholder rpc reply.
type Empty struct{}

// Client is an rpc2-backed Bridge connected to a panel host. The host pushes
// inbound records through the Client.Deliver handler, which fans them out to
// the registered listeners.
type Client struct {
	listeners

	Addr        string
	CallTimeout time.Duration
	LogEnabled  bool

	rpc  *rpc2.Client
	conn net.Conn
}

func NewClient(addr string) *Client {
	return &Client{
		Addr:        ResolveAddr(addr),
		CallTimeout: 3 * time.Second,
		LogEnabled:  os.Getenv(EnvLog) != "",
	}
}

// Start dials the host and begins serving the inbound stream. Returns after
// the connection is up; the stream is pumped by a background goroutine until
// Stop or a disconnect.
func (c *Client) Start(ctx context.Context) error {
	d := net.Dialer{Timeout: c.CallTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	c.conn = conn

	c.rpc = rpc2.NewClient(conn)
	c.rpc.Handle(methodDeliver,
		func(_ *rpc2.Client, env *Envelope, _ *Empty) error {
			c.log("deliver %s: %d bytes", env.SessionId, len(env.Payload))
			c.deliver(env.SessionId, env.Payload)

			return nil
		})
	go c.rpc.Run()

	return nil
}

// Stop closes the connection. Listeners stay registered but go silent.
func (c *Client) Stop() error {
	if c.rpc == nil {
		return nil
	}
	_ = c.rpc.Close()

	return c.conn.Close()
}

// DisconnectNotify resolves when the host drops the connection.
func (c *Client) DisconnectNotify() <-chan struct{} {
	return c.rpc.DisconnectNotify()
}

func (c *Client) SendMessage(sessionId string, payload any) error {
	env, err := c.envelope(sessionId, payload)
	if err != nil {
		return err
	}

	return c.call(methodSendMessage, env)
}

// FireEvent is a one-way notification, no reply is awaited.
func (c *Client) FireEvent(sessionId string, payload any) error {
	env, err := c.envelope(sessionId, payload)
	if err != nil {
		return err
	}
	if c.rpc == nil {
		return ErrClosed
	}

	if err := c.rpc.Notify(methodFireEvent, env); err != nil {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	return nil
}

func (c *Client) envelope(sessionId string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Envelope{SessionId: sessionId, Payload: raw}, nil
}

func (c *Client) call(method string, env *Envelope) error {
	if c.rpc == nil {
		return ErrClosed
	}

	call := c.rpc.Go(method, env, &Empty{}, make(chan *rpc2.Call, 1))
	select {
	case <-time.After(c.CallTimeout):
		return fmt.Errorf("%w: %s", ErrNetworkTimeout, method)

	case done := <-call.Done:
		if done.Error != nil {
			return fmt.Errorf("%w: %s: %w", ErrNetwork, method, done.Error)
		}
	}

	return nil
}

func (c *Client) log(msg string, args ...any) {
	if !c.LogEnabled {
		return
	}
	log.Printf(msg, args...)
}

var _ Bridge = &Client{}
