package bridge

import (
	"encoding/json"
	"sync"
)

// Sent is one outbound record captured by a Loopback.
type Sent struct {
	SessionId string
	Payload   json.RawMessage
}

// Decode unmarshals the captured payload.
func (s Sent) Decode(v any) error {
	return json.Unmarshal(s.Payload, v)
}

// Loopback is an in-memory Bridge for tests and single-process embedding.
// Outbound traffic is recorded, inbound records are injected via Deliver.
type Loopback struct {
	listeners

	outMx  sync.Mutex
	msgs   []Sent
	events []Sent
}

func NewLoopback() *Loopback {
	return &Loopback{}
}

func (b *Loopback) SendMessage(sessionId string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.outMx.Lock()
	defer b.outMx.Unlock()
	b.msgs = append(b.msgs, Sent{SessionId: sessionId, Payload: raw})

	return nil
}

func (b *Loopback) FireEvent(sessionId string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.outMx.Lock()
	defer b.outMx.Unlock()
	b.events = append(b.events, Sent{SessionId: sessionId, Payload: raw})

	return nil
}

// Deliver plays a host-side record into the inbound stream.
func (b *Loopback) Deliver(sessionId string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.deliver(sessionId, raw)

	return nil
}

// Messages returns the captured sendMessage records, in order.
func (b *Loopback) Messages() []Sent {
	b.outMx.Lock()
	defer b.outMx.Unlock()

	out := make([]Sent, len(b.msgs))
	copy(out, b.msgs)

	return out
}

// Events returns the captured fireEvent records, in order.
func (b *Loopback) Events() []Sent {
	b.outMx.Lock()
	defer b.outMx.Unlock()

	out := make([]Sent, len(b.events))
	copy(out, b.events)

	return out
}

var _ Bridge = &Loopback{}
