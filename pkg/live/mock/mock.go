// Package mock provides test doubles for the live package interfaces.
//
// Use Transport to verify Open calls and hand out controlled connections.
// Use Conn to drive the inbound event stream and inspect what was sent.
//
// Example:
//
//	conn := mock.NewConn()
//	tr := &mock.Transport{Conn: conn}
//	c, _ := tr.Open(ctx, cfg)
//	conn.Emit(live.Event{Type: live.EventInterrupted})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/healthguide/pkg/audio"
	"github.com/MrWong99/healthguide/pkg/live"
)

var _ live.Transport = (*Transport)(nil)
var _ live.Conn = (*Conn)(nil)

// OpenCall records a single invocation of Transport.Open.
type OpenCall struct {
	// Ctx is the context passed to Open.
	Ctx context.Context
	// Cfg is the Config passed to Open.
	Cfg live.Config
}

// Transport is a mock implementation of live.Transport.
type Transport struct {
	mu sync.Mutex

	// Conn is returned by Open. If nil, Open returns a fresh NewConn().
	Conn *Conn

	// OpenErr, if non-nil, is returned as the error from Open.
	OpenErr error

	// Block, if non-nil, makes Open wait until it is closed or ctx is done.
	// A cancelled ctx makes Open fail with a *live.ConnectionError.
	Block chan struct{}

	// OpenCalls records every call to Open in order.
	OpenCalls []OpenCall
}

// Open records the call and returns Conn, OpenErr.
func (t *Transport) Open(ctx context.Context, cfg live.Config) (live.Conn, error) {
	t.mu.Lock()
	t.OpenCalls = append(t.OpenCalls, OpenCall{Ctx: ctx, Cfg: cfg})
	block := t.Block
	t.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &live.ConnectionError{Op: "dial", Err: ctx.Err()}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.OpenErr != nil {
		return nil, t.OpenErr
	}
	if t.Conn == nil {
		return NewConn(), nil
	}
	return t.Conn, nil
}

// Calls returns a copy of the recorded Open calls. Thread-safe.
func (t *Transport) Calls() []OpenCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]OpenCall(nil), t.OpenCalls...)
}

// Conn is a mock implementation of live.Conn. Create it with NewConn.
type Conn struct {
	mu sync.Mutex

	// SendErr, if non-nil, is returned from Send instead of recording.
	SendErr error

	sent       []audio.Blob
	closeCount int
	closed     bool
	events     chan live.Event
	done       chan struct{}
	sentCh     chan struct{}
}

// NewConn returns a Conn with a buffered event channel.
func NewConn() *Conn {
	return &Conn{
		events: make(chan live.Event, 64),
		done:   make(chan struct{}),
		sentCh: make(chan struct{}, 1),
	}
}

// Send records the blob. It returns live.ErrClosed after Close.
func (c *Conn) Send(blob audio.Blob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return live.ErrClosed
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, blob)
	select {
	case c.sentCh <- struct{}{}:
	default:
	}
	return nil
}

// Events returns the channel fed by Emit.
func (c *Conn) Events() <-chan live.Event { return c.events }

// Emit queues an inbound event. Emitting after Close is a no-op.
func (c *Conn) Emit(ev live.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

// Disconnect emits EventDisconnected with err and closes the event channel,
// as a real transport does when the server goes away.
func (c *Conn) Disconnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- live.Event{Type: live.EventDisconnected, Err: err}
	c.closed = true
	close(c.events)
	close(c.done)
}

// Close records the call and closes the event channel. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.events)
	close(c.done)
	return nil
}

// Sent returns a copy of every blob passed to Send. Thread-safe.
func (c *Conn) Sent() []audio.Blob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audio.Blob(nil), c.sent...)
}

// SentSignal receives a value after at least one Send since the last receive.
func (c *Conn) SentSignal() <-chan struct{} { return c.sentCh }

// CloseCount is the number of times Close was called.
func (c *Conn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

// Done is closed once the connection has been closed or disconnected.
func (c *Conn) Done() <-chan struct{} { return c.done }
