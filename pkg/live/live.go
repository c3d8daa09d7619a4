// Package live defines the Transport interface for hosted real-time speech
// models.
//
// A Transport opens a persistent, bidirectional connection ([Conn]) that
// accepts microphone audio as [audio.Blob]s and delivers the model's reply as
// a stream of [Event]s. Raw protocol messages never leave the implementation:
// every inbound message is validated and mapped to one of the closed set of
// event kinds at the boundary.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/healthguide/pkg/audio"
)

var (
	// ErrClosed is returned by [Conn.Send] after the connection has been closed.
	ErrClosed = errors.New("live: connection closed")

	// ErrQueueFull is returned by [Conn.Send] when the outbound queue is full
	// and the frame was dropped.
	ErrQueueFull = errors.New("live: send queue full")
)

// Config is the per-connection configuration sent during setup.
type Config struct {
	// Model overrides the transport's default model when non-empty.
	Model string

	// Voice is the prebuilt voice name the model speaks with.
	Voice string

	// Instructions is the system prompt for the session.
	Instructions string
}

// EventType classifies an inbound [Event].
type EventType int

const (
	// EventAudio carries a chunk of model speech (16-bit PCM, 24 kHz mono).
	EventAudio EventType = iota

	// EventInterrupted signals that the user barged in and all pending model
	// audio must be discarded.
	EventInterrupted

	// EventOther covers every message with no playback effect: setup
	// acknowledgement, turn completion, transcripts.
	EventOther

	// EventDisconnected is terminal. Err is nil for a clean remote close.
	EventDisconnected
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventAudio:
		return "AUDIO"
	case EventInterrupted:
		return "INTERRUPTED"
	case EventOther:
		return "OTHER"
	case EventDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Event is one inbound message from the model.
type Event struct {
	Type EventType

	// Audio is set for EventAudio.
	Audio audio.Blob

	// Detail names the message kind for EventOther (for example
	// "turnComplete") and is informational only.
	Detail string

	// Err is the cause of an EventDisconnected; nil means a clean close.
	Err error
}

// ConnectionError reports a failure to open a connection: the endpoint was
// unreachable, refused the upgrade, or rejected the setup message.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("live: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Conn is an open live session.
type Conn interface {
	// Send enqueues one audio chunk for the model. It never blocks: frames are
	// written in enqueue order by a single writer, a full queue drops the frame
	// with [ErrQueueFull], and a closed connection returns [ErrClosed].
	Send(blob audio.Blob) error

	// Events returns the inbound event stream. Audio events of one message
	// arrive before its Interrupted event. The channel is closed after the
	// EventDisconnected event, or without one when Close was called locally.
	Events() <-chan Event

	// Close terminates the connection and releases all resources. Idempotent.
	Close() error
}

// Transport opens live connections.
type Transport interface {
	// Open dials the service and completes the setup handshake. Cancelling ctx
	// aborts an in-flight Open. Failures are returned as *[ConnectionError].
	Open(ctx context.Context, cfg Config) (Conn, error)
}
