// Package session runs live voice calls.
//
// A [Controller] owns at most one [Session] at a time. Starting a call
// acquires the microphone and speaker, opens the live transport and wires
// capture and playback together; the returned Session reports status changes
// and microphone levels through [Callbacks] until it is closed.
//
// Changing the voice is a full teardown followed by a fresh start: there is
// no in-place reconfiguration and no automatic reconnect.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/healthguide/internal/observe"
	"github.com/MrWong99/healthguide/pkg/audio"
	"github.com/MrWong99/healthguide/pkg/live"
)

// Option is a functional option for configuring a Controller.
type Option func(*Controller)

// WithInstructions overrides the system prompt. Defaults to
// [VoiceInstructions].
func WithInstructions(s string) Option {
	return func(c *Controller) {
		if s != "" {
			c.instructions = s
		}
	}
}

// WithModel overrides the transport's default model.
func WithModel(model string) Option {
	return func(c *Controller) { c.model = model }
}

// WithFrameSize sets the number of samples per captured frame. Defaults to
// [audio.DefaultFrameSize].
func WithFrameSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.frameSize = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// Controller starts and stops voice sessions. All methods are safe for
// concurrent use; concurrent starts are serialised and each one closes the
// session started before it.
type Controller struct {
	transport    live.Transport
	devices      audio.Devices
	instructions string
	model        string
	frameSize    int
	logger       *slog.Logger
	metrics      *observe.Metrics

	startMu sync.Mutex
	mu      sync.Mutex
	current *Session
	seq     atomic.Uint64
}

// NewController returns a controller that connects through transport and
// plays through devices.
func NewController(transport live.Transport, devices audio.Devices, opts ...Option) *Controller {
	c := &Controller{
		transport:    transport,
		devices:      devices,
		instructions: VoiceInstructions,
		frameSize:    audio.DefaultFrameSize,
		logger:       slog.Default(),
		metrics:      observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start closes the current session, if any, and starts a new call speaking
// with voice. An empty voice selects [DefaultVoice].
//
// Start never returns nil. If the microphone or speaker cannot be opened the
// returned session is already in [PhaseError] and has reported
// [StatusConnectionFailed]; the transport is opened asynchronously and its
// failure is reported the same way. Cancelling ctx stops the session's event
// loop; Close must still be called to release the devices.
func (c *Controller) Start(ctx context.Context, voice Voice, cb Callbacks) *Session {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	prev := c.current
	c.current = nil
	c.mu.Unlock()
	if prev != nil {
		if err := prev.Close(); err != nil {
			c.logger.Warn("close previous session", "session_id", prev.ID(), "err", err)
		}
	}

	if voice == "" {
		voice = DefaultVoice
	}
	s := newSession(c, fmt.Sprintf("call-%d", c.seq.Add(1)), voice, cb)
	s.logger.Info("starting session")
	s.start(ctx, c.devices)

	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
	return s
}

// Restart tears down the current session and starts a new one with voice.
// It is how the caller changes the voice of a running call.
func (c *Controller) Restart(ctx context.Context, voice Voice, cb Callbacks) *Session {
	return c.Start(ctx, voice, cb)
}

// SetInstructions replaces the system instruction used from the next Start
// on. An empty string restores [VoiceInstructions]. The running call keeps
// the instruction it was started with.
func (c *Controller) SetInstructions(s string) {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if s == "" {
		s = VoiceInstructions
	}
	c.instructions = s
}

// Current returns the most recently started session, or nil.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Close closes the current session. Idempotent.
func (c *Controller) Close() error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	s := c.current
	c.current = nil
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}
