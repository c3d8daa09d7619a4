// Package capture turns microphone frames into outbound audio chunks.
//
// A [Pipeline] runs one goroutine that reads a frame from its [Source],
// reports the frame's loudness, encodes it and hands it to the transport.
// Sending is fire-and-forget: a refused frame is logged, counted and dropped.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/healthguide/internal/observe"
	"github.com/MrWong99/healthguide/pkg/audio"
	"github.com/MrWong99/healthguide/pkg/live"
)

// Source is an open microphone stream.
type Source = audio.Source

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithVolume registers a callback that receives the level of every frame, in
// [0, 1]. It is called from the pipeline goroutine.
func WithVolume(fn func(level float64)) Option {
	return func(p *Pipeline) { p.onVolume = fn }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// Pipeline streams frames from a Source to a send function.
type Pipeline struct {
	src      Source
	send     func(audio.Blob) error
	onVolume func(float64)
	logger   *slog.Logger
	metrics  *observe.Metrics

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a pipeline reading src and delivering encoded frames to send.
// The pipeline never closes src.
func New(src Source, send func(audio.Blob) error, opts ...Option) *Pipeline {
	p := &Pipeline{
		src:     src,
		send:    send,
		logger:  slog.Default(),
		metrics: observe.DefaultMetrics(),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start launches the pipeline goroutine. It fails if the pipeline was already
// started or stopped.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return fmt.Errorf("capture: pipeline already started")
	}
	p.started = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.run(ctx)
	return nil
}

// Stop cancels the pipeline and waits for its goroutine to exit. After Stop
// returns no further frame is sent and no volume callback fires. Idempotent;
// safe to call on a pipeline that was never started.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	started := p.started
	cancel := p.cancel
	p.mu.Unlock()

	if !started {
		return
	}
	cancel()
	<-p.done
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)

	for {
		frame, err := p.src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, audio.ErrSourceClosed) {
				p.logger.Warn("capture: read frame", "err", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		p.process(ctx, frame)
	}
}

func (p *Pipeline) process(ctx context.Context, frame audio.Frame) {
	if p.onVolume != nil {
		p.onVolume(audio.Level(frame))
	}

	err := p.send(audio.EncodeFrame(frame))
	switch {
	case err == nil:
		p.metrics.FramesSent.Add(ctx, 1)
	case errors.Is(err, live.ErrQueueFull):
		p.logger.Debug("capture: transport queue full, frame dropped")
		p.metrics.RecordFrameDropped(ctx, "queue_full")
	case errors.Is(err, live.ErrClosed):
		p.metrics.RecordFrameDropped(ctx, "closed")
	default:
		p.logger.Debug("capture: send frame", "err", err)
		p.metrics.RecordFrameDropped(ctx, "error")
	}
}
