package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/healthguide/internal/capture"
	"github.com/MrWong99/healthguide/internal/observe"
	"github.com/MrWong99/healthguide/internal/playback"
	"github.com/MrWong99/healthguide/pkg/audio"
	"github.com/MrWong99/healthguide/pkg/live"
)

// Callbacks receive a session's telemetry. Either field may be nil.
type Callbacks struct {
	// OnStatus is called once per phase change, from the session's event
	// loop or, for a device failure, synchronously inside Start.
	OnStatus func(Status)

	// OnVolume is called from the capture goroutine with the level of every
	// microphone frame, in [0, 1].
	OnVolume func(level float64)
}

// Session is one live voice call. It owns the microphone, the speaker, the
// playback graph and the transport connection until [Session.Close].
//
// A single event-loop goroutine performs every state transition: it opens
// the transport, schedules inbound audio, handles barge-in and receives
// end-of-playback notifications from the speaker through a task channel.
type Session struct {
	id        string
	voice     Voice
	cb        Callbacks
	cfg       live.Config
	frameSize int
	transport live.Transport
	logger    *slog.Logger
	metrics   *observe.Metrics

	cancel context.CancelFunc
	done   chan struct{}
	tasks  chan func()

	mu    sync.Mutex
	phase Phase
	err   error

	// Set before the loop starts or by the loop itself. Close touches them
	// only after done is closed.
	mic      audio.Source
	speaker  io.Closer
	graph    *playback.Graph
	conn     live.Conn
	pipeline *capture.Pipeline
	sched    *playback.Scheduler
	counted  bool

	closing     atomic.Bool
	closeOnce   sync.Once
	releaseOnce sync.Once
	releaseErr  error
}

func newSession(c *Controller, id string, voice Voice, cb Callbacks) *Session {
	return &Session{
		id:    id,
		voice: voice,
		cb:    cb,
		cfg: live.Config{
			Model:        c.model,
			Voice:        string(voice),
			Instructions: c.instructions,
		},
		frameSize: c.frameSize,
		transport: c.transport,
		logger:    c.logger.With("session_id", id, "voice", string(voice)),
		metrics:   c.metrics,
		cancel:    func() {},
		done:      make(chan struct{}),
		tasks:     make(chan func(), 16),
	}
}

// start acquires the sound devices and launches the event loop. A device
// failure leaves the session in PhaseError with every acquired device
// released.
func (s *Session) start(ctx context.Context, devices audio.Devices) {
	s.transition(PhaseConnecting, StatusConnecting)

	s.graph = playback.NewGraph(audio.PlaybackSampleRate)
	spk, err := devices.OpenSpeaker(audio.PlaybackSampleRate, s.graph.Render)
	if err != nil {
		s.fail(&PermissionError{Device: "speaker", Err: err})
		close(s.done)
		return
	}
	s.speaker = spk

	mic, err := devices.OpenMicrophone(audio.CaptureSampleRate, s.frameSize)
	if err != nil {
		s.fail(&PermissionError{Device: "microphone", Err: err})
		close(s.done)
		return
	}
	s.mic = mic

	s.metrics.ActiveSessions.Add(ctx, 1)
	s.counted = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(loopCtx)
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Voice returns the voice the session was started with.
func (s *Session) Voice() Voice { return s.voice }

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Err returns the cause of a failed or errored session: a *[PermissionError],
// a *[live.ConnectionError] or the transport's stream error. It is nil for a
// healthy or cleanly closed session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the event loop has stopped: after a setup failure, a
// remote disconnect, cancellation of the Start context, or Close.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close ends the call. It stops the event loop (aborting an in-flight
// connect), then closes the microphone, stops capture, silences and closes
// the speaker and finally closes the transport connection. No callback fires
// after Close returns. Close is idempotent and safe on a failed session.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.cancel()
		<-s.done
		s.release()

		s.mu.Lock()
		if s.phase != PhaseError {
			s.phase = PhaseClosed
		}
		s.mu.Unlock()
		s.logger.Info("session closed")
	})
	return s.releaseErr
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	conn, ok := s.connect(ctx)
	if !ok {
		if ctx.Err() != nil {
			s.abandon()
		}
		return
	}
	s.conn = conn
	s.transition(PhaseConnected, StatusConnected)

	s.sched = playback.NewScheduler(s.graph,
		playback.WithDispatch(s.post),
		playback.WithActivity(s.activity),
	)
	s.pipeline = capture.New(s.mic, conn.Send,
		capture.WithVolume(s.cb.OnVolume),
		capture.WithLogger(s.logger),
		capture.WithMetrics(s.metrics),
	)
	if err := s.pipeline.Start(); err != nil {
		s.logger.Error("start capture", "err", err)
	}
	s.transition(PhaseListening, StatusListening)

	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			s.abandon()
			return
		case fn := <-s.tasks:
			fn()
		case ev, ok := <-events:
			if !ok {
				s.disconnected(ctx, nil)
				return
			}
			if ev.Type == live.EventDisconnected {
				s.disconnected(ctx, ev.Err)
				return
			}
			s.handle(ctx, ev)
		}
	}
}

func (s *Session) connect(ctx context.Context) (live.Conn, bool) {
	ctx, span := observe.StartSpan(ctx, "session.connect",
		trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.String("session.voice", string(s.voice)),
		),
	)
	defer span.End()

	start := time.Now()
	conn, err := s.transport.Open(ctx, s.cfg)
	elapsed := time.Since(start).Seconds()

	if ctx.Err() != nil {
		// Closed while connecting.
		if conn != nil {
			_ = conn.Close()
		}
		return nil, false
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open transport")
		s.metrics.RecordSessionSetup(ctx, elapsed, "error")
		s.metrics.RecordTransportError(ctx, "open")

		var connErr *live.ConnectionError
		if !errors.As(err, &connErr) {
			err = &live.ConnectionError{Op: "open", Err: err}
		}
		s.fail(err)
		return nil, false
	}

	s.metrics.RecordSessionSetup(ctx, elapsed, "ok")
	observe.WithTrace(ctx, s.logger).Info("session connected", "setup_seconds", elapsed)
	return conn, true
}

func (s *Session) handle(ctx context.Context, ev live.Event) {
	switch ev.Type {
	case live.EventAudio:
		buf, err := audio.DecodeChunk(ev.Audio.Data, audio.PlaybackSampleRate, 1)
		if err != nil {
			s.logger.Warn("dropping undecodable audio chunk", "err", err)
			s.metrics.ChunksDropped.Add(ctx, 1)
			return
		}
		s.sched.Schedule(buf)
		s.metrics.ChunksScheduled.Add(ctx, 1)

	case live.EventInterrupted:
		n := s.sched.Interrupt()
		s.metrics.Interruptions.Add(ctx, 1)
		s.logger.Debug("playback interrupted", "stopped", n)

	default:
		s.logger.Debug("live event", "type", ev.Type.String(), "detail", ev.Detail)
	}
}

// disconnected handles the end of the stream. Devices and the connection stay
// open until the caller closes the session.
func (s *Session) disconnected(ctx context.Context, err error) {
	if err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.logger.Warn("live connection failed", "err", err)
		s.metrics.RecordTransportError(ctx, "stream")
		s.transition(PhaseError, StatusError)
	} else {
		s.logger.Info("live connection closed by service")
		s.transition(PhaseDisconnected, StatusDisconnected)
	}
	s.sched.Interrupt()
	s.pipeline.Stop()
}

// abandon ends the call when the Start context is cancelled: capture stops,
// playback is flushed and the connection is closed so the transport stops
// delivering events. Devices stay open until Close. It does nothing while
// Close is in progress, which releases everything in its own order.
func (s *Session) abandon() {
	if s.closing.Load() {
		return
	}
	if s.pipeline != nil {
		s.pipeline.Stop()
	}
	if s.sched != nil {
		s.sched.Interrupt()
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("close connection", "err", err)
		}
		s.conn = nil
	}
	s.logger.Info("call cancelled")
	s.transition(PhaseDisconnected, StatusDisconnected)
}

// fail records a setup failure, releases everything acquired so far and
// reports StatusConnectionFailed.
func (s *Session) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	s.logger.Warn("session setup failed", "err", err)
	s.release()
	s.transition(PhaseError, StatusConnectionFailed)
}

func (s *Session) release() {
	s.releaseOnce.Do(func() {
		var errs []error
		if s.mic != nil {
			if err := s.mic.Close(); err != nil {
				errs = append(errs, fmt.Errorf("session: close microphone: %w", err))
			}
		}
		if s.pipeline != nil {
			s.pipeline.Stop()
		}
		if s.graph != nil {
			s.graph.Close()
		}
		if s.speaker != nil {
			if err := s.speaker.Close(); err != nil {
				errs = append(errs, fmt.Errorf("session: close speaker: %w", err))
			}
		}
		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				errs = append(errs, fmt.Errorf("session: close connection: %w", err))
			}
		}
		if s.counted {
			s.metrics.ActiveSessions.Add(context.Background(), -1)
		}
		s.releaseErr = errors.Join(errs...)
	})
}

// post hands fn to the event loop. It gives up once the loop has exited.
func (s *Session) post(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.done:
	}
}

func (s *Session) activity(a playback.Activity) {
	if a == playback.Speaking {
		s.transition(PhaseSpeaking, StatusSpeaking)
		return
	}
	s.transition(PhaseListening, StatusListening)
}

// transition moves to p and reports st. Repeated phases are not reported and
// a disconnected or failed session stays where it is.
func (s *Session) transition(p Phase, st Status) {
	s.mu.Lock()
	switch s.phase {
	case p, PhaseDisconnected, PhaseError, PhaseClosed:
		s.mu.Unlock()
		return
	}
	s.phase = p
	s.mu.Unlock()

	s.logger.Debug("session phase", "phase", p.String())
	if s.cb.OnStatus != nil {
		s.cb.OnStatus(st)
	}
}
