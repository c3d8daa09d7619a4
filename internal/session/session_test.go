package session_test

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/healthguide/internal/observe"
	"github.com/MrWong99/healthguide/internal/session"
	"github.com/MrWong99/healthguide/pkg/audio"
	"github.com/MrWong99/healthguide/pkg/live"
	"github.com/MrWong99/healthguide/pkg/live/mock"
)

// ─── fakes ───────────────────────────────────────────────────────────────────

// closeLog records the order in which resources are released.
type closeLog struct {
	mu    sync.Mutex
	order []string
}

func (l *closeLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, name)
}

func (l *closeLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.order)
}

type fakeMic struct {
	frames chan audio.Frame
	closed chan struct{}
	once   sync.Once
	closes atomic.Int32
	log    *closeLog
}

func (m *fakeMic) ReadFrame(ctx context.Context) (audio.Frame, error) {
	select {
	case f := <-m.frames:
		return f, nil
	case <-m.closed:
		return nil, audio.ErrSourceClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *fakeMic) Close() error {
	m.closes.Add(1)
	m.once.Do(func() {
		m.log.add("microphone")
		close(m.closed)
	})
	return nil
}

type fakeSpeaker struct {
	closes atomic.Int32
	log    *closeLog
}

func (s *fakeSpeaker) Close() error {
	if s.closes.Add(1) == 1 {
		s.log.add("speaker")
	}
	return nil
}

type fakeDevices struct {
	micErr     error
	speakerErr error
	log        closeLog

	mu       sync.Mutex
	mics     []*fakeMic
	speakers []*fakeSpeaker
	render   func([]float32)
}

func (d *fakeDevices) OpenMicrophone(sampleRate, frameSize int) (audio.Source, error) {
	if d.micErr != nil {
		return nil, d.micErr
	}
	m := &fakeMic{frames: make(chan audio.Frame, 8), closed: make(chan struct{}), log: &d.log}
	d.mu.Lock()
	d.mics = append(d.mics, m)
	d.mu.Unlock()
	return m, nil
}

func (d *fakeDevices) OpenSpeaker(sampleRate int, render func([]float32)) (io.Closer, error) {
	if d.speakerErr != nil {
		return nil, d.speakerErr
	}
	s := &fakeSpeaker{log: &d.log}
	d.mu.Lock()
	d.speakers = append(d.speakers, s)
	d.render = render
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDevices) mic(t *testing.T) *fakeMic {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.mics) == 0 {
		t.Fatal("microphone was never opened")
	}
	return d.mics[len(d.mics)-1]
}

func (d *fakeDevices) speaker(t *testing.T) *fakeSpeaker {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.speakers) == 0 {
		t.Fatal("speaker was never opened")
	}
	return d.speakers[len(d.speakers)-1]
}

// renderBlock pulls n samples from the speaker's render function, as the
// sound card would.
func (d *fakeDevices) renderBlock(n int) []float32 {
	d.mu.Lock()
	render := d.render
	d.mu.Unlock()
	out := make([]float32, n)
	render(out)
	return out
}

// loggingTransport wraps each opened connection so its Close is logged.
type loggingTransport struct {
	live.Transport
	log *closeLog
}

func (t loggingTransport) Open(ctx context.Context, cfg live.Config) (live.Conn, error) {
	c, err := t.Transport.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return loggingConn{Conn: c, log: t.log}, nil
}

type loggingConn struct {
	live.Conn
	log *closeLog
}

func (c loggingConn) Close() error {
	c.log.add("connection")
	return c.Conn.Close()
}

type statusRecorder struct {
	mu  sync.Mutex
	got []session.Status
	ch  chan session.Status
}

func newStatusRecorder() *statusRecorder {
	return &statusRecorder{ch: make(chan session.Status, 64)}
}

func (r *statusRecorder) on(st session.Status) {
	r.mu.Lock()
	r.got = append(r.got, st)
	r.mu.Unlock()
	select {
	case r.ch <- st:
	default:
	}
}

func (r *statusRecorder) all() []session.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.got)
}

func (r *statusRecorder) waitFor(t *testing.T, want session.Status) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case st := <-r.ch:
			if st == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for status %q; got %q", want, r.all())
		}
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func counter(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			if sum, ok := met.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

// chunk returns an inbound audio event of n samples at 24 kHz.
func chunk(n int, v float32) live.Event {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	return live.Event{
		Type: live.EventAudio,
		Audio: audio.Blob{
			Data:     base64.StdEncoding.EncodeToString(audio.FloatToPCM16(samples)),
			MIMEType: "audio/pcm;rate=24000",
		},
	}
}

type fixture struct {
	conn    *mock.Conn
	tr      *mock.Transport
	devs    *fakeDevices
	ctrl    *session.Controller
	reader  *sdkmetric.ManualReader
	status  *statusRecorder
	volumes chan float64
}

func newFixture(t *testing.T, opts ...session.Option) *fixture {
	t.Helper()
	f := &fixture{
		conn:    mock.NewConn(),
		devs:    &fakeDevices{},
		status:  newStatusRecorder(),
		volumes: make(chan float64, 64),
	}
	f.tr = &mock.Transport{Conn: f.conn}
	m, reader := newTestMetrics(t)
	f.reader = reader
	opts = append([]session.Option{session.WithMetrics(m)}, opts...)
	f.ctrl = session.NewController(loggingTransport{Transport: f.tr, log: &f.devs.log}, f.devs, opts...)
	return f
}

func (f *fixture) callbacks() session.Callbacks {
	return session.Callbacks{
		OnStatus: f.status.on,
		OnVolume: func(v float64) {
			select {
			case f.volumes <- v:
			default:
			}
		},
	}
}

func (f *fixture) start(t *testing.T) *session.Session {
	t.Helper()
	s := f.ctrl.Start(context.Background(), session.Kore, f.callbacks())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestSession_StatusSequence(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.start(t)
	f.status.waitFor(t, session.StatusListening)

	// 10 ms of speech at 24 kHz.
	f.conn.Emit(chunk(240, 0.25))
	f.status.waitFor(t, session.StatusSpeaking)

	out := f.devs.renderBlock(480)
	if out[0] == 0 || out[239] == 0 || out[240] != 0 {
		t.Errorf("rendered block does not contain exactly the chunk: %v %v %v", out[0], out[239], out[240])
	}
	f.status.waitFor(t, session.StatusListening)

	want := []session.Status{
		session.StatusConnecting,
		session.StatusConnected,
		session.StatusListening,
		session.StatusSpeaking,
		session.StatusListening,
	}
	if got := f.status.all(); !slices.Equal(got, want) {
		t.Errorf("statuses = %q, want %q", got, want)
	}
	if s.Phase() != session.PhaseListening {
		t.Errorf("phase = %s, want LISTENING", s.Phase())
	}
}

func TestSession_ChunksPlayBackToBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.start(t)
	f.status.waitFor(t, session.StatusListening)

	f.conn.Emit(chunk(100, 0.5))
	f.conn.Emit(chunk(100, -0.5))
	f.status.waitFor(t, session.StatusSpeaking)

	deadline := time.Now().Add(2 * time.Second)
	for counter(t, f.reader, "healthguide.playback.chunks_scheduled") < 2 {
		if time.Now().After(deadline) {
			t.Fatal("second chunk never scheduled")
		}
		time.Sleep(time.Millisecond)
	}

	out := f.devs.renderBlock(300)
	if out[99] <= 0 || out[100] >= 0 || out[199] >= 0 || out[200] != 0 {
		t.Errorf("chunks not contiguous: out[99]=%v out[100]=%v out[199]=%v out[200]=%v",
			out[99], out[100], out[199], out[200])
	}
}

func TestSession_FramesReachTransport(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.start(t)
	f.status.waitFor(t, session.StatusListening)

	frame := make(audio.Frame, 16)
	for i := range frame {
		frame[i] = 0.1
	}
	f.devs.mic(t).frames <- frame

	select {
	case <-f.conn.SentSignal():
	case <-time.After(2 * time.Second):
		t.Fatal("no frame sent")
	}
	sent := f.conn.Sent()
	if len(sent) != 1 || sent[0].MIMEType != audio.CaptureMIMEType {
		t.Fatalf("sent = %+v", sent)
	}
	if sent[0] != audio.EncodeFrame(frame) {
		t.Errorf("sent blob does not match the encoded frame")
	}

	select {
	case v := <-f.volumes:
		if v < 0 || v > 1 || v == 0 {
			t.Errorf("volume = %v, want in (0, 1]", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no volume reported")
	}
}

func TestSession_InterruptSilencesPlayback(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.start(t)
	f.status.waitFor(t, session.StatusListening)

	f.conn.Emit(chunk(24000, 0.5))
	f.status.waitFor(t, session.StatusSpeaking)
	f.conn.Emit(live.Event{Type: live.EventInterrupted})
	f.status.waitFor(t, session.StatusListening)

	out := f.devs.renderBlock(1000)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("out[%d] = %v after interrupt, want silence", i, v)
		}
	}

	// A new reply plays from the current clock.
	f.conn.Emit(chunk(10, 0.5))
	f.status.waitFor(t, session.StatusSpeaking)
	out = f.devs.renderBlock(20)
	if out[0] == 0 || out[10] != 0 {
		t.Errorf("post-interrupt chunk not played at the current clock: %v", out)
	}
	f.status.waitFor(t, session.StatusListening)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := counter(t, f.reader, "healthguide.playback.interruptions"); got != 1 {
		t.Errorf("interruptions = %d, want 1", got)
	}
}

func TestSession_DropsUndecodableChunk(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.start(t)
	f.status.waitFor(t, session.StatusListening)

	f.conn.Emit(live.Event{Type: live.EventAudio, Audio: audio.Blob{Data: "AAE", MIMEType: "audio/pcm"}})
	f.conn.Emit(live.Event{Type: live.EventAudio, Audio: audio.Blob{Data: base64.StdEncoding.EncodeToString([]byte{1, 2, 3})}})
	f.conn.Emit(chunk(10, 0.5))
	f.status.waitFor(t, session.StatusSpeaking)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := counter(t, f.reader, "healthguide.playback.chunks_dropped"); got != 2 {
		t.Errorf("chunks_dropped = %d, want 2", got)
	}
	if got := counter(t, f.reader, "healthguide.playback.chunks_scheduled"); got != 1 {
		t.Errorf("chunks_scheduled = %d, want 1", got)
	}
}

func TestSession_RemoteCloseIsDisconnected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.start(t)
	f.status.waitFor(t, session.StatusListening)

	f.conn.Disconnect(nil)
	f.status.waitFor(t, session.StatusDisconnected)
	<-s.Done()

	if s.Phase() != session.PhaseDisconnected {
		t.Errorf("phase = %s, want DISCONNECTED", s.Phase())
	}
	if s.Err() != nil {
		t.Errorf("Err = %v, want nil", s.Err())
	}
	mic := f.devs.mic(t)
	if mic.closes.Load() != 0 {
		t.Error("microphone released before Close")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if mic.closes.Load() != 1 {
		t.Errorf("microphone closed %d times, want 1", mic.closes.Load())
	}
	if s.Phase() != session.PhaseClosed {
		t.Errorf("phase after Close = %s, want CLOSED", s.Phase())
	}
	if got := f.status.all(); got[len(got)-1] != session.StatusDisconnected {
		t.Errorf("last status = %q, want Disconnected", got[len(got)-1])
	}
}

func TestSession_RemoteErrorIsError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.start(t)
	f.status.waitFor(t, session.StatusListening)

	f.conn.Emit(chunk(24000, 0.5))
	f.status.waitFor(t, session.StatusSpeaking)

	boom := errors.New("stream reset")
	f.conn.Disconnect(boom)
	f.status.waitFor(t, session.StatusError)
	<-s.Done()

	if !errors.Is(s.Err(), boom) {
		t.Errorf("Err = %v, want %v", s.Err(), boom)
	}
	out := f.devs.renderBlock(100)
	if out[0] != 0 {
		t.Error("playback continued after the transport failed")
	}

	_ = s.Close()
	if s.Phase() != session.PhaseError {
		t.Errorf("phase after Close = %s, want ERROR", s.Phase())
	}
	if got := f.status.all(); got[len(got)-1] != session.StatusError {
		t.Errorf("statuses after error = %q", got)
	}
	if got := counter(t, f.reader, "healthguide.transport.errors"); got != 1 {
		t.Errorf("transport errors = %d, want 1", got)
	}
}

func TestSession_MicrophoneDenied(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.devs.micErr = errors.New("permission denied")
	s := f.ctrl.Start(context.Background(), session.Kore, f.callbacks())

	want := []session.Status{session.StatusConnecting, session.StatusConnectionFailed}
	if got := f.status.all(); !slices.Equal(got, want) {
		t.Errorf("statuses = %q, want %q", got, want)
	}
	if s.Phase() != session.PhaseError {
		t.Errorf("phase = %s, want ERROR", s.Phase())
	}
	var permErr *session.PermissionError
	if !errors.As(s.Err(), &permErr) || permErr.Device != "microphone" {
		t.Errorf("Err = %v, want *PermissionError for the microphone", s.Err())
	}
	if got := f.devs.speaker(t).closes.Load(); got != 1 {
		t.Errorf("speaker closed %d times, want 1", got)
	}
	if len(f.tr.Calls()) != 0 {
		t.Error("transport opened despite the device failure")
	}

	for range 2 {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}
	if got := f.devs.speaker(t).closes.Load(); got != 1 {
		t.Errorf("speaker closed %d times after Close, want 1", got)
	}
	if len(f.status.all()) != 2 {
		t.Errorf("status reported after Close: %q", f.status.all())
	}
}

func TestSession_SpeakerUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.devs.speakerErr = errors.New("no output device")
	s := f.ctrl.Start(context.Background(), session.Kore, f.callbacks())
	defer s.Close()

	var permErr *session.PermissionError
	if !errors.As(s.Err(), &permErr) || permErr.Device != "speaker" {
		t.Errorf("Err = %v, want *PermissionError for the speaker", s.Err())
	}
	f.devs.mu.Lock()
	opened := len(f.devs.mics)
	f.devs.mu.Unlock()
	if opened != 0 {
		t.Error("microphone opened after the speaker failed")
	}
}

func TestSession_TransportOpenFails(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{name: "connection error", err: &live.ConnectionError{Op: "dial", Err: errors.New("refused")}},
		{name: "plain error", err: errors.New("bad api key")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.tr.OpenErr = tc.err
			s := f.start(t)
			f.status.waitFor(t, session.StatusConnectionFailed)
			<-s.Done()

			var connErr *live.ConnectionError
			if !errors.As(s.Err(), &connErr) {
				t.Errorf("Err = %v, want *live.ConnectionError", s.Err())
			}
			mic := f.devs.mic(t)
			if mic.closes.Load() != 1 || f.devs.speaker(t).closes.Load() != 1 {
				t.Error("devices not released after the connection failed")
			}
			if err := s.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
			if mic.closes.Load() != 1 {
				t.Errorf("microphone closed %d times, want 1", mic.closes.Load())
			}
			want := []session.Status{session.StatusConnecting, session.StatusConnectionFailed}
			if got := f.status.all(); !slices.Equal(got, want) {
				t.Errorf("statuses = %q, want %q", got, want)
			}
		})
	}
}

func TestSession_CloseWhileConnecting(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.tr.Block = make(chan struct{})
	s := f.start(t)

	deadline := time.Now().Add(2 * time.Second)
	for len(f.tr.Calls()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("transport never opened")
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.Phase() != session.PhaseClosed {
		t.Errorf("phase = %s, want CLOSED", s.Phase())
	}
	if s.Err() != nil {
		t.Errorf("Err = %v, want nil", s.Err())
	}
	if got := f.status.all(); !slices.Equal(got, []session.Status{session.StatusConnecting}) {
		t.Errorf("statuses = %q, want only Connecting...", got)
	}
	if f.devs.mic(t).closes.Load() != 1 {
		t.Error("microphone not released")
	}
}

func TestSession_CloseIsIdempotentAndOrdered(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := f.start(t)
	f.status.waitFor(t, session.StatusListening)
	before := len(f.status.all())

	for range 3 {
		if err := s.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	want := []string{"microphone", "speaker", "connection"}
	if got := f.devs.log.get(); !slices.Equal(got, want) {
		t.Errorf("release order = %q, want %q", got, want)
	}
	if got := f.devs.mic(t).closes.Load(); got != 1 {
		t.Errorf("microphone closed %d times, want 1", got)
	}
	if got := f.conn.CloseCount(); got != 1 {
		t.Errorf("connection closed %d times, want 1", got)
	}
	if got := len(f.status.all()); got != before {
		t.Errorf("status reported during Close: %q", f.status.all())
	}
	if s.Phase() != session.PhaseClosed {
		t.Errorf("phase = %s, want CLOSED", s.Phase())
	}
}

func TestSession_ID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.tr.Conn = nil
	a := f.start(t)
	b := f.start(t)
	if a.ID() == b.ID() || a.ID() == "" {
		t.Errorf("IDs = %q, %q, want distinct non-empty", a.ID(), b.ID())
	}
	if b.Voice() != session.Kore {
		t.Errorf("Voice = %s, want Kore", b.Voice())
	}
}
