// Package gemini implements the live.Transport interface for Google's Gemini
// Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live
// endpoint and exchanges JSON messages according to the BidiGenerateContent
// protocol. Microphone audio is streamed as realtimeInput media chunks; model
// speech arrives as inline data parts of serverContent messages.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/healthguide/pkg/audio"
	"github.com/MrWong99/healthguide/pkg/live"
	"github.com/coder/websocket"
)

// Compile-time assertions that Transport and conn satisfy the live interfaces.
var _ live.Transport = (*Transport)(nil)
var _ live.Conn = (*conn)(nil)

const (
	// DefaultModel is the native-audio model used when none is configured.
	DefaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	defaultSendQueue = 32
	eventBuffer      = 64

	// Model turns carry base64 audio and regularly exceed the library's
	// 32 KiB default.
	maxMessageSize = 8 << 20

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Transport.
type Option func(*Transport)

// WithModel sets the Gemini model used for connections that do not name one.
func WithModel(model string) Option {
	return func(t *Transport) {
		if model != "" {
			t.model = model
		}
	}
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(t *Transport) {
		if url != "" {
			t.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithSendQueue sets how many outbound audio chunks may wait for the writer
// before Send starts dropping them.
func WithSendQueue(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.sendQueue = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// ── Transport ──────────────────────────────────────────────────────────────────

// Transport implements live.Transport for Google's Gemini Live API.
type Transport struct {
	apiKey    string
	model     string
	baseURL   string
	sendQueue int
	logger    *slog.Logger
}

// New creates a new Gemini Live Transport with the given API key and options.
func New(apiKey string, opts ...Option) *Transport {
	t := &Transport{
		apiKey:    apiKey,
		model:     DefaultModel,
		baseURL:   defaultBaseURL,
		sendQueue: defaultSendQueue,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Open dials Gemini Live, sends the setup message and waits for
// setupComplete. The returned connection accepts audio immediately.
func (t *Transport) Open(ctx context.Context, cfg live.Config) (live.Conn, error) {
	model := t.model
	if cfg.Model != "" {
		model = cfg.Model
	}

	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		t.baseURL, t.apiKey,
	)

	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, &live.ConnectionError{Op: "dial", Err: err}
	}
	ws.SetReadLimit(maxMessageSize)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	c := &conn{
		ws:       ws,
		outbound: make(chan audio.Blob, t.sendQueue),
		events:   make(chan live.Event, eventBuffer),
		logger:   t.logger.With("model", model),
		ctx:      sessCtx,
		cancel:   sessCancel,
	}

	if err := c.handshake(ctx, newSetup(model, cfg)); err != nil {
		sessCancel()
		ws.Close(websocket.StatusInternalError, "setup failed")
		return nil, &live.ConnectionError{Op: "setup", Err: err}
	}

	go c.receiveLoop()
	go c.writeLoop()
	go c.keepaliveLoop()

	c.logger.Debug("gemini live connection established", "voice", cfg.Voice)
	return c, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model             string             `json:"model"`
	GenerationConfig  generationConfig   `json:"generationConfig"`
	SystemInstruction *systemInstruction `json:"systemInstruction,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *audio.Blob `json:"inlineData,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []audio.Blob `json:"mediaChunks"`
}

func newSetup(model string, cfg live.Config) setupMessage {
	msg := setupMessage{
		Setup: setupConfig{
			Model: "models/" + model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	return msg
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *json.RawMessage `json:"goAway,omitempty"`
	Error         *serverError     `json:"error,omitempty"`
}

type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *serverError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Status != "" {
		return fmt.Sprintf("gemini: %d %s: %s", e.Code, e.Status, msg)
	}
	return fmt.Sprintf("gemini: %d: %s", e.Code, msg)
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── conn ───────────────────────────────────────────────────────────────────────

type conn struct {
	ws       *websocket.Conn
	outbound chan audio.Blob
	events   chan live.Event
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// handshake sends the setup message and blocks until setupComplete, a server
// error, or ctx is done.
func (c *conn) handshake(ctx context.Context, setup setupMessage) error {
	if err := c.writeJSON(ctx, setup); err != nil {
		return err
	}
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return fmt.Errorf("gemini: await setupComplete: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}
		if msg.Error != nil {
			return msg.Error
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *conn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and maps them to events.
// It owns the events channel and closes it when it exits.
func (c *conn) receiveLoop() {
	defer close(c.events)

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			// Closed locally: no Disconnected event.
			if c.ctx.Err() != nil || c.isClosed() {
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				c.disconnect(nil)
			} else {
				c.disconnect(fmt.Errorf("gemini: read: %w", err))
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("gemini: skipping malformed message", "err", err)
			continue
		}

		if !c.dispatch(&msg) {
			return
		}
	}
}

// dispatch converts one server message into events. It returns false when the
// loop must stop.
func (c *conn) dispatch(msg *serverMessage) bool {
	if msg.Error != nil {
		c.logger.Warn("gemini: server error", "code", msg.Error.Code, "status", msg.Error.Status, "message", msg.Error.Message)
		c.disconnect(msg.Error)
		c.ws.CloseNow()
		return false
	}
	if msg.SetupComplete != nil && !c.emit(live.Event{Type: live.EventOther, Detail: "setupComplete"}) {
		return false
	}
	if msg.GoAway != nil && !c.emit(live.Event{Type: live.EventOther, Detail: "goAway"}) {
		return false
	}

	sc := msg.ServerContent
	if sc == nil {
		return true
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && isPCM(p.InlineData.MIMEType) && p.InlineData.Data != "" {
				if !c.emit(live.Event{Type: live.EventAudio, Audio: *p.InlineData}) {
					return false
				}
				continue
			}
			if p.Text != "" && !c.emit(live.Event{Type: live.EventOther, Detail: "text"}) {
				return false
			}
		}
	}
	// Audio of the same message always precedes the interruption.
	if sc.Interrupted && !c.emit(live.Event{Type: live.EventInterrupted}) {
		return false
	}
	if sc.InputTranscription != nil && !c.emit(live.Event{Type: live.EventOther, Detail: "inputTranscription"}) {
		return false
	}
	if sc.OutputTranscription != nil && !c.emit(live.Event{Type: live.EventOther, Detail: "outputTranscription"}) {
		return false
	}
	if sc.TurnComplete && !c.emit(live.Event{Type: live.EventOther, Detail: "turnComplete"}) {
		return false
	}
	return true
}

// isPCM accepts raw PCM inline data. Gemini labels model speech
// "audio/pcm;rate=24000"; an empty MIME type is treated as PCM.
func isPCM(mime string) bool {
	return mime == "" || strings.HasPrefix(mime, "audio/pcm")
}

// emit delivers ev to the consumer. It returns false if the connection was
// closed first.
func (c *conn) emit(ev live.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// disconnect emits the terminal event and stops the writer and keepalive.
func (c *conn) disconnect(err error) {
	if err != nil {
		c.logger.Warn("gemini live connection lost", "err", err)
	} else {
		c.logger.Info("gemini live connection closed by server")
	}
	c.emit(live.Event{Type: live.EventDisconnected, Err: err})
	c.cancel()
}

// writeLoop is the single writer for outbound audio.
func (c *conn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case blob := <-c.outbound:
			msg := realtimeInputMessage{
				RealtimeInput: realtimeInput{MediaChunks: []audio.Blob{blob}},
			}
			if err := c.writeJSON(c.ctx, msg); err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.logger.Debug("gemini: send audio", "err", err)
			}
		}
	}
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (c *conn) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			if err := c.ws.Ping(pingCtx); err != nil && c.ctx.Err() == nil {
				c.logger.Debug("gemini: keepalive ping failed", "err", err)
			}
			cancel()
		}
	}
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ── live.Conn methods ──────────────────────────────────────────────────────────

// Send enqueues a capture chunk without blocking.
func (c *conn) Send(blob audio.Blob) error {
	if c.isClosed() || c.ctx.Err() != nil {
		return live.ErrClosed
	}
	select {
	case c.outbound <- blob:
		return nil
	default:
		return live.ErrQueueFull
	}
}

// Events returns the inbound event stream.
func (c *conn) Events() <-chan live.Event { return c.events }

// Close terminates the connection and releases all resources. Idempotent.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel() // unblocks receiveLoop, writeLoop and keepaliveLoop
	c.ws.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
