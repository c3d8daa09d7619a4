// Package chat implements the text and image side of Health Guide: a chat
// session with in-memory history whose replies stream from Gemini with Google
// Search grounding.
//
// A [Session] keeps the conversation for as long as the process runs. Each
// call to [Session.Send] is one turn: the user's text (and optional photo of
// a medicine) plus the history go to the model, and the reply arrives as a
// sequence of [Chunk]s carrying text and the web sources used to ground it.
package chat

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/MrWong99/healthguide/internal/observe"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

// DefaultImagePrompt is sent with an image when the user typed no text.
const DefaultImagePrompt = "Please analyze this medicine image."

// Generator streams model output. *genai.Models satisfies it.
type Generator interface {
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Image is a photo attached to a chat turn.
type Image struct {
	Data []byte

	// MIMEType defaults to image/jpeg.
	MIMEType string
}

// Chunk is one streamed fragment of a reply.
type Chunk struct {
	Text string

	// Sources lists the web pages this fragment was grounded on, in the order
	// the model reported them. Use [Sources.Merge] to accumulate a reply's
	// sources without duplicates.
	Sources Sources
}

// Option is a functional option for configuring a Session.
type Option func(*Session)

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(s *Session) {
		if model != "" {
			s.model = model
		}
	}
}

// WithSystemInstruction overrides [SystemInstruction].
func WithSystemInstruction(text string) Option {
	return func(s *Session) {
		if text != "" {
			s.instruction = text
		}
	}
}

// WithSearch enables or disables the Google Search tool. Enabled by default.
func WithSearch(enabled bool) Option {
	return func(s *Session) { s.search = enabled }
}

// WithRetries retries a turn up to n times, with exponential backoff from
// base, when the model reports it is overloaded before any chunk arrived.
// Retries are off by default.
func WithRetries(n int, base time.Duration) Option {
	return func(s *Session) {
		if n > 0 && base > 0 {
			s.retries = uint64(n)
			s.retryBase = base
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Session is a conversation with the model. Turns are serialised: a second
// Send waits until the previous reply has been fully consumed or abandoned.
type Session struct {
	id          string
	gen         Generator
	model       string
	instruction string
	search      bool
	retries     uint64
	retryBase   time.Duration
	logger      *slog.Logger
	metrics     *observe.Metrics

	turn sync.Mutex

	mu      sync.Mutex
	history []*genai.Content
}

// NewSession returns an empty conversation using gen.
func NewSession(gen Generator, opts ...Option) *Session {
	s := &Session{
		id:          uuid.NewString(),
		gen:         gen,
		model:       DefaultModel,
		instruction: SystemInstruction,
		search:      true,
		retryBase:   500 * time.Millisecond,
		logger:      slog.Default(),
		metrics:     observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("chat.id", s.id)
	return s
}

// ID identifies the conversation in logs and spans.
func (s *Session) ID() string { return s.id }

// Model returns the model name used for every turn.
func (s *Session) Model() string { return s.model }

// History returns a copy of the completed turns, alternating user and model
// content.
func (s *Session) History() []*genai.Content {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Reset forgets the conversation.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// Send runs one turn and streams the reply. The turn is added to the history
// only when the reply completes; a failed or abandoned turn leaves the
// history untouched. Errors are yielded once, as the last element. Do not
// call Send again from inside the range loop.
func (s *Session) Send(ctx context.Context, text string, img *Image) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		user, err := userContent(text, img)
		if err != nil {
			yield(Chunk{}, err)
			return
		}

		s.turn.Lock()
		defer s.turn.Unlock()

		ctx, span := observe.StartSpan(ctx, "chat.send",
			trace.WithAttributes(
				attribute.String("chat.model", s.model),
				attribute.Bool("chat.image", img != nil),
			),
		)
		defer span.End()

		start := time.Now()
		status := "ok"
		defer func() {
			s.metrics.RecordChatRequest(ctx, time.Since(start).Seconds(), status)
		}()

		contents := append(s.History(), user)
		var (
			reply   strings.Builder
			yielded bool
			stopped bool
		)
		attempt := func(ctx context.Context) error {
			for resp, err := range s.gen.GenerateContentStream(ctx, s.model, contents, s.config()) {
				if err != nil {
					err = classify(err)
					if s.retries > 0 && !yielded && errors.Is(err, ErrOverloaded) {
						observe.WithTrace(ctx, s.logger).Info("chat: model overloaded", "err", err)
						return retry.RetryableError(err)
					}
					return err
				}
				c := Chunk{Text: responseText(resp), Sources: responseSources(resp)}
				if c.Text == "" && len(c.Sources) == 0 {
					continue
				}
				reply.WriteString(c.Text)
				yielded = true
				if !yield(c, nil) {
					stopped = true
					return nil
				}
			}
			return nil
		}

		backoff := retry.WithMaxRetries(s.retries, retry.NewExponential(s.retryBase))
		if err := retry.Do(ctx, backoff, attempt); err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "generate content")
			observe.WithTrace(ctx, s.logger).Warn("chat: generate content", "err", err)
			yield(Chunk{}, err)
			return
		}
		if stopped {
			status = "abandoned"
			return
		}

		s.mu.Lock()
		s.history = append(s.history, user, genai.NewContentFromText(reply.String(), genai.RoleModel))
		s.mu.Unlock()
	}
}

// MedicineDetails asks for a structured summary of a medicine by name.
func (s *Session) MedicineDetails(ctx context.Context, name string) iter.Seq2[Chunk, error] {
	return s.Send(ctx, MedicinePrompt(name), nil)
}

// Collect drains a reply into its full text and de-duplicated sources.
func Collect(reply iter.Seq2[Chunk, error]) (string, Sources, error) {
	var (
		text    strings.Builder
		sources Sources
	)
	for c, err := range reply {
		if err != nil {
			return text.String(), sources, err
		}
		text.WriteString(c.Text)
		sources = sources.Merge(c.Sources)
	}
	return text.String(), sources, nil
}

func (s *Session) config() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(s.instruction, genai.RoleUser),
	}
	if s.search {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	return cfg
}

func userContent(text string, img *Image) (*genai.Content, error) {
	text = strings.TrimSpace(text)
	if img == nil {
		if text == "" {
			return nil, ErrEmptyMessage
		}
		return genai.NewContentFromText(text, genai.RoleUser), nil
	}

	if len(img.Data) == 0 {
		return nil, errors.New("chat: image has no data")
	}
	mime := img.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	if text == "" {
		text = DefaultImagePrompt
	}
	return &genai.Content{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: img.Data, MIMEType: mime}},
			{Text: text},
		},
	}, nil
}

// responseText concatenates the answer text of the first candidate, skipping
// thought summaries.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	c := resp.Candidates[0]
	if c == nil || c.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range c.Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}

func responseSources(resp *genai.GenerateContentResponse) Sources {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	c := resp.Candidates[0]
	if c == nil || c.GroundingMetadata == nil {
		return nil
	}
	var out Sources
	for _, gc := range c.GroundingMetadata.GroundingChunks {
		if gc == nil || gc.Web == nil || gc.Web.URI == "" {
			continue
		}
		out = append(out, Source{Title: gc.Web.Title, URI: gc.Web.URI})
	}
	return out
}
