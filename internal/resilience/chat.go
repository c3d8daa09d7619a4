package resilience

import (
	"context"
	"errors"
	"iter"
	"net/http"

	"google.golang.org/genai"

	"github.com/MrWong99/healthguide/internal/chat"
)

var _ chat.Generator = (*ModelFallback)(nil)

// ModelFallback is a [chat.Generator] that answers with a fallback model
// when the requested one fails before producing any output. Once a reply has
// started, later errors are passed through unchanged.
type ModelFallback struct {
	gen   chat.Generator
	group *FallbackGroup[string]
}

// NewModelFallback wraps gen. The model passed to GenerateContentStream is
// tried first, then each of fallbacks in order. cfg.Ignore defaults to
// [IsCallerError].
func NewModelFallback(gen chat.Generator, fallbacks []string, cfg CircuitBreakerConfig) *ModelFallback {
	if cfg.Ignore == nil {
		cfg.Ignore = IsCallerError
	}
	g := NewFallbackGroup("primary", "", cfg)
	for _, m := range fallbacks {
		g.Add(m, m)
	}
	return &ModelFallback{gen: gen, group: g}
}

// States reports the circuit state of the primary and every fallback model.
func (m *ModelFallback) States() map[string]State { return m.group.States() }

type started struct {
	first *genai.GenerateContentResponse
	next  func() (*genai.GenerateContentResponse, error, bool)
	stop  func()
}

// GenerateContentStream implements [chat.Generator].
func (m *ModelFallback) GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		s, err := Execute(m.group, func(_ string, candidate string) (started, error) {
			if candidate == "" {
				candidate = model
			}
			next, stop := iter.Pull2(m.gen.GenerateContentStream(ctx, candidate, contents, config))
			first, err, ok := next()
			switch {
			case !ok:
				stop()
				return started{}, nil
			case err != nil:
				stop()
				return started{}, err
			}
			return started{first: first, next: next, stop: stop}, nil
		})
		if err != nil {
			yield(nil, err)
			return
		}
		if s.stop == nil {
			return
		}
		defer s.stop()

		if !yield(s.first, nil) {
			return
		}
		for {
			resp, err, ok := s.next()
			if !ok || !yield(resp, err) || err != nil {
				return
			}
		}
	}
}

// IsCallerError reports errors another model would fail with too: a
// cancelled request or a request the API rejected as invalid or
// unauthorised.
func IsCallerError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
	}
	return false
}
