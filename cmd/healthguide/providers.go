package main

import (
	"context"
	"log/slog"

	"github.com/MrWong99/healthguide/internal/chat"
	"github.com/MrWong99/healthguide/internal/config"
	"github.com/MrWong99/healthguide/pkg/audio"
	"github.com/MrWong99/healthguide/pkg/audio/device"
	"github.com/MrWong99/healthguide/pkg/live"
	"github.com/MrWong99/healthguide/pkg/live/gemini"
)

// registerBuiltinProviders wires the built-in provider factories into reg.
// ctx bounds client construction for providers that dial on creation.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry, logger *slog.Logger) {
	// ── Live ──────────────────────────────────────────────────────────────────

	// An empty API key is allowed here: the call then fails to connect and
	// reports it through the status line.
	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (live.Transport, error) {
		opts := []gemini.Option{gemini.WithLogger(logger.With("component", "live"))}
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		if n := optInt(entry.Options, "send_queue"); n > 0 {
			opts = append(opts, gemini.WithSendQueue(n))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	// ── Chat ──────────────────────────────────────────────────────────────────

	reg.RegisterChat("gemini", func(entry config.ProviderEntry) (chat.Generator, error) {
		return chat.NewGemini(ctx, chat.GeminiConfig{
			APIKey:  entry.APIKey,
			BaseURL: entry.BaseURL,
		})
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(config.ProviderEntry) (audio.Devices, error) {
		return device.New(logger.With("component", "audio")), nil
	})

	for _, kind := range []string{"live", "chat", "audio"} {
		for _, name := range reg.Names(kind) {
			logger.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optInt extracts an integer from a provider Options map. YAML numbers decode
// as int; float64 is accepted for values set programmatically. Returns 0 when
// the key is absent or not a number.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
