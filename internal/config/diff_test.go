package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/healthguide/internal/config"
)

func TestDiff_NoChange(t *testing.T) {
	t.Parallel()

	a := config.Default()
	b := config.Default()
	if d := config.Diff(a, b); !d.Empty() {
		t.Errorf("Diff of identical configs = %+v", d)
	}
}

func TestDiff_HotFields(t *testing.T) {
	t.Parallel()

	old := config.Default()
	next := config.Default()
	next.Server.LogLevel = config.LogWarn
	next.Call.Voice = "Charon"
	next.Call.Instructions = "Speak slowly."

	d := config.Diff(old, next)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("log level diff = %v/%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.VoiceChanged || d.NewVoice != "Charon" {
		t.Errorf("voice diff = %v/%q", d.VoiceChanged, d.NewVoice)
	}
	if !d.InstructionsChanged {
		t.Error("instructions change not detected")
	}
	if len(d.Restart) != 0 {
		t.Errorf("Restart = %v, want none", d.Restart)
	}
}

func TestDiff_RestartFields(t *testing.T) {
	t.Parallel()

	old := config.Default()
	next := config.Default()
	next.Server.ListenAddr = ":9999"
	next.Providers.Live.Model = "other-model"
	next.Providers.Chat.BaseURL = "http://localhost:1234"
	next.Call.FrameSize = 1024
	next.Chat.DisableSearch = true
	next.Providers.Live.Options = map[string]any{"send_queue": 8}

	d := config.Diff(old, next)
	want := []string{"server.listen_addr", "providers.live", "providers.chat", "call.frame_size", "chat"}
	if !slices.Equal(d.Restart, want) {
		t.Errorf("Restart = %v, want %v", d.Restart, want)
	}
	if d.VoiceChanged || d.LogLevelChanged {
		t.Errorf("unexpected hot changes: %+v", d)
	}
}

func TestDiff_ChatFallbackModels(t *testing.T) {
	t.Parallel()

	old := config.Default()
	next := config.Default()
	next.Chat.FallbackModels = []string{"gemini-2.5-flash-lite"}
	if d := config.Diff(old, next); !slices.Equal(d.Restart, []string{"chat"}) {
		t.Errorf("Restart = %v, want [chat]", d.Restart)
	}
	old.Chat.FallbackModels = []string{"gemini-2.5-flash-lite"}
	if d := config.Diff(old, next); !d.Empty() {
		t.Errorf("equal fallback lists reported as changed: %+v", d)
	}
}
