package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied to a running process are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is set when call.voice changed; a running call restarts
	// with NewVoice.
	VoiceChanged bool
	NewVoice     string

	// InstructionsChanged covers call.instructions; it applies from the
	// next call.
	InstructionsChanged bool

	// Restart lists changed fields that only take effect after a restart.
	Restart []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VoiceChanged && !d.InstructionsChanged && len(d.Restart) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Call.Voice != new.Call.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Call.Voice
	}
	if old.Call.Instructions != new.Call.Instructions {
		d.InstructionsChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.Restart = append(d.Restart, "server.listen_addr")
	}
	if !sameEntry(old.Providers.Live, new.Providers.Live) {
		d.Restart = append(d.Restart, "providers.live")
	}
	if !sameEntry(old.Providers.Chat, new.Providers.Chat) {
		d.Restart = append(d.Restart, "providers.chat")
	}
	if old.Providers.Audio.Name != new.Providers.Audio.Name {
		d.Restart = append(d.Restart, "providers.audio")
	}
	if old.Call.FrameSize != new.Call.FrameSize {
		d.Restart = append(d.Restart, "call.frame_size")
	}
	if !sameChat(old.Chat, new.Chat) {
		d.Restart = append(d.Restart, "chat")
	}
	return d
}

func sameChat(a, b ChatConfig) bool {
	return a.Instructions == b.Instructions &&
		a.DisableSearch == b.DisableSearch &&
		a.Retries == b.Retries &&
		slices.Equal(a.FallbackModels, b.FallbackModels) &&
		a.ShareFile == b.ShareFile
}

// sameEntry compares the scalar fields of two entries; Options are ignored.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
