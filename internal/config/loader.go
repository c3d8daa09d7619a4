package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/healthguide/internal/session"
	"github.com/MrWong99/healthguide/pkg/audio"
)

// Frame size bounds for [CallConfig.FrameSize].
const (
	MinFrameSize = 256
	MaxFrameSize = 16384
)

// MaxChatRetries bounds [ChatConfig.Retries].
const MaxChatRetries = 5

// APIKeyEnv lists the environment variables consulted, in order, for a
// provider API key left empty in the file.
var APIKeyEnv = []string{"GEMINI_API_KEY", "API_KEY"}

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live":  {"gemini-live"},
	"chat":  {"gemini"},
	"audio": {"portaudio"},
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field of cfg with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Providers.Live.Name == "" {
		cfg.Providers.Live.Name = "gemini-live"
	}
	if cfg.Providers.Chat.Name == "" {
		cfg.Providers.Chat.Name = "gemini"
	}
	if cfg.Providers.Audio.Name == "" {
		cfg.Providers.Audio.Name = "portaudio"
	}
	if cfg.Providers.Live.APIKey == "" {
		cfg.Providers.Live.APIKey = envAPIKey()
	}
	if cfg.Providers.Chat.APIKey == "" {
		cfg.Providers.Chat.APIKey = envAPIKey()
	}
	if cfg.Call.Voice == "" {
		cfg.Call.Voice = string(session.DefaultVoice)
	}
	if cfg.Call.FrameSize == 0 {
		cfg.Call.FrameSize = audio.DefaultFrameSize
	}
}

func envAPIKey() string {
	for _, name := range APIKeyEnv {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("live", cfg.Providers.Live.Name)
	validateProviderName("chat", cfg.Providers.Chat.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)

	if cfg.Call.Voice != "" {
		if _, err := session.ParseVoice(cfg.Call.Voice); err != nil {
			errs = append(errs, fmt.Errorf("call.voice: %w", err))
		}
	}
	if fs := cfg.Call.FrameSize; fs != 0 && (fs < MinFrameSize || fs > MaxFrameSize) {
		errs = append(errs, fmt.Errorf("call.frame_size %d is out of range [%d, %d]", fs, MinFrameSize, MaxFrameSize))
	}

	if cfg.Chat.Retries < 0 || cfg.Chat.Retries > MaxChatRetries {
		errs = append(errs, fmt.Errorf("chat.retries %d is out of range [0, %d]", cfg.Chat.Retries, MaxChatRetries))
	}
	for i, m := range cfg.Chat.FallbackModels {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, fmt.Errorf("chat.fallback_models[%d] is empty", i))
		}
	}

	if cfg.Providers.Live.Name == "gemini-live" && cfg.Providers.Live.APIKey == "" {
		slog.Warn("providers.live.api_key is empty and GEMINI_API_KEY is not set; calls will fail to connect")
	}
	if cfg.Providers.Chat.Name == "gemini" && cfg.Providers.Chat.APIKey == "" {
		slog.Warn("providers.chat.api_key is empty and GEMINI_API_KEY is not set; chat will be unavailable")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
