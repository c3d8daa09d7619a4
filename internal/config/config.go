// Package config provides the configuration schema, loader, and provider registry
// for the Health Guide command.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Call      CallConfig      `yaml:"call"`
	Chat      ChatConfig      `yaml:"chat"`
}

// ServerConfig holds the observability listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /healthz, /readyz and /metrics
	// (e.g., ":9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the listener. When nil, it serves plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the implementation behind each external dependency.
// Each field names a provider registered in the [Registry].
type ProvidersConfig struct {
	Live  ProviderEntry `yaml:"live"`
	Chat  ProviderEntry `yaml:"chat"`
	Audio ProviderEntry `yaml:"audio"`
}

// ProviderEntry is the common configuration block shared by all provider kinds.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini-live").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// CallConfig configures the live voice call.
type CallConfig struct {
	// Voice is the prebuilt voice name (Kore, Puck, Fenrir, Zephyr, Charon).
	Voice string `yaml:"voice"`

	// FrameSize is the number of microphone samples per uploaded frame.
	FrameSize int `yaml:"frame_size"`

	// Instructions replaces the built-in system instruction when set.
	Instructions string `yaml:"instructions"`
}

// ChatConfig configures the text chat.
type ChatConfig struct {
	// Instructions replaces the built-in system instruction when set.
	Instructions string `yaml:"instructions"`

	// DisableSearch turns off the Google Search grounding tool.
	DisableSearch bool `yaml:"disable_search"`

	// Retries is how often an overloaded turn is retried before any text
	// arrived. Zero disables retries.
	Retries int `yaml:"retries"`

	// FallbackModels answer, in order, when the configured model fails
	// before replying.
	FallbackModels []string `yaml:"fallback_models"`

	// ShareFile, when set, receives every shared recommendation as a JSON
	// line.
	ShareFile string `yaml:"share_file"`
}
