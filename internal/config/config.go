// Package config provides the configuration schema, loader, and provider
// registry for the tutoring server.
package config

// LogLevel controls log verbosity for the server.
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

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Live    ProviderEntry `yaml:"live"`
	Audio   AudioConfig   `yaml:"audio"`
	Teacher TeacherConfig `yaml:"teacher"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the state-feed server listens on
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProviderEntry selects and configures the live speech provider. The Name
// field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "gemini-live", "openai-realtime").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// Model selects a specific model within the provider. Leave empty to
	// use the provider's built-in default.
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Voice selects the provider voice identity (e.g., "Kore").
	Voice string `yaml:"voice"`
}

// AudioConfig holds microphone capture settings.
type AudioConfig struct {
	// Backend selects the registered capture backend (e.g., "mock").
	Backend string `yaml:"backend"`

	// Device is the backend-specific device identifier.
	Device string `yaml:"device"`

	// BlockSize is the number of 16 kHz samples per upstream block.
	BlockSize int `yaml:"block_size"`
}

// TeacherConfig customises the tutoring persona.
type TeacherConfig struct {
	// Instructions overrides the built-in teaching persona. Leave empty to
	// use the default.
	Instructions string `yaml:"instructions"`

	// KnowledgePDF is an optional path to a PDF loaded as grounding
	// material at startup.
	KnowledgePDF string `yaml:"knowledge_pdf"`
}
