package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the known live provider names. Used by [Validate]
// to warn about likely typos.
var ValidProviderNames = []string{"gemini-live", "openai-realtime", "mock"}

// ValidAudioBackends lists the known capture backend names.
var ValidAudioBackends = []string{"mock"}

// Default values applied by [applyDefaults] when fields are unset.
const (
	DefaultListenAddr = ":8080"
	DefaultLogLevel   = LogInfo
	DefaultVoice      = "Kore"
	DefaultBackend    = "mock"
	DefaultBlockSize  = 4096
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Live.Voice == "" {
		cfg.Live.Voice = DefaultVoice
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = DefaultBackend
	}
	if cfg.Audio.BlockSize == 0 {
		cfg.Audio.BlockSize = DefaultBlockSize
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Live.Name == "" {
		errs = append(errs, errors.New("live.name is required"))
	} else if !slices.Contains(ValidProviderNames, cfg.Live.Name) {
		slog.Warn("unknown live provider name, may be a typo or third-party provider",
			"name", cfg.Live.Name,
			"known", ValidProviderNames,
		)
	}
	if cfg.Live.Name != "mock" && cfg.Live.APIKey == "" {
		errs = append(errs, fmt.Errorf("live.api_key is required for provider %q", cfg.Live.Name))
	}

	if cfg.Audio.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must be positive", cfg.Audio.BlockSize))
	}
	if cfg.Audio.Backend != "" && !slices.Contains(ValidAudioBackends, cfg.Audio.Backend) {
		slog.Warn("unknown audio backend, may be provided by a build tag",
			"backend", cfg.Audio.Backend,
			"known", ValidAudioBackends,
		)
	}

	if cfg.Teacher.KnowledgePDF != "" {
		if _, err := os.Stat(cfg.Teacher.KnowledgePDF); err != nil {
			errs = append(errs, fmt.Errorf("teacher.knowledge_pdf %q: %w", cfg.Teacher.KnowledgePDF, err))
		}
	}

	return errors.Join(errs...)
}
