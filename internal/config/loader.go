package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the recognised live-session providers.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = []string{"gemini-live"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
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

// ApplyDefaults fills zero-valued tunables with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "gemini-live"
	}
	if cfg.Audio.InputRate == 0 {
		cfg.Audio.InputRate = 16000
	}
	if cfg.Audio.OutputRate == 0 {
		cfg.Audio.OutputRate = 24000
	}
	if cfg.Transcript.UserMergeWindow == 0 {
		cfg.Transcript.UserMergeWindow = 3 * time.Second
	}
	if cfg.Quota.Limit == 0 {
		cfg.Quota.Limit = 10
	}
	if cfg.Quota.GraceDelay == 0 {
		cfg.Quota.GraceDelay = 2 * time.Second
	}
	if cfg.Quota.LockWindow == 0 {
		cfg.Quota.LockWindow = 24 * time.Hour
	}
	if cfg.Video.FrameInterval == 0 {
		cfg.Video.FrameInterval = time.Second
	}
	if cfg.Video.JPEGQuality == 0 {
		cfg.Video.JPEGQuality = 70
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Provider.Name != "" && !slices.Contains(ValidProviderNames, cfg.Provider.Name) {
		slog.Warn("unknown provider name — may be a typo or third-party provider",
			"name", cfg.Provider.Name,
			"known", ValidProviderNames,
		)
	}
	if cfg.Provider.APIKey == "" && os.Getenv("GEMINI_API_KEY") == "" {
		slog.Warn("no provider API key configured; session starts will fail until provider.api_key or GEMINI_API_KEY is set")
	}

	if cfg.Audio.InputRate < 0 {
		errs = append(errs, fmt.Errorf("audio.input_rate %d must be positive", cfg.Audio.InputRate))
	}
	if cfg.Audio.OutputRate < 0 {
		errs = append(errs, fmt.Errorf("audio.output_rate %d must be positive", cfg.Audio.OutputRate))
	}

	if cfg.Transcript.UserMergeWindow < 0 {
		errs = append(errs, fmt.Errorf("transcript.user_merge_window %v must not be negative", cfg.Transcript.UserMergeWindow))
	}

	if cfg.Quota.Limit < 0 {
		errs = append(errs, fmt.Errorf("quota.limit %d must not be negative", cfg.Quota.Limit))
	}
	if cfg.Quota.GraceDelay < 0 {
		errs = append(errs, fmt.Errorf("quota.grace_delay %v must not be negative", cfg.Quota.GraceDelay))
	}
	if cfg.Quota.Enabled && cfg.Quota.PostgresDSN == "" {
		slog.Warn("quota.postgres_dsn is empty; the demo allowance resets on every gateway restart")
	}

	if cfg.Video.JPEGQuality < 1 || cfg.Video.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("video.jpeg_quality %d is out of range [1, 100]", cfg.Video.JPEGQuality))
	}
	if cfg.Video.FrameInterval < 0 {
		errs = append(errs, fmt.Errorf("video.frame_interval %v must not be negative", cfg.Video.FrameInterval))
	}

	return errors.Join(errs...)
}

// SlogLevel maps a [LogLevel] to its slog equivalent. Unknown levels map to
// Info.
func SlogLevel(l LogLevel) slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
