package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the config file.
const (
	EnvDiscordToken   = "DISCORD_TOKEN"
	EnvDiscordGuildID = "DISCORD_GUILD_ID"
	EnvLogLevel       = "TOURBOT_LOG_LEVEL"
)

// LookupFunc looks up an environment variable. [os.LookupEnv] satisfies it.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads KEY=VALUE pairs from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
		slog.Debug("config: loaded env file", "path", p)
	}
	return nil
}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := Parse(f, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	return Parse(r, nil)
}

// Parse decodes a YAML config from r, applies overrides from env (which may
// be nil), fills defaults, and validates the result.
func Parse(r io.Reader, env LookupFunc) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if env != nil {
		ApplyEnv(cfg, env)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides config values with any set environment variables.
func ApplyEnv(cfg *Config, env LookupFunc) {
	if v, ok := env(EnvDiscordToken); ok && v != "" {
		cfg.Discord.Token = v
	}
	if v, ok := env(EnvDiscordGuildID); ok && v != "" {
		cfg.Discord.GuildID = v
	}
	if v, ok := env(EnvLogLevel); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Discord
	if cfg.Discord.Token == "" {
		errs = append(errs, fmt.Errorf("discord.token is required (or set %s)", EnvDiscordToken))
	}

	// Music
	m := cfg.Music
	if m.VolumeMode != "" && !m.VolumeMode.IsValid() {
		errs = append(errs, fmt.Errorf("music.volume_mode %q is invalid; valid values: pcm, ffmpeg", m.VolumeMode))
	}
	if m.DefaultVolume < 0 || m.DefaultVolume > 200 {
		errs = append(errs, fmt.Errorf("music.default_volume %d is out of range [0, 200]", m.DefaultVolume))
	}
	for i, b := range m.SearchBackends {
		if b == "" || strings.ContainsAny(b, ": ") {
			errs = append(errs, fmt.Errorf("music.search_backends[%d] %q is not a yt-dlp search prefix (e.g. ytsearch1)", i, b))
		}
	}
	for name, v := range map[string]int{
		"max_concurrent_extractions": m.MaxConcurrentExtractions,
		"max_consecutive_failures":   m.MaxConsecutiveFailures,
		"play_rate_per_minute":       m.PlayRatePerMinute,
		"play_burst":                 m.PlayBurst,
		"breaker.max_failures":       m.Breaker.MaxFailures,
		"breaker.half_open_max":      m.Breaker.HalfOpenMax,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("music.%s must not be negative, got %d", name, v))
		}
	}
	if m.ExtractTimeout < 0 || m.ReconnectDelayMax < 0 || m.KillGrace < 0 || m.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("music: durations must not be negative"))
	}

	return errors.Join(errs...)
}
