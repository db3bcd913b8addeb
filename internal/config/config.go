// Package config provides the configuration schema and loader for tourbot.
package config

import (
	"log/slog"
	"time"

	"github.com/vnutour/tourbot/pkg/audio/ffmpeg"
)

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

// Slog converts l to the matching [slog.Level]. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
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

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr               = ":8080"
	DefaultExtractTimeout           = 30 * time.Second
	DefaultMaxConcurrentExtractions = 4
	DefaultVolumePercent            = 100
	DefaultMaxConsecutiveFailures   = 3
	DefaultPlayRatePerMinute        = 6
	DefaultPlayBurst                = 3
)

// DefaultSearchBackends are the yt-dlp search prefixes tried in order for
// free-text queries: YouTube first, then SoundCloud.
var DefaultSearchBackends = []string{"ytsearch1", "scsearch1"}

// Config is the root configuration structure for tourbot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Discord DiscordConfig `yaml:"discord"`
	Music   MusicConfig   `yaml:"music"`
}

// ServerConfig holds the HTTP listener (health and metrics) and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health/metrics server. Default: ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DiscordConfig holds the bot credentials. Token and GuildID may be supplied
// through the DISCORD_TOKEN and DISCORD_GUILD_ID environment variables instead.
type DiscordConfig struct {
	// Token is the bot token. Required.
	Token string `yaml:"token"`

	// GuildID registers slash commands for a single guild (instant updates).
	// Empty registers them globally.
	GuildID string `yaml:"guild_id"`

	// DJRoleID, when set, restricts queue-mutating commands to members with
	// this role. Hot-reloadable.
	DJRoleID string `yaml:"dj_role_id"`
}

// MusicConfig tunes extraction and playback.
type MusicConfig struct {
	// FFmpegPath is the ffmpeg executable. Default: "ffmpeg".
	FFmpegPath string `yaml:"ffmpeg_path"`

	// YTDLPPath is the yt-dlp executable. Default: "yt-dlp".
	YTDLPPath string `yaml:"ytdlp_path"`

	// SearchBackends are yt-dlp search prefixes tried in order for free-text
	// queries. Default: [ytsearch1, scsearch1].
	SearchBackends []string `yaml:"search_backends"`

	// ExtractTimeout bounds a single extraction attempt. Default: 30s.
	ExtractTimeout time.Duration `yaml:"extract_timeout"`

	// MaxConcurrentExtractions bounds concurrent yt-dlp processes. Default: 4.
	MaxConcurrentExtractions int `yaml:"max_concurrent_extractions"`

	// DefaultVolume is the volume of a new session in percent, 0 to 200.
	// Zero selects 100.
	DefaultVolume int `yaml:"default_volume"`

	// VolumeMode selects in-process ("pcm") or ffmpeg filter ("ffmpeg")
	// volume. Default: "pcm".
	VolumeMode ffmpeg.Mode `yaml:"volume_mode"`

	// ReconnectDelayMax caps ffmpeg's stream reconnect backoff. Default: 5s.
	ReconnectDelayMax time.Duration `yaml:"reconnect_delay_max"`

	// KillGrace is how long a decode process gets to exit after a terminate
	// signal before it is killed. Default: 2s.
	KillGrace time.Duration `yaml:"kill_grace"`

	// MaxConsecutiveFailures stops a session after this many tracks in a
	// row failed to play. Default: 3.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`

	// PlayRatePerMinute limits /play per user. Default: 6. Hot-reloadable.
	PlayRatePerMinute int `yaml:"play_rate_per_minute"`

	// PlayBurst is the number of /play calls a user may make back to back.
	// Default: 3. Hot-reloadable.
	PlayBurst int `yaml:"play_burst"`

	// Breaker guards each search backend.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of each extraction backend.
// Zero values select the breaker's own defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	m := &cfg.Music
	if m.FFmpegPath == "" {
		m.FFmpegPath = ffmpeg.DefaultPath
	}
	if m.YTDLPPath == "" {
		m.YTDLPPath = "yt-dlp"
	}
	if len(m.SearchBackends) == 0 {
		m.SearchBackends = append([]string(nil), DefaultSearchBackends...)
	}
	if m.ExtractTimeout == 0 {
		m.ExtractTimeout = DefaultExtractTimeout
	}
	if m.MaxConcurrentExtractions == 0 {
		m.MaxConcurrentExtractions = DefaultMaxConcurrentExtractions
	}
	if m.DefaultVolume == 0 {
		m.DefaultVolume = DefaultVolumePercent
	}
	if m.VolumeMode == "" {
		m.VolumeMode = ffmpeg.ModePCM
	}
	if m.ReconnectDelayMax == 0 {
		m.ReconnectDelayMax = ffmpeg.DefaultReconnectDelayMax
	}
	if m.KillGrace == 0 {
		m.KillGrace = ffmpeg.DefaultKillGrace
	}
	if m.MaxConsecutiveFailures == 0 {
		m.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if m.PlayRatePerMinute == 0 {
		m.PlayRatePerMinute = DefaultPlayRatePerMinute
	}
	if m.PlayBurst == 0 {
		m.PlayBurst = DefaultPlayBurst
	}
}
