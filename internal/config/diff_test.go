package config_test

import (
	"slices"
	"testing"

	"github.com/vnutour/tourbot/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{Discord: config.DiscordConfig{Token: "t", DJRoleID: "dj"}}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChange(t *testing.T) {
	t.Parallel()

	if d := config.Diff(baseConfig(), baseConfig()); !d.Empty() {
		t.Errorf("Diff = %+v, want empty", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()

	old, next := baseConfig(), baseConfig()
	next.Server.LogLevel = config.LogDebug
	next.Discord.DJRoleID = ""
	next.Music.PlayRatePerMinute = 20
	next.Music.PlayBurst = 5

	d := config.Diff(old, next)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v/%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.DJRoleChanged || d.NewDJRoleID != "" {
		t.Errorf("dj role diff = %v/%q", d.DJRoleChanged, d.NewDJRoleID)
	}
	if !d.PlayRateChanged || d.NewPlayRate != 20 || d.NewPlayBurst != 5 {
		t.Errorf("play rate diff = %v/%d/%d", d.PlayRateChanged, d.NewPlayRate, d.NewPlayBurst)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	old, next := baseConfig(), baseConfig()
	next.Discord.Token = "rotated"
	next.Music.SearchBackends = []string{"scsearch1"}
	next.Music.VolumeMode = "ffmpeg"

	d := config.Diff(old, next)
	for _, want := range []string{"discord.token", "music.search_backends", "music.volume_mode"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired = %v, missing %q", d.RestartRequired, want)
		}
	}
	if d.LogLevelChanged || d.DJRoleChanged || d.PlayRateChanged {
		t.Errorf("unexpected hot-reload flags: %+v", d)
	}
}
