package config

import "slices"

// ConfigDiff describes what changed between two configs. Fields that can be
// applied at runtime are reported individually; everything else is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DJRoleChanged bool
	NewDJRoleID   string

	PlayRateChanged bool
	NewPlayRate     int
	NewPlayBurst    int

	// RestartRequired names changed settings that only take effect after a
	// restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.DJRoleChanged && !d.PlayRateChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Discord.DJRoleID != new.Discord.DJRoleID {
		d.DJRoleChanged = true
		d.NewDJRoleID = new.Discord.DJRoleID
	}
	if old.Music.PlayRatePerMinute != new.Music.PlayRatePerMinute || old.Music.PlayBurst != new.Music.PlayBurst {
		d.PlayRateChanged = true
		d.NewPlayRate = new.Music.PlayRatePerMinute
		d.NewPlayBurst = new.Music.PlayBurst
	}

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("discord.token", old.Discord.Token != new.Discord.Token)
	restart("discord.guild_id", old.Discord.GuildID != new.Discord.GuildID)
	restart("music.ffmpeg_path", old.Music.FFmpegPath != new.Music.FFmpegPath)
	restart("music.ytdlp_path", old.Music.YTDLPPath != new.Music.YTDLPPath)
	restart("music.volume_mode", old.Music.VolumeMode != new.Music.VolumeMode)
	restart("music.default_volume", old.Music.DefaultVolume != new.Music.DefaultVolume)
	restart("music.search_backends", !slices.Equal(old.Music.SearchBackends, new.Music.SearchBackends))

	return d
}
