package app

import (
	"time"

	"github.com/vnutour/tourbot/internal/config"
	"github.com/vnutour/tourbot/internal/music"
	"github.com/vnutour/tourbot/pkg/audio"
	"github.com/vnutour/tourbot/pkg/audio/ffmpeg"
)

// Compile-time interface assertion.
var _ music.SourceFactory = (*SourceFactory)(nil)

// SourceFactory builds ffmpeg-backed sources for tracks.
type SourceFactory struct {
	ffmpeg *ffmpeg.Factory
}

// NewSourceFactory creates a SourceFactory from the music config.
func NewSourceFactory(cfg config.MusicConfig) *SourceFactory {
	return &SourceFactory{ffmpeg: ffmpeg.NewFactory(ffmpeg.Config{
		Path:              cfg.FFmpegPath,
		ReconnectDelayMax: cfg.ReconnectDelayMax,
		KillGrace:         cfg.KillGrace,
		Mode:              cfg.VolumeMode,
	})}
}

// Capability reports how the built sources change volume.
func (f *SourceFactory) Capability() audio.Capability {
	return f.ffmpeg.Capability()
}

// NewSource implements [music.SourceFactory].
func (f *SourceFactory) NewSource(t music.Track, volume float64, seek time.Duration) (audio.Source, error) {
	src, err := f.ffmpeg.Open(ffmpeg.Request{
		URL:     t.StreamURL,
		Headers: t.Headers(),
		Seek:    seek,
		Volume:  volume,
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}
