// Package ffmpeg provides an [audio.Source] backed by an ffmpeg child process
// that decodes a remote stream to 48 kHz stereo s16le PCM on its stdout.
//
// Volume is applied in one of two ways, chosen once per [Factory]:
//
//   - [ModePCM] scales samples in Go as frames are read. Sources report
//     [audio.CapabilityLiveVolume] and volume changes are gapless.
//   - [ModeFilter] bakes the volume into ffmpeg's "-af volume=" filter.
//     Sources report [audio.CapabilityRebuild]; the caller must rebuild the
//     source (seeked to the current position) to change volume.
package ffmpeg

import (
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/vnutour/tourbot/pkg/audio"
)

// Mode selects how a [Factory]'s sources apply volume.
type Mode string

const (
	ModePCM    Mode = "pcm"
	ModeFilter Mode = "ffmpeg"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModePCM || m == ModeFilter
}

// Defaults applied by [NewFactory] to zero-valued [Config] fields.
const (
	DefaultPath              = "ffmpeg"
	DefaultReconnectDelayMax = 5 * time.Second
	DefaultKillGrace         = 2 * time.Second
)

// Config tunes the ffmpeg invocation.
type Config struct {
	// Path is the ffmpeg executable. Default: "ffmpeg" (resolved via PATH).
	Path string

	// ReconnectDelayMax caps ffmpeg's reconnect backoff for stalled network
	// streams. Default: 5s.
	ReconnectDelayMax time.Duration

	// KillGrace is how long Cleanup waits after a graceful terminate before
	// force-killing the process. Default: 2s.
	KillGrace time.Duration

	// Mode selects in-process or filter-based volume. Default: ModePCM.
	Mode Mode
}

// Request describes one stream to decode.
type Request struct {
	// URL is the direct media stream URL.
	URL string

	// Headers are HTTP headers required to fetch the stream. May be nil.
	Headers map[string]string

	// Seek starts decoding at this offset into the stream.
	Seek time.Duration

	// Volume is the initial multiplier, clamped to [0, 2].
	Volume float64
}

// Factory builds ffmpeg-backed sources. It is safe for concurrent use.
type Factory struct {
	cfg Config

	// command builds the process; overridden in tests.
	command func(name string, args ...string) *exec.Cmd
}

// NewFactory creates a Factory, filling zero-valued config fields with defaults.
func NewFactory(cfg Config) *Factory {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.ReconnectDelayMax <= 0 {
		cfg.ReconnectDelayMax = DefaultReconnectDelayMax
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if !cfg.Mode.IsValid() {
		cfg.Mode = ModePCM
	}
	return &Factory{cfg: cfg, command: exec.Command}
}

// Capability reports the volume capability of every source this factory builds.
func (f *Factory) Capability() audio.Capability {
	if f.cfg.Mode == ModeFilter {
		return audio.CapabilityRebuild
	}
	return audio.CapabilityLiveVolume
}

// Path returns the configured ffmpeg executable.
func (f *Factory) Path() string {
	return f.cfg.Path
}

// CheckBinary verifies that the ffmpeg executable can be resolved.
func (f *Factory) CheckBinary() error {
	if _, err := exec.LookPath(f.cfg.Path); err != nil {
		return fmt.Errorf("ffmpeg: executable %q not found: %w", f.cfg.Path, err)
	}
	return nil
}

// Open starts an ffmpeg process for req and returns a Source reading its
// output. The process is not tied to any context; it lives until
// [Source.Cleanup] is called or the stream ends.
func (f *Factory) Open(req Request) (*Source, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("ffmpeg: empty stream url")
	}
	vol := audio.ClampVolume(req.Volume)

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: create pipe: %w", err)
	}

	cmd := f.command(f.cfg.Path, f.Args(req)...)
	cmd.Stdout = pw
	cmd.Stderr = &lineLogger{}

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("ffmpeg: start %q: %w", f.cfg.Path, err)
	}
	// The child holds its own copy of the write end; closing ours lets reads
	// observe EOF as soon as the child exits.
	_ = pw.Close()

	s := newSource(pr, f.Capability(), req.Seek, vol)
	s.attach(cmd, f.cfg.KillGrace)
	return s, nil
}

// Args builds the ffmpeg argument list for req.
func (f *Factory) Args(req Request) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", strconv.Itoa(int(f.cfg.ReconnectDelayMax / time.Second)),
		"-nostdin",
	}
	if h := formatHeaders(req.Headers); h != "" {
		args = append(args, "-headers", h)
	}
	if req.Seek > 0 {
		args = append(args, "-ss", strconv.FormatFloat(req.Seek.Seconds(), 'f', 3, 64))
	}
	args = append(args,
		"-i", req.URL,
		"-vn",
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
	)
	if vol := audio.ClampVolume(req.Volume); f.cfg.Mode == ModeFilter && vol != 1.0 {
		args = append(args, "-af", "volume="+strconv.FormatFloat(vol, 'f', 2, 64))
	}
	return append(args, "pipe:1")
}

// formatHeaders renders headers in the CRLF-separated form ffmpeg expects,
// sorted by key so the argument list is deterministic.
func formatHeaders(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(headers[k])
		b.WriteString("\r\n")
	}
	return b.String()
}
