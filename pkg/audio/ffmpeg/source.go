package ffmpeg

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/vnutour/tourbot/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

// readBufferSize holds roughly a quarter second of PCM.
const readBufferSize = audio.FrameBytes * 12

// Source is an [audio.Source] reading PCM from an ffmpeg process.
//
// ReadFrame must be called from a single goroutine; every other method is
// safe for concurrent use.
type Source struct {
	r          *bufio.Reader
	closer     io.Closer
	capability audio.Capability
	seek       time.Duration

	volume atomic.Uint64 // math.Float64bits of the multiplier
	frames atomic.Int64
	closed atomic.Bool

	cmd       *exec.Cmd
	killGrace time.Duration
	exited    chan struct{} // closed once the process has been reaped

	cleanupOnce sync.Once
}

// newSource wraps r. The process, if any, is attached separately.
func newSource(r io.ReadCloser, capability audio.Capability, seek time.Duration, vol float64) *Source {
	s := &Source{
		r:          bufio.NewReaderSize(r, readBufferSize),
		closer:     r,
		capability: capability,
		seek:       seek,
	}
	s.volume.Store(math.Float64bits(audio.ClampVolume(vol)))
	return s
}

// attach binds a started process to the source and reaps it in the background.
func (s *Source) attach(cmd *exec.Cmd, killGrace time.Duration) {
	s.cmd = cmd
	s.killGrace = killGrace
	s.exited = make(chan struct{})
	go func() {
		err := cmd.Wait()
		if err != nil && !s.closed.Load() {
			slog.Debug("ffmpeg: process exited", "pid", cmd.Process.Pid, "err", err)
		}
		close(s.exited)
	}()
}

// ReadFrame returns the next [audio.FrameBytes] of PCM with the current
// volume applied. A short final frame is zero-padded. After the stream ends,
// or after Cleanup, it returns io.EOF.
func (s *Source) ReadFrame() ([]byte, error) {
	if s.closed.Load() {
		return nil, io.EOF
	}

	buf := make([]byte, audio.FrameBytes)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF):
		clear(buf[n:])
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	default:
		if !s.closed.Load() {
			slog.Debug("ffmpeg: read error treated as end of stream", "err", err)
		}
		return nil, io.EOF
	}

	if s.capability == audio.CapabilityLiveVolume {
		audio.ScaleVolume(buf, s.Volume())
	}
	s.frames.Add(1)
	return buf, nil
}

// SetVolume implements [audio.Source].
func (s *Source) SetVolume(v float64) error {
	if s.capability != audio.CapabilityLiveVolume {
		return audio.ErrVolumeUnsupported
	}
	s.volume.Store(math.Float64bits(audio.ClampVolume(v)))
	return nil
}

// Volume implements [audio.Source].
func (s *Source) Volume() float64 {
	return math.Float64frombits(s.volume.Load())
}

// Capability implements [audio.Source].
func (s *Source) Capability() audio.Capability {
	return s.capability
}

// Position implements [audio.Source].
func (s *Source) Position() time.Duration {
	return s.seek + time.Duration(s.frames.Load())*audio.FrameDuration
}

// Frames returns the number of frames read so far.
func (s *Source) Frames() int64 {
	return s.frames.Load()
}

// Cleanup closes the read end of the pipe, terminates ffmpeg gracefully, and
// force-kills it if it is still alive after the grace period. Errors are
// logged and swallowed. Safe to call repeatedly and on a nil receiver.
//
// The pipe is closed first: ffmpeg blocked on a full pipe gets EPIPE and
// exits without waiting for a signal.
func (s *Source) Cleanup() {
	if s == nil {
		return
	}
	s.cleanupOnce.Do(func() {
		s.closed.Store(true)
		if s.closer != nil {
			_ = s.closer.Close()
		}
		s.stopProcess()
	})
}

func (s *Source) stopProcess() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	select {
	case <-s.exited:
		return
	default:
	}

	pid := s.cmd.Process.Pid
	if err := terminate(s.cmd, pid); err != nil {
		slog.Debug("ffmpeg: terminate failed", "pid", pid, "err", err)
	}

	timer := time.NewTimer(s.killGrace)
	defer timer.Stop()
	select {
	case <-s.exited:
		return
	case <-timer.C:
	}

	slog.Warn("ffmpeg: process ignored terminate, killing", "pid", pid, "grace", s.killGrace)
	if err := kill(s.cmd, pid); err != nil {
		slog.Debug("ffmpeg: kill failed", "pid", pid, "err", err)
	}

	timer.Reset(s.killGrace)
	select {
	case <-s.exited:
	case <-timer.C:
		slog.Error("ffmpeg: process still alive after kill", "pid", pid)
	}
}

// terminate asks the process to exit using the platform's graceful mechanism
// (SIGTERM on Unix, TerminateProcess on Windows).
func terminate(cmd *exec.Cmd, pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		// Already gone, or not visible to gopsutil; fall back to os.Process.
		return cmd.Process.Kill()
	}
	return p.Terminate()
}

// kill force-kills the process.
func kill(cmd *exec.Cmd, pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return cmd.Process.Kill()
	}
	return p.Kill()
}

// lineLogger forwards ffmpeg's stderr to slog at debug level, one record per line.
type lineLogger struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write(p)
	for {
		line, err := l.buf.ReadString('\n')
		if err != nil {
			// Incomplete line: keep it for the next write.
			l.buf.Reset()
			l.buf.WriteString(line)
			return len(p), nil
		}
		if line = trimEOL(line); line != "" {
			slog.Debug("ffmpeg", "line", line)
		}
	}
}

func trimEOL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
