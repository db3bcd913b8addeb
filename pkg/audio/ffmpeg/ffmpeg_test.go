package ffmpeg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/vnutour/tourbot/pkg/audio"
)

// helperFactory returns a Factory whose processes re-execute the test binary
// as a fake ffmpeg. behaviour selects what the fake does (see TestHelperProcess).
func helperFactory(t *testing.T, mode Mode, behaviour string) *Factory {
	t.Helper()
	f := NewFactory(Config{Mode: mode, KillGrace: 200 * time.Millisecond})
	f.command = func(name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "TOURBOT_WANT_HELPER_PROCESS=1", "TOURBOT_HELPER="+behaviour)
		return cmd
	}
	return f
}

// TestHelperProcess is not a real test. It stands in for ffmpeg when invoked
// by helperFactory.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("TOURBOT_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	switch b := os.Getenv("TOURBOT_HELPER"); {
	case b == "silent":
		// Exit without writing anything.
	case b == "hang":
		signal.Ignore(syscall.SIGTERM)
		time.Sleep(time.Minute)
	case b == "sleep":
		time.Sleep(time.Minute)
	case b == "flood":
		// Ignore TERM and write until the reader goes away.
		signal.Ignore(syscall.SIGTERM)
		frame := make([]byte, audio.FrameBytes)
		for {
			if _, err := os.Stdout.Write(frame); err != nil {
				return
			}
		}
	default:
		// "bytes:N" writes N bytes of a constant sample and exits.
		n, err := strconv.Atoi(b[len("bytes:"):])
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad helper behaviour", b)
			os.Exit(2)
		}
		frame := audio.Int16sToBytes(slices.Repeat([]int16{1000}, n/2))
		_, _ = os.Stdout.Write(frame)
	}
}

func TestNewFactory_Defaults(t *testing.T) {
	t.Parallel()

	f := NewFactory(Config{Mode: "bogus"})
	if f.Path() != DefaultPath {
		t.Errorf("Path = %q, want %q", f.Path(), DefaultPath)
	}
	if f.cfg.ReconnectDelayMax != DefaultReconnectDelayMax {
		t.Errorf("ReconnectDelayMax = %v", f.cfg.ReconnectDelayMax)
	}
	if f.cfg.KillGrace != DefaultKillGrace {
		t.Errorf("KillGrace = %v", f.cfg.KillGrace)
	}
	if f.Capability() != audio.CapabilityLiveVolume {
		t.Errorf("invalid mode should fall back to pcm, got capability %v", f.Capability())
	}
	if NewFactory(Config{Mode: ModeFilter}).Capability() != audio.CapabilityRebuild {
		t.Error("filter mode should report rebuild capability")
	}
}

func TestArgs(t *testing.T) {
	t.Parallel()

	f := NewFactory(Config{Mode: ModeFilter, ReconnectDelayMax: 3 * time.Second})
	args := f.Args(Request{
		URL:     "https://cdn.example/a.webm",
		Headers: map[string]string{"User-Agent": "ua", "Accept": "*/*"},
		Seek:    1500 * time.Millisecond,
		Volume:  0.5,
	})

	want := []string{
		"-hide_banner", "-loglevel", "warning",
		"-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "3",
		"-nostdin",
		"-headers", "Accept: */*\r\nUser-Agent: ua\r\n",
		"-ss", "1.500",
		"-i", "https://cdn.example/a.webm",
		"-vn", "-f", "s16le", "-ar", "48000", "-ac", "2",
		"-af", "volume=0.50",
		"pipe:1",
	}
	if !slices.Equal(args, want) {
		t.Errorf("Args mismatch\n got: %q\nwant: %q", args, want)
	}
}

func TestArgs_PCMModeOmitsFilter(t *testing.T) {
	t.Parallel()

	f := NewFactory(Config{Mode: ModePCM})
	args := f.Args(Request{URL: "u", Volume: 0.3})
	if slices.Contains(args, "-af") {
		t.Errorf("pcm mode must not pass a volume filter: %q", args)
	}
	if slices.Contains(args, "-ss") {
		t.Errorf("zero seek must not pass -ss: %q", args)
	}
	if slices.Contains(args, "-headers") {
		t.Errorf("no headers must not pass -headers: %q", args)
	}
}

func TestArgs_FilterModeUnityOmitsFilter(t *testing.T) {
	t.Parallel()

	f := NewFactory(Config{Mode: ModeFilter})
	if args := f.Args(Request{URL: "u", Volume: 1.0}); slices.Contains(args, "-af") {
		t.Errorf("unity volume must not pass a filter: %q", args)
	}
}

func TestOpen_EmptyURL(t *testing.T) {
	t.Parallel()

	if _, err := NewFactory(Config{}).Open(Request{}); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestOpen_MissingBinary(t *testing.T) {
	t.Parallel()

	f := NewFactory(Config{Path: "/nonexistent/ffmpeg-tourbot-test"})
	_, err := f.Open(Request{URL: "https://example.com/a"})
	if err == nil {
		t.Fatal("expected spawn error")
	}
	if f.CheckBinary() == nil {
		t.Error("CheckBinary should fail for a missing executable")
	}
}

func TestOpen_ReadsAllFrames(t *testing.T) {
	t.Parallel()

	// Two full frames and a partial third.
	f := helperFactory(t, ModePCM, "bytes:"+strconv.Itoa(audio.FrameBytes*2+100))
	src, err := f.Open(Request{URL: "https://example.com/a", Volume: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Cleanup()

	var frames int
	for {
		frame, err := src.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if len(frame) != audio.FrameBytes {
			t.Fatalf("frame length = %d, want %d", len(frame), audio.FrameBytes)
		}
		frames++
	}
	if frames != 3 {
		t.Errorf("frames = %d, want 3", frames)
	}
	if got, want := src.Position(), 3*audio.FrameDuration; got != want {
		t.Errorf("Position = %v, want %v", got, want)
	}
}

func TestOpen_SilentProcess(t *testing.T) {
	t.Parallel()

	src, err := helperFactory(t, ModePCM, "silent").Open(Request{URL: "u"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Cleanup()

	if _, err := src.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrame = %v, want io.EOF", err)
	}
	if src.Frames() != 0 {
		t.Errorf("Frames = %d, want 0", src.Frames())
	}
}

func TestCleanup_TerminatesRunningProcess(t *testing.T) {
	t.Parallel()

	src, err := helperFactory(t, ModePCM, "sleep").Open(Request{URL: "u"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	done := make(chan struct{})
	go func() {
		src.Cleanup()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Cleanup did not return")
	}

	select {
	case <-src.exited:
	default:
		t.Error("process not reaped after Cleanup")
	}
	if _, err := src.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrame after Cleanup = %v, want io.EOF", err)
	}
	src.Cleanup() // idempotent
}

func TestCleanup_KillsProcessIgnoringTerminate(t *testing.T) {
	t.Parallel()

	src, err := helperFactory(t, ModePCM, "hang").Open(Request{URL: "u"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// Give the helper time to install its signal handler.
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	src.Cleanup()
	if elapsed := time.Since(start); elapsed < src.killGrace {
		t.Errorf("Cleanup returned after %v, expected to wait at least the grace period %v", elapsed, src.killGrace)
	}
	select {
	case <-src.exited:
	default:
		t.Error("process not reaped after kill")
	}
}

func TestCleanup_BlockedWriterExitsWithoutGrace(t *testing.T) {
	t.Parallel()

	f := helperFactory(t, ModePCM, "flood")
	f.cfg.KillGrace = 5 * time.Second
	src, err := f.Open(Request{URL: "u"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := src.ReadFrame(); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	// Let the helper fill the pipe and block on its next write.
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	src.Cleanup()
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Errorf("Cleanup took %v, want well under the %v grace period", elapsed, src.killGrace)
	}
	select {
	case <-src.exited:
	default:
		t.Error("process not reaped after Cleanup")
	}
}
