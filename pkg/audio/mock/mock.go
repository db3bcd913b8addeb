// Package mock provides in-memory mock implementations of the [audio.Source],
// [audio.Transport] and [audio.Platform] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	tr := &mock.Transport{}
//	platform := &mock.Platform{ConnectResult: tr}
//	got, _ := platform.Connect(ctx, "guild-1", "channel-42")
//	done := got.Play(&mock.Source{})
//	tr.Finish(nil) // the track ended naturally
//	<-done
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/vnutour/tourbot/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. It yields Frames silent
// frames and then io.EOF.
type Source struct {
	mu sync.Mutex

	// Label identifies the source in test assertions.
	Label string

	// Frames is the number of frames ReadFrame returns before io.EOF.
	Frames int

	// Cap is returned by Capability.
	Cap audio.Capability

	// Seek is the initial position offset.
	Seek time.Duration

	// Vol is the current volume multiplier.
	Vol float64

	// CleanupDelay makes Cleanup block this long, like a process that is
	// slow to exit.
	CleanupDelay time.Duration

	read int

	// CallCountCleanup records how many times Cleanup was called.
	CallCountCleanup int

	// VolumeCalls records every value passed to SetVolume.
	VolumeCalls []float64
}

// ReadFrame implements [audio.Source].
func (s *Source) ReadFrame() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CallCountCleanup > 0 || s.read >= s.Frames {
		return nil, io.EOF
	}
	s.read++
	return make([]byte, audio.FrameBytes), nil
}

// SetVolume implements [audio.Source].
func (s *Source) SetVolume(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.VolumeCalls = append(s.VolumeCalls, v)
	if s.Cap != audio.CapabilityLiveVolume {
		return audio.ErrVolumeUnsupported
	}
	s.Vol = audio.ClampVolume(v)
	return nil
}

// Volume implements [audio.Source].
func (s *Source) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Vol
}

// Capability implements [audio.Source].
func (s *Source) Capability() audio.Capability {
	return s.Cap
}

// Position implements [audio.Source].
func (s *Source) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Seek + time.Duration(s.read)*audio.FrameDuration
}

// Cleanup implements [audio.Source].
func (s *Source) Cleanup() {
	if s.CleanupDelay > 0 {
		time.Sleep(s.CleanupDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountCleanup++
}

// CleanedUp reports whether Cleanup has been called at least once.
func (s *Source) CleanedUp() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountCleanup > 0
}

// ─── Transport ────────────────────────────────────────────────────────────────

// Transport is a mock implementation of [audio.Transport]. Playback never
// ends on its own; tests call [Transport.Finish] to simulate the end of the
// current source.
type Transport struct {
	mu sync.Mutex

	// Channel is returned by ChannelID.
	Channel string

	// DisconnectError is returned by the first Disconnect call.
	DisconnectError error

	// Played records every source passed to Play, in order.
	Played []audio.Source

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountPause and CallCountResume record pause/resume calls.
	CallCountPause  int
	CallCountResume int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	current      chan error
	paused       bool
	disconnected bool
	dropCb       func()
}

// Play implements [audio.Transport]. A still-pending previous playback is
// completed with nil.
func (t *Transport) Play(src audio.Source) <-chan error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completeLocked(nil)
	t.Played = append(t.Played, src)
	ch := make(chan error, 1)
	if t.disconnected {
		ch <- audio.ErrNotConnected
		close(ch)
		return ch
	}
	t.current = ch
	return ch
}

// Finish completes the current playback with err, as if the source had ended.
// It reports whether a playback was pending.
func (t *Transport) Finish(err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completeLocked(err)
}

func (t *Transport) completeLocked(err error) bool {
	if t.current == nil {
		return false
	}
	t.current <- err
	close(t.current)
	t.current = nil
	return true
}

// Stop implements [audio.Transport].
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountStop++
	t.completeLocked(nil)
}

// Pause implements [audio.Transport].
func (t *Transport) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountPause++
	t.paused = true
}

// Resume implements [audio.Transport].
func (t *Transport) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountResume++
	t.paused = false
}

// IsPlaying implements [audio.Transport].
func (t *Transport) IsPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current != nil
}

// IsPaused implements [audio.Transport].
func (t *Transport) IsPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// IsConnected implements [audio.Transport].
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.disconnected
}

// ChannelID implements [audio.Transport].
func (t *Transport) ChannelID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Channel
}

// Disconnect implements [audio.Transport].
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountDisconnect++
	if t.disconnected {
		return nil
	}
	t.disconnected = true
	t.completeLocked(nil)
	return t.DisconnectError
}

// OnDisconnect implements [audio.DisconnectNotifier].
func (t *Transport) OnDisconnect(cb func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropCb = cb
}

// Drop simulates the remote side closing the voice connection.
func (t *Transport) Drop() {
	t.mu.Lock()
	cb := t.dropCb
	t.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// PlayCount returns the number of Play calls so far.
func (t *Transport) PlayCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Played)
}

// LastPlayed returns the most recent source passed to Play, or nil.
func (t *Transport) LastPlayed() audio.Source {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.Played) == 0 {
		return nil
	}
	return t.Played[len(t.Played)-1]
}

// StopCount returns the number of Stop calls so far.
func (t *Transport) StopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CallCountStop
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	GuildID   string
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is returned by Connect. A fresh [Transport] is created
	// for every call when nil.
	ConnectResult audio.Transport

	// ConnectErr is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every invocation of Connect.
	ConnectCalls []ConnectCall
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(_ context.Context, guildID, channelID string) (audio.Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{GuildID: guildID, ChannelID: channelID})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.ConnectResult != nil {
		return p.ConnectResult, nil
	}
	return &Transport{Channel: channelID}, nil
}
