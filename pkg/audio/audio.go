// Package audio defines the interfaces and types for voice transport and
// decoded audio sources used by the tourbot music engine.
//
// The three primary abstractions are:
//
//   - [Source]: a pull-based reader of fixed-size PCM frames backed by an
//     external decode process.
//   - [Platform]: connects to a voice channel and returns a [Transport].
//   - [Transport]: an active voice connection that consumes a [Source] frame
//     by frame and reports completion exactly once per [Transport.Play] call.
//
// Implementations live in platform- and backend-specific packages
// (audio/discord, audio/ffmpeg). The interfaces are intentionally narrow to
// keep the playback session decoupled from provider details.
package audio

import (
	"context"
	"errors"
	"time"
)

// PCM format shared by every Source and Transport: 48 kHz, stereo, signed
// 16-bit little-endian samples, delivered in 20 ms frames.
const (
	SampleRate    = 48000
	Channels      = 2
	FrameDuration = 20 * time.Millisecond

	// FrameSamples is the number of samples per channel in one frame (960).
	FrameSamples = SampleRate * int(FrameDuration/time.Millisecond) / 1000

	// FrameBytes is the size of one interleaved s16le frame (3840).
	FrameBytes = FrameSamples * Channels * 2
)

// Volume bounds accepted by [Source.SetVolume]. Values outside the range are
// clamped by [ClampVolume].
const (
	MinVolume = 0.0
	MaxVolume = 2.0
)

var (
	// ErrVolumeUnsupported is returned by [Source.SetVolume] when the source
	// cannot change volume in place and must be rebuilt instead.
	ErrVolumeUnsupported = errors.New("audio: source does not support live volume")

	// ErrEmptyStream is reported on a [Transport.Play] completion channel when
	// the source ended before producing a single frame.
	ErrEmptyStream = errors.New("audio: stream ended before any audio was sent")

	// ErrNotConnected is returned when a transport operation is attempted
	// after the voice connection has been torn down.
	ErrNotConnected = errors.New("audio: transport is not connected")
)

// Capability describes how a [Source] applies volume changes. It is resolved
// once when the source is constructed.
type Capability int

const (
	// CapabilityLiveVolume sources scale samples in-process; [Source.SetVolume]
	// takes effect on the next frame without restarting anything.
	CapabilityLiveVolume Capability = iota

	// CapabilityRebuild sources bake the volume into the decode process. A
	// volume change requires destroying the source and building a replacement
	// seeked to the current position.
	CapabilityRebuild
)

// String returns the human-readable name of the capability.
func (c Capability) String() string {
	switch c {
	case CapabilityLiveVolume:
		return "live"
	case CapabilityRebuild:
		return "rebuild"
	default:
		return "unknown"
	}
}

// Source is a pull-based reader of decoded audio frames.
//
// Implementations must be safe for one reader goroutine calling ReadFrame
// concurrently with any goroutine calling SetVolume, Position or Cleanup.
type Source interface {
	// ReadFrame returns the next [FrameBytes]-sized frame of s16le stereo PCM.
	// Once the underlying stream has ended (or the source was cleaned up) it
	// returns io.EOF; it never panics on a dead process.
	ReadFrame() ([]byte, error)

	// SetVolume updates the volume multiplier. For [CapabilityLiveVolume]
	// sources the change applies to the very next frame read; other sources
	// return [ErrVolumeUnsupported].
	SetVolume(v float64) error

	// Volume returns the multiplier currently applied.
	Volume() float64

	// Capability reports how volume changes are applied.
	Capability() Capability

	// Position returns the playback position: the initial seek offset plus
	// the duration of all frames read so far.
	Position() time.Duration

	// Cleanup terminates the underlying process and releases resources.
	// It is idempotent and safe to call on a source that never started.
	Cleanup()
}

// Transport is an active voice connection that plays one [Source] at a time.
//
// Implementations must be safe for concurrent use.
type Transport interface {
	// Play starts consuming src and returns a channel that receives exactly
	// one value when playback ends: nil on natural end-of-stream, a non-nil
	// error otherwise (including [ErrEmptyStream]). The channel is closed
	// after the value is sent. Any source already playing is stopped first.
	Play(src Source) <-chan error

	// Stop halts output immediately without draining buffered audio. The
	// pending Play completion receives nil. No-op when idle.
	Stop()

	// Pause suspends frame consumption; Resume continues it.
	Pause()
	Resume()

	IsPlaying() bool
	IsPaused() bool
	IsConnected() bool

	// ChannelID returns the voice channel this transport is connected to.
	ChannelID() string

	// Disconnect stops playback and leaves the voice channel. Safe to call
	// more than once; subsequent calls return nil.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins channelID in guildID. ctx bounds the connection attempt
	// only; the returned Transport lives until [Transport.Disconnect].
	Connect(ctx context.Context, guildID, channelID string) (Transport, error)
}

// DisconnectNotifier is implemented by transports that can detect the voice
// connection being dropped from the remote side.
type DisconnectNotifier interface {
	// OnDisconnect registers cb to be called, at most once per drop, when the
	// connection is lost without a local [Transport.Disconnect].
	OnDisconnect(cb func())
}
