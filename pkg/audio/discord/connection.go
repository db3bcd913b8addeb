package discord

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/vnutour/tourbot/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Transport          = (*Connection)(nil)
	_ audio.DisconnectNotifier = (*Connection)(nil)
)

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Transport] interface. Each [Connection.Play] call starts a send loop
// that pulls PCM frames from the source, encodes them to Opus, and hands them
// to discordgo, which paces transmission at one packet per 20 ms.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc      *discordgo.VoiceConnection
	session *discordgo.Session
	guildID string

	mu       sync.Mutex
	current  *playback
	resumeCh chan struct{} // non-nil while paused; closed by Resume

	dropCb func()
	dropMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once

	removeHandler func() // removes the VoiceStateUpdate handler

	// disconnectVC is called during Disconnect to tear down the voice connection.
	// Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error

	// setSpeaking toggles the speaking indicator. Defaults to vc.Speaking;
	// overridden in tests.
	setSpeaking func(bool) error
}

// playback is one source being streamed by a send loop.
type playback struct {
	src    audio.Source
	stop   chan struct{}
	result chan error

	stopOnce   sync.Once
	finishOnce sync.Once
	finished   chan struct{}
}

func newPlayback(src audio.Source) *playback {
	return &playback{
		src:      src,
		stop:     make(chan struct{}),
		result:   make(chan error, 1),
		finished: make(chan struct{}),
	}
}

// finish delivers the single completion value. Later calls are no-ops.
func (p *playback) finish(err error) {
	p.finishOnce.Do(func() {
		p.result <- err
		close(p.result)
		close(p.finished)
	})
}

func (p *playback) halt() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *playback) active() bool {
	select {
	case <-p.finished:
		return false
	default:
		return true
	}
}

// newConnection initialises a Connection for an already-joined voice channel.
func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID string) *Connection {
	c := &Connection{
		vc:           vc,
		session:      session,
		guildID:      guildID,
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
		setSpeaking:  vc.Speaking,
	}

	// Detect the bot being kicked or disconnected from voice out of band.
	c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)
	return c
}

// Play implements [audio.Transport]. Any previous playback is stopped first.
func (c *Connection) Play(src audio.Source) <-chan error {
	p := newPlayback(src)

	c.mu.Lock()
	prev := c.current
	c.current = p
	c.mu.Unlock()

	if prev != nil {
		prev.halt()
		prev.finish(nil)
	}

	select {
	case <-c.done:
		p.finish(audio.ErrNotConnected)
		return p.result
	default:
	}

	go c.sendLoop(p)
	return p.result
}

// Stop implements [audio.Transport]. The completion of the stopped playback
// is delivered immediately; the send loop exits on its next iteration.
func (c *Connection) Stop() {
	c.mu.Lock()
	p := c.current
	c.current = nil
	c.mu.Unlock()

	if p != nil {
		p.halt()
		p.finish(nil)
	}
}

// Pause implements [audio.Transport].
func (c *Connection) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resumeCh == nil {
		c.resumeCh = make(chan struct{})
	}
}

// Resume implements [audio.Transport].
func (c *Connection) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resumeCh != nil {
		close(c.resumeCh)
		c.resumeCh = nil
	}
}

// IsPlaying reports whether a source is currently being streamed, including
// while paused.
func (c *Connection) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.active()
}

// IsPaused implements [audio.Transport].
func (c *Connection) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumeCh != nil
}

// IsConnected implements [audio.Transport].
func (c *Connection) IsConnected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// ChannelID implements [audio.Transport].
func (c *Connection) ChannelID() string {
	return c.vc.ChannelID
}

// OnDisconnect registers cb to run when the voice connection is dropped by
// Discord rather than by [Connection.Disconnect]. Only one callback may be
// registered; subsequent calls replace the previous one.
func (c *Connection) OnDisconnect(cb func()) {
	c.dropMu.Lock()
	defer c.dropMu.Unlock()
	c.dropCb = cb
}

// Disconnect cleanly tears down the voice connection and stops any playback.
// It is safe to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.Stop()
		c.Resume()

		if c.removeHandler != nil {
			c.removeHandler()
		}
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
	})
	return err
}

// waitIfPaused blocks while the connection is paused. It returns false if the
// playback was stopped or the connection closed in the meantime.
func (c *Connection) waitIfPaused(p *playback) bool {
	c.mu.Lock()
	ch := c.resumeCh
	c.mu.Unlock()
	if ch == nil {
		return true
	}

	c.speaking(false)
	select {
	case <-ch:
		return true
	case <-p.stop:
		return false
	case <-c.done:
		return false
	}
}

// sendLoop streams p.src until it ends, the playback is stopped, or the
// connection closes, then delivers exactly one completion value.
func (c *Connection) sendLoop(p *playback) {
	enc, err := newOpusEncoder()
	if err != nil {
		p.finish(err)
		return
	}

	var frames int
	speaking := false
	defer func() {
		if speaking {
			c.speaking(false)
		}
	}()

	for {
		if !c.waitIfPaused(p) {
			p.finish(nil)
			return
		}
		select {
		case <-p.stop:
			p.finish(nil)
			return
		case <-c.done:
			p.finish(audio.ErrNotConnected)
			return
		default:
		}

		pcm, err := p.src.ReadFrame()
		if err != nil {
			switch {
			case !errors.Is(err, io.EOF):
				p.finish(fmt.Errorf("discord: read frame: %w", err))
			case frames == 0:
				p.finish(audio.ErrEmptyStream)
			default:
				p.finish(nil)
			}
			return
		}

		opus, err := enc.encode(pcm)
		if err != nil {
			slog.Warn("discord: opus encode error", "guild_id", c.guildID, "error", err)
			continue
		}

		if !speaking {
			c.speaking(true)
			speaking = true
		}

		select {
		case c.vc.OpusSend <- opus:
			frames++
		case <-p.stop:
			p.finish(nil)
			return
		case <-c.done:
			p.finish(audio.ErrNotConnected)
			return
		}
	}
}

// handleVoiceStateUpdate watches for the bot itself leaving the voice channel
// in this guild without going through Disconnect (kicked, channel deleted).
func (c *Connection) handleVoiceStateUpdate(s *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.GuildID != c.guildID || vsu.ChannelID != "" {
		return
	}
	if s.State == nil || s.State.User == nil || vsu.UserID != s.State.User.ID {
		return
	}
	if !c.IsConnected() {
		return
	}

	slog.Info("discord: voice connection dropped", "guild_id", c.guildID)
	c.dropMu.Lock()
	cb := c.dropCb
	c.dropMu.Unlock()
	if cb != nil {
		go cb()
	}
}

// speaking sends a speaking notification to Discord, logging any errors.
func (c *Connection) speaking(b bool) {
	if c.setSpeaking == nil {
		return
	}
	if err := c.setSpeaking(b); err != nil {
		slog.Debug("discord: speaking notification error", "speaking", b, "error", err)
	}
}
