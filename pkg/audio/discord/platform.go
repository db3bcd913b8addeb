// Package discord provides an [audio.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. It bridges the
// PCM [audio.Source] pipeline with Discord's Opus voice transport.
//
// The platform requires an active *discordgo.Session (owned by the bot layer).
// Each call to [Platform.Connect] joins the specified voice channel and
// returns a [Connection] that streams one source at a time.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/vnutour/tourbot/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// Platform implements [audio.Platform] using discordgo voice connections.
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
}

// New creates a new Discord Platform for the given session.
func New(session *discordgo.Session) *Platform {
	return &Platform{session: session}
}

// Connect joins the voice channel identified by channelID and returns an
// active [audio.Transport]. The supplied ctx governs the connection-setup
// phase only; once returned the Connection lives until [Connection.Disconnect].
func (p *Platform) Connect(ctx context.Context, guildID, channelID string) (audio.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// mute=false (we send audio), deaf=true (we never read incoming audio).
	vc, err := p.session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	if err := ctx.Err(); err != nil {
		_ = vc.Disconnect()
		return nil, err
	}
	return newConnection(vc, p.session, guildID), nil
}
