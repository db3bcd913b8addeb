package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/vnutour/tourbot/internal/music"
)

// Compile-time interface assertion.
var _ music.StatusSink = (*StatusPoster)(nil)

// MessageSender is the subset of [*discordgo.Session] used to post messages
// to a text channel.
type MessageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// StatusPoster renders session [music.Status] notifications as channel
// messages.
type StatusPoster struct {
	sender MessageSender
}

// NewStatusPoster creates a StatusPoster that posts through sender.
func NewStatusPoster(sender MessageSender) *StatusPoster {
	return &StatusPoster{sender: sender}
}

// Post implements [music.StatusSink].
func (p *StatusPoster) Post(ctx context.Context, channelID string, st music.Status) error {
	msg := StatusMessage(st)
	if msg == nil {
		return nil
	}
	if _, err := p.sender.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: post %s status: %w", st.Kind, err)
	}
	return nil
}

// StatusMessage builds the channel message for st, or nil when the status
// kind is not announced.
func StatusMessage(st music.Status) *discordgo.MessageSend {
	switch st.Kind {
	case music.StatusNowPlaying:
		return &discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{NowPlayingEmbed(st.Track, 0, st.Volume, st.Queued)},
		}
	case music.StatusTrackFailed:
		return &discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{TrackFailedEmbed(st.Track, st.Err)},
		}
	case music.StatusQueueEnded:
		return &discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{{
				Description: "Queue finished. Use `/play` to add more.",
				Color:       embedColorGrey,
			}},
		}
	case music.StatusFailureLimit:
		return &discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{{
				Title:       "Playback stopped",
				Description: "Too many tracks in a row failed to play, so the queue was cleared.",
				Color:       embedColorRed,
				Fields: []*discordgo.MessageEmbedField{
					{Name: "Last error", Value: truncate(errText(st.Err), 1024)},
				},
			}},
		}
	}
	return nil
}
