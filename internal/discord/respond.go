package discord

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Responder is the subset of [*discordgo.Session] used to answer
// interactions.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// UserError is an error whose message is meant for the user who issued the
// command. The router replies with it verbatim.
type UserError struct {
	Msg string
}

// Error implements [error].
func (e *UserError) Error() string { return e.Msg }

// Userf builds a [*UserError] from a format string.
func Userf(format string, args ...any) error {
	return &UserError{Msg: fmt.Sprintf(format, args...)}
}

// IsUserError reports whether err carries a user-facing message.
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}

// Reply answers a single interaction. The first message becomes the
// interaction response; later ones, and every message after [Reply.Defer],
// are sent as follow-ups. Safe for concurrent use.
type Reply struct {
	r Responder
	i *discordgo.Interaction

	mu        sync.Mutex
	responded bool
}

// NewReply creates a Reply for interaction i.
func NewReply(r Responder, i *discordgo.Interaction) *Reply {
	return &Reply{r: r, i: i}
}

// Responded reports whether the initial response has been sent.
func (rp *Reply) Responded() bool {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.responded
}

// Defer acknowledges the interaction so that slow work (voice join,
// extraction) can finish within Discord's response window. The final
// message is visible to the channel unless ephemeral is set. Deferring
// twice is a no-op.
func (rp *Reply) Defer(ephemeral bool) error {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.responded {
		return nil
	}
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	if err := rp.r.InteractionRespond(rp.i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: data,
	}); err != nil {
		return fmt.Errorf("discord: defer reply: %w", err)
	}
	rp.responded = true
	return nil
}

// Text sends a plain message visible to the whole channel.
func (rp *Reply) Text(content string) error {
	return rp.send(content, nil, false)
}

// Ephemeral sends a plain message only the invoking user can see.
func (rp *Reply) Ephemeral(content string) error {
	return rp.send(content, nil, true)
}

// Embed sends an embed visible to the whole channel.
func (rp *Reply) Embed(embed *discordgo.MessageEmbed) error {
	return rp.send("", embed, false)
}

func (rp *Reply) send(content string, embed *discordgo.MessageEmbed, ephemeral bool) error {
	var (
		embeds []*discordgo.MessageEmbed
		flags  discordgo.MessageFlags
	)
	if embed != nil {
		embeds = []*discordgo.MessageEmbed{embed}
	}
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.responded {
		_, err := rp.r.FollowupMessageCreate(rp.i, true, &discordgo.WebhookParams{
			Content: content,
			Embeds:  embeds,
			Flags:   flags,
		})
		if err != nil {
			return fmt.Errorf("discord: follow-up: %w", err)
		}
		return nil
	}

	err := rp.r.InteractionRespond(rp.i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Embeds:  embeds,
			Flags:   flags,
		},
	})
	if err != nil {
		return fmt.Errorf("discord: respond: %w", err)
	}
	rp.responded = true
	return nil
}
