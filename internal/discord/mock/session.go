// Package mock provides test doubles for Discord interaction testing.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// InteractionResponder records interaction responses for test assertions.
// It satisfies discord.Responder.
type InteractionResponder struct {
	mu sync.Mutex

	// Responses records all InteractionRespond calls.
	Responses []*discordgo.InteractionResponse

	// FollowUps records all FollowupMessageCreate calls.
	FollowUps []*discordgo.WebhookParams

	// Err is returned by InteractionRespond and FollowupMessageCreate
	// when non-nil, allowing error injection.
	Err error
}

// InteractionRespond records the response and returns the configured error.
func (m *InteractionResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, resp)
	return m.Err
}

// FollowupMessageCreate records the follow-up and returns a stub message.
func (m *InteractionResponder) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, params *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FollowUps = append(m.FollowUps, params)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "mock-followup"}, nil
}

// LastResponse returns the most recently recorded response, or nil.
func (m *InteractionResponder) LastResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Responses) == 0 {
		return nil
	}
	return m.Responses[len(m.Responses)-1]
}

// LastFollowUp returns the most recently recorded follow-up, or nil.
func (m *InteractionResponder) LastFollowUp() *discordgo.WebhookParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.FollowUps) == 0 {
		return nil
	}
	return m.FollowUps[len(m.FollowUps)-1]
}

// LastContent returns the text of the most recent message of either kind:
// the last follow-up if any were sent, otherwise the last response. Embed
// titles and descriptions are appended so tests can match on them.
func (m *InteractionResponder) LastContent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.FollowUps); n > 0 {
		f := m.FollowUps[n-1]
		return withEmbeds(f.Content, f.Embeds)
	}
	if n := len(m.Responses); n > 0 && m.Responses[n-1].Data != nil {
		d := m.Responses[n-1].Data
		return withEmbeds(d.Content, d.Embeds)
	}
	return ""
}

// Ephemeral reports whether the most recent message was ephemeral.
func (m *InteractionResponder) Ephemeral() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.FollowUps); n > 0 {
		return m.FollowUps[n-1].Flags&discordgo.MessageFlagsEphemeral != 0
	}
	if n := len(m.Responses); n > 0 && m.Responses[n-1].Data != nil {
		return m.Responses[n-1].Data.Flags&discordgo.MessageFlagsEphemeral != 0
	}
	return false
}

// Reset clears all recorded interactions and errors.
func (m *InteractionResponder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = nil
	m.FollowUps = nil
	m.Err = nil
}

// MessageSender records channel messages. It satisfies discord.MessageSender.
type MessageSender struct {
	mu sync.Mutex

	// Sent records every message in order; ChannelIDs holds the channel
	// each one was posted to.
	Sent       []*discordgo.MessageSend
	ChannelIDs []string

	// Err is returned by ChannelMessageSendComplex when non-nil.
	Err error
}

// ChannelMessageSendComplex records the message and returns the configured error.
func (m *MessageSender) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, data)
	m.ChannelIDs = append(m.ChannelIDs, channelID)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "mock-message", ChannelID: channelID}, nil
}

// Count returns the number of recorded messages.
func (m *MessageSender) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

func withEmbeds(content string, embeds []*discordgo.MessageEmbed) string {
	for _, e := range embeds {
		if e == nil {
			continue
		}
		content += "\n" + e.Title + "\n" + e.Description
	}
	return content
}
