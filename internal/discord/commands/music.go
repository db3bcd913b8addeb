// Package commands implements the slash commands users drive playback with.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/vnutour/tourbot/internal/discord"
	"github.com/vnutour/tourbot/internal/extract"
	"github.com/vnutour/tourbot/internal/music"
	"github.com/vnutour/tourbot/pkg/audio"
)

// DefaultConnectTimeout bounds joining a voice channel from /play.
const DefaultConnectTimeout = 15 * time.Second

// Volume option bounds, in percent.
const (
	minVolumePercent = 0
	maxVolumePercent = 200
)

// MusicConfig holds the dependencies of [MusicCommands].
type MusicConfig struct {
	Registry  *music.Registry
	Extractor music.Extractor
	Platform  audio.Platform
	Perms     *discord.PermissionChecker

	// Limiter throttles /play per user. Nil disables throttling.
	Limiter *discord.UserLimiter

	// VoiceChannel reports the voice channel a member is connected to.
	VoiceChannel func(guildID, userID string) (string, bool)

	// ConnectTimeout bounds joining a voice channel. Defaults to
	// [DefaultConnectTimeout].
	ConnectTimeout time.Duration
}

// MusicCommands handles /play, /skip, /stop, /leave, /queue, /volume,
// /pause, /resume and /nowplaying.
type MusicCommands struct {
	cfg MusicConfig

	// joinMu serialises voice setup so two concurrent /play calls in the
	// same guild never both connect.
	joinMu sync.Mutex
}

// NewMusicCommands creates a MusicCommands handler.
func NewMusicCommands(cfg MusicConfig) *MusicCommands {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Perms == nil {
		cfg.Perms = discord.NewPermissionChecker("")
	}
	return &MusicCommands{cfg: cfg}
}

// Register registers every music command with the router.
func (mc *MusicCommands) Register(router *discord.CommandRouter) {
	handlers := map[string]discord.HandlerFunc{
		"play":       mc.handlePlay,
		"skip":       mc.handleSkip,
		"stop":       mc.handleStop,
		"leave":      mc.handleLeave,
		"queue":      mc.handleQueue,
		"volume":     mc.handleVolume,
		"pause":      mc.handlePause,
		"resume":     mc.handleResume,
		"nowplaying": mc.handleNowPlaying,
	}
	for _, def := range Definitions() {
		router.RegisterCommand(def.Name, def, handlers[def.Name])
	}
}

// Definitions returns the application commands for Discord registration.
func Definitions() []*discordgo.ApplicationCommand {
	minVolume := float64(minVolumePercent)
	return []*discordgo.ApplicationCommand{
		{
			Name:        "play",
			Description: "Play a track from a URL or search query",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "query",
					Description: "URL or search terms",
					Type:        discordgo.ApplicationCommandOptionString,
					Required:    true,
				},
			},
		},
		{Name: "skip", Description: "Skip the current track"},
		{Name: "stop", Description: "Stop playback and clear the queue"},
		{Name: "leave", Description: "Leave the voice channel"},
		{Name: "queue", Description: "Show the queue"},
		{
			Name:        "volume",
			Description: "Set the playback volume",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "level",
					Description: "Volume in percent (0-200)",
					Type:        discordgo.ApplicationCommandOptionInteger,
					Required:    true,
					MinValue:    &minVolume,
					MaxValue:    maxVolumePercent,
				},
			},
		},
		{Name: "pause", Description: "Pause the current track"},
		{Name: "resume", Description: "Resume the current track"},
		{Name: "nowplaying", Description: "Show the current track"},
	}
}

// ─── /play ────────────────────────────────────────────────────────────────────

func (mc *MusicCommands) handlePlay(ctx context.Context, rp *discord.Reply, i *discordgo.InteractionCreate) error {
	if i.GuildID == "" {
		return discord.Userf("Music commands only work in a server.")
	}
	userID := discord.InteractionUserID(i)
	query := strings.TrimSpace(stringOption(i, "query"))
	if query == "" {
		return discord.Userf("Tell me what to play: a link or some search terms.")
	}
	if mc.cfg.Limiter != nil && !mc.cfg.Limiter.Allow(userID) {
		return discord.Userf("You're queueing tracks too fast. Try again in a moment.")
	}
	channelID, ok := mc.cfg.VoiceChannel(i.GuildID, userID)
	if !ok {
		return discord.Userf("Join a voice channel first.")
	}

	if err := rp.Defer(false); err != nil {
		return err
	}

	sess := mc.cfg.Registry.GetOrCreate(i.GuildID)
	sess.SetOutputChannel(i.ChannelID)
	if err := mc.ensureVoice(ctx, sess, i.GuildID, channelID); err != nil {
		return err
	}

	track, err := mc.cfg.Extractor.Extract(ctx, query, userID)
	if err != nil {
		slog.Warn("commands: extraction failed", "guild_id", i.GuildID, "query", query, "err", err)
		if errors.Is(err, extract.ErrNoResults) {
			return discord.Userf("No results for %q.", query)
		}
		return discord.Userf("Couldn't load that track. Check the link or try a different search.")
	}

	title := discord.EscapeMarkdown(track.Title)
	pos, err := sess.Enqueue(track)
	switch {
	case errors.Is(err, music.ErrSessionStopped):
		return discord.Userf("Playback was stopped before **%s** was ready. It was not queued.", title)
	case errors.Is(err, music.ErrState):
		return discord.Userf("I'm no longer in a voice channel. Use `/play` again.")
	case err != nil:
		return err
	}

	if pos == 0 {
		return rp.Text(fmt.Sprintf("Playing **%s** `%s`", title, track.DurationString()))
	}
	return rp.Text(fmt.Sprintf("Queued **%s** `%s` at position %d.", title, track.DurationString(), pos))
}

// ensureVoice connects sess to channelID unless it already has a live
// transport.
func (mc *MusicCommands) ensureVoice(ctx context.Context, sess *music.Session, guildID, channelID string) error {
	mc.joinMu.Lock()
	defer mc.joinMu.Unlock()

	if tr := sess.Transport(); tr != nil && tr.IsConnected() {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, mc.cfg.ConnectTimeout)
	defer cancel()
	tr, err := mc.cfg.Platform.Connect(cctx, guildID, channelID)
	if err != nil {
		slog.Error("commands: voice connect failed", "guild_id", guildID, "channel_id", channelID, "err", err)
		if sess.Transport() == nil {
			_ = sess.Stop()
		}
		return discord.Userf("I couldn't join <#%s>.", channelID)
	}
	if err := sess.Attach(tr); err != nil {
		_ = tr.Disconnect()
		if errors.Is(err, music.ErrSessionStopped) {
			return discord.Userf("Playback was stopped while I was joining. Try again.")
		}
		return err
	}
	return nil
}

// ─── Playback control ─────────────────────────────────────────────────────────

func (mc *MusicCommands) handleSkip(_ context.Context, rp *discord.Reply, i *discordgo.InteractionCreate) error {
	sess, err := mc.controlSession(i)
	if err != nil {
		return err
	}
	t, err := sess.Skip()
	if err != nil {
		return stateMessage(err)
	}
	return rp.Text(fmt.Sprintf("Skipped **%s**.", discord.EscapeMarkdown(t.Title)))
}

func (mc *MusicCommands) handleStop(_ context.Context, rp *discord.Reply, i *discordgo.InteractionCreate) error {
	sess, err := mc.controlSession(i)
	if err != nil {
		return err
	}
	if err := sess.Stop(); err != nil {
		slog.Warn("commands: stop", "guild_id", i.GuildID, "err", err)
	}
	return rp.Text("Stopped playback and cleared the queue.")
}

func (mc *MusicCommands) handleLeave(_ context.Context, rp *discord.Reply, i *discordgo.InteractionCreate) error {
	if err := mc.requireDJ(i); err != nil {
		return err
	}
	sess, ok := mc.cfg.Registry.Get(i.GuildID)
	if !ok {
		return discord.Userf("I'm not in a voice channel.")
	}
	if err := sess.Stop(); err != nil {
		slog.Warn("commands: leave", "guild_id", i.GuildID, "err", err)
	}
	return rp.Text("Left the voice channel.")
}

func (mc *MusicCommands) handlePause(_ context.Context, rp *discord.Reply, i *discordgo.InteractionCreate) error {
	sess, err := mc.controlSession(i)
	if err != nil {
		return err
	}
	if err := sess.Pause(); err != nil {
		return stateMessage(err)
	}
	return rp.Text("Paused.")
}

func (mc *MusicCommands) handleResume(_ context.Context, rp *discord.Reply, i *discordgo.InteractionCreate) error {
	sess, err := mc.controlSession(i)
	if err != nil {
		return err
	}
	if err := sess.Resume(); err != nil {
		return stateMessage(err)
	}
	return rp.Text("Resumed.")
}

func (mc *MusicCommands) handleVolume(_ context.Context, rp *discord.Reply, i *discordgo.InteractionCreate) error {
	sess, err := mc.controlSession(i)
	if err != nil {
		return err
	}
	level, ok := intOption(i, "level")
	if !ok || level < minVolumePercent || level > maxVolumePercent {
		return discord.Userf("Volume must be between %d and %d.", minVolumePercent, maxVolumePercent)
	}
	v, err := sess.SetVolume(int(level))
	switch {
	case errors.Is(err, music.ErrProcessSpawn):
		slog.Warn("commands: volume rebuild failed", "guild_id", i.GuildID, "err", err)
		return rp.Text(fmt.Sprintf("Volume set to %s. It applies from the next track.", discord.VolumePercent(v)))
	case err != nil:
		return stateMessage(err)
	}
	return rp.Text(fmt.Sprintf("Volume set to %s.", discord.VolumePercent(v)))
}

// ─── Views ────────────────────────────────────────────────────────────────────

func (mc *MusicCommands) handleQueue(_ context.Context, rp *discord.Reply, i *discordgo.InteractionCreate) error {
	sess, ok := mc.cfg.Registry.Get(i.GuildID)
	if !ok {
		return discord.Userf("The queue is empty.")
	}
	return rp.Embed(discord.QueueEmbed(sess.Snapshot()))
}

func (mc *MusicCommands) handleNowPlaying(_ context.Context, rp *discord.Reply, i *discordgo.InteractionCreate) error {
	sess, ok := mc.cfg.Registry.Get(i.GuildID)
	if !ok {
		return discord.Userf("Nothing is playing right now.")
	}
	snap := sess.Snapshot()
	if snap.NowPlaying == nil {
		return discord.Userf("Nothing is playing right now.")
	}
	return rp.Embed(discord.NowPlayingEmbed(*snap.NowPlaying, snap.Position, snap.Volume, len(snap.Queue)))
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func (mc *MusicCommands) requireDJ(i *discordgo.InteractionCreate) error {
	if !mc.cfg.Perms.IsDJ(i) {
		return discord.Userf("You need the DJ role to do that.")
	}
	return nil
}

// controlSession checks DJ permission and returns the guild's live session.
func (mc *MusicCommands) controlSession(i *discordgo.InteractionCreate) (*music.Session, error) {
	if err := mc.requireDJ(i); err != nil {
		return nil, err
	}
	sess, ok := mc.cfg.Registry.Get(i.GuildID)
	if !ok {
		return nil, discord.Userf("Nothing is playing right now.")
	}
	return sess, nil
}

// stateMessage maps a session state error to a user-facing reply.
func stateMessage(err error) error {
	var se *music.StateError
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.State == music.StateStopped:
		return discord.Userf("Playback has already stopped.")
	case se.Reason == "already paused":
		return discord.Userf("Playback is already paused.")
	case se.Reason == "not paused":
		return discord.Userf("Playback isn't paused.")
	default:
		return discord.Userf("Nothing is playing right now.")
	}
}

func stringOption(i *discordgo.InteractionCreate, name string) string {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionString {
			return opt.StringValue()
		}
	}
	return ""
}

func intOption(i *discordgo.InteractionCreate, name string) (int64, bool) {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionInteger {
			return opt.IntValue(), true
		}
	}
	return 0, false
}
