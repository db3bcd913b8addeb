package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vnutour/tourbot/internal/observe"
)

// HandlerFunc handles one slash command invocation. Handlers answer through
// rp. A returned [*UserError] is shown to the user verbatim; any other error
// is logged and answered with a generic message.
type HandlerFunc func(ctx context.Context, rp *Reply, i *discordgo.InteractionCreate) error

// commandEntry stores a command definition along with its handler.
type commandEntry struct {
	command *discordgo.ApplicationCommand
	handler HandlerFunc
}

// CommandRouter dispatches slash command interactions to registered handlers.
type CommandRouter struct {
	metrics *observe.Metrics

	mu       sync.RWMutex
	commands map[string]commandEntry // "command" or "command/subcommand"
}

// NewCommandRouter creates an empty router. A nil metrics uses
// [observe.DefaultMetrics].
func NewCommandRouter(metrics *observe.Metrics) *CommandRouter {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &CommandRouter{
		metrics:  metrics,
		commands: make(map[string]commandEntry),
	}
}

// RegisterCommand registers a handler for a slash command. The key format is
// "command" or "command/subcommand". cmd is the definition sent to Discord;
// only top-level definitions are registered, so subcommand handlers may pass
// nil.
func (r *CommandRouter) RegisterCommand(key string, cmd *discordgo.ApplicationCommand, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[key] = commandEntry{command: cmd, handler: handler}
}

// ApplicationCommands returns the deduplicated top-level command definitions,
// sorted by name.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var cmds []*discordgo.ApplicationCommand
	for _, entry := range r.commands {
		if entry.command != nil && !seen[entry.command.Name] {
			seen[entry.command.Name] = true
			cmds = append(cmds, entry.command)
		}
	}
	sort.Slice(cmds, func(a, b int) bool { return cmds[a].Name < cmds[b].Name })
	return cmds
}

// Handle dispatches an interaction. Only application commands are routed;
// other interaction types are ignored.
func (r *CommandRouter) Handle(resp Responder, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		slog.Debug("discord: ignoring interaction", "type", i.Type)
		return
	}

	key := interactionKey(i.ApplicationCommandData())
	rp := NewReply(resp, i.Interaction)

	r.mu.RLock()
	entry, ok := r.commands[key]
	r.mu.RUnlock()
	if !ok {
		slog.Warn("discord: unknown command", "key", key)
		if err := rp.Ephemeral("Unknown command."); err != nil {
			slog.Warn("discord: reply failed", "err", err)
		}
		return
	}

	ctx, span := observe.StartSpan(context.Background(), "discord.command",
		attribute.String("discord.command", key),
		attribute.String("discord.guild_id", i.GuildID),
	)
	var spanErr error
	defer func() { observe.EndSpan(span, spanErr) }()
	log := observe.Logger(ctx).With("command", key, "guild_id", i.GuildID, "user_id", InteractionUserID(i))

	start := time.Now()
	err := r.run(ctx, entry.handler, rp, i)
	status := "ok"
	switch {
	case err == nil:
	case IsUserError(err):
		status = "rejected"
		log.Debug("discord: command rejected", "reason", err)
		r.replyFailure(rp, err.Error(), log)
	default:
		status = "error"
		spanErr = err
		log.Error("discord: command failed", "err", err)
		r.replyFailure(rp, "Something went wrong while running that command.", log)
	}
	r.metrics.RecordCommand(ctx, key, status, time.Since(start))
}

// run calls h, turning a panic into an error so one bad interaction cannot
// take the gateway down.
func (r *CommandRouter) run(ctx context.Context, h HandlerFunc, rp *Reply, i *discordgo.InteractionCreate) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("discord: handler panic: %v", p)
		}
	}()
	return h(ctx, rp, i)
}

func (r *CommandRouter) replyFailure(rp *Reply, msg string, log *slog.Logger) {
	if err := rp.Ephemeral(msg); err != nil {
		log.Warn("discord: reply failed", "err", err)
	}
}

// interactionKey builds a router key from an ApplicationCommand interaction.
func interactionKey(data discordgo.ApplicationCommandInteractionData) string {
	key := data.Name
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		key += "/" + data.Options[0].Name
	}
	return key
}

// InteractionUserID extracts the user ID from an interaction, handling both
// guild (Member) and DM (User) contexts.
func InteractionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
