package discord

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc is the signature for slash command handlers.
type HandlerFunc func(s Responder, i *discordgo.InteractionCreate)

// commandEntry stores a command definition along with its handler.
type commandEntry struct {
	command *discordgo.ApplicationCommand
	handler HandlerFunc
}

// CommandRouter dispatches Discord slash command interactions to registered
// handlers.
type CommandRouter struct {
	mu       sync.RWMutex
	commands map[string]commandEntry // command name → entry
}

// NewCommandRouter creates an empty router.
func NewCommandRouter() *CommandRouter {
	return &CommandRouter{commands: make(map[string]commandEntry)}
}

// RegisterCommand registers a handler for the slash command cmd.Name. A later
// registration with the same name replaces the earlier one.
func (r *CommandRouter) RegisterCommand(cmd *discordgo.ApplicationCommand, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.Name] = commandEntry{command: cmd, handler: handler}
}

// ApplicationCommands returns the command definitions for registration with
// the Discord API, ordered by name.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmds := make([]*discordgo.ApplicationCommand, 0, len(r.commands))
	for _, entry := range r.commands {
		cmds = append(cmds, entry.command)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// Handle dispatches an interaction to the appropriate handler. Interaction
// types other than application commands are ignored.
func (r *CommandRouter) Handle(s Responder, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		slog.Debug("discord: unhandled interaction type", "type", i.Type)
		return
	}
	name := i.ApplicationCommandData().Name

	r.mu.RLock()
	entry, ok := r.commands[name]
	r.mu.RUnlock()

	if !ok {
		slog.Warn("discord: unknown command", "name", name)
		RespondEphemeral(s, i, "Unknown command.")
		return
	}
	entry.handler(s, i)
}
