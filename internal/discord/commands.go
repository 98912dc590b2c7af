package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/lingobot/internal/bot"
)

// SlashCommands converts command descriptions into Discord application
// commands. A command with an argument gets one optional string option named
// after it.
func SlashCommands(infos []bot.Info) []*discordgo.ApplicationCommand {
	cmds := make([]*discordgo.ApplicationCommand, 0, len(infos))
	for _, info := range infos {
		cmd := &discordgo.ApplicationCommand{
			Name:        info.Name,
			Description: info.Description,
		}
		if info.ArgName != "" {
			cmd.Options = []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        info.ArgName,
				Description: info.ArgDescription,
				Required:    false,
			}}
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

// commandText rebuilds the chat form of a slash command ("/language Spanish")
// so it can go through the same router as typed messages.
func commandText(data discordgo.ApplicationCommandInteractionData) string {
	parts := []string{"/" + data.Name}
	for _, opt := range data.Options {
		if opt.Type != discordgo.ApplicationCommandOptionString {
			continue
		}
		if v := strings.TrimSpace(opt.StringValue()); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}
