package discord

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// MaxMessageLength is the Discord limit for message content.
const MaxMessageLength = 2000

// Responder is the subset of [discordgo.Session] used to answer users.
type Responder interface {
	InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(i *discordgo.Interaction, wait bool, params *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

var _ Responder = (*discordgo.Session)(nil)

// RespondEphemeral sends an ephemeral text response to an interaction.
func RespondEphemeral(s Responder, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		slog.Warn("discord: failed to send ephemeral response", "err", err)
	}
}

// DeferReply sends a deferred response (for long-running commands).
func DeferReply(s Responder, i *discordgo.InteractionCreate) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
}

// FollowUp sends content as one or more follow-up messages after a deferred
// response.
func FollowUp(s Responder, i *discordgo.InteractionCreate, content string) {
	for _, chunk := range SplitMessage(content, MaxMessageLength) {
		_, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
			Content: chunk,
			Flags:   discordgo.MessageFlagsEphemeral,
		})
		if err != nil {
			slog.Warn("discord: failed to send follow-up", "err", err)
			return
		}
	}
}

// Send posts content to a channel, split into as many messages as needed.
func Send(s Responder, channelID, content string) {
	for _, chunk := range SplitMessage(content, MaxMessageLength) {
		if _, err := s.ChannelMessageSend(channelID, chunk); err != nil {
			slog.Warn("discord: failed to send message", "channel_id", channelID, "err", err)
			return
		}
	}
}

// SplitMessage cuts content into pieces of at most limit runes, preferring
// to break after a newline, then after a space.
func SplitMessage(content string, limit int) []string {
	if content == "" {
		return nil
	}
	var out []string
	for utf8.RuneCountInString(content) > limit {
		cut := byteOffset(content, limit)
		head := content[:cut]
		if i := strings.LastIndexByte(head, '\n'); i > 0 {
			cut = i + 1
		} else if i := strings.LastIndexByte(head, ' '); i > 0 {
			cut = i + 1
		}
		out = append(out, content[:cut])
		content = content[cut:]
	}
	return append(out, content)
}

// byteOffset returns the byte index of the n-th rune in s.
func byteOffset(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}
