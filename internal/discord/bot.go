// Package discord connects lingobot to Discord. It owns the
// discordgo.Session lifecycle, answers direct and channel messages and
// exposes every learner command as a slash command.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/lingobot/internal/bot"
)

// DefaultHandleTimeout bounds how long one message may take to answer.
const DefaultHandleTimeout = 90 * time.Second

// Config holds Discord bot configuration.
type Config struct {
	// Token is the Discord bot token without the "Bot " prefix.
	Token string `yaml:"token"`

	// GuildID registers slash commands for one guild only. Empty registers
	// them globally.
	GuildID string `yaml:"guild_id"`

	// ChannelID limits guild messages to one channel. Direct messages are
	// always answered.
	ChannelID string `yaml:"channel_id"`
}

// Option is a functional option for configuring a [Bot].
type Option func(*Bot)

// WithHandleTimeout sets the per-message timeout. Non-positive values are
// ignored. Default: [DefaultHandleTimeout].
func WithHandleTimeout(d time.Duration) Option {
	return func(b *Bot) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// Bot owns the Discord gateway connection and routes messages and slash
// commands to a [bot.Handler].
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	handler   bot.Handler
	router    *CommandRouter
	guildID   string
	channelID string
	timeout   time.Duration
	commands  []*discordgo.ApplicationCommand

	ctx       context.Context
	cancel    context.CancelFunc
	trackMu   sync.Mutex
	closed    bool
	inflight  sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Bot and registers its event handlers. The gateway connection
// is opened by [Bot.Run].
func New(cfg Config, handler bot.Handler, opts ...Option) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token is required")
	}
	session, err := discordgo.New("Bot " + strings.TrimPrefix(cfg.Token, "Bot "))
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuilds

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		session:   session,
		handler:   handler,
		router:    NewCommandRouter(),
		guildID:   cfg.GuildID,
		channelID: cfg.ChannelID,
		timeout:   DefaultHandleTimeout,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, o := range opts {
		o(b)
	}

	for _, cmd := range SlashCommands(bot.Commands()) {
		b.router.RegisterCommand(cmd, b.handleSlash)
	}

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.track(func() { b.router.Handle(s, i) })
	})
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		var selfID string
		if s.State != nil && s.State.User != nil {
			selfID = s.State.User.ID
		}
		b.track(func() { b.handleMessage(s, selfID, m) })
	})

	return b, nil
}

// Router returns the slash command router.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Run opens the gateway connection, registers slash commands and blocks until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}

	b.mu.RLock()
	appID := b.session.State.User.ID
	b.mu.RUnlock()

	cmds := b.router.ApplicationCommands()
	registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
	if err != nil {
		return fmt.Errorf("discord: register commands: %w", err)
	}
	b.mu.Lock()
	b.commands = registered
	b.mu.Unlock()
	slog.Info("discord commands registered", "count", len(registered))

	<-ctx.Done()
	return ctx.Err()
}

// Close cancels in-flight requests, unregisters commands and disconnects.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.trackMu.Lock()
		b.closed = true
		b.trackMu.Unlock()
		b.cancel()
		b.inflight.Wait()

		b.mu.Lock()
		defer b.mu.Unlock()

		if len(b.commands) > 0 && b.session.State != nil && b.session.State.User != nil {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
					slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}

		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}

// track runs fn unless the bot is closing and lets Close wait for it.
func (b *Bot) track(fn func()) {
	b.trackMu.Lock()
	if b.closed {
		b.trackMu.Unlock()
		return
	}
	b.inflight.Add(1)
	b.trackMu.Unlock()
	defer b.inflight.Done()
	fn()
}

func (b *Bot) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(b.ctx, b.timeout)
}

// handleMessage answers a text message. Messages from bots, from the bot
// itself and from channels other than the configured one are ignored.
func (b *Bot) handleMessage(s Responder, selfID string, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == selfID {
		return
	}
	if strings.TrimSpace(m.Content) == "" {
		return
	}
	if b.channelID != "" && m.GuildID != "" && m.ChannelID != b.channelID {
		return
	}

	userID, err := ParseUserID(m.Author.ID)
	if err != nil {
		slog.Warn("discord: bad author id", "author_id", m.Author.ID, "err", err)
		return
	}
	if err := s.ChannelTyping(m.ChannelID); err != nil {
		slog.Debug("discord: typing indicator failed", "err", err)
	}

	ctx, cancel := b.requestContext()
	defer cancel()
	Send(s, m.ChannelID, bot.Reply(ctx, b.handler, userID, m.Content))
}

// handleSlash answers a slash command with a deferred reply and a follow-up,
// since corrections and exercises can take longer than the interaction
// deadline.
func (b *Bot) handleSlash(s Responder, i *discordgo.InteractionCreate) {
	userID, err := ParseUserID(interactionUserID(i))
	if err != nil {
		slog.Warn("discord: bad interaction user", "err", err)
		RespondEphemeral(s, i, bot.InternalError)
		return
	}
	if err := DeferReply(s, i); err != nil {
		slog.Warn("discord: failed to defer reply", "err", err)
		return
	}

	ctx, cancel := b.requestContext()
	defer cancel()
	FollowUp(s, i, bot.Reply(ctx, b.handler, userID, commandText(i.ApplicationCommandData())))
}

// interactionUserID returns the invoking user's snowflake. Guild interactions
// carry it in Member, direct messages in User.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// ParseUserID converts a Discord snowflake into the numeric user id used by
// the learner stores.
func ParseUserID(snowflake string) (int64, error) {
	if snowflake == "" {
		return 0, errors.New("discord: empty user id")
	}
	id, err := strconv.ParseInt(snowflake, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("discord: parse user id %q: %w", snowflake, err)
	}
	return id, nil
}
