// Package discord is the messaging adapter. It owns the discordgo.Session
// lifecycle, maps gateway messages to the adapter-neutral inbound form,
// delivers outgoing text (streamed, chunked, or as action commands), and
// routes admin slash command interactions.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/whisperengine-ai/whisperengine/internal/config"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// MessageHandler processes one accepted inbound message. It is invoked on
// its own goroutine and must not panic.
type MessageHandler func(ctx context.Context, msg types.InboundMessage)

// Warmer pre-fetches per-user context. Typing events trigger it so the hot
// path finds warm legs by the time the message lands.
type Warmer interface {
	Warm(ctx context.Context, userID string)
}

// Bot owns the Discord gateway connection. Gateway events flow through the
// ingress gate to the message handler; interactions go to the router.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	router    *CommandRouter
	ingress   *Ingress
	handler   MessageHandler
	warmer    Warmer
	log       *slog.Logger
	commands  []*discordgo.ApplicationCommand
	closeOnce sync.Once
}

// Option configures a Bot.
type Option func(*Bot)

// WithWarmer wires a typing-triggered context pre-fetcher.
func WithWarmer(w Warmer) Option {
	return func(b *Bot) { b.warmer = w }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Bot) { b.log = log }
}

// New creates a Bot, connects to the gateway, and registers the event
// handlers. handler receives every message that passes the ingress gate.
func New(cfg config.DiscordConfig, handler MessageHandler, opts ...Option) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentDirectMessages |
		discordgo.IntentGuildMessageTyping |
		discordgo.IntentDirectMessageTyping |
		discordgo.IntentGuildMessageReactions |
		discordgo.IntentMessageContent

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}

	b := &Bot{
		session: session,
		router:  NewCommandRouter(),
		ingress: NewIngress(session.State.User.ID, cfg),
		handler: handler,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}

	session.AddHandler(b.onMessageCreate)
	session.AddHandler(b.onTypingStart)
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})

	return b, nil
}

// Session returns the underlying gateway session for subsystems that need
// direct API access (egress, snapshots, actions).
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// BotID returns the bot's own user id.
func (b *Bot) BotID() string {
	return b.ingress.botID
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Ingress returns the ingress gate, mostly for tests and diagnostics.
func (b *Bot) Ingress() *Ingress {
	return b.ingress
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	msg := b.ingress.ToInbound(m.Message, m.GuildID == "")
	if ok, reason := b.ingress.Accept(msg); !ok {
		b.log.Debug("message suppressed", "reason", reason, "author_id", msg.AuthorID, "channel_id", msg.ChannelID)
		return
	}
	go b.handler(context.Background(), msg)
}

func (b *Bot) onTypingStart(_ *discordgo.Session, t *discordgo.TypingStart) {
	if b.warmer == nil || t.UserID == b.ingress.botID {
		return
	}
	go b.warmer.Warm(context.Background(), t.UserID)
}

// Run registers slash commands with the Discord API and blocks until ctx is
// cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.RLock()
	appID := b.session.State.User.ID
	b.mu.RUnlock()

	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, "", cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		b.log.Info("discord commands registered", "count", len(registered))
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close unregisters commands and disconnects from the gateway.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.session != nil && len(b.commands) > 0 {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, "", cmd.ID); err != nil {
					b.log.Warn("command delete failed", "name", cmd.Name, "error", err)
				}
			}
		}

		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}

		b.log.Info("discord bot closed")
	})
	return closeErr
}
