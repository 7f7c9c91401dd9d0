package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// Reactor is the gateway surface the executor needs beyond [Messenger].
type Reactor interface {
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

var _ Reactor = (*discordgo.Session)(nil)

// Executor carries autonomous action commands out through the gateway. It is
// pure transport: the action poller owns memory writes and trust credit.
type Executor struct {
	s      Reactor
	sender *Sender
	log    *slog.Logger
}

// NewExecutor creates an Executor delivering through sender.
func NewExecutor(s Reactor, sender *Sender, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{s: s, sender: sender, log: log}
}

// Execute performs one action command.
func (e *Executor) Execute(ctx context.Context, cmd types.ActionCommand) error {
	switch cmd.ActionType {
	case types.ActionReply:
		return e.reply(ctx, cmd)
	case types.ActionReact:
		return e.react(ctx, cmd)
	case types.ActionPost:
		return e.post(ctx, cmd)
	case types.ActionReachOut:
		return e.reachOut(ctx, cmd)
	default:
		return fmt.Errorf("discord: execute: unknown action type %q", cmd.ActionType)
	}
}

func (e *Executor) reply(ctx context.Context, cmd types.ActionCommand) error {
	if strings.TrimSpace(cmd.Content) == "" {
		return fmt.Errorf("discord: reply: empty content")
	}
	return e.sender.SendChunked(ctx, cmd.ChannelID, cmd.Content, replyReference(cmd))
}

func (e *Executor) react(ctx context.Context, cmd types.ActionCommand) error {
	if cmd.Emoji == "" || cmd.TargetMessageID == "" {
		return fmt.Errorf("discord: react: emoji and target message required")
	}
	if err := e.s.MessageReactionAdd(cmd.ChannelID, cmd.TargetMessageID, cmd.Emoji, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: react: %w", err)
	}
	return nil
}

func (e *Executor) post(ctx context.Context, cmd types.ActionCommand) error {
	if strings.TrimSpace(cmd.Content) == "" {
		return fmt.Errorf("discord: post: empty content")
	}
	return e.sender.SendChunked(ctx, cmd.ChannelID, cmd.Content, nil)
}

// reachOut opens (or reuses) the DM channel with the target user and sends
// the content there. ChannelID on the command is ignored for this variant.
func (e *Executor) reachOut(ctx context.Context, cmd types.ActionCommand) error {
	if strings.TrimSpace(cmd.Content) == "" {
		return fmt.Errorf("discord: reach_out: empty content")
	}
	if cmd.TargetUserID == "" {
		return fmt.Errorf("discord: reach_out: target user required")
	}
	ch, err := e.s.UserChannelCreate(cmd.TargetUserID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: reach_out: open dm: %w", err)
	}
	return e.sender.SendChunked(ctx, ch.ID, cmd.Content, nil)
}
