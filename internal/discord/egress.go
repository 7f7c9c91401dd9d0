package discord

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/whisperengine-ai/whisperengine/internal/artifacts"
	"github.com/whisperengine-ai/whisperengine/internal/respond"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// maxOutboundLen is Discord's content cap per message.
const maxOutboundLen = 2000

// Messenger is the subset of the gateway session egress needs. Narrow so
// tests can supply a recording double.
type Messenger interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ Messenger = (*discordgo.Session)(nil)

// Sender delivers outgoing text through the gateway. It implements
// [respond.Sink] for the streaming hot path and additionally handles
// chunked bulk sends and pending artifact attachment.
type Sender struct {
	s   Messenger
	reg *artifacts.Registry
	log *slog.Logger
}

var _ respond.Sink = (*Sender)(nil)

// NewSender creates a Sender. reg may be nil when artifact generation is
// disabled.
func NewSender(s Messenger, reg *artifacts.Registry, log *slog.Logger) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{s: s, reg: reg, log: log}
}

// Send posts one message and returns its id for later edits.
func (sn *Sender) Send(ctx context.Context, channelID, content string) (string, error) {
	m, err := sn.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: content,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: send message: %w", err)
	}
	return m.ID, nil
}

// Edit replaces a previously sent message's content in place.
func (sn *Sender) Edit(ctx context.Context, channelID, messageID, content string) error {
	if _, err := sn.s.ChannelMessageEdit(channelID, messageID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: edit message: %w", err)
	}
	return nil
}

// SendChunked splits text at clean boundaries and sends each piece in order.
// The optional reference turns the first chunk into a reply.
func (sn *Sender) SendChunked(ctx context.Context, channelID, text string, ref *discordgo.MessageReference) error {
	for i, chunk := range ChunkMessage(text) {
		send := &discordgo.MessageSend{Content: chunk}
		if i == 0 && ref != nil {
			send.Reference = ref
		}
		if _, err := sn.s.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord: send chunk %d: %w", i, err)
		}
	}
	return nil
}

// AttachPending drains the user's pending artifact registry and posts the
// artifacts as file attachments. Best-effort: a missing registry or an empty
// queue is a no-op, individual file failures are logged and skipped.
func (sn *Sender) AttachPending(ctx context.Context, channelID, userID string) {
	if sn.reg == nil {
		return
	}
	pending, err := sn.reg.PopAll(ctx, userID)
	if err != nil {
		sn.log.Warn("pending artifact pop failed", "user_id", userID, "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	files := make([]*discordgo.File, 0, len(pending))
	var open []*os.File
	defer func() {
		for _, f := range open {
			f.Close()
		}
	}()
	for _, art := range pending {
		f, err := os.Open(art.Path)
		if err != nil {
			sn.log.Warn("pending artifact unreadable", "path", art.Path, "error", err)
			continue
		}
		open = append(open, f)
		files = append(files, &discordgo.File{
			Name:        art.Filename,
			ContentType: art.MIME,
			Reader:      f,
		})
	}
	if len(files) == 0 {
		return
	}
	if _, err := sn.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Files: files,
	}, discordgo.WithContext(ctx)); err != nil {
		sn.log.Warn("artifact delivery failed", "channel_id", channelID, "count", len(files), "error", err)
	}
}

// ChunkMessage splits text into pieces that each fit in one Discord message.
// Splits land on sentence boundaries or paragraph breaks; a single oversized
// sentence falls back to word boundaries. Chunks are never empty.
func ChunkMessage(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	for len(text) > maxOutboundLen {
		cut := splitBoundary(text, maxOutboundLen)
		head := strings.TrimSpace(text[:cut])
		if head != "" {
			chunks = append(chunks, head)
		}
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// splitBoundary finds where to cut text so the head fits in limit characters:
// last sentence end, else last paragraph break, else last word boundary, else
// a hard cut.
func splitBoundary(text string, limit int) int {
	window := text[:limit]
	best := -1
	if i := strings.LastIndex(window, ". "); i >= 0 {
		best = i + 2
	}
	if i := strings.LastIndex(window, "\n\n"); i > best {
		best = i + 2
	}
	if best > 0 {
		return best
	}
	if i := strings.LastIndexByte(window, ' '); i > 0 {
		return i + 1
	}
	return limit
}

// replyReference builds the message reference for a reply action.
func replyReference(cmd types.ActionCommand) *discordgo.MessageReference {
	if cmd.TargetMessageID == "" {
		return nil
	}
	return &discordgo.MessageReference{
		MessageID: cmd.TargetMessageID,
		ChannelID: cmd.ChannelID,
	}
}
