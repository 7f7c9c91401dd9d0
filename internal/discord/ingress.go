package discord

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/whisperengine-ai/whisperengine/internal/config"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// crosspostWindow is how long a (author, content) pair is remembered for
// duplicate detection. A user pasting the same text into several channels
// inside this window only reaches the bot once.
const crosspostWindow = 10 * time.Minute

// maxInboundLen mirrors Discord's content cap. Anything longer arrived
// through an API quirk and is dropped rather than truncated.
const maxInboundLen = 2000

// Ingress maps raw gateway messages to [types.InboundMessage] and applies
// the suppression gates: self-messages, blocked users, DM blocking,
// empty/oversized content, and crosspost detection. Gated messages are
// dropped before any processing happens.
type Ingress struct {
	botID string
	cfg   config.DiscordConfig
	now   func() time.Time

	mu   sync.Mutex
	seen map[string]crosspostEntry
}

type crosspostEntry struct {
	channelID string
	at        time.Time
}

// NewIngress creates an ingress gate for the bot identified by botID.
func NewIngress(botID string, cfg config.DiscordConfig) *Ingress {
	return &Ingress{
		botID: botID,
		cfg:   cfg,
		now:   time.Now,
		seen:  make(map[string]crosspostEntry),
	}
}

// ToInbound projects a gateway message onto the adapter-neutral form.
// isDM must be resolved by the caller (the gateway does not flag it on the
// message itself).
func (in *Ingress) ToInbound(m *discordgo.Message, isDM bool) types.InboundMessage {
	msg := types.InboundMessage{
		ID:        m.ID,
		Content:   m.Content,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		IsDM:      isDM,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorName = m.Author.Username
		msg.AuthorIsBot = m.Author.Bot
		if m.Author.GlobalName != "" {
			msg.AuthorName = m.Author.GlobalName
		}
	}
	if !m.Timestamp.IsZero() {
		msg.Timestamp = m.Timestamp.UTC()
	} else {
		msg.Timestamp = in.now().UTC()
	}
	for _, u := range m.Mentions {
		msg.Mentions = append(msg.Mentions, u.ID)
		if u.ID == in.botID {
			msg.MentionsBot = true
		}
	}
	if m.MessageReference != nil {
		msg.ReferenceID = m.MessageReference.MessageID
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, a.URL)
	}
	for _, s := range m.StickerItems {
		msg.Stickers = append(msg.Stickers, s.Name)
	}
	for _, snap := range m.MessageSnapshots {
		if snap.Message != nil && snap.Message.Content != "" {
			msg.Forwards = append(msg.Forwards, snap.Message.Content)
		}
	}
	return msg
}

// Accept reports whether msg should be processed. When it returns false the
// reason names the gate that fired; callers log it at debug level and move on.
func (in *Ingress) Accept(msg types.InboundMessage) (bool, string) {
	if msg.AuthorID == in.botID {
		return false, "self"
	}
	if slices.Contains(in.cfg.BlockedUserIDs, msg.AuthorID) {
		return false, "blocked_user"
	}
	if msg.IsDM && in.cfg.EnableDMBlock && !slices.Contains(in.cfg.DMAllowedUserIDs, msg.AuthorID) {
		return false, "dm_blocked"
	}
	if strings.TrimSpace(msg.Content) == "" && len(msg.Forwards) == 0 {
		return false, "empty"
	}
	if len(msg.Content) > maxInboundLen {
		return false, "oversize"
	}
	if in.cfg.EnableCrosspostDetection && in.isCrosspost(msg) {
		return false, "crosspost"
	}
	return true, ""
}

// isCrosspost reports whether the same author posted identical content to a
// different channel inside the detection window.
func (in *Ingress) isCrosspost(msg types.InboundMessage) bool {
	key := msg.AuthorID + "\x00" + msg.Content
	now := in.now()

	in.mu.Lock()
	defer in.mu.Unlock()

	for k, e := range in.seen {
		if now.Sub(e.at) > crosspostWindow {
			delete(in.seen, k)
		}
	}

	if e, ok := in.seen[key]; ok && e.channelID != msg.ChannelID {
		return true
	}
	in.seen[key] = crosspostEntry{channelID: msg.ChannelID, at: now}
	return false
}
