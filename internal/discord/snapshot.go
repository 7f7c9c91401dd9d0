package discord

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// snapshotDepth is how many recent messages each polled channel contributes.
const snapshotDepth = 20

// exploreChannels is how many random channels each snapshot wanders into
// beyond the watched and active ones.
const exploreChannels = 3

// ChannelReader is the gateway surface the snapshotter needs.
type ChannelReader interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
}

var _ ChannelReader = (*discordgo.Session)(nil)

// Snapshotter builds sensory snapshots for the daily-life loop: the recent
// history of every requested channel plus the direct mentions found in it,
// plus a few random exploration channels the bot can read and post in.
type Snapshotter struct {
	s       ChannelReader
	botID   string
	botName string
	watch   []string
	guilds  []string
	log     *slog.Logger
	now     func() time.Time
	shuffle func(n int, swap func(i, j int))
}

// NewSnapshotter creates a Snapshotter. watch lists the channels that are
// always polled in addition to whatever the caller asks for; guilds are
// the servers exploration may pick channels from.
func NewSnapshotter(s ChannelReader, botID, botName string, watch, guilds []string, log *slog.Logger) *Snapshotter {
	if log == nil {
		log = slog.Default()
	}
	return &Snapshotter{
		s:       s,
		botID:   botID,
		botName: botName,
		watch:   watch,
		guilds:  guilds,
		log:     log,
		now:     time.Now,
		shuffle: rand.Shuffle,
	}
}

// Snapshot polls the union of the watch list, channelIDs, and up to three
// random exploration channels. Channels that fail to load are skipped; the
// snapshot is whatever could be observed.
func (sn *Snapshotter) Snapshot(ctx context.Context, channelIDs []string) types.SensorySnapshot {
	snap := types.SensorySnapshot{
		BotName:       sn.botName,
		Timestamp:     sn.now().UTC(),
		WatchChannels: sn.watch,
	}

	ids := slices.Clone(sn.watch)
	for _, id := range channelIDs {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	ids = append(ids, sn.exploration(ctx, ids)...)

	for _, id := range ids {
		ch, err := sn.channelSnapshot(ctx, id)
		if err != nil {
			sn.log.Warn("channel snapshot failed", "channel_id", id, "error", err)
			continue
		}
		snap.Channels = append(snap.Channels, ch)
		for _, m := range ch.Messages {
			if m.MentionsBot {
				snap.Mentions = append(snap.Mentions, m)
			}
		}
	}
	return snap
}

// exploration picks up to three random text channels across the configured
// guilds where the bot holds both view and send permissions. Channels already
// scheduled for polling are excluded.
func (sn *Snapshotter) exploration(ctx context.Context, exclude []string) []string {
	const need = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages

	var candidates []string
	for _, gid := range sn.guilds {
		chans, err := sn.s.GuildChannels(gid, discordgo.WithContext(ctx))
		if err != nil {
			sn.log.Warn("guild channel listing failed", "guild_id", gid, "error", err)
			continue
		}
		for _, ch := range chans {
			if ch.Type != discordgo.ChannelTypeGuildText {
				continue
			}
			if slices.Contains(exclude, ch.ID) {
				continue
			}
			perms, err := sn.s.UserChannelPermissions(sn.botID, ch.ID, discordgo.WithContext(ctx))
			if err != nil || perms&need != need {
				continue
			}
			candidates = append(candidates, ch.ID)
		}
	}

	sn.shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > exploreChannels {
		candidates = candidates[:exploreChannels]
	}
	return candidates
}

// FetchMessage retrieves one message as a snapshot entry. The action poller
// uses it to reconstruct the target of a planned reply.
func (sn *Snapshotter) FetchMessage(ctx context.Context, channelID, messageID string) (types.MessageSnapshot, error) {
	m, err := sn.s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return types.MessageSnapshot{}, fmt.Errorf("discord: fetch message %s: %w", messageID, err)
	}
	ms := types.MessageSnapshot{
		ID:        m.ID,
		Content:   m.Content,
		ChannelID: channelID,
		CreatedAt: m.Timestamp.UTC(),
	}
	if m.Author != nil {
		ms.AuthorID = m.Author.ID
		ms.AuthorName = m.Author.Username
		ms.IsBot = m.Author.Bot
	}
	if m.MessageReference != nil {
		ms.ReferenceID = m.MessageReference.MessageID
	}
	for _, u := range m.Mentions {
		if u.ID == sn.botID {
			ms.MentionsBot = true
			break
		}
	}
	return ms, nil
}

// channelSnapshot fetches one channel's recent history, oldest first.
func (sn *Snapshotter) channelSnapshot(ctx context.Context, channelID string) (types.ChannelSnapshot, error) {
	snap := types.ChannelSnapshot{ChannelID: channelID}

	if ch, err := sn.s.Channel(channelID, discordgo.WithContext(ctx)); err == nil {
		snap.ChannelName = ch.Name
	}

	msgs, err := sn.s.ChannelMessages(channelID, snapshotDepth, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return snap, err
	}

	// The gateway returns newest first.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		ms := types.MessageSnapshot{
			ID:        m.ID,
			Content:   m.Content,
			ChannelID: channelID,
			CreatedAt: m.Timestamp.UTC(),
		}
		if m.Author != nil {
			ms.AuthorID = m.Author.ID
			ms.AuthorName = m.Author.Username
			ms.IsBot = m.Author.Bot
		}
		if m.MessageReference != nil {
			ms.ReferenceID = m.MessageReference.MessageID
		}
		for _, u := range m.Mentions {
			if u.ID == sn.botID {
				ms.MentionsBot = true
				break
			}
		}
		snap.Messages = append(snap.Messages, ms)
	}
	return snap, nil
}
