// Package mock provides test doubles for the Discord adapter.
package mock

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// InteractionResponder records interaction responses for test assertions.
type InteractionResponder struct {
	// Responses records all InteractionRespond calls.
	Responses []*discordgo.InteractionResponse

	// FollowUps records all FollowupMessageCreate calls.
	FollowUps []*discordgo.WebhookParams

	// Err is returned by InteractionRespond and FollowupMessageCreate
	// when non-nil, allowing error injection.
	Err error
}

// InteractionRespond records the response and returns the configured error.
func (m *InteractionResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.Responses = append(m.Responses, resp)
	return m.Err
}

// FollowupMessageCreate records the follow-up and returns a stub message.
func (m *InteractionResponder) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, params *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.FollowUps = append(m.FollowUps, params)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "mock-followup"}, nil
}

// LastResponse returns the most recently recorded response, or nil.
func (m *InteractionResponder) LastResponse() *discordgo.InteractionResponse {
	if len(m.Responses) == 0 {
		return nil
	}
	return m.Responses[len(m.Responses)-1]
}

// Reset clears all recorded interactions and errors.
func (m *InteractionResponder) Reset() {
	m.Responses = nil
	m.FollowUps = nil
	m.Err = nil
}

// Gateway is a recording double for the message-level gateway surfaces:
// sends, edits, reactions, DM channel creation, and channel history reads.
// Message ids are assigned sequentially as "m1", "m2", ...
type Gateway struct {
	mu sync.Mutex

	// Sends records every ChannelMessageSendComplex call.
	Sends []*discordgo.MessageSend

	// SendChannels records the channel of each send, index-aligned with Sends.
	SendChannels []string

	// Edits records content by message id.
	Edits map[string][]string

	// Reactions records "channel/message/emoji" triples.
	Reactions []string

	// DMChannels maps recipient user id to the DM channel id returned by
	// UserChannelCreate. Unlisted users get "dm-" + userID.
	DMChannels map[string]string

	// History maps channel id to the canned messages ChannelMessages returns
	// (newest first, matching the live API).
	History map[string][]*discordgo.Message

	// Channels maps channel id to channel metadata for Channel lookups.
	Channels map[string]*discordgo.Channel

	// Guilds maps guild id to its channel list for GuildChannels.
	Guilds map[string][]*discordgo.Channel

	// Permissions maps channel id to the bot's permission bits there.
	// Unlisted channels grant nothing.
	Permissions map[string]int64

	// SendErr, EditErr, ReactErr inject failures when non-nil.
	SendErr  error
	EditErr  error
	ReactErr error
}

// NewGateway creates an empty Gateway double.
func NewGateway() *Gateway {
	return &Gateway{
		Edits:       make(map[string][]string),
		DMChannels:  make(map[string]string),
		History:     make(map[string][]*discordgo.Message),
		Channels:    make(map[string]*discordgo.Channel),
		Guilds:      make(map[string][]*discordgo.Channel),
		Permissions: make(map[string]int64),
	}
}

// ChannelMessageSendComplex records the send and returns a stub message.
func (g *Gateway) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.SendErr != nil {
		return nil, g.SendErr
	}
	g.Sends = append(g.Sends, data)
	g.SendChannels = append(g.SendChannels, channelID)
	return &discordgo.Message{ID: fmt.Sprintf("m%d", len(g.Sends)), ChannelID: channelID}, nil
}

// ChannelMessageEdit records the edit.
func (g *Gateway) ChannelMessageEdit(channelID, messageID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.EditErr != nil {
		return nil, g.EditErr
	}
	g.Edits[messageID] = append(g.Edits[messageID], content)
	return &discordgo.Message{ID: messageID, ChannelID: channelID, Content: content}, nil
}

// MessageReactionAdd records the reaction.
func (g *Gateway) MessageReactionAdd(channelID, messageID, emojiID string, _ ...discordgo.RequestOption) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ReactErr != nil {
		return g.ReactErr
	}
	g.Reactions = append(g.Reactions, channelID+"/"+messageID+"/"+emojiID)
	return nil
}

// UserChannelCreate returns the configured (or derived) DM channel.
func (g *Gateway) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.DMChannels[recipientID]
	if !ok {
		id = "dm-" + recipientID
	}
	return &discordgo.Channel{ID: id, Type: discordgo.ChannelTypeDM}, nil
}

// Channel returns canned channel metadata.
func (g *Gateway) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ch, ok := g.Channels[channelID]; ok {
		return ch, nil
	}
	return nil, fmt.Errorf("mock: unknown channel %q", channelID)
}

// ChannelMessage returns a single canned message by id.
func (g *Gateway) ChannelMessage(channelID, messageID string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.History[channelID] {
		if m.ID == messageID {
			return m, nil
		}
	}
	return nil, fmt.Errorf("mock: unknown message %q in channel %q", messageID, channelID)
}

// ChannelMessages returns the canned history for channelID.
func (g *Gateway) ChannelMessages(channelID string, limit int, _, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	msgs, ok := g.History[channelID]
	if !ok {
		return nil, fmt.Errorf("mock: unknown channel %q", channelID)
	}
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// GuildChannels returns the canned channel list for guildID.
func (g *Gateway) GuildChannels(guildID string, _ ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	chans, ok := g.Guilds[guildID]
	if !ok {
		return nil, fmt.Errorf("mock: unknown guild %q", guildID)
	}
	return chans, nil
}

// UserChannelPermissions returns the canned permission bits for channelID.
func (g *Gateway) UserChannelPermissions(_, channelID string, _ ...discordgo.RequestOption) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Permissions[channelID], nil
}

// SentContents returns the content of every recorded send, in order.
func (g *Gateway) SentContents() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.Sends))
	for i, s := range g.Sends {
		out[i] = s.Content
	}
	return out
}
