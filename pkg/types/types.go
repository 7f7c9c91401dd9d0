// Package types defines the shared types used across all WhisperEngine packages.
//
// These types form the lingua franca between the messaging adapter, the memory
// layers, the daily-life loop, and the LLM providers. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// InboundMessage is a single message delivered by the messaging adapter.
// It is the adapter-neutral projection of a Discord message: everything the
// core needs, nothing gateway-specific.
type InboundMessage struct {
	// ID is the platform message identifier.
	ID string

	// AuthorID identifies the sender.
	AuthorID string

	// AuthorName is the sender's display name.
	AuthorName string

	// AuthorIsBot indicates the sender is another bot account.
	AuthorIsBot bool

	// Content is the raw message text. May be empty for sticker-only or
	// attachment-only messages.
	Content string

	// ChannelID is the channel the message was posted in.
	ChannelID string

	// GuildID is the server the message belongs to. Empty for DMs.
	GuildID string

	// Mentions lists the user IDs mentioned in the message.
	Mentions []string

	// MentionsBot indicates this bot was directly mentioned.
	MentionsBot bool

	// ReferenceID is the ID of the message this one replies to, if any.
	ReferenceID string

	// Attachments holds URLs of attached files.
	Attachments []string

	// Stickers holds sticker names, for messages carrying only stickers.
	Stickers []string

	// Forwards holds the content of forwarded message snapshots.
	Forwards []string

	// IsDM indicates the message arrived in a direct message channel.
	IsDM bool

	// Timestamp is when the message was created.
	Timestamp time.Time
}

// ActionType discriminates the [ActionCommand] tagged union.
type ActionType string

const (
	// ActionReply responds to a specific message in a channel.
	ActionReply ActionType = "reply"

	// ActionReact adds an emoji reaction to a specific message.
	ActionReact ActionType = "react"

	// ActionPost sends a standalone message to a channel.
	ActionPost ActionType = "post"

	// ActionReachOut opens a direct message to a user the bot knows well.
	ActionReachOut ActionType = "reach_out"
)

// IsValid reports whether t is a recognised action type.
func (t ActionType) IsValid() bool {
	switch t {
	case ActionReply, ActionReact, ActionPost, ActionReachOut:
		return true
	}
	return false
}

// ActionCommand is an autonomous action produced by the daily-life brain and
// consumed by the messaging adapter. The variant is selected by ActionType;
// only the fields relevant to the variant are populated.
type ActionCommand struct {
	// ActionType selects the variant.
	ActionType ActionType `json:"action_type"`

	// ChannelID is the target channel (reply, react, post) or DM recipient
	// channel (reach_out).
	ChannelID string `json:"channel_id"`

	// TargetMessageID is the message being replied or reacted to.
	// Empty for post and reach_out.
	TargetMessageID string `json:"target_message_id,omitempty"`

	// TargetUserID identifies the author of the target message, used for
	// trust credit and fact attribution.
	TargetUserID string `json:"target_user_id,omitempty"`

	// Content is the outgoing text for reply, post, and reach_out.
	Content string `json:"content,omitempty"`

	// Emoji is the reaction emoji for react.
	Emoji string `json:"emoji,omitempty"`

	// Reason records why the brain chose this action. Injected into the
	// reply prompt as an internal goal note; never sent to the channel.
	Reason string `json:"reason,omitempty"`
}

// MessageSnapshot is one observed channel message inside a [SensorySnapshot].
type MessageSnapshot struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	IsBot       bool      `json:"is_bot"`
	CreatedAt   time.Time `json:"created_at"`
	MentionsBot bool      `json:"mentions_bot"`
	ReferenceID string    `json:"reference_id,omitempty"`
	ChannelID   string    `json:"channel_id"`
}

// ChannelSnapshot is the recent history of one polled channel.
type ChannelSnapshot struct {
	ChannelID   string            `json:"channel_id"`
	ChannelName string            `json:"channel_name"`
	Messages    []MessageSnapshot `json:"messages"`
}

// SensorySnapshot is the daily-life loop's periodic observation of the
// environment: the recent history of every channel the bot is watching,
// plus any direct mentions seen since the last tick.
type SensorySnapshot struct {
	BotName       string            `json:"bot_name"`
	Timestamp     time.Time         `json:"timestamp"`
	Channels      []ChannelSnapshot `json:"channels"`
	WatchChannels []string          `json:"watch_channels"`
	Mentions      []MessageSnapshot `json:"mentions"`
}

// EventType discriminates the [UniverseEvent] tagged union.
type EventType string

const (
	// EventUserUpdate is a life update shared by the user (job, move, …).
	EventUserUpdate EventType = "user_update"

	// EventEmotionalSpike is a strong emotional signal in a user turn.
	EventEmotionalSpike EventType = "emotional_spike"

	// EventTopicDiscovery is a newly surfaced topic of interest.
	EventTopicDiscovery EventType = "topic_discovery"

	// EventGoalAchieved marks a completed user goal.
	EventGoalAchieved EventType = "goal_achieved"
)

// IsValid reports whether t is a recognised event type.
func (t EventType) IsValid() bool {
	switch t {
	case EventUserUpdate, EventEmotionalSpike, EventTopicDiscovery, EventGoalAchieved:
		return true
	}
	return false
}

// UniverseEvent is a cross-bot notification about a user, published on the
// universe bus and delivered to other bots as gossip memories. Summary must
// always be the privacy-safe one-liner, never the user's raw text.
type UniverseEvent struct {
	EventType EventType `json:"event_type"`

	UserID    string `json:"user_id"`
	SourceBot string `json:"source_bot"`

	// Summary is a privacy-safe one-line description of the event.
	Summary string `json:"summary"`

	// Topic is the coarse topic label used by the sensitive-topic filter.
	Topic string `json:"topic"`

	// PropagationDepth counts hops from the originating conversation.
	// Events at depth >= 2 are dropped so gossip cannot cascade.
	PropagationDepth int `json:"propagation_depth"`

	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// PendingArtifact is a generated image or audio clip waiting to be attached
// to the bot's next outgoing message for a user. Registry entries expire
// after five minutes.
type PendingArtifact struct {
	UserID   string `json:"user_id"`
	Path     string `json:"path"`
	MIME     string `json:"mime"`
	Filename string `json:"filename"`
}

// Message is a single turn in a conversation history sent to an LLM.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string

	// Name optionally identifies the speaker in multi-user channel contexts.
	Name string
}

// ToolDefinition describes one function offered to the model in a
// tool-enabled completion.
type ToolDefinition struct {
	Name        string
	Description string

	// Parameters is the JSON Schema of the function's arguments.
	Parameters map[string]any
}

// ToolCall is one function invocation the model requested.
type ToolCall struct {
	// ID is the provider-assigned call identifier.
	ID string

	Name string

	// Arguments is the JSON-encoded argument object.
	Arguments string
}
