// Package config provides the configuration schema, loader, and provider
// registry for a WhisperEngine bot process. One process serves exactly one
// bot; BotName scopes every collection, queue, and cache key the process
// touches.
package config

import "time"

// LogLevel controls log verbosity for the bot process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for a WhisperEngine bot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader];
// secrets may be injected through WHISPERENGINE_* environment variables
// (see [ApplyEnvOverrides]).
type Config struct {
	// BotName is the bot's logical identity. It suffixes the physical memory
	// collection (whisperengine_memory_<bot>) and every broker key. Required.
	BotName string `yaml:"bot_name"`

	Server    ServerConfig    `yaml:"server"`
	Discord   DiscordConfig   `yaml:"discord"`
	Providers ProvidersConfig `yaml:"providers"`
	Memory    MemoryConfig    `yaml:"memory"`
	SQL       SQLConfig       `yaml:"sql"`
	Broker    BrokerConfig    `yaml:"broker"`
	Autonomy  AutonomyConfig  `yaml:"autonomy"`
	Universe  UniverseConfig  `yaml:"universe"`
	Quotas    QuotaConfig     `yaml:"quotas"`

	// CharacterFile is the path to the character definition YAML
	// (persona, interests, emoji palette, evolution stages).
	CharacterFile string `yaml:"character_file"`

	// ArtifactDir is where pending generated artifacts (images, audio) are
	// parked until delivery. Defaults to data/artifacts.
	ArtifactDir string `yaml:"artifact_dir"`
}

// ServerConfig holds logging and metrics settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the address the Prometheus exporter listens on
	// (e.g., ":9090"). Empty disables the exporter.
	MetricsAddr string `yaml:"metrics_addr"`
}

// DiscordConfig holds the messaging adapter settings.
type DiscordConfig struct {
	// Token is the Discord bot token. Usually injected via
	// WHISPERENGINE_DISCORD_TOKEN rather than written into the file.
	Token string `yaml:"token"`

	// EnableDMBlock suppresses direct messages from users not listed in
	// DMAllowedUserIDs before any processing happens.
	EnableDMBlock    bool     `yaml:"enable_dm_block"`
	DMAllowedUserIDs []string `yaml:"dm_allowed_user_ids"`

	// BlockedUserIDs are hard-ignored senders.
	BlockedUserIDs []string `yaml:"blocked_user_ids"`

	// WatchChannelIDs are always included in sensory snapshots.
	WatchChannelIDs []string `yaml:"watch_channel_ids"`

	// GuildIDs are the servers the daily-life loop may pick random
	// exploration channels from. Empty disables exploration.
	GuildIDs []string `yaml:"guild_ids"`

	// BroadcastChannelIDs receive cross-bot broadcast ingest.
	BroadcastChannelIDs []string `yaml:"broadcast_channel_ids"`

	// EnableCrosspostDetection drops messages recognised as crossposts.
	EnableCrosspostDetection bool `yaml:"enable_crosspost_detection"`

	// AdminRoleID gates the admin slash commands. Empty means every guild
	// member may use them (development only).
	AdminRoleID string `yaml:"admin_role_id"`
}

// ProvidersConfig declares which provider implementation to use for each
// external model dependency. Each entry selects a named provider registered
// in the [Registry].
type ProvidersConfig struct {
	LLM        ProviderEntry `yaml:"llm"`
	Embeddings ProviderEntry `yaml:"embeddings"`

	// LLMFallbacks are tried in order when the primary LLM fails or its
	// circuit breaker is open.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// EmbeddingsFallbacks are the embeddings equivalent. They should serve
	// the same model as the primary: mixing embedding models silently
	// degrades retrieval.
	EmbeddingsFallbacks []ProviderEntry `yaml:"embeddings_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "ollama").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "gpt-4o-mini", "all-minilm").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// MemoryConfig holds settings for the vector memory store.
type MemoryConfig struct {
	// PostgresDSN is the connection string for the pgvector memory store.
	PostgresDSN string `yaml:"postgres_dsn"`

	// CollectionName overrides the physical collection name. Defaults to
	// whisperengine_memory_<bot_name>.
	CollectionName string `yaml:"collection_name"`

	// EmotionHintThreshold is the minimum classifier confidence at which an
	// emotion hint routes retrieval to the emotion facet. Defaults to 0.7.
	EmotionHintThreshold float64 `yaml:"emotion_hint_threshold"`
}

// SQLConfig holds the relational store used for trust/relationship state,
// usage quotas, and anything else that is row-shaped rather than vector-shaped.
// May point at the same database as Memory.PostgresDSN.
type SQLConfig struct {
	URL string `yaml:"url"`
}

// BrokerConfig holds the Redis-compatible broker settings.
type BrokerConfig struct {
	// URL is the broker address, e.g. "redis://localhost:6379/0".
	URL string `yaml:"url"`

	// KeyPrefix is prepended to every broker key this process writes.
	// Empty is valid and common.
	KeyPrefix string `yaml:"key_prefix"`

	// Workers caps concurrent jobs per named queue. Zero means the
	// per-queue default.
	Workers map[string]int `yaml:"workers"`
}

// AutonomyConfig controls the daily-life loop. EnableActivity is the master
// switch; the sub-switches gate individual action types and are re-checked
// after planning, so a stale plan can never bypass a disabled flag.
type AutonomyConfig struct {
	EnableActivity  bool `yaml:"enable_autonomous_activity"`
	EnableReplies   bool `yaml:"enable_autonomous_replies"`
	EnableReactions bool `yaml:"enable_autonomous_reactions"`
	EnablePosting   bool `yaml:"enable_autonomous_posting"`

	// EnableChannelLurking controls whether the loop scores channel messages
	// at all; off, snapshots still run but perceive emits nothing.
	EnableChannelLurking bool `yaml:"enable_channel_lurking"`

	// EnableBotConversations makes other bots' messages eligible for scoring.
	EnableBotConversations bool `yaml:"enable_bot_conversations"`

	// MinInterval/MaxInterval bound the scheduler's random sleep.
	// Defaults 300s/600s.
	MinInterval time.Duration `yaml:"min_interval"`
	MaxInterval time.Duration `yaml:"max_interval"`

	// DreamThreshold is the idle time after which a reverie cycle is
	// enqueued. Default 2h.
	DreamThreshold time.Duration `yaml:"dream_threshold"`

	// PostCooldown is how long a channel must be quiet before it is
	// eligible for an autonomous post. Default 10m.
	PostCooldown time.Duration `yaml:"autonomous_post_cooldown"`
}

// UniverseConfig controls the cross-bot gossip bus.
type UniverseConfig struct {
	// Enabled is the master switch for publishing universe events.
	Enabled bool `yaml:"enable_universe_events"`

	// OptOutUserIDs lists users whose events are never published.
	OptOutUserIDs []string `yaml:"opt_out_user_ids"`

	// RecipientBots lists the other bots eligible to receive gossip.
	RecipientBots []string `yaml:"recipient_bots"`
}

// QuotaConfig holds per-user per-day generation rate limits.
type QuotaConfig struct {
	DailyImageQuota int `yaml:"daily_image_quota"`
	DailyAudioQuota int `yaml:"daily_audio_quota"`
}

// ApplyDefaults fills zero values with the documented defaults. Called by
// [LoadFromReader] after decoding; exported so tests and hand-built configs
// can use it too.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Memory.CollectionName == "" && c.BotName != "" {
		c.Memory.CollectionName = "whisperengine_memory_" + c.BotName
	}
	if c.Memory.EmotionHintThreshold == 0 {
		c.Memory.EmotionHintThreshold = 0.7
	}
	if c.Autonomy.MinInterval == 0 {
		c.Autonomy.MinInterval = 300 * time.Second
	}
	if c.Autonomy.MaxInterval == 0 {
		c.Autonomy.MaxInterval = 600 * time.Second
	}
	if c.Autonomy.DreamThreshold == 0 {
		c.Autonomy.DreamThreshold = 2 * time.Hour
	}
	if c.Autonomy.PostCooldown == 0 {
		c.Autonomy.PostCooldown = 10 * time.Minute
	}
	if c.Quotas.DailyImageQuota == 0 {
		c.Quotas.DailyImageQuota = 10
	}
	if c.Quotas.DailyAudioQuota == 0 {
		c.Quotas.DailyAudioQuota = 10
	}
	if c.ArtifactDir == "" {
		c.ArtifactDir = "data/artifacts"
	}
}
