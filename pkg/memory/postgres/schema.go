// Package postgres provides the PostgreSQL + pgvector implementation of the
// WhisperEngine memory collection contract.
//
// Each bot's memories live in their own physical table named
// `whisperengine_memory_<bot>` — bot isolation is enforced by the table
// boundary, never by a filter on a shared table. Every row carries seven
// 384-dimensional named vectors stored as separate pgvector columns, with an
// HNSW index on the content facet for fast approximate search; the remaining
// facets are searched exactly, which is acceptable at per-user scale because
// the user_id filter prunes first.
//
// The pgvector extension must be available in the target database;
// [Migrate] installs it via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	coll, err := postgres.Open(ctx, dsn, "elena")
//	if err != nil { … }
//	defer coll.Close()
//
//	_ = coll.Upsert(ctx, entries)
//	hits, _ := coll.SearchVector(ctx, memory.FacetEmotion, vec, filter, 10)
package postgres

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CollectionPrefix is the physical table-name prefix shared by every bot
// collection.
const CollectionPrefix = "whisperengine_memory_"

// botNamePattern is the allowed shape of a bot name. The bot name becomes
// part of a table identifier, so the pattern is strict.
var botNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

// ValidBotName reports whether name can serve as a collection suffix.
func ValidBotName(name string) bool {
	return botNamePattern.MatchString(name)
}

// CollectionName returns the physical table name for a bot.
func CollectionName(bot string) string {
	return CollectionPrefix + bot
}

// vectorColumns maps each facet to its column name. Facet column lookup goes
// through this map so a caller-supplied facet can never reach SQL text.
var vectorColumns = map[string]string{
	"content":      "content_vec",
	"emotion":      "emotion_vec",
	"semantic":     "semantic_vec",
	"relationship": "relationship_vec",
	"personality":  "personality_vec",
	"interaction":  "interaction_vec",
	"temporal":     "temporal_vec",
}

// ddlCollection returns the DDL for one bot's collection table. The vector
// dimension is baked into the column types at creation time.
func ddlCollection(table string, dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
    id               TEXT         PRIMARY KEY,
    user_id          TEXT         NOT NULL,
    bot_name         TEXT         NOT NULL,
    role             TEXT         NOT NULL,
    content          TEXT         NOT NULL,
    timestamp        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    session_id       TEXT         NOT NULL DEFAULT '',
    memory_type      TEXT         NOT NULL DEFAULT 'conversation',
    channel_id       TEXT         NOT NULL DEFAULT '',
    message_id       TEXT         NOT NULL DEFAULT '',
    author_id        TEXT         NOT NULL DEFAULT '',
    author_is_bot    BOOLEAN      NOT NULL DEFAULT false,
    reply_to_id      TEXT         NOT NULL DEFAULT '',
    semantic_key     TEXT         NOT NULL DEFAULT 'general',
    emotion          JSONB        NOT NULL DEFAULT '{}',
    significance     JSONB        NOT NULL DEFAULT '{}',
    content_vec      vector(%[2]d) NOT NULL,
    emotion_vec      vector(%[2]d) NOT NULL,
    semantic_vec     vector(%[2]d) NOT NULL,
    relationship_vec vector(%[2]d) NOT NULL,
    personality_vec  vector(%[2]d) NOT NULL,
    interaction_vec  vector(%[2]d) NOT NULL,
    temporal_vec     vector(%[2]d) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_user
    ON %[1]s (user_id);

CREATE INDEX IF NOT EXISTS idx_%[1]s_user_timestamp
    ON %[1]s (user_id, timestamp);

CREATE INDEX IF NOT EXISTS idx_%[1]s_memory_type
    ON %[1]s (memory_type);

CREATE INDEX IF NOT EXISTS idx_%[1]s_content_vec
    ON %[1]s USING hnsw (content_vec vector_cosine_ops);
`, table, dims)
}

// Migrate creates or ensures the bot's collection table and indexes exist.
// It is idempotent and safe to run on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, bot string, dims int) error {
	if !ValidBotName(bot) {
		return fmt.Errorf("postgres migrate: invalid bot name %q", bot)
	}
	if _, err := pool.Exec(ctx, ddlCollection(CollectionName(bot), dims)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
