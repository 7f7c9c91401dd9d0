package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/whisperengine-ai/whisperengine/pkg/memory"
	"github.com/whisperengine-ai/whisperengine/pkg/nvector"
)

// Compile-time interface check.
var _ memory.Collection = (*Collection)(nil)

// Collection is one bot's physical memory collection, backed by a dedicated
// PostgreSQL table with pgvector columns. Obtain one via [Open]; the handle
// is bound to a single bot for its lifetime.
//
// All methods are safe for concurrent use.
type Collection struct {
	pool  *pgxpool.Pool
	bot   string
	table string
}

// Open establishes a connection pool to the database at dsn, registers
// pgvector types on every connection, and runs [Migrate] so the bot's
// collection table exists.
func Open(ctx context.Context, dsn, bot string) (*Collection, error) {
	if !ValidBotName(bot) {
		return nil, fmt.Errorf("memory collection: invalid bot name %q", bot)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("memory collection: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("memory collection: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memory collection: ping: %w", err)
	}
	if err := Migrate(ctx, pool, bot, nvector.Dimensions); err != nil {
		pool.Close()
		return nil, err
	}

	return &Collection{pool: pool, bot: bot, table: CollectionName(bot)}, nil
}

// OpenWithPool wraps an existing pool for bot. Used by the universe bus to
// address a recipient bot's collection without a second connection pool,
// and by tests. Runs [Migrate].
func OpenWithPool(ctx context.Context, pool *pgxpool.Pool, bot string) (*Collection, error) {
	if err := Migrate(ctx, pool, bot, nvector.Dimensions); err != nil {
		return nil, err
	}
	return &Collection{pool: pool, bot: bot, table: CollectionName(bot)}, nil
}

// BotName implements [memory.Collection].
func (c *Collection) BotName() string { return c.bot }

// Close releases the underlying connection pool.
func (c *Collection) Close() { c.pool.Close() }

// emotionDoc / significanceDoc are the JSONB shapes for the metadata columns.
type emotionDoc struct {
	PrimaryEmotion string   `json:"primary_emotion"`
	Intensity      float64  `json:"intensity"`
	Trajectory     []string `json:"trajectory,omitempty"`
	Velocity       float64  `json:"velocity"`
	Momentum       string   `json:"momentum,omitempty"`
	Stability      float64  `json:"stability"`
}

type significanceDoc struct {
	Overall         float64            `json:"overall"`
	Factors         map[string]float64 `json:"factors,omitempty"`
	Tier            string             `json:"tier"`
	DecayResistance float64            `json:"decay_resistance"`
}

// Upsert implements [memory.Collection]. Absent facets are filled from the
// content vector before the write so that every row carries all seven.
func (c *Collection) Upsert(ctx context.Context, entries []memory.Memory) error {
	for i := range entries {
		e := &entries[i]
		if e.ID == "" || e.UserID == "" {
			return fmt.Errorf("memory collection: entry %d missing id or user_id", i)
		}
		if err := nvector.CheckDimensions(e.Vectors.Content); err != nil {
			return fmt.Errorf("memory collection: entry %d content vector: %w", i, err)
		}
		e.Vectors.FillMissing()

		emoJSON, err := json.Marshal(emotionDoc{
			PrimaryEmotion: e.Emotion.PrimaryEmotion,
			Intensity:      e.Emotion.Intensity,
			Trajectory:     e.Emotion.Trajectory,
			Velocity:       e.Emotion.Velocity,
			Momentum:       string(e.Emotion.Momentum),
			Stability:      e.Emotion.Stability,
		})
		if err != nil {
			return fmt.Errorf("memory collection: marshal emotion: %w", err)
		}
		sigJSON, err := json.Marshal(significanceDoc{
			Overall:         e.Significance.Overall,
			Factors:         e.Significance.Factors,
			Tier:            string(e.Significance.Tier),
			DecayResistance: e.Significance.DecayResistance,
		})
		if err != nil {
			return fmt.Errorf("memory collection: marshal significance: %w", err)
		}

		q := fmt.Sprintf(`
			INSERT INTO %s (
			    id, user_id, bot_name, role, content, timestamp, session_id,
			    memory_type, channel_id, message_id, author_id, author_is_bot,
			    reply_to_id, semantic_key, emotion, significance,
			    content_vec, emotion_vec, semantic_vec, relationship_vec,
			    personality_vec, interaction_vec, temporal_vec
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,
			          $17,$18,$19,$20,$21,$22,$23)
			ON CONFLICT (id) DO UPDATE SET
			    content      = EXCLUDED.content,
			    emotion      = EXCLUDED.emotion,
			    significance = EXCLUDED.significance`, c.table)

		_, err = c.pool.Exec(ctx, q,
			e.ID, e.UserID, c.bot, string(e.Role), e.Content, e.Timestamp.UTC(), e.SessionID,
			string(e.MemoryType), e.ChannelID, e.MessageID, e.AuthorID, e.AuthorIsBot,
			e.ReplyToID, e.SemanticKey, emoJSON, sigJSON,
			pgvector.NewVector(e.Vectors.Content),
			pgvector.NewVector(e.Vectors.Emotion),
			pgvector.NewVector(e.Vectors.Semantic),
			pgvector.NewVector(e.Vectors.Relationship),
			pgvector.NewVector(e.Vectors.Personality),
			pgvector.NewVector(e.Vectors.Interaction),
			pgvector.NewVector(e.Vectors.Temporal),
		)
		if err != nil {
			return fmt.Errorf("memory collection: upsert %s: %w", e.ID, err)
		}
	}
	return nil
}

// scanColumns is the shared column list for row scans. Only the facets the
// ranking pipeline reads back (content, emotion, personality) ship over the
// wire; the remaining four stay in the database.
const scanColumns = `
	id, user_id, role, content, timestamp, session_id, memory_type,
	channel_id, message_id, author_id, author_is_bot, reply_to_id,
	semantic_key, emotion, significance, content_vec, emotion_vec,
	personality_vec`

// SearchVector implements [memory.Collection]. Similarity is cosine; rows
// are returned in descending similarity order.
func (c *Collection) SearchVector(ctx context.Context, facet memory.Facet, query []float32, filter memory.Filter, limit int) ([]memory.ScoredMemory, error) {
	col, ok := vectorColumns[string(facet)]
	if !ok {
		return nil, fmt.Errorf("memory collection: unknown facet %q", facet)
	}
	if filter.UserID == "" {
		return nil, fmt.Errorf("memory collection: search requires a user filter")
	}
	if err := nvector.CheckDimensions(query); err != nil {
		return nil, fmt.Errorf("memory collection: query vector: %w", err)
	}
	if limit <= 0 {
		limit = 10
	}

	args := []any{pgvector.NewVector(query)} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"user_id = " + next(filter.UserID)}
	if len(filter.MemoryTypes) > 0 {
		placeholders := make([]string, len(filter.MemoryTypes))
		for i, mt := range filter.MemoryTypes {
			placeholders[i] = next(string(mt))
		}
		conditions = append(conditions, "memory_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(filter.Roles) > 0 {
		placeholders := make([]string, len(filter.Roles))
		for i, r := range filter.Roles {
			placeholders[i] = next(string(r))
		}
		conditions = append(conditions, "role IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !filter.After.IsZero() {
		conditions = append(conditions, "timestamp > "+next(filter.After))
	}
	if !filter.Before.IsZero() {
		conditions = append(conditions, "timestamp < "+next(filter.Before))
	}
	if filter.MinScore > 0 {
		conditions = append(conditions, fmt.Sprintf("(1 - (%s <=> $1)) >= %s", col, next(filter.MinScore)))
	}

	args = append(args, limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT %s,
		       1 - (%s <=> $1) AS score
		FROM   %s
		WHERE  %s
		ORDER  BY %s <=> $1
		LIMIT  %s`, scanColumns, col, c.table, strings.Join(conditions, "\n  AND "), col, limitArg)

	rows, err := c.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory collection: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.ScoredMemory, error) {
		var (
			sm      memory.ScoredMemory
			emoJSON []byte
			sigJSON []byte
			vec     pgvector.Vector
			evec    pgvector.Vector
			pvec    pgvector.Vector
			role    string
			memType string
		)
		if err := row.Scan(
			&sm.ID, &sm.UserID, &role, &sm.Content, &sm.Timestamp, &sm.SessionID, &memType,
			&sm.ChannelID, &sm.MessageID, &sm.AuthorID, &sm.AuthorIsBot, &sm.ReplyToID,
			&sm.SemanticKey, &emoJSON, &sigJSON, &vec, &evec, &pvec,
			&sm.Score,
		); err != nil {
			return memory.ScoredMemory{}, err
		}
		sm.BotName = c.bot
		sm.Role = memory.Role(role)
		sm.MemoryType = memory.MemoryType(memType)
		sm.Vectors.Content = vec.Slice()
		sm.Vectors.Emotion = evec.Slice()
		sm.Vectors.Personality = pvec.Slice()
		sm.FidelityPreserved = true
		if err := unmarshalMetadata(&sm.Memory, emoJSON, sigJSON); err != nil {
			return memory.ScoredMemory{}, err
		}
		return sm, nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory collection: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.ScoredMemory{}
	}
	return results, nil
}

// History implements [memory.Collection].
func (c *Collection) History(ctx context.Context, userID string, limit int) ([]memory.Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	q := fmt.Sprintf(`
		SELECT * FROM (
			SELECT %s
			FROM   %s
			WHERE  user_id = $1 AND memory_type = 'conversation'
			ORDER  BY timestamp DESC
			LIMIT  $2
		) recent
		ORDER BY timestamp ASC`, scanColumns, c.table)

	rows, err := c.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("memory collection: history: %w", err)
	}
	out, err := collectMemories(rows, c.bot)
	if err != nil {
		return nil, fmt.Errorf("memory collection: history scan: %w", err)
	}
	return out, nil
}

// Recent implements [memory.Collection]: a pure time scan, newest first.
func (c *Collection) Recent(ctx context.Context, filter memory.Filter, limit int) ([]memory.Memory, error) {
	if filter.UserID == "" {
		return nil, fmt.Errorf("memory collection: recent requires a user filter")
	}
	if limit <= 0 {
		limit = 10
	}

	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"user_id = " + next(filter.UserID)}
	if len(filter.MemoryTypes) > 0 {
		placeholders := make([]string, len(filter.MemoryTypes))
		for i, mt := range filter.MemoryTypes {
			placeholders[i] = next(string(mt))
		}
		conditions = append(conditions, "memory_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(filter.Roles) > 0 {
		placeholders := make([]string, len(filter.Roles))
		for i, r := range filter.Roles {
			placeholders[i] = next(string(r))
		}
		conditions = append(conditions, "role IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !filter.After.IsZero() {
		conditions = append(conditions, "timestamp > "+next(filter.After))
	}
	if !filter.Before.IsZero() {
		conditions = append(conditions, "timestamp < "+next(filter.Before))
	}

	args = append(args, limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT %s
		FROM   %s
		WHERE  %s
		ORDER  BY timestamp DESC
		LIMIT  %s`, scanColumns, c.table, strings.Join(conditions, "\n  AND "), limitArg)

	rows, err := c.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("memory collection: recent: %w", err)
	}
	out, err := collectMemories(rows, c.bot)
	if err != nil {
		return nil, fmt.Errorf("memory collection: recent scan: %w", err)
	}
	return out, nil
}

// LastInteraction implements [memory.Collection].
func (c *Collection) LastInteraction(ctx context.Context, userID string) (*memory.InteractionInfo, error) {
	q := fmt.Sprintf(`
		SELECT timestamp, channel_id, session_id, role
		FROM   %s
		WHERE  user_id = $1
		ORDER  BY timestamp DESC
		LIMIT  1`, c.table)

	var (
		info memory.InteractionInfo
		role string
	)
	err := c.pool.QueryRow(ctx, q, userID).Scan(&info.Timestamp, &info.ChannelID, &info.SessionID, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("memory collection: last interaction: %w", err)
	}
	info.Role = memory.Role(role)
	return &info, nil
}

// CountSince implements [memory.Collection].
func (c *Collection) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	q := fmt.Sprintf(`SELECT count(*) FROM %s WHERE user_id = $1 AND timestamp >= $2`, c.table)
	var n int
	if err := c.pool.QueryRow(ctx, q, userID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("memory collection: count since: %w", err)
	}
	return n, nil
}

// HasTier implements [memory.Collection].
func (c *Collection) HasTier(ctx context.Context, userID string, tier memory.SignificanceTier) (bool, error) {
	q := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s
			WHERE user_id = $1 AND significance->>'tier' = $2
		)`, c.table)
	var found bool
	if err := c.pool.QueryRow(ctx, q, userID, string(tier)).Scan(&found); err != nil {
		return false, fmt.Errorf("memory collection: has tier: %w", err)
	}
	return found, nil
}

// Health implements [memory.Collection].
func (c *Collection) Health(ctx context.Context) (memory.HealthStatus, error) {
	status := memory.HealthStatus{Collection: c.table}
	if err := c.pool.Ping(ctx); err != nil {
		status.Status = "unhealthy"
		status.Detail = err.Error()
		return status, nil
	}
	var n int64
	if err := c.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, c.table)).Scan(&n); err != nil {
		status.Status = "unhealthy"
		status.Detail = err.Error()
		return status, nil
	}
	status.Status = "healthy"
	status.Entries = n
	return status, nil
}

// collectMemories scans rows produced with scanColumns into Memory values.
func collectMemories(rows pgx.Rows, bot string) ([]memory.Memory, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Memory, error) {
		var (
			m       memory.Memory
			emoJSON []byte
			sigJSON []byte
			vec     pgvector.Vector
			evec    pgvector.Vector
			pvec    pgvector.Vector
			role    string
			memType string
		)
		if err := row.Scan(
			&m.ID, &m.UserID, &role, &m.Content, &m.Timestamp, &m.SessionID, &memType,
			&m.ChannelID, &m.MessageID, &m.AuthorID, &m.AuthorIsBot, &m.ReplyToID,
			&m.SemanticKey, &emoJSON, &sigJSON, &vec, &evec, &pvec,
		); err != nil {
			return memory.Memory{}, err
		}
		m.BotName = bot
		m.Role = memory.Role(role)
		m.MemoryType = memory.MemoryType(memType)
		m.Vectors.Content = vec.Slice()
		m.Vectors.Emotion = evec.Slice()
		m.Vectors.Personality = pvec.Slice()
		if err := unmarshalMetadata(&m, emoJSON, sigJSON); err != nil {
			return memory.Memory{}, err
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []memory.Memory{}
	}
	return out, nil
}

// unmarshalMetadata deserialises the emotion and significance JSONB columns.
func unmarshalMetadata(m *memory.Memory, emoJSON, sigJSON []byte) error {
	var emo emotionDoc
	if err := json.Unmarshal(emoJSON, &emo); err != nil {
		return fmt.Errorf("unmarshal emotion: %w", err)
	}
	m.Emotion = memory.EmotionMetadata{
		PrimaryEmotion: emo.PrimaryEmotion,
		Intensity:      emo.Intensity,
		Trajectory:     emo.Trajectory,
		Velocity:       emo.Velocity,
		Momentum:       memory.Momentum(emo.Momentum),
		Stability:      emo.Stability,
	}
	var sig significanceDoc
	if err := json.Unmarshal(sigJSON, &sig); err != nil {
		return fmt.Errorf("unmarshal significance: %w", err)
	}
	m.Significance = memory.SignificanceMetadata{
		Overall:         sig.Overall,
		Factors:         sig.Factors,
		Tier:            memory.SignificanceTier(sig.Tier),
		DecayResistance: sig.DecayResistance,
	}
	return nil
}
