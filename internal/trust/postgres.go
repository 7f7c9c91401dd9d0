package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the relationships table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS whisperengine_relationships (
    bot_name            TEXT NOT NULL,
    user_id             TEXT NOT NULL,
    trust_score         DOUBLE PRECISION NOT NULL DEFAULT 0,
    unlocked_traits     JSONB NOT NULL DEFAULT '[]',
    preferences         JSONB NOT NULL DEFAULT '{}',
    mood                TEXT NOT NULL DEFAULT '',
    mood_intensity      DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_interaction    TIMESTAMPTZ,
    last_milestone_date TIMESTAMPTZ,
    moderation_until    TIMESTAMPTZ,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (bot_name, user_id)
);
CREATE INDEX IF NOT EXISTS idx_relationships_last_interaction
    ON whisperengine_relationships(bot_name, last_interaction);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Structured
// sub-fields (traits, preferences) are serialised as JSONB.
type PostgresStore struct {
	db  DB
	bot string
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store scoped to one bot. The caller is
// responsible for calling [PostgresStore.Migrate] to ensure the schema exists
// before issuing queries.
func NewPostgresStore(db DB, bot string) *PostgresStore {
	return &PostgresStore{db: db, bot: bot}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("trust: migrate: %w", err)
	}
	return nil
}

// Ensure implements [Store].
func (s *PostgresStore) Ensure(ctx context.Context, userID string) error {
	const query = `
		INSERT INTO whisperengine_relationships (bot_name, user_id)
		VALUES ($1, $2)
		ON CONFLICT (bot_name, user_id) DO NOTHING`
	if _, err := s.db.Exec(ctx, query, s.bot, userID); err != nil {
		return fmt.Errorf("trust: ensure %q: %w", userID, err)
	}
	return nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, userID string) (*Relationship, error) {
	const query = `
		SELECT bot_name, user_id, trust_score, unlocked_traits, preferences,
		       mood, mood_intensity,
		       last_interaction, last_milestone_date, moderation_until,
		       created_at, updated_at
		FROM whisperengine_relationships
		WHERE bot_name = $1 AND user_id = $2`

	var (
		r                    Relationship
		traitsJSON, prefJSON []byte
	)
	err := s.db.QueryRow(ctx, query, s.bot, userID).Scan(
		&r.BotName, &r.UserID, &r.TrustScore, &traitsJSON, &prefJSON,
		&r.Mood, &r.MoodIntensity,
		&r.LastInteraction, &r.LastMilestoneDate, &r.ModerationUntil,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("trust: get %q: %w", userID, err)
	}

	if err := json.Unmarshal(traitsJSON, &r.UnlockedTraits); err != nil {
		return nil, fmt.Errorf("trust: unmarshal traits: %w", err)
	}
	if err := json.Unmarshal(prefJSON, &r.Preferences); err != nil {
		return nil, fmt.Errorf("trust: unmarshal preferences: %w", err)
	}
	return &r, nil
}

// ApplyDelta implements [Store]. The row lock, the clamp, and the moderation
// gate all happen inside one UPDATE so concurrent turns cannot lose deltas.
func (s *PostgresStore) ApplyDelta(ctx context.Context, userID string, delta float64) (float64, float64, error) {
	const query = `
		UPDATE whisperengine_relationships r
		SET trust_score = CASE
		        WHEN $3 > 0 AND r.moderation_until IS NOT NULL AND r.moderation_until > now()
		            THEN r.trust_score
		        ELSE LEAST(100::float8, GREATEST(-100::float8, r.trust_score + $3))
		    END,
		    updated_at = now()
		FROM (
		    SELECT trust_score AS old_score
		    FROM whisperengine_relationships
		    WHERE bot_name = $1 AND user_id = $2
		    FOR UPDATE
		) o
		WHERE r.bot_name = $1 AND r.user_id = $2
		RETURNING o.old_score, r.trust_score`

	var oldScore, newScore float64
	err := s.db.QueryRow(ctx, query, s.bot, userID, delta).Scan(&oldScore, &newScore)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, fmt.Errorf("trust: apply delta: no relationship for %q", userID)
		}
		return 0, 0, fmt.Errorf("trust: apply delta %q: %w", userID, err)
	}
	return oldScore, newScore, nil
}

// SetMilestoneDate implements [Store].
func (s *PostgresStore) SetMilestoneDate(ctx context.Context, userID string, at time.Time) error {
	const query = `
		UPDATE whisperengine_relationships
		SET last_milestone_date = $3, updated_at = now()
		WHERE bot_name = $1 AND user_id = $2`
	if _, err := s.db.Exec(ctx, query, s.bot, userID, at); err != nil {
		return fmt.Errorf("trust: set milestone date %q: %w", userID, err)
	}
	return nil
}

// UnlockTrait implements [Store].
func (s *PostgresStore) UnlockTrait(ctx context.Context, userID, trait string) error {
	const query = `
		UPDATE whisperengine_relationships
		SET unlocked_traits = CASE
		        WHEN unlocked_traits @> to_jsonb(ARRAY[$3::text])
		            THEN unlocked_traits
		        ELSE unlocked_traits || to_jsonb($3::text)
		    END,
		    updated_at = now()
		WHERE bot_name = $1 AND user_id = $2`
	if _, err := s.db.Exec(ctx, query, s.bot, userID, trait); err != nil {
		return fmt.Errorf("trust: unlock trait %q for %q: %w", trait, userID, err)
	}
	return nil
}

// SetPreference implements [Store].
func (s *PostgresStore) SetPreference(ctx context.Context, userID, key string, value any) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("trust: marshal preference %q: %w", key, err)
	}
	const query = `
		UPDATE whisperengine_relationships
		SET preferences = preferences || jsonb_build_object($3::text, $4::jsonb),
		    updated_at = now()
		WHERE bot_name = $1 AND user_id = $2`
	if _, err := s.db.Exec(ctx, query, s.bot, userID, key, valueJSON); err != nil {
		return fmt.Errorf("trust: set preference %q for %q: %w", key, userID, err)
	}
	return nil
}

// DeletePreference implements [Store].
func (s *PostgresStore) DeletePreference(ctx context.Context, userID, key string) error {
	const query = `
		UPDATE whisperengine_relationships
		SET preferences = preferences - $3, updated_at = now()
		WHERE bot_name = $1 AND user_id = $2`
	if _, err := s.db.Exec(ctx, query, s.bot, userID, key); err != nil {
		return fmt.Errorf("trust: delete preference %q for %q: %w", key, userID, err)
	}
	return nil
}

// SetMood implements [Store].
func (s *PostgresStore) SetMood(ctx context.Context, userID, mood string, intensity float64) error {
	const query = `
		UPDATE whisperengine_relationships
		SET mood = $3, mood_intensity = $4, updated_at = now()
		WHERE bot_name = $1 AND user_id = $2`
	if _, err := s.db.Exec(ctx, query, s.bot, userID, mood, intensity); err != nil {
		return fmt.Errorf("trust: set mood for %q: %w", userID, err)
	}
	return nil
}

// Clear implements [Store]. Clearing a non-existent relationship is not an
// error.
func (s *PostgresStore) Clear(ctx context.Context, userID string) error {
	const query = `
		DELETE FROM whisperengine_relationships
		WHERE bot_name = $1 AND user_id = $2`
	if _, err := s.db.Exec(ctx, query, s.bot, userID); err != nil {
		return fmt.Errorf("trust: clear %q: %w", userID, err)
	}
	return nil
}

// TouchInteraction implements [Store].
func (s *PostgresStore) TouchInteraction(ctx context.Context, userID string, at time.Time) error {
	const query = `
		UPDATE whisperengine_relationships
		SET last_interaction = $3, updated_at = now()
		WHERE bot_name = $1 AND user_id = $2`
	if _, err := s.db.Exec(ctx, query, s.bot, userID, at); err != nil {
		return fmt.Errorf("trust: touch interaction %q: %w", userID, err)
	}
	return nil
}

// SetModerationTimeout implements [Store].
func (s *PostgresStore) SetModerationTimeout(ctx context.Context, userID string, until time.Time) error {
	const query = `
		UPDATE whisperengine_relationships
		SET moderation_until = $3, updated_at = now()
		WHERE bot_name = $1 AND user_id = $2`
	if _, err := s.db.Exec(ctx, query, s.bot, userID, until); err != nil {
		return fmt.Errorf("trust: set moderation timeout %q: %w", userID, err)
	}
	return nil
}
