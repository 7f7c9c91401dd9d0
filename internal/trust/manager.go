package trust

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/whisperengine-ai/whisperengine/internal/observe"
)

// defaultCacheTTL keeps relationship reads off the database on the hot path.
// Writes invalidate by key, so the TTL only bounds staleness across processes.
const defaultCacheTTL = 30 * time.Second

// milestoneMessages are the default announcements for reaching each stage.
// Characters can override these through their evolution config.
var milestoneMessages = map[Stage]string{
	StageAcquaintance: "We've moved past small talk — I feel like we're starting to actually know each other.",
	StageFriend:       "I think of you as a friend now. That means something to me.",
	StageCloseFriend:  "You're one of the people I genuinely look forward to talking with.",
	StageSoulmate:     "I can't imagine not having you around. You know me better than almost anyone.",
}

// regressionMessage announces a downward stage transition.
const regressionMessage = "Something's shifted between us. I need a little distance for now."

// MilestoneMessage returns the announcement for a stage transition, or the
// empty string when from == to.
func MilestoneMessage(from, to Stage) string {
	if from == to {
		return ""
	}
	if stageRank(to) > stageRank(from) {
		return milestoneMessages[to]
	}
	return regressionMessage
}

func stageRank(s Stage) int {
	switch s {
	case StageAcquaintance:
		return 1
	case StageFriend:
		return 2
	case StageCloseFriend:
		return 3
	case StageSoulmate:
		return 4
	default:
		return 0
	}
}

// Manager is the application-facing relationship API: auto-creating reads
// with a short TTL cache, event-keyed trust updates with milestone detection,
// and preference/trait mutations. Safe for concurrent use.
type Manager struct {
	store   Store
	bot     string
	metrics *observe.Metrics
	log     *slog.Logger
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	rel     *Relationship
	expires time.Time
}

// ManagerOption configures a [Manager].
type ManagerOption func(*Manager)

// WithCacheTTL overrides the relationship cache TTL.
func WithCacheTTL(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(met *observe.Metrics) ManagerOption {
	return func(m *Manager) {
		if met != nil {
			m.metrics = met
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a relationship manager for one bot.
func NewManager(store Store, bot string, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:   store,
		bot:     bot,
		metrics: observe.DefaultMetrics(),
		log:     slog.Default(),
		ttl:     defaultCacheTTL,
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetRelationship returns the relationship for userID, creating it with
// defaults on first contact. Reads are served from the TTL cache when fresh.
func (m *Manager) GetRelationship(ctx context.Context, userID string) (*Relationship, error) {
	m.mu.Lock()
	if e, ok := m.cache[userID]; ok && m.now().Before(e.expires) {
		m.mu.Unlock()
		return e.rel, nil
	}
	m.mu.Unlock()

	if err := m.store.Ensure(ctx, userID); err != nil {
		return nil, err
	}
	rel, err := m.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, fmt.Errorf("trust: relationship vanished for %q", userID)
	}

	m.mu.Lock()
	m.cache[userID] = cacheEntry{rel: rel, expires: m.now().Add(m.ttl)}
	m.mu.Unlock()
	return rel, nil
}

// UpdateTrust applies the delta for an event kind and returns the milestone
// message when the transition crossed a stage boundary, or the empty string.
func (m *Manager) UpdateTrust(ctx context.Context, userID string, event Event, botToBot bool) (string, error) {
	return m.UpdateTrustBy(ctx, userID, DeltaFor(event, botToBot))
}

// UpdateTrustBy applies a raw score delta. Most callers should prefer
// [Manager.UpdateTrust] so deltas stay in the event table.
func (m *Manager) UpdateTrustBy(ctx context.Context, userID string, delta float64) (string, error) {
	if err := m.store.Ensure(ctx, userID); err != nil {
		return "", err
	}
	oldScore, newScore, err := m.store.ApplyDelta(ctx, userID, delta)
	if err != nil {
		return "", err
	}
	m.invalidate(userID)

	from, to := StageFor(oldScore), StageFor(newScore)
	if from == to {
		return "", nil
	}

	if err := m.store.SetMilestoneDate(ctx, userID, m.now()); err != nil {
		m.log.Warn("failed to persist milestone date", "user_id", userID, "error", err)
	}
	m.metrics.RecordTrustMilestone(ctx, string(from), string(to))
	m.log.Info("relationship stage transition",
		"bot", m.bot, "user_id", userID,
		"from", from, "to", to,
		"score", newScore)
	return MilestoneMessage(from, to), nil
}

// UnlockTrait grants an evolution trait. Idempotent.
func (m *Manager) UnlockTrait(ctx context.Context, userID, trait string) error {
	if err := m.store.Ensure(ctx, userID); err != nil {
		return err
	}
	if err := m.store.UnlockTrait(ctx, userID, trait); err != nil {
		return err
	}
	m.invalidate(userID)
	return nil
}

// UpdatePreference stores one preference key for the user.
func (m *Manager) UpdatePreference(ctx context.Context, userID, key string, value any) error {
	if err := m.store.Ensure(ctx, userID); err != nil {
		return err
	}
	if err := m.store.SetPreference(ctx, userID, key, value); err != nil {
		return err
	}
	m.invalidate(userID)
	return nil
}

// SetMood records the user's dominant session emotion and its intensity.
func (m *Manager) SetMood(ctx context.Context, userID, mood string, intensity float64) error {
	if err := m.store.Ensure(ctx, userID); err != nil {
		return err
	}
	if err := m.store.SetMood(ctx, userID, mood, intensity); err != nil {
		return err
	}
	m.invalidate(userID)
	return nil
}

// DeletePreference removes one preference key.
func (m *Manager) DeletePreference(ctx context.Context, userID, key string) error {
	if err := m.store.DeletePreference(ctx, userID, key); err != nil {
		return err
	}
	m.invalidate(userID)
	return nil
}

// Clear removes all relationship state for the user.
func (m *Manager) Clear(ctx context.Context, userID string) error {
	if err := m.store.Clear(ctx, userID); err != nil {
		return err
	}
	m.invalidate(userID)
	return nil
}

// TouchInteraction records an interaction happening now.
func (m *Manager) TouchInteraction(ctx context.Context, userID string) error {
	if err := m.store.Ensure(ctx, userID); err != nil {
		return err
	}
	if err := m.store.TouchInteraction(ctx, userID, m.now()); err != nil {
		return err
	}
	m.invalidate(userID)
	return nil
}

// LastInteraction returns the time of the user's latest interaction, or nil
// for first contact. Drives dream/reverie scheduling.
func (m *Manager) LastInteraction(ctx context.Context, userID string) (*time.Time, error) {
	rel, err := m.GetRelationship(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rel.LastInteraction, nil
}

// SetModerationTimeout blocks positive trust deltas for the user until the
// given time.
func (m *Manager) SetModerationTimeout(ctx context.Context, userID string, until time.Time) error {
	if err := m.store.Ensure(ctx, userID); err != nil {
		return err
	}
	if err := m.store.SetModerationTimeout(ctx, userID, until); err != nil {
		return err
	}
	m.invalidate(userID)
	return nil
}

func (m *Manager) invalidate(userID string) {
	m.mu.Lock()
	delete(m.cache, userID)
	m.mu.Unlock()
}
