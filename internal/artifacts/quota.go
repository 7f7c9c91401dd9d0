package artifacts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisperengine-ai/whisperengine/internal/config"
)

// QuotaKind names a generation quota bucket.
type QuotaKind string

const (
	// QuotaImage counts generated images.
	QuotaImage QuotaKind = "image"

	// QuotaAudio counts generated audio clips.
	QuotaAudio QuotaKind = "audio"
)

// Quota enforces per-user per-day generation limits with broker counters.
// Counters are day-bucketed by UTC date and expire after 24 hours, so a
// denied user gets a fresh budget at midnight without any sweeper.
type Quota struct {
	rdb    redis.UniversalClient
	prefix string
	limits config.QuotaConfig
	now    func() time.Time
}

// NewQuota creates a Quota using the configured daily limits.
func NewQuota(rdb redis.UniversalClient, prefix string, limits config.QuotaConfig) *Quota {
	return &Quota{
		rdb:    rdb,
		prefix: prefix,
		limits: limits,
		now:    time.Now,
	}
}

// Allow consumes one unit of the user's daily budget for kind. It returns
// false when the budget is exhausted; the denied attempt does not consume.
func (q *Quota) Allow(ctx context.Context, userID string, kind QuotaKind) (bool, error) {
	limit := q.limitFor(kind)
	if limit <= 0 {
		return false, nil
	}

	key := q.key(userID, kind)
	count, err := q.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("artifacts: quota incr: %w", err)
	}
	if count == 1 {
		if err := q.rdb.Expire(ctx, key, 24*time.Hour).Err(); err != nil {
			return false, fmt.Errorf("artifacts: quota expire: %w", err)
		}
	}
	if count > int64(limit) {
		// Roll the overshoot back so Remaining stays accurate.
		q.rdb.Decr(ctx, key)
		return false, nil
	}
	return true, nil
}

// Remaining reports how many units of the day's budget are left for kind.
func (q *Quota) Remaining(ctx context.Context, userID string, kind QuotaKind) (int, error) {
	limit := q.limitFor(kind)
	used, err := q.rdb.Get(ctx, q.key(userID, kind)).Int()
	if err == redis.Nil {
		return limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("artifacts: quota get: %w", err)
	}
	if used >= limit {
		return 0, nil
	}
	return limit - used, nil
}

// kindForMIME maps an artifact MIME type to its quota bucket.
func kindForMIME(mime string) QuotaKind {
	if strings.HasPrefix(mime, "audio/") {
		return QuotaAudio
	}
	return QuotaImage
}

func (q *Quota) limitFor(kind QuotaKind) int {
	switch kind {
	case QuotaImage:
		return q.limits.DailyImageQuota
	case QuotaAudio:
		return q.limits.DailyAudioQuota
	default:
		return 0
	}
}

func (q *Quota) key(userID string, kind QuotaKind) string {
	return config.QuotaKey(q.prefix, string(kind), userID, q.now().UTC().Format("2006-01-02"))
}
