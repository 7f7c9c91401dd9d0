// Package artifacts implements the pending artifact registry: generated
// images or audio clips parked on disk until the bot's next outgoing message
// to the user picks them up as attachments.
//
// Metadata lives in a per-user Redis list with a five-minute TTL; an
// artifact nobody claims in that window is forgotten and its file swept
// later. The bytes themselves never pass through Redis.
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/whisperengine-ai/whisperengine/internal/config"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// pendingTTL is how long an unclaimed artifact stays deliverable.
const pendingTTL = 5 * time.Minute

// mimeExtensions maps the MIME types providers hand us to file extensions.
var mimeExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"audio/mpeg": ".mp3",
	"audio/ogg":  ".ogg",
	"audio/wav":  ".wav",
}

// ErrQuotaExceeded is returned by Add when the user's daily generation
// budget for the artifact's kind is spent.
var ErrQuotaExceeded = errors.New("daily generation quota exceeded")

// Registry stores pending artifacts for one bot. Safe for concurrent use.
type Registry struct {
	rdb    redis.UniversalClient
	dir    string
	prefix string
	quota  *Quota
	log    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithQuota makes Add enforce per-user daily generation limits.
func WithQuota(q *Quota) Option {
	return func(r *Registry) { r.quota = q }
}

// New creates a registry writing files under dir, creating it when absent.
// prefix is the bot's Redis key prefix.
func New(rdb redis.UniversalClient, dir, prefix string, log *slog.Logger, opts ...Option) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: create dir: %w", err)
	}
	r := &Registry{rdb: rdb, dir: dir, prefix: prefix, log: log}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Add writes data to disk and registers the artifact for userID's next
// message. The returned artifact carries the final on-disk path. With a
// quota configured, Add returns [ErrQuotaExceeded] once the user's daily
// budget for the artifact kind is spent.
func (r *Registry) Add(ctx context.Context, userID, mime, filename string, data []byte) (types.PendingArtifact, error) {
	if userID == "" {
		return types.PendingArtifact{}, fmt.Errorf("artifacts: add: empty user id")
	}
	if len(data) == 0 {
		return types.PendingArtifact{}, fmt.Errorf("artifacts: add: empty payload")
	}
	if r.quota != nil {
		ok, err := r.quota.Allow(ctx, userID, kindForMIME(mime))
		if err != nil {
			return types.PendingArtifact{}, fmt.Errorf("artifacts: add: %w", err)
		}
		if !ok {
			return types.PendingArtifact{}, fmt.Errorf("artifacts: add: %w", ErrQuotaExceeded)
		}
	}

	ext := mimeExtensions[mime]
	if ext == "" {
		ext = filepath.Ext(filename)
	}
	path := filepath.Join(r.dir, uuid.NewString()+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return types.PendingArtifact{}, fmt.Errorf("artifacts: add: write file: %w", err)
	}

	if filename == "" {
		filename = filepath.Base(path)
	}
	art := types.PendingArtifact{
		UserID:   userID,
		Path:     path,
		MIME:     mime,
		Filename: filename,
	}
	payload, err := json.Marshal(art)
	if err != nil {
		_ = os.Remove(path)
		return types.PendingArtifact{}, fmt.Errorf("artifacts: add: marshal: %w", err)
	}

	key := config.PendingImagesKey(r.prefix, userID)
	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.Expire(ctx, key, pendingTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		_ = os.Remove(path)
		return types.PendingArtifact{}, fmt.Errorf("artifacts: add: register: %w", err)
	}

	r.log.Debug("artifact registered", "user_id", userID, "mime", mime, "path", path)
	return art, nil
}

// PopAll removes and returns every pending artifact for userID, skipping
// entries whose file has already been swept.
func (r *Registry) PopAll(ctx context.Context, userID string) ([]types.PendingArtifact, error) {
	key := config.PendingImagesKey(r.prefix, userID)

	pipe := r.rdb.TxPipeline()
	items := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("artifacts: pop %q: %w", userID, err)
	}

	raw, err := items.Result()
	if err != nil {
		return nil, fmt.Errorf("artifacts: pop %q: %w", userID, err)
	}
	out := make([]types.PendingArtifact, 0, len(raw))
	for _, item := range raw {
		var art types.PendingArtifact
		if err := json.Unmarshal([]byte(item), &art); err != nil {
			r.log.Warn("skipping malformed artifact entry", "user_id", userID, "error", err)
			continue
		}
		if _, err := os.Stat(art.Path); err != nil {
			r.log.Warn("skipping artifact with missing file", "user_id", userID, "path", art.Path)
			continue
		}
		out = append(out, art)
	}
	return out, nil
}

// Sweep deletes on-disk files older than the pending TTL. Run it
// periodically; claimed artifacts should be removed by the caller after
// sending, so anything old here was never delivered.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0, fmt.Errorf("artifacts: sweep: %w", err)
	}
	cutoff := time.Now().Add(-2 * pendingTTL)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(r.dir, e.Name())); err != nil {
			r.log.Warn("artifact sweep failed", "file", e.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		r.log.Debug("artifacts swept", "removed", removed)
	}
	return removed, nil
}
