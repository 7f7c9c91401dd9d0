package artifacts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/whisperengine-ai/whisperengine/internal/config"
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	reg, err := New(rdb, t.TempDir(), "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return reg, mr
}

func TestRegistry_AddAndPopAll(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	first, err := reg.Add(ctx, "u1", "image/png", "sunset.png", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := reg.Add(ctx, "u1", "image/jpeg", "", []byte("jpg-bytes")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if filepath.Ext(first.Path) != ".png" {
		t.Errorf("path = %q, want .png extension", first.Path)
	}
	if data, err := os.ReadFile(first.Path); err != nil || string(data) != "png-bytes" {
		t.Errorf("on-disk payload = %q, %v", data, err)
	}

	got, err := reg.PopAll(ctx, "u1")
	if err != nil {
		t.Fatalf("PopAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("PopAll returned %d artifacts, want 2", len(got))
	}
	if got[0].Filename != "sunset.png" || got[0].MIME != "image/png" {
		t.Errorf("first artifact = %+v", got[0])
	}
	if got[1].Filename == "" {
		t.Error("default filename not derived from path")
	}

	// The pop is destructive.
	again, err := reg.PopAll(ctx, "u1")
	if err != nil {
		t.Fatalf("PopAll: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second PopAll returned %d artifacts, want 0", len(again))
	}
}

func TestRegistry_PerUserIsolation(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	if _, err := reg.Add(ctx, "u1", "image/png", "a.png", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Add(ctx, "u2", "image/png", "b.png", []byte("b")); err != nil {
		t.Fatal(err)
	}

	got, err := reg.PopAll(ctx, "u2")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Filename != "b.png" {
		t.Errorf("u2 artifacts = %+v", got)
	}
}

func TestRegistry_EntriesExpire(t *testing.T) {
	ctx := context.Background()
	reg, mr := newTestRegistry(t)

	if _, err := reg.Add(ctx, "u1", "image/png", "a.png", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL(config.PendingImagesKey("", "u1")); ttl != pendingTTL {
		t.Errorf("key TTL = %v, want %v", ttl, pendingTTL)
	}

	mr.FastForward(pendingTTL + time.Second)

	got, err := reg.PopAll(ctx, "u1")
	if err != nil {
		t.Fatalf("PopAll: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expired artifacts still returned: %+v", got)
	}
}

func TestRegistry_SkipsSweptFiles(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	art, err := reg.Add(ctx, "u1", "image/png", "a.png", []byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Add(ctx, "u1", "image/png", "b.png", []byte("b")); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(art.Path); err != nil {
		t.Fatal(err)
	}

	got, err := reg.PopAll(ctx, "u1")
	if err != nil {
		t.Fatalf("PopAll: %v", err)
	}
	if len(got) != 1 || got[0].Filename != "b.png" {
		t.Errorf("artifacts = %+v, want only b.png", got)
	}
}

func TestRegistry_AddValidation(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	if _, err := reg.Add(ctx, "", "image/png", "a.png", []byte("a")); err == nil {
		t.Error("empty user id accepted")
	}
	if _, err := reg.Add(ctx, "u1", "image/png", "a.png", nil); err == nil {
		t.Error("empty payload accepted")
	}
}

func TestRegistry_Sweep(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	art, err := reg.Add(ctx, "u1", "image/png", "old.png", []byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-3 * pendingTTL)
	if err := os.Chtimes(art.Path, stale, stale); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Add(ctx, "u1", "image/png", "fresh.png", []byte("b")); err != nil {
		t.Fatal(err)
	}

	removed, err := reg.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(art.Path); !os.IsNotExist(err) {
		t.Error("stale file survived sweep")
	}
}

func TestRegistry_QuotaEnforced(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	quota := NewQuota(rdb, "", config.QuotaConfig{DailyImageQuota: 1, DailyAudioQuota: 1})
	reg, err := New(rdb, t.TempDir(), "", nil, WithQuota(quota))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := reg.Add(ctx, "u1", "image/png", "a.png", []byte("x")); err != nil {
		t.Fatalf("first image: %v", err)
	}
	if _, err := reg.Add(ctx, "u1", "image/png", "b.png", []byte("x")); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("second image err = %v, want ErrQuotaExceeded", err)
	}

	// Audio draws from its own bucket.
	if _, err := reg.Add(ctx, "u1", "audio/ogg", "c.ogg", []byte("x")); err != nil {
		t.Errorf("audio blocked by image quota: %v", err)
	}

	// A denied Add must leave nothing pending.
	arts, err := reg.PopAll(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(arts) != 2 {
		t.Errorf("pending artifacts = %d, want 2", len(arts))
	}
}
