package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeWatcherConfig(t *testing.T, path, replies string) {
	t.Helper()
	data := []byte(watcherYAMLWith(replies))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	// Force a visible mtime change even on coarse filesystem clocks.
	future := time.Now().Add(time.Duration(len(data)) * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func watcherYAMLWith(replies string) string {
	out := ""
	for _, line := range []string{
		"bot_name: elena",
		"providers:",
		"  llm:",
		"    name: openai",
		"  embeddings:",
		"    name: ollama",
		"autonomy:",
		"  enable_autonomous_replies: " + replies,
	} {
		out += line + "\n"
	}
	return out
}

func TestWatcher(t *testing.T) {
	t.Run("detects flag change", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		writeWatcherConfig(t, path, "false")

		changed := make(chan ConfigDiff, 1)
		w, err := NewWatcher(path, func(old, new *Config) {
			changed <- Diff(old, new)
		}, WithInterval(10*time.Millisecond))
		if err != nil {
			t.Fatalf("NewWatcher: %v", err)
		}
		defer w.Stop()

		if w.Current().Autonomy.EnableReplies {
			t.Fatal("initial config should have replies disabled")
		}

		writeWatcherConfig(t, path, "true")

		select {
		case d := <-changed:
			if !d.AutonomyChanged || !d.NewAutonomy.EnableReplies {
				t.Errorf("expected autonomy diff, got %+v", d)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("watcher never fired")
		}

		if !w.Current().Autonomy.EnableReplies {
			t.Error("Current() not updated after reload")
		}
	})

	t.Run("keeps old config on invalid write", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		writeWatcherConfig(t, path, "true")

		w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
		if err != nil {
			t.Fatalf("NewWatcher: %v", err)
		}
		defer w.Stop()

		if err := os.WriteFile(path, []byte("bot_name: ''\n"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		future := time.Now().Add(time.Hour)
		if err := os.Chtimes(path, future, future); err != nil {
			t.Fatalf("chtimes: %v", err)
		}

		time.Sleep(100 * time.Millisecond)
		if w.Current().BotName != "elena" {
			t.Errorf("invalid reload replaced config: %+v", w.Current())
		}
	})
}
