package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
bot_name: elena
server:
  log_level: debug
providers:
  llm:
    name: openai
    model: gpt-4o-mini
  embeddings:
    name: ollama
    model: all-minilm
memory:
  postgres_dsn: postgres://localhost/whisperengine
sql:
  url: postgres://localhost/whisperengine
broker:
  url: redis://localhost:6379/0
autonomy:
  enable_autonomous_activity: true
  enable_autonomous_replies: true
`

func TestLoadFromReader(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg, err := LoadFromReader(strings.NewReader(validYAML))
		if err != nil {
			t.Fatalf("LoadFromReader: %v", err)
		}
		if cfg.BotName != "elena" {
			t.Errorf("bot_name = %q, want elena", cfg.BotName)
		}
		if cfg.Providers.LLM.Model != "gpt-4o-mini" {
			t.Errorf("llm model = %q", cfg.Providers.LLM.Model)
		}
		if !cfg.Autonomy.EnableActivity || !cfg.Autonomy.EnableReplies {
			t.Error("autonomy switches not decoded")
		}
	})

	t.Run("defaults applied", func(t *testing.T) {
		cfg, err := LoadFromReader(strings.NewReader(validYAML))
		if err != nil {
			t.Fatalf("LoadFromReader: %v", err)
		}
		if cfg.Memory.CollectionName != "whisperengine_memory_elena" {
			t.Errorf("collection name = %q", cfg.Memory.CollectionName)
		}
		if cfg.Memory.EmotionHintThreshold != 0.7 {
			t.Errorf("emotion hint threshold = %f", cfg.Memory.EmotionHintThreshold)
		}
		if cfg.Autonomy.MinInterval != 300*time.Second || cfg.Autonomy.MaxInterval != 600*time.Second {
			t.Errorf("scheduler intervals = %s/%s", cfg.Autonomy.MinInterval, cfg.Autonomy.MaxInterval)
		}
		if cfg.Autonomy.DreamThreshold != 2*time.Hour {
			t.Errorf("dream threshold = %s", cfg.Autonomy.DreamThreshold)
		}
		if cfg.Autonomy.PostCooldown != 10*time.Minute {
			t.Errorf("post cooldown = %s", cfg.Autonomy.PostCooldown)
		}
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		_, err := LoadFromReader(strings.NewReader("bot_name: elena\nnot_a_field: true\n"))
		if err == nil {
			t.Fatal("expected error for unknown field")
		}
	})

	t.Run("env overrides secrets", func(t *testing.T) {
		t.Setenv("WHISPERENGINE_DISCORD_TOKEN", "tok-from-env")
		t.Setenv("WHISPERENGINE_LLM_API_KEY", "sk-from-env")
		cfg, err := LoadFromReader(strings.NewReader(validYAML))
		if err != nil {
			t.Fatalf("LoadFromReader: %v", err)
		}
		if cfg.Discord.Token != "tok-from-env" {
			t.Errorf("discord token = %q", cfg.Discord.Token)
		}
		if cfg.Providers.LLM.APIKey != "sk-from-env" {
			t.Errorf("llm api key = %q", cfg.Providers.LLM.APIKey)
		}
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadFromReader(strings.NewReader(validYAML))
		if err != nil {
			t.Fatalf("LoadFromReader: %v", err)
		}
		return cfg
	}

	t.Run("missing bot_name is fatal", func(t *testing.T) {
		cfg := base()
		cfg.BotName = ""
		if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "bot_name") {
			t.Fatalf("expected bot_name error, got %v", err)
		}
	})

	t.Run("invalid bot_name is fatal", func(t *testing.T) {
		cfg := base()
		cfg.BotName = "Elena-Prime"
		if err := Validate(cfg); err == nil {
			t.Fatal("expected error for mixed-case bot name")
		}
	})

	t.Run("missing llm provider is fatal", func(t *testing.T) {
		cfg := base()
		cfg.Providers.LLM.Name = ""
		if err := Validate(cfg); err == nil {
			t.Fatal("expected error for missing llm provider")
		}
	})

	t.Run("missing embeddings provider is fatal", func(t *testing.T) {
		cfg := base()
		cfg.Providers.Embeddings.Name = ""
		if err := Validate(cfg); err == nil {
			t.Fatal("expected error for missing embeddings provider")
		}
	})

	t.Run("autonomy without broker is fatal", func(t *testing.T) {
		cfg := base()
		cfg.Broker.URL = ""
		if err := Validate(cfg); err == nil {
			t.Fatal("expected error for autonomy without broker")
		}
	})

	t.Run("inverted scheduler interval is fatal", func(t *testing.T) {
		cfg := base()
		cfg.Autonomy.MinInterval = 10 * time.Minute
		cfg.Autonomy.MaxInterval = 5 * time.Minute
		if err := Validate(cfg); err == nil {
			t.Fatal("expected error for min > max interval")
		}
	})

	t.Run("bad log level is fatal", func(t *testing.T) {
		cfg := base()
		cfg.Server.LogLevel = "loud"
		if err := Validate(cfg); err == nil {
			t.Fatal("expected error for bad log level")
		}
	})
}
