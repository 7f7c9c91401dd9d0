package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/whisperengine-ai/whisperengine/pkg/memory/postgres"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// envOverrides maps WHISPERENGINE_* environment variables to config fields.
// Secrets stay out of the YAML file; an empty variable leaves the file value.
var envOverrides = []struct {
	name  string
	apply func(cfg *Config, value string)
}{
	{"WHISPERENGINE_DISCORD_TOKEN", func(c *Config, v string) { c.Discord.Token = v }},
	{"WHISPERENGINE_LLM_API_KEY", func(c *Config, v string) { c.Providers.LLM.APIKey = v }},
	{"WHISPERENGINE_EMBEDDINGS_API_KEY", func(c *Config, v string) { c.Providers.Embeddings.APIKey = v }},
	{"WHISPERENGINE_POSTGRES_DSN", func(c *Config, v string) { c.Memory.PostgresDSN = v }},
	{"WHISPERENGINE_SQL_URL", func(c *Config, v string) { c.SQL.URL = v }},
	{"WHISPERENGINE_BROKER_URL", func(c *Config, v string) { c.Broker.URL = v }},
}

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnvOverrides(cfg)
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides copies set WHISPERENGINE_* environment variables over the
// corresponding config fields. Unset or empty variables change nothing.
func ApplyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(cfg, v)
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Missing bot_name, embeddings, or LLM configuration is fatal: a bot without
// an identity or a model cannot start.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.BotName == "" {
		errs = append(errs, errors.New("bot_name is required"))
	} else if !postgres.ValidBotName(cfg.BotName) {
		errs = append(errs, fmt.Errorf("bot_name %q is invalid; use lowercase letters, digits, and underscores", cfg.BotName))
	}

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings.name is required"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Autonomy.MinInterval > cfg.Autonomy.MaxInterval {
		errs = append(errs, fmt.Errorf("autonomy.min_interval %s exceeds max_interval %s",
			cfg.Autonomy.MinInterval, cfg.Autonomy.MaxInterval))
	}
	if cfg.Autonomy.EnableActivity && cfg.Broker.URL == "" {
		errs = append(errs, errors.New("autonomy.enable_autonomous_activity requires broker.url"))
	}
	if cfg.Universe.Enabled && cfg.Broker.URL == "" {
		errs = append(errs, errors.New("universe.enable_universe_events requires broker.url"))
	}

	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; long-term memory will not be available")
	}
	if cfg.SQL.URL == "" {
		slog.Warn("sql.url is empty; trust/relationship state will not persist")
	}
	if cfg.Discord.EnableDMBlock && len(cfg.Discord.DMAllowedUserIDs) == 0 {
		slog.Warn("dm block enabled with an empty allow list; every DM will be suppressed")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
