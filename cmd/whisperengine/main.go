// Command whisperengine runs one character bot: the Discord gateway, the
// conversational hot path, the broker workers, and the daily-life loop, all
// inside a single process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/whisperengine-ai/whisperengine/internal/artifacts"
	"github.com/whisperengine-ai/whisperengine/internal/character"
	"github.com/whisperengine-ai/whisperengine/internal/config"
	"github.com/whisperengine-ai/whisperengine/internal/dailylife"
	discordbot "github.com/whisperengine-ai/whisperengine/internal/discord"
	"github.com/whisperengine-ai/whisperengine/internal/health"
	"github.com/whisperengine-ai/whisperengine/internal/hotctx"
	"github.com/whisperengine-ai/whisperengine/internal/observe"
	"github.com/whisperengine-ai/whisperengine/internal/resilience"
	"github.com/whisperengine-ai/whisperengine/internal/respond"
	"github.com/whisperengine-ai/whisperengine/internal/sessiontrack"
	"github.com/whisperengine-ai/whisperengine/internal/taskqueue"
	"github.com/whisperengine-ai/whisperengine/internal/trust"
	"github.com/whisperengine-ai/whisperengine/internal/universe"
	"github.com/whisperengine-ai/whisperengine/pkg/memory/analysis"
	"github.com/whisperengine-ai/whisperengine/pkg/memory/conversation"
	"github.com/whisperengine-ai/whisperengine/pkg/memory/postgres"
	"github.com/whisperengine-ai/whisperengine/pkg/memory/retrieval"
	"github.com/whisperengine-ai/whisperengine/pkg/memory/selfmem"
	"github.com/whisperengine-ai/whisperengine/pkg/provider/embeddings"
	ollamaembed "github.com/whisperengine-ai/whisperengine/pkg/provider/embeddings/ollama"
	oaembed "github.com/whisperengine-ai/whisperengine/pkg/provider/embeddings/openai"
	"github.com/whisperengine-ai/whisperengine/pkg/provider/llm"
	"github.com/whisperengine-ai/whisperengine/pkg/provider/llm/anyllm"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	importKnowledge := flag.Bool("import-knowledge", false, "extract self-knowledge facts from the character file into memory, then exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "whisperengine: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "whisperengine: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("whisperengine starting",
		"bot", cfg.BotName,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "whisperengine-" + cfg.BotName,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	mtr := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	chat, embed, err := buildProviders(cfg, reg, mtr)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Character ─────────────────────────────────────────────────────────────
	def, err := character.Load(cfg.CharacterFile)
	if err != nil {
		slog.Error("failed to load character definition", "path", cfg.CharacterFile, "err", err)
		return 1
	}
	slog.Info("character loaded", "name", def.Name, "interests", len(def.Interests))

	// ── Memory store (pgvector) ───────────────────────────────────────────────
	memPool, err := pgxpool.New(ctx, cfg.Memory.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to memory store", "err", err)
		return 1
	}
	defer memPool.Close()

	coll, err := postgres.OpenWithPool(ctx, memPool, cfg.BotName)
	if err != nil {
		slog.Error("failed to open memory collection", "err", err)
		return 1
	}

	// ── Relationship store ────────────────────────────────────────────────────
	sqlPool, err := pgxpool.New(ctx, cfg.SQL.URL)
	if err != nil {
		slog.Error("failed to connect to relationship store", "err", err)
		return 1
	}
	defer sqlPool.Close()

	rel := trust.NewManager(trust.NewPostgresStore(sqlPool, cfg.BotName), cfg.BotName,
		trust.WithMetrics(mtr), trust.WithLogger(logger))

	// ── Memory components ─────────────────────────────────────────────────────
	keys := analysis.NewKeyExtractor(nil)
	retr := retrieval.New(coll, embed, keys, logger)
	convStore := conversation.New(coll, embed, def.Name, keys, logger,
		conversation.WithHintThreshold(cfg.Memory.EmotionHintThreshold))
	selfStore := selfmem.New(coll, embed, chat, logger)

	// One-shot import mode: seed the self-knowledge namespace and exit.
	if *importKnowledge {
		return runImport(ctx, selfStore, cfg.CharacterFile)
	}

	// ── Broker ────────────────────────────────────────────────────────────────
	redisOpts, err := redis.ParseURL(cfg.Broker.URL)
	if err != nil {
		slog.Error("invalid broker url", "err", err)
		return 1
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	prefix := cfg.Broker.KeyPrefix

	queue := taskqueue.New(rdb, mtr, logger)

	// ── Config watcher ────────────────────────────────────────────────────────
	// Autonomy switches and the universe master switch are read through the
	// watcher so a config edit takes effect without a restart.
	var current atomic.Pointer[config.Config]
	current.Store(cfg)
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		current.Store(new)
		d := config.Diff(old, new)
		if d.Empty() {
			slog.Info("configuration reloaded; no hot-reloadable changes")
			return
		}
		slog.Info("configuration reloaded",
			"autonomy_changed", d.AutonomyChanged,
			"universe_toggled", d.UniverseToggled,
			"log_level_changed", d.LogLevelChanged,
		)
	})
	if err != nil {
		slog.Warn("config watcher unavailable; live reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}
	autonomyFlags := func() config.AutonomyConfig { return current.Load().Autonomy }
	universeEnabled := func() bool { return current.Load().Universe.Enabled }

	// ── Universe bus ──────────────────────────────────────────────────────────
	detector := universe.NewDetector(cfg.BotName)
	bus := universe.NewBus(queue, universeEnabled, cfg.Universe.OptOutUserIDs,
		universe.WithMetrics(mtr), universe.WithLogger(logger))
	dispatcher := universe.NewDispatcher(cfg.BotName, cfg.Universe.RecipientBots,
		trust.NewDirectory(sqlPool), universe.NewPoolOpener(memPool), embed, logger)

	// ── Session tracking + post-conversation pipeline ─────────────────────────
	tracker := sessiontrack.NewTracker(cfg.BotName, queue,
		sessiontrack.WithMetrics(mtr), sessiontrack.WithLogger(logger))
	pipeline := sessiontrack.NewPipeline(coll, embed, chat, rel, keys, logger)

	// ── Hot-path context assembly ─────────────────────────────────────────────
	prefetcher := hotctx.NewPreFetcher(coll, rel, logger)
	asm := hotctx.NewAssembler(retr, coll, rel,
		hotctx.WithPreFetcher(prefetcher),
		hotctx.WithLogger(logger))

	// ── Discord gateway ───────────────────────────────────────────────────────
	// The responder needs the sender (built from the session) and the bot
	// needs the message handler, so the handler is bound through a pointer
	// that is set once the rest of the graph exists.
	var handler atomic.Pointer[discordbot.MessageHandler]
	bot, err := discordbot.New(cfg.Discord, func(ctx context.Context, msg types.InboundMessage) {
		if h := handler.Load(); h != nil {
			(*h)(ctx, msg)
		}
	}, discordbot.WithWarmer(prefetcher), discordbot.WithLogger(logger))
	if err != nil {
		slog.Error("failed to connect to discord", "err", err)
		return 1
	}
	slog.Info("discord connected", "bot_id", bot.BotID())

	// ── Artifacts ─────────────────────────────────────────────────────────────
	registry, err := artifacts.New(rdb, cfg.ArtifactDir, prefix, logger,
		artifacts.WithQuota(artifacts.NewQuota(rdb, prefix, cfg.Quotas)))
	if err != nil {
		slog.Error("failed to create artifact registry", "err", err)
		return 1
	}

	// ── Egress + responder ────────────────────────────────────────────────────
	sender := discordbot.NewSender(bot.Session(), registry, logger)
	streamer := respond.NewStreamer(sender)
	responder := respond.New(def, asm, convStore, rel, tracker, detector, bus, chat, streamer, logger)
	stats := discordbot.NewResponseStats(256)
	responder.SetStats(stats)

	executor := discordbot.NewExecutor(bot.Session(), sender, logger)
	snapshotter := discordbot.NewSnapshotter(bot.Session(), bot.BotID(), cfg.BotName,
		cfg.Discord.WatchChannelIDs, cfg.Discord.GuildIDs, logger)

	broadcaster := universe.NewBroadcaster(cfg.BotName, prefix,
		cfg.Discord.BroadcastChannelIDs, rdb, executor, logger)
	dispatcher.SetAnnouncer(broadcaster)

	// ── Daily-life loop ───────────────────────────────────────────────────────
	scheduler := dailylife.NewScheduler(cfg.BotName, prefix, autonomyFlags, snapshotter, queue, rdb, logger)
	brain := dailylife.NewBrain(cfg.BotName, bot.BotID(), prefix, def, autonomyFlags, embed, chat, rel, rdb, logger)
	reverie := dailylife.NewReverie(cfg.BotName, def, autonomyFlags, chat, selfStore, logger)
	reactor := dailylife.NewReactor(cfg.BotName, prefix, def, autonomyFlags, rdb, executor, mtr, logger)
	poller := dailylife.NewPoller(dailylife.PollerConfig{
		Bot:       cfg.BotName,
		KeyPrefix: prefix,
		Redis:     rdb,
		Executor:  executor,
		Replier:   responder,
		Fetcher:   snapshotter,
		Trust:     rel,
		Queue:     queue,
		Metrics:   mtr,
		Logger:    logger,
	})

	// ── Message handler ───────────────────────────────────────────────────────
	h := discordbot.MessageHandler(func(ctx context.Context, msg types.InboundMessage) {
		scheduler.NoteActivity()
		if !msg.IsDM {
			scheduler.NoteChannelMessage(msg.ChannelID)
		}

		if msg.MentionsBot || msg.IsDM {
			responder.Respond(ctx, msg)
			sender.AttachPending(ctx, msg.ChannelID, msg.AuthorID)
			return
		}

		// Ambient channel traffic: maybe react, maybe wake the brain early.
		if _, err := reactor.Consider(ctx, msg); err != nil {
			logger.Warn("reaction pass failed", "channel_id", msg.ChannelID, "err", err)
		}
		if err := scheduler.TriggerImmediate(ctx, inboundToSnapshot(msg), "ambient message"); err != nil {
			logger.Warn("immediate trigger failed", "channel_id", msg.ChannelID, "err", err)
		}
	})
	handler.Store(&h)

	// ── Admin commands ────────────────────────────────────────────────────────
	healthHandler := health.New(
		health.Postgres(memPool),
		health.Broker(rdb),
		health.Embeddings(embed),
	)
	discordbot.NewAdminCommands(discordbot.AdminConfig{
		Admin:  discordbot.NewAdminChecker(cfg.Discord.AdminRoleID),
		Trust:  rel,
		Stats:  stats,
		Health: healthHandler,
		Logger: logger,
	}, bot.Router())

	// ── Metrics / health endpoint ─────────────────────────────────────────────
	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())
		healthHandler.Register(mux)
		metricsSrv = &http.Server{
			Addr:    cfg.Server.MetricsAddr,
			Handler: observe.Middleware(mtr)(mux),
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "err", err)
			}
		}()
		slog.Info("metrics endpoint listening", "addr", cfg.Server.MetricsAddr)
	}

	// ── Workers ───────────────────────────────────────────────────────────────
	for _, name := range taskqueue.Queues {
		var opts []taskqueue.WorkerOption
		if n := cfg.Broker.Workers[name]; n > 0 {
			opts = append(opts, taskqueue.WithConcurrency(n))
		}
		w := taskqueue.NewWorker(queue, name, opts...)
		switch name {
		case taskqueue.QueueCognition:
			pipeline.RegisterHandlers(w)
			brain.RegisterHandlers(w)
			reverie.RegisterHandlers(w)
		case taskqueue.QueueSocial:
			dispatcher.RegisterHandlers(w)
		}
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("worker error", "queue", name, "err", err)
			}
		}()
	}

	// ── Background loops ──────────────────────────────────────────────────────
	go tracker.Run(ctx)
	go func() {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("scheduler error", "err", err)
		}
	}()
	go func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("action poller error", "err", err)
		}
	}()
	go func() {
		if err := broadcaster.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("broadcast poller error", "err", err)
		}
	}()

	slog.Info("bot ready — press Ctrl+C to shut down")

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("discord run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := bot.Close(); err != nil {
		slog.Warn("discord close error", "err", err)
	}
	// Close whatever sessions are still open so their capability jobs land
	// on the queue before the process exits.
	tracker.CloseIdle(shutdownCtx)
	tracker.Stop()
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown error", "err", err)
		}
	}
	slog.Info("goodbye")
	return 0
}

// runImport seeds the bot's self-knowledge namespace from the character file.
func runImport(ctx context.Context, store *selfmem.Store, path string) int {
	raw, err := os.ReadFile(path)
	if err != nil {
		slog.Error("failed to read character file", "path", path, "err", err)
		return 1
	}
	n, err := store.ImportKnowledge(ctx, string(raw))
	if err != nil {
		slog.Error("knowledge import failed", "err", err)
		return 1
	}
	slog.Info("knowledge import complete", "facts", n)
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the shipped provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile
	// all share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})
}

// buildProviders instantiates the configured LLM and embeddings providers and
// wraps each in a circuit-breaking failover group with any configured
// fallbacks.
func buildProviders(cfg *config.Config, reg *config.Registry, mtr *observe.Metrics) (llm.Provider, embeddings.Provider, error) {
	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	chat := resilience.NewLLMFailover(primary, cfg.Providers.LLM.Name, resilience.FallbackConfig{Metrics: mtr})
	for _, entry := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
		}
		chat.AddFallback(entry.Name, p)
		slog.Info("llm fallback registered", "name", entry.Name, "model", entry.Model)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)

	primaryEmbed, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Providers.Embeddings.Name, err)
	}
	embed := resilience.NewEmbeddingsFailover(primaryEmbed, cfg.Providers.Embeddings.Name, resilience.FallbackConfig{Metrics: mtr})
	for _, entry := range cfg.Providers.EmbeddingsFallbacks {
		p, err := reg.CreateEmbeddings(entry)
		if err != nil {
			return nil, nil, fmt.Errorf("create embeddings fallback %q: %w", entry.Name, err)
		}
		embed.AddFallback(entry.Name, p)
		slog.Info("embeddings fallback registered", "name", entry.Name, "model", entry.Model)
	}
	slog.Info("provider created", "kind", "embeddings", "name", cfg.Providers.Embeddings.Name, "model", cfg.Providers.Embeddings.Model)

	return chat, embed, nil
}

// inboundToSnapshot reshapes a gateway message for the daily-life trigger.
func inboundToSnapshot(msg types.InboundMessage) types.MessageSnapshot {
	return types.MessageSnapshot{
		ID:          msg.ID,
		Content:     msg.Content,
		AuthorID:    msg.AuthorID,
		AuthorName:  msg.AuthorName,
		IsBot:       msg.AuthorIsBot,
		CreatedAt:   msg.Timestamp,
		MentionsBot: msg.MentionsBot,
		ReferenceID: msg.ReferenceID,
		ChannelID:   msg.ChannelID,
	}
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
