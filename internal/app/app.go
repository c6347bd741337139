package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/seralia/guildmind/internal/credentials"
	"github.com/seralia/guildmind/internal/db"
	"github.com/seralia/guildmind/internal/history"
	"github.com/seralia/guildmind/internal/orchestrator"
	"github.com/seralia/guildmind/internal/platform/logger"
	"github.com/seralia/guildmind/internal/provider"
	"github.com/seralia/guildmind/internal/repos"
	"github.com/seralia/guildmind/internal/settings"
)

// App wires the long-lived services. The chat-platform adapter embeds it and
// drives Orchestrator; everything else is internal plumbing.
type App struct {
	Config Config
	Log    *logger.Logger

	DB           *db.SQLiteService
	History      *history.Store
	Syncer       *history.Syncer
	Credentials  *credentials.Pool
	Registry     *provider.Registry
	Settings     settings.Store
	Orchestrator *orchestrator.Orchestrator
}

// New builds the full service graph. The responder comes from the caller
// because only the chat-platform adapter knows how to deliver messages.
func New(cfg Config, responder orchestrator.Responder) (*App, error) {
	log, err := logger.New(cfg.Mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	database, err := db.NewSQLiteService(cfg.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := database.AutoMigrateAll(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	turnRepo := repos.NewTurnRepo(database.DB(), log)
	credRepo := repos.NewCredentialRepo(database.DB(), log)
	callRepo := repos.NewProviderCallLogRepo(database.DB(), log)

	registry := provider.NewRegistry(cfg.DefaultProvider, log)
	registry.Register(provider.NewGemini(cfg.GeminiBaseURL, log))
	registry.Register(provider.NewTogetherAI(cfg.TogetherBaseURL, log))

	fileStore, err := settings.NewFileStore(cfg.SettingsPath, log)
	if err != nil {
		return nil, fmt.Errorf("init settings store: %w", err)
	}
	var cache settings.Cache
	if cfg.RedisAddr != "" {
		cache = settings.NewRedisCache(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	} else {
		cache = settings.NewMemoryCache()
	}
	settingsStore := settings.NewCachedStore(fileStore, cache, cfg.SettingsTTL, log)

	store := history.NewStore(turnRepo, cfg.MaxContextSize, log)
	store.SetLimitResolver(func(ctx context.Context, conversationID string) int {
		resolved, err := settingsStore.Resolve(ctx, conversationID)
		if err != nil {
			log.Warn("Falling back to default context cap", "conversation_id", conversationID, "error", err)
			return 0
		}
		return resolved.MaxContextSize
	})
	syncer := history.NewSyncer(store, nil, log)
	pool := credentials.NewPool(credRepo, registry, log)

	orch := orchestrator.New(
		store,
		syncer,
		pool,
		registry,
		settingsStore,
		callRepo,
		responder,
		orchestrator.NewClock(),
		log,
	)

	return &App{
		Config:       cfg,
		Log:          log,
		DB:           database,
		History:      store,
		Syncer:       syncer,
		Credentials:  pool,
		Registry:     registry,
		Settings:     settingsStore,
		Orchestrator: orch,
	}, nil
}
