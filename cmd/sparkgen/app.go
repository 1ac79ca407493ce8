package main

import (
	"fmt"

	"github.com/xaenox/sparkgen/internal/cache"
	"github.com/xaenox/sparkgen/internal/connection"
	"github.com/xaenox/sparkgen/internal/events"
	"github.com/xaenox/sparkgen/internal/maintenance"
	"github.com/xaenox/sparkgen/internal/orchestrator"
	"github.com/xaenox/sparkgen/internal/remote"
	"github.com/xaenox/sparkgen/internal/storage"
	"github.com/xaenox/sparkgen/pkg/config"
	"go.uber.org/zap"
)

// app is everything a command needs. It is the only place default
// instances are built.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   storage.Store
	cache   *cache.Cache
	broker  *events.Broker
	monitor *connection.Monitor
	orch    *orchestrator.Orchestrator
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

func openStore(cfg config.StorageConfig, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("Using in-memory storage")
		return storage.NewMemoryStore(), nil
	case "bolt":
		logger.Info("Using bolt storage", zap.String("data_dir", cfg.DataDir))
		return storage.NewBoltStore(cfg.DataDir)
	case "sqlite":
		logger.Info("Using SQLite storage", zap.String("data_dir", cfg.DataDir))
		return storage.NewSQLiteStore(cfg.DataDir)
	case "postgres":
		logger.Info("Using PostgreSQL storage", zap.String("host", cfg.Database.Host))
		return storage.NewPostgresStore(databaseConfig(cfg.Database))
	case "mysql":
		logger.Info("Using MySQL storage", zap.String("host", cfg.Database.Host))
		return storage.NewMySQLStore(databaseConfig(cfg.Database))
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

func databaseConfig(cfg config.DatabaseConfig) storage.DatabaseConfig {
	return storage.DatabaseConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		DBName:   cfg.DBName,
		SSLMode:  cfg.SSLMode,
	}
}

func openCache(cfg config.CacheConfig, logger *zap.Logger) (*cache.Cache, error) {
	opts := []cache.Option{cache.WithLogger(logger)}
	if cfg.Dir != "" {
		disk, err := cache.NewBoltDisk(cfg.Dir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cache.WithDisk(disk))
	}
	return cache.New(opts...), nil
}

func applyPolicy(p orchestrator.RetryPolicy, over config.PolicyConfig, shared config.RetryConfig) orchestrator.RetryPolicy {
	if over.MaxAttempts > 0 {
		p.MaxAttempts = over.MaxAttempts
	}
	if over.BaseDelay > 0 {
		p.BaseDelay = over.BaseDelay
	}
	if over.AttemptTimeout > 0 {
		p.AttemptTimeout = over.AttemptTimeout
	}
	if p.FailFast {
		return p
	}
	if shared.Growth > 0 {
		p.Growth = shared.Growth
	}
	if shared.Jitter > 0 {
		p.Jitter = shared.Jitter
	}
	if shared.RateLimitMinDelay > 0 {
		p.RateLimitMinDelay = shared.RateLimitMinDelay
	}
	return p
}

func buildPolicies(cfg config.RetryConfig) orchestrator.PolicySet {
	set := orchestrator.DefaultPolicies()
	overrides := map[connection.Quality]config.PolicyConfig{
		connection.Excellent: cfg.Excellent,
		connection.Good:      cfg.Good,
		connection.Poor:      cfg.Poor,
		connection.Offline:   cfg.Offline,
	}
	for q, over := range overrides {
		set[q] = applyPolicy(set[q], over, cfg)
	}
	return set
}

func monitorConfig(cfg config.ConnectionConfig) connection.Config {
	return connection.Config{
		Window:              cfg.Window,
		MaxFailureRate:      cfg.MaxFailureRate,
		PoorLatency:         cfg.PoorLatency,
		ExcellentLatency:    cfg.ExcellentLatency,
		ConsecutiveFailures: cfg.ConsecutiveFailures,
	}
}

func retention(cfg config.StorageConfig) storage.Retention {
	return storage.Retention{MaxAge: cfg.MaxAge(), MaxMessages: cfg.MaxMessages}
}

// newApp wires the components described by cfg. sender may be nil, in which
// case the OpenAI sender is built from cfg.
func newApp(cfg *config.Config, logger *zap.Logger, sender remote.Sender) (*app, error) {
	store, err := openStore(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c, err := openCache(cfg.Cache, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	if sender == nil {
		sender = remote.NewOpenAISender(remote.OpenAIConfig{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
		}, logger)
	}

	broker := events.NewBroker()
	broker.Start()
	monitor := connection.NewMonitor(monitorConfig(cfg.Connection))

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.Policies = buildPolicies(cfg.Retry)
	if cfg.Cache.RecommendationsTTL > 0 {
		orchCfg.RecommendationsTTL = cfg.Cache.RecommendationsTTL
	}
	if cfg.Cache.CategoriesTTL > 0 {
		orchCfg.CategoriesTTL = cfg.Cache.CategoriesTTL
	}

	orch := orchestrator.New(sender, monitor,
		orchestrator.WithStore(store),
		orchestrator.WithCache(c),
		orchestrator.WithBroker(broker),
		orchestrator.WithConfig(orchCfg),
		orchestrator.WithLogger(logger),
	)

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		cache:   c,
		broker:  broker,
		monitor: monitor,
		orch:    orch,
	}, nil
}

func (a *app) maintenance() *maintenance.Service {
	return maintenance.NewService(a.cfg.Cache.SweepSchedule, retention(a.cfg.Storage), a.cache, a.store, a.logger)
}

func (a *app) Close() {
	a.broker.Stop()
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("Failed to close cache", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close storage", zap.Error(err))
	}
}
