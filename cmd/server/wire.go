package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/chatrelay/internal/auth"
	"github.com/wuwenbin0122/chatrelay/internal/db"
	"github.com/wuwenbin0122/chatrelay/internal/llm"
	"github.com/wuwenbin0122/chatrelay/internal/metrics"
	"github.com/wuwenbin0122/chatrelay/internal/moderation"
	"github.com/wuwenbin0122/chatrelay/internal/relay"
	"github.com/wuwenbin0122/chatrelay/internal/transcript"
	"github.com/wuwenbin0122/chatrelay/internal/utils"
)

type dependencies struct {
	Relay      *relay.Relay
	Repository transcript.Repository
	Users      auth.Directory
	Health     func(context.Context) error
	closers    []func()
}

func (d *dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func buildDependencies(ctx context.Context, cfg *utils.Config, m *metrics.Metrics, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{}

	if err := openBackend(ctx, cfg, deps, logger); err != nil {
		deps.Close()
		return nil, err
	}
	repo := deps.Repository

	var cache redis.Cmdable
	if cfg.Redis.Addr != "" {
		client, err := db.NewRedis(ctx, cfg.Redis)
		if err != nil {
			// the cache is optional; moderation still works without it
			logger.Warn("redis unavailable, moderation cache disabled", zap.Error(err))
		} else {
			cache = client
			deps.closers = append(deps.closers, func() { _ = client.Close() })
		}
	}

	generator, err := newGenerator(cfg.LLM, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}

	mode, err := moderation.ParseMode(cfg.Moderation.Mode)
	if err != nil {
		deps.Close()
		return nil, err
	}

	classifier := newClassifier(cfg, logger)
	if cache != nil {
		classifier = moderation.NewCachedClassifier(classifier, cache, cfg.Redis.CacheTTL, logger)
	}

	gate := moderation.NewGate(classifier, moderation.Config{
		Enabled: cfg.Moderation.Enabled,
		Mode:    mode,
		Timeout: cfg.Moderation.Timeout,
	}, logger)

	deps.Relay = relay.New(relay.Deps{
		Gate:      gate,
		Generator: generator,
		Store:     repo,
		Threads:   repo,
		Profiles:  repo,
		Metrics:   m,
		Logger:    logger,
	}, relay.Config{
		PolicyMessage:  cfg.Moderation.PolicyMessage,
		ResolveTimeout: cfg.Relay.ResolveTimeout,
		PersistTimeout: cfg.Relay.PersistTimeout,
		HistoryTurns:   cfg.Relay.HistoryTurns,
		KeepAlive:      cfg.Relay.KeepAlive,
	})

	return deps, nil
}

// openBackend picks where transcripts and accounts live. Both share one
// backend so a restart keeps users able to read their threads.
func openBackend(ctx context.Context, cfg *utils.Config, deps *dependencies, logger *zap.Logger) error {
	switch cfg.TranscriptBackend {
	case utils.BackendPostgres:
		pg, err := db.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		deps.closers = append(deps.closers, pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		logger.Info("transcripts stored in postgres")
		deps.Repository = transcript.NewPostgresStore(pg.Pool)
		deps.Users = auth.NewPostgresDirectory(pg.Pool)
		deps.Health = pg.Ping
		return nil

	case utils.BackendMongo:
		mg, err := db.NewMongo(ctx, cfg.Mongo)
		if err != nil {
			return err
		}
		deps.closers = append(deps.closers, func() {
			if err := mg.Close(context.Background()); err != nil {
				logger.Warn("mongo close failed", zap.Error(err))
			}
		})
		if err := mg.EnsureCollections(ctx); err != nil {
			return err
		}
		logger.Info("transcripts stored in mongo", zap.String("database", cfg.Mongo.Database))
		deps.Repository = transcript.NewMongoStore(mg.Threads, mg.Turns, mg.Profiles)
		deps.Users = auth.NewMongoDirectory(mg.Users)
		deps.Health = mg.Ping
		return nil

	default:
		logger.Warn("transcripts and accounts kept in memory; they are lost on restart")
		deps.Repository = transcript.NewMemoryStore()
		deps.Users = auth.NewMemoryDirectory()
		return nil
	}
}

func newGenerator(cfg utils.LLMConfig, logger *zap.Logger) (llm.Generator, error) {
	if cfg.APIKey == "" {
		logger.Warn("no LLM API key configured, replies are echoed")
		return llm.Echo{}, nil
	}

	endpoints := []string{cfg.BaseURL()}
	if cfg.BackupEndpoint != "" && cfg.BackupEndpoint != cfg.BaseURL() {
		endpoints = append(endpoints, cfg.BackupEndpoint)
	}

	return llm.NewOpenAIGenerator(llm.OpenAIConfig{
		APIKey:       cfg.APIKey,
		Endpoints:    endpoints,
		Model:        cfg.Model,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		SystemPrompt: cfg.SystemPrompt,
	}, logger)
}

func newClassifier(cfg *utils.Config, logger *zap.Logger) moderation.Classifier {
	if cfg.LLM.APIKey == "" {
		logger.Info("moderation uses the keyword classifier")
		return moderation.NewKeywordClassifier(cfg.Moderation.Keywords)
	}

	clientCfg := openai.DefaultConfig(cfg.LLM.APIKey)
	clientCfg.BaseURL = cfg.LLM.BaseURL()
	return moderation.NewOpenAIClassifier(openai.NewClientWithConfig(clientCfg), cfg.Moderation.Model)
}
