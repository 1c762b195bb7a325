// Package app wires configuration into the components shared by the bot
// daemon and the admin CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"mailbox/backend/internal/config"
	"mailbox/backend/internal/knowledge"
	"mailbox/backend/internal/responder"
	"mailbox/backend/internal/secret"
	"mailbox/backend/internal/storage"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Responder backends.
const (
	BackendOpenAI = "openai"
	BackendArk    = "ark"
	BackendNone   = "none"
)

// OpenStorage відкриває базу та, якщо налаштовано, Redis. The returned
// function closes both.
func OpenStorage(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*storage.Service, func(), error) {
	level := logger.Warn
	if strings.EqualFold(cfg.Log.Level, "debug") {
		level = logger.Info
	}

	db, err := storage.OpenDatabase(cfg.Database.Driver, cfg.Database.DSN, level)
	if err != nil {
		return nil, nil, err
	}
	log.WithField("driver", cfg.Database.Driver).Info("database ready, migrations complete")

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			closeDB(db)
			return nil, nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		log.WithField("addr", cfg.Redis.Addr).Info("redis connected")
	}

	closer := func() {
		if rdb != nil {
			_ = rdb.Close()
		}
		closeDB(db)
	}
	return storage.NewStorageService(db, rdb), closer, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Secrets builds the resolver chain: SECRET_<NAME> env vars first, then age
// files when a secrets directory is configured.
func Secrets(cfg *config.Config) (secret.Resolver, error) {
	chain := secret.Chain{secret.NewEnvResolver()}
	if cfg.Secrets.Dir == "" {
		return chain, nil
	}
	ageResolver, err := secret.NewAgeResolver(cfg.Secrets.Dir, cfg.Secrets.IdentityFile, cfg.Secrets.Passphrase)
	if err != nil {
		return nil, err
	}
	return append(chain, ageResolver), nil
}

// BotToken prefers TELEGRAM_BOT_TOKEN and falls back to the named secret.
func BotToken(ctx context.Context, cfg *config.Config, secrets secret.Resolver) (string, error) {
	if cfg.Telegram.BotToken != "" {
		return cfg.Telegram.BotToken, nil
	}
	return secrets.Resolve(ctx, cfg.Telegram.TokenSecret)
}

// NewResponder builds the configured fast responder. BackendNone returns
// nil: every question then waits for the deferred responder.
func NewResponder(ctx context.Context, cfg *config.Config, secrets secret.Resolver) (responder.Responder, error) {
	rc := cfg.Responder
	if rc.Backend == BackendNone {
		return nil, nil
	}

	apiKey, err := secrets.Resolve(ctx, rc.APIKeySecret)
	if err != nil {
		return nil, fmt.Errorf("resolving responder api key: %w", err)
	}

	switch rc.Backend {
	case BackendOpenAI, "":
		return responder.NewOpenAIResponder(responder.OpenAIConfig{
			BaseURL:      rc.BaseURL,
			APIKey:       apiKey,
			Model:        rc.Model,
			SystemPrompt: rc.SystemPrompt,
			Temperature:  rc.Temperature,
			MaxTokens:    int64(rc.MaxTokens),
		}), nil
	case BackendArk:
		if rc.Model == "" {
			return nil, errors.New("RESPONDER_MODEL is required for the ark backend")
		}
		r, err := responder.NewArkResponder(ctx, responder.ArkConfig{
			BaseURL:      rc.BaseURL,
			APIKey:       apiKey,
			Model:        rc.Model,
			SystemPrompt: rc.SystemPrompt,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("unknown responder backend %q", rc.Backend)
}

func NewOverlay(cfg *config.Config) *knowledge.Overlay {
	return knowledge.NewOverlay(cfg.Knowledge.FactsPath, cfg.Knowledge.ContextPath, cfg.Knowledge.Author)
}
