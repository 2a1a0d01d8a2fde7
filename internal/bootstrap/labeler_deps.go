package bootstrap

import (
	"context"
	"time"

	"labeler_server/adapter/out/cache"
	"labeler_server/adapter/out/mongodb"
	"labeler_server/adapter/out/persistence"
	"labeler_server/adapter/out/provider"
	"labeler_server/config"
	"labeler_server/core/agent/llm"
	"labeler_server/core/port/out"
	"labeler_server/core/service/labeling"
	"labeler_server/infra/database"
	"labeler_server/pkg/crypto"
	"labeler_server/pkg/httputil"
	"labeler_server/pkg/logger"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/oauth2"
)

const (
	connectTimeout  = 15 * time.Second
	creationLockTTL = 30 * time.Second
)

type Dependencies struct {
	Config *config.Config
	DB     *sqlx.DB
	Redis  *redis.Client
	Mongo  *mongo.Client

	// Stores
	Ledger out.LedgerStore
	Tokens *persistence.TokenAdapter
	Runs   out.RunStore
	Lock   out.CreationLock

	// Providers
	OAuth   *oauth2.Config
	Gateway *provider.GmailGateway
	LLM     *llm.Client

	// Services
	Pipeline *labeling.Pipeline
}

// NewDependencies connects every backing store and assembles the pipeline.
// Postgres is used when DATABASE_URL is set, SQLite otherwise. Redis and
// MongoDB are optional.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	// Database
	var err error
	if cfg.UsePostgres() {
		deps.DB, err = database.NewPostgres(ctx, cfg.DatabaseURL, database.DefaultPostgresConfig())
	} else {
		deps.DB, err = database.NewSQLite(ctx, cfg.SQLitePath)
	}
	if err != nil {
		return nil, nil, err
	}
	db := deps.DB
	cleanups = append(cleanups, func() { db.Close() })
	logger.Info("Database connected (driver: %s)", db.DriverName())

	// Redis
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(ctx, cfg.RedisURL, database.DefaultRedisConfig())
		if err != nil {
			logger.Warn("Redis connection failed, continuing without cache: %v", err)
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { redisClient.Close() })
		}
	}

	// MongoDB
	if cfg.MongoDBURL != "" {
		mongoClient, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
		if err != nil {
			logger.Warn("MongoDB connection failed, run history disabled: %v", err)
		} else {
			deps.Mongo = mongoClient
			cleanups = append(cleanups, func() { _ = mongoClient.Disconnect(context.Background()) })

			runs := mongodb.NewRunAdapter(mongoClient.Database(cfg.MongoDBName), cfg.RunRetention)
			if err := runs.EnsureIndexes(ctx); err != nil {
				logger.Warn("Failed to ensure run indexes: %v", err)
			}
			deps.Runs = runs
		}
	}

	// Ledger
	ledger := persistence.NewLedgerAdapter(deps.DB)
	if err := ledger.EnsureSchema(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Ledger = ledger
	if deps.Redis != nil {
		deps.Ledger = cache.NewLedgerCache(ledger, deps.Redis, cfg.LedgerCacheTTL, logger.Component("ledger_cache"))
		deps.Lock = cache.NewRedisLock(deps.Redis, creationLockTTL)
	}

	// Tokens
	enc, err := crypto.NewEncryptor([]byte(cfg.EncryptionKey))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	gmailCfg := provider.GmailConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Timeout:      cfg.GmailTimeout,
		Transport:    httputil.NewTransport(httputil.GmailClientConfig()),
	}
	deps.OAuth = provider.NewOAuthConfig(gmailCfg)

	deps.Tokens = persistence.NewTokenAdapter(deps.DB, deps.OAuth, enc, logger.Component("token_store"))
	if err := deps.Tokens.EnsureSchema(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}

	// Providers
	deps.Gateway = provider.NewGmailGateway(gmailCfg, logger.Component("gmail_gateway"))

	deps.LLM, err = llm.NewClientWithConfig(llm.ClientConfig{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		HTTPClient:  httputil.NewClient(httputil.OpenAIClientConfig()),
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	// Pipeline
	deps.Pipeline, err = labeling.NewPipeline(labeling.Deps{
		Gateway:    deps.Gateway,
		Classifier: deps.LLM,
		Ledger:     deps.Ledger,
		Lock:       deps.Lock,
		Runs:       deps.Runs,
		Drafter:    deps.LLM,
	}, labeling.Config{
		Concurrency:     cfg.LabelingConcurrency,
		ClassifyTimeout: cfg.LLMTimeout,
		GatewayTimeout:  cfg.GmailTimeout,
		LedgerTimeout:   cfg.LedgerTimeout,
		DraftReplies:    cfg.LabelingDraftReplies,
	}, logger.Component("labeling"))
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	logger.Info("Dependencies initialized (redis: %t, mongodb: %t)", deps.Redis != nil, deps.Mongo != nil)
	return deps, cleanup, nil
}
