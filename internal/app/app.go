package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/markdave123-py/Sourcebook/internal/config"
	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/core/crawler"
	db "github.com/markdave123-py/Sourcebook/internal/core/database"
	"github.com/markdave123-py/Sourcebook/internal/core/ingestion_engine"
	"github.com/markdave123-py/Sourcebook/internal/core/llm"
	objectclient "github.com/markdave123-py/Sourcebook/internal/core/object-client"
	"github.com/markdave123-py/Sourcebook/internal/core/retrieval"
	"github.com/markdave123-py/Sourcebook/internal/core/upload"
	"github.com/markdave123-py/Sourcebook/internal/logger"
	"github.com/markdave123-py/Sourcebook/internal/services"
)

type App struct {
	DBClient     core.DbClient
	ObjectClient core.ObjectClient
	Ingestor     *ingestion_engine.DocumentIngestor
	Server       *Server

	cfg     *config.Config
	queue   ingestion_engine.JobQueue
	closers []func() error
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	a := &App{cfg: cfg}

	dbClient, err := newDatabase(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	a.closers = append(a.closers, dbClient.Close)
	logger.Info("database ready", zap.String("driver", cfg.DBDriver))

	objClient, err := objectclient.New(appCtx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.ObjectClient = objClient
	logger.Info("object store ready", zap.String("backend", cfg.ObjectStore), zap.String("bucket", cfg.BucketName))

	queue, err := newQueue(appCtx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.queue = queue
	a.closers = append(a.closers, queue.Close)

	completer := llm.NewOpenAIClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.ChatModel, cfg.ChatModel)

	var reader core.DocumentReader = completer
	if cfg.PDFExtractor == "gemini" {
		gemini, err := llm.NewGeminiReader(appCtx, cfg.GeminiAPIKey, cfg.ExtractModel)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("couldn't initialize the pdf reader: %w", err)
		}
		reader = gemini
		a.closers = append(a.closers, gemini.Close)
	}

	var web ingestion_engine.WebFetcher
	if cfg.CrawlAPIKey != "" {
		web = crawler.NewClient(cfg.CrawlBaseURL, cfg.CrawlAPIKey, nil)
	} else {
		logger.Warn("CRAWL_API_KEY not set, website ingestion disabled")
	}

	useReadability := false
	extractor := ingestion_engine.NewExtractor(reader, useReadability)

	ingCfg := &ingestion_engine.IngestConfig{
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		Bucket:         cfg.BucketName,
		ProcessTimeout: cfg.RequestTimeout,
	}
	a.Ingestor = ingestion_engine.NewDocumentIngestor(dbClient, objClient, extractor, web, queue, ingCfg)

	engine := retrieval.NewEngine(dbClient, cfg.RetrievalMaxResults)
	policy := upload.DefaultPolicy()
	policy.MaxFiles = cfg.MaxUploadFiles
	policy.MaxBytes = cfg.MaxUploadBytes

	a.Server = NewServer(cfg, Services{
		Sources:       services.NewSourceService(dbClient, objClient, a.Ingestor, cfg.BucketName, policy),
		Workspaces:    services.NewWorkspaceService(dbClient, engine),
		Conversations: services.NewConversationService(dbClient),
		Chat:          services.NewChatService(dbClient, engine, completer),
	})
	return a, nil
}

func newDatabase(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg.DBDriver == "memory" {
		logger.Warn("using in-memory database, data is lost on restart")
		return db.NewMemoryClient(), nil
	}
	return db.NewDatabaseClient(ctx, cfg)
}

func newQueue(ctx context.Context, cfg *config.Config) (ingestion_engine.JobQueue, error) {
	if cfg.QueueBackend != "redis" {
		return ingestion_engine.NewChannelQueue(256), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("redis ingestion queue ready", zap.String("addr", cfg.RedisAddr))
	return ingestion_engine.NewRedisQueue(client, ingestion_engine.DefaultQueueKey), nil
}

// Run starts the ingestion workers and serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	a.Ingestor.Start(workerCtx, a.cfg.IngestWorkers)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Start() }()

	select {
	case err := <-errCh:
		stopWorkers()
		a.Ingestor.Wait()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := a.Server.Shutdown(shutdownCtx)
	stopWorkers()
	a.Ingestor.Wait()
	return err
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
