package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sentilab-ai/platform/pkg/classify"
	"github.com/sentilab-ai/platform/pkg/common/config"
	"github.com/sentilab-ai/platform/pkg/common/database"
	"github.com/sentilab-ai/platform/pkg/common/kafka"
	"github.com/sentilab-ai/platform/pkg/common/logger"
	"github.com/sentilab-ai/platform/pkg/dataset"
	"github.com/sentilab-ai/platform/pkg/registry"
	"github.com/sentilab-ai/platform/pkg/serving"
	"github.com/sentilab-ai/platform/pkg/status"
	"github.com/sentilab-ai/platform/pkg/training"
)

func main() {
	logger.Init()
	cfg := config.Load()

	chains := dataset.DefaultSources()
	if cfg.SourcesFile != "" {
		loaded, err := dataset.LoadSources(cfg.SourcesFile)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to load sources file")
		}
		chains = loaded
	}

	store := status.NewStore()
	fetcher := dataset.NewHTTPFetcher(dataset.Credentials{
		User: cfg.SourceAPIUser,
		Key:  cfg.SourceAPIKey,
	})
	pipeline := dataset.NewPipeline(cfg.DatasetsDir, chains, fetcher, store, dataset.PipelineOptions{
		MaxAttempts:    cfg.FetchMaxAttempts,
		RetryBase:      cfg.FetchRetryBase,
		AttemptTimeout: cfg.SourceAttemptTimeout,
	})

	reg, err := registry.NewRegistry(cfg.ModelsDir)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to prepare models directory")
	}
	if err := reg.Autoload(classify.BERT, classify.Chinese); err != nil {
		logger.Log.WithError(err).Warn("startup model autoload failed")
	}

	managerOpts := training.ManagerOptions{
		Defaults: classify.Hyperparams{
			Epochs:       cfg.TrainEpochs,
			BatchSize:    cfg.TrainBatchSize,
			LearningRate: cfg.TrainLearningRate,
		},
		MaxSamples:     cfg.TrainMaxSamples,
		AcquireTimeout: cfg.AcquireTimeout,
	}

	if cfg.PostgresEnabled {
		db, err := database.GetPostgres()
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to connect to postgres")
		}
		repo := training.NewRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("failed to migrate training tables")
		}
		managerOpts.History = repo
	}

	if cfg.KafkaEnabled {
		producer := kafka.NewProducer(cfg.KafkaTopic)
		defer producer.Close()
		managerOpts.Events = producer
	}

	manager := training.NewManager(pipeline, reg, store, cfg.ModelsDir, managerOpts)
	defer manager.Close()

	servingSvc := serving.NewService(reg, predictionCache(cfg), cfg.PredictionCacheTTL)

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	serving.NewHTTPHandler(servingSvc, reg, cfg.MaxRequestBody).Register(api)
	training.NewHTTPHandler(manager, pipeline, cfg.MaxRequestBody).Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Sentiment Server started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Sentiment Server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}
	if cfg.RedisEnabled {
		if err := database.CloseRedis(); err != nil {
			logger.Log.WithError(err).Warn("failed to close redis client")
		}
	}

	logger.Log.Info("Sentiment Server stopped")
}

func predictionCache(cfg *config.Config) *redis.Client {
	if !cfg.RedisEnabled {
		return nil
	}
	return database.GetRedis()
}
