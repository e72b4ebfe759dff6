package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"stockr/internal/api"
	"stockr/internal/api/handlers"
	"stockr/internal/api/middleware"
	"stockr/internal/engine/events"
	"stockr/internal/engine/importer"
	"stockr/internal/engine/jobs"
	"stockr/internal/engine/webhooks"
	"stockr/internal/pkg/logger"
	"stockr/internal/platform/config"
	"stockr/internal/platform/database"
	"stockr/internal/platform/queue"
	"stockr/internal/platform/repositories"
	"stockr/internal/workers"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging)

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	productRepo := repositories.NewProductRepository(db)
	webhookRepo := repositories.NewWebhookRepository(db)
	jobRepo := repositories.NewJobRepository(db)

	runner := queue.NewRunner(jobRepo)

	var enqueuer queue.Enqueuer
	var amqpQueue *queue.AMQPQueue
	if cfg.Queue.URL == "" {
		log.Info().Msg("no broker configured, running jobs in process")
		enqueuer = queue.NewMemoryQueue(runner)
	} else {
		amqpQueue, err = queue.NewAMQPQueue(cfg.Queue.URL, cfg.Queue.Name, jobRepo)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to job broker")
		}
		defer amqpQueue.Close()
		enqueuer = amqpQueue
	}

	bus := events.NewBus(webhookRepo, enqueuer)
	dispatcher := webhooks.NewDispatcher(webhookRepo, cfg.Webhooks.BackoffBase, cfg.Webhooks.UserAgent)
	csvImporter := importer.New(productRepo, bus, cfg.Import.ChunkSize)
	assembler := importer.NewAssembler(cfg.Uploads.Dir, enqueuer)
	tracker := jobs.NewTracker(runner, jobRepo)

	// With the in-process queue the server is also the worker.
	workers.Register(runner, workers.Deps{
		Importer:   csvImporter,
		Dispatcher: dispatcher,
		Products:   productRepo,
		Bus:        bus,
	})

	deps := &api.Dependencies{
		ProductHandler: handlers.NewProductHandler(productRepo, bus, enqueuer, cfg.Products.BulkDeleteAsyncThreshold),
		UploadHandler:  handlers.NewUploadHandler(assembler, cfg.Uploads.MaxChunkBytes),
		WebhookHandler: handlers.NewWebhookHandler(webhookRepo, dispatcher),
		TaskHandler:    handlers.NewTaskHandler(tracker),
		HealthHandler:  handlers.NewHealthHandler(db),
		WriteLimiter:   middleware.NewWriteLimiter(cfg.RateLimit.WritePerSecond, cfg.RateLimit.WriteBurst),
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
