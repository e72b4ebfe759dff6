package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"stockr/internal/engine/events"
	"stockr/internal/engine/importer"
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

	if cfg.Queue.URL == "" {
		log.Fatal().Msg("queue.url must be set for the worker; the in-process queue runs inside the API server")
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	productRepo := repositories.NewProductRepository(db)
	webhookRepo := repositories.NewWebhookRepository(db)
	jobRepo := repositories.NewJobRepository(db)

	amqpQueue, err := queue.NewAMQPQueue(cfg.Queue.URL, cfg.Queue.Name, jobRepo)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to job broker")
	}
	defer amqpQueue.Close()

	// Deliveries scheduled by jobs (e.g. product.uploaded at the end of an
	// import) go back through the same broker.
	bus := events.NewBus(webhookRepo, amqpQueue)
	dispatcher := webhooks.NewDispatcher(webhookRepo, cfg.Webhooks.BackoffBase, cfg.Webhooks.UserAgent)
	csvImporter := importer.New(productRepo, bus, cfg.Import.ChunkSize)

	runner := queue.NewRunner(jobRepo)
	workers.Register(runner, workers.Deps{
		Importer:   csvImporter,
		Dispatcher: dispatcher,
		Products:   productRepo,
		Bus:        bus,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	if err := amqpQueue.Consume(ctx, runner, cfg.Queue.PrefetchCount); err != nil {
		log.Fatal().Err(err).Msg("consumer stopped")
	}
}
