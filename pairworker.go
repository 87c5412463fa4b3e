package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pairworks/pairworker/admin"
	"github.com/pairworks/pairworker/blob"
	"github.com/pairworks/pairworker/cfg"
	"github.com/pairworks/pairworker/events"
	"github.com/pairworks/pairworker/executor"
	"github.com/pairworks/pairworker/generator"
	"github.com/pairworks/pairworker/jobs"
	"github.com/pairworks/pairworker/matcher"
	"github.com/pairworks/pairworker/telemetry"
)

const encryptorQueueCapacity = 1 << 20

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("worker_id", cfg.Config.WorkerID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("PAIR worker - Publisher/Advertiser ID Reconciliation")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	// Executors
	cpuPool := executor.NewPool("cpu", cfg.Config.Executor.CPUWorkers, cfg.Config.Executor.TaskQueueSize)
	ioPool := executor.NewPool("io", cfg.Config.Executor.IOWorkers, cfg.Config.Executor.TaskQueueSize)
	defer cpuPool.Stop()
	defer ioPool.Stop()

	// Object store
	log.Info().Str("type", string(cfg.Config.BlobStore.Type)).Msg("Initializing blob store")
	store, err := buildStore()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize blob store")
		return
	}
	streamer := blob.NewStreamer(ioPool, store)
	defer streamer.Stop()

	// Job pipelines
	gen, err := generator.NewGenerator(
		generator.NewStoreListFetcher(store),
		generator.NewRandomIDEncryptor(cpuPool, encryptorQueueCapacity),
		generator.NewStoreMappingUploader(store),
		store,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize generator")
		return
	}
	matchWorker := matcher.NewMatchWorker(store, streamer)

	// Job queue
	log.Info().Str("nats_url", cfg.Config.Queue.NatsURL).Str("stream", cfg.Config.Queue.StreamName).
		Msg("Connecting to job queue")
	queue, err := jobs.NewNatsQueue(cfg.Config.Queue)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to job queue")
		return
	}
	defer queue.Close()

	// Job-event sinks
	publisher, err := events.NewPublisher(cfg.Config.Sinks)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize event sinks")
		return
	}
	defer publisher.Close()

	// Path allowlist
	filter, err := jobs.NewPathFilter(cfg.Config.Worker.BucketAllowlist, cfg.Config.Worker.PathAllowlist)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid allowlist configuration")
		return
	}

	runner, err := jobs.NewRunner(jobs.RunnerConfig{
		Queue:        queue,
		Generator:    gen,
		Matcher:      matchWorker,
		Filter:       filter,
		Events:       publisher,
		WorkerID:     cfg.Config.WorkerID,
		PollInterval: time.Duration(cfg.Config.Worker.PollIntervalMS) * time.Millisecond,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize job runner")
		return
	}

	// Admin server
	var adminServer *admin.Server
	if cfg.Config.Admin.Enabled {
		adminServer = admin.NewServer(cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port,
			cfg.Config.Admin.Secret, runner)
		adminServer.Start()
	}

	runner.Start()
	log.Info().Msg("Worker started, polling for jobs")

	// Block until shutdown is requested.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	runner.Stop()
	streamer.Stop()
	if adminServer != nil {
		adminServer.Stop()
	}

	log.Info().Msg("Shutdown complete")
}

func buildStore() (blob.Store, error) {
	switch cfg.Config.BlobStore.Type {
	case cfg.BlobStoreS3:
		return blob.NewS3Store(cfg.Config.BlobStore.S3, cfg.Config.Streamer.ChunkQueueDepth)
	case cfg.BlobStoreLocal:
		return blob.NewLocalStore(cfg.Config.BlobStore.Local.RootDir, cfg.Config.Streamer.ChunkQueueDepth)
	}
	return nil, fmt.Errorf("unknown blob store type: %s", cfg.Config.BlobStore.Type)
}
