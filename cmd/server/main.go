package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yourorg/traffic-bridge/internal/camera"
	"github.com/yourorg/traffic-bridge/internal/config"
	"github.com/yourorg/traffic-bridge/internal/db"
	"github.com/yourorg/traffic-bridge/internal/hub"
	"github.com/yourorg/traffic-bridge/internal/imagestore"
	"github.com/yourorg/traffic-bridge/internal/ingest"
	"github.com/yourorg/traffic-bridge/internal/latest"
	"github.com/yourorg/traffic-bridge/internal/logger"
	"github.com/yourorg/traffic-bridge/internal/mqttclient"
	s3c "github.com/yourorg/traffic-bridge/internal/s3"
	"github.com/yourorg/traffic-bridge/internal/web"
	"github.com/yourorg/traffic-bridge/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load environment variables from .env files if present. This helps local dev.
	// Try current directory and one level up (in case run from cmd/server).
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("Server failed", "error", err)
	}
}

func run(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	var imageOpts []imagestore.Option
	if cfg.MirrorEnabled() {
		mirror, err := s3c.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3UseSSL, cfg.S3Region, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return fmt.Errorf("s3 client: %w", err)
		}
		if err := mirror.EnsureBucket(ctx); err != nil {
			log.Warn("Object storage bucket check failed; uploads will be retried per image", "bucket", cfg.S3Bucket, "error", err)
		}
		imageOpts = append(imageOpts, imagestore.WithMirror(mirror))
		log.Info("Mirroring images to object storage", "endpoint", cfg.S3Endpoint, "bucket", cfg.S3Bucket)
	}

	images, err := imagestore.New(cfg.ImagesDir, "/images", log, imageOpts...)
	if err != nil {
		return fmt.Errorf("image store: %w", err)
	}

	slot := latest.New()
	live := hub.New(log)
	go live.Run(ctx)

	pipelineOpts := []ingest.Option{ingest.WithBroadcaster(live)}

	var (
		store *db.Store
		pool  *worker.Pool
	)
	if cfg.PersistenceEnabled() {
		store, err = openStore(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		defer store.Close()
		pool = worker.NewPool(store, worker.Options{
			Workers:     cfg.PersistWorkers,
			QueueSize:   cfg.PersistQueue,
			MaxAttempts: cfg.PersistAttempts,
		}, log)
		pipelineOpts = append(pipelineOpts, ingest.WithPersister(pool))
	} else {
		log.Warn("No database configured; snapshots will not be persisted")
	}

	var (
		broker *mqttclient.Client
		events *mqttclient.EventPublisher
	)
	if cfg.MQTTEnabled() {
		broker, err = mqttclient.NewClient(mqttclient.Config{
			Host:      cfg.MQTTHost,
			Port:      cfg.MQTTPort,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			ClientID:  cfg.MQTTClientID,
			BaseTopic: cfg.MQTTBaseTopic,
		})
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer broker.Close()
		events = mqttclient.NewEventPublisher(broker, cfg.MQTTBaseTopic, log)
		pipelineOpts = append(pipelineOpts, ingest.WithEventSink(events))
		log.Info("Publishing ingest events", "topic", events.Topic())
	}

	pipeline := ingest.New(slot, images, log, pipelineOpts...)
	cameras := camera.NewProxy(cfg.Cameras, log)

	srv := web.NewServer(web.Config{
		Addr:        cfg.HTTPAddr,
		FrontendDir: cfg.FrontendDir,
		BrandingDir: cfg.BrandingDir,
	}, slot, pipeline, images, cameras, log)
	if store != nil {
		srv.SetSnapshotStore(store)
	}
	srv.SetLiveFeed(live)

	if err := srv.Start(); err != nil {
		return err
	}
	log.Info("Traffic bridge started",
		"address", cfg.HTTPAddr,
		"images_dir", images.Dir(),
		"persistence", cfg.PersistenceEnabled(),
		"mqtt", cfg.MQTTEnabled(),
	)

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.Warn("Web server shutdown", "error", err)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer drainCancel()
	if pool != nil {
		if err := pool.Close(drainCtx); err != nil {
			log.Warn("Persistence queue not fully drained", "error", err)
		}
	}
	if err := images.Close(drainCtx); err != nil {
		log.Warn("Image mirror uploads not fully drained", "error", err)
	}
	if events != nil {
		if err := events.Close(drainCtx); err != nil {
			log.Warn("MQTT events not fully drained", "error", err)
		}
	}
	return nil
}

// openStore connects to Postgres. Only an unusable URL is an error; an
// unreachable database is logged and left to the pool's retries and /healthz.
func openStore(ctx context.Context, url string, log *logger.Logger) (*db.Store, error) {
	store, err := db.Open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := store.Ping(ctx); err != nil {
		log.Warn("Database unreachable at startup; snapshots will be retried", "error", err)
		return store, nil
	}
	if err := store.EnsureSchema(ctx); err != nil {
		if db.IsInsufficientPrivilege(err) {
			log.Warn("Ensure schema skipped due to insufficient privilege", "error", err)
		} else {
			log.Warn("Ensure schema failed; snapshots may not be saved", "error", err)
		}
	}
	return store, nil
}
