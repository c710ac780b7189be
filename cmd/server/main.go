package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"capbridge/internal/audit"
	"capbridge/internal/audit/relay"
	auditpg "capbridge/internal/audit/store/postgres"
	"capbridge/internal/bridge"
	"capbridge/internal/capstore"
	"capbridge/internal/jwttoken"
	"capbridge/internal/platform/config"
	"capbridge/internal/platform/httpserver"
	"capbridge/internal/platform/logger"
	"capbridge/internal/platform/metrics"
	"capbridge/internal/platform/postgres"
	"capbridge/internal/platform/redis"
	"capbridge/internal/schema"
	httptransport "capbridge/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	validator, err := loadValidator(ctx, cfg.Integrity)
	if err != nil {
		log.Error("failed to load CAP schema", "error", err)
		os.Exit(1)
	}

	// Stores degrade to in-memory when no DSN is configured so the bridge
	// stays runnable in local development.
	var (
		capStore   capstore.Store
		auditStore audit.Store
	)
	db, err := postgres.Open(cfg.Postgres)
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()

		pgCAPStore := capstore.NewPostgresStore(db)
		if err := pgCAPStore.EnsureSchema(ctx); err != nil {
			log.Error("failed to prepare cap_records schema", "error", err)
			os.Exit(1)
		}
		pgAuditStore := auditpg.New(db)
		if err := pgAuditStore.EnsureSchema(ctx); err != nil {
			log.Error("failed to prepare audit schema", "error", err)
			os.Exit(1)
		}
		capStore = pgCAPStore
		auditStore = pgAuditStore
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		capStore = capstore.NewInMemoryStore()
		auditStore = audit.NewInMemoryStore()
	}

	var deduper bridge.Deduper = bridge.NewStoreDeduper(capStore)
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		deduper = bridge.NewRedisDeduper(redisClient.Client, cfg.Redis.DedupeTTL)
	}

	auditor := audit.NewPublisher(auditStore, audit.WithAsyncBuffer(256), audit.WithLogger(log))
	defer auditor.Close()

	// The outbox relay needs both a database and a broker; without either the
	// audit trail still lands in the store, it just is not streamed.
	if db != nil && len(cfg.Kafka.Brokers) > 0 {
		kafkaClient, err := kgo.NewClient(kgo.SeedBrokers(cfg.Kafka.Brokers...))
		if err != nil {
			log.Error("failed to create kafka client", "error", err)
			os.Exit(1)
		}
		defer kafkaClient.Close()

		if err := relay.EnsureTopic(ctx, kafkaClient, cfg.Kafka.AuditTopic); err != nil {
			log.Error("failed to ensure audit topic", "error", err)
			os.Exit(1)
		}
		auditRelay := relay.New(db, kafkaClient, cfg.Kafka.AuditTopic, time.Second, log)
		go func() {
			if err := auditRelay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("audit relay stopped", "error", err)
			}
		}()
	}

	m := metrics.New()
	service := bridge.NewService(validator, capStore, deduper, auditor, m, log)

	opts := httptransport.Options{
		Bridge:        service,
		Logger:        log,
		Metrics:       m,
		RegulatedMode: cfg.RegulatedMode,
	}
	if cfg.RegulatedMode {
		opts.JWTValidator = jwttoken.NewMiddlewareAdapter(
			jwttoken.NewService(cfg.JWTSigningKey, "capbridge", "capbridge"))
	}

	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(opts))

	log.Info("starting capbridge", "addr", cfg.Addr, "regulated_mode", cfg.RegulatedMode)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("capbridge stopped")
}

// loadValidator compiles the CAP schema, restoring it from the canonical
// source when the local copy is missing.
func loadValidator(ctx context.Context, cfg config.Integrity) (*schema.Validator, error) {
	schemaPath := filepath.Join(cfg.SchemaDir, cfg.SchemaName)
	if _, err := os.Stat(schemaPath); os.IsNotExist(err) {
		canonical := schema.NewCanonical(cfg.CanonicalSchemaURL, cfg.CanonicalManifestURL, cfg.FetchTimeout)
		if restoreErr := canonical.RestoreSchema(ctx, schemaPath); restoreErr != nil {
			return nil, restoreErr
		}
	}
	return schema.Compile(schemaPath)
}
