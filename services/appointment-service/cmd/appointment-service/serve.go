package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/odontocare/odontocare/libs/config"
	"github.com/odontocare/odontocare/libs/db"
	"github.com/odontocare/odontocare/libs/grpcx"
	"github.com/odontocare/odontocare/libs/httpx"
	"github.com/odontocare/odontocare/libs/kafkax"
	otelx "github.com/odontocare/odontocare/libs/otel"
	"github.com/odontocare/odontocare/libs/retry"
	"github.com/odontocare/odontocare/libs/runtime"
	"github.com/odontocare/odontocare/services/appointment-service/internal/catalog"
	"github.com/odontocare/odontocare/services/appointment-service/internal/handlers"
	"github.com/odontocare/odontocare/services/appointment-service/internal/outbox"
	"github.com/odontocare/odontocare/services/appointment-service/internal/scheduling"
	"github.com/odontocare/odontocare/services/appointment-service/internal/storage"
	"github.com/odontocare/odontocare/services/appointment-service/internal/storage/migrations"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const maxBodyBytes = 64 << 10

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the gRPC health service and the outbox relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := runtime.SignalContext()
			defer stop()
			return runServer(ctx, cfg)
		},
	}
}

func runServer(ctx context.Context, cfg serviceConfig) error {
	logger := runtime.NewLogger(cfg.Service)

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	store, source, readyChecks, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	lookup, err := catalog.NewHTTPClient(catalog.HTTPConfig{
		BaseURL:     cfg.CatalogURL,
		Token:       cfg.CatalogToken,
		Timeout:     cfg.CatalogTimeout,
		MaxAttempts: cfg.CatalogAttempts,
	})
	if err != nil {
		return err
	}

	readRetry := retry.DefaultPolicy()
	readRetry.MaxAttempts = cfg.ReadAttempts
	engine := scheduling.NewEngine(store, catalog.NewValidator(lookup), logger, scheduling.Config{
		Scope:           cfg.Scope,
		Policy:          cfg.Policy,
		DefaultDuration: cfg.DefaultDuration,
		ReadRetry:       readRetry,
	})
	logger.Info("scheduling engine ready", "scope", cfg.Scope, "role_policy", cfg.Policy.String(), "default_duration", cfg.DefaultDuration)

	g, gctx := errgroup.WithContext(ctx)

	if len(cfg.KafkaBrokers) > 0 {
		writer := kafkax.NewWriter(cfg.KafkaBrokers)
		defer func() { _ = writer.Close() }()
		publisher := outbox.NewPublisher(source, writer, logger, outbox.PublisherConfig{
			PollEvery: cfg.OutboxPoll,
			BatchSize: cfg.OutboxBatch,
		})
		g.Go(func() error {
			publisher.Run(gctx)
			return nil
		})
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	} else {
		logger.Warn("KAFKA_BROKERS not set; outbox events are kept but not relayed")
	}

	grpcServer := grpcx.NewServer()
	grpcServer.SetServing(true, cfg.Service)
	g.Go(func() error {
		return grpcServer.Run(gctx, logger, ":"+cfg.GRPCPort)
	})

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	handlers.NewAppointmentHandler(engine, logger).Register(mux)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(maxBodyBytes),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(httpHandler, "appointments"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		defer grpcServer.SetServing(false, cfg.Service)
		return runtime.RunHTTPServer(gctx, logger, srv, cfg.ShutdownDrain)
	})

	return g.Wait()
}

// openStore picks PostgreSQL when DATABASE_URL is set and the in-memory store otherwise.
func openStore(ctx context.Context, cfg serviceConfig, logger *slog.Logger) (storage.Store, outbox.Source, []runtime.ReadyCheck, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; using the in-memory store, data is lost on restart")
		mem := storage.NewMemory()
		return mem, mem, []runtime.ReadyCheck{{Name: "store", Check: mem.Ready}}, func() {}, nil
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{MaxConns: int32(cfg.DBMaxConns)})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		return nil, nil, nil, nil, fmt.Errorf("connect: %w", err)
	}
	if config.Bool("MIGRATE_ON_START", false) {
		n, err := db.NewMigrator(pool, migrations.FS, ".").Up(ctx)
		if err != nil {
			pool.Close()
			return nil, nil, nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied", "count", n)
	}
	pg := storage.NewPostgres(pool)
	return pg, pg.Outbox(), []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}, pool.Close, nil
}
