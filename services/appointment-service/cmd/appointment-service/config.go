package main

import (
	"time"

	"github.com/odontocare/odontocare/libs/config"
	"github.com/odontocare/odontocare/services/appointment-service/internal/authz"
	"github.com/odontocare/odontocare/services/appointment-service/internal/availability"
)

type serviceConfig struct {
	Service         string
	Port            string
	GRPCPort        string
	DatabaseURL     string
	DBMaxConns      int
	CatalogURL      string
	CatalogToken    string
	CatalogTimeout  time.Duration
	CatalogAttempts int
	ReadAttempts    int
	Scope           availability.Scope
	Policy          authz.Policy
	DefaultDuration time.Duration
	KafkaBrokers    []string
	OutboxPoll      time.Duration
	OutboxBatch     int
	RequestTimeout  time.Duration
	ShutdownDrain   time.Duration
}

func loadConfig() (serviceConfig, error) {
	cfg := serviceConfig{
		Service:      config.String("SERVICE_NAME", "appointment-service"),
		DatabaseURL:  config.String("DATABASE_URL", ""),
		CatalogToken: config.String("CATALOG_TOKEN", ""),
		KafkaBrokers: config.List("KAFKA_BROKERS", ""),
	}
	var err error
	if cfg.Port, err = config.Port("PORT", "8001"); err != nil {
		return cfg, err
	}
	if cfg.GRPCPort, err = config.Port("GRPC_PORT", "9001"); err != nil {
		return cfg, err
	}
	if cfg.CatalogURL, err = config.RequiredString("CATALOG_URL"); err != nil {
		return cfg, err
	}
	if cfg.DBMaxConns, err = config.Int("DB_MAX_CONNS", 10); err != nil {
		return cfg, err
	}
	if cfg.CatalogTimeout, err = config.Duration("CATALOG_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.CatalogAttempts, err = config.Int("CATALOG_MAX_ATTEMPTS", 3); err != nil {
		return cfg, err
	}
	if cfg.ReadAttempts, err = config.Int("RETRY_MAX_ATTEMPTS", 3); err != nil {
		return cfg, err
	}
	if cfg.Scope, err = availability.ParseScope(config.String("CONFLICT_SCOPE", string(availability.ScopeDoctor))); err != nil {
		return cfg, err
	}
	if cfg.Policy, err = authz.ParsePolicy(config.String("ROLE_POLICY", "")); err != nil {
		return cfg, err
	}
	minutes, err := config.Int("DEFAULT_DURATION_MINUTES", 30)
	if err != nil {
		return cfg, err
	}
	cfg.DefaultDuration = time.Duration(minutes) * time.Minute
	if cfg.OutboxPoll, err = config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.OutboxBatch, err = config.Int("OUTBOX_BATCH_SIZE", 50); err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout, err = config.Duration("REQUEST_TIMEOUT", 15*time.Second); err != nil {
		return cfg, err
	}
	if cfg.ShutdownDrain, err = config.Duration("SHUTDOWN_DRAIN", 10*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}
