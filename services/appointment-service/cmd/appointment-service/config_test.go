package main

import (
	"testing"
	"time"

	"github.com/odontocare/odontocare/services/appointment-service/internal/authz"
	"github.com/odontocare/odontocare/services/appointment-service/internal/availability"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CATALOG_URL", "http://users:5001")
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("expected config, got %v", err)
	}
	if cfg.Port != "8001" || cfg.GRPCPort != "9001" {
		t.Fatalf("expected default ports, got %s/%s", cfg.Port, cfg.GRPCPort)
	}
	if cfg.Scope != availability.ScopeDoctor || cfg.DefaultDuration != 30*time.Minute {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !cfg.Policy.Allows(authz.RoleReceptionist, authz.OpCreate) {
		t.Fatal("expected default policy to allow receptionist create")
	}
	if len(cfg.KafkaBrokers) != 0 || cfg.DatabaseURL != "" {
		t.Fatalf("expected no kafka and no database, got %+v", cfg)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("CATALOG_URL", "http://users:5001")
	t.Setenv("CONFLICT_SCOPE", "doctor_center")
	t.Setenv("ROLE_POLICY", "cancel=admin")
	t.Setenv("DEFAULT_DURATION_MINUTES", "45")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("expected config, got %v", err)
	}
	if cfg.Scope != availability.ScopeDoctorCenter || cfg.DefaultDuration != 45*time.Minute {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if cfg.Policy.Allows(authz.RoleReceptionist, authz.OpCancel) {
		t.Fatal("expected receptionist cancel to be denied")
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"missing catalog": {},
		"center scope":    {"CATALOG_URL": "http://users:5001", "CONFLICT_SCOPE": "center"},
		"bad policy":      {"CATALOG_URL": "http://users:5001", "ROLE_POLICY": "create=janitor"},
		"bad port":        {"CATALOG_URL": "http://users:5001", "PORT": "99999"},
		"zero duration":   {"CATALOG_URL": "http://users:5001", "DEFAULT_DURATION_MINUTES": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("CATALOG_URL", "")
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := loadConfig(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
