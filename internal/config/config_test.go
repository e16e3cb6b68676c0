package config

import (
	"strings"
	"testing"
	"time"
)

const testKeys = "k1:000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f," +
	"k2:202122232425262728292a2b2c2d2e2f303132333435363738393a3b3c3d3e3f"

func setRequired(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("ENC_KEYS", testKeys)
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "3001" || cfg.StoreDriver != "postgres" {
		t.Errorf("Unexpected defaults: port=%s driver=%s", cfg.Port, cfg.StoreDriver)
	}
	if cfg.Tokens.TTL != 72*time.Hour || cfg.Tokens.ReaperInterval != 10*time.Minute {
		t.Errorf("Unexpected token defaults: %+v", cfg.Tokens)
	}
	if cfg.Tokens.SchemeVersion != 1 || cfg.Audit.RetryInterval != 30*time.Second {
		t.Errorf("Unexpected defaults: scheme=%d retry=%s", cfg.Tokens.SchemeVersion, cfg.Audit.RetryInterval)
	}
	if cfg.Database.Database != "parcelseal" || cfg.Database.Alter {
		t.Errorf("Unexpected database defaults: %+v", cfg.Database)
	}

	ring, err := cfg.Keyring()
	if err != nil {
		t.Fatalf("Keyring: %v", err)
	}
	active, _ := ring.Active()
	if active.ID != "k2" {
		t.Errorf("Expected last key active, got %s", active.ID)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("TOKEN_TTL", "24h")
	t.Setenv("REAPER_INTERVAL", "0")
	t.Setenv("ENC_SCHEME_VERSION", "2")
	t.Setenv("ENC_ACTIVE_KEY", "k1")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DB_ALTER", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tokens.TTL != 24*time.Hour || cfg.Tokens.ReaperInterval != 0 || cfg.Tokens.SchemeVersion != 2 {
		t.Errorf("Overrides not applied: %+v", cfg.Tokens)
	}
	if cfg.StoreDriver != "memory" || !cfg.Database.Alter {
		t.Errorf("Overrides not applied: driver=%s alter=%v", cfg.StoreDriver, cfg.Database.Alter)
	}
	ring, err := cfg.Keyring()
	if err != nil {
		t.Fatalf("Keyring: %v", err)
	}
	if active, _ := ring.Active(); active.ID != "k1" {
		t.Errorf("Expected k1 active, got %s", active.ID)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing secret", map[string]string{"JWT_SECRET": ""}, "JWT_SECRET"},
		{"missing keys", map[string]string{"ENC_KEYS": ""}, "ENC_KEYS"},
		{"bad ttl", map[string]string{"TOKEN_TTL": "soon"}, "TOKEN_TTL"},
		{"zero ttl", map[string]string{"TOKEN_TTL": "0s"}, "TOKEN_TTL"},
		{"bad scheme", map[string]string{"ENC_SCHEME_VERSION": "9"}, "ENC_SCHEME_VERSION"},
		{"bad driver", map[string]string{"STORE_DRIVER": "mongo"}, "STORE_DRIVER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}
