package database

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xelth-com/parcelseal/internal/config"
)

func TestUseEmbedded(t *testing.T) {
	tests := []struct {
		cfg  config.DatabaseConfig
		want bool
	}{
		{config.DatabaseConfig{Host: "localhost"}, true},
		{config.DatabaseConfig{Host: "localhost", Password: "secret"}, false},
		{config.DatabaseConfig{Host: "db.internal"}, false},
	}
	for _, tt := range tests {
		if got := useEmbedded(tt.cfg); got != tt.want {
			t.Errorf("useEmbedded(%+v) = %v, want %v", tt.cfg, got, tt.want)
		}
	}
}

func TestDSN(t *testing.T) {
	got := dsn(config.DatabaseConfig{Host: "h", Port: "1", Username: "u", Password: "p", Database: "d"})
	want := "host=h port=1 user=u password=p dbname=d sslmode=disable"
	if got != want {
		t.Errorf("dsn = %q, want %q", got, want)
	}
}

func TestReadPostmasterPID(t *testing.T) {
	dir := t.TempDir()
	if _, err := readPostmasterPID(dir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected ErrNotExist for missing file, got %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "postmaster.pid"), []byte("4242\n/var/lib/pg\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	pid, err := readPostmasterPID(dir)
	if err != nil || pid != 4242 {
		t.Errorf("Expected 4242, got %d (%v)", pid, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "postmaster.pid"), []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := readPostmasterPID(dir); err == nil {
		t.Error("Expected parse error")
	}
}
