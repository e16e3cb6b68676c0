package database

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"

	"github.com/xelth-com/parcelseal/internal/config"
)

const (
	embeddedPort     = 5433
	embeddedPassword = "postgres"
)

// useEmbedded reports whether cfg asks for the bundled server: a local host
// with no password configured
func useEmbedded(cfg config.DatabaseConfig) bool {
	return cfg.Host == "localhost" && cfg.Password == ""
}

// startEmbedded boots the bundled Postgres and returns cfg rewritten to
// point at it
func startEmbedded(cfg config.DatabaseConfig) (*embeddedpostgres.EmbeddedPostgres, config.DatabaseConfig, error) {
	log.Println("📦 Mode: [Embedded PostgreSQL] - Initializing internal database...")

	reapOrphan(cfg.EmbeddedDataPath)
	if err := waitForPort(embeddedPort, 3*time.Second); err != nil {
		return nil, cfg, err
	}

	pg := embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
		DataPath(cfg.EmbeddedDataPath).
		Port(uint32(embeddedPort)).
		Database(cfg.Database).
		Username(cfg.Username).
		Password(embeddedPassword))
	if err := pg.Start(); err != nil {
		return nil, cfg, fmt.Errorf("failed to start embedded database: %w", err)
	}

	cfg.Port = strconv.Itoa(embeddedPort)
	cfg.Password = embeddedPassword
	log.Printf("✅ Embedded PostgreSQL process started on port %d", embeddedPort)
	return pg, cfg, nil
}

// readPostmasterPID returns the pid on the first line of postmaster.pid
func readPostmasterPID(dataPath string) (int, error) {
	data, err := os.ReadFile(filepath.Join(dataPath, "postmaster.pid"))
	if err != nil {
		return 0, err
	}
	first, _, _ := strings.Cut(string(data), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, fmt.Errorf("postmaster.pid: %w", err)
	}
	return pid, nil
}

// reapOrphan stops a server left behind by a crashed run and removes its
// pid file so the next start does not refuse the data directory
func reapOrphan(dataPath string) {
	pid, err := readPostmasterPID(dataPath)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	pidFile := filepath.Join(dataPath, "postmaster.pid")
	if err != nil {
		log.Printf("⚠️  %v", err)
		return
	}

	proc, err := os.FindProcess(pid)
	// Signal 0 probes liveness on Unix where FindProcess always succeeds
	if err != nil || proc.Signal(syscall.Signal(0)) != nil {
		log.Printf("🧹 Removing stale postmaster.pid (PID %d not running)", pid)
		os.Remove(pidFile)
		return
	}

	log.Printf("⚠️  Found orphaned PostgreSQL process (PID %d), attempting to stop...", pid)
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		log.Printf("⚠️  Could not send SIGTERM to PID %d: %v", pid, err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(500 * time.Millisecond)
		if proc.Signal(syscall.Signal(0)) != nil {
			log.Printf("✅ Orphaned PostgreSQL process stopped")
			os.Remove(pidFile)
			return
		}
	}

	log.Printf("⚠️  Process did not stop gracefully, sending SIGKILL...")
	proc.Kill()
	time.Sleep(500 * time.Millisecond)
	os.Remove(pidFile)
}

// waitForPort waits until nothing listens on the local port
func waitForPort(port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for portInUse(port) {
		if time.Now().After(deadline) {
			return fmt.Errorf("port %d is still in use by another process", port)
		}
		log.Printf("⚠️  Port %d still in use, waiting for release...", port)
		time.Sleep(500 * time.Millisecond)
	}
	return nil
}

func portInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
