package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xelth-com/parcelseal/internal/audit"
	"github.com/xelth-com/parcelseal/internal/config"
	"github.com/xelth-com/parcelseal/internal/database"
	"github.com/xelth-com/parcelseal/internal/handlers"
	"github.com/xelth-com/parcelseal/internal/metrics"
	"github.com/xelth-com/parcelseal/internal/notify"
	"github.com/xelth-com/parcelseal/internal/services/parcel"
	"github.com/xelth-com/parcelseal/internal/store"
	"github.com/xelth-com/parcelseal/internal/tokencodec"
	"github.com/xelth-com/parcelseal/internal/tokens"
	"github.com/xelth-com/parcelseal/internal/verify"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ring, err := cfg.Keyring()
	if err != nil {
		log.Fatalf("Failed to load encryption keys: %v", err)
	}
	codec, err := tokencodec.New(cfg.Tokens.SchemeVersion)
	if err != nil {
		log.Fatalf("Failed to create token codec: %v", err)
	}
	log.Printf("🔐 Keyring loaded: %d key(s), scheme v%d", len(ring.IDs()), codec.Version())

	// 2. Storage (embedded or external postgres, or in-memory for dev)
	var (
		st   store.Store
		db   *database.DB
		ping func() error
	)
	switch cfg.StoreDriver {
	case "memory":
		log.Println("⚠️ Using in-memory store: data is lost on restart")
		st = store.NewMemoryStore()
	default:
		db, err = database.Connect(cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		// Note: db.Close() is called manually in shutdown handler below

		log.Println("🚀 Synchronizing database schema...")
		if err := db.AutoMigrate(store.Models()...); err != nil {
			log.Fatalf("Failed to migrate schema: %v", err)
		}
		st = store.NewGormStore(db.DB)
		ping = db.Ping
	}

	// 3. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 4. Core services
	hub := notify.NewHub()
	go hub.Run(ctx)

	auditLog := audit.NewLog(st)
	auditLog.SetMaxPending(cfg.Audit.MaxPending)
	go auditLog.Run(ctx, cfg.Audit.RetryInterval)

	tm := tokens.NewManager(st, codec, ring, cfg.Tokens.TTL)
	if cfg.Tokens.ReaperInterval > 0 {
		go tm.RunReaper(ctx, cfg.Tokens.ReaperInterval)
	}

	router := handlers.NewRouter(handlers.Deps{
		Parcels:   parcel.NewService(st, tm, hub),
		Tokens:    tm,
		Verifier:  verify.NewService(st, st, ring, auditLog, hub),
		Audit:     auditLog,
		Hub:       hub,
		JWTSecret: cfg.JWTSecret,
		Ping:      ping,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	// 5. Start server with graceful shutdown
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.Printf("🚀 Server (%s) starting on port %s [store: %s]\n", cfg.NodeEnv, cfg.Port, cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Stop background workers, then try once more to persist queued scans
	stop()
	if n, err := auditLog.Flush(shutdownCtx); err != nil {
		log.Printf("❌ Audit: %d scan event(s) still pending at shutdown: %v", auditLog.Pending(), err)
	} else if n > 0 {
		log.Printf("✅ Audit: flushed %d queued scan event(s)", n)
	}

	if db != nil {
		// Close database (this also stops embedded PostgreSQL)
		log.Println("🛑 Closing database connection...")
		if err := db.Close(); err != nil {
			log.Printf("Database close error: %v", err)
		}
	}

	log.Println("✅ Shutdown complete")
}
