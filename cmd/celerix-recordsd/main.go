package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-records/internal/config"
	"github.com/celerix-dev/celerix-records/internal/engine"
	"github.com/celerix-dev/celerix-records/internal/logging"
	"github.com/celerix-dev/celerix-records/internal/server"
	"github.com/celerix-dev/celerix-records/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Falls back to the default production logger.
		logging.Fatal("invalid configuration", zap.Error(err))
	}
	if err := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		logging.Fatal("failed to initialize logging", zap.Error(err))
	}
	defer logging.Sync()

	s := cfg.Server
	logging.Info("starting celerix records daemon", zap.String("data_dir", s.DataDir))

	// 1. Persistence
	persister, err := engine.NewPersistence(s.DataDir)
	if err != nil {
		logging.Fatal("failed to initialize persistence", zap.Error(err))
	}
	if s.DataKey != "" {
		key, err := vault.ParseKey(s.DataKey)
		if err != nil {
			logging.Fatal("invalid data key", zap.Error(err))
		}
		persister.SetKey(key)
		logging.Info("data file encryption enabled")
	}

	// 2. Load existing data and start the store
	initial, err := persister.Load()
	if err != nil {
		logging.Warn("could not load existing data", zap.Error(err))
	}
	store := engine.NewMemStore(initial, persister)

	if s.SeedFile != "" && store.Stats().TotalRecords == 0 {
		n, err := engine.Seed(store, s.SeedFile)
		if err != nil {
			logging.Fatal("failed to seed store", zap.String("file", s.SeedFile), zap.Error(err))
		}
		logging.Info("store seeded", zap.String("file", s.SeedFile), zap.Int("records", n))
	}
	stats := store.Stats()
	logging.Info("store ready",
		zap.Int("records", stats.TotalRecords),
		zap.Int("batches", stats.TotalBatches))

	// 3. Router
	router := server.NewRouter(store, server.Options{
		APITokens:   s.APITokens,
		MetricsPath: s.MetricsPath,
	})

	// 4. TLS
	if !s.DisableTLS {
		cert, err := vault.GenerateSelfSignedCert()
		if err != nil {
			logging.Fatal("failed to generate TLS certificate", zap.Error(err))
		}
		router.SetCertificate(cert)
		logging.Info("TLS enabled with a self-signed certificate")
	}

	// 5. Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logging.Info("shutdown signal received, finalizing disk writes")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := router.Shutdown(ctx); err != nil {
			logging.Warn("shutdown did not complete cleanly", zap.Error(err))
		}
	}()

	if err := router.Listen(s.ListenAddr); err != nil {
		logging.Fatal("server failed", zap.Error(err))
	}
	store.Wait()
	logging.Info("persistence complete, exiting")
}
