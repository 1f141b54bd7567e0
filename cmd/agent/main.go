package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/clipvault/clipvault-agent/internal/api"
	"github.com/clipvault/clipvault-agent/internal/archive"
	"github.com/clipvault/clipvault-agent/internal/camera"
	"github.com/clipvault/clipvault-agent/internal/config"
	"github.com/clipvault/clipvault-agent/internal/db"
	"github.com/clipvault/clipvault-agent/internal/history"
	"github.com/clipvault/clipvault-agent/internal/logging"
	"github.com/clipvault/clipvault-agent/internal/mediaserve"
	"github.com/clipvault/clipvault-agent/internal/ui"
)

var Version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting clipvault agent",
		"version", Version,
		"media_dir", logging.SanitizePath(cfg.MediaDir()),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := history.NewRepository(database.Conn())

	deviceID, err := ensureDeviceID(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                   CLIPVAULT AGENT v0.1.0                  ║")
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	creds, err := camera.LoadCredentials(cfg.CredFile())
	if err != nil {
		return fmt.Errorf("failed to load camera cloud credentials: %w", err)
	}
	if creds.DeviceID == "" {
		creds.DeviceID = deviceID
	}

	client := camera.NewClient(creds, cfg.BaseURL(), logging.WithComponent(logger, "camera"))

	ingestor, err := archive.NewIngestor(archive.IngestorConfig{
		Source:     client,
		SyncSource: camera.NewSyncSource(client),
		MediaRoot:  cfg.MediaDir(),
		Policy: archive.RetentionPolicy{
			MaxAgeHours: cfg.LatestMaxAgeHours(),
			MaxCount:    cfg.LatestMaxCount(),
		},
		SnapshotFilename: cfg.SnapshotFilename(),
		Logger:           logging.WithComponent(logger, "archive"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize ingestor: %w", err)
	}
	ingestor.SetHistory(repo)

	media := mediaserve.NewServer(ingestor.MediaRoot(),
		[]string{archive.IndexDirName}, logging.WithComponent(logger, "media"))

	apiServer := api.NewServer(api.ServerConfig{
		Port:          cfg.Port(),
		Ingestor:      ingestor,
		Repository:    repo,
		Media:         media,
		Logger:        logger,
		StartTime:     startTime,
		DeviceID:      deviceID,
		Version:       Version,
		LookbackHours: cfg.LookbackHours(),
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})
	quit := sync.OnceFunc(func() { close(quitCh) })

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			quit()
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Repository: repo,
			Busy:       ingestor.IsIngesting,
			Logger:     logger,
			OnDownload: func() {
				since := time.Now().UTC().Add(-time.Duration(cfg.LookbackHours()) * time.Hour)
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
				defer cancel()
				if _, err := ingestor.Run(ctx, []string{camera.SelectorAll}, since, archive.ModeIndexed); err != nil {
					logger.Error("tray-triggered ingestion failed", "error", err)
				}
			},
			OnQuit: quit,
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func ensureDeviceID(repo history.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "device_id")
	if err == nil && existing != "" {
		return existing, nil
	}

	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", err
	}
	deviceID := hex.EncodeToString(idBytes)

	if err := repo.SetConfig(ctx, "device_id", deviceID); err != nil {
		return "", err
	}

	return deviceID, nil
}

func ensureAuthToken(repo history.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
