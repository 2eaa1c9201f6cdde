package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/speech-trainer/api-go/internal/catalog"
	"github.com/example/speech-trainer/api-go/internal/config"
	"github.com/example/speech-trainer/api-go/internal/download"
	"github.com/example/speech-trainer/api-go/internal/hass"
	"github.com/example/speech-trainer/api-go/internal/httpapi"
	"github.com/example/speech-trainer/api-go/internal/jobs"
	"github.com/example/speech-trainer/api-go/internal/lexicon"
	"github.com/example/speech-trainer/api-go/internal/modelfs"
	"github.com/example/speech-trainer/api-go/internal/store"
	"github.com/example/speech-trainer/api-go/internal/training"
)

func main() {
	loadDotEnv()
	cfg := config.Load()
	for _, dir := range []string{cfg.DataDir, cfg.TrainDir, cfg.ModelsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	dbPath := filepath.Join(cfg.DataDir, "jobs.db")
	jobStore, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("open job store: %v", err)
	}
	defer jobStore.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	runner := jobs.NewRunner(ctx, jobStore, logger)
	runner.Timeout = cfg.JobTimeout

	var hassClient *hass.Client
	if cfg.HassToken != "" {
		hassClient = &hass.Client{URI: cfg.HassWebsocketURI, Token: cfg.HassToken}
	} else {
		log.Printf("home assistant lists disabled (RS_HASS_TOKEN not set)")
	}

	server := httpapi.Server{
		Layout:  modelfs.Layout{TrainDir: cfg.TrainDir, ModelsDir: cfg.ModelsDir},
		Catalog: catalog.Catalog{BaseURL: cfg.ModelBaseURL},
		Runner:  runner,
		Jobs:    jobStore,
		Downloader: download.Downloader{
			ModelsDir: cfg.ModelsDir,
			Logger:    logger,
		},
		Trainer:       training.CommandTrainer{Command: cfg.TrainCommand},
		Guesser:       lexicon.Phonetisaurus{ToolsDir: cfg.ToolsDir},
		Hass:          hassClient,
		ToolsDir:      cfg.ToolsDir,
		DecodeMode:    cfg.DecodeMode,
		RescoreOrder:  cfg.ArpaRescoreOrder,
		StreamTimeout: cfg.StreamTimeout,
		Ingress:       cfg.HassIngress,
		Logger:        logger,
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Printf("API listening on %s (data=%s, decode=%s)", cfg.Addr, cfg.DataDir, cfg.DecodeMode)

	select {
	case <-ctx.Done():
		log.Printf("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	// The runner's base context is cancelled by now; running jobs end and record their outcome.
	runner.Wait()
}

func loadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
