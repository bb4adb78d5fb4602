package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pawrescue/kbengine/internal/metrics"
	"github.com/pawrescue/kbengine/internal/repository/knowledge"
	chiTransport "github.com/pawrescue/kbengine/internal/transport/chi"
	"github.com/pawrescue/kbengine/internal/version"
)

var serveSeedFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ops HTTP server",
	Long: `Run the HTTP server exposing /healthz, /metrics and POST /v1/retrieve.

With the in-memory backend the index starts empty; pass --seed to load a
knowledge file before accepting requests.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveSeedFile, "seed", "", "knowledge YAML file to ingest at startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	logger.Info("Starting kbengine server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", envName),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("backend", cfg.Vector.Backend),
	)

	metrics.RegisterHTTPMetrics()

	a, err := newApp(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if serveSeedFile != "" {
		summary, err := a.ingest.Ingest(ctx, knowledge.NewFileSource(serveSeedFile))
		if err != nil {
			return fmt.Errorf("seed %s: %w", serveSeedFile, err)
		}
		logger.Info("Knowledge seeded",
			zap.String("file", serveSeedFile),
			zap.Int("processed", summary.ProcessedCount),
			zap.Int("failed", summary.FailedCount),
		)
	}

	server := chiTransport.NewServer(a.retrieval, a.health, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Router(cfg.Auth.APIKeys),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-quit:
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
	return nil
}
