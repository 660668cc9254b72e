package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Oxyrus/pinphotos/internal/config"
	"github.com/Oxyrus/pinphotos/internal/flickr"
	"github.com/Oxyrus/pinphotos/internal/imagery"
	"github.com/Oxyrus/pinphotos/internal/logging"
	"github.com/Oxyrus/pinphotos/internal/router"
	"github.com/Oxyrus/pinphotos/internal/session"
	"github.com/Oxyrus/pinphotos/internal/storage/sqlite"
)

func main() {
	bootstrapLogger := logging.New(slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open sqlite database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close sqlite database", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source := flickr.New(flickr.Options{
		APIKey:   cfg.FlickrAPIKey,
		Endpoint: cfg.FlickrEndpoint,
		PageSize: cfg.PageSize,
		Timeout:  cfg.FetchTimeout,
	})
	sessions := session.NewRegistry(logger, store.Pins(), store.Photos(), source)
	downloads := imagery.NewDownloader(ctx, logger, imagery.NewFetcher(cfg.FetchTimeout), cfg.DownloadWorkers)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router.New(cfg, logger, store, sessions, downloads),
	}

	logger.Info("starting server", "addr", cfg.Addr)

	if err := serve(ctx, logger, srv, downloads); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

type waiter interface {
	Wait()
}

// serve runs srv until ctx is cancelled. It returns only after in-flight
// requests have finished and the background downloads they started are done,
// so callers may release shared resources afterwards.
func serve(ctx context.Context, logger *slog.Logger, srv *http.Server, downloads waiter) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	return serveListener(ctx, logger, srv, ln, downloads)
}

func serveListener(ctx context.Context, logger *slog.Logger, srv *http.Server, ln net.Listener, downloads waiter) error {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down server", "error", err)
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	// Serve returns as soon as Shutdown begins; Shutdown itself returns once
	// in-flight requests are done.
	<-drained
	downloads.Wait()
	return nil
}
