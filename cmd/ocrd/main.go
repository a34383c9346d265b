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

	"golang.org/x/net/netutil"

	"github.com/joseph-ayodele/ocr-service/internal/async"
	"github.com/joseph-ayodele/ocr-service/internal/cache"
	"github.com/joseph-ayodele/ocr-service/internal/common"
	"github.com/joseph-ayodele/ocr-service/internal/input"
	"github.com/joseph-ayodele/ocr-service/internal/pipeline"
	"github.com/joseph-ayodele/ocr-service/internal/postprocess"
	"github.com/joseph-ayodele/ocr-service/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := common.LoadConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := cache.Open(ctx, cfg.Cache, logger)
	if err != nil {
		logger.Error("failed to open idempotency cache", "backend", cfg.Cache.Backend, "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := results.Close(); cerr != nil {
			logger.Warn("cache close error", "error", cerr)
		}
	}()

	registry := pipeline.NewRegistryFromConfig(cfg, logger)
	defer func() {
		if cerr := registry.Close(); cerr != nil {
			logger.Warn("engine close error", "error", cerr)
		}
	}()

	opts := []pipeline.Option{
		pipeline.WithDefaultEngine(cfg.OCR.DefaultEngine),
		pipeline.WithSingleflight(cfg.OCR.Singleflight),
		pipeline.WithPostprocess(postprocess.Options{
			MinWidth:  cfg.OCR.MinBoxWidth,
			MinHeight: cfg.OCR.MinBoxHeight,
		}),
	}
	var pool *async.Pool
	if cfg.OCR.EngineWorkers > 0 {
		pool = async.NewPool(logger,
			async.WithWorkers(cfg.OCR.EngineWorkers),
			async.WithQueueSize(cfg.OCR.EngineWorkers*64),
		)
		opts = append(opts, pipeline.WithEngineGate(pool))
	}

	acquirer := input.NewAcquirer(cfg.MaxFileBytes(), cfg.OCR.DownloadTimeout, logger)
	controller := pipeline.NewController(registry, results, acquirer, logger, opts...)

	api := server.New(controller, server.Config{
		MaxFileBytes:  cfg.MaxFileBytes(),
		DefaultEngine: controller.DefaultEngine(),
		Engines:       registry.Names(),
		AuthEnabled:   cfg.Auth.Enabled,
		AuthToken:     cfg.Auth.Token,
	}, logger)

	lis, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.HTTPAddr, "error", err)
		os.Exit(1)
	}
	if cfg.Server.MaxConns > 0 {
		lis = netutil.LimitListener(lis, cfg.Server.MaxConns)
	}

	srv := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("ocr-service listening",
		"addr", lis.Addr().String(),
		"engines", registry.Names(),
		"default_engine", controller.DefaultEngine(),
		"cache_backend", cfg.Cache.Backend,
		"cache_ttl", cfg.Cache.TTL.String(),
		"auth_enabled", cfg.Auth.Enabled,
	)
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("http serve error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", "error", err)
	}
	if pool != nil {
		pool.Shutdown(shutdownCtx)
	}
	logger.Info("ocr-service stopped")
}
