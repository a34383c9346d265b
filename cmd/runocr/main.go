package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/ocr-service/internal/cache"
	"github.com/joseph-ayodele/ocr-service/internal/common"
	"github.com/joseph-ayodele/ocr-service/internal/export"
	"github.com/joseph-ayodele/ocr-service/internal/input"
	"github.com/joseph-ayodele/ocr-service/internal/pipeline"
	"github.com/joseph-ayodele/ocr-service/internal/postprocess"
)

type options struct {
	engine  string
	key     string
	xlsx    string
	timeout time.Duration
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:          "runocr <image>",
		Short:        "Extract text from one image and print the result as JSON",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.engine, "engine", "", "engine name (tesseract, gcv); defaults to OCR_ENGINE")
	cmd.Flags().StringVar(&opts.key, "key", "", "idempotency key; a random one is used when empty")
	cmd.Flags().StringVar(&opts.xlsx, "xlsx", "", "also write the blocks to this .xlsx file")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall deadline")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, path string, opts options) error {
	cfg := common.LoadConfig()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	results, err := cache.NewIdempotency(cache.NewMemoryStore(), cfg.Cache.TTL, logger)
	if err != nil {
		return err
	}
	registry := pipeline.NewRegistryFromConfig(cfg, logger)
	defer registry.Close()

	controller := pipeline.NewController(registry, results,
		input.NewAcquirer(cfg.MaxFileBytes(), cfg.OCR.DownloadTimeout, logger),
		logger,
		pipeline.WithDefaultEngine(cfg.OCR.DefaultEngine),
		pipeline.WithPostprocess(postprocess.Options{
			MinWidth:  cfg.OCR.MinBoxWidth,
			MinHeight: cfg.OCR.MinBoxHeight,
		}),
	)

	f, err := os.Open(path)
	if err != nil {
		logger.Error("open image", "path", path, "error", err)
		return err
	}
	defer f.Close()

	key := opts.key
	if key == "" {
		key = uuid.NewString()
	}
	res, err := controller.Extract(ctx, pipeline.Request{
		IdempotencyKey: key,
		Engine:         opts.engine,
		Upload:         f,
		Filename:       filepath.Base(path),
	})
	if err != nil {
		logger.Error("text extraction failed", "code", common.ErrorCode(err), "error", err)
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(res); err != nil {
		return err
	}

	if opts.xlsx != "" {
		raw, err := export.NewService(logger).ResultXLSX(res)
		if err != nil {
			return fmt.Errorf("export xlsx: %w", err)
		}
		if err := os.WriteFile(opts.xlsx, raw, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", opts.xlsx, err)
		}
	}
	return nil
}
