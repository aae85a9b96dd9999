package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-poultry-prices/config"
	"github.com/aluiziolira/go-poultry-prices/models"
	"github.com/aluiziolira/go-poultry-prices/parser"
	"github.com/aluiziolira/go-poultry-prices/pipeline"
	"github.com/aluiziolira/go-poultry-prices/scraper"
	"github.com/aluiziolira/go-poultry-prices/snapshot"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (default: search ./poultry.yaml and ./config)")
	once := flag.Bool("once", false, "Run a single refresh cycle and exit")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	outputFile := flag.String("output", "", "Output file path")
	outputFormat := flag.String("format", "", "Output format: csv, json, dual, or none")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	snapshotPath := flag.String("snapshot", "", "Snapshot location for the configured backend")
	interval := flag.Duration("interval", 0, "Delay between refresh cycles when polling")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "v":
			cfg.Verbose = *verbose
		case "output":
			cfg.OutputFile = *outputFile
		case "format":
			cfg.OutputFormat = strings.ToLower(*outputFormat)
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "snapshot":
			cfg.Snapshot.Path = *snapshotPath
		case "interval":
			cfg.PollInterval = *interval
		}
	})

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(cfg, *once); err != nil {
		slog.Error("poultry feed failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, once bool) error {
	metrics := scraper.NewMetrics()

	fetcher, err := scraper.NewFetcher(cfg, metrics, slog.Default())
	if err != nil {
		return fmt.Errorf("initialising fetcher: %w", err)
	}

	catalog, err := parser.Compile(cfg.Catalog)
	if err != nil {
		return fmt.Errorf("compiling catalog: %w", err)
	}

	store, err := snapshot.Open(cfg.Snapshot)
	if err != nil {
		return fmt.Errorf("opening snapshot store: %w", err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				slog.Error("close snapshot store", slog.Any("error", err))
			}
		}()
	}

	sources := scraper.BuildSources(cfg.Sources, cfg.ProxyPrefix)
	engine, err := pipeline.NewEngine(pipeline.Options{
		Sources:   sources,
		Fetcher:   fetcher,
		Catalog:   catalog,
		Store:     store,
		Budget:    cfg.FetchBudget,
		CacheSize: cfg.ParseCacheSize,
		Metrics:   metrics,
		Logger:    slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	if writer != nil {
		defer func() {
			if err := writer.Close(); err != nil {
				slog.Error("close writer", slog.Any("error", err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing current cycle")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	slog.Info("starting poultry feed",
		slog.Int("sources", len(sources)),
		slog.Int("products", len(catalog.Names())),
		slog.String("snapshot_backend", cfg.Snapshot.Backend),
		slog.Bool("once", once),
	)

	sink := func(_ context.Context, result *models.CycleResult) error {
		if writer == nil {
			return nil
		}
		return writer.Write(result)
	}

	if once {
		start := time.Now()
		result := engine.RunCycle(ctx)
		if err := sink(ctx, result); err != nil {
			return fmt.Errorf("writing result: %w", err)
		}
		if writer != nil {
			if err := writer.Validate(); err != nil {
				return fmt.Errorf("output validation failed: %w", err)
			}
		}
		printSummary(result, time.Since(start), cfg.OutputFile, writer != nil)
		return nil
	}

	slog.Info("polling", slog.Duration("interval", cfg.PollInterval))
	return engine.Poll(ctx, cfg.PollInterval, sink)
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	if format == "none" {
		return nil, nil
	}
	return pipeline.NewWriter(format, filename)
}

func printSummary(result *models.CycleResult, duration time.Duration, outputFile string, wrote bool) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Printf("Cycle complete (%s)\n", result.Status)
	if result.Source != "" {
		fmt.Printf("  Source:        %s\n", result.Source)
	}
	for _, q := range result.Quotes() {
		name := q.Label
		if name == "" {
			name = q.Product
		}
		fmt.Printf("  %-30s %8.2f  %+7.2f\n", name, q.Price, q.Delta)
	}
	if len(result.Prices) == 0 {
		fmt.Println("  No prices available")
	}
	fmt.Printf("  Duration:      %v\n", duration)
	if wrote {
		fmt.Printf("  Output file:   %s\n", outputFile)
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
