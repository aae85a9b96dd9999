package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-poultry-prices/models"
	"github.com/aluiziolira/go-poultry-prices/parser"
	"github.com/aluiziolira/go-poultry-prices/scraper"
	"github.com/aluiziolira/go-poultry-prices/snapshot"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ReportFetcher retrieves the raw text of one source.
type ReportFetcher interface {
	Fetch(ctx context.Context, src scraper.Source) (*models.RawReport, error)
}

// Options wires an Engine.
type Options struct {
	Sources []scraper.Source
	Fetcher ReportFetcher
	Catalog *parser.Catalog
	Store   snapshot.Store
	// Budget caps the wall-clock time spent walking the Source List in one
	// cycle. Zero means no cap beyond the per-request timeout.
	Budget    time.Duration
	CacheSize int
	Metrics   *scraper.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Engine runs fetch/parse/snapshot cycles and classifies their freshness.
type Engine struct {
	sources []scraper.Source
	fetcher ReportFetcher
	catalog *parser.Catalog
	store   snapshot.Store
	budget  time.Duration
	metrics *scraper.Metrics
	logger  *slog.Logger
	now     func() time.Time

	cache *lru.Cache[string, models.PriceMap]
	mu    sync.Mutex
}

// NewEngine validates opts and builds an Engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("pipeline: fetcher is required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("pipeline: catalog is required")
	}
	if opts.Store == nil {
		return nil, errors.New("pipeline: snapshot store is required")
	}
	if len(opts.Sources) == 0 {
		return nil, errors.New("pipeline: at least one source is required")
	}
	if opts.Budget < 0 {
		return nil, errors.New("pipeline: budget cannot be negative")
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 16
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cache, err := lru.New[string, models.PriceMap](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("pipeline: parse cache: %w", err)
	}

	sources := make([]scraper.Source, len(opts.Sources))
	copy(sources, opts.Sources)

	return &Engine{
		sources: sources,
		fetcher: opts.Fetcher,
		catalog: opts.Catalog,
		store:   opts.Store,
		budget:  opts.Budget,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     opts.Now,
		cache:   cache,
	}, nil
}

// FetchLatest walks the Source List in order and returns the prices of the
// first source whose report yields at least one product, with that source's
// URL. Failed or empty sources are skipped; when every source fails, or the
// budget runs out, it returns an empty map and "".
func (e *Engine) FetchLatest(ctx context.Context) (models.PriceMap, string) {
	if e.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.budget)
		defer cancel()
	}

	for i, src := range e.sources {
		if err := ctx.Err(); err != nil {
			e.logger.Warn("fetch budget exhausted",
				slog.Int("skipped_sources", len(e.sources)-i),
				slog.Any("error", err),
			)
			break
		}

		raw, err := e.fetcher.Fetch(ctx, src)
		if err != nil {
			e.logger.Warn("source failed",
				slog.String("url", src.URL),
				slog.String("error_type", scraper.ErrorType(err)),
				slog.Any("error", err),
			)
			continue
		}

		prices := e.parse(raw.Text)
		if len(prices) == 0 {
			e.logger.Warn("no prices in report", slog.String("url", src.URL))
			continue
		}

		e.logger.Debug("report parsed",
			slog.String("url", src.URL),
			slog.Int("products", len(prices)),
		)
		return prices, src.URL
	}
	return models.PriceMap{}, ""
}

func (e *Engine) parse(text string) models.PriceMap {
	sum := sha256.Sum256([]byte(text))
	key := hex.EncodeToString(sum[:])
	if cached, ok := e.cache.Get(key); ok {
		return cached.Clone()
	}
	prices := e.catalog.Parse(text)
	e.cache.Add(key, prices.Clone())
	return prices
}

// RunCycle performs one fetch/parse attempt and returns prices with deltas
// and a freshness status:
//
//   - live: fresh prices, deltas against the previous snapshot, snapshot replaced
//   - snapshot: every source failed; the stored prices with zero deltas
//   - none: every source failed and nothing is stored yet; empty prices
//
// RunCycle never returns an error. Snapshot failures are logged and counted.
func (e *Engine) RunCycle(ctx context.Context) *models.CycleResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, source := e.FetchLatest(ctx)

	// Shutdown during the fetch must not hide the stored prices.
	prior, err := e.store.Load(context.WithoutCancel(ctx))
	if err != nil {
		e.logger.Warn("snapshot unreadable, treating as empty", slog.Any("error", err))
		e.metrics.IncSnapshotFailure("load")
	}

	result := &models.CycleResult{
		Prices: make(map[string]models.PricePoint, len(current)),
		Order:  e.catalog.Names(),
		Labels: e.catalog.Labels(),
	}

	switch {
	case len(current) > 0:
		result.Status = models.StatusLive
		result.Source = source
		for name, price := range current {
			delta := 0.0
			if prev, ok := prior[name]; ok {
				delta = price - prev
			}
			result.Prices[name] = models.PricePoint{Price: price, Delta: delta}
		}
		// A cycle cut short by shutdown still keeps its good prices.
		if err := e.store.Save(context.WithoutCancel(ctx), current); err != nil {
			e.logger.Error("snapshot save failed", slog.Any("error", err))
			e.metrics.IncSnapshotFailure("save")
		}
		e.metrics.AddPrices(len(current))
	case len(prior) > 0:
		result.Status = models.StatusSnapshot
		for name, price := range prior {
			result.Prices[name] = models.PricePoint{Price: price}
		}
	default:
		result.Status = models.StatusNone
	}

	result.CompletedAt = e.now()
	e.metrics.IncCycle(string(result.Status), result.CompletedAt)
	for name, point := range result.Prices {
		e.metrics.SetPrice(name, point.Price)
	}

	e.logger.Info("cycle complete",
		slog.String("status", string(result.Status)),
		slog.Int("products", len(result.Prices)),
		slog.String("source", result.Source),
	)
	return result
}

// Sink receives each cycle result from Poll.
type Sink func(ctx context.Context, result *models.CycleResult) error

// Poll runs a cycle immediately, then sleeps interval after each completed
// cycle before the next one. It returns when ctx is cancelled. Sink errors
// are logged and do not stop polling.
func (e *Engine) Poll(ctx context.Context, interval time.Duration, sink Sink) error {
	if interval <= 0 {
		return errors.New("pipeline: poll interval must be positive")
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		result := e.RunCycle(ctx)
		if sink != nil {
			if err := sink(ctx, result); err != nil {
				e.logger.Error("result sink failed", slog.Any("error", err))
			}
		}
		timer.Reset(interval)
	}
}
