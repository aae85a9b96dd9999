package pipeline

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-poultry-prices/config"
	"github.com/aluiziolira/go-poultry-prices/models"
	"github.com/aluiziolira/go-poultry-prices/parser"
	"github.com/aluiziolira/go-poultry-prices/scraper"
	"github.com/aluiziolira/go-poultry-prices/snapshot"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	primaryURL   = "http://reports.example.test/mnreports/aj_py018.txt"
	secondaryURL = "http://mirror.example.test/mnreports/aj_py018.txt"

	reportV1 = "NATIONAL BROILER PARTS\nBreast - B/S   95.00 - 140.00   WTD AVG 118.42\nThighs   60.00 - 75.00\n"
	reportV2 = "NATIONAL BROILER PARTS\nBreast - B/S   95.00 - 140.00   WTD AVG 121.00\nThighs   60.00 - 75.00\n"
)

var fixedNow = time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC)

type fakeResponse struct {
	text  string
	err   error
	block bool
}

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	calls     []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responses: make(map[string]fakeResponse)}
}

func (f *fakeFetcher) set(url string, resp fakeResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = resp
}

func (f *fakeFetcher) Fetch(ctx context.Context, src scraper.Source) (*models.RawReport, error) {
	f.mu.Lock()
	f.calls = append(f.calls, src.URL)
	resp, ok := f.responses[src.URL]
	f.mu.Unlock()

	if !ok {
		return nil, scraper.ErrNotFound{Err: errors.New("http status 404")}
	}
	if resp.block {
		<-ctx.Done()
		return nil, scraper.ErrTimeout{Err: ctx.Err()}
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return &models.RawReport{Source: src.URL, Text: resp.text}, nil
}

func (f *fakeFetcher) callsTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type failingStore struct {
	loadErr error
	saveErr error
	prior   models.PriceMap
	saves   int
}

func (s *failingStore) Load(ctx context.Context) (models.PriceMap, error) {
	if s.loadErr != nil {
		return models.PriceMap{}, s.loadErr
	}
	return s.prior.Clone(), nil
}

func (s *failingStore) Save(ctx context.Context, prices models.PriceMap) error {
	s.saves++
	return s.saveErr
}

// cancellingFetcher cancels the cycle context while the request is in
// flight, the way a shutdown signal would.
type cancellingFetcher struct {
	cancel context.CancelFunc
	text   string
}

func (f *cancellingFetcher) Fetch(ctx context.Context, src scraper.Source) (*models.RawReport, error) {
	f.cancel()
	if f.text == "" {
		return nil, scraper.ErrCanceled{Err: context.Canceled}
	}
	return &models.RawReport{Source: src.URL, Text: f.text}, nil
}

func testSources() []scraper.Source {
	return []scraper.Source{{URL: primaryURL}, {URL: secondaryURL}}
}

func newTestEngine(t *testing.T, fetcher ReportFetcher, store snapshot.Store, mutate func(*Options)) *Engine {
	t.Helper()
	catalog, err := parser.Compile(config.DefaultCatalog())
	require.NoError(t, err)

	opts := Options{
		Sources: testSources(),
		Fetcher: fetcher,
		Catalog: catalog,
		Store:   store,
		Budget:  time.Second,
		Now:     func() time.Time { return fixedNow },
	}
	if mutate != nil {
		mutate(&opts)
	}
	engine, err := NewEngine(opts)
	require.NoError(t, err)
	return engine
}

func TestNewEngineValidation(t *testing.T) {
	catalog, err := parser.Compile(config.DefaultCatalog())
	require.NoError(t, err)
	valid := Options{
		Sources: testSources(),
		Fetcher: newFakeFetcher(),
		Catalog: catalog,
		Store:   snapshot.NewMemoryStore(nil),
	}

	tests := []struct {
		name   string
		mutate func(*Options)
		errMsg string
	}{
		{name: "no fetcher", mutate: func(o *Options) { o.Fetcher = nil }, errMsg: "fetcher"},
		{name: "no catalog", mutate: func(o *Options) { o.Catalog = nil }, errMsg: "catalog"},
		{name: "no store", mutate: func(o *Options) { o.Store = nil }, errMsg: "store"},
		{name: "no sources", mutate: func(o *Options) { o.Sources = nil }, errMsg: "source"},
		{name: "negative budget", mutate: func(o *Options) { o.Budget = -time.Second }, errMsg: "budget"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := valid
			tt.mutate(&opts)
			_, err := NewEngine(opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	_, err = NewEngine(valid)
	assert.NoError(t, err)
}

func TestRunCycleLiveColdStart(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(primaryURL, fakeResponse{text: reportV1})
	store := snapshot.NewMemoryStore(nil)
	engine := newTestEngine(t, fetcher, store, nil)

	result := engine.RunCycle(context.Background())

	assert.Equal(t, models.StatusLive, result.Status)
	assert.Equal(t, primaryURL, result.Source)
	assert.Equal(t, fixedNow, result.CompletedAt)
	assert.Equal(t, map[string]models.PricePoint{
		"Breast - B/S": {Price: 118.42},
		"Thighs":       {Price: 67.5},
	}, result.Prices)

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.PriceMap{"Breast - B/S": 118.42, "Thighs": 67.5}, saved)
}

func TestRunCycleDeltas(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(primaryURL, fakeResponse{text: reportV1})
	engine := newTestEngine(t, fetcher, snapshot.NewMemoryStore(nil), nil)
	ctx := context.Background()

	engine.RunCycle(ctx)
	fetcher.set(primaryURL, fakeResponse{text: reportV2})
	result := engine.RunCycle(ctx)

	require.Equal(t, models.StatusLive, result.Status)
	assert.InDelta(t, 121.00-118.42, result.Prices["Breast - B/S"].Delta, 1e-9)
	assert.Equal(t, 0.0, result.Prices["Thighs"].Delta)
}

func TestRunCycleIdempotentDeltas(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(primaryURL, fakeResponse{text: reportV1})
	engine := newTestEngine(t, fetcher, snapshot.NewMemoryStore(nil), nil)
	ctx := context.Background()

	engine.RunCycle(ctx)
	result := engine.RunCycle(ctx)

	require.Equal(t, models.StatusLive, result.Status)
	for name, point := range result.Prices {
		assert.Zero(t, point.Delta, "delta for %s", name)
	}
}

func TestRunCycleSnapshotFallback(t *testing.T) {
	fetcher := newFakeFetcher()
	store := snapshot.NewMemoryStore(models.PriceMap{"Breast - B/S": 120})
	engine := newTestEngine(t, fetcher, store, nil)

	result := engine.RunCycle(context.Background())

	assert.Equal(t, models.StatusSnapshot, result.Status)
	assert.Empty(t, result.Source)
	assert.Equal(t, map[string]models.PricePoint{"Breast - B/S": {Price: 120, Delta: 0}}, result.Prices)
	assert.Zero(t, store.Saves(), "a failed cycle must not touch the snapshot")
	assert.Equal(t, []string{primaryURL, secondaryURL}, fetcher.callsTo())
}

func TestRunCycleNoneOnColdFailure(t *testing.T) {
	fetcher := newFakeFetcher()
	store := snapshot.NewMemoryStore(nil)
	engine := newTestEngine(t, fetcher, store, nil)

	result := engine.RunCycle(context.Background())

	assert.Equal(t, models.StatusNone, result.Status)
	assert.NotNil(t, result.Prices)
	assert.Empty(t, result.Prices)
	assert.Zero(t, store.Saves())
}

func TestRunCycleSnapshotReflectsLatestLive(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(primaryURL, fakeResponse{text: reportV1})
	store := snapshot.NewMemoryStore(nil)
	engine := newTestEngine(t, fetcher, store, nil)
	ctx := context.Background()

	engine.RunCycle(ctx)
	fetcher.set(primaryURL, fakeResponse{text: reportV2})
	engine.RunCycle(ctx)
	fetcher.set(primaryURL, fakeResponse{err: scraper.ErrBadStatus{StatusCode: 502, Err: errors.New("bad gateway")}})
	result := engine.RunCycle(ctx)

	require.Equal(t, models.StatusSnapshot, result.Status)
	assert.Equal(t, 121.0, result.Prices["Breast - B/S"].Price)
	assert.Equal(t, 2, store.Saves())
}

func TestFetchLatestFirstNonEmptySourceWins(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(primaryURL, fakeResponse{text: "<html><body>maintenance</body></html>"})
	fetcher.set(secondaryURL, fakeResponse{text: reportV2})
	engine := newTestEngine(t, fetcher, snapshot.NewMemoryStore(nil), func(o *Options) {
		o.Sources = append(testSources(), scraper.Source{URL: "http://third.example.test/aj_py018.txt"})
	})

	prices, source := engine.FetchLatest(context.Background())

	assert.Equal(t, secondaryURL, source)
	assert.Equal(t, 121.0, prices["Breast - B/S"])
	assert.Equal(t, []string{primaryURL, secondaryURL}, fetcher.callsTo(), "sources after the winner must not be fetched")
}

func TestFetchLatestBudgetAbandonsRemainingSources(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(primaryURL, fakeResponse{block: true})
	fetcher.set(secondaryURL, fakeResponse{text: reportV1})
	engine := newTestEngine(t, fetcher, snapshot.NewMemoryStore(nil), func(o *Options) {
		o.Budget = 50 * time.Millisecond
	})

	start := time.Now()
	prices, source := engine.FetchLatest(context.Background())

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Empty(t, prices)
	assert.Empty(t, source)
	assert.Equal(t, []string{primaryURL}, fetcher.callsTo())
}

func TestRunCycleSaveFailureStillLive(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(primaryURL, fakeResponse{text: reportV1})
	store := &failingStore{saveErr: errors.New("disk full"), prior: models.PriceMap{"Thighs": 60}}
	metrics := scraper.NewMetrics()
	engine := newTestEngine(t, fetcher, store, func(o *Options) { o.Metrics = metrics })

	result := engine.RunCycle(context.Background())

	assert.Equal(t, models.StatusLive, result.Status)
	assert.Equal(t, 1, store.saves)
	assert.InDelta(t, 7.5, result.Prices["Thighs"].Delta, 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SnapshotFailuresTotal.WithLabelValues("save")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CyclesTotal.WithLabelValues("live")))
}

func TestRunCycleCorruptSnapshotTreatedAsEmpty(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(primaryURL, fakeResponse{text: reportV1})
	store := &failingStore{loadErr: snapshot.ErrCorrupt}
	metrics := scraper.NewMetrics()
	engine := newTestEngine(t, fetcher, store, func(o *Options) { o.Metrics = metrics })

	result := engine.RunCycle(context.Background())

	require.Equal(t, models.StatusLive, result.Status)
	for name, point := range result.Prices {
		assert.Zero(t, point.Delta, "delta for %s", name)
	}
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SnapshotFailuresTotal.WithLabelValues("load")))

	fetcher.set(primaryURL, fakeResponse{err: errors.New("down")})
	result = engine.RunCycle(context.Background())
	assert.Equal(t, models.StatusNone, result.Status)
}

func TestParseCacheReusesIdenticalReports(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(primaryURL, fakeResponse{text: reportV1})
	engine := newTestEngine(t, fetcher, snapshot.NewMemoryStore(nil), nil)
	ctx := context.Background()

	first, _ := engine.FetchLatest(ctx)
	first["Thighs"] = 0
	second, _ := engine.FetchLatest(ctx)

	assert.Equal(t, 1, engine.cache.Len())
	assert.Equal(t, 67.5, second["Thighs"], "cached prices must not be shared with callers")
}

func TestRunCycleFetcherIntegration(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RequestsPerSecond = 0
	fetcher, err := scraper.NewFetcher(cfg, nil, nil)
	require.NoError(t, err)

	transport := httpmock.NewMockTransport()
	fetcher.WithTransport(transport)

	sources := scraper.BuildSources([]string{primaryURL}, "http://proxy.example.test/")
	require.Len(t, sources, 2)

	transport.RegisterResponder(http.MethodGet, sources[0].URL,
		httpmock.NewStringResponder(http.StatusOK, "<html><body>Report moved</body></html>"))
	transport.RegisterResponder(http.MethodGet, sources[1].URL,
		httpmock.NewStringResponder(http.StatusOK, reportV1))

	store := snapshot.NewFileStore(filepath.Join(t.TempDir(), "poultry_last.json"))
	engine := newTestEngine(t, fetcher, store, func(o *Options) { o.Sources = sources })
	ctx := context.Background()

	result := engine.RunCycle(ctx)
	require.Equal(t, models.StatusLive, result.Status)
	assert.Equal(t, sources[1].URL, result.Source)
	assert.Equal(t, 118.42, result.Prices["Breast - B/S"].Price)

	transport.Reset()
	transport.RegisterNoResponder(httpmock.NewStringResponder(http.StatusNotFound, "not found"))

	result = engine.RunCycle(ctx)
	assert.Equal(t, models.StatusSnapshot, result.Status)
	assert.Equal(t, 118.42, result.Prices["Breast - B/S"].Price)
	assert.Zero(t, result.Prices["Breast - B/S"].Delta)
}

func TestPollRunsImmediatelyAndStopsOnCancel(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set(primaryURL, fakeResponse{text: reportV1})
	engine := newTestEngine(t, fetcher, snapshot.NewMemoryStore(nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan *models.CycleResult, 4)
	done := make(chan error, 1)
	go func() {
		done <- engine.Poll(ctx, time.Hour, func(_ context.Context, r *models.CycleResult) error {
			results <- r
			return errors.New("sink failures are logged")
		})
	}()

	select {
	case r := <-results:
		assert.Equal(t, models.StatusLive, r.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle did not run immediately")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not stop after cancel")
	}
	assert.Len(t, fetcher.callsTo(), 1)
}

func TestPollRejectsNonPositiveInterval(t *testing.T) {
	engine := newTestEngine(t, newFakeFetcher(), snapshot.NewMemoryStore(nil), nil)
	assert.Error(t, engine.Poll(context.Background(), 0, nil))
}

func TestRunCycleCanceledDuringFetchKeepsSnapshot(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantStatus models.FetchStatus
		wantPrice  float64
		wantDelta  float64
	}{
		{name: "live", text: reportV2, wantStatus: models.StatusLive, wantPrice: 121, wantDelta: 121 - 118.42},
		{name: "fallback", wantStatus: models.StatusSnapshot, wantPrice: 118.42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := snapshot.OpenSQLite(filepath.Join(t.TempDir(), "poultry.db"))
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			require.NoError(t, store.Save(context.Background(), models.PriceMap{"Breast - B/S": 118.42}))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			metrics := scraper.NewMetrics()
			engine := newTestEngine(t, &cancellingFetcher{cancel: cancel, text: tt.text}, store, func(o *Options) {
				o.Metrics = metrics
			})

			result := engine.RunCycle(ctx)

			require.Equal(t, tt.wantStatus, result.Status)
			assert.Equal(t, tt.wantPrice, result.Prices["Breast - B/S"].Price)
			assert.InDelta(t, tt.wantDelta, result.Prices["Breast - B/S"].Delta, 1e-9)
			assert.Zero(t, testutil.ToFloat64(metrics.SnapshotFailuresTotal.WithLabelValues("load")))

			saved, err := store.Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrice, saved["Breast - B/S"])
		})
	}
}
