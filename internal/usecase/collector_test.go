package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"MarketPull/internal/domain/models"
	drepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/repository"
	"MarketPull/internal/run"
	"MarketPull/pkg/config"
	"MarketPull/pkg/logger"
)

type noopMetrics struct{}

func (noopMetrics) RecordPage(string, int)                {}
func (noopMetrics) RecordRowsPersisted(string, int)       {}
func (noopMetrics) RecordRetry(string)                    {}
func (noopMetrics) RecordRateLimitHit(string)             {}
func (noopMetrics) RecordRequestDuration(string, float64) {}
func (noopMetrics) RecordExport(string, int)              {}
func (noopMetrics) RecordError(string)                    {}

// fakeExchange serves a synthetic minute grid of bars and a 10s grid of
// trades. failAfter > 0 makes every fetch past that many pages fail with
// failErr until reset.
type fakeExchange struct {
	mu        sync.Mutex
	originMS  int64
	endMS     int64
	pages     int
	failAfter int
	failErr   error
}

func (f *fakeExchange) Name() string { return "binance" }

func (f *fakeExchange) page() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages++
	if f.failAfter > 0 && f.pages > f.failAfter {
		return f.failErr
	}
	return nil
}

func (f *fakeExchange) FetchOHLCV(_ context.Context, _ string, tf models.Timeframe, sinceMS int64, limit int) ([]models.OHLCVBar, error) {
	if err := f.page(); err != nil {
		return nil, err
	}
	tfMS, err := tf.Millis()
	if err != nil {
		return nil, err
	}
	start := sinceMS
	if rem := start % tfMS; rem != 0 {
		start += tfMS - rem
	}
	if start < f.originMS {
		start = f.originMS
	}
	var out []models.OHLCVBar
	for ts := start; ts < f.endMS && len(out) < limit; ts += tfMS {
		price := 100 + float64(ts%7)
		out = append(out, models.OHLCVBar{TS: ts, Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 1})
	}
	return out, nil
}

func (f *fakeExchange) FetchTrades(_ context.Context, _ string, sinceMS int64, limit int) ([]models.Trade, error) {
	if err := f.page(); err != nil {
		return nil, err
	}
	const stepMS = 10_000
	start := sinceMS
	if rem := start % stepMS; rem != 0 {
		start += stepMS - rem
	}
	if start < f.originMS {
		start = f.originMS
	}
	var out []models.Trade
	for ts := start; ts < f.endMS && len(out) < limit; ts += stepMS {
		out = append(out, models.Trade{
			TS:      ts,
			Price:   100 + float64(ts%3),
			Amount:  0.5,
			Side:    "buy",
			TradeID: fmt.Sprintf("%d", ts/stepMS),
		})
	}
	return out, nil
}

// throttlingExchange always answers with a rate-limit response.
type throttlingExchange struct {
	retryAfter time.Duration
}

func (t *throttlingExchange) Name() string { return "binance" }

func (t *throttlingExchange) FetchOHLCV(context.Context, string, models.Timeframe, int64, int) ([]models.OHLCVBar, error) {
	return nil, &drepo.ThrottledError{RetryAfter: t.retryAfter}
}

func (t *throttlingExchange) FetchTrades(context.Context, string, int64, int) ([]models.Trade, error) {
	return nil, &drepo.ThrottledError{RetryAfter: t.retryAfter}
}

var testNow = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	cfg.Collect.OHLCVDays = 1
	cfg.Collect.TradesDays = 1
	cfg.Collect.WithTrades = true
	cfg.Exchange.PageLimit = 500
	cfg.Retry.MaxAttempts = 2
	cfg.Retry.BaseBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = 2 * time.Millisecond
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func newTestCollector(t *testing.T, cfg *config.Config, ex drepo.Exchange) (*Collector, *models.Run) {
	t.Helper()
	m := run.NewManager(t.TempDir())
	r, err := m.Create("20260820T120000Z")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	man := run.NewManifest(r, "MarketPull", models.GitInfo{Commit: "abc123"}, nil)
	if err := run.SaveManifest(r, man); err != nil {
		t.Fatalf("save manifest: %v", err)
	}

	c := NewCollector(cfg, ex, repository.NewFileStore(), repository.NewCheckpointStore(), nil, noopMetrics{}, testLogger(t))
	c.now = func() time.Time { return testNow }
	return c, r
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		originMS: testNow.AddDate(0, 0, -2).UnixMilli(),
		endMS:    testNow.Add(10 * time.Minute).UnixMilli(),
	}
}

func TestCollectFullWindow(t *testing.T) {
	cfg := testConfig(t)
	ex := newFakeExchange()
	c, r := newTestCollector(t, cfg, ex)

	if err := c.Collect(context.Background(), r); err != nil {
		t.Fatalf("collect: %v", err)
	}

	store := repository.NewFileStore()
	bars, err := store.ReadBars(r, BarArtifactName("binance", cfg.Exchange.Symbol, cfg.Exchange.Timeframe))
	if err != nil {
		t.Fatalf("read bars: %v", err)
	}
	if len(bars) != 1440 {
		t.Fatalf("one day of 1m bars must be 1440 rows, got %d", len(bars))
	}
	seen := make(map[int64]bool, len(bars))
	prev := int64(-1)
	for _, b := range bars {
		if seen[b.TS] {
			t.Fatalf("duplicate bar ts %d", b.TS)
		}
		if b.TS <= prev {
			t.Fatalf("bars must be ascending: %d after %d", b.TS, prev)
		}
		seen[b.TS] = true
		prev = b.TS
	}

	trades, err := store.ReadTrades(r, TradeArtifactName("binance", cfg.Exchange.Symbol))
	if err != nil {
		t.Fatalf("read trades: %v", err)
	}
	if len(trades) != 8640 {
		t.Fatalf("one day of 10s trades must be 8640 rows, got %d", len(trades))
	}
	ids := make(map[string]bool, len(trades))
	for _, tr := range trades {
		if ids[tr.DedupKey()] {
			t.Fatalf("duplicate trade %s despite page overlap", tr.TradeID)
		}
		ids[tr.DedupKey()] = true
	}

	man, err := run.LoadManifest(r)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	dc := man.Parameters.DataCollection
	if dc == nil {
		t.Fatalf("collection parameters must be recorded")
	}
	if dc.Trades.Rows != 8640 || dc.Trades.Truncated {
		t.Fatalf("unexpected trade params: %+v", dc.Trades)
	}
	if len(man.Artifacts.Data) != 2 {
		t.Fatalf("expected 2 data artifacts, got %v", man.Artifacts.Data)
	}
	if len(man.Artifacts.Logs) != 1 {
		t.Fatalf("collect log must be registered, got %v", man.Artifacts.Logs)
	}
}

func TestCollectResumesWithoutDuplicates(t *testing.T) {
	cfg := testConfig(t)
	cfg.Collect.WithTrades = false
	ex := newFakeExchange()
	ex.failAfter = 2
	ex.failErr = errors.New("connection reset")
	c, r := newTestCollector(t, cfg, ex)

	err := c.Collect(context.Background(), r)
	var failed *models.CollectionFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected CollectionFailedError, got %v", err)
	}
	if !failed.Partial {
		t.Fatalf("pages were persisted, failure must be partial")
	}

	ckpt, err := repository.NewCheckpointStore().Load(r, models.StreamOHLCV)
	if err != nil || ckpt == nil {
		t.Fatalf("checkpoint must survive the failure: %v", err)
	}
	if ckpt.Rows == 0 || ckpt.Done {
		t.Fatalf("checkpoint must hold partial progress: %+v", ckpt)
	}

	ex.mu.Lock()
	ex.failAfter = 0
	ex.pages = 0
	ex.mu.Unlock()

	if err := c.Collect(context.Background(), r); err != nil {
		t.Fatalf("resumed collect: %v", err)
	}

	bars, err := repository.NewFileStore().ReadBars(r, BarArtifactName("binance", cfg.Exchange.Symbol, cfg.Exchange.Timeframe))
	if err != nil {
		t.Fatalf("read bars: %v", err)
	}
	if len(bars) != 1440 {
		t.Fatalf("resume must complete the window exactly, got %d rows", len(bars))
	}
	seen := make(map[int64]bool)
	for _, b := range bars {
		if seen[b.TS] {
			t.Fatalf("resume introduced duplicate ts %d", b.TS)
		}
		seen[b.TS] = true
	}
}

func TestCollectResumeKeepsPinnedWindow(t *testing.T) {
	cfg := testConfig(t)
	cfg.Collect.WithTrades = false
	ex := newFakeExchange()
	ex.failAfter = 2
	ex.failErr = errors.New("connection reset")
	c, r := newTestCollector(t, cfg, ex)

	if err := c.Collect(context.Background(), r); err == nil {
		t.Fatalf("expected the first collection to fail")
	}

	// A restart sees a later clock; the resume must still complete the
	// window pinned by the interrupted run, not a freshly computed one.
	ex.mu.Lock()
	ex.failAfter = 0
	ex.pages = 0
	ex.mu.Unlock()
	c.now = func() time.Time { return testNow.Add(10 * time.Minute) }

	if err := c.Collect(context.Background(), r); err != nil {
		t.Fatalf("resumed collect: %v", err)
	}

	bars, err := repository.NewFileStore().ReadBars(r, BarArtifactName("binance", cfg.Exchange.Symbol, cfg.Exchange.Timeframe))
	if err != nil {
		t.Fatalf("read bars: %v", err)
	}
	if len(bars) != 1440 {
		t.Fatalf("resume must complete the original window exactly, got %d rows", len(bars))
	}
	wantLast := testNow.UnixMilli() - 60_000
	if got := bars[len(bars)-1].TS; got != wantLast {
		t.Fatalf("window drifted on resume: last bar %d, want %d", got, wantLast)
	}

	man, err := run.LoadManifest(r)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if got := man.Parameters.DataCollection.OHLCVWindow.UntilUTC; got != isoSeconds(testNow.UnixMilli()) {
		t.Fatalf("recorded window must be the pinned one, got %s", got)
	}
}

func TestCollectRefusesSecondCollector(t *testing.T) {
	cfg := testConfig(t)
	cfg.Collect.WithTrades = false
	c, r := newTestCollector(t, cfg, newFakeExchange())

	unlock, err := run.AcquireLock(r)
	if err != nil {
		t.Fatalf("acquire lock: %v", err)
	}
	defer unlock()

	err = c.Collect(context.Background(), r)
	var conflict *models.RunIDConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected RunIDConflictError while the run is owned, got %v", err)
	}
	if conflict.RunID != r.ID || !conflict.InFlight {
		t.Fatalf("conflict must name the owned run: %+v", conflict)
	}
}

func TestCollectTradeCapTruncates(t *testing.T) {
	cfg := testConfig(t)
	cfg.Collect.MaxTrades = 500
	ex := newFakeExchange()
	c, r := newTestCollector(t, cfg, ex)

	if err := c.Collect(context.Background(), r); err != nil {
		t.Fatalf("collect: %v", err)
	}

	trades, err := repository.NewFileStore().ReadTrades(r, TradeArtifactName("binance", cfg.Exchange.Symbol))
	if err != nil {
		t.Fatalf("read trades: %v", err)
	}
	if len(trades) != 500 {
		t.Fatalf("cap must stop at exactly 500 rows, got %d", len(trades))
	}

	man, _ := run.LoadManifest(r)
	if !man.Parameters.DataCollection.Trades.Truncated {
		t.Fatalf("truncation must be recorded in parameters")
	}
	if man.Parameters.DataCollection.Trades.Rows != 500 {
		t.Fatalf("recorded rows must match artifact: %+v", man.Parameters.DataCollection.Trades)
	}
}

func TestCollectRateLimitExhaustion(t *testing.T) {
	cfg := testConfig(t)
	cfg.Collect.WithTrades = false
	c, r := newTestCollector(t, cfg, &throttlingExchange{})

	err := c.Collect(context.Background(), r)
	var limited *models.RateLimitExceededError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitExceededError, got %v", err)
	}
	if limited.Attempts != cfg.Retry.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", cfg.Retry.MaxAttempts, limited.Attempts)
	}

	var failed *models.CollectionFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("rate limit exhaustion must also read as a collection failure")
	}
	if !failed.Partial {
		t.Fatalf("rate-limited run must be reported partial (checkpoint intact)")
	}
}

func TestCollectSecondRunAfterPromoteIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Collect.WithTrades = false
	ex := newFakeExchange()
	c, r := newTestCollector(t, cfg, ex)

	if err := c.Collect(context.Background(), r); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if err := c.Collect(context.Background(), r); err != nil {
		t.Fatalf("re-collect on a done run must be a no-op: %v", err)
	}

	bars, err := repository.NewFileStore().ReadBars(r, BarArtifactName("binance", cfg.Exchange.Symbol, cfg.Exchange.Timeframe))
	if err != nil {
		t.Fatalf("read bars: %v", err)
	}
	if len(bars) != 1440 {
		t.Fatalf("re-collect must not change the artifact, got %d rows", len(bars))
	}
}
