package repository

import (
	"context"
	"fmt"
	"time"

	"MarketPull/internal/domain/models"
)

// ThrottledError signals an exchange rate-limit response (HTTP 429/418).
// RetryAfter is zero when the exchange did not advertise a delay.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("throttled by exchange (retry after %s)", e.RetryAfter)
	}
	return "throttled by exchange"
}

// Exchange fetches public market data page by page. One implementation per
// capability set, validated at construction; call sites never introspect
// responses.
type Exchange interface {
	// Name returns the exchange identifier used in artifact names.
	Name() string

	// FetchOHLCV returns up to limit bars with open time >= sinceMS,
	// ascending. An empty page means the window is exhausted.
	FetchOHLCV(ctx context.Context, symbol string, tf models.Timeframe, sinceMS int64, limit int) ([]models.OHLCVBar, error)

	// FetchTrades returns up to limit trades with ts >= sinceMS, ascending.
	// Adjacent pages may overlap at the boundary; callers de-duplicate.
	FetchTrades(ctx context.Context, symbol string, sinceMS int64, limit int) ([]models.Trade, error)
}

// Exporter mirrors durably persisted rows to an external backend for ad-hoc
// inspection. Exports are best-effort and never part of the checksummed
// artifact set.
type Exporter interface {
	ExportBars(ctx context.Context, runID, symbol string, bars []models.OHLCVBar) error
	ExportTrades(ctx context.Context, runID, symbol string, trades []models.Trade) error
	Close() error
}

// Metrics records collection and pipeline observations.
type Metrics interface {
	RecordPage(stream string, rows int)
	RecordRowsPersisted(stream string, n int)
	RecordRetry(stream string)
	RecordRateLimitHit(stream string)
	RecordRequestDuration(stream string, seconds float64)
	RecordExport(backend string, rows int)
	RecordError(kind string)
}
