package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"MarketPull/internal/domain/models"
	drepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/service/ratelimit"
	xhttp "MarketPull/pkg/http"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Client implements a paginated Exchange over the Binance public REST API.
// Capabilities (symbol format, timeframe mapping) are validated at
// construction; call sites never introspect responses.
type Client struct {
	baseURL  string
	http     *xhttp.Client
	limiter  *ratelimit.Limiter
	validate *validator.Validate
}

// New creates a Binance market data client.
func New(baseURL string, requestTimeout time.Duration, limiter *ratelimit.Limiter) (*Client, error) {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	if limiter == nil {
		return nil, fmt.Errorf("binance: limiter is required")
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     xhttp.NewClient(xhttp.WithTimeout(requestTimeout)),
		limiter:  limiter,
		validate: validator.New(),
	}, nil
}

// Name returns the exchange identifier used in artifact names.
func (c *Client) Name() string { return "binance" }

// aggTrade is Binance's aggregated trade payload. Numeric fields arrive as
// strings to preserve precision.
type aggTrade struct {
	ID       int64  `json:"a" validate:"required,gt=0"`
	Price    string `json:"p" validate:"required,numeric"`
	Quantity string `json:"q" validate:"required,numeric"`
	Time     int64  `json:"T" validate:"required,gt=0"`
	IsMaker  bool   `json:"m"`
}

// FetchOHLCV returns up to limit bars with open time >= sinceMS, ascending.
func (c *Client) FetchOHLCV(ctx context.Context, symbol string, tf models.Timeframe, sinceMS int64, limit int) ([]models.OHLCVBar, error) {
	if _, err := tf.Millis(); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var raw [][]json.RawMessage
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL + "/api/v3/klines",
		QueryParams: map[string]string{
			"symbol":    nativeSymbol(symbol),
			"interval":  string(tf),
			"startTime": strconv.FormatInt(sinceMS, 10),
			"limit":     strconv.Itoa(limit),
		},
	}, &raw)
	if err != nil {
		return nil, classify(err)
	}

	bars := make([]models.OHLCVBar, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			return nil, fmt.Errorf("binance: short kline row (%d fields)", len(k))
		}
		bar, err := parseKline(k)
		if err != nil {
			return nil, fmt.Errorf("binance: parse kline: %w", err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// FetchTrades returns up to limit aggregated trades with ts >= sinceMS,
// ascending. Adjacent pages may overlap at the boundary.
func (c *Client) FetchTrades(ctx context.Context, symbol string, sinceMS int64, limit int) ([]models.Trade, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var raw []aggTrade
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL + "/api/v3/aggTrades",
		QueryParams: map[string]string{
			"symbol":    nativeSymbol(symbol),
			"startTime": strconv.FormatInt(sinceMS, 10),
			"limit":     strconv.Itoa(limit),
		},
	}, &raw)
	if err != nil {
		return nil, classify(err)
	}

	trades := make([]models.Trade, 0, len(raw))
	for _, t := range raw {
		if err := c.validate.Struct(&t); err != nil {
			return nil, fmt.Errorf("binance: trade validation: %w", err)
		}
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return nil, fmt.Errorf("binance: trade price: %w", err)
		}
		qty, err := decimal.NewFromString(t.Quantity)
		if err != nil {
			return nil, fmt.Errorf("binance: trade quantity: %w", err)
		}
		side := "buy"
		if t.IsMaker {
			side = "sell"
		}
		trades = append(trades, models.Trade{
			TS:      t.Time,
			Price:   price.InexactFloat64(),
			Amount:  qty.InexactFloat64(),
			Side:    side,
			TradeID: strconv.FormatInt(t.ID, 10),
		})
	}
	return trades, nil
}

// parseKline converts one Binance kline row. Layout: open time, open, high,
// low, close, volume, ... (remaining fields unused).
func parseKline(k []json.RawMessage) (models.OHLCVBar, error) {
	var bar models.OHLCVBar
	if err := json.Unmarshal(k[0], &bar.TS); err != nil {
		return bar, fmt.Errorf("open time: %w", err)
	}
	fields := []*float64{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume}
	for i, dst := range fields {
		var s string
		if err := json.Unmarshal(k[i+1], &s); err != nil {
			return bar, fmt.Errorf("field %d: %w", i+1, err)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return bar, fmt.Errorf("field %d: %w", i+1, err)
		}
		*dst = d.InexactFloat64()
	}
	return bar, nil
}

// classify maps HTTP status errors to the domain throttle signal. Binance
// uses 429 for rate limits and 418 for bans after ignored 429s.
func classify(err error) error {
	var se *xhttp.StatusError
	if errors.As(err, &se) && (se.StatusCode == 429 || se.StatusCode == 418) {
		var retryAfter time.Duration
		if secs, convErr := strconv.Atoi(se.RetryAfter); convErr == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
		return &drepo.ThrottledError{RetryAfter: retryAfter}
	}
	return err
}

// nativeSymbol converts "BTC/USDT" to Binance's "BTCUSDT".
func nativeSymbol(symbol string) string {
	return strings.ToUpper(strings.NewReplacer("/", "", "-", "").Replace(symbol))
}
