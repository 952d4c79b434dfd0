package models

import (
	"fmt"
	"strconv"
	"time"
)

// Timeframe is an exchange candle interval such as "1m" or "1h".
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
)

// Millis returns the timeframe width in epoch milliseconds.
func (tf Timeframe) Millis() (int64, error) {
	switch tf {
	case Timeframe1m:
		return 60_000, nil
	case Timeframe5m:
		return 300_000, nil
	case Timeframe15m:
		return 900_000, nil
	case Timeframe1h:
		return 3_600_000, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe: %s", tf)
	}
}

// OHLCVBar is one candle. TS is the bar open time in epoch milliseconds UTC.
type OHLCVBar struct {
	TS     int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// DtUTC returns the bar open time as an ISO-8601 UTC string.
func (b OHLCVBar) DtUTC() string {
	return time.UnixMilli(b.TS).UTC().Format(time.RFC3339Nano)
}

// Trade is one public trade. Amount, Side and TradeID may be absent
// depending on the exchange.
type Trade struct {
	TS      int64
	Price   float64
	Amount  float64
	Side    string
	TradeID string
}

// DtUTC returns the trade time as an ISO-8601 UTC string.
func (t Trade) DtUTC() string {
	return time.UnixMilli(t.TS).UTC().Format(time.RFC3339Nano)
}

// DedupKey identifies a trade across overlapping pages: the exchange trade id
// when present, otherwise the (ts, price, amount) tuple.
func (t Trade) DedupKey() string {
	if t.TradeID != "" {
		return "id:" + t.TradeID
	}
	return "t:" + strconv.FormatInt(t.TS, 10) +
		"|" + strconv.FormatFloat(t.Price, 'g', -1, 64) +
		"|" + strconv.FormatFloat(t.Amount, 'g', -1, 64)
}

// ProxyPoint is one sample of a derived proxy series. Missing marks warm-up
// positions whose value is undefined (e.g. rolling windows shorter than the
// declared width).
type ProxyPoint struct {
	TS      int64
	Value   float64
	Missing bool
}
