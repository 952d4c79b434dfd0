package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"MarketPull/internal/domain/models"
	drepo "MarketPull/internal/domain/repository"
	pkgkafka "MarketPull/pkg/kafka"
)

// ClickHouseExporter mirrors durably persisted rows into ClickHouse for
// ad-hoc inspection. Exports are outside the checksummed artifact set and
// never gate collection success.
type ClickHouseExporter struct {
	db         *sql.DB
	barTable   string
	tradeTable string
}

// NewClickHouseExporter creates a ClickHouse exporter over an open pool.
func NewClickHouseExporter(db *sql.DB, database string) drepo.Exporter {
	return &ClickHouseExporter{
		db:         db,
		barTable:   database + ".run_bars",
		tradeTable: database + ".run_trades",
	}
}

// ExportSchema returns the idempotent DDL for the export tables.
func ExportSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.run_bars (run_id String, symbol String, ts DateTime64(3), open Float64, high Float64, low Float64, close Float64, volume Float64) ENGINE=MergeTree ORDER BY (run_id, symbol, ts)", database),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.run_trades (run_id String, symbol String, ts DateTime64(3), price Float64, amount Float64, side String, trade_id String) ENGINE=MergeTree ORDER BY (run_id, symbol, ts)", database),
	}
}

const exportChunk = 2000

func (e *ClickHouseExporter) ExportBars(ctx context.Context, runID, symbol string, bars []models.OHLCVBar) error {
	for start := 0; start < len(bars); start += exportChunk {
		end := min(start+exportChunk, len(bars))
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*8)
		for _, b := range bars[start:end] {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, runID, symbol, time.UnixMilli(b.TS).UTC(), b.Open, b.High, b.Low, b.Close, b.Volume)
		}
		q := fmt.Sprintf("INSERT INTO %s (run_id, symbol, ts, open, high, low, close, volume) VALUES %s",
			e.barTable, strings.Join(values, ","))
		if _, err := e.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("export bars: %w", err)
		}
	}
	return nil
}

func (e *ClickHouseExporter) ExportTrades(ctx context.Context, runID, symbol string, trades []models.Trade) error {
	for start := 0; start < len(trades); start += exportChunk {
		end := min(start+exportChunk, len(trades))
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*7)
		for _, t := range trades[start:end] {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, runID, symbol, time.UnixMilli(t.TS).UTC(), t.Price, t.Amount, t.Side, t.TradeID)
		}
		q := fmt.Sprintf("INSERT INTO %s (run_id, symbol, ts, price, amount, side, trade_id) VALUES %s",
			e.tradeTable, strings.Join(values, ","))
		if _, err := e.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("export trades: %w", err)
		}
	}
	return nil
}

func (e *ClickHouseExporter) Close() error {
	return nil // pool is managed by pkg/clickhouse
}

// KafkaExporter publishes durably persisted rows to a topic, keyed by symbol
// so per-symbol ordering is preserved.
type KafkaExporter struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaExporter creates a Kafka exporter.
func NewKafkaExporter(producer *pkgkafka.Producer, topic string) drepo.Exporter {
	return &KafkaExporter{producer: producer, topic: topic}
}

func (e *KafkaExporter) ExportBars(ctx context.Context, runID, symbol string, bars []models.OHLCVBar) error {
	msgs := make([]pkgkafka.Message, len(bars))
	for i, b := range bars {
		msgs[i] = pkgkafka.Message{
			Key: []byte(symbol),
			Value: map[string]interface{}{
				"run_id": runID, "kind": "bar", "symbol": symbol,
				"ts": b.TS, "o": b.Open, "h": b.High, "l": b.Low, "c": b.Close, "v": b.Volume,
			},
		}
	}
	return e.producer.PublishBatch(ctx, e.topic, msgs)
}

func (e *KafkaExporter) ExportTrades(ctx context.Context, runID, symbol string, trades []models.Trade) error {
	msgs := make([]pkgkafka.Message, len(trades))
	for i, t := range trades {
		msgs[i] = pkgkafka.Message{
			Key: []byte(symbol),
			Value: map[string]interface{}{
				"run_id": runID, "kind": "trade", "symbol": symbol,
				"ts": t.TS, "p": t.Price, "q": t.Amount, "side": t.Side, "id": t.TradeID,
			},
		}
	}
	return e.producer.PublishBatch(ctx, e.topic, msgs)
}

func (e *KafkaExporter) Close() error {
	if e.producer != nil {
		return e.producer.Close()
	}
	return nil
}
