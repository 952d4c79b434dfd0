package usecase

import (
	"fmt"
	"strconv"

	"MarketPull/internal/domain/models"
	"MarketPull/internal/repository"
	"MarketPull/internal/run"
	"MarketPull/pkg/config"
	"MarketPull/pkg/logger"
	"MarketPull/pkg/util"
)

const summaryTable = "tables/summary.csv"

// Summarizer writes the human-facing data summary table for a run and
// records its figures in the manifest.
type Summarizer struct {
	cfg   *config.Config
	store *repository.FileStore
	log   *logger.Logger
}

func NewSummarizer(cfg *config.Config, store *repository.FileStore, log *logger.Logger) *Summarizer {
	return &Summarizer{cfg: cfg, store: store, log: log}
}

// Build reads the promoted data artifacts and writes tables/summary.csv.
// Bar gaps are bars missing from the regular timeframe grid between the
// first and last collected bar.
func (s *Summarizer) Build(r *models.Run) error {
	man, err := run.LoadManifest(r)
	if err != nil {
		return err
	}
	dc := man.Parameters.DataCollection
	if dc == nil {
		return fmt.Errorf("run %s: summary requires a completed collection stage", r.ID)
	}

	tfMS, err := models.Timeframe(dc.Timeframe).Millis()
	if err != nil {
		return err
	}

	barName := BarArtifactName(dc.Exchange, dc.Symbol, dc.Timeframe)
	bars, err := s.store.ReadBars(r, barName)
	if err != nil {
		return fmt.Errorf("read %s: %w", barName, err)
	}

	var trades []models.Trade
	if dc.Trades.Enabled {
		tradeName := TradeArtifactName(dc.Exchange, dc.Symbol)
		trades, err = s.store.ReadTrades(r, tradeName)
		if err != nil {
			return fmt.Errorf("read %s: %w", tradeName, err)
		}
	}

	gaps := barGaps(bars, tfMS)
	rows := [][]string{
		{"symbol", dc.Symbol},
		{"timeframe", dc.Timeframe},
		{"bar_rows", strconv.Itoa(len(bars))},
		{"bar_gaps", strconv.FormatInt(gaps, 10)},
		{"trade_rows", strconv.Itoa(len(trades))},
		{"trades_truncated", strconv.FormatBool(dc.Trades.Truncated)},
	}
	if len(bars) > 0 {
		rows = append(rows,
			[]string{"bar_first_utc", util.ISOFromMillis(bars[0].TS)},
			[]string{"bar_last_utc", util.ISOFromMillis(bars[len(bars)-1].TS)})
	}

	art, err := s.store.WriteTable(r, summaryTable, []string{"metric", "value"}, rows)
	if err != nil {
		return err
	}
	run.RegisterArtifact(man, art)

	man.Parameters.DataSummary = &models.SummaryParams{
		GeneratedUTC: util.ISOUTCNow(),
		BarRows:      int64(len(bars)),
		BarGaps:      gaps,
		TradeRows:    int64(len(trades)),
	}
	if err := run.SaveManifest(r, man); err != nil {
		return err
	}

	s.log.Info("data summary written",
		logger.String("run_id", r.ID),
		logger.Int("bar_rows", len(bars)),
		logger.Int64("bar_gaps", gaps),
		logger.Int("trade_rows", len(trades)))
	return nil
}

// barGaps counts missing grid positions between the first and last bar.
// Bars are assumed ascending, which collection guarantees.
func barGaps(bars []models.OHLCVBar, tfMS int64) int64 {
	if len(bars) < 2 {
		return 0
	}
	span := bars[len(bars)-1].TS - bars[0].TS
	expected := span/tfMS + 1
	return expected - int64(len(bars))
}
