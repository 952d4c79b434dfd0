package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"MarketPull/internal/domain/models"
	drepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/repository"
	"MarketPull/internal/run"
	"MarketPull/pkg/config"
	"MarketPull/pkg/logger"
	"MarketPull/pkg/util"
)

const collectLogName = "collect_data.log"

// Collector drives the resumable collection of the OHLCV and trade streams
// into a run directory. Each stream owns disjoint files (stage, checkpoint,
// final artifact), so both run concurrently without coordination beyond the
// final join.
type Collector struct {
	cfg      *config.Config
	exchange drepo.Exchange
	store    *repository.FileStore
	ckpts    *repository.CheckpointStore
	exporter drepo.Exporter // nil when export backend is "none"
	metrics  drepo.Metrics
	log      *logger.Logger
	pager    *pager

	now func() time.Time
}

func NewCollector(
	cfg *config.Config,
	exchange drepo.Exchange,
	store *repository.FileStore,
	ckpts *repository.CheckpointStore,
	exporter drepo.Exporter,
	metrics drepo.Metrics,
	log *logger.Logger,
) *Collector {
	policy := RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseBackoff: cfg.Retry.BaseBackoff,
		MaxBackoff:  cfg.Retry.MaxBackoff,
	}
	return &Collector{
		cfg:      cfg,
		exchange: exchange,
		store:    store,
		ckpts:    ckpts,
		exporter: exporter,
		metrics:  metrics,
		log:      log,
		pager:    newPager(policy, metrics, log),
		now:      time.Now,
	}
}

// BarArtifactName is the canonical OHLCV artifact file name.
func BarArtifactName(exchange, symbol, timeframe string) string {
	return fmt.Sprintf("ohlcv_%s_%s_%s.csv", exchange, flatSymbol(symbol), timeframe)
}

// TradeArtifactName is the canonical trades artifact file name.
func TradeArtifactName(exchange, symbol string) string {
	return fmt.Sprintf("trades_%s_%s.csv", exchange, flatSymbol(symbol))
}

func flatSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

type streamResult struct {
	artifact  models.Artifact
	rows      int64
	truncated bool
	sinceMS   int64
	untilMS   int64
}

// Collect fetches both streams, promotes their artifacts, and records the
// collection parameters in the manifest. It is safe to call again after a
// failure or cancellation: completed pages are never re-fetched, and the
// staging files are truncated back to the last durable checkpoint.
func (c *Collector) Collect(ctx context.Context, r *models.Run) error {
	unlock, err := run.AcquireLock(r)
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()

	man, err := run.LoadManifest(r)
	if err != nil {
		return fmt.Errorf("run %s has no manifest (not initialized): %w", r.ID, err)
	}

	rl, err := logger.OpenRunLog(r.Dir, collectLogName)
	if err != nil {
		return err
	}
	defer rl.Close()
	log := c.log.WithRunLog(rl)

	tf := models.Timeframe(c.cfg.Exchange.Timeframe)
	tfMS, err := tf.Millis()
	if err != nil {
		return err
	}

	until := c.now().UTC().Truncate(time.Duration(tfMS) * time.Millisecond)
	untilMS := until.UnixMilli()
	barSinceMS := until.AddDate(0, 0, -c.cfg.Collect.OHLCVDays).UnixMilli()
	tradeSinceMS := until.AddDate(0, 0, -c.cfg.Collect.TradesDays).UnixMilli()

	log.Info("collection window",
		logger.String("symbol", c.cfg.Exchange.Symbol),
		logger.String("timeframe", string(tf)),
		logger.String("since_utc", isoSeconds(barSinceMS)),
		logger.String("until_utc", isoSeconds(untilMS)))

	var (
		wg       sync.WaitGroup
		barRes   streamResult
		tradeRes streamResult
		barErr   error
		tradeErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		barRes, barErr = c.collectBars(ctx, r, log, tf, tfMS, barSinceMS, untilMS)
	}()

	if c.cfg.Collect.WithTrades {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tradeRes, tradeErr = c.collectTrades(ctx, r, log, tradeSinceMS, untilMS)
		}()
	}
	wg.Wait()

	if barErr != nil {
		return c.asCollectionError(r.ID, models.StreamOHLCV, barRes.rows, barErr)
	}
	if tradeErr != nil {
		return c.asCollectionError(r.ID, models.StreamTrades, tradeRes.rows, tradeErr)
	}

	man.Parameters.DataCollection = &models.DataCollectionParams{
		Exchange:  c.exchange.Name(),
		Symbol:    c.cfg.Exchange.Symbol,
		Timeframe: string(tf),
		OHLCVWindow: models.WindowParams{
			SinceUTC: isoSeconds(barRes.sinceMS),
			UntilUTC: isoSeconds(barRes.untilMS),
			Days:     c.cfg.Collect.OHLCVDays,
		},
		Trades: models.TradesParams{
			Enabled:   c.cfg.Collect.WithTrades,
			MaxTrades: c.cfg.Collect.MaxTrades,
			Rows:      tradeRes.rows,
			Truncated: tradeRes.truncated,
		},
	}
	if c.cfg.Collect.WithTrades {
		man.Parameters.DataCollection.Trades.Window = &models.WindowParams{
			SinceUTC: isoSeconds(tradeRes.sinceMS),
			UntilUTC: isoSeconds(tradeRes.untilMS),
			Days:     c.cfg.Collect.TradesDays,
		}
	}

	run.RegisterArtifact(man, barRes.artifact)
	if c.cfg.Collect.WithTrades {
		run.RegisterArtifact(man, tradeRes.artifact)
	}
	run.RegisterArtifact(man, models.Artifact{Kind: models.ArtifactLog, RelativePath: rl.Name()})

	if err := run.SaveManifest(r, man); err != nil {
		return err
	}

	log.Info("collection complete",
		logger.Int64("bar_rows", barRes.rows),
		logger.Int64("trade_rows", tradeRes.rows),
		logger.Bool("trades_truncated", tradeRes.truncated))
	return nil
}

func (c *Collector) collectBars(
	ctx context.Context,
	r *models.Run,
	log *logger.Logger,
	tf models.Timeframe,
	tfMS, sinceMS, untilMS int64,
) (streamResult, error) {
	res := streamResult{sinceMS: sinceMS, untilMS: untilMS}
	name := BarArtifactName(c.exchange.Name(), c.cfg.Exchange.Symbol, string(tf))

	ckpt, err := c.ckpts.Load(r, models.StreamOHLCV)
	if err != nil {
		return res, err
	}

	cursor := sinceMS
	var stagedBytes int64
	seen := make(map[int64]bool)
	if ckpt != nil {
		// The window was pinned when collection first started; a resume
		// completes that window, not one recomputed from the current clock.
		if ckpt.UntilMS > 0 {
			res.sinceMS = ckpt.SinceMS
			res.untilMS = ckpt.UntilMS
		}
		cursor = ckpt.Cursor
		res.rows = ckpt.Rows
		stagedBytes = ckpt.StagedBytes
		if ckpt.Done {
			return c.finishBars(r, log, name, res, ckpt)
		}
		if err := c.store.TruncateStage(r, name, ckpt.StagedBytes); err != nil {
			return res, err
		}
		staged, err := c.store.ReadStagedBars(r, name)
		if err != nil {
			return res, err
		}
		for _, b := range staged {
			seen[b.TS] = true
		}
		log.Info("resuming bar collection",
			logger.Int64("cursor", cursor),
			logger.Int64("rows", res.rows))
	}

	for cursor < res.untilMS {
		var page []models.OHLCVBar
		err := c.pager.FetchPage(ctx, models.StreamOHLCV, func(ctx context.Context) error {
			var ferr error
			page, ferr = c.exchange.FetchOHLCV(ctx, c.cfg.Exchange.Symbol, tf, cursor, c.cfg.Exchange.PageLimit)
			return ferr
		})
		if err != nil {
			return res, err
		}
		if len(page) == 0 {
			break
		}
		c.metrics.RecordPage(models.StreamOHLCV, len(page))

		fresh := make([]models.OHLCVBar, 0, len(page))
		for _, b := range page {
			if b.TS >= res.untilMS || seen[b.TS] {
				continue
			}
			seen[b.TS] = true
			fresh = append(fresh, b)
		}

		next := page[len(page)-1].TS + tfMS
		if next <= cursor {
			// Exchange made no forward progress; a stuck cursor would
			// refetch the same page forever.
			break
		}
		cursor = next

		if len(fresh) > 0 {
			stagedBytes, err = c.store.StageBars(r, name, fresh)
			if err != nil {
				return res, err
			}
			res.rows += int64(len(fresh))
			c.metrics.RecordRowsPersisted(models.StreamOHLCV, len(fresh))
		}
		if err := c.saveCheckpoint(r, models.StreamOHLCV, res, cursor, stagedBytes, false); err != nil {
			return res, err
		}
		if len(fresh) > 0 {
			c.exportBars(ctx, r.ID, fresh)
		}
	}

	done := &models.Checkpoint{
		Stream:      models.StreamOHLCV,
		Cursor:      cursor,
		SinceMS:     res.sinceMS,
		UntilMS:     res.untilMS,
		Rows:        res.rows,
		StagedBytes: -1,
		Done:        true,
		UpdatedUTC:  util.ISOUTCNow(),
	}
	return c.finishBars(r, log, name, res, done)
}

// finishBars marks the stream done and promotes the staging file. Promotion
// after the done checkpoint keeps resume correct if the process dies between
// the two steps.
func (c *Collector) finishBars(r *models.Run, log *logger.Logger, name string, res streamResult, ckpt *models.Checkpoint) (streamResult, error) {
	ckpt.Done = true
	if err := c.ckpts.Save(r, ckpt); err != nil {
		return res, err
	}
	art, err := c.store.Promote(r, name)
	if err == nil {
		res.artifact = art
		log.Info("bar artifact promoted",
			logger.String("artifact", art.RelativePath),
			logger.Int64("rows", res.rows))
		return res, nil
	}
	// Already promoted by a previous attempt.
	if existing, statErr := c.store.StatArtifact(r, name); statErr == nil {
		res.artifact = existing
		return res, nil
	}
	return res, err
}

func (c *Collector) collectTrades(
	ctx context.Context,
	r *models.Run,
	log *logger.Logger,
	sinceMS, untilMS int64,
) (streamResult, error) {
	res := streamResult{sinceMS: sinceMS, untilMS: untilMS}
	name := TradeArtifactName(c.exchange.Name(), c.cfg.Exchange.Symbol)

	ckpt, err := c.ckpts.Load(r, models.StreamTrades)
	if err != nil {
		return res, err
	}

	cursor := sinceMS
	var stagedBytes int64
	seen := make(map[string]bool)
	if ckpt != nil {
		if ckpt.UntilMS > 0 {
			res.sinceMS = ckpt.SinceMS
			res.untilMS = ckpt.UntilMS
		}
		cursor = ckpt.Cursor
		res.rows = ckpt.Rows
		res.truncated = ckpt.Truncated
		stagedBytes = ckpt.StagedBytes
		if ckpt.Done {
			return c.finishTrades(r, log, name, res, ckpt)
		}
		if err := c.store.TruncateStage(r, name, ckpt.StagedBytes); err != nil {
			return res, err
		}
		staged, err := c.store.ReadStagedTrades(r, name)
		if err != nil {
			return res, err
		}
		for _, t := range staged {
			seen[t.DedupKey()] = true
		}
		log.Info("resuming trade collection",
			logger.Int64("cursor", cursor),
			logger.Int64("rows", res.rows))
	}

	for cursor < res.untilMS && !res.truncated {
		var page []models.Trade
		err := c.pager.FetchPage(ctx, models.StreamTrades, func(ctx context.Context) error {
			var ferr error
			page, ferr = c.exchange.FetchTrades(ctx, c.cfg.Exchange.Symbol, cursor, c.cfg.Exchange.PageLimit)
			return ferr
		})
		if err != nil {
			return res, err
		}
		if len(page) == 0 {
			break
		}
		c.metrics.RecordPage(models.StreamTrades, len(page))

		fresh := make([]models.Trade, 0, len(page))
		for _, t := range page {
			if t.TS >= res.untilMS || seen[t.DedupKey()] {
				continue
			}
			if res.rows+int64(len(fresh)) >= c.cfg.Collect.MaxTrades {
				res.truncated = true
				break
			}
			seen[t.DedupKey()] = true
			fresh = append(fresh, t)
		}

		// Pages overlap at the boundary; dedup absorbs the repeats. Bump
		// the cursor when the page brought nothing new so an all-duplicate
		// page cannot stall the stream.
		next := page[len(page)-1].TS
		if next <= cursor {
			next = cursor + 1
		}
		cursor = next

		if len(fresh) > 0 {
			stagedBytes, err = c.store.StageTrades(r, name, fresh)
			if err != nil {
				return res, err
			}
			res.rows += int64(len(fresh))
			c.metrics.RecordRowsPersisted(models.StreamTrades, len(fresh))
		}
		if err := c.saveCheckpoint(r, models.StreamTrades, res, cursor, stagedBytes, false); err != nil {
			return res, err
		}
		if len(fresh) > 0 {
			c.exportTrades(ctx, r.ID, fresh)
		}
		if res.truncated {
			log.Warn("trade cap reached, truncating stream",
				logger.Int64("max_trades", c.cfg.Collect.MaxTrades),
				logger.Int64("rows", res.rows))
		}
	}

	done := &models.Checkpoint{
		Stream:      models.StreamTrades,
		Cursor:      cursor,
		SinceMS:     res.sinceMS,
		UntilMS:     res.untilMS,
		Rows:        res.rows,
		StagedBytes: -1,
		Truncated:   res.truncated,
		Done:        true,
		UpdatedUTC:  util.ISOUTCNow(),
	}
	return c.finishTrades(r, log, name, res, done)
}

func (c *Collector) finishTrades(r *models.Run, log *logger.Logger, name string, res streamResult, ckpt *models.Checkpoint) (streamResult, error) {
	ckpt.Done = true
	if err := c.ckpts.Save(r, ckpt); err != nil {
		return res, err
	}
	art, err := c.store.Promote(r, name)
	if err == nil {
		res.artifact = art
		log.Info("trade artifact promoted",
			logger.String("artifact", art.RelativePath),
			logger.Int64("rows", res.rows),
			logger.Bool("truncated", res.truncated))
		return res, nil
	}
	if existing, statErr := c.store.StatArtifact(r, name); statErr == nil {
		res.artifact = existing
		return res, nil
	}
	return res, err
}

func (c *Collector) saveCheckpoint(r *models.Run, stream string, res streamResult, cursor, stagedBytes int64, done bool) error {
	return c.ckpts.Save(r, &models.Checkpoint{
		Stream:      stream,
		Cursor:      cursor,
		SinceMS:     res.sinceMS,
		UntilMS:     res.untilMS,
		Rows:        res.rows,
		StagedBytes: stagedBytes,
		Truncated:   res.truncated,
		Done:        done,
		UpdatedUTC:  util.ISOUTCNow(),
	})
}

// exportBars mirrors a persisted page to the configured backend. Export
// failures are observed, never fatal: the run directory stays authoritative.
func (c *Collector) exportBars(ctx context.Context, runID string, bars []models.OHLCVBar) {
	if c.exporter == nil {
		return
	}
	if err := c.exporter.ExportBars(ctx, runID, c.cfg.Exchange.Symbol, bars); err != nil {
		c.metrics.RecordError("export")
		c.log.Warn("bar export failed", logger.Error(err))
		return
	}
	c.metrics.RecordExport(c.cfg.Export.Backend, len(bars))
}

func (c *Collector) exportTrades(ctx context.Context, runID string, trades []models.Trade) {
	if c.exporter == nil {
		return
	}
	if err := c.exporter.ExportTrades(ctx, runID, c.cfg.Exchange.Symbol, trades); err != nil {
		c.metrics.RecordError("export")
		c.log.Warn("trade export failed", logger.Error(err))
		return
	}
	c.metrics.RecordExport(c.cfg.Export.Backend, len(trades))
}

// asCollectionError maps low-level failures onto the collection error
// taxonomy. A throttle-exhausted stream is a rate-limit error that also
// reads as a partial collection failure via errors.As.
func (c *Collector) asCollectionError(runID, stream string, rows int64, err error) error {
	var ex *exhaustedError
	if errors.As(err, &ex) && ex.Throttled {
		c.metrics.RecordError("rate_limit_exceeded")
		return models.NewRateLimitExceeded(runID, stream, ex.Attempts, ex.Cause)
	}
	var already *models.CollectionFailedError
	if errors.As(err, &already) {
		return err
	}
	c.metrics.RecordError("collection_failed")
	return &models.CollectionFailedError{RunID: runID, Stream: stream, Partial: rows > 0, Err: err}
}

func isoSeconds(ms int64) string {
	return util.FromMillis(ms).Format("2006-01-02T15:04:05Z")
}

