package usecase

import (
	"fmt"
	"time"

	"MarketPull/internal/domain/models"
	drepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/repository"
	"MarketPull/internal/run"
	"MarketPull/internal/service/proxy"
	"MarketPull/pkg/config"
	"MarketPull/pkg/logger"
	"MarketPull/pkg/util"
)

const proxyLogName = "proxies.log"

// ProxyBuilder derives the proxy series from a run's promoted artifacts.
// Derivation is re-runnable before finalize: outputs are replaced atomically
// and the recorded parameters describe the latest pass.
type ProxyBuilder struct {
	cfg     *config.Config
	store   *repository.FileStore
	metrics drepo.Metrics
	log     *logger.Logger
}

func NewProxyBuilder(cfg *config.Config, store *repository.FileStore, metrics drepo.Metrics, log *logger.Logger) *ProxyBuilder {
	return &ProxyBuilder{cfg: cfg, store: store, metrics: metrics, log: log}
}

// Build computes every configured proxy series and registers the outputs in
// the manifest. Bar proxies always run; trade proxies run only when the
// collection stage recorded a trades artifact.
func (p *ProxyBuilder) Build(r *models.Run) error {
	man, err := run.LoadManifest(r)
	if err != nil {
		return err
	}
	dc := man.Parameters.DataCollection
	if dc == nil {
		return fmt.Errorf("run %s: proxies require a completed collection stage", r.ID)
	}

	rl, err := logger.OpenRunLog(r.Dir, proxyLogName)
	if err != nil {
		return err
	}
	defer rl.Close()
	log := p.log.WithRunLog(rl)

	barName := BarArtifactName(dc.Exchange, dc.Symbol, dc.Timeframe)
	bars, err := p.store.ReadBars(r, barName)
	if err != nil {
		return fmt.Errorf("read %s: %w", barName, err)
	}

	binSeconds := int(p.cfg.Proxies.IntensityBin / time.Second)
	params := &models.ProxyParams{
		GeneratedUTC:        util.ISOUTCNow(),
		VolWindows:          p.cfg.Proxies.VolWindows,
		IntensityBinSeconds: binSeconds,
		Series:              []string{},
	}

	write := func(name, series string, pts []models.ProxyPoint) error {
		art, err := p.store.WriteProxySeries(r, name, pts)
		if err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		run.RegisterArtifact(man, art)
		params.Series = append(params.Series, series)
		log.Info("proxy series written",
			logger.String("series", series),
			logger.String("artifact", name),
			logger.Int("points", len(pts)))
		return nil
	}

	for _, w := range p.cfg.Proxies.VolWindows {
		name := fmt.Sprintf("proxy_rv_%d.csv", w)
		if err := write(name, fmt.Sprintf("rv_%d", w), proxy.RealizedVolatility(bars, w)); err != nil {
			return err
		}
	}
	if err := write("proxy_drawdown.csv", "drawdown", proxy.LogDrawdown(bars)); err != nil {
		return err
	}

	if dc.Trades.Enabled && dc.Trades.Window != nil {
		tradeName := TradeArtifactName(dc.Exchange, dc.Symbol)
		trades, err := p.store.ReadTrades(r, tradeName)
		if err != nil {
			return fmt.Errorf("read %s: %w", tradeName, err)
		}
		if err := write("proxy_interarrival.csv", "interarrival", proxy.InterArrivalSeconds(trades)); err != nil {
			return err
		}

		sinceMS, untilMS, err := windowMillis(dc.Trades.Window)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("proxy_intensity_%ds.csv", binSeconds)
		series := fmt.Sprintf("intensity_%ds", binSeconds)
		if err := write(name, series, proxy.IntensityLambda(trades, binSeconds, sinceMS, untilMS)); err != nil {
			return err
		}
	}

	man.Parameters.EDA = params
	run.RegisterArtifact(man, models.Artifact{Kind: models.ArtifactLog, RelativePath: rl.Name()})
	if err := run.SaveManifest(r, man); err != nil {
		return err
	}

	log.Info("proxy derivation complete", logger.Int("series", len(params.Series)))
	return nil
}

func windowMillis(w *models.WindowParams) (int64, int64, error) {
	since, ok := util.ParseTime(w.SinceUTC)
	if !ok {
		return 0, 0, fmt.Errorf("bad window since %q", w.SinceUTC)
	}
	until, ok := util.ParseTime(w.UntilUTC)
	if !ok {
		return 0, 0, fmt.Errorf("bad window until %q", w.UntilUTC)
	}
	return since.UnixMilli(), until.UnixMilli(), nil
}
