// Package server hosts the stage runner that drives a run through its
// lifecycle: init, collect, proxies, summary, finalize, verify.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MarketPull/internal/domain/models"
	drepo "MarketPull/internal/domain/repository"
	"MarketPull/internal/run"
	"MarketPull/internal/usecase"
	"MarketPull/pkg/config"
	xhttp "MarketPull/pkg/http"
	"MarketPull/pkg/logger"
)

// App executes pipeline stages against run directories and owns the
// operational HTTP endpoint (health, Prometheus metrics) during collection.
type App struct {
	cfg       *config.Config
	log       *logger.Logger
	runs      *run.Manager
	collector *usecase.Collector
	proxies   *usecase.ProxyBuilder
	summary   *usecase.Summarizer
	exporter  drepo.Exporter
	ops       *xhttp.Server
}

// New creates the stage runner.
func New(
	cfg *config.Config,
	log *logger.Logger,
	runs *run.Manager,
	collector *usecase.Collector,
	proxies *usecase.ProxyBuilder,
	summary *usecase.Summarizer,
	exporter drepo.Exporter,
) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		runs:      runs,
		collector: collector,
		proxies:   proxies,
		summary:   summary,
		exporter:  exporter,
	}
}

// Execute runs one stage. runID selects the run; empty means the latest run
// under the configured root (init always allocates a new one).
func (a *App) Execute(stage, runID string) error {
	switch stage {
	case "init":
		r, err := a.initRun()
		if err != nil {
			return err
		}
		fmt.Println(r.ID)
		return nil

	case "collect":
		return a.collect(runID)

	case "proxies":
		r, err := a.resolveRun(runID)
		if err != nil {
			return err
		}
		return a.proxies.Build(r)

	case "summary":
		r, err := a.resolveRun(runID)
		if err != nil {
			return err
		}
		return a.summary.Build(r)

	case "finalize":
		r, err := a.resolveRun(runID)
		if err != nil {
			return err
		}
		man, err := a.runs.Finalize(r)
		if err != nil {
			return err
		}
		a.log.Info("run sealed",
			logger.String("run_id", r.ID),
			logger.Int("data_artifacts", len(man.Artifacts.Data)))
		return nil

	case "verify":
		r, err := a.resolveRun(runID)
		if err != nil {
			return err
		}
		if err := a.runs.Verify(r); err != nil {
			return err
		}
		a.log.Info("run verified", logger.String("run_id", r.ID))
		return nil

	case "all":
		r, err := a.initRun()
		if err != nil {
			return err
		}
		if err := a.collect(r.ID); err != nil {
			return err
		}
		if err := a.proxies.Build(r); err != nil {
			return err
		}
		if err := a.summary.Build(r); err != nil {
			return err
		}
		if _, err := a.runs.Finalize(r); err != nil {
			return err
		}
		a.log.Info("pipeline complete", logger.String("run_id", r.ID))
		return nil

	default:
		return fmt.Errorf("unknown stage %q (want init|collect|proxies|summary|finalize|verify|all)", stage)
	}
}

// Close releases long-lived resources (export backend connections).
func (a *App) Close() error {
	if a.exporter != nil {
		return a.exporter.Close()
	}
	return nil
}

func (a *App) initRun() (*models.Run, error) {
	r, err := a.runs.Create(run.NewRunID(time.Now()))
	if err != nil {
		return nil, err
	}
	repo := a.cfg.Repository
	git := run.GitSnapshot()
	if repo == "" {
		repo = "MarketPull"
	}
	man := run.NewManifest(r, repo, git, run.EnvironmentSnapshot())
	if err := run.SaveManifest(r, man); err != nil {
		return nil, err
	}
	a.log.Info("run initialized",
		logger.String("run_id", r.ID),
		logger.String("commit", git.Commit),
		logger.Bool("dirty", git.Dirty))
	return r, nil
}

// collect runs the collection stage under signal-aware cancellation, with
// the operational endpoint up for the duration.
func (a *App) collect(runID string) error {
	r, err := a.resolveRun(runID)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.Metrics.Enabled {
		a.ops = xhttp.NewServer(
			xhttp.WithPort(a.cfg.Server.Port),
			xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		)
		if err := a.ops.Start(); err != nil {
			return fmt.Errorf("ops server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := a.ops.Stop(shutdownCtx); err != nil {
				a.log.Warn("ops server stop", logger.Error(err))
			}
		}()
		a.log.Info("ops endpoint up", logger.Int("port", a.cfg.Server.Port))
	}

	return a.collector.Collect(ctx, r)
}

func (a *App) resolveRun(runID string) (*models.Run, error) {
	if runID == "" {
		return a.runs.Latest()
	}
	return a.runs.Open(runID)
}
