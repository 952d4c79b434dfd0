package di

import (
	"context"
	"fmt"
	"time"

	drepo "MarketPull/internal/domain/repository"
	internalrepo "MarketPull/internal/repository"
	"MarketPull/internal/run"
	"MarketPull/internal/service/binance"
	"MarketPull/internal/service/ratelimit"
	"MarketPull/internal/usecase"
	pkgch "MarketPull/pkg/clickhouse"
	"MarketPull/pkg/config"
	pkgkafka "MarketPull/pkg/kafka"
	"MarketPull/pkg/logger"
	"MarketPull/pkg/metrics"
	"MarketPull/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() drepo.Metrics {
	return metrics.New()
}

// ProvideRateLimiter paces outbound exchange requests at the configured
// steady-state rate with an equal burst allowance.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	rps := cfg.Exchange.RequestsPerSecond
	return ratelimit.New(rps, rps)
}

// ProvideExchange creates the configured exchange adapter.
func ProvideExchange(cfg *config.Config, limiter *ratelimit.Limiter) (drepo.Exchange, error) {
	switch cfg.Exchange.Name {
	case "binance":
		return binance.New(cfg.Exchange.BaseURL, cfg.Exchange.RequestTimeout, limiter)
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", cfg.Exchange.Name)
	}
}

// ProvideExporter creates the optional export backend. The "none" backend
// returns nil; collection treats a nil exporter as export disabled.
func ProvideExporter(cfg *config.Config) (drepo.Exporter, error) {
	switch cfg.Export.Backend {
	case "none", "":
		return nil, nil

	case "kafka":
		producer, err := pkgkafka.NewProducer(
			pkgkafka.WithBrokers(cfg.Export.Kafka.Brokers),
			pkgkafka.WithCompression(cfg.Export.Kafka.Compression),
			pkgkafka.WithRequiredAcks(cfg.Export.Kafka.RequiredAcks),
			pkgkafka.WithTimeouts(cfg.Export.Kafka.WriteTimeout, cfg.Export.Kafka.ReadTimeout),
			pkgkafka.WithHashByKey(true),
		)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		return internalrepo.NewKafkaExporter(producer, cfg.Export.Kafka.Topic), nil

	case "clickhouse":
		client, err := pkgch.NewClient(
			pkgch.WithHost(cfg.Export.ClickHouse.Host),
			pkgch.WithPort(cfg.Export.ClickHouse.Port),
			pkgch.WithDatabase(cfg.Export.ClickHouse.Database),
			pkgch.WithCredentials(cfg.Export.ClickHouse.User, cfg.Export.ClickHouse.Password),
			pkgch.WithTimeouts(cfg.Export.ClickHouse.DialTimeout, cfg.Export.ClickHouse.ReadTimeout, cfg.Export.ClickHouse.WriteTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse client: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.InitSchema(ctx, internalrepo.ExportSchema(cfg.Export.ClickHouse.Database)); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}
		return internalrepo.NewClickHouseExporter(client.DB(), cfg.Export.ClickHouse.Database), nil

	default:
		return nil, fmt.Errorf("unsupported export backend: %s", cfg.Export.Backend)
	}
}

// ProvideRunManager creates the run manager over the configured runs root.
func ProvideRunManager(cfg *config.Config) *run.Manager {
	return run.NewManager(cfg.RunsDir)
}

// ProvideFileStore creates the artifact store.
func ProvideFileStore() *internalrepo.FileStore {
	return internalrepo.NewFileStore()
}

// ProvideCheckpointStore creates the checkpoint store.
func ProvideCheckpointStore() *internalrepo.CheckpointStore {
	return internalrepo.NewCheckpointStore()
}

// ProvideCollector creates the collection use case.
func ProvideCollector(
	cfg *config.Config,
	exchange drepo.Exchange,
	store *internalrepo.FileStore,
	ckpts *internalrepo.CheckpointStore,
	exporter drepo.Exporter,
	m drepo.Metrics,
	log *logger.Logger,
) *usecase.Collector {
	return usecase.NewCollector(cfg, exchange, store, ckpts, exporter, m, log)
}

// ProvideProxyBuilder creates the proxy derivation use case.
func ProvideProxyBuilder(cfg *config.Config, store *internalrepo.FileStore, m drepo.Metrics, log *logger.Logger) *usecase.ProxyBuilder {
	return usecase.NewProxyBuilder(cfg, store, m, log)
}

// ProvideSummarizer creates the data summary use case.
func ProvideSummarizer(cfg *config.Config, store *internalrepo.FileStore, log *logger.Logger) *usecase.Summarizer {
	return usecase.NewSummarizer(cfg, store, log)
}

// ProvideApp assembles the stage runner.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	runs *run.Manager,
	collector *usecase.Collector,
	proxies *usecase.ProxyBuilder,
	summary *usecase.Summarizer,
	exporter drepo.Exporter,
) *server.App {
	return server.New(cfg, log, runs, collector, proxies, summary, exporter)
}
