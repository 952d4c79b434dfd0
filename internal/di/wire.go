//go:build wireinject
// +build wireinject

package di

import (
	"MarketPull/pkg/config"
	"MarketPull/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the stage runner.
// Wire generates the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Exchange access
		ProvideRateLimiter,
		ProvideExchange,

		// Run directory persistence
		ProvideRunManager,
		ProvideFileStore,
		ProvideCheckpointStore,

		// Optional export backend
		ProvideExporter,

		// Pipeline stages
		ProvideCollector,
		ProvideProxyBuilder,
		ProvideSummarizer,

		ProvideApp,
	)
	return &server.App{}, nil
}
