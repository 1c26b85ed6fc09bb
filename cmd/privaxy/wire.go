//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	"github.com/spf13/cobra"

	"github.com/privaxy-core/privaxy/internal/cmd"
	"github.com/privaxy-core/privaxy/internal/config"
)

// wireCmd builds the root command from compiled configuration.
func wireCmd() (*cobra.Command, func(), error) {
	panic(wire.Build(
		newCmd,
		config.ProviderSet,
	))
}

// wireApp builds the App a "run" invocation serves: the CA, the
// certificate cache, the compiled filter engine, the exclusion store,
// the proxy dispatcher, and the admin API, all bound to ctx.
func wireApp(ctx context.Context, conf *config.Config) (*cmd.App, func(), error) {
	panic(wire.Build(
		cmd.NewApp,
		provideCA,
		provideCertCache,
		provideResourceTable,
		provideMetricsCollector,
		provideBlocker,
		provideExclusions,
		provideStats,
		provideEvents,
		provideDispatcher,
		provideAdminAPI,
		provideAdminServer,
	))
}
