// Package cmd assembles the proxy dispatcher, the admin HTTP surface,
// and the background stats/metrics loops into a single runnable App,
// and exposes the cobra command that starts it.
package cmd

import (
	"context"

	"github.com/privaxy-core/privaxy/internal/metrics"
	"github.com/privaxy-core/privaxy/internal/stats"
	"github.com/privaxy-core/privaxy/internal/transport"
	transporthttp "github.com/privaxy-core/privaxy/internal/transport/http"
)

// App is the fully wired proxy: the CONNECT/MITM dispatcher, the admin
// HTTP server, and the background loops that age out stats and sample
// runtime metrics.
type App struct {
	dispatcher transport.Listener
	admin      *transporthttp.Server
	stats      *stats.Stats
	metrics    *metrics.Collector
}

// NewApp returns an App ready to Run.
func NewApp(dispatcher transport.Listener, admin *transporthttp.Server, st *stats.Stats, m *metrics.Collector) *App {
	return &App{
		dispatcher: dispatcher,
		admin:      admin,
		stats:      st,
		metrics:    m,
	}
}

// Run starts the background stats/metrics loops and blocks serving
// the proxy and admin listeners until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	go a.stats.Run(ctx)
	go a.metrics.Run(ctx)
	return transport.Serve(ctx, a.dispatcher, a.admin)
}
