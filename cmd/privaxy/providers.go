package main

import (
	"context"

	"github.com/privaxy-core/privaxy/internal/adminapi"
	"github.com/privaxy-core/privaxy/internal/blocker"
	"github.com/privaxy-core/privaxy/internal/certcache"
	"github.com/privaxy-core/privaxy/internal/cmd"
	"github.com/privaxy-core/privaxy/internal/config"
	"github.com/privaxy-core/privaxy/internal/events"
	"github.com/privaxy-core/privaxy/internal/exclusions"
	"github.com/privaxy-core/privaxy/internal/metrics"
	"github.com/privaxy-core/privaxy/internal/pki"
	"github.com/privaxy-core/privaxy/internal/proxy"
	"github.com/privaxy-core/privaxy/internal/resources"
	"github.com/privaxy-core/privaxy/internal/stats"
	"github.com/privaxy-core/privaxy/internal/transport"
	transporthttp "github.com/privaxy-core/privaxy/internal/transport/http"
)

func provideCA(conf *config.Config) (*pki.CA, error) {
	return pki.ProvideCA(conf.CACertPath(), conf.CAKeyPath())
}

func provideCertCache(ca *pki.CA) *certcache.Cache {
	return certcache.New(ca)
}

func provideResourceTable() (*resources.Table, error) {
	return resources.LoadDefault()
}

func provideMetricsCollector() *metrics.Collector {
	return metrics.NewCollector()
}

// provideBlocker compiles the initial engine from conf's configured
// filter sources and applies the startup BlockingDisabled flag.
func provideBlocker(ctx context.Context, conf *config.Config, table *resources.Table, m *metrics.Collector) (*blocker.Blocker, error) {
	texts, err := cmd.LoadFilterSources(conf.FilterSources())
	if err != nil {
		return nil, err
	}

	b, err := blocker.Start(ctx, texts, table, m)
	if err != nil {
		return nil, err
	}

	if conf.BlockingDisabled() {
		if err := b.SetDisabled(ctx, true); err != nil {
			return nil, err
		}
	}

	return b, nil
}

func provideExclusions(conf *config.Config) *exclusions.Store {
	return exclusions.New(conf.ExcludedHosts()...)
}

func provideStats() *stats.Stats {
	return stats.New()
}

func provideEvents() *events.Broadcaster {
	return events.NewBroadcaster()
}

func provideDispatcher(conf *config.Config, cache *certcache.Cache, excl *exclusions.Store, b *blocker.Blocker, ev *events.Broadcaster, st *stats.Stats) transport.Listener {
	return proxy.New(conf.ProxyAddress(), cache, excl, b, ev, st)
}

func provideAdminAPI(st *stats.Stats, ev *events.Broadcaster, m *metrics.Collector, b *blocker.Blocker) *adminapi.API {
	return &adminapi.API{Stats: st, Events: ev, Metrics: m, Blocker: b}
}

func provideAdminServer(conf *config.Config, api *adminapi.API) (*transporthttp.Server, error) {
	return transporthttp.NewServer(
		transporthttp.WithAddress(conf.AdminAddress()),
		transporthttp.WithMount(api.Mount),
		transporthttp.WithAllowedOrigins(conf.AdminCORSOrigins()),
	)
}
