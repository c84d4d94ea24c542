package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	billingsync "github.com/goliatone/go-billing-sync"
	"github.com/goliatone/go-billing-sync/adapters/gocommand"
	"github.com/goliatone/go-billing-sync/adapters/otelmetrics"
	"github.com/goliatone/go-billing-sync/core"
	"github.com/goliatone/go-billing-sync/store/cache"
	redisstore "github.com/goliatone/go-billing-sync/store/redis"
	sqlstore "github.com/goliatone/go-billing-sync/store/sql"
	"github.com/goliatone/go-billing-sync/transport"
	"github.com/goliatone/go-command"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

// runtime owns the engine and everything opened to back it.
type runtime struct {
	logger        glog.Logger
	engine        *billingsync.Engine
	facade        *billingsync.Facade
	stores        *sqlstore.RepositoryFactory
	subscriptions gocommand.Subscriptions

	closers []func() error
}

func openRuntime(ctx context.Context, opts *rootOptions, logOut io.Writer) (*runtime, error) {
	logger := newLogger(logOut, opts.logLevel)
	rt := &runtime{logger: logger}
	engineOpts := []billingsync.Option{
		billingsync.WithLogger(logger),
		billingsync.WithLoggerProvider(logger),
		billingsync.WithConfigProvider(core.NewCfgxConfigProvider(core.YAMLFileLoader{Path: opts.configPath})),
		billingsync.WithOptionsResolver(core.GoOptionsResolver{}),
	}

	if strings.TrimSpace(opts.dbDSN) != "" {
		client, err := sqlstore.Connect(ctx, sqlstore.ConnectionConfig{
			Driver: opts.dbDriver,
			DSN:    opts.dbDSN,
			Debug:  opts.dbDebug,
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, client.Close)
		stores, err := storesFrom(client)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.stores = stores
		engineOpts = append(engineOpts,
			billingsync.WithStorage(stores.KVStore()),
			billingsync.WithDeadLetterSink(stores.DeadLetterStore()),
		)
	}

	if addr := strings.TrimSpace(opts.redisAddr); addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		rt.closers = append(rt.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("billingsync: redis ping %s: %w", addr, err)
		}
		ledger, err := redisstore.NewReplayLedger(client)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		engineOpts = append(engineOpts, billingsync.WithReplayLedger(ledger))
	}

	if apiURL := strings.TrimSpace(opts.billingAPIURL); apiURL != "" {
		api, err := transport.NewBillingAPIClient(apiURL, transport.WithAPIKey(opts.billingAPIKey))
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		engineOpts = append(engineOpts, billingsync.WithBillingAPI(api))
	}

	if opts.cacheTTL > 0 {
		accessCache, err := cache.NewDefaultFeatureAccessCache(opts.cacheTTL)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		engineOpts = append(engineOpts, billingsync.WithFeatureAccessCache(accessCache))
	}

	if opts.otel {
		meter := otel.Meter(otelmetrics.DefaultMeterName)
		sink, err := otelmetrics.NewSink(meter)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, sink.Close)
		engineOpts = append(engineOpts,
			billingsync.WithMetricsRecorder(otelmetrics.NewRecorder(meter)),
			billingsync.WithMetricsSink(sink),
		)
	}

	engine, err := billingsync.NewEngine(core.Config{}, engineOpts...)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	facade, err := billingsync.NewFacade(engine)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	subscriptions, err := gocommand.RegisterFacade(adapter, facade)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	if err := adapter.Initialize(); err != nil {
		subscriptions.Unsubscribe()
		_ = rt.Close()
		return nil, err
	}
	rt.engine = engine
	rt.facade = facade
	rt.subscriptions = subscriptions
	return rt, nil
}

func storesFrom(client *persistence.Client) (*sqlstore.RepositoryFactory, error) {
	stores, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return nil, fmt.Errorf("billingsync: build stores: %w", err)
	}
	return stores, nil
}

// Close releases resources in reverse order of acquisition.
func (r *runtime) Close() error {
	if r == nil {
		return nil
	}
	r.subscriptions.Unsubscribe()
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
