package main

import (
	"context"
	"fmt"
	"io"

	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/tibanode/tibanode-client/lib/logger"
	"github.com/tibanode/tibanode-client/session"
	"github.com/tibanode/tibanode-client/session/api"
	"github.com/tibanode/tibanode-client/session/state"
)

// App is the wired client: store, API client and session controller.
type App struct {
	Store      state.Store
	Client     *api.Client
	Controller *session.Controller
	// Metrics holds the session counters, printed on exit with --debug.
	Metrics *prometheus.Registry

	closers []io.Closer
}

// NewApp builds the client from the flags.
func NewApp(g *Globals) (*App, error) {
	store, closer, err := g.newStore()
	if err != nil {
		return nil, trace.Wrap(err)
	}

	client, err := api.NewClient(api.Config{
		URL:     g.APIURL,
		Timeout: g.HTTPTimeout,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	registry := prometheus.NewRegistry()
	ctrl, err := session.New(session.Config{
		Client:     client,
		Store:      store,
		Notifier:   consoleNotifier(g.Stderr),
		Registerer: registry,
		Log:        logger.Standard(),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	app := &App{Store: store, Client: client, Controller: ctrl, Metrics: registry}
	if closer != nil {
		app.closers = append(app.closers, closer)
	}
	return app, nil
}

// Close releases backend connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return trace.NewAggregate(errs...)
}

// dumpMetrics writes the gathered metrics in the Prometheus text format.
func dumpMetrics(w io.Writer, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return trace.Wrap(err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

func (g *Globals) newStore() (state.Store, io.Closer, error) {
	switch g.StorageType {
	case storageDisk:
		store, err := state.NewDiskStore(g.StorageDir)
		return store, nil, trace.Wrap(err)
	case storageFile:
		store, err := state.NewFileStore(g.StorageFile)
		return store, nil, trace.Wrap(err)
	case storageRedis:
		store, err := state.NewRedisStore(state.RedisConfig{
			Addr:     g.RedisAddr,
			Password: g.RedisPassword,
			DB:       g.RedisDB,
			Prefix:   g.RedisPrefix,
		})
		if err != nil {
			return nil, nil, trace.Wrap(err)
		}
		return store, store, nil
	case storageMemory:
		return state.NewMemoryStore(), nil, nil
	default:
		return nil, nil, trace.BadParameter("unsupported storage type %q", g.StorageType)
	}
}

// consoleNotifier prints notifications for the person at the terminal.
func consoleNotifier(w io.Writer) session.Notifier {
	return session.NotifierFunc(func(_ context.Context, n session.Notification) {
		fmt.Fprintf(w, "[%s] %s\n", n.Level, n.Message)
	})
}
