package cli

import (
	"context"
	"fmt"

	"elastic-hive-sync/internal/config"
	"elastic-hive-sync/internal/journal"
	"elastic-hive-sync/internal/metrics"
	"elastic-hive-sync/internal/sink"
	"elastic-hive-sync/internal/source"
	"elastic-hive-sync/internal/store"
	"elastic-hive-sync/internal/syncer"
	"elastic-hive-sync/internal/transform"
)

// app owns the long-lived components built from one Config.
type app struct {
	store   *lazyStore
	journal journal.Journal
	syncer  *syncer.Syncer
}

func newApp(cfg config.Config, m *metrics.Metrics) (*app, error) {
	tr, err := transform.New(cfg.Elastic.URL, cfg.Tagging)
	if err != nil {
		return nil, err
	}
	st := &lazyStore{cfg: cfg.State}
	jr := journal.New(cfg.Journal)
	s := syncer.New(cfg.Sync, syncer.Deps{
		Source:      source.NewElastic(cfg.Elastic),
		Sink:        sink.NewTheHive(cfg.TheHive),
		Store:       st,
		Transformer: tr,
		Journal:     jr,
		Metrics:     m,
	})
	return &app{store: st, journal: jr, syncer: s}, nil
}

// openStore connects the state backend. Called after the probes so a probe
// run never touches state.
func (a *app) openStore(ctx context.Context) error {
	return a.store.open(ctx)
}

func (a *app) Close() {
	if a.store.Store != nil {
		a.store.Close()
	}
	a.journal.Close()
}

// lazyStore defers opening the backend until the probes have passed.
type lazyStore struct {
	store.Store
	cfg config.StateConfig
}

func (l *lazyStore) open(ctx context.Context) error {
	st, err := store.New(ctx, l.cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	l.Store = st
	return nil
}
