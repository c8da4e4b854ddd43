// Package syncer runs the fetch, forward and persist loop between
// Elasticsearch and TheHive.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"elastic-hive-sync/internal/config"
	"elastic-hive-sync/internal/fingerprint"
	"elastic-hive-sync/internal/journal"
	"elastic-hive-sync/internal/metrics"
	"elastic-hive-sync/internal/model"
	"elastic-hive-sync/internal/sink"
	"elastic-hive-sync/internal/source"
	"elastic-hive-sync/internal/store"
	"elastic-hive-sync/internal/transform"
	"elastic-hive-sync/internal/util"
)

// Deps are the collaborators of a Syncer. Journal and Metrics are optional.
type Deps struct {
	Source      source.Source
	Sink        sink.Sink
	Store       store.Store
	Transformer *transform.Transformer
	Journal     journal.Journal
	Metrics     *metrics.Metrics
}

// Failure is one alert that could not be delivered this cycle.
type Failure struct {
	ID     string
	Kind   sink.Kind
	Reason string
}

// CycleSummary reports what one cycle did.
type CycleSummary struct {
	ID         string
	Fetched    int
	New        int
	Sent       int
	Duplicates int
	Errors     int
	Failures   []Failure
	FetchErr   error
	SaveErr    error
	Persisted  bool
	Panicked   bool
	Duration   time.Duration
}

// Result is the metrics label for the cycle.
func (c CycleSummary) Result() string {
	switch {
	case c.Panicked:
		return "panic"
	case c.FetchErr != nil:
		return "fetch_error"
	case c.Errors > 0 || c.SaveErr != nil:
		return "partial"
	default:
		return "ok"
	}
}

type Syncer struct {
	cfg     config.SyncConfig
	src     source.Source
	snk     sink.Sink
	st      store.Store
	tr      *transform.Transformer
	journal journal.Journal
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	processed *store.ProcessedSet
	// dirty is set when processed has members the store has not seen yet,
	// including after a failed save.
	dirty bool
}

func New(cfg config.SyncConfig, d Deps) *Syncer {
	s := &Syncer{
		cfg:     cfg,
		src:     d.Source,
		snk:     d.Sink,
		st:      d.Store,
		tr:      d.Transformer,
		journal: d.Journal,
		metrics: d.Metrics,
		logger:  slog.Default().With("component", "syncer"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	if s.journal == nil {
		s.journal = journal.Nop{}
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	return s
}

// Probe checks both endpoints concurrently. Either failing is fatal.
func (s *Syncer) Probe(ctx context.Context) error {
	s.logger.Info("testing connections", "source", s.src.Name(), "sink", s.snk.Name())
	var g errgroup.Group
	g.Go(func() error {
		if err := s.src.TestConnection(ctx); err != nil {
			s.logger.Error("source unreachable", "source", s.src.Name(), "error", err)
			return fmt.Errorf("%s: %w", s.src.Name(), err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.snk.TestConnection(ctx); err != nil {
			s.logger.Error("sink unreachable", "sink", s.snk.Name(), "error", err)
			return fmt.Errorf("%s: %w", s.snk.Name(), err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%w: %w", ErrStartupUnreachable, err)
	}
	s.logger.Info("all connections ok")
	return nil
}

// Start loads the processed set from the store.
func (s *Syncer) Start(ctx context.Context) {
	s.processed = s.st.Load(ctx)
	s.dirty = false
	s.metrics.SetProcessed(s.processed.Len())
	s.logger.Info("state ready", "store", s.st.Name(), "processed", s.processed.Len())
}

// Processed exposes the in-memory set, mainly for tests and the CLI.
func (s *Syncer) Processed() *store.ProcessedSet { return s.processed }

// RunCycle fetches, forwards and persists once. It never panics and never
// returns an error; everything is reported in the summary.
func (s *Syncer) RunCycle(ctx context.Context) (sum CycleSummary) {
	start := time.Now()
	sum.ID = s.newID()
	logger := s.logger.With("cycle", sum.ID)

	defer func() {
		if r := recover(); r != nil {
			sum.Panicked = true
			logger.Error("cycle panicked", "panic", r, "stack", string(debug.Stack()))
		}
		sum.Duration = time.Since(start)
		s.metrics.ObserveCycle(sum.Result(), sum.Duration, s.now())
	}()

	if s.processed == nil {
		s.Start(ctx)
	}

	alerts, err := s.src.FetchRecent(ctx, s.cfg.Lookback, s.cfg.BatchSize)
	if err != nil {
		sum.FetchErr = err
		logger.Warn("fetch failed, retrying next cycle", "error", err)
		s.persist(ctx, logger, &sum)
		return sum
	}
	sum.Fetched = len(alerts)
	s.metrics.AddFetched(len(alerts))

	for _, a := range alerts {
		if ctx.Err() != nil {
			logger.Info("cancelled, leaving remaining alerts for the next run")
			break
		}
		if s.processed.Contains(a.ID) {
			continue
		}
		sum.New++
		s.forward(ctx, logger, a, &sum)
	}

	if sum.New == 0 {
		logger.Info("no new alerts detected", "fetched", sum.Fetched)
	}
	s.persist(ctx, logger, &sum)

	if sum.New > 0 {
		logger.Info("cycle complete",
			"new", sum.New,
			"sent", sum.Sent,
			"duplicate", sum.Duplicates,
			"errors", sum.Errors,
			"duration", time.Since(start).Truncate(time.Millisecond),
		)
	}
	if sum.Errors > 0 {
		logger.Warn("some alerts were not delivered and will be retried", "errors", sum.Errors)
	}
	return sum
}

// forward submits one unseen alert. The submission is detached from ctx so
// an alert in flight at shutdown still gets a definite outcome.
func (s *Syncer) forward(ctx context.Context, logger *slog.Logger, a model.SourceAlert, sum *CycleSummary) {
	fp := fingerprint.ForAlert(a)
	logger.Info("new alert",
		"id", a.ID,
		"fingerprint", fp,
		"rule", util.Truncate(a.Rule.Name, 60),
	)

	out := s.snk.Submit(context.WithoutCancel(ctx), s.tr.ToSinkAlert(a, fp, s.now()))
	s.metrics.IncForwarded(out.Kind.String())

	if !out.Forwarded() {
		sum.Errors++
		sum.Failures = append(sum.Failures, Failure{ID: a.ID, Kind: out.Kind, Reason: out.Reason})
		logger.Error("alert not delivered",
			"id", a.ID,
			"outcome", out.Kind.String(),
			"status", out.StatusCode,
			"reason", out.Reason,
		)
		return
	}
	if out.Kind == sink.Duplicate {
		sum.Duplicates++
		logger.Info("alert already in sink", "id", a.ID)
	} else {
		sum.Sent++
		logger.Info("alert sent", "id", a.ID)
	}

	if s.processed.Add(a.ID) {
		s.dirty = true
	}
	rec := journal.Record{
		SourceID:    a.ID,
		SourceRef:   transform.SourceRef(a.ID, fp),
		Outcome:     out.Kind.String(),
		Rule:        a.Rule.Name,
		CycleID:     sum.ID,
		ForwardedAt: s.now().UTC(),
	}
	if err := s.journal.Publish(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("journal publish failed", "id", a.ID, "error", err)
	}
}

func (s *Syncer) persist(ctx context.Context, logger *slog.Logger, sum *CycleSummary) {
	if !s.dirty {
		return
	}
	if err := s.st.Save(context.WithoutCancel(ctx), s.processed); err != nil {
		sum.SaveErr = fmt.Errorf("%w: %w", ErrStatePersist, err)
		logger.Error("saving state failed, retrying next cycle", "store", s.st.Name(), "error", err)
		return
	}
	s.dirty = false
	sum.Persisted = true
	s.metrics.SetProcessed(s.processed.Len())
	logger.Debug("state saved", "store", s.st.Name(), "processed", s.processed.Len())
}

// Run loops until ctx is cancelled, waiting cfg.Interval between cycles.
// Cancellation is a clean stop and returns nil.
func (s *Syncer) Run(ctx context.Context) error {
	if s.processed == nil {
		s.Start(ctx)
	}
	s.logger.Info("sync loop started",
		"interval", s.cfg.Interval,
		"lookback", s.cfg.Lookback,
		"batch_size", s.cfg.BatchSize,
	)
	for {
		s.RunCycle(ctx)

		t := time.NewTimer(s.cfg.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			s.shutdown(ctx)
			return nil
		case <-t.C:
		}
	}
}

func (s *Syncer) shutdown(ctx context.Context) {
	var sum CycleSummary
	s.persist(ctx, s.logger, &sum)
	s.logger.Info("sync loop stopped", "reason", context.Cause(ctx), "processed", s.processed.Len())
}
