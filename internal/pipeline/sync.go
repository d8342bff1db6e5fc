// Package pipeline orchestrates the fetch-transform-load sync over every
// configured state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/permitwatch/permitwatch/internal/domain"
	"github.com/permitwatch/permitwatch/internal/observability"
)

// Loader writes transformed facilities to the persistence layer.
type Loader interface {
	UpsertFacilities(ctx context.Context, facilities []domain.Facility) error
}

// SnapshotWriter writes one CSV snapshot per state per run.
type SnapshotWriter interface {
	WriteSnapshot(state string, facilities []domain.Facility) (string, error)
}

// Publisher emits facility snapshots to an event sink.
type Publisher interface {
	PublishBatch(ctx context.Context, facilities []domain.Facility) error
}

// Options carries the optional pieces of a Sync. Snapshots and Publisher
// may be nil to disable those sinks; Clock defaults to the real clock.
type Options struct {
	States       []string
	Interval     time.Duration // 0 means run once and return
	StateDelay   time.Duration // politeness pause between states
	Snapshots    SnapshotWriter
	Publisher    Publisher
	Clock        clockwork.Clock
	StateSources map[string]domain.Source // per-state overrides of the default source
}

// Sync runs the per-state fetch-transform-load cycle.
type Sync struct {
	source  domain.Source
	loader  Loader
	logger  *slog.Logger
	metrics *observability.Metrics
	opts    Options
	ready   atomic.Bool
}

// New creates a Sync with the given default source, loader, and options.
func New(source domain.Source, loader Loader, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Sync {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Sync{
		source:  source,
		loader:  loader,
		logger:  logger,
		metrics: metrics,
		opts:    opts,
	}
}

// CheckReadiness returns nil once at least one state has synced successfully.
func (s *Sync) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("no state has completed a sync yet")
	}
	return nil
}

// Run executes sync runs until the context is cancelled. With a zero
// interval it performs a single run and returns; otherwise it runs
// immediately and then once per interval.
func (s *Sync) Run(ctx context.Context) error {
	if err := s.RunOnce(ctx); err != nil {
		if s.opts.Interval == 0 {
			return err
		}
		s.logger.Error("sync run failed", "error", err)
	}
	if s.opts.Interval == 0 {
		return nil
	}

	ticker := s.opts.Clock.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("sync run failed", "error", err)
			}
		}
	}
}

// RunOnce syncs every configured state. A failing state is logged and
// skipped; an error is returned only when every state fails, signalling a
// total upstream outage.
func (s *Sync) RunOnce(ctx context.Context) error {
	start := time.Now()
	s.logger.Info("sync run started", "states", s.opts.States)
	s.metrics.SyncRunning.Set(1)
	defer s.metrics.SyncRunning.Set(0)

	failures := 0
	for i, state := range s.opts.States {
		if i > 0 && !sleepWithContext(ctx, s.opts.StateDelay) {
			return ctx.Err()
		}

		stateStart := time.Now()
		if err := s.syncState(ctx, state); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("state sync failed", "state", state, "error", err)
			s.metrics.FetchErrors.WithLabelValues(state).Inc()
			failures++
			continue
		}
		s.metrics.StateSyncDuration.WithLabelValues(state).Observe(time.Since(stateStart).Seconds())
		s.ready.Store(true)
	}

	s.metrics.SyncDuration.Observe(time.Since(start).Seconds())
	s.logger.Info("sync run finished", "duration", time.Since(start), "failed_states", failures)

	if failures == len(s.opts.States) {
		return fmt.Errorf("all %d states failed to sync", failures)
	}
	return nil
}

// syncState runs one state's fetch-transform-load cycle.
func (s *Sync) syncState(ctx context.Context, state string) error {
	source := s.sourceFor(state)

	raws, err := source.FetchFacilities(ctx, state)
	if err != nil {
		return fmt.Errorf("fetch facilities: %w", err)
	}
	rows, err := source.FetchEnforcement(ctx, state)
	if err != nil {
		return fmt.Errorf("fetch enforcement: %w", err)
	}
	s.metrics.FacilitiesFetched.WithLabelValues(state).Add(float64(len(raws)))

	historyByID := make(map[string][]domain.RawEnforcementRow, len(raws))
	for _, row := range rows {
		historyByID[row.SourceID] = append(historyByID[row.SourceID], row)
	}

	facilities := make([]domain.Facility, 0, len(raws))
	var repeatViolators, penaltyGaps int
	for _, raw := range raws {
		f := domain.ParseFacility(raw, historyByID[raw.SourceID], state)
		if f.NPDESID == "" {
			s.logger.Warn("skipping facility without NPDES ID", "state", state, "name", f.Name)
			continue
		}
		if f.Flags.RepeatViolator {
			repeatViolators++
		}
		if f.Flags.PenaltyGap {
			penaltyGaps++
		}
		facilities = append(facilities, f)
	}

	if err := s.loader.UpsertFacilities(ctx, facilities); err != nil {
		return fmt.Errorf("upsert facilities: %w", err)
	}
	s.metrics.FacilitiesUpserted.Add(float64(len(facilities)))
	s.metrics.RepeatViolators.WithLabelValues(state).Set(float64(repeatViolators))
	s.metrics.PenaltyGaps.WithLabelValues(state).Set(float64(penaltyGaps))

	if s.opts.Snapshots != nil {
		path, err := s.opts.Snapshots.WriteSnapshot(state, facilities)
		if err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		s.metrics.SnapshotRows.Add(float64(len(facilities)))
		s.logger.Debug("snapshot written", "state", state, "path", path)
	}

	// The Kafka sink is best-effort: a publish failure must not undo an
	// otherwise successful state sync.
	if s.opts.Publisher != nil {
		if err := s.opts.Publisher.PublishBatch(ctx, facilities); err != nil {
			s.logger.Warn("publish snapshot batch failed", "state", state, "error", err)
		}
	}

	s.logger.Info("state synced",
		"state", state,
		"facilities", len(facilities),
		"repeat_violators", repeatViolators,
		"penalty_gaps", penaltyGaps,
	)
	return nil
}

func (s *Sync) sourceFor(state string) domain.Source {
	if src, ok := s.opts.StateSources[state]; ok {
		return src
	}
	return s.source
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
