package pipeline_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permitwatch/permitwatch/internal/domain"
	"github.com/permitwatch/permitwatch/internal/observability"
	"github.com/permitwatch/permitwatch/internal/pipeline"
)

// --- mocks ---

type mockSource struct {
	facilities  map[string][]domain.RawFacilityRecord
	enforcement map[string][]domain.RawEnforcementRow
	failStates  map[string]bool
}

func (m *mockSource) FetchFacilities(_ context.Context, state string) ([]domain.RawFacilityRecord, error) {
	if m.failStates[state] {
		return nil, errors.New("upstream down")
	}
	return m.facilities[state], nil
}

func (m *mockSource) FetchEnforcement(_ context.Context, state string) ([]domain.RawEnforcementRow, error) {
	if m.failStates[state] {
		return nil, errors.New("upstream down")
	}
	return m.enforcement[state], nil
}

type mockLoader struct {
	mu       sync.Mutex
	batches  [][]domain.Facility
	err      error
}

func (m *mockLoader) UpsertFacilities(_ context.Context, facilities []domain.Facility) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, facilities)
	return nil
}

func (m *mockLoader) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func (m *mockLoader) all() []domain.Facility {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Facility
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

type mockSnapshots struct {
	states []string
	err    error
}

func (m *mockSnapshots) WriteSnapshot(state string, _ []domain.Facility) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.states = append(m.states, state)
	return "/tmp/ECHO_" + state + ".csv", nil
}

type mockPublisher struct {
	published []domain.Facility
	err       error
}

func (m *mockPublisher) PublishBatch(_ context.Context, facilities []domain.Facility) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, facilities...)
	return nil
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

func txSource() *mockSource {
	return &mockSource{
		facilities: map[string][]domain.RawFacilityRecord{
			"TX": {
				{SourceID: "TX0001234", Name: "Gulf Coast Treatment Plant", State: "TX", QtrsWithNC: "16", FormalEaCnt: "3", TotalPenalties: "0"},
				{SourceID: "TX0005678", Name: "Brazos Outfall", State: "TX", QtrsWithNC: "2"},
				{Name: "No Permit Facility"},
			},
		},
		enforcement: map[string][]domain.RawEnforcementRow{},
	}
}

// --- tests ---

func TestRunOnce_HappyPath(t *testing.T) {
	syncTime := time.Date(2024, 8, 15, 6, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(syncTime))
	defer domain.SetClock(nil)

	src := txSource()
	ldr := &mockLoader{}
	snaps := &mockSnapshots{}
	pub := &mockPublisher{}

	s := pipeline.New(src, ldr, slog.Default(), newTestMetrics(), pipeline.Options{
		States:    []string{"TX"},
		Snapshots: snaps,
		Publisher: pub,
	})

	require.Error(t, s.CheckReadiness(context.Background()), "not ready before first run")
	require.NoError(t, s.RunOnce(context.Background()))
	require.NoError(t, s.CheckReadiness(context.Background()))

	want := []domain.Facility{
		{
			NPDESID:                "TX0001234",
			Name:                   "Gulf Coast Treatment Plant",
			State:                  "TX",
			QuartersWithViolations: 16,
			FormalEnforcementCount: 3,
			Flags:                  domain.ComplianceFlags{RepeatViolator: true, PenaltyGap: true},
			LastSync:               syncTime,
		},
		{
			NPDESID:                "TX0005678",
			Name:                   "Brazos Outfall",
			State:                  "TX",
			QuartersWithViolations: 2,
			LastSync:               syncTime,
		},
	}
	if diff := cmp.Diff(want, ldr.all()); diff != "" {
		t.Errorf("loaded facilities mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []string{"TX"}, snaps.states)
	assert.Len(t, pub.published, 2)
}

func TestRunOnce_HistoryFeedsFlagDerivation(t *testing.T) {
	rows := make([]domain.RawEnforcementRow, 0, 16)
	year, q := 2021, 1
	for i := 0; i < 16; i++ {
		rows = append(rows, domain.RawEnforcementRow{
			SourceID:      "TX0001234",
			YearQtr:       domain.Quarter{Year: year, Q: q}.String(),
			ViolationFlag: "Y",
		})
		if q++; q > 4 {
			year, q = year+1, 1
		}
	}

	src := &mockSource{
		facilities: map[string][]domain.RawFacilityRecord{
			"TX": {{SourceID: "TX0001234", Name: "Gulf Coast Treatment Plant", QtrsWithNC: "0"}},
		},
		enforcement: map[string][]domain.RawEnforcementRow{"TX": rows},
	}
	ldr := &mockLoader{}

	s := pipeline.New(src, ldr, slog.Default(), newTestMetrics(), pipeline.Options{States: []string{"TX"}})
	require.NoError(t, s.RunOnce(context.Background()))

	facilities := ldr.all()
	require.Len(t, facilities, 1)
	assert.True(t, facilities[0].Flags.RepeatViolator,
		"16 violating quarters of history outrank the zero aggregate column")
	assert.Equal(t, 16, facilities[0].QuartersWithViolations)
}

func TestRunOnce_StateFailureIsIsolated(t *testing.T) {
	src := txSource()
	src.failStates = map[string]bool{"VA": true}
	src.facilities["MD"] = []domain.RawFacilityRecord{{SourceID: "MD0000001", Name: "Chesapeake Outfall"}}
	ldr := &mockLoader{}

	s := pipeline.New(src, ldr, slog.Default(), newTestMetrics(), pipeline.Options{
		States: []string{"TX", "VA", "MD"},
	})

	require.NoError(t, s.RunOnce(context.Background()), "one failed state does not fail the run")
	assert.Equal(t, 2, ldr.batchCount(), "TX and MD still loaded")
}

func TestRunOnce_AllStatesFailed(t *testing.T) {
	src := &mockSource{failStates: map[string]bool{"TX": true, "VA": true}}
	s := pipeline.New(src, &mockLoader{}, slog.Default(), newTestMetrics(), pipeline.Options{
		States: []string{"TX", "VA"},
	})

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 states failed")
	require.Error(t, s.CheckReadiness(context.Background()))
}

func TestRunOnce_LoaderFailureFailsState(t *testing.T) {
	s := pipeline.New(txSource(), &mockLoader{err: errors.New("db down")}, slog.Default(), newTestMetrics(), pipeline.Options{
		States: []string{"TX"},
	})

	require.Error(t, s.RunOnce(context.Background()))
}

func TestRunOnce_SnapshotFailureFailsState(t *testing.T) {
	s := pipeline.New(txSource(), &mockLoader{}, slog.Default(), newTestMetrics(), pipeline.Options{
		States:    []string{"TX"},
		Snapshots: &mockSnapshots{err: errors.New("disk full")},
	})

	require.Error(t, s.RunOnce(context.Background()))
}

func TestRunOnce_PublisherFailureIsBestEffort(t *testing.T) {
	ldr := &mockLoader{}
	s := pipeline.New(txSource(), ldr, slog.Default(), newTestMetrics(), pipeline.Options{
		States:    []string{"TX"},
		Publisher: &mockPublisher{err: errors.New("broker down")},
	})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, ldr.batchCount())
}

func TestRunOnce_PerStateSourceOverride(t *testing.T) {
	portal := &mockSource{
		facilities: map[string][]domain.RawFacilityRecord{
			"PA": {{SourceID: "PA0000001", Name: "Allegheny Works", State: "PA"}},
		},
	}
	// Default source knows nothing about PA; the override must be used.
	s := pipeline.New(&mockSource{}, &mockLoader{}, slog.Default(), newTestMetrics(), pipeline.Options{
		States:       []string{"PA"},
		StateSources: map[string]domain.Source{"PA": portal},
	})

	require.NoError(t, s.RunOnce(context.Background()))
	require.NoError(t, s.CheckReadiness(context.Background()))
}

func TestRun_OneShotWhenIntervalZero(t *testing.T) {
	ldr := &mockLoader{}
	s := pipeline.New(txSource(), ldr, slog.Default(), newTestMetrics(), pipeline.Options{
		States: []string{"TX"},
	})

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 1, ldr.batchCount())
}

func TestRun_IntervalLoop(t *testing.T) {
	fake := clockwork.NewFakeClock()
	ldr := &mockLoader{}
	s := pipeline.New(txSource(), ldr, slog.Default(), newTestMetrics(), pipeline.Options{
		States:   []string{"TX"},
		Interval: time.Hour,
		Clock:    fake,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// First run happens immediately; the ticker is the clock's only waiter.
	fake.BlockUntil(1)
	assert.Eventually(t, func() bool { return ldr.batchCount() == 1 }, time.Second, 10*time.Millisecond)

	fake.Advance(time.Hour)
	assert.Eventually(t, func() bool { return ldr.batchCount() == 2 }, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRunOnce_ContextCancelledMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := pipeline.New(txSource(), &mockLoader{}, slog.Default(), newTestMetrics(), pipeline.Options{
		States:     []string{"TX", "VA"},
		StateDelay: 50 * time.Millisecond,
	})

	// First state may complete, but the inter-state delay observes the
	// cancelled context and aborts the run.
	err := s.RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
