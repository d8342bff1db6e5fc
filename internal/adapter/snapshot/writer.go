// Package snapshot writes per-state CSV snapshots of synced facilities.
package snapshot

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/permitwatch/permitwatch/internal/domain"
)

// header is the snapshot column set, one row per facility per run.
var header = []string{
	"npdes_id", "name", "city", "county", "state",
	"quarters_with_violations", "formal_enforcement_count", "total_penalties",
	"is_repeat_violator", "has_penalty_gap", "last_sync",
}

// Writer writes timestamped CSV snapshot files into a directory, one file
// per state per run: ECHO_<STATE>_<YYYYMMDD_HHMMSS>.csv.
type Writer struct {
	dir    string
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewWriter creates a snapshot writer rooted at dir.
func NewWriter(dir string, logger *slog.Logger) *Writer {
	return &Writer{dir: dir, clock: clockwork.NewRealClock(), logger: logger}
}

// SetClock swaps the timestamp source, for deterministic filenames in tests.
func (w *Writer) SetClock(c clockwork.Clock) { w.clock = c }

// WriteSnapshot writes one CSV file for the state and returns its path.
// An empty facility list still produces a header-only file, so a run with
// zero results is distinguishable from a run that never happened.
func (w *Writer) WriteSnapshot(state string, facilities []domain.Facility) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	stamp := w.clock.Now().UTC().Format("20060102_150405")
	path := filepath.Join(w.dir, fmt.Sprintf("ECHO_%s_%s.csv", state, stamp))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create snapshot file: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return "", fmt.Errorf("write snapshot header: %w", err)
	}
	for _, fac := range facilities {
		if err := cw.Write(facilityRow(fac)); err != nil {
			return "", fmt.Errorf("write snapshot row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("flush snapshot: %w", err)
	}

	w.logger.Info("wrote snapshot", "path", path, "state", state, "rows", len(facilities))
	return path, nil
}

func facilityRow(f domain.Facility) []string {
	return []string{
		f.NPDESID,
		f.Name,
		f.City,
		f.County,
		f.State,
		strconv.Itoa(f.QuartersWithViolations),
		strconv.Itoa(f.FormalEnforcementCount),
		strconv.FormatFloat(f.TotalPenalties, 'f', 2, 64),
		strconv.FormatBool(f.Flags.RepeatViolator),
		strconv.FormatBool(f.Flags.PenaltyGap),
		f.LastSync.UTC().Format(time.RFC3339),
	}
}
