// Command validate performs end-to-end data integrity checks across the
// mock fixtures and CSV snapshots: it re-runs the transformation over the
// raw ECHO fixtures, compares the result with the expected fixture, and
// cross-checks the latest snapshot file per state.
//
// Usage:
//
//	go run ./cmd/validate -fixture-dir data/mock -snapshot-dir scraped_data
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/permitwatch/permitwatch/internal/domain"
)

// syncTime matches the fixed clock genmock generates fixtures under.
var syncTime = time.Date(2024, time.August, 15, 6, 0, 0, 0, time.UTC)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	fixtureDir := flag.String("fixture-dir", "", "directory containing mock ECHO fixtures")
	snapshotDir := flag.String("snapshot-dir", "", "directory containing CSV snapshot files (optional)")
	flag.Parse()

	if *fixtureDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*fixtureDir, *snapshotDir); code != 0 {
		os.Exit(code)
	}
}

func run(fixtureDir, snapshotDir string) int {
	domain.SetClock(clockwork.NewFakeClockAt(syncTime))
	defer domain.SetClock(nil)

	fmt.Println("=== Facility Data Integrity Validation ===")
	fmt.Println()

	expected, err := loadJSON[domain.Facility](filepath.Join(fixtureDir, "facilities_expected.json"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load expected fixture: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateFixtureIntegrity(fixtureDir),
		validateTransformation(fixtureDir, expected),
		validateFlagConsistency(expected),
	}
	if snapshotDir != "" {
		phases = append(phases, validateSnapshots(snapshotDir, expected))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d expected facilities across %d states\n", len(expected), len(domain.States))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: Fixture Integrity ──
// Raw fixtures parse, NPDES IDs are unique per state, and every violation
// row references a facility in the same state's fixture.

func validateFixtureIntegrity(dir string) *phase {
	p := &phase{name: "Phase 1: Fixture Integrity (raw JSON)"}

	for _, state := range domain.States {
		raws, err := loadJSON[domain.RawFacilityRecord](filepath.Join(dir, "echo_facilities_"+state+".json"))
		if err != nil {
			p.errorf("%s: load facilities fixture: %v", state, err)
			continue
		}
		rows, err := loadJSON[domain.RawEnforcementRow](filepath.Join(dir, "echo_violations_"+state+".json"))
		if err != nil {
			p.errorf("%s: load violations fixture: %v", state, err)
			continue
		}

		seen := map[string]bool{}
		for i, raw := range raws {
			if raw.SourceID == "" {
				continue
			}
			if seen[raw.SourceID] {
				p.errorf("%s record %d: duplicate SourceID %q", state, i, raw.SourceID)
			}
			seen[raw.SourceID] = true
		}

		for i, row := range rows {
			if !seen[row.SourceID] {
				p.errorf("%s violation row %d: SourceID %q not in facilities fixture", state, i, row.SourceID)
			}
			if _, ok := domain.ParseQuarter(row.YearQtr); !ok {
				p.errorf("%s violation row %d: unparseable YearQtr %q", state, i, row.YearQtr)
			}
		}
	}
	return p
}

// ── Phase 2: Transformation ──
// Re-runs ParseFacility over the raw fixtures and compares field by field
// with the expected fixture.

func validateTransformation(dir string, expected []domain.Facility) *phase {
	p := &phase{name: "Phase 2: Transformation (expected fixture)"}

	expectedByID := map[string]*domain.Facility{}
	for i := range expected {
		expectedByID[expected[i].NPDESID] = &expected[i]
	}

	var derived int
	for _, state := range domain.States {
		raws, err := loadJSON[domain.RawFacilityRecord](filepath.Join(dir, "echo_facilities_"+state+".json"))
		if err != nil {
			p.errorf("%s: load facilities fixture: %v", state, err)
			continue
		}
		rows, err := loadJSON[domain.RawEnforcementRow](filepath.Join(dir, "echo_violations_"+state+".json"))
		if err != nil {
			p.errorf("%s: load violations fixture: %v", state, err)
			continue
		}

		historyByID := map[string][]domain.RawEnforcementRow{}
		for _, row := range rows {
			historyByID[row.SourceID] = append(historyByID[row.SourceID], row)
		}

		for _, raw := range raws {
			f := domain.ParseFacility(raw, historyByID[raw.SourceID], state)
			if f.NPDESID == "" {
				continue
			}
			derived++

			want, ok := expectedByID[f.NPDESID]
			if !ok {
				p.errorf("%s: %s missing from expected fixture", state, f.NPDESID)
				continue
			}
			compareFacility(p, f, want)
		}
	}

	if derived != len(expected) {
		p.errorf("facility count: derived %d, expected fixture has %d", derived, len(expected))
	}
	return p
}

func compareFacility(p *phase, got domain.Facility, want *domain.Facility) {
	id := got.NPDESID

	if got.Name != want.Name {
		p.errorf("%s: name: expected %q, got %q", id, want.Name, got.Name)
	}
	if got.State != want.State {
		p.errorf("%s: state: expected %q, got %q", id, want.State, got.State)
	}
	if got.QuartersWithViolations != want.QuartersWithViolations {
		p.errorf("%s: quarters_with_violations: expected %d, got %d", id, want.QuartersWithViolations, got.QuartersWithViolations)
	}
	if got.FormalEnforcementCount != want.FormalEnforcementCount {
		p.errorf("%s: formal_enforcement_count: expected %d, got %d", id, want.FormalEnforcementCount, got.FormalEnforcementCount)
	}
	if !floatEq(got.TotalPenalties, want.TotalPenalties) {
		p.errorf("%s: total_penalties: expected %g, got %g", id, want.TotalPenalties, got.TotalPenalties)
	}
	if got.Flags != want.Flags {
		p.errorf("%s: flags: expected %+v, got %+v", id, want.Flags, got.Flags)
	}
	if !got.LastSync.Equal(want.LastSync) {
		p.errorf("%s: last_echo_sync: expected %s, got %s", id,
			want.LastSync.Format(time.RFC3339), got.LastSync.Format(time.RFC3339))
	}
}

// ── Phase 3: Flag Consistency ──
// Every flagged facility must satisfy its flag's definition from the
// aggregate columns alone.

func validateFlagConsistency(expected []domain.Facility) *phase {
	p := &phase{name: "Phase 3: Flag Consistency (definitions)"}

	for i := range expected {
		f := &expected[i]

		if f.Flags.RepeatViolator && f.QuartersWithViolations < domain.RepeatViolatorWindow {
			p.errorf("%s: repeat violator with only %d violating quarters", f.NPDESID, f.QuartersWithViolations)
		}
		if f.Flags.PenaltyGap {
			if f.FormalEnforcementCount == 0 {
				p.errorf("%s: penalty gap with zero formal actions", f.NPDESID)
			}
			if f.TotalPenalties != 0 {
				p.errorf("%s: penalty gap with penalties of %g", f.NPDESID, f.TotalPenalties)
			}
		}
		if !f.Flags.PenaltyGap && f.FormalEnforcementCount > 0 && f.TotalPenalties == 0 {
			p.errorf("%s: formal actions without penalties but no penalty gap flag", f.NPDESID)
		}
	}
	return p
}

// ── Phase 4: Snapshot Parity ──
// The latest snapshot file per state must agree with the expected fixture.

func validateSnapshots(dir string, expected []domain.Facility) *phase {
	p := &phase{name: "Phase 4: Snapshot Parity (CSV files)"}

	expectedByID := map[string]*domain.Facility{}
	expectedByState := map[string]int{}
	for i := range expected {
		expectedByID[expected[i].NPDESID] = &expected[i]
		expectedByState[expected[i].State]++
	}

	for _, state := range domain.States {
		path, err := latestSnapshot(dir, state)
		if err != nil {
			p.errorf("%s: %v", state, err)
			continue
		}

		rows, err := loadCSV(path)
		if err != nil {
			p.errorf("%s: %v", state, err)
			continue
		}

		if len(rows) != expectedByState[state] {
			p.errorf("%s: snapshot has %d rows, expected %d", state, len(rows), expectedByState[state])
		}

		for _, row := range rows {
			checkSnapshotRow(p, state, row, expectedByID)
		}
	}
	return p
}

func checkSnapshotRow(p *phase, state string, row csvRow, expectedByID map[string]*domain.Facility) {
	id := row.fields["npdes_id"]
	want, ok := expectedByID[id]
	if !ok {
		p.errorf("%s line %d: %q not in expected fixture", state, row.lineNum, id)
		return
	}

	if got := row.fields["quarters_with_violations"]; got != strconv.Itoa(want.QuartersWithViolations) {
		p.errorf("%s: quarters_with_violations: expected %d, got %q", id, want.QuartersWithViolations, got)
	}
	if got := row.fields["is_repeat_violator"]; got != strconv.FormatBool(want.Flags.RepeatViolator) {
		p.errorf("%s: is_repeat_violator: expected %t, got %q", id, want.Flags.RepeatViolator, got)
	}
	if got := row.fields["has_penalty_gap"]; got != strconv.FormatBool(want.Flags.PenaltyGap) {
		p.errorf("%s: has_penalty_gap: expected %t, got %q", id, want.Flags.PenaltyGap, got)
	}
	if got, err := strconv.ParseFloat(row.fields["total_penalties"], 64); err != nil || !floatEq(got, want.TotalPenalties) {
		p.errorf("%s: total_penalties: expected %g, got %q", id, want.TotalPenalties, row.fields["total_penalties"])
	}
}

// latestSnapshot finds the newest ECHO_<STATE>_*.csv file in dir. The
// timestamp in the filename sorts lexicographically.
func latestSnapshot(dir, state string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "ECHO_"+state+"_*.csv"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no snapshot files for %s in %s", state, dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// ── Data loading ──

// csvRow is a parsed CSV row with field values keyed by header name.
type csvRow struct {
	lineNum int
	fields  map[string]string
}

func loadCSV(path string) ([]csvRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	all, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("empty snapshot %s", path)
	}

	header := all[0]
	var rows []csvRow
	for i, row := range all[1:] {
		fields := make(map[string]string, len(header))
		for j, h := range header {
			if j < len(row) {
				fields[h] = strings.TrimSpace(row[j])
			}
		}
		rows = append(rows, csvRow{lineNum: i + 2, fields: fields})
	}
	return rows, nil
}

func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func floatEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
