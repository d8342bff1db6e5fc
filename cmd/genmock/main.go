// Command genmock generates deterministic mock ECHO fixtures for the test
// suites: raw facility and violation responses per state, plus the expected
// transformed facilities. It uses the actual domain package so the expected
// output matches real sync behavior.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/permitwatch/permitwatch/internal/domain"
)

// syncTime is the fixed clock every fixture is generated under, so the
// last_echo_sync column is reproducible across runs.
var syncTime = time.Date(2024, time.August, 15, 6, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output directory for mock fixtures")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	domain.SetClock(clockwork.NewFakeClockAt(syncTime))
	defer domain.SetClock(nil)

	var expected []domain.Facility
	for _, state := range domain.States {
		raws := facilitiesFor(state)
		rows := enforcementFor(state)

		if err := writeJSON(filepath.Join(*out, "echo_facilities_"+state+".json"), raws); err != nil {
			return fmt.Errorf("writing %s facilities fixture: %w", state, err)
		}
		if err := writeJSON(filepath.Join(*out, "echo_violations_"+state+".json"), rows); err != nil {
			return fmt.Errorf("writing %s violations fixture: %w", state, err)
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
			expected = append(expected, f)
		}
		log.Printf("%s: %d facilities, %d violation rows", state, len(raws), len(rows))
	}

	if err := writeJSON(filepath.Join(*out, "facilities_expected.json"), expected); err != nil {
		return fmt.Errorf("writing expected fixture: %w", err)
	}
	log.Printf("wrote expected fixture: %d facilities", len(expected))

	printStats(expected)
	return nil
}

// facilitiesFor builds a deterministic facility set per state: one repeat
// violator with a penalty gap, one penalty gap only, one clean facility,
// and one facility whose flags come from per-quarter history rather than
// the aggregate columns.
func facilitiesFor(state string) []domain.RawFacilityRecord {
	return []domain.RawFacilityRecord{
		{
			SourceID:       state + "0000001",
			RegistryID:     "110000000001",
			Name:           state + " Municipal Treatment Works",
			City:           "Springfield",
			County:         "Greene",
			State:          state,
			Zip:            "75001",
			Lat:            "31.5",
			Lon:            "-97.2",
			Status:         "Significant Noncompliance",
			QtrsWithNC:     "16",
			FormalEaCnt:    "4",
			TotalPenalties: "$0",
			LastInspection: "03/12/2024",
		},
		{
			SourceID:       state + "0000002",
			Name:           state + " Industrial Outfall",
			State:          state,
			Status:         "Noncompliance",
			QtrsWithNC:     "6",
			FormalEaCnt:    "2",
			TotalPenalties: "0",
		},
		{
			SourceID:       state + "0000003",
			Name:           state + " Regional Authority",
			State:          state,
			Status:         "No Violation Identified",
			QtrsWithNC:     "0",
			FormalEaCnt:    "1",
			TotalPenalties: "$12,500.00",
		},
		{
			// Aggregates say clean; the per-quarter history says otherwise.
			SourceID:   state + "0000004",
			Name:       state + " Legacy Permit Holder",
			State:      state,
			QtrsWithNC: "0",
		},
	}
}

// enforcementFor builds 16 consecutive violating quarters for the fourth
// facility, exercising the history-driven flag path.
func enforcementFor(state string) []domain.RawEnforcementRow {
	rows := make([]domain.RawEnforcementRow, 0, 16)
	year, q := 2020, 3
	for i := 0; i < 16; i++ {
		rows = append(rows, domain.RawEnforcementRow{
			SourceID:          state + "0000004",
			YearQtr:           strconv.Itoa(year) + strconv.Itoa(q),
			ViolationFlag:     "Y",
			FormalActionCount: "1",
			PenaltyAmount:     "0",
		})
		if q++; q > 4 {
			year, q = year+1, 1
		}
	}
	return rows
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func printStats(facilities []domain.Facility) {
	stateCounts := map[string]int{}
	var repeatViolators, penaltyGaps, both int
	for i := range facilities {
		f := &facilities[i]
		stateCounts[f.State]++
		if f.Flags.RepeatViolator {
			repeatViolators++
		}
		if f.Flags.PenaltyGap {
			penaltyGaps++
		}
		if f.Flags.RepeatViolator && f.Flags.PenaltyGap {
			both++
		}
	}

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Total: %d\n", len(facilities))
	fmt.Printf("Repeat violators: %d\n", repeatViolators)
	fmt.Printf("Penalty gaps: %d\n", penaltyGaps)
	fmt.Printf("Both flags: %d\n", both)
	for _, state := range domain.States {
		fmt.Printf("  %s: %d facilities\n", state, stateCounts[state])
	}
}
