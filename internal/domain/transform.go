package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// inspectionDateLayout is ECHO's MM/DD/YYYY date format.
const inspectionDateLayout = "01/02/2006"

// ParseFacility cleans a raw ECHO facility record and its per-quarter
// enforcement history into a Facility with derived compliance flags.
//
// When history rows are present the flags and the stored aggregates come
// from the history via DeriveFlags; otherwise the rolled-up ECHO columns
// are used via FlagsFromTotals. Blank or malformed numeric fields become
// zero, never an error. The state argument is the fallback when the record
// omits CWPState.
func ParseFacility(raw RawFacilityRecord, history []RawEnforcementRow, state string) Facility {
	f := Facility{
		NPDESID:    strings.TrimSpace(raw.SourceID),
		RegistryID: strings.TrimSpace(raw.RegistryID),
		Name:       strings.TrimSpace(raw.Name),
		City:       strings.TrimSpace(raw.City),
		County:     strings.TrimSpace(raw.County),
		State:      strings.TrimSpace(raw.State),
		Zip:        strings.TrimSpace(raw.Zip),
		Lat:        parseCoordinate(raw.Lat),
		Lon:        parseCoordinate(raw.Lon),
		CWAStatus:  strings.TrimSpace(raw.Status),
		LastSync:   clock.Now().UTC(),
	}
	if f.State == "" {
		f.State = state
	}
	if t, ok := parseInspectionDate(raw.LastInspection); ok {
		f.LastInspection = &t
	}

	records := BuildHistory(history)
	if len(records) > 0 {
		f.QuartersWithViolations = violatingQuartersInWindow(records)
		for _, r := range records {
			f.FormalEnforcementCount += r.FormalActionCount
			f.TotalPenalties += r.PenaltyAmount
		}
		f.Flags = DeriveFlags(records)
		return f
	}

	f.QuartersWithViolations = parseIntOrZero(raw.QtrsWithNC)
	f.FormalEnforcementCount = parseIntOrZero(raw.FormalEaCnt)
	f.TotalPenalties = parseFloatOrZero(raw.TotalPenalties)
	f.Flags = FlagsFromTotals(f.QuartersWithViolations, f.FormalEnforcementCount, f.TotalPenalties)
	return f
}

// BuildHistory cleans raw enforcement rows into EnforcementRecords.
// Rows without a parseable quarter are dropped; numeric fields default to
// zero. The violation flag accepts "Y"/"YES"/"TRUE"/"1" case-insensitively.
func BuildHistory(rows []RawEnforcementRow) []EnforcementRecord {
	records := make([]EnforcementRecord, 0, len(rows))
	for _, row := range rows {
		q, ok := ParseQuarter(row.YearQtr)
		if !ok {
			continue
		}
		records = append(records, EnforcementRecord{
			Quarter:           q,
			InViolation:       parseViolationFlag(row.ViolationFlag),
			FormalActionCount: parseIntOrZero(row.FormalActionCount),
			PenaltyAmount:     parseFloatOrZero(row.PenaltyAmount),
		})
	}
	return records
}

// violatingQuartersInWindow counts violating quarters among the most recent
// RepeatViolatorWindow quarters, matching the counting rule in DeriveFlags.
func violatingQuartersInWindow(records []EnforcementRecord) int {
	sorted := make([]EnforcementRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[j].Quarter.Before(sorted[i].Quarter)
	})
	if len(sorted) > RepeatViolatorWindow {
		sorted = sorted[:RepeatViolatorWindow]
	}
	n := 0
	for _, r := range sorted {
		if r.InViolation {
			n++
		}
	}
	return n
}

func parseViolationFlag(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "Y", "YES", "TRUE", "1":
		return true
	default:
		return false
	}
}

// parseCoordinate parses a latitude or longitude, returning 0 on failure.
// Unlike the penalty and count columns, coordinates are signed; US
// longitudes are all negative.
func parseCoordinate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseFloatOrZero parses a non-negative decimal column, returning 0 on
// failure. Leading "$" and thousands separators from penalty columns are
// stripped; negative values are treated as malformed.
func parseFloatOrZero(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// parseIntOrZero parses a string as a non-negative int, returning 0 on failure.
func parseIntOrZero(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func parseInspectionDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(inspectionDateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
