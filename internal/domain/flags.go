package domain

import "sort"

// RepeatViolatorWindow is the lookback window for the repeat-violator flag:
// a facility must have been in violation in at least this many of its most
// recent RepeatViolatorWindow quarters. With fewer quarters of history the
// flag is structurally false. Kept at 16 to preserve observed behavior even
// though EPA's HPV definition uses a 12-quarter history.
const RepeatViolatorWindow = 16

// DeriveFlags computes the two compliance flags from a facility's
// enforcement history. Records need not be pre-sorted; the input slice is
// not modified. Empty input yields both flags false.
//
// Repeat violator counts violating quarters among the most recent
// RepeatViolatorWindow quarters only. Penalty gap sums formal actions and
// penalties across the entire history, with no window.
func DeriveFlags(records []EnforcementRecord) ComplianceFlags {
	sorted := make([]EnforcementRecord, len(records))
	copy(sorted, records)
	// Quarters are unique per facility, so this ordering is total and the
	// result cannot depend on input order.
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[j].Quarter.Before(sorted[i].Quarter)
	})

	window := sorted
	if len(window) > RepeatViolatorWindow {
		window = window[:RepeatViolatorWindow]
	}
	violations := 0
	for _, r := range window {
		if r.InViolation {
			violations++
		}
	}

	var formalActions int
	var penalties float64
	for _, r := range sorted {
		formalActions += r.FormalActionCount
		penalties += r.PenaltyAmount
	}

	return ComplianceFlags{
		RepeatViolator: violations >= RepeatViolatorWindow,
		PenaltyGap:     formalActions > 0 && penalties == 0,
	}
}

// FlagsFromTotals applies the same thresholds to ECHO's rolled-up facility
// columns (CWPQtrsWithNC, CWPFormalEaCnt, CWPTotalPenalties), for
// facilities where no per-quarter history is available.
func FlagsFromTotals(quartersWithViolations, formalActions int, totalPenalties float64) ComplianceFlags {
	return ComplianceFlags{
		RepeatViolator: quartersWithViolations >= RepeatViolatorWindow,
		PenaltyGap:     formalActions > 0 && totalPenalties == 0,
	}
}
