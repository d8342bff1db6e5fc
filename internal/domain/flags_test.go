package domain

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

// quarters builds n consecutive quarters ending at 2024Q4, oldest first.
func quarters(n int) []Quarter {
	end := Quarter{Year: 2024, Q: 4}
	out := make([]Quarter, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = end
		end = prevQuarter(end)
	}
	return out
}

func prevQuarter(q Quarter) Quarter {
	if q.Q == 1 {
		return Quarter{Year: q.Year - 1, Q: 4}
	}
	return Quarter{Year: q.Year, Q: q.Q - 1}
}

func violationHistory(n int, inViolation bool) []EnforcementRecord {
	qs := quarters(n)
	records := make([]EnforcementRecord, n)
	for i, q := range qs {
		records[i] = EnforcementRecord{Quarter: q, InViolation: inViolation}
	}
	return records
}

func TestDeriveFlags_EmptyHistory(t *testing.T) {
	flags := DeriveFlags(nil)
	assert.False(t, flags.RepeatViolator)
	assert.False(t, flags.PenaltyGap)

	flags = DeriveFlags([]EnforcementRecord{})
	assert.False(t, flags.RepeatViolator)
	assert.False(t, flags.PenaltyGap)
}

func TestDeriveFlags_RepeatViolator_ShortHistoryAlwaysFalse(t *testing.T) {
	// Under 16 quarters the flag is structurally unreachable, even when
	// every available quarter is a violation.
	for n := 1; n < RepeatViolatorWindow; n++ {
		flags := DeriveFlags(violationHistory(n, true))
		assert.False(t, flags.RepeatViolator, "history of %d violating quarters", n)
	}
}

func TestDeriveFlags_RepeatViolator_Exactly16Violations(t *testing.T) {
	flags := DeriveFlags(violationHistory(RepeatViolatorWindow, true))
	assert.True(t, flags.RepeatViolator)
}

func TestDeriveFlags_RepeatViolator_15Of16False(t *testing.T) {
	records := violationHistory(RepeatViolatorWindow, true)
	records[7].InViolation = false
	flags := DeriveFlags(records)
	assert.False(t, flags.RepeatViolator)
}

func TestDeriveFlags_RepeatViolator_OlderQuartersExcluded(t *testing.T) {
	// 20 quarters: the most recent 16 all violate, the oldest 4 do not.
	// The window excludes the clean quarters, so the flag is set.
	records := violationHistory(20, true)
	for i := 0; i < 4; i++ {
		records[i].InViolation = false // oldest first
	}
	flags := DeriveFlags(records)
	assert.True(t, flags.RepeatViolator)
}

func TestDeriveFlags_RepeatViolator_CleanRecentQuarterBreaksStreak(t *testing.T) {
	// 20 quarters, all violating except the most recent one: only 15 of
	// the window's 16 quarters violate.
	records := violationHistory(20, true)
	records[len(records)-1].InViolation = false
	flags := DeriveFlags(records)
	assert.False(t, flags.RepeatViolator)
}

func TestDeriveFlags_PenaltyGap(t *testing.T) {
	records := violationHistory(6, false)
	records[1].FormalActionCount = 2
	records[4].FormalActionCount = 1

	flags := DeriveFlags(records)
	assert.True(t, flags.PenaltyGap, "3 formal actions, zero penalties")

	records[4].PenaltyAmount = 5000
	flags = DeriveFlags(records)
	assert.False(t, flags.PenaltyGap, "penalties assessed")
}

func TestDeriveFlags_PenaltyGap_NoActions(t *testing.T) {
	records := violationHistory(6, true)
	records[2].PenaltyAmount = 1200
	flags := DeriveFlags(records)
	assert.False(t, flags.PenaltyGap, "no formal actions regardless of penalties")

	records[2].PenaltyAmount = 0
	flags = DeriveFlags(records)
	assert.False(t, flags.PenaltyGap)
}

func TestDeriveFlags_PenaltyGap_IgnoresWindow(t *testing.T) {
	// The formal action sits 20 quarters back, outside the repeat-violator
	// window. Penalty gap has no window and still sees it.
	records := violationHistory(24, false)
	records[0].FormalActionCount = 1
	flags := DeriveFlags(records)
	assert.True(t, flags.PenaltyGap)
}

func TestDeriveFlags_InputOrderIrrelevant(t *testing.T) {
	records := violationHistory(20, true)
	for i := 0; i < 4; i++ {
		records[i].InViolation = false
	}
	records[3].FormalActionCount = 2

	want := DeriveFlags(records)

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 10; trial++ {
		shuffled := make([]EnforcementRecord, len(records))
		copy(shuffled, records)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		assert.Equal(t, want, DeriveFlags(shuffled))
	}
}

func TestDeriveFlags_DoesNotMutateInput(t *testing.T) {
	records := violationHistory(5, true)
	first := records[0]
	_ = DeriveFlags(records)
	assert.Equal(t, first, records[0])
}

func TestFlagsFromTotals(t *testing.T) {
	tests := []struct {
		name      string
		quarters  int
		actions   int
		penalties float64
		want      ComplianceFlags
	}{
		{"clean facility", 0, 0, 0, ComplianceFlags{}},
		{"15 quarters below threshold", 15, 0, 0, ComplianceFlags{}},
		{"16 quarters sets repeat violator", 16, 0, 0, ComplianceFlags{RepeatViolator: true}},
		{"actions without penalties", 3, 2, 0, ComplianceFlags{PenaltyGap: true}},
		{"actions with penalties", 3, 2, 15000, ComplianceFlags{}},
		{"both flags", 20, 1, 0, ComplianceFlags{RepeatViolator: true, PenaltyGap: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FlagsFromTotals(tt.quarters, tt.actions, tt.penalties))
		})
	}
}

// The two flag paths must agree when both are computable from the same data.
func TestDeriveFlags_AgreesWithFlagsFromTotals(t *testing.T) {
	records := violationHistory(18, true)
	records[0].InViolation = false
	records[1].InViolation = false
	records[5].FormalActionCount = 2

	derived := DeriveFlags(records)
	totals := FlagsFromTotals(violatingQuartersInWindow(records), 2, 0)
	assert.Equal(t, derived, totals)
}
