package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Quarter identifies a three-month regulatory reporting period.
// The zero value is invalid and sorts before every real quarter.
type Quarter struct {
	Year int
	Q    int // 1-4
}

// ParseQuarter accepts the two encodings seen in ECHO exports:
// "YYYYQ" digit runs ("20243") and "YYYYQn" ("2024Q3", "2024q3").
// Returns false for anything else, including quarter digits outside 1-4.
func ParseQuarter(s string) (Quarter, bool) {
	s = strings.TrimSpace(strings.ToUpper(s))

	if year, q, ok := strings.Cut(s, "Q"); ok {
		return makeQuarter(year, q)
	}
	if len(s) == 5 {
		return makeQuarter(s[:4], s[4:])
	}
	return Quarter{}, false
}

func makeQuarter(yearStr, qStr string) (Quarter, bool) {
	year, err := strconv.Atoi(yearStr)
	if err != nil || year < 1900 || year > 9999 {
		return Quarter{}, false
	}
	q, err := strconv.Atoi(qStr)
	if err != nil || q < 1 || q > 4 {
		return Quarter{}, false
	}
	return Quarter{Year: year, Q: q}, true
}

// IsZero reports whether q is the invalid zero value.
func (q Quarter) IsZero() bool { return q.Year == 0 && q.Q == 0 }

// Before reports whether q precedes other in time.
func (q Quarter) Before(other Quarter) bool {
	return q.index() < other.index()
}

func (q Quarter) index() int { return q.Year*4 + q.Q }

// String renders the canonical "YYYYQn" form, e.g. "2024Q3".
func (q Quarter) String() string {
	return fmt.Sprintf("%04dQ%d", q.Year, q.Q)
}

// MarshalText encodes the canonical form for JSON fixtures.
func (q Quarter) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText parses either ECHO encoding.
func (q *Quarter) UnmarshalText(data []byte) error {
	parsed, ok := ParseQuarter(string(data))
	if !ok {
		return fmt.Errorf("invalid quarter %q", data)
	}
	*q = parsed
	return nil
}
