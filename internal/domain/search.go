package domain

// FlagType selects one of the two derived flags on the flagged-facilities
// read path.
type FlagType string

const (
	FlagRepeatViolator FlagType = "repeat_violator"
	FlagPenaltyGap     FlagType = "penalty_gap"
)

// Valid reports whether f names a known flag.
func (f FlagType) Valid() bool {
	return f == FlagRepeatViolator || f == FlagPenaltyGap
}

// SearchQuery carries the facility search filters. Zero values mean
// "no filter"; pagination is 1-based.
type SearchQuery struct {
	Text                string // matches name or NPDES ID, case-insensitive substring
	State               string
	County              string
	RepeatViolatorsOnly bool
	PenaltyGapsOnly     bool
	Page                int
	PerPage             int
}

// SearchResult is one page of facilities plus the unpaginated total.
type SearchResult struct {
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	PerPage    int        `json:"per_page"`
	Facilities []Facility `json:"results"`
}
