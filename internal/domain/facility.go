package domain

import "time"

// States tracked by the project. ECHO serves all of them; PA and MD also
// have open-data portal sources.
var States = []string{"TX", "VA", "WV", "PA", "MD"}

// RawFacilityRecord is one facility row as returned by the ECHO
// get_facilities service. All fields arrive as strings; cleaning happens
// in ParseFacility.
type RawFacilityRecord struct {
	SourceID       string `json:"SourceID"` // NPDES permit ID
	RegistryID     string `json:"RegistryID"`
	Name           string `json:"CWPName"`
	City           string `json:"CWPCity"`
	County         string `json:"CWPCounty"`
	State          string `json:"CWPState"`
	Zip            string `json:"CWPZip"`
	Lat            string `json:"FacLat"`
	Lon            string `json:"FacLong"`
	Status         string `json:"CWPStatus"`
	QtrsWithNC     string `json:"CWPQtrsWithNC"`
	FormalEaCnt    string `json:"CWPFormalEaCnt"`
	TotalPenalties string `json:"CWPTotalPenalties"`
	LastInspection string `json:"CWPDateLastInspection"` // MM/DD/YYYY
}

// RawEnforcementRow is one per-quarter compliance row as returned by the
// ECHO get_cwa_violations service.
type RawEnforcementRow struct {
	SourceID          string `json:"SourceID"`
	YearQtr           string `json:"YearQtr"` // "20243" or "2024Q3"
	ViolationFlag     string `json:"ViolationFlag"`
	FormalActionCount string `json:"FormalActionCount"`
	PenaltyAmount     string `json:"PenaltyAmount"`
}

// EnforcementRecord is one cleaned quarter of a facility's enforcement
// history. Quarters are unique per facility.
type EnforcementRecord struct {
	Quarter           Quarter `json:"quarter"`
	InViolation       bool    `json:"in_violation"`
	FormalActionCount int     `json:"formal_action_count"`
	PenaltyAmount     float64 `json:"penalty_amount"`
}

// ComplianceFlags holds the two derived facility flags. They are recomputed
// on every sync and never persisted independently of the facility row.
type ComplianceFlags struct {
	RepeatViolator bool `json:"is_repeat_violator"`
	PenaltyGap     bool `json:"has_penalty_gap"`
}

// Facility is the cleaned, flag-enriched representation stored in Postgres
// and written to CSV snapshots.
type Facility struct {
	NPDESID    string `json:"npdes_id"`
	RegistryID string `json:"registry_id,omitempty"`
	Name       string `json:"name"`
	City       string `json:"city,omitempty"`
	County     string `json:"county,omitempty"`
	State      string `json:"state"`
	Zip        string `json:"zip_code,omitempty"`

	Lat float64 `json:"latitude,omitempty"`
	Lon float64 `json:"longitude,omitempty"`

	CWAStatus              string     `json:"cwa_current_status,omitempty"`
	QuartersWithViolations int        `json:"quarters_with_violations"`
	FormalEnforcementCount int        `json:"formal_enforcement_count"`
	TotalPenalties         float64    `json:"total_penalties"`
	LastInspection         *time.Time `json:"last_inspection_date,omitempty"`

	Flags ComplianceFlags `json:"flags"`

	LastSync time.Time `json:"last_echo_sync"`
}

// Stats summarizes the facility table for the API stats endpoint.
type Stats struct {
	TotalFacilities int        `json:"total_facilities"`
	RepeatViolators int        `json:"repeat_violators"`
	PenaltyGaps     int        `json:"penalty_gaps"`
	LastSync        *time.Time `json:"last_sync,omitempty"`
}
