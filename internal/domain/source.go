package domain

import "context"

// Source fetches raw compliance data for one state. ECHO is the default
// implementation for every state; state portal scrapers provide variants
// behind the same interface.
type Source interface {
	// FetchFacilities returns every matching facility record for the state,
	// following the provider's pagination internally.
	FetchFacilities(ctx context.Context, state string) ([]RawFacilityRecord, error)

	// FetchEnforcement returns per-quarter enforcement rows for the state,
	// keyed by facility via RawEnforcementRow.SourceID. Providers without
	// per-quarter data return an empty slice and nil error.
	FetchEnforcement(ctx context.Context, state string) ([]RawEnforcementRow, error)
}
