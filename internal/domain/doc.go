// Package domain models EPA ECHO facility compliance data.
//
// # Data Source
//
// Facility and enforcement records originate from EPA's Enforcement and
// Compliance History Online (ECHO) Clean Water Act REST services,
// https://echo.epa.gov/tools/web-services. The sync command fetches JSON
// pages per state on a daily schedule; state open-data portals (PA, MD)
// can supplement ECHO through the same Source interface.
//
// # ECHO Data Conventions
//
// Facility columns (cwa_rest_services.get_facilities):
//
//	SourceID               NPDES permit ID, the stable facility identifier.
//	RegistryID             EPA Facility Registry Service ID.
//	CWPName/City/County/State/Zip  location fields, whitespace-padded.
//	FacLat / FacLong       WGS-84 coordinates as decimal strings.
//	CWPStatus              current CWA compliance status text.
//	CWPQtrsWithNC          quarters in noncompliance over the reporting
//	                       window, as a decimal string.
//	CWPFormalEaCnt         formal enforcement action count.
//	CWPTotalPenalties      assessed penalties in dollars, may be blank.
//	CWPDateLastInspection  MM/DD/YYYY.
//
// Enforcement history rows (cwa_rest_services.get_cwa_violations):
//
//	YearQtr        reporting quarter, either "YYYYQ" digits ("20243") or
//	               "YYYYQn" ("2024Q3"). Quarters are unique per facility
//	               and totally ordered.
//	ViolationFlag  "Y"/"N" (case-insensitive); blank means no violation.
//	FormalActionCount, PenaltyAmount  decimal strings, blank or malformed
//	               values are treated as zero.
//
// All numeric cleaning happens in [ParseFacility] and [BuildHistory];
// [DeriveFlags] itself never sees raw strings and never fails.
//
// # Compliance Flags
//
// Two derived booleans, recomputed in full on every sync (no incremental
// update, no flag history):
//
//	repeat violator  the facility was in violation in at least 16 of its
//	                 16 most recent reporting quarters. With fewer than 16
//	                 quarters of history the flag cannot be set. This
//	                 mirrors the observed PermitWatch rule, not EPA's
//	                 12-quarter "high priority violator" definition.
//	penalty gap      formal enforcement actions exist (sum > 0 across all
//	                 history) but assessed penalties sum to zero, i.e.
//	                 formal action without monetary consequence.
//
// When only the rolled-up facility columns are available (no per-quarter
// rows), [FlagsFromTotals] applies the same thresholds to CWPQtrsWithNC,
// CWPFormalEaCnt, and CWPTotalPenalties.
package domain
