// Package socrata implements domain.Source against state open-data portals
// that publish water-quality violation datasets through the Socrata API
// (data.pa.gov, opendata.maryland.gov). Portal rows are violation listings,
// not facility aggregates, so facilities are reconstructed by grouping rows
// on the permit number and quarters are derived from violation dates.
package socrata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/permitwatch/permitwatch/internal/domain"
)

// resourceDef maps one state's Socrata dataset and its column names onto
// the common raw-record shape.
type resourceDef struct {
	url      string
	facility string // facility name column
	permit   string // permit number column
	date     string // violation date column (ISO 8601)
	county   string
}

// resources lists the portal datasets by state. States absent here fall
// back to ECHO in the source registry.
var resources = map[string]resourceDef{
	"PA": {
		url:      "https://data.pa.gov/resource/gqbi-fhcy.json",
		facility: "facility_name",
		permit:   "permit_id",
		date:     "violation_date",
		county:   "county",
	},
	"MD": {
		url:      "https://opendata.maryland.gov/resource/9ypy-fq3d.json",
		facility: "facility",
		permit:   "permit_no",
		date:     "date",
		county:   "county",
	},
}

// Supported reports whether a portal dataset exists for the state.
func Supported(state string) bool {
	_, ok := resources[state]
	return ok
}

// Client fetches violation rows from a state's Socrata dataset.
type Client struct {
	httpClient *http.Client
	limit      int
	logger     *slog.Logger

	// overrideURL replaces the per-state dataset URL in tests.
	overrideURL string
}

// NewClient creates a portal client. limit bounds the $limit parameter.
func NewClient(timeout time.Duration, limit int, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		limit:      limit,
		logger:     logger,
	}
}

// FetchFacilities groups the state's violation rows by permit number into
// skeletal facility records. Aggregate compliance columns are left blank;
// flags come from the enforcement rows built by FetchEnforcement.
func (c *Client) FetchFacilities(ctx context.Context, state string) ([]domain.RawFacilityRecord, error) {
	rows, def, err := c.fetchRows(ctx, state)
	if err != nil {
		return nil, err
	}

	byPermit := make(map[string]domain.RawFacilityRecord)
	var order []string
	for _, row := range rows {
		permit := stringField(row, def.permit)
		if permit == "" {
			continue
		}
		if _, seen := byPermit[permit]; !seen {
			order = append(order, permit)
			byPermit[permit] = domain.RawFacilityRecord{
				SourceID: permit,
				Name:     stringField(row, def.facility),
				County:   stringField(row, def.county),
				State:    state,
			}
		}
	}

	records := make([]domain.RawFacilityRecord, 0, len(order))
	for _, permit := range order {
		records = append(records, byPermit[permit])
	}
	return records, nil
}

// FetchEnforcement converts violation rows into per-quarter enforcement
// rows: each violation marks its date's quarter as violating. Duplicate
// (permit, quarter) pairs collapse into one row to keep quarters unique
// per facility.
func (c *Client) FetchEnforcement(ctx context.Context, state string) ([]domain.RawEnforcementRow, error) {
	rows, def, err := c.fetchRows(ctx, state)
	if err != nil {
		return nil, err
	}

	type key struct {
		permit  string
		quarter string
	}
	seen := make(map[key]bool)
	var out []domain.RawEnforcementRow
	for _, row := range rows {
		permit := stringField(row, def.permit)
		quarter, ok := quarterFromDate(stringField(row, def.date))
		if permit == "" || !ok {
			continue
		}
		k := key{permit, quarter}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, domain.RawEnforcementRow{
			SourceID:      permit,
			YearQtr:       quarter,
			ViolationFlag: "Y",
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].YearQtr < out[j].YearQtr
	})
	return out, nil
}

func (c *Client) fetchRows(ctx context.Context, state string) ([]map[string]any, resourceDef, error) {
	def, ok := resources[state]
	if !ok {
		return nil, resourceDef{}, fmt.Errorf("no portal dataset for state %s", state)
	}

	endpoint := def.url
	if c.overrideURL != "" {
		endpoint = c.overrideURL
	}

	params := url.Values{
		"$limit": {strconv.Itoa(c.limit)},
		"$order": {def.date + " DESC"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, resourceDef{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resourceDef{}, fmt.Errorf("portal request %s: %w", state, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, resourceDef{}, fmt.Errorf("portal API error %s: status %d: %s", state, resp.StatusCode, body)
	}

	var rows []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, resourceDef{}, fmt.Errorf("decode portal response: %w", err)
	}
	return rows, def, nil
}

// stringField reads a Socrata cell as a trimmed string. Socrata encodes
// nearly everything as strings; numeric cells are formatted back to text.
func stringField(row map[string]any, key string) string {
	switch v := row[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// quarterFromDate derives the canonical quarter string from an ISO date
// such as "2024-01-15" or "2024-01-15T00:00:00".
func quarterFromDate(date string) (string, bool) {
	if len(date) > 10 {
		date = date[:10]
	}
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "", false
	}
	q := domain.Quarter{Year: t.Year(), Q: (int(t.Month())-1)/3 + 1}
	return q.String(), true
}
