// Package echo implements domain.Source against EPA's Enforcement and
// Compliance History Online (ECHO) Clean Water Act REST services.
package echo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/permitwatch/permitwatch/internal/domain"
)

const (
	facilitiesEndpoint = "/cwa_rest_services.get_facilities"
	violationsEndpoint = "/cwa_rest_services.get_cwa_violations"
)

// Client fetches facility and enforcement data from the ECHO API.
// It serves every state and is the default Source.
type Client struct {
	baseURL    string
	httpClient *http.Client
	pageSize   int
	logger     *slog.Logger
}

// NewClient creates an ECHO API client. pageSize bounds the responseset
// parameter and drives p_off pagination.
func NewClient(baseURL string, timeout time.Duration, pageSize int, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		pageSize: pageSize,
		logger:   logger,
	}
}

// FetchFacilities pages through get_facilities for active permits with at
// least one quarter in violation (p_act=Y, p_qiv=1), collecting every row.
func (c *Client) FetchFacilities(ctx context.Context, state string) ([]domain.RawFacilityRecord, error) {
	var all []domain.RawFacilityRecord
	offset := 0
	for {
		params := url.Values{
			"output":      {"JSON"},
			"p_st":        {state},
			"p_act":       {"Y"},
			"p_qiv":       {"1"},
			"responseset": {strconv.Itoa(c.pageSize)},
		}
		if offset > 0 {
			params.Set("p_off", strconv.Itoa(offset))
		}

		var page facilitiesResponse
		if err := c.getJSON(ctx, facilitiesEndpoint, params, &page); err != nil {
			return nil, fmt.Errorf("fetch facilities %s offset %d: %w", state, offset, err)
		}

		batch := page.Results.Facilities
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		c.logger.Debug("fetched facility page", "state", state, "offset", offset, "rows", len(batch))

		if len(batch) < c.pageSize {
			break
		}
		offset += c.pageSize
	}
	return all, nil
}

// FetchEnforcement pages through get_cwa_violations for the state's
// per-quarter compliance rows.
func (c *Client) FetchEnforcement(ctx context.Context, state string) ([]domain.RawEnforcementRow, error) {
	var all []domain.RawEnforcementRow
	offset := 0
	for {
		params := url.Values{
			"output":      {"JSON"},
			"p_st":        {state},
			"responseset": {strconv.Itoa(c.pageSize)},
		}
		if offset > 0 {
			params.Set("p_off", strconv.Itoa(offset))
		}

		var page violationsResponse
		if err := c.getJSON(ctx, violationsEndpoint, params, &page); err != nil {
			return nil, fmt.Errorf("fetch violations %s offset %d: %w", state, offset, err)
		}

		batch := page.Results.Violations
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)

		if len(batch) < c.pageSize {
			break
		}
		offset += c.pageSize
	}
	return all, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	fullURL := c.baseURL + endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("echo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("echo API error: status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ECHO API response envelopes.

type facilitiesResponse struct {
	Results struct {
		Facilities []domain.RawFacilityRecord `json:"Facilities"`
		Message    string                     `json:"Message"`
	} `json:"Results"`
}

type violationsResponse struct {
	Results struct {
		Violations []domain.RawEnforcementRow `json:"Violations"`
		Message    string                     `json:"Message"`
	} `json:"Results"`
}
