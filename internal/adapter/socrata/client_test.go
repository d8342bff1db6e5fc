package socrata

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const paRows = `[
	{"facility_name":"Allegheny Works","permit_id":"PA0000001","violation_date":"2024-02-10","county":"Allegheny"},
	{"facility_name":"Allegheny Works","permit_id":"PA0000001","violation_date":"2024-03-01","county":"Allegheny"},
	{"facility_name":"Allegheny Works","permit_id":"PA0000001","violation_date":"2023-11-20T00:00:00","county":"Allegheny"},
	{"facility_name":"Erie Outfall","permit_id":"PA0000002","violation_date":"2024-01-05","county":"Erie"},
	{"facility_name":"No Permit","violation_date":"2024-01-05","county":"Erie"},
	{"facility_name":"Bad Date","permit_id":"PA0000003","violation_date":"soon","county":"Erie"}
]`

func newTestClient(t *testing.T, body string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1000", r.URL.Query().Get("$limit"))
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(5*time.Second, 1000, slog.Default())
	c.overrideURL = srv.URL
	return c
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("PA"))
	assert.True(t, Supported("MD"))
	assert.False(t, Supported("TX"))
}

func TestFetchFacilities_GroupsByPermit(t *testing.T) {
	client := newTestClient(t, paRows)

	records, err := client.FetchFacilities(context.Background(), "PA")
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "PA0000001", records[0].SourceID)
	assert.Equal(t, "Allegheny Works", records[0].Name)
	assert.Equal(t, "Allegheny", records[0].County)
	assert.Equal(t, "PA", records[0].State)
	assert.Equal(t, "PA0000002", records[1].SourceID)
	assert.Equal(t, "PA0000003", records[2].SourceID)
}

func TestFetchEnforcement_QuartersFromDates(t *testing.T) {
	client := newTestClient(t, paRows)

	rows, err := client.FetchEnforcement(context.Background(), "PA")
	require.NoError(t, err)

	// PA0000001: Feb and Mar 2024 collapse into 2024Q1, Nov 2023 is 2023Q4.
	// PA0000002: Jan 2024 is 2024Q1. The bad-date row is dropped.
	require.Len(t, rows, 3)
	assert.Equal(t, "PA0000001", rows[0].SourceID)
	assert.Equal(t, "2023Q4", rows[0].YearQtr)
	assert.Equal(t, "PA0000001", rows[1].SourceID)
	assert.Equal(t, "2024Q1", rows[1].YearQtr)
	assert.Equal(t, "PA0000002", rows[2].SourceID)
	assert.Equal(t, "2024Q1", rows[2].YearQtr)
	for _, row := range rows {
		assert.Equal(t, "Y", row.ViolationFlag)
	}
}

func TestFetchFacilities_UnsupportedState(t *testing.T) {
	client := NewClient(time.Second, 10, slog.Default())
	_, err := client.FetchFacilities(context.Background(), "TX")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no portal dataset")
}

func TestFetchRows_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "throttled", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(time.Second, 10, slog.Default())
	client.overrideURL = srv.URL

	_, err := client.FetchEnforcement(context.Background(), "MD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestQuarterFromDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2024-01-15", "2024Q1", true},
		{"2024-04-01", "2024Q2", true},
		{"2024-09-30", "2024Q3", true},
		{"2024-12-31", "2024Q4", true},
		{"2024-06-15T12:30:00", "2024Q2", true},
		{"junk", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := quarterFromDate(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
