// Package postgres persists facilities in PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/permitwatch/permitwatch/internal/domain"
)

// ErrNotFound is returned by Get when no facility matches the NPDES ID.
var ErrNotFound = errors.New("facility not found")

// Store wraps a PostgreSQL connection pool for the facilities table.
type Store struct {
	pool *pgxpool.Pool
}

// Open opens a connection pool and verifies it with a ping.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks database connectivity, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateSchema creates the facilities table and its indexes.
func (s *Store) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS facilities (
		npdes_id                  TEXT PRIMARY KEY,
		registry_id               TEXT,
		name                      TEXT NOT NULL,
		city                      TEXT,
		county                    TEXT,
		state                     TEXT NOT NULL DEFAULT 'TX',
		zip_code                  TEXT,
		latitude                  DOUBLE PRECISION,
		longitude                 DOUBLE PRECISION,
		cwa_current_status        TEXT,
		quarters_with_violations  INTEGER NOT NULL DEFAULT 0,
		formal_enforcement_count  INTEGER NOT NULL DEFAULT 0,
		total_penalties           DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_inspection_date      TIMESTAMPTZ,
		is_repeat_violator        BOOLEAN NOT NULL DEFAULT FALSE,
		has_penalty_gap           BOOLEAN NOT NULL DEFAULT FALSE,
		created_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_echo_sync            TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_facilities_name ON facilities(name);
	CREATE INDEX IF NOT EXISTS idx_facilities_state ON facilities(state);
	CREATE INDEX IF NOT EXISTS idx_facilities_flags ON facilities(is_repeat_violator, has_penalty_gap);
	CREATE INDEX IF NOT EXISTS idx_facilities_county_city ON facilities(county, city);
	`

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

const upsertSQL = `
	INSERT INTO facilities (
		npdes_id, registry_id, name, city, county, state, zip_code,
		latitude, longitude, cwa_current_status,
		quarters_with_violations, formal_enforcement_count, total_penalties,
		last_inspection_date, is_repeat_violator, has_penalty_gap, last_echo_sync
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	ON CONFLICT (npdes_id) DO UPDATE SET
		registry_id              = EXCLUDED.registry_id,
		name                     = EXCLUDED.name,
		city                     = EXCLUDED.city,
		county                   = EXCLUDED.county,
		state                    = EXCLUDED.state,
		zip_code                 = EXCLUDED.zip_code,
		latitude                 = EXCLUDED.latitude,
		longitude                = EXCLUDED.longitude,
		cwa_current_status       = EXCLUDED.cwa_current_status,
		quarters_with_violations = EXCLUDED.quarters_with_violations,
		formal_enforcement_count = EXCLUDED.formal_enforcement_count,
		total_penalties          = EXCLUDED.total_penalties,
		last_inspection_date     = EXCLUDED.last_inspection_date,
		is_repeat_violator       = EXCLUDED.is_repeat_violator,
		has_penalty_gap          = EXCLUDED.has_penalty_gap,
		last_echo_sync           = EXCLUDED.last_echo_sync,
		updated_at               = NOW()`

// UpsertFacilities writes a batch of facilities, inserting new NPDES IDs
// and refreshing existing rows.
func (s *Store) UpsertFacilities(ctx context.Context, facilities []domain.Facility) error {
	if len(facilities) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, f := range facilities {
		batch.Queue(upsertSQL,
			f.NPDESID, f.RegistryID, f.Name, f.City, f.County, f.State, f.Zip,
			f.Lat, f.Lon, f.CWAStatus,
			f.QuartersWithViolations, f.FormalEnforcementCount, f.TotalPenalties,
			f.LastInspection, f.Flags.RepeatViolator, f.Flags.PenaltyGap, f.LastSync,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range facilities {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert facility batch: %w", err)
		}
	}
	return nil
}

const facilityColumns = `
	npdes_id, registry_id, name, city, county, state, zip_code,
	latitude, longitude, cwa_current_status,
	quarters_with_violations, formal_enforcement_count, total_penalties,
	last_inspection_date, is_repeat_violator, has_penalty_gap, last_echo_sync`

// Search returns one page of facilities matching the query, ordered by
// quarters in violation descending.
func (s *Store) Search(ctx context.Context, q domain.SearchQuery) (domain.SearchResult, error) {
	where, args := buildWhere(q)

	result := domain.SearchResult{
		Page:       q.Page,
		PerPage:    q.PerPage,
		Facilities: []domain.Facility{},
	}

	countSQL := "SELECT COUNT(*) FROM facilities" + where
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&result.Total); err != nil {
		return domain.SearchResult{}, fmt.Errorf("count facilities: %w", err)
	}

	offset := (q.Page - 1) * q.PerPage
	pageSQL := "SELECT" + facilityColumns + " FROM facilities" + where +
		" ORDER BY quarters_with_violations DESC, npdes_id" +
		" LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, q.PerPage, offset)

	rows, err := s.pool.Query(ctx, pageSQL, args...)
	if err != nil {
		return domain.SearchResult{}, fmt.Errorf("search facilities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return domain.SearchResult{}, err
		}
		result.Facilities = append(result.Facilities, f)
	}
	if err := rows.Err(); err != nil {
		return domain.SearchResult{}, fmt.Errorf("search facilities: %w", err)
	}
	return result, nil
}

func buildWhere(q domain.SearchQuery) (string, []any) {
	var clauses []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if q.Text != "" {
		p := arg("%" + q.Text + "%")
		clauses = append(clauses, "(name ILIKE "+p+" OR npdes_id ILIKE "+p+")")
	}
	if q.State != "" {
		clauses = append(clauses, "state = "+arg(q.State))
	}
	if q.County != "" {
		clauses = append(clauses, "county ILIKE "+arg("%"+q.County+"%"))
	}
	if q.RepeatViolatorsOnly {
		clauses = append(clauses, "is_repeat_violator")
	}
	if q.PenaltyGapsOnly {
		clauses = append(clauses, "has_penalty_gap")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// Get fetches one facility by NPDES ID, returning ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, npdesID string) (domain.Facility, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT"+facilityColumns+" FROM facilities WHERE npdes_id = $1", npdesID)

	f, err := scanFacility(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Facility{}, ErrNotFound
	}
	if err != nil {
		return domain.Facility{}, err
	}
	return f, nil
}

// Flagged returns the top facilities for one flag: repeat violators by
// quarters in violation, penalty gaps by formal enforcement count.
func (s *Store) Flagged(ctx context.Context, flag domain.FlagType, limit int) ([]domain.Facility, error) {
	var where, order string
	switch flag {
	case domain.FlagRepeatViolator:
		where = "is_repeat_violator"
		order = "quarters_with_violations DESC"
	case domain.FlagPenaltyGap:
		where = "has_penalty_gap"
		order = "formal_enforcement_count DESC"
	default:
		return nil, fmt.Errorf("unknown flag type %q", flag)
	}

	rows, err := s.pool.Query(ctx,
		"SELECT"+facilityColumns+" FROM facilities WHERE "+where+
			" ORDER BY "+order+", npdes_id LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("flagged facilities: %w", err)
	}
	defer rows.Close()

	facilities := []domain.Facility{}
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, err
		}
		facilities = append(facilities, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flagged facilities: %w", err)
	}
	return facilities, nil
}

// Stats summarizes the facility table.
func (s *Store) Stats(ctx context.Context) (domain.Stats, error) {
	var stats domain.Stats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_repeat_violator),
		       COUNT(*) FILTER (WHERE has_penalty_gap),
		       MAX(last_echo_sync)
		FROM facilities`).
		Scan(&stats.TotalFacilities, &stats.RepeatViolators, &stats.PenaltyGaps, &stats.LastSync)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("facility stats: %w", err)
	}
	return stats, nil
}

func scanFacility(row pgx.Row) (domain.Facility, error) {
	var f domain.Facility
	err := row.Scan(
		&f.NPDESID, &f.RegistryID, &f.Name, &f.City, &f.County, &f.State, &f.Zip,
		&f.Lat, &f.Lon, &f.CWAStatus,
		&f.QuartersWithViolations, &f.FormalEnforcementCount, &f.TotalPenalties,
		&f.LastInspection, &f.Flags.RepeatViolator, &f.Flags.PenaltyGap, &f.LastSync,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Facility{}, err
		}
		return domain.Facility{}, fmt.Errorf("scan facility: %w", err)
	}
	return f, nil
}
