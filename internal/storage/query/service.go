package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/xtxerr/statehist/internal/constants"
	"github.com/xtxerr/statehist/internal/logging"
	"github.com/xtxerr/statehist/internal/storage/config"
	"github.com/xtxerr/statehist/internal/validation"
)

// Service answers analytical queries over Parquet interval exports.
// It uses an in-memory DuckDB database; exports are read in place.
type Service struct {
	mu sync.Mutex

	config *config.Config
	db     *sql.DB

	stats ServiceStats
}

// ServiceStats holds service statistics.
type ServiceStats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Truncated       int64
	Errors          int64
}

// StateDuration is the total time one attribute spent in one value.
type StateDuration struct {
	Path      string
	Type      string
	Value     string
	Intervals int64
	Duration  int64
}

// Transition is a change of value of one attribute.
type Transition struct {
	Time int64
	From string
	To   string
}

// New creates a new query service.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Open in-memory DuckDB database
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if cfg.Query.MemoryLimit != "" {
		_, err = db.Exec(fmt.Sprintf("SET memory_limit=%s", validation.QuoteLiteral(cfg.Query.MemoryLimit)))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{
		config: cfg,
		db:     db,
	}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// TimeInState sums, per attribute and value, the time spent in that value.
// Only attributes at or below pathPrefix are considered; an empty prefix
// selects every attribute. Results are ordered by path, longest first.
func (s *Service) TimeInState(ctx context.Context, file, pathPrefix string) ([]StateDuration, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT
			path, type, value,
			count(*) AS intervals,
			CAST(sum("end" - start + 1) AS BIGINT) AS duration
		FROM (
			SELECT path, type, %s AS value, start, "end"
			FROM read_parquet(%s)
			WHERE $1 = '' OR path = $1 OR starts_with(path, $1 || '%s')
		)
		GROUP BY path, type, value
		ORDER BY path, duration DESC, value
	`, valueExpr, validation.QuoteLiteral(file), constants.PathSeparator)

	rows, err := s.db.QueryContext(ctx, query, strings.TrimSuffix(pathPrefix, constants.PathSeparator))
	if err != nil {
		s.recordError()
		return nil, fmt.Errorf("time in state: %w", err)
	}
	defer rows.Close()

	var results []StateDuration
	for rows.Next() {
		var r StateDuration
		if err := rows.Scan(&r.Path, &r.Type, &r.Value, &r.Intervals, &r.Duration); err != nil {
			s.recordError()
			return nil, fmt.Errorf("scan row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		s.recordError()
		return nil, err
	}

	s.recordQuery(len(results), false)
	return results, nil
}

// Transitions lists the value changes of the attribute at path, in time
// order. The first interval of the attribute is not a transition.
func (s *Service) Transitions(ctx context.Context, file, path string) ([]Transition, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT start, prev_value, value FROM (
			SELECT
				start,
				%[1]s AS value,
				lag(%[1]s) OVER (ORDER BY start) AS prev_value
			FROM read_parquet(%[2]s)
			WHERE path = $1
		)
		WHERE prev_value IS NOT NULL
		ORDER BY start
	`, valueExpr, validation.QuoteLiteral(file))

	rows, err := s.db.QueryContext(ctx, query, path)
	if err != nil {
		s.recordError()
		return nil, fmt.Errorf("transitions: %w", err)
	}
	defer rows.Close()

	var results []Transition
	for rows.Next() {
		var tr Transition
		if err := rows.Scan(&tr.Time, &tr.From, &tr.To); err != nil {
			s.recordError()
			return nil, fmt.Errorf("scan row: %w", err)
		}
		results = append(results, tr)
	}
	if err := rows.Err(); err != nil {
		s.recordError()
		return nil, err
	}

	s.recordQuery(len(results), false)
	return results, nil
}

// ExecuteSQL executes a raw SQL query using DuckDB. At most
// Query.MaxRows rows are returned.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.recordError()
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		s.recordError()
		return nil, err
	}

	maxRows := s.config.Query.MaxRows
	truncated := false

	var results []map[string]interface{}
	for rows.Next() {
		if maxRows > 0 && len(results) == maxRows {
			truncated = true
			break
		}

		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			s.recordError()
			return nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		s.recordError()
		return nil, err
	}

	if truncated {
		logging.Component("query").Warn("result truncated",
			"max_rows", maxRows,
		)
	}
	s.recordQuery(len(results), truncated)
	return results, nil
}

// Stats returns query statistics.
func (s *Service) Stats() ServiceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// =============================================================================
// Helpers
// =============================================================================

// valueExpr renders the value column of an export, with null intervals
// spelled the way state values print them.
var valueExpr = fmt.Sprintf("CASE WHEN type = '%s' THEN 'nullValue' ELSE coalesce(value, '') END",
	constants.TypeNull)

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Query.Timeout > 0 {
		return context.WithTimeout(ctx, s.config.Query.Timeout)
	}
	return context.WithCancel(ctx)
}

func (s *Service) recordQuery(rows int, truncated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(rows)
	if truncated {
		s.stats.Truncated++
	}
}

func (s *Service) recordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Errors++
}
