package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/Zerofisher/honeypot/banner"
	"github.com/Zerofisher/honeypot/pkg/model"
	"github.com/Zerofisher/honeypot/pkg/store/sqlite"
)

// Rows written before session tracking have no session_id; each of them is
// its own session.
const sessionKey = "COALESCE(session_id, 'row:' || id)"

const attemptColumns = `id, timestamp, ip_address, port, data, user_agent, session_id, seq`

// SQLiteEngine implements QueryEngine using SQLite storage.
type SQLiteEngine struct {
	store *sqlite.SQLiteStore
}

var _ QueryEngine = (*SQLiteEngine)(nil)

// NewSQLiteEngine creates a new SQLite-backed query engine.
func NewSQLiteEngine(store *sqlite.SQLiteStore) *SQLiteEngine {
	return &SQLiteEngine{store: store}
}

// Open opens an existing attempt database read-only.
func Open(dbPath string) (*SQLiteEngine, error) {
	store, err := sqlite.New(sqlite.Config{DBPath: dbPath, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("open attempts db: %w", err)
	}
	return NewSQLiteEngine(store), nil
}

// Close closes the underlying store.
func (e *SQLiteEngine) Close() error {
	return e.store.Close()
}

// GetAttempt retrieves a single attempt by id.
func (e *SQLiteEngine) GetAttempt(ctx context.Context, id int64) (*model.ConnectionAttempt, error) {
	row := e.store.DB().QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM connection_attempts WHERE id = ?`, id)
	return scanAttempt(row)
}

// GetAttempts retrieves every stored row (snapshots included) with optional filtering.
func (e *SQLiteEngine) GetAttempts(ctx context.Context, filter AttemptFilter) ([]*model.ConnectionAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM connection_attempts WHERE 1=1`
	return e.queryAttempts(ctx, query, filter)
}

// GetAttemptCount returns total row count.
func (e *SQLiteEngine) GetAttemptCount(ctx context.Context) (int, error) {
	var count int
	err := e.store.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM connection_attempts").Scan(&count)
	return count, err
}

// GetSessions returns only the authoritative (highest seq) row of each session.
func (e *SQLiteEngine) GetSessions(ctx context.Context, filter AttemptFilter) ([]*model.ConnectionAttempt, error) {
	query := `WITH latest AS (
		SELECT *, ROW_NUMBER() OVER (
			PARTITION BY ` + sessionKey + ` ORDER BY seq DESC, id DESC
		) AS rn
		FROM connection_attempts
	)
	SELECT ` + attemptColumns + ` FROM latest WHERE rn = 1`
	return e.queryAttempts(ctx, query, filter)
}

// GetSessionRows returns every snapshot of one session in write order.
func (e *SQLiteEngine) GetSessionRows(ctx context.Context, sessionID string) ([]*model.ConnectionAttempt, error) {
	return e.GetAttempts(ctx, AttemptFilter{
		SessionID: sessionID,
		SortBy:    "seq",
		SortOrder: "asc",
	})
}

func (e *SQLiteEngine) queryAttempts(ctx context.Context, query string, filter AttemptFilter) ([]*model.ConnectionAttempt, error) {
	args := []interface{}{}

	if filter.IP != "" {
		query += " AND ip_address = ?"
		args = append(args, filter.IP)
	}
	if filter.Port != 0 {
		query += " AND port = ?"
		args = append(args, filter.Port)
	}
	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.SearchText != "" {
		query += " AND data LIKE ?"
		args = append(args, "%"+filter.SearchText+"%")
	}
	if !filter.StartTime.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartTime.UTC())
	}
	if !filter.EndTime.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndTime.UTC())
	}

	// Sorting
	sortCol := "id"
	switch filter.SortBy {
	case "timestamp":
		sortCol = "timestamp"
	case "port":
		sortCol = "port"
	case "ip":
		sortCol = "ip_address"
	case "seq":
		sortCol = "seq"
	}
	sortOrder := "ASC"
	if filter.SortOrder == "desc" {
		sortOrder = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id %s", sortCol, sortOrder, sortOrder)

	// Pagination
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	} else if filter.Offset > 0 {
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := e.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*model.ConnectionAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// ────────────────────────────────────────────────────────────────────────────────
// Statistics
// ────────────────────────────────────────────────────────────────────────────────

// GetPortStats returns session and row counts per port, busiest first.
func (e *SQLiteEngine) GetPortStats(ctx context.Context) ([]*model.PortStat, error) {
	rows, err := e.store.DB().QueryContext(ctx, `
		SELECT port, COUNT(DISTINCT `+sessionKey+`) AS sessions, COUNT(*) AS cnt
		FROM connection_attempts
		GROUP BY port
		ORDER BY sessions DESC, port ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*model.PortStat
	var totalSessions int
	for rows.Next() {
		var stat model.PortStat
		if err := rows.Scan(&stat.Port, &stat.Sessions, &stat.Rows); err != nil {
			return nil, err
		}
		stat.Service = banner.Service(stat.Port)
		totalSessions += stat.Sessions
		stats = append(stats, &stat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Calculate percentages
	if totalSessions > 0 {
		for _, s := range stats {
			s.Percent = float64(s.Sessions) * 100 / float64(totalSessions)
		}
	}
	return stats, nil
}

// GetTopSources returns the remote addresses with the most sessions.
func (e *SQLiteEngine) GetTopSources(ctx context.Context, limit int) ([]*model.Source, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := e.store.DB().QueryContext(ctx, `
		SELECT ip_address,
		       COUNT(DISTINCT `+sessionKey+`) AS sessions,
		       COUNT(DISTINCT port),
		       MIN(timestamp), MAX(timestamp)
		FROM connection_attempts
		GROUP BY ip_address
		ORDER BY sessions DESC, ip_address ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []*model.Source
	for rows.Next() {
		var src model.Source
		var first, last interface{}
		if err := rows.Scan(&src.IPAddress, &src.Sessions, &src.Ports, &first, &last); err != nil {
			return nil, err
		}
		src.FirstSeen = parseTime(first)
		src.LastSeen = parseTime(last)
		sources = append(sources, &src)
	}
	return sources, rows.Err()
}

// GetOverview returns store-wide totals.
func (e *SQLiteEngine) GetOverview(ctx context.Context) (*model.Overview, error) {
	ov := &model.Overview{}
	var first, last interface{}

	err := e.store.DB().QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT `+sessionKey+`),
		       COUNT(DISTINCT ip_address),
		       MIN(timestamp), MAX(timestamp)
		FROM connection_attempts`).Scan(
		&ov.TotalRows, &ov.TotalSessions, &ov.UniqueSources, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("query overview: %w", err)
	}
	ov.FirstSeen = parseTime(first)
	ov.LastSeen = parseTime(last)

	// A session is silent when even its latest snapshot is empty.
	err = e.store.DB().QueryRowContext(ctx, `
		WITH latest AS (
			SELECT data, ROW_NUMBER() OVER (
				PARTITION BY `+sessionKey+` ORDER BY seq DESC, id DESC
			) AS rn
			FROM connection_attempts
		)
		SELECT COUNT(*) FROM latest WHERE rn = 1 AND (data IS NULL OR data = '')`).Scan(&ov.SilentSessions)
	if err != nil {
		return nil, fmt.Errorf("query silent sessions: %w", err)
	}

	return ov, nil
}

// ────────────────────────────────────────────────────────────────────────────────
// Scanning
// ────────────────────────────────────────────────────────────────────────────────

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAttempt(row scanner) (*model.ConnectionAttempt, error) {
	var (
		a         model.ConnectionAttempt
		ts        interface{}
		ip        sql.NullString
		data      sql.NullString
		userAgent sql.NullString
		sessionID sql.NullString
	)
	if err := row.Scan(&a.ID, &ts, &ip, &a.Port, &data, &userAgent, &sessionID, &a.Seq); err != nil {
		return nil, err
	}
	a.Timestamp = parseTime(ts)
	a.IPAddress = ip.String
	a.Data = data.String
	a.UserAgent = userAgent.String
	a.SessionID = sessionID.String
	return &a, nil
}

// parseTime accepts whatever the driver hands back for a DATETIME column:
// a time.Time for plain column reads, text for aggregates such as MIN().
func parseTime(v interface{}) time.Time {
	var s string
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return time.Time{}
	}
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts
		}
	}
	return time.Time{}
}
