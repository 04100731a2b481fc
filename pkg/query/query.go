// Package query provides read-side access to captured attempts for the CLI.
// All reads should go through this package instead of directly accessing store.
package query

import (
	"context"
	"time"

	"github.com/Zerofisher/honeypot/pkg/model"
)

// QueryEngine provides the main query interface.
type QueryEngine interface {
	// Attempt queries
	GetAttempt(ctx context.Context, id int64) (*model.ConnectionAttempt, error)
	GetAttempts(ctx context.Context, filter AttemptFilter) ([]*model.ConnectionAttempt, error)
	GetAttemptCount(ctx context.Context) (int, error)

	// Session queries (authoritative row per connection)
	GetSessions(ctx context.Context, filter AttemptFilter) ([]*model.ConnectionAttempt, error)
	GetSessionRows(ctx context.Context, sessionID string) ([]*model.ConnectionAttempt, error)

	// Statistics
	GetPortStats(ctx context.Context) ([]*model.PortStat, error)
	GetTopSources(ctx context.Context, limit int) ([]*model.Source, error)
	GetOverview(ctx context.Context) (*model.Overview, error)
}

// AttemptFilter defines filters for attempt queries.
type AttemptFilter struct {
	// Offset for pagination
	Offset int
	// Limit for pagination (0 means no limit)
	Limit int

	// Time range
	StartTime time.Time
	EndTime   time.Time

	// Address filters
	IP   string
	Port int

	// Session filter
	SessionID string

	// Text search in data
	SearchText string

	// Sorting
	SortBy    string // "id", "timestamp", "port", "ip"
	SortOrder string // "asc", "desc"
}
