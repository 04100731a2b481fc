// Package sqlite provides the SQLite implementation of store.Store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/Zerofisher/honeypot/pkg/model"
	"github.com/Zerofisher/honeypot/pkg/store"
)

const defaultQueueSize = 256

// Config holds configuration for the SQLite store.
type Config struct {
	// Path to the SQLite database file.
	DBPath string

	// ReadOnly opens the database in read-only mode (query tooling).
	// Insert always fails on a read-only store.
	ReadOnly bool

	// WAL enables WAL mode so readers do not block the writer.
	WAL bool

	// QueueSize is the number of inserts that may wait for the writer.
	// Defaults to 256 if <= 0.
	QueueSize int

	// Logger receives write failures. Defaults to a no-op logger.
	Logger *zerolog.Logger

	// OnWriteError is called after a failed insert has been logged.
	OnWriteError func(error)
}

// SQLiteStore is the SQLite implementation of store.Store.
//
// A single writer goroutine owns every mutation. Insert hands the attempt to
// it over a channel and waits for the assigned id, so concurrent sessions
// never write to the database directly.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
	log  zerolog.Logger

	insertStmt *sql.Stmt

	// Writer state
	mu       sync.RWMutex // guards closed against sends on reqs
	closed   bool
	reqs     chan insertRequest
	done     chan struct{}
	once     sync.Once
	closeErr error
}

type insertRequest struct {
	attempt *model.ConnectionAttempt
	reply   chan insertResult
}

type insertResult struct {
	id  int64
	err error
}

var _ store.Store = (*SQLiteStore)(nil)

// New opens (creating if needed) the database at cfg.DBPath, creates the
// schema if it is absent, and starts the writer.
func New(cfg Config) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	if !cfg.ReadOnly {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	// Build DSN
	dsn := "file:" + cfg.DBPath + "?_busy_timeout=5000"
	if cfg.ReadOnly {
		dsn += "&mode=ro"
	}
	if cfg.WAL {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single connection: SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:   db,
		path: cfg.DBPath,
		cfg:  cfg,
		log:  zerolog.Nop(),
	}
	if cfg.Logger != nil {
		s.log = *cfg.Logger
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if cfg.ReadOnly {
		return s, nil
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	s.insertStmt, err = db.Prepare(`INSERT INTO connection_attempts (
		timestamp, ip_address, port, data, user_agent, session_id, seq
	) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}

	s.reqs = make(chan insertRequest, cfg.QueueSize)
	s.done = make(chan struct{})
	go s.run()

	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// DB returns the underlying database connection for direct queries.
// Use with caution - writes must go through Insert.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close stops accepting inserts, drains the queue and closes the database.
// Subsequent calls return the result of the first.
func (s *SQLiteStore) Close() error {
	s.once.Do(func() {
		if s.reqs != nil {
			s.mu.Lock()
			s.closed = true
			close(s.reqs)
			s.mu.Unlock()
			<-s.done
		}
		if s.insertStmt != nil {
			s.insertStmt.Close()
		}
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// ────────────────────────────────────────────────────────────────────────────────
// Schema Initialization
// ────────────────────────────────────────────────────────────────────────────────

// Ordering law for connection_attempts: rows sharing a session_id are written
// with strictly increasing seq, each data column extends the previous one, and
// the highest seq per session is the authoritative capture.
const schema = `
-- Meta table for store metadata
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT
);

-- Connection attempts (append-only snapshots)
CREATE TABLE IF NOT EXISTS connection_attempts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp  DATETIME DEFAULT CURRENT_TIMESTAMP,
	ip_address TEXT,
	port       INTEGER,
	data       TEXT,
	user_agent TEXT,
	session_id TEXT,
	seq        INTEGER NOT NULL DEFAULT 0
);
`

const indexes = `
CREATE INDEX IF NOT EXISTS idx_attempts_timestamp ON connection_attempts(timestamp);
CREATE INDEX IF NOT EXISTS idx_attempts_ip ON connection_attempts(ip_address);
CREATE INDEX IF NOT EXISTS idx_attempts_port ON connection_attempts(port);
CREATE INDEX IF NOT EXISTS idx_attempts_session ON connection_attempts(session_id, seq);
`

func (s *SQLiteStore) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	// Databases written before sessions were tracked lack the linkage columns.
	if err := s.addColumnIfMissing("session_id", "TEXT"); err != nil {
		return err
	}
	if err := s.addColumnIfMissing("seq", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}

	if _, err := s.db.Exec(indexes); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}

	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
		"schema_version", fmt.Sprintf("%d", store.SchemaVersion))
	return err
}

func (s *SQLiteStore) addColumnIfMissing(name, decl string) error {
	rows, err := s.db.Query(`PRAGMA table_info(connection_attempts)`)
	if err != nil {
		return fmt.Errorf("table info: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid      int
			col, typ string
			notNull  int
			dflt     sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &col, &typ, &notNull, &dflt, &pk); err != nil {
			return err
		}
		if col == name {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	if _, err := s.db.Exec(fmt.Sprintf(`ALTER TABLE connection_attempts ADD COLUMN %s %s`, name, decl)); err != nil {
		return fmt.Errorf("add column %s: %w", name, err)
	}
	return nil
}

// SchemaVersion returns the schema version recorded in the meta table.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&value)
	if err != nil {
		return 0, err
	}
	var v int
	fmt.Sscanf(value, "%d", &v)
	return v, nil
}

// ────────────────────────────────────────────────────────────────────────────────
// Write Path
// ────────────────────────────────────────────────────────────────────────────────

// Insert appends a to the store and returns its id. On failure the error is
// logged and 0 is returned. a.ID and a zero a.Timestamp are filled in.
func (s *SQLiteStore) Insert(ctx context.Context, a *model.ConnectionAttempt) int64 {
	id, err := s.insert(ctx, a)
	if err != nil {
		s.log.Error().Err(err).
			Str("ip", a.IPAddress).
			Int("port", a.Port).
			Str("session", a.SessionID).
			Msg("Error logging attempt to database")
		if s.cfg.OnWriteError != nil {
			s.cfg.OnWriteError(err)
		}
		return 0
	}
	return id
}

func (s *SQLiteStore) insert(ctx context.Context, a *model.ConnectionAttempt) (int64, error) {
	if s.cfg.ReadOnly {
		return 0, fmt.Errorf("store opened read-only")
	}

	req := insertRequest{attempt: a, reply: make(chan insertResult, 1)}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0, store.ErrClosed
	}
	select {
	case s.reqs <- req:
	case <-ctx.Done():
		s.mu.RUnlock()
		return 0, ctx.Err()
	}
	s.mu.RUnlock()

	// The writer answers every queued request, including during Close.
	res := <-req.reply
	return res.id, res.err
}

// run is the single writer. Each request is its own statement; there is no
// batching, so an attempt is durable once Insert returns.
func (s *SQLiteStore) run() {
	defer close(s.done)
	for req := range s.reqs {
		id, err := s.write(req.attempt)
		req.reply <- insertResult{id: id, err: err}
	}
}

func (s *SQLiteStore) write(a *model.ConnectionAttempt) (int64, error) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}

	var sessionID sql.NullString
	if a.SessionID != "" {
		sessionID = sql.NullString{String: a.SessionID, Valid: true}
	}

	res, err := s.insertStmt.Exec(
		a.Timestamp.UTC(), a.IPAddress, a.Port, a.Data, a.UserAgent, sessionID, a.Seq,
	)
	if err != nil {
		return 0, fmt.Errorf("insert attempt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	a.ID = id
	return id, nil
}
