package db

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"pasties/pkg/domain"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pastes (
	id             INTEGER PRIMARY KEY,
	url            TEXT NOT NULL,
	password_hash  TEXT NOT NULL,
	content        TEXT NOT NULL,
	date_published INTEGER NOT NULL,
	date_edited    INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_pastes_url ON pastes(url);
`

type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}

func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := newSQLiteFromDB(db, queryTimeout)
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

func newSQLiteFromDB(db *sql.DB, queryTimeout time.Duration) *SQLite {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &SQLite{db: db, queryTimeout: queryTimeout}
}

func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		isUniqueViolation(err) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}

func (s *SQLite) migrate() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	if _, err := s.db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	if _, err := s.db.Exec("PRAGMA synchronous=FULL"); err != nil {
		return errors.Wrap(err, "set synchronous mode")
	}
	_, err := s.db.Exec(sqliteSchema)
	return errors.Wrap(err, "create schema")
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func (s *SQLite) Insert(ctx context.Context, p *domain.Paste) error {
	if err := s.checkCircuit(); err != nil {
		return writeErr("insert", err)
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	const q = `
	INSERT INTO pastes (id, url, password_hash, content, date_published, date_edited)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(queryCtx, q, p.ID, p.URL, p.PasswordHash, p.Content, p.DatePublished, p.DateEdited)
	s.recordError(err)
	if err != nil {
		if isUniqueViolation(err) {
			return conflict("insert", err)
		}
		return writeErr("insert", err)
	}
	return nil
}

func (s *SQLite) Retrieve(ctx context.Context, url string) (*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, readErr("retrieve", err)
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	const q = `
	SELECT id, url, password_hash, content, date_published, date_edited
	FROM pastes WHERE url = ?
	`
	var p domain.Paste
	err := s.db.QueryRowContext(queryCtx, q, url).Scan(
		&p.ID, &p.URL, &p.PasswordHash, &p.Content, &p.DatePublished, &p.DateEdited,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("retrieve")
	}
	s.recordError(err)
	if err != nil {
		return nil, readErr("retrieve", err)
	}
	return &p, nil
}

func (s *SQLite) Update(ctx context.Context, url string, f domain.PasteFields) error {
	if err := s.checkCircuit(); err != nil {
		return writeErr("update", err)
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	if f.URL == "" {
		f.URL = url
	}
	const q = `
	UPDATE pastes SET url = ?, password_hash = ?, content = ?, date_edited = ?
	WHERE url = ?
	`
	_, err := s.db.ExecContext(queryCtx, q, f.URL, f.PasswordHash, f.Content, f.DateEdited, url)
	s.recordError(err)
	if err != nil {
		if isUniqueViolation(err) {
			return conflict("update", err)
		}
		return writeErr("update", err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, url string) error {
	if err := s.checkCircuit(); err != nil {
		return writeErr("delete", err)
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(queryCtx, `DELETE FROM pastes WHERE url = ?`, url)
	s.recordError(err)
	if err != nil {
		return writeErr("delete", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
