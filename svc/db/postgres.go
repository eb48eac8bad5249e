package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"pasties/pkg/domain"
)

const pgUniqueViolation = "23505"

var postgresSchema = []string{`
CREATE TABLE IF NOT EXISTS pastes (
	id             BIGINT PRIMARY KEY,
	url            TEXT NOT NULL,
	password_hash  TEXT NOT NULL,
	content        TEXT NOT NULL,
	date_published BIGINT NOT NULL,
	date_edited    BIGINT NOT NULL
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_pastes_url ON pastes(url)`,
}

// pgxPool is the subset of *pgxpool.Pool the store uses.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

type Postgres struct {
	pool         pgxPool
	queryTimeout time.Duration
}

func NewPostgres(ctx context.Context, dsn string, maxConns int, queryTimeout time.Duration) (*Postgres, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres url")
	}
	if maxConns > 0 {
		pcfg.MaxConns = int32(maxConns)
	}
	pcfg.MaxConnLifetime = time.Hour
	pcfg.MaxConnIdleTime = 10 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	p := newPostgres(pool, queryTimeout)
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "migration failed")
	}
	return p, nil
}

func newPostgres(pool pgxPool, queryTimeout time.Duration) *Postgres {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &Postgres{pool: pool, queryTimeout: queryTimeout}
}

func (p *Postgres) migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "create schema")
		}
	}
	return nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (p *Postgres) Insert(ctx context.Context, paste *domain.Paste) error {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	const q = `
	INSERT INTO pastes (id, url, password_hash, content, date_published, date_edited)
	VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := p.pool.Exec(ctx, q, paste.ID, paste.URL, paste.PasswordHash, paste.Content, paste.DatePublished, paste.DateEdited)
	if err != nil {
		if isPgUniqueViolation(err) {
			return conflict("insert", err)
		}
		return writeErr("insert", err)
	}
	return nil
}

func (p *Postgres) Retrieve(ctx context.Context, url string) (*domain.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	const q = `
	SELECT id, url, password_hash, content, date_published, date_edited
	FROM pastes WHERE url = $1
	`
	var paste domain.Paste
	err := p.pool.QueryRow(ctx, q, url).Scan(
		&paste.ID, &paste.URL, &paste.PasswordHash, &paste.Content, &paste.DatePublished, &paste.DateEdited,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("retrieve")
	}
	if err != nil {
		return nil, readErr("retrieve", err)
	}
	return &paste, nil
}

func (p *Postgres) Update(ctx context.Context, url string, f domain.PasteFields) error {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	if f.URL == "" {
		f.URL = url
	}
	const q = `
	UPDATE pastes SET url = $1, password_hash = $2, content = $3, date_edited = $4
	WHERE url = $5
	`
	_, err := p.pool.Exec(ctx, q, f.URL, f.PasswordHash, f.Content, f.DateEdited, url)
	if err != nil {
		if isPgUniqueViolation(err) {
			return conflict("update", err)
		}
		return writeErr("update", err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	if _, err := p.pool.Exec(ctx, `DELETE FROM pastes WHERE url = $1`, url); err != nil {
		return writeErr("delete", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
