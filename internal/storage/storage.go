// Package storage provides the relational store for chainmgr.
//
// The store records the desired topology of every chain: chains, hosts,
// agencies, fronts (nodes), groups and the known version tags. It is the
// single source of recorded-state truth. Mutations that must commit together
// run inside Storage.Atomic; background status updates use Storage.Repos.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
	"github.com/sirupsen/logrus"

	"evalgo.org/chainmgr/internal/config"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Storage owns the database handle.
type Storage struct {
	db  *sqlx.DB
	log logrus.FieldLogger
}

// New opens the database described by cfg and ensures the schema exists.
func New(cfg config.DatabaseConfig, log logrus.FieldLogger) (*Storage, error) {
	return Open(cfg.Driver, cfg.Path, cfg.BusyTimeout, log)
}

// Open opens a sqlite database at path.
func Open(driver, path string, busyTimeout time.Duration, log logrus.FieldLogger) (*Storage, error) {
	if driver == "" {
		driver = "sqlite3"
	}
	// _txlock=immediate takes the write lock at BEGIN so two writers never
	// deadlock upgrading a shared lock.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate",
		path, busyTimeout.Milliseconds())

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Storage{db: db, log: log}

	if err := s.initializeSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return s, nil
}

// Close closes the database handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping verifies the database handle is usable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Repos returns repositories bound to the database handle, outside any transaction.
func (s *Storage) Repos() *Repos {
	return &Repos{q: s.db}
}

// Atomic runs fn inside a single transaction. The transaction commits when fn
// returns nil and rolls back on error or panic. Only repository calls and
// local file generation belong inside fn; remote I/O must happen outside.
func (s *Storage) Atomic(ctx context.Context, description string, fn func(r *Repos) error) (err error) {
	start := time.Now()
	defer func() {
		if delta := time.Since(start); delta > time.Second {
			s.log.WithField("description", description).Warnf("atomic: tx took %v", delta)
		}
	}()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", description, err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			var ok bool
			if err, ok = r.(error); !ok {
				err = fmt.Errorf("%v", r)
			}
			err = fmt.Errorf("%s: panic: %w", description, err)
		}
	}()

	if err = fn(&Repos{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.WithField("description", description).Errorf("atomic: rollback failed: %v", rbErr)
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", description, err)
	}
	return nil
}

// Repos groups the per-entity repository operations over one handle.
type Repos struct {
	q sqlx.ExtContext
}

func (r *Repos) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	err := sqlx.GetContext(ctx, r.q, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *Repos) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, r.q, dest, query, args...)
}

func (r *Repos) insert(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// exec runs a statement and reports ErrNotFound when it touched no row.
func (r *Repos) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repos) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, r.q, &n, query, args...); err != nil {
		return 0, err
	}
	return n, nil
}

// inClause expands a query with an IN (?) placeholder for a slice argument.
func inClause(query string, args ...interface{}) (string, []interface{}, error) {
	return sqlx.In(query, args...)
}

func now() time.Time {
	return time.Now().UTC()
}
