package storage

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tag (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		type       TEXT NOT NULL,
		value      TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (type, value)
	)`,
	`CREATE TABLE IF NOT EXISTS chain (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		name         TEXT NOT NULL UNIQUE,
		version      TEXT NOT NULL,
		encrypt_type INTEGER NOT NULL DEFAULT 0,
		root_dir     TEXT NOT NULL,
		sign_addr    TEXT NOT NULL,
		image_source TEXT NOT NULL,
		status       TEXT NOT NULL,
		created_at   TIMESTAMP NOT NULL,
		updated_at   TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agency (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		chain_id     INTEGER NOT NULL REFERENCES chain (id) ON DELETE CASCADE,
		name         TEXT NOT NULL,
		encrypt_type INTEGER NOT NULL DEFAULT 0,
		fingerprint  TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMP NOT NULL,
		UNIQUE (chain_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS host (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		chain_id   INTEGER NOT NULL REFERENCES chain (id) ON DELETE CASCADE,
		agency_id  INTEGER NOT NULL REFERENCES agency (id),
		ip         TEXT NOT NULL,
		ssh_user   TEXT NOT NULL,
		ssh_port   INTEGER NOT NULL,
		root_dir   TEXT NOT NULL,
		status     TEXT NOT NULL,
		next_index INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (chain_id, ip)
	)`,
	`CREATE TABLE IF NOT EXISTS node_group (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		chain_id   INTEGER NOT NULL REFERENCES chain (id) ON DELETE CASCADE,
		group_id   INTEGER NOT NULL,
		node_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (chain_id, group_id)
	)`,
	`CREATE TABLE IF NOT EXISTS front (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		node_id    TEXT NOT NULL UNIQUE,
		chain_id   INTEGER NOT NULL REFERENCES chain (id) ON DELETE CASCADE,
		host_id    INTEGER NOT NULL REFERENCES host (id),
		agency_id  INTEGER NOT NULL REFERENCES agency (id),
		group_id   INTEGER NOT NULL,
		host_index INTEGER NOT NULL,
		status     TEXT NOT NULL,
		image_tag  TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (host_id, host_index)
	)`,
	`CREATE INDEX IF NOT EXISTS front_chain_group ON front (chain_id, group_id)`,
	`CREATE INDEX IF NOT EXISTS host_agency ON host (agency_id)`,
}

// initializeSchema creates the tables and indexes used by the repositories.
func (s *Storage) initializeSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
