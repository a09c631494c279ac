// Copyright 2024 Treeline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store implements the bitemporal persistence layer over a
// libsql-backed SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/tursodatabase/go-libsql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// Options configures how the database is opened.
type Options struct {
	// BusyTimeout in milliseconds; zero means DefaultBusyTimeout.
	BusyTimeout int
}

func (o Options) busyTimeout() int {
	if o.BusyTimeout > 0 {
		return o.BusyTimeout
	}
	return DefaultBusyTimeout
}

// Store is a SQLite-backed bitemporal database.
type Store struct {
	path  string
	db    *sql.DB
	bunDB *bun.DB
}

// execPragma runs a PRAGMA statement using Query (not Exec) because libsql
// returns rows for PRAGMA statements. The result rows are drained and closed.
func execPragma(db *sql.DB, pragma string) error {
	rows, err := db.Query(pragma)
	if err != nil {
		return err
	}
	rows.Close()
	return nil
}

// applyPragmas sets essential PRAGMAs after opening a libsql connection.
// libsql ignores DSN-based _pragma=value parameters, so all PRAGMAs must be
// set explicitly via SQL statements after the connection is opened.
func applyPragmas(db *sql.DB, opts Options) error {
	// Busy timeout MUST be set first — all subsequent PRAGMAs (especially
	// journal_mode=WAL which needs exclusive access) will wait for locks
	// instead of failing immediately with "database is locked".
	if err := execPragma(db, fmt.Sprintf("PRAGMA busy_timeout = %d", opts.busyTimeout())); err != nil {
		return fmt.Errorf("failed to set busy_timeout: %w", err)
	}

	if err := execPragma(db, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}

	// synchronous=NORMAL: WAL mode with NORMAL sync is safe against process
	// crashes. Avoids fsync on every commit.
	if err := execPragma(db, "PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous=NORMAL: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := execPragma(db, "PRAGMA cache_size = -8000"); err != nil {
		return fmt.Errorf("failed to set cache_size: %w", err)
	}

	return nil
}

// Open opens the database at path, creating it and its schema on first use.
func Open(path string, opts Options) (*Store, error) {
	db, err := sql.Open("libsql", BuildDSN(path, opts.busyTimeout()))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := applyPragmas(db, opts); err != nil {
		db.Close()
		return nil, err
	}

	// Schema DDL is idempotent (IF NOT EXISTS), executed statement-by-statement
	// for libsql compatibility.
	if err := execStatements(db, storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if err := execStatements(db, initSchemaInfo, SchemaVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema info: %w", err)
	}

	return &Store{
		path:  path,
		db:    db,
		bunDB: bun.NewDB(db, sqlitedialect.New()),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.bunDB.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// DB exposes the bun handle for read-only queries outside a merge transaction.
func (s *Store) DB() *bun.DB {
	return s.bunDB
}

// Watermark returns the import watermark for the named source in Unix millis.
// The second return is false when no watermark has been stored yet.
func (s *Store) Watermark(ctx context.Context, source string) (int64, bool, error) {
	var wm ImportWatermarkModel
	err := s.bunDB.NewSelect().
		Model(&wm).
		Where("name = ?", source).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return wm.Timestamp, true, nil
}

// ActiveCounts returns the number of active rows per versioned table.
func (s *Store) ActiveCounts(ctx context.Context) (map[string]int, error) {
	tables := []string{
		"node_contents", "node_metadata", "tags", "node_tag_mappings",
		"mirrors", "node_dates", "node_s3_files", "virtual_root_mappings",
	}
	counts := make(map[string]int, len(tables))
	for _, table := range tables {
		var n int
		err := s.bunDB.NewRaw(
			fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE system_to = ?", table),
			SystemForever,
		).Scan(ctx, &n)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
