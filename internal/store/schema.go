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

package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const SchemaVersion = "1"

// Default busy_timeout in milliseconds (30 seconds)
const DefaultBusyTimeout = 30000

// SystemForever marks the open end of an active row's system-time interval
// (9999-12-01T00:00:00Z, in milliseconds). Exactly one version per natural key
// carries it at any system time.
var SystemForever = time.Date(9999, 12, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

// BuildDSN builds the SQLite DSN with the given busy_timeout
func BuildDSN(path string, busyTimeout int) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d", path, busyTimeout)
}

// Schema SQL for the bitemporal store. Every versioned table carries
// system_from/system_to bounds; the primary key is the natural key plus
// system_from so versions of one key never collide.
const storeSchema = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Owners of imported snapshots; created once, never updated
CREATE TABLE IF NOT EXISTS users (
    user_id TEXT PRIMARY KEY,
    email TEXT NOT NULL
);

-- Incremental import high-watermark, one row per import source
CREATE TABLE IF NOT EXISTS import_watermarks (
    name TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL
);

-- Node text content
CREATE TABLE IF NOT EXISTS node_contents (
    id TEXT NOT NULL,
    parent_id TEXT,
    name TEXT NOT NULL,
    note TEXT,
    system_from INTEGER NOT NULL,
    system_to INTEGER NOT NULL,
    PRIMARY KEY (id, system_from)
);

CREATE INDEX IF NOT EXISTS idx_node_contents_active ON node_contents(system_to);

-- Per-node metadata, 1:1 with node_contents by node id
CREATE TABLE IF NOT EXISTS node_metadata (
    node_id TEXT NOT NULL,
    priority INTEGER NOT NULL,
    completed INTEGER NOT NULL,
    completed_at INTEGER,
    collapsed INTEGER NOT NULL,
    last_modified INTEGER,
    created_by TEXT NOT NULL,
    created_on INTEGER,
    last_updated_by TEXT NOT NULL,
    layout_mode TEXT,
    virtual_root INTEGER NOT NULL,
    references_root INTEGER NOT NULL,
    in_chat INTEGER,
    mirror_root INTEGER,
    original_id TEXT,
    changes TEXT,
    system_from INTEGER NOT NULL,
    system_to INTEGER NOT NULL,
    PRIMARY KEY (node_id, system_from)
);

CREATE INDEX IF NOT EXISTS idx_node_metadata_active ON node_metadata(system_to);

-- Tags keyed by name; color is set at creation and never overwritten by import
CREATE TABLE IF NOT EXISTS tags (
    name TEXT NOT NULL,
    color TEXT,
    system_from INTEGER NOT NULL,
    system_to INTEGER NOT NULL,
    PRIMARY KEY (name, system_from)
);

CREATE INDEX IF NOT EXISTS idx_tags_active ON tags(system_to);

-- Node/tag many-to-many association
CREATE TABLE IF NOT EXISTS node_tag_mappings (
    node_id TEXT NOT NULL,
    tag_name TEXT NOT NULL,
    system_from INTEGER NOT NULL,
    system_to INTEGER NOT NULL,
    PRIMARY KEY (node_id, tag_name, system_from)
);

CREATE INDEX IF NOT EXISTS idx_node_tag_mappings_active ON node_tag_mappings(system_to);

-- Mirror links and backlinks (synthetic id)
CREATE TABLE IF NOT EXISTS mirrors (
    id TEXT NOT NULL,
    mirror_root_id TEXT NOT NULL,
    mirror_node_id TEXT NOT NULL,
    backlink INTEGER NOT NULL,
    system_from INTEGER NOT NULL,
    system_to INTEGER NOT NULL,
    PRIMARY KEY (id, system_from)
);

CREATE INDEX IF NOT EXISTS idx_mirrors_active ON mirrors(system_to);

-- Calendar attachments (synthetic id)
CREATE TABLE IF NOT EXISTS node_dates (
    id TEXT NOT NULL,
    node_id TEXT NOT NULL,
    date_value INTEGER NOT NULL,
    root INTEGER NOT NULL,
    level INTEGER,
    date_id TEXT,
    timestamp INTEGER,
    value TEXT,
    system_from INTEGER NOT NULL,
    system_to INTEGER NOT NULL,
    PRIMARY KEY (id, system_from)
);

CREATE INDEX IF NOT EXISTS idx_node_dates_active ON node_dates(system_to);

-- File attachments (synthetic id)
CREATE TABLE IF NOT EXISTS node_s3_files (
    id TEXT NOT NULL,
    node_id TEXT NOT NULL,
    file INTEGER NOT NULL,
    file_name TEXT,
    file_type TEXT,
    object_folder TEXT,
    animated_gif INTEGER,
    image_original_width INTEGER,
    image_original_height INTEGER,
    image_original_pixels INTEGER,
    system_from INTEGER NOT NULL,
    system_to INTEGER NOT NULL,
    PRIMARY KEY (id, system_from)
);

CREATE INDEX IF NOT EXISTS idx_node_s3_files_active ON node_s3_files(system_to);

-- Virtual-root associations
CREATE TABLE IF NOT EXISTS virtual_root_mappings (
    node_id TEXT NOT NULL,
    virtual_root_id TEXT NOT NULL,
    system_from INTEGER NOT NULL,
    system_to INTEGER NOT NULL,
    PRIMARY KEY (node_id, virtual_root_id, system_from)
);

CREATE INDEX IF NOT EXISTS idx_virtual_root_mappings_active ON virtual_root_mappings(system_to);
`

const initSchemaInfo = `
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('version', ?);
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('created_at', datetime('now'));
`

// execStatements executes multiple SQL statements separated by semicolons.
// libsql driver doesn't support multi-statement Exec, so we split and execute individually.
func execStatements(db *sql.DB, sqlScript string, args ...interface{}) error {
	statements := splitStatements(sqlScript)
	argIdx := 0
	for _, stmt := range statements {
		if stmt == "" {
			continue
		}
		placeholders := strings.Count(stmt, "?")
		stmtArgs := args[argIdx : argIdx+placeholders]
		argIdx += placeholders
		if _, err := db.Exec(stmt, stmtArgs...); err != nil {
			return err
		}
	}
	return nil
}

// splitStatements splits a SQL script into individual statements
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder

	lines := strings.Split(script, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			statements = append(statements, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if current.Len() > 0 {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
