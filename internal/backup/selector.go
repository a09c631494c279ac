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

package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"treeline/internal/common"
)

// FileSuffix is the fixed extension of export snapshot files. Anything else in
// the backups directory is ignored.
const FileSuffix = ".workflowy.backup"

// FilePatterns holds the compiled filename patterns. Built once at startup and
// passed to the selector; no package-level regex state.
type FilePatterns struct {
	owner *regexp.Regexp
	date  *regexp.Regexp
}

// DefaultFilePatterns compiles the filename convention
// "(<owner-email>).<YYYY-MM-DD>.<suffix>".
func DefaultFilePatterns() FilePatterns {
	return FilePatterns{
		owner: regexp.MustCompile(`^\((.+?)\)\.`),
		date:  regexp.MustCompile(`\.(\d{4}-\d{2}-\d{2})\.`),
	}
}

// File is one selected backup file: its path plus the identity and snapshot
// date extracted from the filename.
type File struct {
	Path         string
	Owner        string
	SnapshotDate time.Time
}

// Name returns the base filename.
func (f File) Name() string {
	return filepath.Base(f.Path)
}

// Owner extracts the owner identity from the parenthesized filename prefix.
// A filename without the prefix is a hard error: it means the backups
// directory holds something we cannot attribute, and importing it would
// corrupt provenance.
func (p FilePatterns) Owner(filename string) (string, error) {
	m := p.owner.FindStringSubmatch(filename)
	if m == nil {
		return "", fmt.Errorf("%w: could not extract owner from %q", common.ErrBadFilename, filename)
	}
	return m[1], nil
}

// SnapshotDate extracts the embedded ISO date from the filename as a UTC
// midnight instant. Filenames without a date get the zero time, which sorts
// before every watermark and is therefore never selected.
func (p FilePatterns) SnapshotDate(filename string) time.Time {
	m := p.date.FindStringSubmatch(filename)
	if m == nil {
		return time.Time{}
	}
	d, err := time.ParseInLocation("2006-01-02", m[1], time.UTC)
	if err != nil {
		return time.Time{}
	}
	return d
}

// Select lists the backup files in dir that are strictly after the watermark,
// ordered chronologically, capped at limit (limit <= 0 means unbounded).
//
// Lexicographic filename order equals chronological order because the date
// segment is zero-padded ISO-8601 and precedes any variable suffix.
func Select(dir string, patterns FilePatterns, watermark time.Time, limit int) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups directory: %w", err)
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), FileSuffix) {
			continue
		}
		date := patterns.SnapshotDate(entry.Name())
		if !date.After(watermark) {
			continue
		}
		files = append(files, File{
			Path:         filepath.Join(dir, entry.Name()),
			SnapshotDate: date,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name() < files[j].Name()
	})

	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}

	// Owner extraction only for the files that will actually be processed; a
	// bad filename fails the run before any of them is touched.
	for i := range files {
		owner, err := patterns.Owner(files[i].Name())
		if err != nil {
			return nil, err
		}
		files[i].Owner = owner
	}
	return files, nil
}
