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

package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"treeline/internal/backup"
	"treeline/internal/common"
	"treeline/internal/convert"
	"treeline/internal/extract"
	"treeline/internal/store"
	"treeline/internal/util"
)

// DefaultSource is the watermark name used when Options.Source is empty.
const DefaultSource = "workflowy"

// Options configures one import run.
type Options struct {
	// BackupsPath is the directory holding the backup snapshot files.
	BackupsPath string
	// DaysLimit caps how many files one run processes; <= 0 means all.
	DaysLimit int
	// Source names the watermark row; empty means DefaultSource.
	Source string
}

func (o Options) source() string {
	if o.Source != "" {
		return o.Source
	}
	return DefaultSource
}

// Stats counts the write outcomes of one or more merges. Replaced and Purged
// count same-instant corrections: versions another file opened at the same
// cutover and this file overwrote or removed in place.
type Stats struct {
	Inserted  int
	Closed    int
	Replaced  int
	Purged    int
	Unchanged int
}

func (s *Stats) add(o Stats) {
	s.Inserted += o.Inserted
	s.Closed += o.Closed
	s.Replaced += o.Replaced
	s.Purged += o.Purged
	s.Unchanged += o.Unchanged
}

// RunResult summarizes one import run.
type RunResult struct {
	FilesProcessed int
	Stats          Stats
	// Watermark is the snapshot date of the last committed file; zero when no
	// file was processed.
	Watermark time.Time
}

// Importer merges backup snapshots into the store, one file per transaction,
// oldest first.
type Importer struct {
	store     *store.Store
	patterns  backup.FilePatterns
	extractor *extract.Extractor
	opts      Options
}

// New builds an Importer over an open store.
func New(st *store.Store, opts Options) *Importer {
	return &Importer{
		store:     st,
		patterns:  backup.DefaultFilePatterns(),
		extractor: extract.New(convert.NewHashtagExtractor()),
		opts:      opts,
	}
}

// Run performs one incremental import: read the watermark, select the backup
// files strictly after it, and merge them oldest first. The run stops on the
// first failing file; everything committed before it stays committed, and the
// watermark already covers exactly those files.
//
// A file lock beside the database keeps concurrent runs from interleaving
// their watermark updates.
func (imp *Importer) Run(ctx context.Context) (*RunResult, error) {
	lock := flock.New(imp.store.Path() + ".import.lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire import lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: another import is running", common.ErrLocked)
	}
	defer lock.Unlock()

	source := imp.opts.source()

	wmMillis, found, err := imp.store.Watermark(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to read watermark: %w", err)
	}
	var watermark time.Time
	if found {
		watermark = time.UnixMilli(wmMillis).UTC()
	}

	files, err := backup.Select(imp.opts.BackupsPath, imp.patterns, watermark, imp.opts.DaysLimit)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"source":    source,
		"watermark": watermark.Format(time.RFC3339),
		"files":     len(files),
	}).Info("Starting import run")

	result := &RunResult{}
	for _, file := range files {
		stats, err := imp.importFile(ctx, file, source)
		if err != nil {
			return result, fmt.Errorf("failed to import %s: %w", file.Name(), err)
		}
		result.FilesProcessed++
		result.Stats.add(stats)
		result.Watermark = file.SnapshotDate
	}

	log.WithFields(log.Fields{
		"files":     result.FilesProcessed,
		"inserted":  result.Stats.Inserted,
		"closed":    result.Stats.Closed,
		"replaced":  result.Stats.Replaced,
		"purged":    result.Stats.Purged,
		"unchanged": result.Stats.Unchanged,
	}).Info("Import run complete")
	return result, nil
}

// importFile extracts one snapshot and merges it in a single transaction at
// the file's snapshot date. The watermark update is the last write inside the
// same transaction, so a rollback rewinds both together.
func (imp *Importer) importFile(ctx context.Context, file backup.File, source string) (Stats, error) {
	items, err := backup.ReadFile(file.Path)
	if err != nil {
		return Stats{}, err
	}
	collections := imp.extractor.Extract(items, file.Owner)

	log.WithFields(log.Fields{
		"file":     file.Name(),
		"owner":    file.Owner,
		"snapshot": file.SnapshotDate.Format("2006-01-02"),
		"nodes":    len(collections.Contents),
	}).Info("Importing backup file")

	var total Stats
	err = util.Retry(ctx, func() error {
		total = Stats{}
		return imp.store.RunInTransaction(ctx, file.SnapshotDate, func(tx *store.Tx) error {
			if err := tx.EnsureUser(ctx, file.Owner); err != nil {
				return fmt.Errorf("failed to ensure user: %w", err)
			}
			if err := mergeAll(ctx, tx, collections, &total); err != nil {
				return err
			}
			return tx.SetWatermark(ctx, source)
		})
	}, util.DatabaseRetryOptions(ctx)...)
	if err != nil {
		return Stats{}, err
	}

	log.WithFields(log.Fields{
		"file":      file.Name(),
		"inserted":  total.Inserted,
		"closed":    total.Closed,
		"replaced":  total.Replaced,
		"purged":    total.Purged,
		"unchanged": total.Unchanged,
	}).Info("Backup file merged")
	return total, nil
}

// mergeAll reconciles every entity collection. Tags merge before tag mappings
// and contents before metadata so referenced rows exist first.
func mergeAll(ctx context.Context, tx *store.Tx, c *extract.Collections, total *Stats) error {
	type step struct {
		name  string
		merge func() (Stats, error)
	}
	steps := []step{
		{"tags", func() (Stats, error) { return mergeEntity[store.TagModel](ctx, tx, c.Tags) }},
		{"node_contents", func() (Stats, error) { return mergeEntity[store.NodeContentModel](ctx, tx, c.Contents) }},
		{"node_metadata", func() (Stats, error) { return mergeEntity[store.NodeMetadataModel](ctx, tx, c.Metadata) }},
		{"node_tag_mappings", func() (Stats, error) { return mergeEntity[store.NodeTagMappingModel](ctx, tx, c.TagMappings) }},
		{"mirrors", func() (Stats, error) { return mergeEntity[store.MirrorModel](ctx, tx, c.Mirrors) }},
		{"node_dates", func() (Stats, error) { return mergeEntity[store.NodeDateModel](ctx, tx, c.Dates) }},
		{"node_s3_files", func() (Stats, error) { return mergeEntity[store.NodeS3FileModel](ctx, tx, c.S3Files) }},
		{"virtual_root_mappings", func() (Stats, error) { return mergeEntity[store.VirtualRootMappingModel](ctx, tx, c.VirtualRoots) }},
	}
	for _, st := range steps {
		stats, err := st.merge()
		if err != nil {
			return fmt.Errorf("failed to merge %s: %w", st.name, err)
		}
		total.add(stats)
	}
	return nil
}

// mergeEntity reconciles one entity type inside the transaction: read the
// active rows, diff against the snapshot, close and insert accordingly.
func mergeEntity[M any, PM versionedRow[M]](ctx context.Context, tx *store.Tx, desired []PM) (Stats, error) {
	activeRows, err := store.FindActive[M](ctx, tx)
	if err != nil {
		return Stats{}, err
	}
	current := make([]PM, len(activeRows))
	for i, row := range activeRows {
		current[i] = PM(row)
	}

	plan := Reconcile[M, PM](current, desired, tx.SystemTime())

	if err := store.CloseRows[M, PM](ctx, tx, plan.Closes); err != nil {
		return Stats{}, err
	}
	if err := store.ReplaceRows[M, PM](ctx, tx, plan.Replaces); err != nil {
		return Stats{}, err
	}
	if err := store.DeleteRows[M, PM](ctx, tx, plan.Purges); err != nil {
		return Stats{}, err
	}
	if err := store.Insert[M, PM](ctx, tx, plan.Inserts); err != nil {
		return Stats{}, err
	}
	return Stats{
		Inserted:  len(plan.Inserts),
		Closed:    len(plan.Closes),
		Replaced:  len(plan.Replaces),
		Purged:    len(plan.Purges),
		Unchanged: plan.Unchanged,
	}, nil
}
