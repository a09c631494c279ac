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

// Package importer drives the incremental import: file selection, extraction
// and the bitemporal merge of each snapshot into the store.
package importer

import (
	"treeline/internal/store"
)

// versionedRow constrains a model pointer to the bitemporal row contract plus
// attribute equality against its own struct type.
type versionedRow[M any] interface {
	store.Row
	EqualAttributes(*M) bool
	*M
}

// Plan is the outcome of reconciling one entity type: which snapshot rows to
// insert as new versions, which active rows to close, which same-instant
// versions to correct in place, and how many matched exactly and need no
// write.
type Plan[M any, PM versionedRow[M]] struct {
	Inserts   []PM
	Closes    []PM
	Replaces  []PM
	Purges    []PM
	Unchanged int
}

// Reconcile diffs the active rows against the desired snapshot rows by natural
// key. Pure set reconciliation, no I/O:
//
//   - key in both, attributes equal: untouched
//   - key in both, attributes differ: close the active row, insert the new one
//   - key only in desired: insert
//   - key only in current: close
//
// Versions opened at the cutover instant itself (another file already merged
// at the same snapshot date in this run) cannot be closed: system_from equals
// the cutover, so close+insert would collide on the versioned primary key and
// the closed interval would be zero-width. Such versions are corrected in
// place instead: a differing row goes to Replaces, a removed one to Purges.
//
// Duplicate natural keys within the snapshot collapse to their first
// occurrence so one transaction never writes two versions of the same key.
func Reconcile[M any, PM versionedRow[M]](current, desired []PM, cutover int64) Plan[M, PM] {
	active := make(map[string]PM, len(current))
	for _, row := range current {
		active[row.NaturalKey()] = row
	}

	var plan Plan[M, PM]
	seen := make(map[string]bool, len(desired))
	for _, row := range desired {
		key := row.NaturalKey()
		if seen[key] {
			continue
		}
		seen[key] = true

		cur, ok := active[key]
		switch {
		case !ok:
			plan.Inserts = append(plan.Inserts, row)
		case cur.EqualAttributes((*M)(row)):
			plan.Unchanged++
		default:
			if from, _ := cur.Period(); from == cutover {
				plan.Replaces = append(plan.Replaces, row)
			} else {
				plan.Closes = append(plan.Closes, cur)
				plan.Inserts = append(plan.Inserts, row)
			}
		}
	}

	for _, row := range current {
		if seen[row.NaturalKey()] {
			continue
		}
		if from, _ := row.Period(); from == cutover {
			plan.Purges = append(plan.Purges, row)
		} else {
			plan.Closes = append(plan.Closes, row)
		}
	}
	return plan
}
