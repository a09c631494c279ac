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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treeline/internal/store"
)

var reconcileCutover = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC).UnixMilli()

func content(id, name string) *store.NodeContentModel {
	return &store.NodeContentModel{ID: id, Name: name}
}

// activeContent builds a row as a previous merge would have left it: open
// interval, system_from strictly before the cutover.
func activeContent(id, name string) *store.NodeContentModel {
	c := content(id, name)
	c.SetPeriod(reconcileCutover-86400000, store.SystemForever)
	return c
}

func TestReconcileEmptyStore(t *testing.T) {
	t.Parallel()

	desired := []*store.NodeContentModel{content("a", "one"), content("b", "two")}
	plan := Reconcile[store.NodeContentModel](nil, desired, reconcileCutover)

	assert.Len(t, plan.Inserts, 2)
	assert.Empty(t, plan.Closes)
	assert.Zero(t, plan.Unchanged)
}

func TestReconcileIdenticalSnapshotIsNoOp(t *testing.T) {
	t.Parallel()

	current := []*store.NodeContentModel{activeContent("a", "one"), activeContent("b", "two")}
	desired := []*store.NodeContentModel{content("a", "one"), content("b", "two")}
	plan := Reconcile[store.NodeContentModel](current, desired, reconcileCutover)

	assert.Empty(t, plan.Inserts)
	assert.Empty(t, plan.Closes)
	assert.Equal(t, 2, plan.Unchanged)
}

func TestReconcileChangeClosesAndInserts(t *testing.T) {
	t.Parallel()

	old := activeContent("a", "one")
	current := []*store.NodeContentModel{old}
	desired := []*store.NodeContentModel{content("a", "renamed")}
	plan := Reconcile[store.NodeContentModel](current, desired, reconcileCutover)

	require.Len(t, plan.Inserts, 1)
	assert.Equal(t, "renamed", plan.Inserts[0].Name)
	require.Len(t, plan.Closes, 1)
	assert.Same(t, old, plan.Closes[0])
	assert.Empty(t, plan.Replaces)
	assert.Zero(t, plan.Unchanged)
}

func TestReconcileRemovalCloses(t *testing.T) {
	t.Parallel()

	current := []*store.NodeContentModel{activeContent("a", "one"), activeContent("b", "two")}
	desired := []*store.NodeContentModel{content("a", "one")}
	plan := Reconcile[store.NodeContentModel](current, desired, reconcileCutover)

	assert.Empty(t, plan.Inserts)
	require.Len(t, plan.Closes, 1)
	assert.Equal(t, "b", plan.Closes[0].ID)
	assert.Empty(t, plan.Purges)
	assert.Equal(t, 1, plan.Unchanged)
}

func TestReconcileSameInstantChangeReplaces(t *testing.T) {
	t.Parallel()

	// The active version was opened at this very cutover by an earlier file
	// in the same run. Close+insert would collide on (key, system_from).
	sameInstant := content("a", "first")
	sameInstant.SetPeriod(reconcileCutover, store.SystemForever)

	current := []*store.NodeContentModel{sameInstant}
	desired := []*store.NodeContentModel{content("a", "second")}
	plan := Reconcile[store.NodeContentModel](current, desired, reconcileCutover)

	assert.Empty(t, plan.Inserts)
	assert.Empty(t, plan.Closes)
	require.Len(t, plan.Replaces, 1)
	assert.Equal(t, "second", plan.Replaces[0].Name)
}

func TestReconcileSameInstantRemovalPurges(t *testing.T) {
	t.Parallel()

	sameInstant := content("b", "gone")
	sameInstant.SetPeriod(reconcileCutover, store.SystemForever)

	current := []*store.NodeContentModel{activeContent("a", "kept"), sameInstant}
	desired := []*store.NodeContentModel{content("a", "kept")}
	plan := Reconcile[store.NodeContentModel](current, desired, reconcileCutover)

	assert.Empty(t, plan.Closes)
	require.Len(t, plan.Purges, 1)
	assert.Same(t, sameInstant, plan.Purges[0])
	assert.Equal(t, 1, plan.Unchanged)
}

func TestReconcileDuplicateKeysCollapse(t *testing.T) {
	t.Parallel()

	desired := []*store.NodeContentModel{content("a", "first"), content("a", "second")}
	plan := Reconcile[store.NodeContentModel](nil, desired, reconcileCutover)

	require.Len(t, plan.Inserts, 1)
	assert.Equal(t, "first", plan.Inserts[0].Name)
}

func TestReconcileIgnoresProvenanceFields(t *testing.T) {
	t.Parallel()

	createdOn := int64(1000)
	old := &store.NodeMetadataModel{
		NodeID:        "a",
		CreatedBy:     "alice@example.com",
		CreatedOn:     &createdOn,
		LastUpdatedBy: "alice@example.com",
	}
	old.SetPeriod(reconcileCutover-86400000, store.SystemForever)

	current := []*store.NodeMetadataModel{old}
	desired := []*store.NodeMetadataModel{{
		NodeID:        "a",
		CreatedBy:     "bob@example.com",
		LastUpdatedBy: "bob@example.com",
	}}
	plan := Reconcile[store.NodeMetadataModel](current, desired, reconcileCutover)

	assert.Empty(t, plan.Inserts)
	assert.Empty(t, plan.Closes)
	assert.Equal(t, 1, plan.Unchanged)
}
