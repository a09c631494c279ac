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
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treeline/internal/common"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "treeline.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchemaIdempotently(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "treeline.db")
	s, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening an existing database must not fail or reset anything.
	s, err = Open(path, Options{})
	require.NoError(t, err)
	defer s.Close()

	var version string
	err = s.DB().NewRaw("SELECT value FROM schema_info WHERE key = 'version'").
		Scan(context.Background(), &version)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
}

func TestInsertAndFindActive(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	day1 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	err := s.RunInTransaction(ctx, day1, func(tx *Tx) error {
		return Insert(ctx, tx, []*NodeContentModel{
			{ID: "a", Name: "first"},
			{ID: "b", Name: "second"},
		})
	})
	require.NoError(t, err)

	var rows []*NodeContentModel
	err = s.RunInTransaction(ctx, day1.AddDate(0, 0, 1), func(tx *Tx) error {
		var err error
		rows, err = FindActive[NodeContentModel](ctx, tx)
		return err
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, day1.UnixMilli(), row.SystemFrom)
		assert.Equal(t, SystemForever, row.SystemTo)
	}
}

func TestCloseRowsEndsValidity(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	day1 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	require.NoError(t, s.RunInTransaction(ctx, day1, func(tx *Tx) error {
		return Insert(ctx, tx, []*NodeContentModel{{ID: "a", Name: "short-lived"}})
	}))

	require.NoError(t, s.RunInTransaction(ctx, day2, func(tx *Tx) error {
		active, err := FindActive[NodeContentModel](ctx, tx)
		if err != nil {
			return err
		}
		return CloseRows(ctx, tx, active)
	}))

	// No active row remains, but the as-of read at day1 still sees it.
	now, err := FindActiveAt[NodeContentModel](ctx, s.DB(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, now)

	then, err := FindActiveAt[NodeContentModel](ctx, s.DB(), day1.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, then, 1)
	assert.Equal(t, "a", then[0].ID)
	assert.Equal(t, day2.UnixMilli(), then[0].SystemTo)
}

func TestCloseRowsFailsWhenNothingToClose(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	day1 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	err := s.RunInTransaction(ctx, day1, func(tx *Tx) error {
		phantom := &NodeContentModel{ID: "ghost", SystemFrom: day1.UnixMilli()}
		return CloseRows(ctx, tx, []*NodeContentModel{phantom})
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrIntegrity)
}

func TestReplaceRowsCorrectsSameInstantVersion(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	day1 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.RunInTransaction(ctx, day1, func(tx *Tx) error {
		return Insert(ctx, tx, []*NodeContentModel{{ID: "a", Name: "first"}})
	}))

	// A second merge at the same system time overwrites the version in place.
	require.NoError(t, s.RunInTransaction(ctx, day1, func(tx *Tx) error {
		return ReplaceRows(ctx, tx, []*NodeContentModel{{ID: "a", Name: "second"}})
	}))

	var all []*NodeContentModel
	require.NoError(t, s.DB().NewSelect().Model(&all).Scan(ctx))
	require.Len(t, all, 1)
	assert.Equal(t, "second", all[0].Name)
	assert.Equal(t, day1.UnixMilli(), all[0].SystemFrom)
	assert.Equal(t, SystemForever, all[0].SystemTo)
}

func TestReplaceRowsFailsWithoutSameInstantVersion(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	day1 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	err := s.RunInTransaction(ctx, day1, func(tx *Tx) error {
		return ReplaceRows(ctx, tx, []*NodeContentModel{{ID: "ghost", Name: "x"}})
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrIntegrity)
}

func TestDeleteRowsRemovesSameInstantVersion(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	day1 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.RunInTransaction(ctx, day1, func(tx *Tx) error {
		return Insert(ctx, tx, []*NodeContentModel{{ID: "a", Name: "transient"}})
	}))

	require.NoError(t, s.RunInTransaction(ctx, day1, func(tx *Tx) error {
		active, err := FindActive[NodeContentModel](ctx, tx)
		if err != nil {
			return err
		}
		return DeleteRows(ctx, tx, active)
	}))

	var all []*NodeContentModel
	require.NoError(t, s.DB().NewSelect().Model(&all).Scan(ctx))
	assert.Empty(t, all)
}

func TestDeleteRowsRefusesEarlierVersions(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	day1 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	require.NoError(t, s.RunInTransaction(ctx, day1, func(tx *Tx) error {
		return Insert(ctx, tx, []*NodeContentModel{{ID: "a", Name: "history"}})
	}))

	// A later transaction must never erase history; closing is the only way.
	err := s.RunInTransaction(ctx, day2, func(tx *Tx) error {
		active, err := FindActive[NodeContentModel](ctx, tx)
		if err != nil {
			return err
		}
		return DeleteRows(ctx, tx, active)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrIntegrity)

	rows, err := FindActiveAt[NodeContentModel](ctx, s.DB(), time.Now())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	day1 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	err := s.RunInTransaction(ctx, day1, func(tx *Tx) error {
		if err := Insert(ctx, tx, []*NodeContentModel{{ID: "a", Name: "doomed"}}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	rows, err := FindActiveAt[NodeContentModel](ctx, s.DB(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestWatermarkUpsert(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	_, found, err := s.Watermark(ctx, "workflowy")
	require.NoError(t, err)
	assert.False(t, found)

	day1 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.RunInTransaction(ctx, day1, func(tx *Tx) error {
		return tx.SetWatermark(ctx, "workflowy")
	}))

	wm, found, err := s.Watermark(ctx, "workflowy")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, day1.UnixMilli(), wm)

	day2 := day1.AddDate(0, 0, 1)
	require.NoError(t, s.RunInTransaction(ctx, day2, func(tx *Tx) error {
		return tx.SetWatermark(ctx, "workflowy")
	}))

	wm, found, err = s.Watermark(ctx, "workflowy")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, day2.UnixMilli(), wm)
}

func TestEnsureUserNeverOverwrites(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	day1 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.RunInTransaction(ctx, day1, func(tx *Tx) error {
		return tx.EnsureUser(ctx, "alice@example.com")
	}))

	// Manually change the email, then EnsureUser again: the row must survive.
	_, err := s.DB().NewUpdate().
		Model(&UserModel{UserID: "alice@example.com", Email: "changed@example.com"}).
		WherePK().
		Exec(ctx)
	require.NoError(t, err)

	require.NoError(t, s.RunInTransaction(ctx, day1, func(tx *Tx) error {
		return tx.EnsureUser(ctx, "alice@example.com")
	}))

	var user UserModel
	err = s.DB().NewSelect().
		Model(&user).
		Where("user_id = ?", "alice@example.com").
		Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, "changed@example.com", user.Email)
}

func TestActiveCounts(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	day1 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.RunInTransaction(ctx, day1, func(tx *Tx) error {
		if err := Insert(ctx, tx, []*NodeContentModel{{ID: "a", Name: "n"}}); err != nil {
			return err
		}
		return Insert(ctx, tx, []*TagModel{{Name: "tag"}})
	}))

	counts, err := s.ActiveCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["node_contents"])
	assert.Equal(t, 1, counts["tags"])
	assert.Equal(t, 0, counts["mirrors"])
}
