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
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"treeline/internal/common"
)

// Tx is one merge transaction. Every write inside it is stamped with the same
// system time (the cutover instant); commit and rollback are the only two
// terminal outcomes, handled by RunInTransaction.
type Tx struct {
	idb        bun.IDB
	systemTime int64
}

// SystemTime returns the transaction's system time in Unix millis.
func (tx *Tx) SystemTime() int64 {
	return tx.systemTime
}

// RunInTransaction executes fn inside a single database transaction whose
// writes all carry systemTime. If fn returns an error the transaction rolls
// back entirely; no partial merge is ever visible.
func (s *Store) RunInTransaction(ctx context.Context, systemTime time.Time, fn func(tx *Tx) error) error {
	return s.bunDB.RunInTx(ctx, nil, func(ctx context.Context, btx bun.Tx) error {
		return fn(&Tx{idb: btx, systemTime: systemTime.UnixMilli()})
	})
}

// FindActive returns all system-time-open rows of the model type M.
func FindActive[M any](ctx context.Context, tx *Tx) ([]*M, error) {
	var rows []*M
	err := tx.idb.NewSelect().
		Model(&rows).
		Where("system_to = ?", SystemForever).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FindActiveAt returns the rows of model type M that were active at the given
// system time (as-of read).
func FindActiveAt[M any](ctx context.Context, idb bun.IDB, at time.Time) ([]*M, error) {
	t := at.UnixMilli()
	var rows []*M
	err := idb.NewSelect().
		Model(&rows).
		Where("system_from <= ?", t).
		Where("system_to > ?", t).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Insert writes rows as new active versions: system_from is the transaction's
// system time, system_to is open.
func Insert[M any, PM interface {
	Row
	*M
}](ctx context.Context, tx *Tx, rows []PM) error {
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		row.SetPeriod(tx.systemTime, SystemForever)
	}
	_, err := tx.idb.NewInsert().Model(&rows).Exec(ctx)
	return err
}

// CloseRows ends the validity of previously active rows at the transaction's
// system time. The rows must have been read within this transaction so their
// primary keys (natural key + system_from) are populated.
func CloseRows[M any, PM interface {
	Row
	*M
}](ctx context.Context, tx *Tx, rows []PM) error {
	for _, row := range rows {
		res, err := tx.idb.NewUpdate().
			Model(row).
			Set("system_to = ?", tx.systemTime).
			WherePK().
			Where("system_to = ?", SystemForever).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: no active row to close for key %q", common.ErrIntegrity, row.NaturalKey())
		}
	}
	return nil
}

// ReplaceRows overwrites versions that were opened at this transaction's
// system time. The primary key (natural key + system_from) stays; every
// attribute column takes the new row's value. Closing such a version instead
// would leave a zero-width interval and a colliding insert.
func ReplaceRows[M any, PM interface {
	Row
	*M
}](ctx context.Context, tx *Tx, rows []PM) error {
	for _, row := range rows {
		row.SetPeriod(tx.systemTime, SystemForever)
		res, err := tx.idb.NewUpdate().
			Model(row).
			WherePK().
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: no same-instant version to replace for key %q", common.ErrIntegrity, row.NaturalKey())
		}
	}
	return nil
}

// DeleteRows removes versions outright. Only rows opened at this
// transaction's system time may be deleted; any earlier version is history
// and must be closed, never erased.
func DeleteRows[M any, PM interface {
	Row
	*M
}](ctx context.Context, tx *Tx, rows []PM) error {
	for _, row := range rows {
		if from, _ := row.Period(); from != tx.systemTime {
			return fmt.Errorf("%w: refusing to delete version of key %q opened at %d in transaction at %d",
				common.ErrIntegrity, row.NaturalKey(), from, tx.systemTime)
		}
		res, err := tx.idb.NewDelete().
			Model(row).
			WherePK().
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: no same-instant version to delete for key %q", common.ErrIntegrity, row.NaturalKey())
		}
	}
	return nil
}

// EnsureUser inserts the owning user if absent. Existing users are never
// updated by import.
func (tx *Tx) EnsureUser(ctx context.Context, userID string) error {
	_, err := tx.idb.NewInsert().
		Model(&UserModel{UserID: userID, Email: userID}).
		On("CONFLICT (user_id) DO NOTHING").
		Exec(ctx)
	return err
}

// SetWatermark upserts the named source's watermark to the transaction's
// system time. Called last inside the merge transaction so the watermark only
// advances when the whole file committed.
func (tx *Tx) SetWatermark(ctx context.Context, source string) error {
	_, err := tx.idb.NewInsert().
		Model(&ImportWatermarkModel{Name: source, Timestamp: tx.systemTime}).
		On("CONFLICT (name) DO UPDATE").
		Set("timestamp = EXCLUDED.timestamp").
		Exec(ctx)
	return err
}
