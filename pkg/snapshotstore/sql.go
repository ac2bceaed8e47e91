/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package snapshotstore

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

// SQLStore persists snapshots to Postgres. A snapshot's triples are
// serialized as opaque Turtle-like text: the wire/textual format is not
// this kernel's concern (spec §4.6 treats it as opaque bytes), so the
// store only needs a round-trippable encoding, not a conformant Turtle
// writer.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps an already-connected, already-migrated database handle.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

type snapshotRow struct {
	ID        string `db:"id"`
	Version   uint64 `db:"version"`
	ParentID  string `db:"parent_id"`
	Turtle    []byte `db:"turtle"`
	IsCurrent bool   `db:"is_current"`
}

// encodeTriples renders triples as one tab-separated "subject\tpredicate\t
// object\tgraph" line each, sorted canonically by the Snapshot that
// produced them. decodeTriples is its exact inverse.
func encodeTriples(triples []types.Triple) []byte {
	var b strings.Builder
	for _, t := range triples {
		b.WriteString(t.Subject)
		b.WriteByte('\t')
		b.WriteString(t.Predicate)
		b.WriteByte('\t')
		b.WriteString(t.Object)
		b.WriteByte('\t')
		b.WriteString(t.Graph)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func decodeTriples(turtle []byte) []types.Triple {
	lines := strings.Split(strings.TrimRight(string(turtle), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	out := make([]types.Triple, 0, len(lines))
	for _, line := range lines {
		fields := strings.SplitN(line, "\t", 4)
		if len(fields) != 4 {
			continue
		}
		out = append(out, types.Triple{Subject: fields[0], Predicate: fields[1], Object: fields[2], Graph: fields[3]})
	}
	return out
}

// Add persists snap's triples as an opaque blob, unpromoted.
func (s *SQLStore) Add(ctx context.Context, snap *types.Snapshot) error {
	if snap == nil {
		return kherrors.New(kherrors.ErrorTypeValidation, "snapshotstore: cannot add a nil snapshot")
	}
	row := snapshotRow{ID: snap.ID, Version: snap.Version, ParentID: snap.ParentID, Turtle: encodeTriples(snap.Triples())}
	const q = `INSERT INTO snapshots (id, version, parent_id, turtle, is_current, created_at)
	           VALUES (:id, :version, :parent_id, :turtle, FALSE, now())`
	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return kherrors.Wrapf(err, kherrors.ErrorTypeValidation, "snapshotstore: add %s failed", snap.ID)
	}
	return nil
}

// Promote clears the is_current flag on every row and sets it on the given
// ID, inside one transaction so a reader never observes two current rows
// or zero.
func (s *SQLStore) Promote(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return kherrors.Wrap(err, kherrors.ErrorTypeRuntime, "snapshotstore: promote: begin tx failed")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE snapshots SET is_current = FALSE WHERE is_current = TRUE`); err != nil {
		return kherrors.Wrap(err, kherrors.ErrorTypeRuntime, "snapshotstore: promote: clearing current failed")
	}
	res, err := tx.ExecContext(ctx, `UPDATE snapshots SET is_current = TRUE WHERE id = $1`, id)
	if err != nil {
		return kherrors.Wrap(err, kherrors.ErrorTypeRuntime, "snapshotstore: promote: setting current failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return kherrors.Newf(kherrors.ErrorTypeValidation, "snapshotstore: cannot promote unknown snapshot %s", id)
	}
	if err := tx.Commit(); err != nil {
		return kherrors.Wrap(err, kherrors.ErrorTypeRuntime, "snapshotstore: promote: commit failed")
	}
	return nil
}

// Current returns the currently promoted snapshot, or nil if none is.
func (s *SQLStore) Current() *types.Snapshot {
	var row snapshotRow
	err := s.db.Get(&row, `SELECT * FROM snapshots WHERE is_current = TRUE`)
	if err != nil {
		return nil
	}
	snap, err := types.NewSnapshot(row.ID, row.Version, row.ParentID, types.SnapshotMeta{}, decodeTriples(row.Turtle), nil)
	if err != nil {
		return nil
	}
	return snap
}

// Get returns the snapshot with the given ID, promoted or not.
func (s *SQLStore) Get(ctx context.Context, id string) (*types.Snapshot, error) {
	var row snapshotRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM snapshots WHERE id = $1`, id); err != nil {
		return nil, kherrors.Wrapf(err, kherrors.ErrorTypeValidation, "snapshotstore: no snapshot %s", id)
	}
	return types.NewSnapshot(row.ID, row.Version, row.ParentID, types.SnapshotMeta{}, decodeTriples(row.Turtle), nil)
}
