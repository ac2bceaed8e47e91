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

package receiptlog

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
	"github.com/seanchatmangpt/knhk-sub006/pkg/types"
)

// SQLLog is a Postgres-backed Log, for deployments that need the receipt
// history to survive a kernel restart. Sequence numbers come from a
// database sequence rather than an in-process counter, so multiple kernel
// instances can append concurrently without coordinating directly.
type SQLLog struct {
	db *sqlx.DB
}

// NewSQLLog wraps an already-connected, already-migrated database handle.
func NewSQLLog(db *sqlx.DB) *SQLLog {
	return &SQLLog{db: db}
}

type receiptRow struct {
	ID                 string         `db:"id"`
	SnapshotID         string         `db:"snapshot_id"`
	PatternID          int16          `db:"pattern_id"`
	WorkflowInstanceID string         `db:"workflow_instance_id"`
	Sequence           int64          `db:"sequence"`
	OInHash            []byte         `db:"o_in_hash"`
	AOutHash           []byte         `db:"a_out_hash"`
	GuardsChecked      pq.StringArray `db:"guards_checked"`
	GuardsFailed       pq.StringArray `db:"guards_failed"`
	TicksUsed          int32          `db:"ticks_used"`
	Success            bool           `db:"success"`
	SpanID             int64          `db:"span_id"`
	Lanes              int32          `db:"lanes"`
	RecordedAt         time.Time      `db:"recorded_at"`
}

func toRow(r types.Receipt) receiptRow {
	return receiptRow{
		ID:                 r.ID,
		SnapshotID:         r.SnapshotID,
		PatternID:          int16(r.PatternID),
		WorkflowInstanceID: r.WorkflowInstanceID,
		OInHash:            r.OInHash[:],
		AOutHash:           r.AOutHash[:],
		GuardsChecked:      pq.StringArray(r.GuardsChecked),
		GuardsFailed:       pq.StringArray(r.GuardsFailed),
		TicksUsed:          int32(r.TicksUsed),
		Success:            r.Success,
		SpanID:             int64(r.SpanID),
		Lanes:              int32(r.Lanes),
		RecordedAt:         r.Timestamp,
	}
}

func (row receiptRow) toReceipt() types.Receipt {
	r := types.Receipt{
		ID:                 row.ID,
		SnapshotID:         row.SnapshotID,
		PatternID:          uint8(row.PatternID),
		WorkflowInstanceID: row.WorkflowInstanceID,
		Sequence:           uint64(row.Sequence),
		GuardsChecked:      []string(row.GuardsChecked),
		GuardsFailed:       []string(row.GuardsFailed),
		TicksUsed:          uint32(row.TicksUsed),
		Success:            row.Success,
		SpanID:             uint64(row.SpanID),
		Lanes:              uint32(row.Lanes),
		Timestamp:          row.RecordedAt,
	}
	copy(r.OInHash[:], row.OInHash)
	copy(r.AOutHash[:], row.AOutHash)
	return r
}

// Append inserts r, assigning its sequence number from the receipts_seq
// sequence. A duplicate ID is reported as a validation error.
func (l *SQLLog) Append(ctx context.Context, r types.Receipt) (string, error) {
	row := toRow(r)
	const q = `
		INSERT INTO receipts (id, snapshot_id, pattern_id, workflow_instance_id, sequence, o_in_hash, a_out_hash,
		                       guards_checked, guards_failed, ticks_used, success, span_id, lanes, recorded_at)
		VALUES (:id, :snapshot_id, :pattern_id, :workflow_instance_id,
		        (SELECT COALESCE(MAX(sequence), 0) + 1 FROM receipts),
		        :o_in_hash, :a_out_hash, :guards_checked, :guards_failed, :ticks_used, :success, :span_id, :lanes, :recorded_at)`
	if _, err := l.db.NamedExecContext(ctx, q, row); err != nil {
		return "", kherrors.Wrapf(err, kherrors.ErrorTypeValidation, "receiptlog: append %s failed", r.ID)
	}
	return r.ID, nil
}

// Get returns the receipt with the given ID.
func (l *SQLLog) Get(ctx context.Context, id string) (types.Receipt, error) {
	var row receiptRow
	if err := l.db.GetContext(ctx, &row, `SELECT * FROM receipts WHERE id = $1`, id); err != nil {
		return types.Receipt{}, kherrors.Wrapf(err, kherrors.ErrorTypeValidation, "receiptlog: no receipt %s", id)
	}
	return row.toReceipt(), nil
}

// ByWorkflow returns every receipt for a workflow instance in chain order.
func (l *SQLLog) ByWorkflow(ctx context.Context, workflowInstanceID string) ([]types.Receipt, error) {
	var rows []receiptRow
	const q = `SELECT * FROM receipts WHERE workflow_instance_id = $1 ORDER BY sequence`
	if err := l.db.SelectContext(ctx, &rows, q, workflowInstanceID); err != nil {
		return nil, kherrors.Wrap(err, kherrors.ErrorTypeRuntime, "receiptlog: ByWorkflow query failed")
	}
	return toReceipts(rows), nil
}

// BySnapshot returns every receipt produced against a snapshot ID, ordered
// by global sequence number.
func (l *SQLLog) BySnapshot(ctx context.Context, snapshotID string) ([]types.Receipt, error) {
	var rows []receiptRow
	const q = `SELECT * FROM receipts WHERE snapshot_id = $1 ORDER BY sequence`
	if err := l.db.SelectContext(ctx, &rows, q, snapshotID); err != nil {
		return nil, kherrors.Wrap(err, kherrors.ErrorTypeRuntime, "receiptlog: BySnapshot query failed")
	}
	return toReceipts(rows), nil
}

// GetViolations returns every receipt recorded with success=false.
func (l *SQLLog) GetViolations(ctx context.Context) ([]types.Receipt, error) {
	var rows []receiptRow
	const q = `SELECT * FROM receipts WHERE success = FALSE ORDER BY sequence`
	if err := l.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, kherrors.Wrap(err, kherrors.ErrorTypeRuntime, "receiptlog: GetViolations query failed")
	}
	return toReceipts(rows), nil
}

// Stats aggregates totals, violation count, per-workflow counts, and folds
// every receipt through the ⊕-merge.
func (l *SQLLog) Stats(ctx context.Context) (Stats, error) {
	var rows []receiptRow
	if err := l.db.SelectContext(ctx, &rows, `SELECT * FROM receipts`); err != nil {
		return Stats{}, kherrors.Wrap(err, kherrors.ErrorTypeRuntime, "receiptlog: Stats query failed")
	}

	out := Stats{
		ByWorkflow: make(map[string]uint64),
		PerPattern: make(map[uint8]PatternAccum),
	}
	receipts := toReceipts(rows)
	for _, r := range receipts {
		out.Total++
		out.TickSum += uint64(r.TicksUsed)
		if !r.Success {
			out.Violations++
		}
		out.ByWorkflow[r.WorkflowInstanceID]++

		pa := out.PerPattern[r.PatternID]
		pa.Count++
		pa.TickSum += uint64(r.TicksUsed)
		if r.TicksUsed > pa.MaxTicks {
			pa.MaxTicks = r.TicksUsed
		}
		out.PerPattern[r.PatternID] = pa
	}
	out.MergedAccum = types.Merge(receipts)
	return out, nil
}

func toReceipts(rows []receiptRow) []types.Receipt {
	out := make([]types.Receipt, len(rows))
	for i, row := range rows {
		out[i] = row.toReceipt()
	}
	return out
}
