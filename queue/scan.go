package queue

import (
	"database/sql"

	"github.com/parcelforge/conveyor/errors"
)

// InvocationScanArgs holds the nullable variables needed when scanning an
// invocation row.
type InvocationScanArgs struct {
	Payload         sql.NullString
	ResultMessage   sql.NullString
	LogURL          sql.NullString
	DequeuedBy      sql.NullString
	LastDequeuedAt  sql.NullTime
	LastSuspendedAt sql.NullTime
	CompletedAt     sql.NullTime
}

// StandardInvocationColumns returns the column list every invocation
// SELECT uses, in scan order.
func StandardInvocationColumns() string {
	return `id, job_name, source, payload,
		status, result, result_message, log_url,
		is_continuation, dequeue_count, dequeued_by, version,
		queued_at, next_visible_at, last_dequeued_at, last_suspended_at,
		completed_at, updated_at`
}

func invocationScanTargets(inv *Invocation, args *InvocationScanArgs) []interface{} {
	return []interface{}{
		&inv.ID,
		&inv.JobName,
		&inv.Source,
		&args.Payload,
		&inv.Status,
		&inv.Result,
		&args.ResultMessage,
		&args.LogURL,
		&inv.IsContinuation,
		&inv.DequeueCount,
		&args.DequeuedBy,
		&inv.Version,
		&inv.QueuedAt,
		&inv.NextVisibleAt,
		&args.LastDequeuedAt,
		&args.LastSuspendedAt,
		&args.CompletedAt,
		&inv.UpdatedAt,
	}
}

func processInvocationScanArgs(inv *Invocation, args *InvocationScanArgs) error {
	if args.Payload.Valid {
		payload, err := DecodePayload(args.Payload.String)
		if err != nil {
			return errors.Wrapf(err, "failed to decode payload for invocation %s", inv.ID)
		}
		inv.Payload = payload
	}
	if args.ResultMessage.Valid {
		inv.ResultMessage = args.ResultMessage.String
	}
	if args.LogURL.Valid {
		inv.LogURL = args.LogURL.String
	}
	if args.DequeuedBy.Valid {
		inv.DequeuedBy = args.DequeuedBy.String
	}
	if args.LastDequeuedAt.Valid {
		t := args.LastDequeuedAt.Time.UTC()
		inv.LastDequeuedAt = &t
	}
	if args.LastSuspendedAt.Valid {
		t := args.LastSuspendedAt.Time.UTC()
		inv.LastSuspendedAt = &t
	}
	if args.CompletedAt.Valid {
		t := args.CompletedAt.Time.UTC()
		inv.CompletedAt = &t
	}
	inv.QueuedAt = inv.QueuedAt.UTC()
	inv.NextVisibleAt = inv.NextVisibleAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	return nil
}

// ScanInvocationFromRow scans a single invocation from a sql.Row.
func ScanInvocationFromRow(row *sql.Row, inv *Invocation) error {
	args := &InvocationScanArgs{}
	if err := row.Scan(invocationScanTargets(inv, args)...); err != nil {
		return err
	}
	return processInvocationScanArgs(inv, args)
}

// ScanInvocationFromRows scans a single invocation from sql.Rows (for use
// in loops).
func ScanInvocationFromRows(rows *sql.Rows, inv *Invocation) error {
	args := &InvocationScanArgs{}
	if err := rows.Scan(invocationScanTargets(inv, args)...); err != nil {
		return err
	}
	return processInvocationScanArgs(inv, args)
}

func scanInvocations(rows *sql.Rows, context string) ([]*Invocation, error) {
	var invocations []*Invocation
	for rows.Next() {
		var inv Invocation
		if err := ScanInvocationFromRows(rows, &inv); err != nil {
			return nil, errors.Wrap(err, "failed to scan invocation")
		}
		invocations = append(invocations, &inv)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}
	return invocations, nil
}
