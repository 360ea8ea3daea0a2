package queue

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/parcelforge/conveyor/clock"
	"github.com/parcelforge/conveyor/errors"
)

const (
	// DefaultInvisibility is the lease window applied on dequeue.
	DefaultInvisibility = 30 * time.Minute

	// DefaultMaxLeaseExtension is the hard cap on how far Extend may
	// push a lease past now.
	DefaultMaxLeaseExtension = 4 * time.Hour

	// dequeueAttempts bounds the CAS retry loop when several workers
	// race for the same visible row.
	dequeueAttempts = 5
)

// Store handles persistence of invocation rows. Every mutation carries a
// compare-and-set on the row version; a lost CAS is a signal, not an
// error. Driver failures are marked with errors.ErrStoreUnavailable so
// callers can treat them as transient.
type Store struct {
	db                *sql.DB
	clock             clock.Clock
	log               *zap.SugaredLogger
	maxLeaseExtension time.Duration
}

// NewStore creates an invocation store.
func NewStore(conn *sql.DB, clk clock.Clock, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{
		db:                conn,
		clock:             clk,
		log:               log.Named("store"),
		maxLeaseExtension: DefaultMaxLeaseExtension,
	}
}

// SetMaxLeaseExtension overrides the Extend hard cap.
func (s *Store) SetMaxLeaseExtension(d time.Duration) {
	s.maxLeaseExtension = d
}

func storeErr(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), errors.ErrStoreUnavailable)
}

// Enqueue inserts a fresh invocation row. The row becomes visible to
// Dequeue at now+visibilityDelay.
func (s *Store) Enqueue(ctx context.Context, jobName, source string, payload Payload, visibilityDelay time.Duration) (*Invocation, error) {
	if jobName == "" {
		return nil, errors.New("jobName cannot be empty")
	}
	if visibilityDelay < 0 {
		return nil, errors.Newf("visibilityDelay cannot be negative: %s", visibilityDelay)
	}
	if source == "" {
		source = SourceBackgroundEnqueue
	}

	now := s.clock.Now()
	inv := &Invocation{
		ID:            NewID(),
		JobName:       jobName,
		Source:        source,
		Payload:       payload.Clone(),
		Status:        StatusQueued,
		Result:        ResultIncomplete,
		Version:       0,
		QueuedAt:      now,
		NextVisibleAt: now.Add(visibilityDelay),
		UpdatedAt:     now,
	}

	if err := s.insert(ctx, inv); err != nil {
		err = errors.WithDetailf(err, "Job: %s", jobName)
		err = errors.WithDetailf(err, "Source: %s", source)
		return nil, err
	}

	s.log.Debugw("Enqueued invocation",
		"invocation_id", inv.ID,
		"job_name", jobName,
		"source", source,
		"next_visible_at", inv.NextVisibleAt,
	)
	return inv, nil
}

func (s *Store) insert(ctx context.Context, inv *Invocation) error {
	encoded, err := EncodePayload(inv.Payload)
	if err != nil {
		return err
	}
	payload := sql.NullString{String: encoded, Valid: encoded != ""}
	dequeuedBy := sql.NullString{String: inv.DequeuedBy, Valid: inv.DequeuedBy != ""}

	query := `
		INSERT INTO invocations (
			id, job_name, source, payload,
			status, result, is_continuation,
			dequeue_count, dequeued_by, version,
			queued_at, next_visible_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		inv.ID,
		inv.JobName,
		inv.Source,
		payload,
		inv.Status,
		inv.Result,
		inv.IsContinuation,
		inv.DequeueCount,
		dequeuedBy,
		inv.Version,
		inv.QueuedAt,
		inv.NextVisibleAt,
		inv.UpdatedAt,
	)
	if err != nil {
		return storeErr(err, "failed to insert invocation")
	}
	return nil
}

// Dequeue leases the next visible invocation for instance: ascending
// NextVisibleAt, ties broken by ascending QueuedAt. Returns nil when no
// row is eligible. The lease is taken atomically through the version
// CAS; losing a race against another worker retries on the next
// candidate.
func (s *Store) Dequeue(ctx context.Context, instance string, invisibility time.Duration) (*Invocation, error) {
	for attempt := 0; attempt < dequeueAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		now := s.clock.Now()
		inv, err := s.nextEligible(ctx, now)
		if err != nil {
			return nil, err
		}
		if inv == nil {
			return nil, nil
		}

		nextVisible := now.Add(invisibility)
		res, err := s.db.ExecContext(ctx, `
			UPDATE invocations
			SET status = ?,
			    next_visible_at = ?,
			    dequeue_count = dequeue_count + 1,
			    last_dequeued_at = ?,
			    dequeued_by = ?,
			    version = version + 1,
			    updated_at = ?
			WHERE id = ? AND version = ?`,
			StatusDequeued, nextVisible, now, instance, now,
			inv.ID, inv.Version,
		)
		if err != nil {
			return nil, storeErr(err, "failed to lease invocation")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, storeErr(err, "failed to read lease result")
		}
		if n == 0 {
			// Another worker won the row; try the next candidate
			continue
		}

		inv.Status = StatusDequeued
		inv.NextVisibleAt = nextVisible
		inv.DequeueCount++
		inv.LastDequeuedAt = &now
		inv.DequeuedBy = instance
		inv.Version++
		inv.UpdatedAt = now

		s.bumpWorkerStat(ctx, instance, statDequeues)
		return inv, nil
	}
	// Contention exhausted the retry budget; behave as an empty poll
	return nil, nil
}

// nextEligible selects the oldest visible non-terminal row. Dequeued
// and executing rows qualify too: their visibility horizon is the
// lease, and an expired lease means the worker died or overran.
func (s *Store) nextEligible(ctx context.Context, now time.Time) (*Invocation, error) {
	query := `SELECT ` + StandardInvocationColumns() + `
		FROM invocations
		WHERE status IN (?, ?, ?, ?)
		  AND completed_at IS NULL
		  AND next_visible_at <= ?
		ORDER BY next_visible_at ASC, queued_at ASC
		LIMIT 1`

	var inv Invocation
	row := s.db.QueryRowContext(ctx, query, StatusQueued, StatusDequeued, StatusExecuting, StatusSuspended, now)
	err := ScanInvocationFromRow(row, &inv)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err, "failed to select eligible invocation")
	}
	return &inv, nil
}

// UpdateStatus performs the compare-and-set status transition. Returns
// false (without raising) when the version advanced since the caller's
// snapshot; the caller must treat that as "aborted by another actor".
func (s *Store) UpdateStatus(ctx context.Context, inv *Invocation, status Status, result Result) (bool, error) {
	now := s.clock.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE invocations
		SET status = ?, result = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		status, result, now, inv.ID, inv.Version,
	)
	if err != nil {
		return false, storeErr(err, "failed to update invocation status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(err, "failed to read status update result")
	}
	if n == 0 {
		return false, nil
	}

	inv.Status = status
	inv.Result = result
	inv.Version++
	inv.UpdatedAt = now
	return true, nil
}

// Complete commits a terminal outcome. Late commits (version advanced,
// e.g. a lease expired and another worker re-ran the row) are dropped
// silently and reported as ok=false.
func (s *Store) Complete(ctx context.Context, inv *Invocation, result Result, message, logURL string) (bool, error) {
	if !IsTerminalResult(result) {
		return false, errors.Newf("cannot complete with non-terminal result %q", result)
	}

	now := s.clock.Now()
	msg := sql.NullString{String: message, Valid: message != ""}
	url := sql.NullString{String: logURL, Valid: logURL != ""}

	res, err := s.db.ExecContext(ctx, `
		UPDATE invocations
		SET status = ?, result = ?, result_message = ?, log_url = ?,
		    completed_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		StatusExecuted, result, msg, url, now, now,
		inv.ID, inv.Version,
	)
	if err != nil {
		return false, storeErr(err, "failed to complete invocation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(err, "failed to read completion result")
	}
	if n == 0 {
		return false, nil
	}

	inv.Status = StatusExecuted
	inv.Result = result
	inv.ResultMessage = message
	inv.LogURL = logURL
	inv.CompletedAt = &now
	inv.Version++
	inv.UpdatedAt = now

	s.recordOutcome(ctx, inv.DequeuedBy, result)
	return true, nil
}

// Suspend parks the current row and inserts its continuation: a fresh id
// carrying the new payload, Source set to the prior id, visible after
// waitPeriod. Returns nil (no error) when the version CAS on the prior
// row is lost — the suspension was aborted by another actor.
func (s *Store) Suspend(ctx context.Context, inv *Invocation, continuationPayload Payload, waitPeriod time.Duration, logURL string) (*Invocation, error) {
	if waitPeriod <= 0 {
		return nil, errors.Newf("waitPeriod must be positive: %s", waitPeriod)
	}

	now := s.clock.Now()
	url := sql.NullString{String: logURL, Valid: logURL != ""}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr(err, "failed to begin suspend transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE invocations
		SET status = ?, log_url = ?, last_suspended_at = ?,
		    completed_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		StatusSuspended, url, now, now, now,
		inv.ID, inv.Version,
	)
	if err != nil {
		return nil, storeErr(err, "failed to suspend invocation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, storeErr(err, "failed to read suspend result")
	}
	if n == 0 {
		return nil, nil
	}

	cont := &Invocation{
		ID:             NewID(),
		JobName:        inv.JobName,
		Source:         inv.ID,
		Payload:        continuationPayload.Clone(),
		Status:         StatusSuspended,
		Result:         ResultIncomplete,
		IsContinuation: true,
		Version:        inv.Version + 1,
		QueuedAt:       now,
		NextVisibleAt:  now.Add(waitPeriod),
		UpdatedAt:      now,
	}

	encoded, err := EncodePayload(cont.Payload)
	if err != nil {
		return nil, err
	}
	payload := sql.NullString{String: encoded, Valid: encoded != ""}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invocations (
			id, job_name, source, payload,
			status, result, is_continuation,
			dequeue_count, version,
			queued_at, next_visible_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, 1, 0, ?, ?, ?, ?)`,
		cont.ID, cont.JobName, cont.Source, payload,
		cont.Status, cont.Result,
		cont.Version, cont.QueuedAt, cont.NextVisibleAt, cont.UpdatedAt,
	)
	if err != nil {
		return nil, storeErr(err, "failed to insert continuation")
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr(err, "failed to commit suspend")
	}

	suspendedAt := now
	inv.Status = StatusSuspended
	inv.LogURL = logURL
	inv.LastSuspendedAt = &suspendedAt
	inv.CompletedAt = &suspendedAt
	inv.Version++
	inv.UpdatedAt = now

	s.log.Debugw("Suspended invocation",
		"invocation_id", inv.ID,
		"continuation_id", cont.ID,
		"job_name", inv.JobName,
		"wait_period", waitPeriod,
	)
	return cont, nil
}

// Extend advances the lease (NextVisibleAt) by additionalTime, never
// past now+maxLeaseExtension. No-op when the invocation is already
// terminal or when the version CAS is lost.
func (s *Store) Extend(ctx context.Context, inv *Invocation, additionalTime time.Duration) error {
	if additionalTime <= 0 {
		return errors.Newf("additionalTime must be positive: %s", additionalTime)
	}
	if inv.Terminal() {
		return nil
	}

	now := s.clock.Now()
	target := inv.NextVisibleAt.Add(additionalTime)
	if hardCap := now.Add(s.maxLeaseExtension); target.After(hardCap) {
		target = hardCap
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE invocations
		SET next_visible_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND completed_at IS NULL`,
		target, now, inv.ID, inv.Version,
	)
	if err != nil {
		return storeErr(err, "failed to extend lease")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(err, "failed to read extend result")
	}
	if n == 0 {
		// Version advanced under us; the holder of the newer version
		// owns the lease now
		return nil
	}

	inv.NextVisibleAt = target
	inv.Version++
	inv.UpdatedAt = now
	return nil
}

// Cancel marks a not-yet-leased row terminal. Returns false when the row
// was already dequeued, terminal, or missing.
func (s *Store) Cancel(ctx context.Context, id string) (bool, error) {
	now := s.clock.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE invocations
		SET status = ?, result = ?, completed_at = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND status IN (?, ?) AND completed_at IS NULL`,
		StatusCancelled, ResultCancelled, now, now,
		id, StatusQueued, StatusSuspended,
	)
	if err != nil {
		return false, storeErr(err, "failed to cancel invocation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(err, "failed to read cancel result")
	}
	return n == 1, nil
}

// Get retrieves an invocation by id.
func (s *Store) Get(ctx context.Context, id string) (*Invocation, error) {
	query := `SELECT ` + StandardInvocationColumns() + ` FROM invocations WHERE id = ?`

	var inv Invocation
	row := s.db.QueryRowContext(ctx, query, id)
	err := ScanInvocationFromRow(row, &inv)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "invocation %s", id)
	}
	if err != nil {
		return nil, storeErr(err, "failed to get invocation")
	}
	return &inv, nil
}

// ReinitializeInvocationState repairs rows orphaned by a crashed worker:
// anything this instance still holds a lease on in Dequeued or Executing
// goes back to Queued, visible immediately. Returns the repaired count.
func (s *Store) ReinitializeInvocationState(ctx context.Context, instance string) (int, error) {
	now := s.clock.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE invocations
		SET status = ?, next_visible_at = ?, dequeued_by = NULL,
		    version = version + 1, updated_at = ?
		WHERE dequeued_by = ?
		  AND status IN (?, ?)
		  AND completed_at IS NULL`,
		StatusQueued, now, now,
		instance, StatusDequeued, StatusExecuting,
	)
	if err != nil {
		return 0, storeErr(err, "failed to reinitialize invocation state")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(err, "failed to read reinitialize result")
	}
	if n > 0 {
		s.log.Infow("Reinitialized orphaned invocations",
			"instance", instance,
			"count", n,
		)
	}
	return int(n), nil
}

// PurgeTerminal removes Executed and Cancelled rows whose terminal
// commit is older than the cutoff. Returns the number of rows removed.
func (s *Store) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM invocations
		WHERE status IN (?, ?)
		  AND completed_at IS NOT NULL
		  AND completed_at < ?`,
		StatusExecuted, StatusCancelled, cutoff,
	)
	if err != nil {
		return 0, storeErr(err, "failed to purge terminal invocations")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(err, "failed to read purge result")
	}
	return int(n), nil
}
