package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/parcelforge/conveyor/errors"
)

// JobStatistics aggregates the invocation rows of one job by lifecycle
// state and terminal result.
type JobStatistics struct {
	JobName   string `json:"job_name"`
	Queued    int    `json:"queued"`
	Dequeued  int    `json:"dequeued"`
	Executing int    `json:"executing"`
	Suspended int    `json:"suspended"`
	Cancelled int    `json:"cancelled"`
	Executed  int    `json:"executed"`
	Completed int    `json:"completed"`
	Faulted   int    `json:"faulted"`
	Crashed   int    `json:"crashed"`
	Aborted   int    `json:"aborted"`
}

// WorkerStatistics counts outcomes committed by one worker instance.
type WorkerStatistics struct {
	Instance  string `json:"instance"`
	Dequeues  int    `json:"dequeues"`
	Completes int    `json:"completes"`
	Faults    int    `json:"faults"`
	Crashes   int    `json:"crashes"`
	Cancels   int    `json:"cancels"`
}

// worker_stats counter columns. Closed set so bumpWorkerStat can splice
// the column name into SQL safely.
type workerStat string

const (
	statDequeues  workerStat = "dequeues"
	statCompletes workerStat = "completes"
	statFaults    workerStat = "faults"
	statCrashes   workerStat = "crashes"
	statCancels   workerStat = "cancels"
)

// GetByJob returns invocations for a job, newest first, optionally
// bounded to [startUTC, endUTC) on QueuedAt. A limit <= 0 means no limit.
func (s *Store) GetByJob(ctx context.Context, jobName string, startUTC, endUTC *time.Time, limit int) ([]*Invocation, error) {
	query := `SELECT ` + StandardInvocationColumns() + `
		FROM invocations
		WHERE job_name = ? COLLATE NOCASE`
	args := []interface{}{jobName}

	if startUTC != nil {
		query += ` AND queued_at >= ?`
		args = append(args, startUTC.UTC())
	}
	if endUTC != nil {
		query += ` AND queued_at < ?`
		args = append(args, endUTC.UTC())
	}
	query += ` ORDER BY queued_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err, "failed to query invocations by job")
	}
	defer rows.Close()

	return scanInvocations(rows, "invocations by job")
}

// GetLatestForJob returns the most recent invocation of a job in any
// status, or nil when the job has never been enqueued.
func (s *Store) GetLatestForJob(ctx context.Context, jobName string) (*Invocation, error) {
	query := `SELECT ` + StandardInvocationColumns() + `
		FROM invocations
		WHERE job_name = ? COLLATE NOCASE
		ORDER BY queued_at DESC, version DESC
		LIMIT 1`

	var inv Invocation
	row := s.db.QueryRowContext(ctx, query, jobName)
	err := ScanInvocationFromRow(row, &inv)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err, "failed to get latest invocation")
	}
	return &inv, nil
}

// GetJobStatistics aggregates all invocation rows per job. The snapshot
// is consistent per query, not serializable with concurrent mutations.
func (s *Store) GetJobStatistics(ctx context.Context) ([]*JobStatistics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_name, status, result, COUNT(*)
		FROM invocations
		GROUP BY job_name, status, result
		ORDER BY job_name ASC`)
	if err != nil {
		return nil, storeErr(err, "failed to query job statistics")
	}
	defer rows.Close()

	byJob := make(map[string]*JobStatistics)
	var order []string

	for rows.Next() {
		var jobName string
		var status Status
		var result Result
		var count int
		if err := rows.Scan(&jobName, &status, &result, &count); err != nil {
			return nil, storeErr(err, "failed to scan job statistics")
		}

		stats, ok := byJob[jobName]
		if !ok {
			stats = &JobStatistics{JobName: jobName}
			byJob[jobName] = stats
			order = append(order, jobName)
		}

		switch status {
		case StatusQueued:
			stats.Queued += count
		case StatusDequeued:
			stats.Dequeued += count
		case StatusExecuting:
			stats.Executing += count
		case StatusSuspended:
			stats.Suspended += count
		case StatusCancelled:
			stats.Cancelled += count
		case StatusExecuted:
			stats.Executed += count
		}

		if status == StatusExecuted {
			switch result {
			case ResultCompleted:
				stats.Completed += count
			case ResultFaulted:
				stats.Faulted += count
			case ResultCrashed:
				stats.Crashed += count
			case ResultAborted:
				stats.Aborted += count
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "error iterating job statistics")
	}

	out := make([]*JobStatistics, 0, len(order))
	for _, name := range order {
		out = append(out, byJob[name])
	}
	return out, nil
}

// GetWorkerStatistics returns per-instance outcome counters.
func (s *Store) GetWorkerStatistics(ctx context.Context) ([]*WorkerStatistics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance, dequeues, completes, faults, crashes, cancels
		FROM worker_stats
		ORDER BY instance ASC`)
	if err != nil {
		return nil, storeErr(err, "failed to query worker statistics")
	}
	defer rows.Close()

	var out []*WorkerStatistics
	for rows.Next() {
		var ws WorkerStatistics
		if err := rows.Scan(&ws.Instance, &ws.Dequeues, &ws.Completes, &ws.Faults, &ws.Crashes, &ws.Cancels); err != nil {
			return nil, storeErr(err, "failed to scan worker statistics")
		}
		out = append(out, &ws)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "error iterating worker statistics")
	}
	return out, nil
}

// bumpWorkerStat increments one counter for an instance. Best-effort:
// statistics never fail the operation that produced them.
func (s *Store) bumpWorkerStat(ctx context.Context, instance string, stat workerStat) {
	if instance == "" {
		return
	}
	now := s.clock.Now()
	query := `
		INSERT INTO worker_stats (instance, ` + string(stat) + `, updated_at)
		VALUES (?, 1, ?)
		ON CONFLICT(instance) DO UPDATE SET
			` + string(stat) + ` = ` + string(stat) + ` + 1,
			updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, instance, now); err != nil {
		s.log.Warnw("Failed to update worker statistics",
			"instance", instance,
			"stat", string(stat),
			"error", err,
		)
	}
}

func (s *Store) recordOutcome(ctx context.Context, instance string, result Result) {
	switch result {
	case ResultCompleted:
		s.bumpWorkerStat(ctx, instance, statCompletes)
	case ResultFaulted:
		s.bumpWorkerStat(ctx, instance, statFaults)
	case ResultCrashed:
		s.bumpWorkerStat(ctx, instance, statCrashes)
	case ResultCancelled, ResultAborted:
		s.bumpWorkerStat(ctx, instance, statCancels)
	}
}
