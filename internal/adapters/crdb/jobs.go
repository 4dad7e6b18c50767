package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/showtime-reservations/internal/domain"
)

const jobColumns = `id, kind, key, fire_at, payload, status, attempts, last_error, created_at, fired_at, finished_at`

// JobQueue is the persisted delayed-job table. Due jobs are claimed with
// FOR UPDATE SKIP LOCKED so several scheduler processes can poll it.
type JobQueue struct {
	*Repository
}

func NewJobQueue(repo *Repository) *JobQueue {
	return &JobQueue{Repository: repo}
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	var kind, status string
	var payload []byte
	err := row.Scan(&j.ID, &kind, &j.Key, &j.FireAt, &payload, &status, &j.Attempts, &j.LastError, &j.CreatedAt, &j.FiredAt, &j.FinishedAt)
	if err != nil {
		return domain.Job{}, err
	}
	j.Kind = domain.JobKind(kind)
	j.Status = domain.JobStatus(status)
	j.Payload = payload
	return j, nil
}

func (q *JobQueue) Schedule(ctx context.Context, job domain.Job) error {
	return q.RetryTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE scheduled_jobs SET status = 'CANCELLED', finished_at = now()
			WHERE key = $1 AND kind = $2 AND status = 'SCHEDULED'
		`, job.Key, string(job.Kind))
		if err != nil {
			return domain.StorageErr(err, "cancel superseded jobs")
		}

		var payload []byte
		if len(job.Payload) > 0 {
			payload = job.Payload
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO scheduled_jobs (id, kind, key, fire_at, payload, status)
			VALUES ($1, $2, $3, $4, $5, 'SCHEDULED')
		`, job.ID, string(job.Kind), job.Key, job.FireAt, payload)
		if err != nil {
			return domain.StorageErr(err, "insert job")
		}
		return nil
	})
}

func (q *JobQueue) CancelAll(ctx context.Context, key string, kinds ...domain.JobKind) (int64, error) {
	query := `UPDATE scheduled_jobs SET status = 'CANCELLED', finished_at = now() WHERE key = $1 AND status = 'SCHEDULED'`
	args := []any{key}
	if len(kinds) > 0 {
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		query += ` AND kind = ANY($2)`
		args = append(args, names)
	}
	tag, err := q.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, domain.StorageErr(err, "cancel jobs")
	}
	return tag.RowsAffected(), nil
}

func (q *JobQueue) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.Job, error) {
	var claimed []domain.Job
	err := q.RetryTx(ctx, func(tx pgx.Tx) error {
		claimed = claimed[:0]
		rows, err := tx.Query(ctx, `
			SELECT `+jobColumns+` FROM scheduled_jobs
			WHERE (status = 'SCHEDULED' AND fire_at <= $1)
			   OR (status = 'FIRED' AND fired_at < $2)
			ORDER BY fire_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		`, now, now.Add(-lease), limit)
		if err != nil {
			return domain.StorageErr(err, "select due jobs")
		}
		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				rows.Close()
				return domain.StorageErr(err, "scan job")
			}
			claimed = append(claimed, j)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return domain.StorageErr(err, "select due jobs")
		}
		if len(claimed) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, j := range claimed {
			batch.Queue(`UPDATE scheduled_jobs SET status = 'FIRED', fired_at = $2, attempts = attempts + 1 WHERE id = $1`, j.ID, now)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return domain.StorageErr(err, "mark jobs fired")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i := range claimed {
		firedAt := now
		claimed[i].Status = domain.JobFired
		claimed[i].FiredAt = &firedAt
		claimed[i].Attempts++
	}
	return claimed, nil
}

func (q *JobQueue) MarkSucceeded(ctx context.Context, job domain.Job) error {
	return q.finish(ctx, job, domain.JobSucceeded, "")
}

func (q *JobQueue) MarkFailed(ctx context.Context, job domain.Job, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return q.finish(ctx, job, domain.JobFailed, msg)
}

func (q *JobQueue) finish(ctx context.Context, job domain.Job, status domain.JobStatus, lastErr string) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE scheduled_jobs SET status = $2, last_error = $3, finished_at = now()
		WHERE id = $1 AND status = 'FIRED'
	`, job.ID, string(status), lastErr)
	if err != nil {
		return domain.StorageErr(err, "finish job")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrNotFound, "job %s is not fired", job.ID)
	}
	return nil
}

// GetJob is used by operators and tests to inspect a job.
func (q *JobQueue) GetJob(ctx context.Context, id string) (domain.Job, error) {
	j, err := scanJob(q.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Job{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Job{}, domain.StorageErr(err, "get job")
	}
	return j, nil
}
