package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robertarktes/showtime-reservations/internal/domain"
)

type JobQueue struct {
	mu   sync.Mutex
	jobs []*domain.Job
}

func NewJobQueue() *JobQueue {
	return &JobQueue{}
}

func (q *JobQueue) Schedule(ctx context.Context, job domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.Kind == job.Kind && j.Key == job.Key && j.Status == domain.JobScheduled {
			j.Status = domain.JobCancelled
		}
	}
	stored := job
	stored.Status = domain.JobScheduled
	q.jobs = append(q.jobs, &stored)
	return nil
}

func (q *JobQueue) CancelAll(ctx context.Context, key string, kinds ...domain.JobKind) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for _, j := range q.jobs {
		if j.Key != key || j.Status != domain.JobScheduled {
			continue
		}
		if len(kinds) > 0 && !containsKind(kinds, j.Kind) {
			continue
		}
		j.Status = domain.JobCancelled
		n++
	}
	return n, nil
}

func (q *JobQueue) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	due := make([]*domain.Job, 0)
	for _, j := range q.jobs {
		switch {
		case j.Status == domain.JobScheduled && !j.FireAt.After(now):
			due = append(due, j)
		case j.Status == domain.JobFired && j.FiredAt != nil && j.FiredAt.Before(now.Add(-lease)):
			due = append(due, j)
		}
	}
	sort.SliceStable(due, func(a, b int) bool { return due[a].FireAt.Before(due[b].FireAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]domain.Job, 0, len(due))
	for _, j := range due {
		firedAt := now
		j.Status = domain.JobFired
		j.FiredAt = &firedAt
		j.Attempts++
		out = append(out, *j)
	}
	return out, nil
}

func (q *JobQueue) MarkSucceeded(ctx context.Context, job domain.Job) error {
	return q.finish(job, domain.JobSucceeded, "")
}

func (q *JobQueue) MarkFailed(ctx context.Context, job domain.Job, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return q.finish(job, domain.JobFailed, msg)
}

func (q *JobQueue) finish(job domain.Job, status domain.JobStatus, lastErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.ID == job.ID && j.Status == domain.JobFired {
			now := time.Now()
			j.Status = status
			j.LastError = lastErr
			j.FinishedAt = &now
			return nil
		}
	}
	return domain.ErrNotFound
}

// Jobs returns a snapshot of every job, in insertion order.
func (q *JobQueue) Jobs() []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.Job, len(q.jobs))
	for i, j := range q.jobs {
		out[i] = *j
	}
	return out
}

// Pending returns the SCHEDULED jobs for kind and key.
func (q *JobQueue) Pending(kind domain.JobKind, key string) []domain.Job {
	var out []domain.Job
	for _, j := range q.Jobs() {
		if j.Kind == kind && j.Key == key && j.Status == domain.JobScheduled {
			out = append(out, j)
		}
	}
	return out
}

func containsKind(kinds []domain.JobKind, k domain.JobKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}
