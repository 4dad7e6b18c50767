// Package scheduler runs persisted delayed jobs. Jobs are claimed from a
// domain.JobQueue on a fixed poll interval and executed by the handler
// registered for their kind, with bounded concurrency.
//
// Jobs sharing a key run in fire-time order within a poll.
//
// Delivery is at least once: a job whose worker died is claimed again after
// its lease. Handlers must therefore be idempotent. A handler error or panic
// marks the job FAILED and is never retried.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/showtime-reservations/internal/domain"
	"github.com/robertarktes/showtime-reservations/internal/observability"
	"golang.org/x/sync/errgroup"
)

type Handler interface {
	Handle(ctx context.Context, job domain.Job) error
}

type HandlerFunc func(ctx context.Context, job domain.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job domain.Job) error {
	return f(ctx, job)
}

type Config struct {
	PollInterval time.Duration
	Concurrency  int
	BatchSize    int
	Lease        time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: time.Minute,
		Concurrency:  10,
		BatchSize:    100,
		Lease:        10 * time.Minute,
	}
}

type Scheduler struct {
	queue  domain.JobQueue
	cfg    Config
	logger observability.Logger

	mu       sync.RWMutex
	handlers map[domain.JobKind]Handler
}

func New(queue domain.JobQueue, cfg Config, logger observability.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Lease <= 0 {
		cfg.Lease = def.Lease
	}
	return &Scheduler{
		queue:    queue,
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[domain.JobKind]Handler),
	}
}

func (s *Scheduler) Register(kind domain.JobKind, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

// Schedule replaces any not-yet-fired job with the same kind and key.
func (s *Scheduler) Schedule(ctx context.Context, kind domain.JobKind, key string, fireAt time.Time, payload any) error {
	if !kind.Valid() {
		return errors.Wrapf(domain.ErrInvalidInput, "unknown job kind %q", kind)
	}
	if key == "" {
		return errors.Wrap(domain.ErrInvalidInput, "job key is required")
	}
	job, err := domain.NewJob(kind, key, fireAt, payload)
	if err != nil {
		return errors.Wrap(err, "encode job payload")
	}
	if err := s.queue.Schedule(ctx, job); err != nil {
		return err
	}
	s.logger.WithField("job_id", job.ID.String()).WithField("kind", string(kind)).WithField("key", key).
		WithField("fire_at", fireAt).Debug("job scheduled")
	return nil
}

// CancelAll purges pending jobs keyed to key. No kinds means every kind.
func (s *Scheduler) CancelAll(ctx context.Context, key string, kinds ...domain.JobKind) error {
	n, err := s.queue.CancelAll(ctx, key, kinds...)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.WithField("key", key).WithField("cancelled", n).Debug("jobs cancelled")
	}
	return nil
}

// Run polls until ctx is done. Poll failures are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.WithField("poll_interval", s.cfg.PollInterval.String()).
		WithField("concurrency", s.cfg.Concurrency).Info("scheduler started")

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx, time.Now()); err != nil && ctx.Err() == nil {
			s.logger.WithError(err).Error("scheduler poll failed")
		}
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce claims the jobs due at now and waits for them to finish. It returns
// the number of jobs executed.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (int, error) {
	jobs, err := s.queue.ClaimDue(ctx, now, s.cfg.BatchSize, s.cfg.Lease)
	if err != nil {
		return 0, errors.Wrap(err, "claim due jobs")
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, group := range groupByKey(jobs) {
		group := group
		g.Go(func() error {
			for _, job := range group {
				s.execute(gctx, job, now)
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(jobs), nil
}

// groupByKey splits a batch into per-key runs ordered by fire time. Jobs of
// one key run one after another; different keys run concurrently.
func groupByKey(jobs []domain.Job) [][]domain.Job {
	index := make(map[string]int)
	var groups [][]domain.Job
	for _, job := range jobs {
		i, ok := index[job.Key]
		if !ok {
			i = len(groups)
			index[job.Key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], job)
	}
	for _, group := range groups {
		sort.SliceStable(group, func(a, b int) bool { return group[a].FireAt.Before(group[b].FireAt) })
	}
	return groups
}

func (s *Scheduler) execute(ctx context.Context, job domain.Job, now time.Time) {
	log := s.logger.WithField("job_id", job.ID.String()).WithField("kind", string(job.Kind)).WithField("key", job.Key)
	observability.JobLag.Observe(now.Sub(job.FireAt).Seconds())

	ctx, span := observability.StartSpan(ctx, "job."+string(job.Kind))
	defer span.End()

	err := s.invoke(ctx, job)
	if err != nil {
		log.WithError(err).Error("job failed")
		observability.JobsProcessed.WithLabelValues(string(job.Kind), string(domain.JobFailed)).Inc()
		if markErr := s.queue.MarkFailed(ctx, job, err); markErr != nil {
			log.WithError(markErr).Error("failed to mark job failed")
		}
		return
	}
	observability.JobsProcessed.WithLabelValues(string(job.Kind), string(domain.JobSucceeded)).Inc()
	if markErr := s.queue.MarkSucceeded(ctx, job); markErr != nil {
		log.WithError(markErr).Error("failed to mark job succeeded")
		return
	}
	log.Debug("job succeeded")
}

func (s *Scheduler) invoke(ctx context.Context, job domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("handler panic: %v", r)
		}
	}()

	s.mu.RLock()
	h, ok := s.handlers[job.Kind]
	s.mu.RUnlock()
	if !ok {
		return errors.Newf("no handler registered for %s", job.Kind)
	}
	return h.Handle(ctx, job)
}
