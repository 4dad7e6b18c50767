// Package moviepass sells discount passes and expires them on schedule.
package moviepass

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/showtime-reservations/internal/domain"
	"github.com/robertarktes/showtime-reservations/internal/observability"
)

// Plan is the terms a pass is sold under.
type Plan struct {
	Name                  string
	DiscountPercent       float64
	MaxDiscountPerBooking float64
	Bookings              int
	Duration              time.Duration
}

var Plans = map[string]Plan{
	"monthly":   {Name: "monthly", DiscountPercent: 20, MaxDiscountPerBooking: 150, Bookings: 8, Duration: 30 * 24 * time.Hour},
	"quarterly": {Name: "quarterly", DiscountPercent: 25, MaxDiscountPerBooking: 200, Bookings: 30, Duration: 90 * 24 * time.Hour},
}

// Expired is the moviepass.expired payload.
type Expired struct {
	UserID string    `json:"user_id"`
	At     time.Time `json:"at"`
}

type Service struct {
	store  domain.PassStore
	jobs   domain.JobScheduler
	sink   domain.NotificationSink
	logger observability.Logger
	now    func() time.Time
}

func NewService(store domain.PassStore, jobs domain.JobScheduler, sink domain.NotificationSink, logger observability.Logger) *Service {
	return &Service{store: store, jobs: jobs, sink: sink, logger: logger, now: time.Now}
}

// Activate stores an active pass on plan for userID and schedules its
// expiry. A zero duration uses the plan's own. A user holds one active pass
// at a time.
func (s *Service) Activate(ctx context.Context, userID, plan string, duration time.Duration) (*domain.MoviePass, error) {
	if userID == "" {
		return nil, errors.Wrap(domain.ErrInvalidInput, "user id is required")
	}
	p, ok := Plans[plan]
	if !ok {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "unknown plan %q", plan)
	}
	if duration < 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "duration cannot be negative")
	}
	if duration == 0 {
		duration = p.Duration
	}

	now := s.now()
	// A lapsed pass whose job has not fired yet must not block a renewal.
	if _, err := s.store.ExpireIfDue(ctx, userID, now); err != nil {
		return nil, err
	}
	pass := &domain.MoviePass{
		ID:                    uuid.New().String(),
		UserID:                userID,
		Plan:                  p.Name,
		Status:                domain.PassActive,
		DiscountPercent:       p.DiscountPercent,
		MaxDiscountPerBooking: p.MaxDiscountPerBooking,
		BookingsRemaining:     p.Bookings,
		ExpiresAt:             now.Add(duration),
		CreatedAt:             now,
	}
	if err := s.store.Create(ctx, pass); err != nil {
		return nil, err
	}
	if err := s.jobs.Schedule(ctx, domain.JobExpireMoviePass, userID, pass.ExpiresAt, nil); err != nil {
		observability.SchedulingFailures.WithLabelValues(string(domain.JobExpireMoviePass)).Inc()
		s.logger.WithField("user_id", userID).WithError(err).Error("failed to schedule pass expiry")
	}
	s.logger.WithField("user_id", userID).WithField("plan", p.Name).Info("movie pass activated")
	return pass, nil
}

// Expire deactivates the user's pass when it is past expiry at now.
func (s *Service) Expire(ctx context.Context, userID string, now time.Time) (bool, error) {
	n, err := s.store.ExpireIfDue(ctx, userID, now)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	s.sink.Emit(ctx, domain.TopicMoviePassExpired, Expired{UserID: userID, At: now})
	return true, nil
}

// HandleExpire is the expireMoviePass job handler.
func (s *Service) HandleExpire(ctx context.Context, job domain.Job) error {
	_, err := s.Expire(ctx, job.Key, s.now())
	return err
}
