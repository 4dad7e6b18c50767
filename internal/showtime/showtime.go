// Package showtime drives the status of a show over time: scheduling its
// start and completion, cancelling it, and purging its jobs.
package showtime

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/showtime-reservations/internal/domain"
	"github.com/robertarktes/showtime-reservations/internal/observability"
	"github.com/robertarktes/showtime-reservations/internal/settlement"
)

// BookingCanceller is the part of the booking orchestrator a show
// cancellation needs.
type BookingCanceller interface {
	Cancel(ctx context.Context, bookingID, reason string, by domain.CancelledBy) (*domain.Booking, error)
}

type Settler interface {
	Settle(ctx context.Context, show *domain.Show) (*settlement.Settlement, error)
}

type Service struct {
	store    domain.ReservationStore
	ledger   domain.BookingLedger
	bookings BookingCanceller
	settler  Settler
	jobs     domain.JobScheduler
	sink     domain.NotificationSink
	logger   observability.Logger
}

func NewService(store domain.ReservationStore, ledger domain.BookingLedger, bookings BookingCanceller, settler Settler, jobs domain.JobScheduler, sink domain.NotificationSink, logger observability.Logger) *Service {
	return &Service{
		store:    store,
		ledger:   ledger,
		bookings: bookings,
		settler:  settler,
		jobs:     jobs,
		sink:     sink,
		logger:   logger,
	}
}

// ScheduleShow (re)schedules the start and completion jobs of a show. Any
// previously scheduled start or completion is replaced.
func (s *Service) ScheduleShow(ctx context.Context, showID string, start, end time.Time) error {
	if start.IsZero() || !end.After(start) {
		return errors.Wrap(domain.ErrInvalidInput, "end time must be after start time")
	}
	show, err := s.store.GetShow(ctx, showID)
	if err != nil {
		return err
	}
	if !show.Bookable() {
		return errors.Wrapf(domain.ErrShowNotBookable, "show %s is %s", showID, show.Status)
	}
	if err := s.jobs.Schedule(ctx, domain.JobStartShow, showID, start, nil); err != nil {
		return err
	}
	if err := s.jobs.Schedule(ctx, domain.JobCompleteShow, showID, end, nil); err != nil {
		return err
	}
	s.logger.WithField("show_id", showID).WithField("start", start).WithField("end", end).Info("show scheduled")
	return nil
}

type CancelResult struct {
	ShowID            string `json:"show_id"`
	CancelledBookings int    `json:"cancelled_bookings"`
}

// CancelShow cancels a show that has not completed, cancels every booking on
// it with a full refund and drops its pending jobs. Cancelling a cancelled
// show only retries the booking cancellations.
func (s *Service) CancelShow(ctx context.Context, showID, reason string) (*CancelResult, error) {
	from, err := s.transitionToCancelled(ctx, showID)
	if err != nil {
		return nil, err
	}
	if from != "" {
		s.sink.Emit(ctx, domain.TopicShowStatusChanged, domain.ShowStatusChanged{ShowID: showID, From: from, To: domain.ShowCancelled})
	}

	if err := s.jobs.CancelAll(ctx, showID, domain.ShowJobKinds...); err != nil {
		s.logger.WithField("show_id", showID).WithError(err).Warn("failed to cancel show jobs")
	}

	bookings, err := s.ledger.ListByShow(ctx, showID, false)
	if err != nil {
		return nil, err
	}
	res := &CancelResult{ShowID: showID}
	if reason == "" {
		reason = "show cancelled"
	}
	for _, b := range bookings {
		if b.Cancelled() {
			continue
		}
		if _, err := s.bookings.Cancel(ctx, b.ID, reason, domain.CancelledByVendor); err != nil {
			return res, errors.Wrapf(err, "cancel booking %s", b.ID)
		}
		res.CancelledBookings++
	}
	s.logger.WithField("show_id", showID).WithField("bookings", res.CancelledBookings).Info("show cancelled")
	return res, nil
}

// transitionToCancelled returns the status the show left, or "" when it was
// already cancelled.
func (s *Service) transitionToCancelled(ctx context.Context, showID string) (domain.ShowStatus, error) {
	for attempt := 0; attempt < 3; attempt++ {
		show, err := s.store.GetShow(ctx, showID)
		if err != nil {
			return "", err
		}
		if show.Status == domain.ShowCancelled {
			return "", nil
		}
		if !show.Status.CanTransitionTo(domain.ShowCancelled) {
			return "", errors.Wrapf(domain.ErrConflict, "show %s is already %s", showID, show.Status)
		}
		ok, err := s.store.TransitionStatus(ctx, showID, show.Status, domain.ShowCancelled)
		if err != nil {
			return "", err
		}
		if ok {
			return show.Status, nil
		}
	}
	return "", errors.Wrapf(domain.ErrConflict, "show %s changed status concurrently", showID)
}

// DeleteShow purges every pending job keyed to the show.
func (s *Service) DeleteShow(ctx context.Context, showID string) error {
	if showID == "" {
		return errors.Wrap(domain.ErrInvalidInput, "show id is required")
	}
	return s.jobs.CancelAll(ctx, showID)
}

// HandleStartShow is the startShow job handler. It is a no-op unless the show
// is still Scheduled.
func (s *Service) HandleStartShow(ctx context.Context, job domain.Job) error {
	ok, err := s.store.TransitionStatus(ctx, job.Key, domain.ShowScheduled, domain.ShowRunning)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.WithField("show_id", job.Key).Warn("show gone, not starting")
		return nil
	}
	if err != nil {
		return err
	}
	if ok {
		s.sink.Emit(ctx, domain.TopicShowStatusChanged, domain.ShowStatusChanged{ShowID: job.Key, From: domain.ShowScheduled, To: domain.ShowRunning})
	}
	return nil
}

// HandleCompleteShow is the completeShow job handler. Settlement runs whenever
// the show is Completed, so a redelivered job finishes a settlement that
// failed halfway. A show that never left Scheduled fails the job.
func (s *Service) HandleCompleteShow(ctx context.Context, job domain.Job) error {
	ok, err := s.store.TransitionStatus(ctx, job.Key, domain.ShowRunning, domain.ShowCompleted)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.WithField("show_id", job.Key).Warn("show gone, not completing")
		return nil
	}
	if err != nil {
		return err
	}
	show, err := s.store.GetShow(ctx, job.Key)
	if err != nil {
		return err
	}
	switch show.Status {
	case domain.ShowCompleted:
	case domain.ShowScheduled:
		return errors.Wrapf(domain.ErrConflict, "show %s never started", job.Key)
	default:
		return nil
	}
	if ok {
		s.sink.Emit(ctx, domain.TopicShowStatusChanged, domain.ShowStatusChanged{ShowID: job.Key, From: domain.ShowRunning, To: domain.ShowCompleted})
	}
	_, err = s.settler.Settle(ctx, show)
	return err
}
