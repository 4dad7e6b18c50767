// Package seating places and releases checkout-time seat holds.
package seating

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/showtime-reservations/internal/domain"
	"github.com/robertarktes/showtime-reservations/internal/observability"
)

type Service struct {
	store   domain.ReservationStore
	layouts domain.SeatLayoutProvider
	jobs    domain.JobScheduler
	sink    domain.NotificationSink
	logger  observability.Logger
	holdTTL time.Duration
	now     func() time.Time
}

func NewService(store domain.ReservationStore, layouts domain.SeatLayoutProvider, jobs domain.JobScheduler, sink domain.NotificationSink, logger observability.Logger, holdTTL time.Duration) *Service {
	return &Service{
		store:   store,
		layouts: layouts,
		jobs:    jobs,
		sink:    sink,
		logger:  logger,
		holdTTL: holdTTL,
		now:     time.Now,
	}
}

type HoldResult struct {
	ShowID    string            `json:"show_id"`
	Holds     []domain.SeatHold `json:"holds"`
	SubTotal  float64           `json:"sub_total"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// HoldSeats places pending holds on every requested seat or on none.
func (s *Service) HoldSeats(ctx context.Context, showID string, seats []string, userID string) (*HoldResult, error) {
	ctx, span := observability.StartSpan(ctx, "seating.HoldSeats")
	defer span.End()

	if err := validateRequest(showID, seats, userID); err != nil {
		return nil, err
	}
	now := s.now()

	show, err := s.store.GetShow(ctx, showID)
	if err != nil {
		return nil, err
	}
	if !show.Bookable() {
		return nil, errors.Wrapf(domain.ErrShowNotBookable, "show %s is %s", showID, show.Status)
	}
	layout, err := s.layouts.FindLayoutForScreen(ctx, show.ScreenID)
	if err != nil {
		return nil, err
	}

	holds := make([]domain.SeatHold, 0, len(seats))
	var unavailable []string
	for _, number := range seats {
		seat, ok := layout.Seat(number)
		if !ok || !seat.Available {
			unavailable = append(unavailable, number)
			continue
		}
		holds = append(holds, domain.SeatHold{
			SeatNumber: seat.Number,
			SeatPrice:  seat.Price,
			Type:       seat.Type,
			Position:   seat.Position,
			UserID:     userID,
		})
	}
	if len(unavailable) > 0 {
		observability.SeatConflicts.Inc()
		return nil, domain.NewSeatConflict("not available on this screen", unavailable...)
	}
	if taken := show.Conflicts(seats, now, s.holdTTL); len(taken) > 0 {
		observability.SeatConflicts.Inc()
		return nil, domain.NewSeatConflict("", taken...)
	}

	placed, err := s.store.PlaceHold(ctx, showID, holds, now, s.holdTTL)
	if err != nil {
		if errors.Is(err, domain.ErrSeatConflict) {
			observability.SeatConflicts.Inc()
		}
		return nil, err
	}
	observability.SeatHoldsPlaced.Add(float64(len(placed)))

	expiresAt := now.Add(s.holdTTL)
	if err := s.jobs.Schedule(ctx, domain.JobReleaseExpiredSeatHolds, showID, expiresAt, nil); err != nil {
		// Lapsed holds are still pulled by the next contended PlaceHold.
		observability.SchedulingFailures.WithLabelValues(string(domain.JobReleaseExpiredSeatHolds)).Inc()
		s.logger.WithField("show_id", showID).WithError(err).Error("failed to schedule hold expiry")
	}

	s.sink.Emit(ctx, domain.TopicSeatStatusChanged, domain.SeatStatusChanged{
		ShowID: showID,
		Seats:  seats,
		Status: domain.SeatPending,
		UserID: userID,
	})

	var subTotal float64
	for _, h := range placed {
		subTotal += h.SeatPrice
	}
	return &HoldResult{
		ShowID:    showID,
		Holds:     placed,
		SubTotal:  domain.RoundMoney(subTotal),
		ExpiresAt: expiresAt,
	}, nil
}

// ReleaseSeats drops userID's holds on seats, e.g. when checkout is abandoned.
// Seats that belong to a booking are refused; the booking has to be cancelled
// instead.
func (s *Service) ReleaseSeats(ctx context.Context, showID string, seats []string, userID string) ([]string, error) {
	if err := validateRequest(showID, seats, userID); err != nil {
		return nil, err
	}
	show, err := s.store.GetShow(ctx, showID)
	if err != nil {
		return nil, err
	}
	if booked := bookedBy(show, seats, userID); len(booked) > 0 {
		return nil, errors.Wrapf(domain.ErrConflict, "seats %v belong to a booking, cancel the booking instead", booked)
	}
	released, err := s.store.ReleaseHold(ctx, showID, seats, userID)
	if err != nil {
		return nil, err
	}
	if len(released) > 0 {
		s.sink.Emit(ctx, domain.TopicSeatStatusChanged, domain.SeatStatusChanged{
			ShowID: showID,
			Seats:  released,
			Status: domain.SeatAvailable,
		})
	}
	return released, nil
}

// HandleReleaseExpired is the releaseExpiredSeatHolds job handler; the job key
// is the show id.
func (s *Service) HandleReleaseExpired(ctx context.Context, job domain.Job) error {
	released, err := s.store.ReleaseExpiredHolds(ctx, job.Key, s.now().Add(-s.holdTTL))
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.WithField("show_id", job.Key).Warn("show gone, nothing to release")
		return nil
	}
	if err != nil {
		return err
	}
	if len(released) > 0 {
		s.logger.WithField("show_id", job.Key).WithField("seats", released).Info("expired holds released")
		s.sink.Emit(ctx, domain.TopicSeatStatusChanged, domain.SeatStatusChanged{
			ShowID: job.Key,
			Seats:  released,
			Status: domain.SeatAvailable,
		})
	}
	return nil
}

func bookedBy(show *domain.Show, seats []string, userID string) []string {
	want := make(map[string]bool, len(seats))
	for _, seat := range seats {
		want[seat] = true
	}
	var booked []string
	for _, h := range show.SeatHolds {
		if want[h.SeatNumber] && h.UserID == userID && (h.BookingID != "" || !h.IsPending) {
			booked = append(booked, h.SeatNumber)
		}
	}
	return booked
}

func validateRequest(showID string, seats []string, userID string) error {
	switch {
	case showID == "":
		return errors.Wrap(domain.ErrInvalidInput, "show id is required")
	case userID == "":
		return errors.Wrap(domain.ErrInvalidInput, "user id is required")
	case len(seats) == 0:
		return errors.Wrap(domain.ErrInvalidInput, "at least one seat is required")
	}
	seen := make(map[string]bool, len(seats))
	for _, seat := range seats {
		if seat == "" {
			return errors.Wrap(domain.ErrInvalidInput, "empty seat number")
		}
		if seen[seat] {
			return errors.Wrapf(domain.ErrInvalidInput, "seat %s requested twice", seat)
		}
		seen[seat] = true
	}
	return nil
}
