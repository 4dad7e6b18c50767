package domain

import (
	"fmt"
	"time"
)

type ShowStatus string

const (
	ShowScheduled ShowStatus = "Scheduled"
	ShowRunning   ShowStatus = "Running"
	ShowCompleted ShowStatus = "Completed"
	ShowCancelled ShowStatus = "Cancelled"
)

var showTransitions = map[ShowStatus][]ShowStatus{
	ShowScheduled: {ShowRunning, ShowCancelled},
	ShowRunning:   {ShowCompleted, ShowCancelled},
}

func (s ShowStatus) Valid() bool {
	switch s {
	case ShowScheduled, ShowRunning, ShowCompleted, ShowCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is in the show lifecycle table.
func (s ShowStatus) CanTransitionTo(next ShowStatus) bool {
	for _, allowed := range showTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MustTransition panics when from -> to is not a lifecycle edge. Callers only
// ask for transitions they hard-code, so a miss is a bug rather than input.
func MustTransition(from, to ShowStatus) {
	if !from.CanTransitionTo(to) {
		panic(fmt.Sprintf("illegal show transition %s -> %s", from, to))
	}
}

type SeatPosition struct {
	Row    string `json:"row"`
	Column int    `json:"column"`
}

// SeatHold is a pending or confirmed claim on a seat of a show.
type SeatHold struct {
	SeatNumber string       `json:"seat_number"`
	SeatPrice  float64      `json:"seat_price"`
	Type       string       `json:"type"`
	Position   SeatPosition `json:"position"`
	UserID     string       `json:"user_id"`
	// BookingID is set once a booking pins the hold; only that booking may
	// confirm or release it.
	BookingID string    `json:"booking_id,omitempty"`
	PlacedAt  time.Time `json:"placed_at"`
	IsPending bool      `json:"is_pending"`
}

// Expired reports whether a pending hold placed at or before cutoff has
// lapsed. Confirmed holds never expire.
func (h SeatHold) Expired(cutoff time.Time) bool {
	return h.IsPending && !h.PlacedAt.After(cutoff)
}

// Active reports whether the hold still occupies its seat at now for the given ttl.
func (h SeatHold) Active(now time.Time, ttl time.Duration) bool {
	return !h.Expired(now.Add(-ttl))
}

type Show struct {
	ID        string     `json:"id"`
	MovieID   string     `json:"movie_id"`
	TheaterID string     `json:"theater_id"`
	ScreenID  string     `json:"screen_id"`
	VendorID  string     `json:"vendor_id"`
	Status    ShowStatus `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   time.Time  `json:"end_time"`
	ShowDate  time.Time  `json:"show_date"`
	SeatHolds []SeatHold `json:"seat_holds"`
}

// ActiveHolds indexes the holds that still occupy a seat, by seat number.
func (s *Show) ActiveHolds(now time.Time, ttl time.Duration) map[string]SeatHold {
	active := make(map[string]SeatHold, len(s.SeatHolds))
	for _, h := range s.SeatHolds {
		if h.Active(now, ttl) {
			active[h.SeatNumber] = h
		}
	}
	return active
}

// Conflicts returns the requested seats that are occupied by an active hold.
func (s *Show) Conflicts(seats []string, now time.Time, ttl time.Duration) []string {
	active := s.ActiveHolds(now, ttl)
	var taken []string
	for _, seat := range seats {
		if _, ok := active[seat]; ok {
			taken = append(taken, seat)
		}
	}
	return taken
}

// HeldBy reports whether userID holds every seat with an unexpired pending
// entry (or already confirmed entry) on the show.
func (s *Show) HeldBy(userID string, seats []string, now time.Time, ttl time.Duration) bool {
	active := s.ActiveHolds(now, ttl)
	for _, seat := range seats {
		h, ok := active[seat]
		if !ok || h.UserID != userID {
			return false
		}
	}
	return true
}

func (s *Show) Bookable() bool {
	return s.Status == ShowScheduled
}
