package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/robertarktes/showtime-reservations/internal/booking"
	"github.com/robertarktes/showtime-reservations/internal/domain"
	"github.com/robertarktes/showtime-reservations/internal/seating"
	"github.com/robertarktes/showtime-reservations/internal/showtime"
)

type SeatService interface {
	HoldSeats(ctx context.Context, showID string, seats []string, userID string) (*seating.HoldResult, error)
	ReleaseSeats(ctx context.Context, showID string, seats []string, userID string) ([]string, error)
}

type BookingService interface {
	Create(ctx context.Context, req booking.Request) (*booking.Result, error)
	Get(ctx context.Context, bookingID string) (*domain.Booking, error)
	Cancel(ctx context.Context, bookingID, reason string, by domain.CancelledBy) (*domain.Booking, error)
	ConfirmPayment(ctx context.Context, bookingID, paymentRef string) (*domain.Booking, error)
}

type ShowService interface {
	ScheduleShow(ctx context.Context, showID string, start, end time.Time) error
	CancelShow(ctx context.Context, showID, reason string) (*showtime.CancelResult, error)
	DeleteShow(ctx context.Context, showID string) error
}

type PassService interface {
	Activate(ctx context.Context, userID, plan string, duration time.Duration) (*domain.MoviePass, error)
}

// ReadinessCheck pings one dependency for /v1/readyz.
type ReadinessCheck func(ctx context.Context) error

type Services struct {
	Seating  SeatService
	Bookings BookingService
	Shows    ShowService
	Passes   PassService
	Checks   map[string]ReadinessCheck
}

type Handlers struct {
	Services
}

func NewHandlers(svc Services) *Handlers {
	return &Handlers{Services: svc}
}

type seatsRequest struct {
	Seats []string `json:"seats"`
}

func (h *Handlers) HoldSeats(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	var req seatsRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Seating.HoldSeats(r.Context(), chi.URLParam(r, "id"), req.Seats, id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handlers) ReleaseSeats(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	var req seatsRequest
	if !decode(w, r, &req) {
		return
	}
	released, err := h.Seating.ReleaseSeats(r.Context(), chi.URLParam(r, "id"), req.Seats, id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"released": nonNil(released)})
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	var req booking.Request
	if !decode(w, r, &req) {
		return
	}
	req.UserID = id.UserID
	res, err := h.Bookings.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Session != nil {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.ownedBooking(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeOptional(w, r, &req) {
		return
	}
	b, err := h.ownedBooking(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, _ := identityFrom(r.Context())
	by := domain.CancelledByUser
	switch id.Role {
	case RoleVendor:
		by = domain.CancelledByVendor
	case RoleAdmin:
		by = domain.CancelledBySystem
	}
	if req.Reason == "" {
		req.Reason = "cancelled by " + string(by)
	}
	b, err = h.Bookings.Cancel(r.Context(), b.ID, req.Reason, by)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ownedBooking loads the booking of the path and checks the caller may see
// it: its user, its vendor, or an admin.
func (h *Handlers) ownedBooking(r *http.Request) (*domain.Booking, error) {
	id, _ := identityFrom(r.Context())
	b, err := h.Bookings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	switch {
	case id.Role == RoleAdmin:
	case id.Role == RoleVendor && b.VendorID == id.UserID:
	case id.Role == RoleUser && b.UserID == id.UserID:
	default:
		// Hide bookings of others rather than confirm they exist.
		return nil, domain.ErrNotFound
	}
	return b, nil
}

type paymentCallback struct {
	BookingID string `json:"booking_id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

// PaymentCallback confirms a deferred payment. Only succeeded payments are
// acted on; a failed one is left to the payment timeout.
func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req paymentCallback
	if !decode(w, r, &req) {
		return
	}
	if req.BookingID == "" || req.PaymentID == "" {
		writeError(w, r, errors.Wrap(domain.ErrInvalidInput, "booking_id and payment_id are required"))
		return
	}
	if !strings.EqualFold(req.Status, "succeeded") {
		loggerFrom(r.Context()).WithField("booking_id", req.BookingID).WithField("status", req.Status).Info("payment not succeeded, ignoring")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	b, err := h.Bookings.ConfirmPayment(r.Context(), req.BookingID, req.PaymentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handlers) ScheduleShow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartTime time.Time `json:"start_time"`
		EndTime   time.Time `json:"end_time"`
	}
	if !decode(w, r, &req) {
		return
	}
	showID := chi.URLParam(r, "id")
	if err := h.Shows.ScheduleShow(r.Context(), showID, req.StartTime, req.EndTime); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"show_id": showID, "start_time": req.StartTime, "end_time": req.EndTime})
}

func (h *Handlers) CancelShow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeOptional(w, r, &req) {
		return
	}
	res, err := h.Shows.CancelShow(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) DeleteShow(w http.ResponseWriter, r *http.Request) {
	if err := h.Shows.DeleteShow(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ActivatePass(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	var req struct {
		Plan     string `json:"plan"`
		Duration string `json:"duration,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}
	var d time.Duration
	if req.Duration != "" {
		var err error
		if d, err = time.ParseDuration(req.Duration); err != nil {
			writeError(w, r, errors.Wrapf(domain.ErrInvalidInput, "duration %q", req.Duration))
			return
		}
	}
	pass, err := h.Passes.Activate(r.Context(), id.UserID, req.Plan, d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pass)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		loggerFrom(r.Context()).WithField("failed", failed).Warn("not ready")
		writeJSON(w, http.StatusServiceUnavailable, failed)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, r, errors.Wrap(domain.ErrInvalidInput, "malformed JSON body"))
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decode(w, r, dst)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
