package http

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/showtime-reservations/internal/domain"
	"github.com/robertarktes/showtime-reservations/internal/idempotency"
)

var (
	errUnauthorized = errors.New("missing or invalid bearer token")
	errForbidden    = errors.New("not allowed for this account")
)

type errorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Seats   []string `json:"seats,omitempty"`
}

// classify maps an error to its status and a stable code. Client errors keep
// their message so the caller knows what to fix; the rest are opaque.
func classify(err error) (int, errorBody) {
	body := errorBody{Message: err.Error()}
	var status int
	switch {
	case errors.Is(err, domain.ErrSeatConflict):
		status, body.Code = http.StatusBadRequest, "seat_conflict"
		var conflict *domain.SeatConflictError
		if errors.As(err, &conflict) {
			body.Seats = conflict.Seats
		}
	case errors.Is(err, domain.ErrSessionExpired):
		status, body.Code = http.StatusBadRequest, "session_expired"
	case errors.Is(err, domain.ErrInvalidTotal):
		status, body.Code = http.StatusBadRequest, "invalid_total"
	case errors.Is(err, domain.ErrInvalidPaymentMethod):
		status, body.Code = http.StatusBadRequest, "invalid_payment_method"
	case errors.Is(err, domain.ErrInsufficientBalance):
		status, body.Code = http.StatusBadRequest, "insufficient_balance"
	case errors.Is(err, domain.ErrShowNotBookable):
		status, body.Code = http.StatusBadRequest, "show_not_bookable"
	case errors.Is(err, domain.ErrInvalidInput):
		status, body.Code = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, errUnauthorized):
		status, body.Code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errForbidden):
		status, body.Code = http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		status, body.Code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrBookingCancelled):
		status, body.Code = http.StatusConflict, "booking_cancelled"
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrSerializationFailure):
		status, body.Code = http.StatusConflict, "conflict"
	case errors.Is(err, idempotency.ErrInProgress):
		status, body.Code = http.StatusConflict, "request_in_progress"
	case errors.Is(err, idempotency.ErrKeyReused):
		status, body.Code = http.StatusUnprocessableEntity, "idempotency_key_reused"
	default:
		status, body.Code, body.Message = http.StatusInternalServerError, "internal", "internal error"
	}
	return status, body
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		loggerFrom(r.Context()).WithError(err).Error("request failed")
	}
	writeJSON(w, status, body)
}
