package domain

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")

	ErrSeatConflict         = errors.New("seat conflict")
	ErrSessionExpired       = errors.New("checkout session expired, please restart checkout")
	ErrInvalidTotal         = errors.New("total amount does not match server computed total")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInsufficientBalance  = errors.New("insufficient wallet balance")
	ErrShowNotBookable      = errors.New("show is not open for booking")
	ErrBookingCancelled     = errors.New("booking is cancelled")

	// ErrStorage marks persistence failures. Adapters attach it with errors.Mark so
	// callers can classify the error without losing the driver cause.
	ErrStorage = errors.New("storage error")
)

// SeatConflictError names the seats that could not be held.
type SeatConflictError struct {
	Seats  []string
	Reason string
}

func (e *SeatConflictError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "already held or booked"
	}
	return fmt.Sprintf("seats %s are %s", strings.Join(e.Seats, ", "), reason)
}

func (e *SeatConflictError) Is(target error) bool {
	return target == ErrSeatConflict
}

func NewSeatConflict(reason string, seats ...string) error {
	return &SeatConflictError{Seats: seats, Reason: reason}
}

// StorageErr wraps a driver error and marks it as ErrStorage.
func StorageErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), ErrStorage)
}
