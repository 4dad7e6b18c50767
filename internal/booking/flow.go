package booking

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/showtime-reservations/internal/domain"
)

// ConfirmFunc runs the shared post-payment path for a booking.
type ConfirmFunc func(ctx context.Context, bookingID, paymentRef string) (*domain.Booking, error)

// PaymentFlow is how one payment method turns a persisted pending booking
// into money. Adding a method means registering a new flow.
type PaymentFlow interface {
	// Authorize runs before anything is persisted.
	Authorize(ctx context.Context, userID string, amount float64) error
	// Start either confirms the booking synchronously through confirm, or
	// defers it and returns the session the client must complete.
	Start(ctx context.Context, b *domain.Booking, confirm ConfirmFunc) (*Result, error)
}

// WalletFlow pays from the user's wallet and confirms synchronously.
type WalletFlow struct {
	Wallet domain.WalletLedger
}

func (f WalletFlow) Authorize(ctx context.Context, userID string, amount float64) error {
	ok, err := f.Wallet.CheckBalance(ctx, userID, amount)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(domain.ErrInsufficientBalance, "%.2f required", amount)
	}
	return nil
}

func (f WalletFlow) Start(ctx context.Context, b *domain.Booking, confirm ConfirmFunc) (*Result, error) {
	amount := b.Pricing.TotalAmount
	if err := f.Wallet.Debit(ctx, b.UserID, amount, "booking "+b.ID, debitReference(b.ID)); err != nil {
		return nil, err
	}
	confirmed, err := confirm(ctx, b.ID, "wallet_"+b.ID)
	if err != nil && !errors.Is(err, domain.ErrBookingCancelled) && confirmed == nil {
		// The payment never landed on the booking; give the money back.
		if creditErr := f.Wallet.Credit(ctx, b.UserID, amount, "booking "+b.ID+" not confirmed", refundReference(b.ID)); creditErr != nil {
			return nil, errors.CombineErrors(err, creditErr)
		}
	}
	if err != nil {
		return nil, err
	}
	return &Result{Booking: confirmed}, nil
}

// GatewayFlow defers payment to an external hosted checkout. The booking stays
// pending until the gateway confirms it or the payment timeout cancels it.
type GatewayFlow struct {
	Gateway domain.PaymentGateway
}

func (f GatewayFlow) Authorize(context.Context, string, float64) error {
	return nil
}

func (f GatewayFlow) Start(ctx context.Context, b *domain.Booking, _ ConfirmFunc) (*Result, error) {
	session, err := f.Gateway.CreateDeferredSession(ctx, b.ID, b.Pricing.TotalAmount, map[string]string{
		"booking_id": b.ID,
		"show_id":    b.ShowID,
		"user_id":    b.UserID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create payment session")
	}
	return &Result{Booking: b, Session: session}, nil
}

func debitReference(bookingID string) string {
	return "booking:" + bookingID
}

// refundReference is shared by every refund path so a booking is refunded at
// most once.
func refundReference(bookingID string) string {
	return "refund:" + bookingID
}
