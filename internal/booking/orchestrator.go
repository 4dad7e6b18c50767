// Package booking turns seat holds into bookings and drives their payment,
// confirmation and cancellation.
package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/showtime-reservations/internal/domain"
	"github.com/robertarktes/showtime-reservations/internal/observability"
)

type Request struct {
	ShowID         string               `json:"show_id"`
	UserID         string               `json:"-"`
	Seats          []string             `json:"seats"`
	PaymentMethod  domain.PaymentMethod `json:"payment_method"`
	ConvenienceFee float64              `json:"convenience_fee"`
	Donation       float64              `json:"donation"`
	CouponCode     string               `json:"coupon_code,omitempty"`
	TotalAmount    float64              `json:"total_amount"`
	// HoldExpiresAt is the deadline returned when the seats were held.
	HoldExpiresAt time.Time `json:"hold_expires_at"`
}

type Result struct {
	Booking *domain.Booking        `json:"booking"`
	Session *domain.PaymentSession `json:"session,omitempty"`
}

type Config struct {
	HoldTTL        time.Duration
	PaymentTimeout time.Duration
}

type Dependencies struct {
	Store   domain.ReservationStore
	Ledger  domain.BookingLedger
	Wallet  domain.WalletLedger
	Passes  domain.LoyaltyPassProvider
	Coupons domain.CouponProvider
	Jobs    domain.JobScheduler
	Sink    domain.NotificationSink
	Logger  observability.Logger
}

type Orchestrator struct {
	Dependencies
	cfg   Config
	flows map[domain.PaymentMethod]PaymentFlow
	now   func() time.Time
}

func NewOrchestrator(deps Dependencies, cfg Config) *Orchestrator {
	return &Orchestrator{
		Dependencies: deps,
		cfg:          cfg,
		flows:        make(map[domain.PaymentMethod]PaymentFlow),
		now:          time.Now,
	}
}

func (o *Orchestrator) RegisterFlow(method domain.PaymentMethod, flow PaymentFlow) {
	o.flows[method] = flow
}

// Create prices the held seats server-side, persists a pending booking and
// hands it to the payment flow of the requested method. Failures after the
// booking is persisted leave it pending; the cancelPendingBooking job sweeps
// it at the payment deadline.
func (o *Orchestrator) Create(ctx context.Context, req Request) (*Result, error) {
	ctx, span := observability.StartSpan(ctx, "booking.Create")
	defer span.End()

	flow, ok := o.flows[req.PaymentMethod]
	if !ok {
		return nil, errors.Wrapf(domain.ErrInvalidPaymentMethod, "%q", req.PaymentMethod)
	}
	if req.ShowID == "" || req.UserID == "" || len(req.Seats) == 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "show, user and seats are required")
	}
	if req.ConvenienceFee < 0 || req.Donation < 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "fees cannot be negative")
	}
	now := o.now()
	if !req.HoldExpiresAt.IsZero() && !now.Before(req.HoldExpiresAt) {
		return nil, domain.ErrSessionExpired
	}

	show, err := o.Store.GetShow(ctx, req.ShowID)
	if err != nil {
		return nil, err
	}
	if !show.Bookable() {
		return nil, errors.Wrapf(domain.ErrShowNotBookable, "show %s is %s", show.ID, show.Status)
	}
	if !show.HeldBy(req.UserID, req.Seats, now, o.cfg.HoldTTL) {
		return nil, domain.ErrSessionExpired
	}

	pricing, coupon, pass, err := o.price(ctx, show, req, now)
	if err != nil {
		return nil, err
	}
	if err := pricing.CheckTotal(); err != nil {
		return nil, err
	}
	if err := flow.Authorize(ctx, req.UserID, pricing.TotalAmount); err != nil {
		return nil, err
	}

	b := domain.NewBooking(show.ID, req.UserID, show.VendorID, req.Seats, req.PaymentMethod, pricing, now, o.cfg.PaymentTimeout)
	if coupon != nil {
		b.CouponCode = coupon.Code
	}
	if pass != nil {
		b.MoviePassID = pass.ID
	}

	// Pin the holds to the booking until the payment deadline so neither the
	// hold sweep nor the user can free them while the payment is in flight.
	extended, err := o.Store.ExtendHold(ctx, show.ID, req.UserID, b.ID, req.Seats, now.Add(-o.cfg.HoldTTL), b.ExpiresAt.Add(-o.cfg.HoldTTL))
	if err != nil {
		return nil, err
	}
	if len(extended) != len(req.Seats) {
		return nil, domain.ErrSessionExpired
	}

	stored, err := o.Ledger.Create(ctx, b)
	if err != nil {
		return nil, err
	}
	if err := o.Jobs.Schedule(ctx, domain.JobCancelPendingBooking, stored.ID, stored.ExpiresAt, nil); err != nil {
		observability.SchedulingFailures.WithLabelValues(string(domain.JobCancelPendingBooking)).Inc()
		o.Logger.WithField("booking_id", stored.ID).WithError(err).Error("failed to schedule payment timeout")
	}

	res, err := flow.Start(ctx, stored, o.ConfirmPayment)
	if err != nil {
		o.Logger.WithField("booking_id", stored.ID).WithError(err).Warn("payment did not complete, booking left pending")
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) price(ctx context.Context, show *domain.Show, req Request, now time.Time) (domain.Pricing, *domain.Coupon, *domain.MoviePass, error) {
	held := show.ActiveHolds(now, o.cfg.HoldTTL)
	var subTotal float64
	for _, seat := range req.Seats {
		subTotal += held[seat].SeatPrice
	}
	subTotal = domain.RoundMoney(subTotal)

	var coupon *domain.Coupon
	var couponDiscount float64
	if req.CouponCode != "" {
		c, err := o.Coupons.FindCoupon(ctx, req.CouponCode)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Pricing{}, nil, nil, errors.Wrapf(domain.ErrInvalidInput, "coupon %s does not exist", req.CouponCode)
		}
		if err != nil {
			return domain.Pricing{}, nil, nil, err
		}
		d, ok := c.Discount(subTotal, now)
		if !ok {
			return domain.Pricing{}, nil, nil, errors.Wrapf(domain.ErrInvalidInput, "coupon %s cannot be applied", req.CouponCode)
		}
		coupon, couponDiscount = c, d
	}

	pass, err := o.Passes.FindActivePass(ctx, req.UserID, now)
	if err != nil {
		return domain.Pricing{}, nil, nil, err
	}
	var passDiscount float64
	if pass != nil {
		passDiscount = o.Passes.ApplyDiscount(pass, subTotal)
		if passDiscount > subTotal-couponDiscount {
			passDiscount = domain.RoundMoney(subTotal - couponDiscount)
		}
		if passDiscount <= 0 {
			pass, passDiscount = nil, 0
		}
	}

	return domain.Pricing{
		SubTotal:          subTotal,
		ConvenienceFee:    req.ConvenienceFee,
		CouponDiscount:    couponDiscount,
		MoviePassDiscount: passDiscount,
		Donation:          req.Donation,
		TotalAmount:       req.TotalAmount,
	}, coupon, pass, nil
}

// ConfirmPayment records a completed payment and runs the confirmation side
// effects once. A repeated confirmation returns the booking unchanged. A
// payment that lands after the booking was cancelled is refunded to the
// wallet and reported as ErrBookingCancelled.
//
// Once the payment is recorded the booking is returned even when a later step
// fails, so callers can tell a paid booking from an unpaid one. A paid booking
// whose seats are no longer pinned to it is cancelled and refunded in full.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, bookingID, paymentRef string) (*domain.Booking, error) {
	current, err := o.Ledger.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !current.Paid() && !current.Cancelled() && !o.now().Before(current.ExpiresAt) {
		// The deadline is authoritative even if the timeout job has not run yet.
		if _, err := o.ExpireUnpaid(ctx, bookingID); err != nil {
			return nil, err
		}
	}

	b, changed, err := o.Ledger.MarkPaymentCompleted(ctx, bookingID, paymentRef)
	if errors.Is(err, domain.ErrBookingCancelled) {
		o.refundLatePayment(ctx, b, paymentRef)
		return b, err
	}
	if err != nil {
		return nil, err
	}
	log := o.Logger.WithField("booking_id", b.ID).WithField("show_id", b.ShowID)

	confirmed, err := o.Store.ConfirmHold(ctx, b.ShowID, b.UserID, b.ID, b.SeatNumbers)
	if err != nil {
		log.WithError(err).Error("payment recorded but seats not confirmed")
		return b, errors.Wrap(err, "confirm seats")
	}
	if missing := missingSeats(b.SeatNumbers, confirmed); len(missing) > 0 {
		log.WithField("seats", missing).Error("payment recorded for seats the booking no longer holds")
		return o.cancelUnconfirmable(ctx, b, missing)
	}
	if !changed {
		return b, nil
	}
	if b.MoviePassID != "" {
		if err := o.Passes.RecordUsage(ctx, b.MoviePassID, b.ID); err != nil {
			log.WithError(err).Warn("failed to record movie pass usage")
		}
	}
	if err := o.Passes.AddLoyaltyPoints(ctx, b.UserID, domain.LoyaltyPointsPerSeat*len(b.SeatNumbers)); err != nil {
		log.WithError(err).Warn("failed to add loyalty points")
	}
	if err := o.Jobs.CancelAll(ctx, b.ID, domain.JobCancelPendingBooking); err != nil {
		log.WithError(err).Warn("failed to cancel payment timeout job")
	}

	o.notifyBooking(ctx, domain.TopicBookingConfirmed, b, "")
	o.Sink.Emit(ctx, domain.TopicSeatStatusChanged, domain.SeatStatusChanged{
		ShowID: b.ShowID,
		Seats:  b.SeatNumbers,
		Status: domain.SeatBooked,
		UserID: b.UserID,
	})
	log.Info("booking confirmed")
	return b, nil
}

// cancelUnconfirmable cancels a paid booking that lost some of its seats. The
// shared refund reference keeps the refund single even when this races a
// user cancellation.
func (o *Orchestrator) cancelUnconfirmable(ctx context.Context, b *domain.Booking, missing []string) (*domain.Booking, error) {
	const reason = "seats no longer held"
	cancelled, changed, err := o.Ledger.Cancel(ctx, b.ID, reason)
	if err != nil {
		return b, err
	}
	if changed {
		o.compensate(ctx, cancelled, domain.CancelledBySystem, reason)
	}
	return cancelled, errors.Wrapf(domain.ErrBookingCancelled, "seats %v are not held for booking %s", missing, b.ID)
}

func missingSeats(want, got []string) []string {
	have := make(map[string]bool, len(got))
	for _, s := range got {
		have[s] = true
	}
	var missing []string
	for _, s := range want {
		if !have[s] {
			missing = append(missing, s)
		}
	}
	return missing
}

func (o *Orchestrator) refundLatePayment(ctx context.Context, b *domain.Booking, paymentRef string) {
	if b == nil || b.Paid() {
		return
	}
	amount := b.Pricing.TotalAmount
	log := o.Logger.WithField("booking_id", b.ID).WithField("payment_ref", paymentRef)
	if err := o.Wallet.Credit(ctx, b.UserID, amount, "late payment for cancelled booking "+b.ID, refundReference(b.ID)); err != nil {
		log.WithError(err).Error("failed to refund late payment")
		return
	}
	log.Warn("payment arrived after cancellation, refunded to wallet")
	o.notifyRefund(ctx, b, amount)
}

// Cancel cancels a booking on behalf of by. Cancelling an already cancelled
// booking returns it unchanged and has no side effects.
func (o *Orchestrator) Cancel(ctx context.Context, bookingID, reason string, by domain.CancelledBy) (*domain.Booking, error) {
	b, changed, err := o.Ledger.Cancel(ctx, bookingID, reason)
	if err != nil {
		return nil, err
	}
	if changed {
		o.compensate(ctx, b, by, reason)
	}
	return b, nil
}

// ExpireUnpaid cancels a booking whose payment never completed. A booking paid
// in the meantime is left alone.
func (o *Orchestrator) ExpireUnpaid(ctx context.Context, bookingID string) (*domain.Booking, error) {
	b, changed, err := o.Ledger.CancelUnpaid(ctx, bookingID, "payment timeout")
	if err != nil {
		return nil, err
	}
	if changed {
		o.compensate(ctx, b, domain.CancelledBySystem, "payment timeout")
	}
	return b, nil
}

// HandleCancelPendingBooking is the cancelPendingBooking job handler; the job
// key is the booking id.
func (o *Orchestrator) HandleCancelPendingBooking(ctx context.Context, job domain.Job) error {
	b, err := o.ExpireUnpaid(ctx, job.Key)
	if errors.Is(err, domain.ErrNotFound) {
		o.Logger.WithField("booking_id", job.Key).Warn("booking gone, nothing to expire")
		return nil
	}
	if err != nil {
		return err
	}
	if b.Paid() {
		o.Logger.WithField("booking_id", b.ID).Debug("booking paid before timeout")
	}
	return nil
}

// compensate releases seats and refunds after a cancellation transition.
// Failures are logged; the cancellation itself has already committed.
func (o *Orchestrator) compensate(ctx context.Context, b *domain.Booking, by domain.CancelledBy, reason string) {
	log := o.Logger.WithField("booking_id", b.ID).WithField("cancelled_by", string(by))

	// Only holds pinned to this booking are freed, so seats the user holds for
	// another booking stay put.
	released, err := o.Store.ReleaseBookingHolds(ctx, b.ShowID, b.ID)
	if err != nil {
		log.WithError(err).Error("failed to release seats")
	}

	if refund := b.RefundAmount(by); refund > 0 {
		if err := o.Wallet.Credit(ctx, b.UserID, refund, "refund for booking "+b.ID, refundReference(b.ID)); err != nil {
			log.WithError(err).Error("failed to refund cancelled booking")
		} else {
			o.notifyRefund(ctx, b, refund)
		}
	}
	if err := o.Jobs.CancelAll(ctx, b.ID); err != nil {
		log.WithError(err).Warn("failed to cancel booking jobs")
	}

	o.notifyBooking(ctx, domain.TopicBookingCancelled, b, reason)
	if len(released) > 0 {
		o.Sink.Emit(ctx, domain.TopicSeatStatusChanged, domain.SeatStatusChanged{
			ShowID: b.ShowID,
			Seats:  released,
			Status: domain.SeatAvailable,
		})
	}
	log.WithField("reason", reason).Info("booking cancelled")
}

func (o *Orchestrator) notifyBooking(ctx context.Context, topic string, b *domain.Booking, reason string) {
	for _, audience := range domain.BookingAudiences {
		o.Sink.Emit(ctx, topic, domain.BookingNotice{
			Audience:  audience,
			BookingID: b.ID,
			ShowID:    b.ShowID,
			UserID:    b.UserID,
			VendorID:  b.VendorID,
			Seats:     b.SeatNumbers,
			Amount:    b.Pricing.TotalAmount,
			Status:    b.Status,
			Reason:    reason,
		})
	}
}

func (o *Orchestrator) notifyRefund(ctx context.Context, b *domain.Booking, amount float64) {
	o.Sink.Emit(ctx, domain.TopicBookingRefunded, domain.BookingNotice{
		Audience:  "user",
		BookingID: b.ID,
		ShowID:    b.ShowID,
		UserID:    b.UserID,
		VendorID:  b.VendorID,
		Amount:    amount,
		Status:    b.Status,
	})
}

// Get returns a booking.
func (o *Orchestrator) Get(ctx context.Context, bookingID string) (*domain.Booking, error) {
	return o.Ledger.Get(ctx, bookingID)
}
