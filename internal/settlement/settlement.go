// Package settlement splits the revenue of a completed show between the
// vendor and the platform.
package settlement

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/showtime-reservations/internal/domain"
	"github.com/robertarktes/showtime-reservations/internal/observability"
)

// Settlement is the outcome of settling one show. Gross excludes convenience
// fees and donations, which belong to the platform.
type Settlement struct {
	ShowID          string  `json:"show_id"`
	VendorID        string  `json:"vendor_id"`
	Bookings        int     `json:"bookings"`
	Gross           float64 `json:"gross"`
	Commission      float64 `json:"commission"`
	VendorShare     float64 `json:"vendor_share"`
	ConvenienceFees float64 `json:"convenience_fees"`
	Donations       float64 `json:"donations"`
	PlatformShare   float64 `json:"platform_share"`
}

type Settler struct {
	ledger     domain.BookingLedger
	wallet     domain.WalletLedger
	platformID string
	logger     observability.Logger
}

func NewSettler(ledger domain.BookingLedger, wallet domain.WalletLedger, platformWalletID string, logger observability.Logger) *Settler {
	return &Settler{ledger: ledger, wallet: wallet, platformID: platformWalletID, logger: logger}
}

// Compute derives the split from the paid bookings of a show without moving
// money.
func Compute(show *domain.Show, paid []*domain.Booking) Settlement {
	s := Settlement{ShowID: show.ID, VendorID: show.VendorID}
	for _, b := range paid {
		if b.Cancelled() || !b.Paid() {
			continue
		}
		s.Bookings++
		s.Gross += b.Pricing.TotalAmount - b.Pricing.ConvenienceFee - b.Pricing.Donation
		s.ConvenienceFees += b.Pricing.ConvenienceFee
		s.Donations += b.Pricing.Donation
	}
	s.Gross = domain.RoundMoney(s.Gross)
	s.ConvenienceFees = domain.RoundMoney(s.ConvenienceFees)
	s.Donations = domain.RoundMoney(s.Donations)
	s.Commission = domain.RoundMoney(s.Gross * domain.PlatformCommissionRate)
	s.VendorShare = domain.RoundMoney(s.Gross - s.Commission)
	s.PlatformShare = domain.RoundMoney(s.Commission + s.ConvenienceFees + s.Donations)
	return s
}

// Settle credits both wallets. Credits carry a per-show reference, so settling
// the same show twice pays once.
func (s *Settler) Settle(ctx context.Context, show *domain.Show) (*Settlement, error) {
	paid, err := s.ledger.ListByShow(ctx, show.ID, true)
	if err != nil {
		return nil, errors.Wrap(err, "list paid bookings")
	}
	out := Compute(show, paid)
	log := s.logger.WithField("show_id", show.ID).WithField("vendor_id", show.VendorID)

	if out.VendorShare > 0 {
		if show.VendorID == "" {
			return nil, errors.Wrapf(domain.ErrInvalidInput, "show %s has no vendor to settle with", show.ID)
		}
		memo := fmt.Sprintf("revenue for show %s", show.ID)
		if err := s.wallet.Credit(ctx, show.VendorID, out.VendorShare, memo, reference(show.ID, "vendor")); err != nil {
			return nil, errors.Wrap(err, "credit vendor")
		}
	}
	if out.PlatformShare > 0 {
		memo := fmt.Sprintf("commission and fees for show %s", show.ID)
		if err := s.wallet.Credit(ctx, s.platformID, out.PlatformShare, memo, reference(show.ID, "platform")); err != nil {
			return nil, errors.Wrap(err, "credit platform")
		}
	}
	log.WithField("gross", out.Gross).WithField("vendor_share", out.VendorShare).
		WithField("platform_share", out.PlatformShare).Info("show settled")
	return &out, nil
}

func reference(showID, party string) string {
	return "settlement:" + showID + ":" + party
}
