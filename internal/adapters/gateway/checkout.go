// Package gateway adapts an external hosted-checkout provider. The provider
// collects the payment and later calls back with the session id; this package
// only opens the session.
package gateway

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/showtime-reservations/internal/domain"
)

// Checkout issues deferred sessions against a hosted checkout page.
type Checkout struct {
	baseURL *url.URL
	ttl     time.Duration
	now     func() time.Time
}

func NewCheckout(checkoutURL string, ttl time.Duration) (*Checkout, error) {
	u, err := url.Parse(checkoutURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse checkout url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("checkout url %q must be absolute", checkoutURL)
	}
	return &Checkout{baseURL: u, ttl: ttl, now: time.Now}, nil
}

func (c *Checkout) CreateDeferredSession(ctx context.Context, bookingID string, amount float64, metadata map[string]string) (*domain.PaymentSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if bookingID == "" || amount <= 0 {
		return nil, errors.Wrap(domain.ErrInvalidInput, "session needs a booking and a positive amount")
	}

	sessionID := "cs_" + uuid.NewString()
	q := c.baseURL.Query()
	q.Set("session_id", sessionID)
	q.Set("booking_id", bookingID)
	q.Set("amount", strconv.FormatFloat(domain.RoundMoney(amount), 'f', 2, 64))
	for k, v := range metadata {
		q.Set("metadata["+k+"]", v)
	}
	redirect := *c.baseURL
	redirect.RawQuery = q.Encode()

	return &domain.PaymentSession{
		SessionID:   sessionID,
		RedirectURL: redirect.String(),
		ExpiresAt:   c.now().Add(c.ttl),
	}, nil
}
