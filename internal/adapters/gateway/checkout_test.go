package gateway

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/robertarktes/showtime-reservations/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckout_CreateDeferredSession(t *testing.T) {
	c, err := NewCheckout("https://pay.example.com/checkout?tenant=cinema", 10*time.Minute)
	require.NoError(t, err)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	s, err := c.CreateDeferredSession(context.Background(), "b-1", 600, map[string]string{"user_id": "u-1"})
	require.NoError(t, err)
	assert.Equal(t, fixed.Add(10*time.Minute), s.ExpiresAt)

	u, err := url.Parse(s.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "pay.example.com", u.Host)
	assert.Equal(t, "cinema", u.Query().Get("tenant"))
	assert.Equal(t, "b-1", u.Query().Get("booking_id"))
	assert.Equal(t, "600.00", u.Query().Get("amount"))
	assert.Equal(t, s.SessionID, u.Query().Get("session_id"))
	assert.Equal(t, "u-1", u.Query().Get("metadata[user_id]"))
}

func TestCheckout_Rejects(t *testing.T) {
	_, err := NewCheckout("/relative", time.Minute)
	assert.Error(t, err)

	c, err := NewCheckout("https://pay.example.com", time.Minute)
	require.NoError(t, err)
	_, err = c.CreateDeferredSession(context.Background(), "b-1", 0, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
