package http

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/robertarktes/showtime-reservations/internal/adapters/gateway"
	"github.com/robertarktes/showtime-reservations/internal/adapters/memory"
	"github.com/robertarktes/showtime-reservations/internal/booking"
	"github.com/robertarktes/showtime-reservations/internal/domain"
	"github.com/robertarktes/showtime-reservations/internal/idempotency"
	"github.com/robertarktes/showtime-reservations/internal/moviepass"
	"github.com/robertarktes/showtime-reservations/internal/observability"
	"github.com/robertarktes/showtime-reservations/internal/rateLimit"
	"github.com/robertarktes/showtime-reservations/internal/scheduler"
	"github.com/robertarktes/showtime-reservations/internal/seating"
	"github.com/robertarktes/showtime-reservations/internal/settlement"
	"github.com/robertarktes/showtime-reservations/internal/showtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const callbackSecret = "whsec_test"

type memIdempotency struct {
	mu    sync.Mutex
	data  map[string][]byte
	locks map[string]bool
}

func (m *memIdempotency) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[key]
	return d, ok, nil
}

func (m *memIdempotency) Set(_ context.Context, key string, data []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

func (m *memIdempotency) Lock(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] {
		return false, nil
	}
	m.locks[key] = true
	return true, nil
}

func (m *memIdempotency) Unlock(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
	return nil
}

type memCounter struct {
	mu   sync.Mutex
	hits map[string]int64
}

func (c *memCounter) IncrWindow(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits[key]++
	return c.hits[key], nil
}

type testAPI struct {
	handler http.Handler
	key     *rsa.PrivateKey
	store   *memory.ShowStore
	ledger  *memory.BookingLedger
	wallets *memory.Wallets
	checks  map[string]ReadinessCheck
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := observability.NewNopLogger()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	auth, err := NewAuthenticator(string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})))
	require.NoError(t, err)

	api := &testAPI{
		key:     key,
		store:   memory.NewShowStore(),
		ledger:  memory.NewBookingLedger(),
		wallets: memory.NewWallets(),
		checks:  map[string]ReadinessCheck{},
	}
	passes := memory.NewPasses()
	events := memory.NewNotifications()
	sched := scheduler.New(memory.NewJobQueue(), scheduler.DefaultConfig(), logger)

	seats := seating.NewService(api.store, api.store, sched, events, logger, 5*time.Minute)
	orch := booking.NewOrchestrator(booking.Dependencies{
		Store: api.store, Ledger: api.ledger, Wallet: api.wallets, Passes: passes, Coupons: passes,
		Jobs: sched, Sink: events, Logger: logger,
	}, booking.Config{HoldTTL: 5 * time.Minute, PaymentTimeout: 10 * time.Minute})
	checkout, err := gateway.NewCheckout("https://pay.example.com/checkout", 10*time.Minute)
	require.NoError(t, err)
	orch.RegisterFlow(domain.PaymentWallet, booking.WalletFlow{Wallet: api.wallets})
	orch.RegisterFlow(domain.PaymentStripe, booking.GatewayFlow{Gateway: checkout})
	settler := settlement.NewSettler(api.ledger, api.wallets, "platform", logger)
	shows := showtime.NewService(api.store, api.ledger, orch, settler, sched, events, logger)

	h := NewHandlers(Services{
		Seating:  seats,
		Bookings: orch,
		Shows:    shows,
		Passes:   moviepass.NewService(passes, sched, events, logger),
		Checks:   api.checks,
	})
	api.handler = SetupRouter(h, logger, RouterConfig{
		Auth:            auth,
		RateLimiter:     rateLimit.NewRateLimiter(&memCounter{hits: map[string]int64{}}, logger),
		Idempotency:     idempotency.NewIdempotency(&memIdempotency{data: map[string][]byte{}, locks: map[string]bool{}}, time.Hour),
		CallbackSecret:  callbackSecret,
		HoldsPerUserMin: 3,
		HoldsPerIPMin:   100,
	})

	api.store.AddShow(domain.Show{ID: "show-1", ScreenID: "screen-1", VendorID: "vendor-1", Status: domain.ShowScheduled})
	var layout []domain.LayoutSeat
	for _, n := range []string{"A1", "A2", "A3", "A4"} {
		layout = append(layout, domain.LayoutSeat{Number: n, Type: "regular", Price: 200, Available: true})
	}
	api.store.AddLayout(domain.SeatLayout{ScreenID: "screen-1", Seats: layout})
	return api
}

func (a *testAPI) token(t *testing.T, sub, role string) string {
	t.Helper()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	require.NoError(t, err)
	return signed
}

type call struct {
	method, path, body string
	token              string
	idempotencyKey     string
	headers            map[string]string
}

func (a *testAPI) do(c call) *httptest.ResponseRecorder {
	req := httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", c.idempotencyKey)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestRoutes_RequireBearerToken(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(call{method: http.MethodPost, path: "/v1/shows/show-1/holds", body: `{"seats":["A1"]}`, idempotencyKey: "hold-key-0000000001"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(call{method: http.MethodGet, path: "/v1/bookings/x", token: "not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(call{method: http.MethodGet, path: "/v1/healthz"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHoldThenBookWithWallet(t *testing.T) {
	api := newTestAPI(t)
	user := api.token(t, "user-1", RoleUser)
	api.wallets.Fund("user-1", 1000)

	hold := call{method: http.MethodPost, path: "/v1/shows/show-1/holds", body: `{"seats":["A1","A2"]}`, token: user, idempotencyKey: "hold-key-0000000001"}
	rec := api.do(hold)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var held seating.HoldResult
	decodeBody(t, rec, &held)
	assert.Equal(t, 400.0, held.SubTotal)

	replay := api.do(hold)
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, rec.Body.String(), replay.Body.String())

	rec = api.do(call{
		method: http.MethodPost, path: "/v1/bookings", token: user, idempotencyKey: "book-key-0000000001",
		body: `{"show_id":"show-1","seats":["A1","A2"],"payment_method":"wallet","convenience_fee":30,"total_amount":430}`,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res booking.Result
	decodeBody(t, rec, &res)
	require.NotNil(t, res.Booking)
	assert.True(t, res.Booking.Paid())
	assert.Equal(t, "user-1", res.Booking.UserID)
	assert.Equal(t, 570.0, api.wallets.Balance("user-1"))

	rec = api.do(call{method: http.MethodGet, path: "/v1/bookings/" + res.Booking.ID, token: user})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(call{method: http.MethodGet, path: "/v1/bookings/" + res.Booking.ID, token: api.token(t, "user-2", RoleUser)})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = api.do(call{method: http.MethodGet, path: "/v1/bookings/" + res.Booking.ID, token: api.token(t, "vendor-1", RoleVendor)})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(call{method: http.MethodPost, path: "/v1/bookings/" + res.Booking.ID + "/cancel", token: user})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	// 15% of 430 is kept.
	assert.Equal(t, 935.5, api.wallets.Balance("user-1"))
}

func TestHoldSeats_ConflictNamesSeats(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(call{method: http.MethodPost, path: "/v1/shows/show-1/holds", body: `{"seats":["A1","A2"]}`, token: api.token(t, "user-1", RoleUser), idempotencyKey: "hold-key-0000000001"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(call{method: http.MethodPost, path: "/v1/shows/show-1/holds", body: `{"seats":["A2","A3"]}`, token: api.token(t, "user-2", RoleUser), idempotencyKey: "hold-key-0000000002"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, "seat_conflict", body.Code)
	assert.Equal(t, []string{"A2"}, body.Seats)

	rec = api.do(call{method: http.MethodDelete, path: "/v1/shows/show-1/holds", body: `{"seats":["A1","A2"]}`, token: api.token(t, "user-1", RoleUser)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"released":["A1","A2"]}`, rec.Body.String())
}

func TestIdempotencyKey(t *testing.T) {
	api := newTestAPI(t)
	user := api.token(t, "user-1", RoleUser)

	rec := api.do(call{method: http.MethodPost, path: "/v1/shows/show-1/holds", body: `{"seats":["A1"]}`, token: user})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = api.do(call{method: http.MethodPost, path: "/v1/shows/show-1/holds", body: `{"seats":["A1"]}`, token: user, idempotencyKey: "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(call{method: http.MethodPost, path: "/v1/shows/show-1/holds", body: `{"seats":["A1"]}`, token: user, idempotencyKey: "hold-key-0000000001"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = api.do(call{method: http.MethodPost, path: "/v1/shows/show-1/holds", body: `{"seats":["A3"]}`, token: user, idempotencyKey: "hold-key-0000000001"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// The same key from another user is a different request.
	rec = api.do(call{method: http.MethodPost, path: "/v1/shows/show-1/holds", body: `{"seats":["A3"]}`, token: api.token(t, "user-2", RoleUser), idempotencyKey: "hold-key-0000000001"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestHoldSeats_RateLimitedPerUser(t *testing.T) {
	api := newTestAPI(t)
	user := api.token(t, "user-1", RoleUser)
	seats := []string{"A1", "A2", "A3", "A4"}
	for i, seat := range seats[:3] {
		rec := api.do(call{method: http.MethodPost, path: "/v1/shows/show-1/holds", body: `{"seats":["` + seat + `"]}`, token: user, idempotencyKey: "hold-key-000000000" + string(rune('1'+i))})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	rec := api.do(call{method: http.MethodPost, path: "/v1/shows/show-1/holds", body: `{"seats":["A4"]}`, token: user, idempotencyKey: "hold-key-0000000009"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestShowRoutes_VendorOnly(t *testing.T) {
	api := newTestAPI(t)
	start := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	body := `{"start_time":"` + start.Format(time.RFC3339) + `","end_time":"` + start.Add(2*time.Hour).Format(time.RFC3339) + `"}`

	rec := api.do(call{method: http.MethodPut, path: "/v1/shows/show-1/schedule", body: body, token: api.token(t, "user-1", RoleUser)})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	vendor := api.token(t, "vendor-1", RoleVendor)
	rec = api.do(call{method: http.MethodPut, path: "/v1/shows/show-1/schedule", body: body, token: vendor})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(call{method: http.MethodPost, path: "/v1/shows/show-1/cancel", token: vendor})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res showtime.CancelResult
	decodeBody(t, rec, &res)
	assert.Equal(t, "show-1", res.ShowID)

	rec = api.do(call{method: http.MethodPut, path: "/v1/shows/show-1/schedule", body: body, token: vendor})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(call{method: http.MethodDelete, path: "/v1/shows/show-1", token: api.token(t, "admin-1", RoleAdmin)})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestPaymentCallback_ConfirmsGatewayBooking(t *testing.T) {
	api := newTestAPI(t)
	user := api.token(t, "user-1", RoleUser)
	rec := api.do(call{method: http.MethodPost, path: "/v1/shows/show-1/holds", body: `{"seats":["A1"]}`, token: user, idempotencyKey: "hold-key-0000000001"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = api.do(call{
		method: http.MethodPost, path: "/v1/bookings", token: user, idempotencyKey: "book-key-0000000001",
		body: `{"show_id":"show-1","seats":["A1"],"payment_method":"stripe","total_amount":200}`,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var res booking.Result
	decodeBody(t, rec, &res)
	require.NotNil(t, res.Session)
	assert.False(t, res.Booking.Paid())

	// The seat now belongs to the booking; abandoning the hold is refused.
	rec = api.do(call{method: http.MethodDelete, path: "/v1/shows/show-1/holds", body: `{"seats":["A1"]}`, token: user})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	rec = api.do(call{method: http.MethodPost, path: "/v1/shows/show-1/holds", body: `{"seats":["A1"]}`, token: api.token(t, "user-2", RoleUser), idempotencyKey: "hold-key-0000000002"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	body := `{"booking_id":"` + res.Booking.ID + `","payment_id":"pi_1","status":"succeeded"}`
	rec = api.do(call{method: http.MethodPost, path: "/v1/payments/callback", body: body, headers: map[string]string{"X-Signature": "00"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	sig := hex.EncodeToString(Sign(callbackSecret, []byte(body)))
	rec = api.do(call{method: http.MethodPost, path: "/v1/payments/callback", body: body, headers: map[string]string{"X-Signature": sig}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	b, err := api.ledger.Get(context.Background(), res.Booking.ID)
	require.NoError(t, err)
	assert.True(t, b.Paid())
	assert.Equal(t, "pi_1", b.Payment.PaymentID)

	failed := `{"booking_id":"` + res.Booking.ID + `","payment_id":"pi_2","status":"failed"}`
	rec = api.do(call{method: http.MethodPost, path: "/v1/payments/callback", body: failed, headers: map[string]string{"X-Signature": hex.EncodeToString(Sign(callbackSecret, []byte(failed)))}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ignored"}`, rec.Body.String())
}

func TestActivatePass(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(call{method: http.MethodPost, path: "/v1/passes", body: `{"plan":"monthly"}`, token: api.token(t, "user-1", RoleUser)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var pass domain.MoviePass
	decodeBody(t, rec, &pass)
	assert.Equal(t, "user-1", pass.UserID)

	rec = api.do(call{method: http.MethodPost, path: "/v1/passes", body: `{"plan":"monthly","duration":"soon"}`, token: api.token(t, "user-2", RoleUser)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadyz_ReportsFailedChecks(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(call{method: http.MethodGet, path: "/v1/readyz"})
	assert.Equal(t, http.StatusOK, rec.Code)

	api.checks["mongo"] = func(context.Context) error { return errors.New("no reachable servers") }
	rec = api.do(call{method: http.MethodGet, path: "/v1/readyz"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "mongo")
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.NewSeatConflict("", "B2"), http.StatusBadRequest, "seat_conflict"},
		{errors.Wrap(domain.ErrSessionExpired, "hold lapsed"), http.StatusBadRequest, "session_expired"},
		{domain.ErrInvalidTotal, http.StatusBadRequest, "invalid_total"},
		{domain.ErrInvalidPaymentMethod, http.StatusBadRequest, "invalid_payment_method"},
		{domain.ErrInsufficientBalance, http.StatusBadRequest, "insufficient_balance"},
		{domain.ErrShowNotBookable, http.StatusBadRequest, "show_not_bookable"},
		{domain.ErrNotFound, http.StatusNotFound, "not_found"},
		{domain.ErrBookingCancelled, http.StatusConflict, "booking_cancelled"},
		{domain.StorageErr(errors.New("connection reset"), "get show"), http.StatusInternalServerError, "internal"},
	}
	for _, c := range cases {
		status, body := classify(c.err)
		assert.Equal(t, c.status, status, c.err.Error())
		assert.Equal(t, c.code, body.Code)
	}
	_, body := classify(domain.StorageErr(errors.New("connection reset"), "get show"))
	assert.NotContains(t, body.Message, "connection reset")
}

func TestSignatureMiddleware_RestoresBody(t *testing.T) {
	var got []byte
	h := SignatureMiddleware("s")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		got = buf.Bytes()
	}))
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("payload"))
	req.Header.Set("X-Signature", hex.EncodeToString(Sign("s", []byte("payload"))))
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "payload", string(got))
}
