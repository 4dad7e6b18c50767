package mongo_test

import (
	"context"
	"sync"
	"testing"
	"time"

	mongoadapter "github.com/robertarktes/showtime-reservations/internal/adapters/mongo"
	"github.com/robertarktes/showtime-reservations/internal/domain"
	"github.com/robertarktes/showtime-reservations/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const ttl = 5 * time.Minute

func startMongo(t *testing.T) *mongo.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mongoContainer.Terminate(ctx) })

	endpoint, err := mongoContainer.Endpoint(ctx, "mongodb")
	require.NoError(t, err)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(endpoint))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })
	return client.Database("showtime")
}

func seedShow(t *testing.T, store *mongoadapter.ShowStore, id string) {
	t.Helper()
	require.NoError(t, store.InsertShow(context.Background(), domain.Show{
		ID: id, ScreenID: "screen-1", VendorID: "vendor-1", Status: domain.ShowScheduled,
	}))
}

func holds(userID string, seats ...string) []domain.SeatHold {
	out := make([]domain.SeatHold, len(seats))
	for i, s := range seats {
		out[i] = domain.SeatHold{SeatNumber: s, SeatPrice: 200, UserID: userID}
	}
	return out
}

func TestShowStore_PlaceHoldIsAllOrNothing(t *testing.T) {
	db := startMongo(t)
	store := mongoadapter.NewShowStore(db, observability.NewNopLogger())
	ctx := context.Background()
	seedShow(t, store, "show-1")
	now := time.Now()

	_, err := store.PlaceHold(ctx, "show-1", holds("user-a", "A1", "A2"), now, ttl)
	require.NoError(t, err)

	_, err = store.PlaceHold(ctx, "show-1", holds("user-b", "A2", "A3"), now, ttl)
	var conflict *domain.SeatConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"A2"}, conflict.Seats)

	show, err := store.GetShow(ctx, "show-1")
	require.NoError(t, err)
	assert.Len(t, show.SeatHolds, 2, "A3 must not be held after a partial conflict")

	_, err = store.PlaceHold(ctx, "missing", holds("user-a", "A1"), now, ttl)
	assert.Error(t, err)
}

func TestShowStore_ConcurrentHoldsNeverDoubleBook(t *testing.T) {
	db := startMongo(t)
	store := mongoadapter.NewShowStore(db, observability.NewNopLogger())
	ctx := context.Background()
	seedShow(t, store, "show-1")
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := store.PlaceHold(ctx, "show-1", holds("user-"+string(rune('a'+i)), "B5"), now, ttl); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestShowStore_ExpiryIsInclusiveAndIdempotent(t *testing.T) {
	db := startMongo(t)
	store := mongoadapter.NewShowStore(db, observability.NewNopLogger())
	ctx := context.Background()
	seedShow(t, store, "show-1")
	t0 := time.Now().Truncate(time.Millisecond)

	_, err := store.PlaceHold(ctx, "show-1", holds("user-a", "A1"), t0, ttl)
	require.NoError(t, err)
	_, err = store.PlaceHold(ctx, "show-1", holds("user-a", "C1"), t0, ttl)
	require.NoError(t, err)
	_, err = store.ExtendHold(ctx, "show-1", "user-a", "booking-c", []string{"C1"}, t0.Add(-time.Second), t0)
	require.NoError(t, err)
	confirmed, err := store.ConfirmHold(ctx, "show-1", "user-a", "booking-c", []string{"C1"})
	require.NoError(t, err)
	require.Equal(t, []string{"C1"}, confirmed)

	released, err := store.ReleaseExpiredHolds(ctx, "show-1", t0.Add(-time.Second))
	require.NoError(t, err)
	assert.Empty(t, released)

	released, err = store.ReleaseExpiredHolds(ctx, "show-1", t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1"}, released)

	released, err = store.ReleaseExpiredHolds(ctx, "show-1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, released, "confirmed holds never expire")

	// A lapsed pending hold does not block another user.
	_, err = store.PlaceHold(ctx, "show-1", holds("user-a", "D1"), t0, ttl)
	require.NoError(t, err)
	_, err = store.PlaceHold(ctx, "show-1", holds("user-b", "D1"), t0.Add(ttl), ttl)
	require.NoError(t, err)
}

func TestShowStore_ExtendHoldOnlyMovesLiveOwnHolds(t *testing.T) {
	db := startMongo(t)
	store := mongoadapter.NewShowStore(db, observability.NewNopLogger())
	ctx := context.Background()
	seedShow(t, store, "show-1")
	t0 := time.Now().Truncate(time.Millisecond)

	_, err := store.PlaceHold(ctx, "show-1", holds("user-a", "A1", "A2"), t0, ttl)
	require.NoError(t, err)
	_, err = store.PlaceHold(ctx, "show-1", holds("user-b", "B1"), t0, ttl)
	require.NoError(t, err)

	pinned := t0.Add(5 * time.Minute)
	extended, err := store.ExtendHold(ctx, "show-1", "user-a", "booking-1", []string{"A1", "A2", "B1"}, t0.Add(-time.Minute), pinned)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A1", "A2"}, extended)

	extended, err = store.ExtendHold(ctx, "show-1", "user-a", "booking-2", []string{"A1"}, t0.Add(-time.Minute), pinned)
	require.NoError(t, err)
	assert.Empty(t, extended, "a hold pinned to one booking cannot back another")

	extended, err = store.ExtendHold(ctx, "show-1", "user-b", "booking-3", []string{"B1"}, t0, pinned)
	require.NoError(t, err)
	assert.Empty(t, extended, "a hold at the cutoff has lapsed")

	_, err = store.ExtendHold(ctx, "missing", "user-a", "booking-1", []string{"A1"}, t0, pinned)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestShowStore_BookedHoldsOnlyMoveWithTheirBooking(t *testing.T) {
	db := startMongo(t)
	store := mongoadapter.NewShowStore(db, observability.NewNopLogger())
	ctx := context.Background()
	seedShow(t, store, "show-1")
	t0 := time.Now().Truncate(time.Millisecond)

	_, err := store.PlaceHold(ctx, "show-1", holds("user-a", "A1", "A2", "A3"), t0, ttl)
	require.NoError(t, err)
	_, err = store.ExtendHold(ctx, "show-1", "user-a", "booking-1", []string{"A1", "A2"}, t0.Add(-time.Minute), t0.Add(5*time.Minute))
	require.NoError(t, err)

	released, err := store.ReleaseHold(ctx, "show-1", []string{"A1", "A2", "A3"}, "user-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"A3"}, released, "pinned holds survive a user release")

	confirmed, err := store.ConfirmHold(ctx, "show-1", "user-a", "booking-1", []string{"A1", "A2", "A3"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A1", "A2"}, confirmed)

	confirmed, err = store.ConfirmHold(ctx, "show-1", "user-a", "booking-other", []string{"A1"})
	require.NoError(t, err)
	assert.Empty(t, confirmed)

	released, err = store.ReleaseHold(ctx, "show-1", []string{"A1"}, "user-a")
	require.NoError(t, err)
	assert.Empty(t, released, "confirmed holds survive a user release")

	released, err = store.ReleaseBookingHolds(ctx, "show-1", "booking-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A1", "A2"}, released)

	_, err = store.ConfirmHold(ctx, "missing", "user-a", "booking-1", []string{"A1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestShowStore_ReleaseAndTransition(t *testing.T) {
	db := startMongo(t)
	store := mongoadapter.NewShowStore(db, observability.NewNopLogger())
	ctx := context.Background()
	seedShow(t, store, "show-1")
	now := time.Now()

	_, err := store.PlaceHold(ctx, "show-1", holds("user-a", "A1", "A2"), now, ttl)
	require.NoError(t, err)
	released, err := store.ReleaseHold(ctx, "show-1", []string{"A1"}, "user-b")
	require.NoError(t, err)
	assert.Empty(t, released)
	released, err = store.ReleaseHold(ctx, "show-1", []string{"A1"}, "user-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"A1"}, released)

	ok, err := store.TransitionStatus(ctx, "show-1", domain.ShowScheduled, domain.ShowRunning)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.TransitionStatus(ctx, "show-1", domain.ShowScheduled, domain.ShowRunning)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = store.TransitionStatus(ctx, "missing", domain.ShowScheduled, domain.ShowRunning)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.PlaceHold(ctx, "show-1", holds("user-a", "A5"), now, ttl)
	assert.ErrorIs(t, err, domain.ErrShowNotBookable)
}

func TestScreenLayouts_FindLayout(t *testing.T) {
	db := startMongo(t)
	layouts := mongoadapter.NewScreenLayouts(db, observability.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, layouts.CreateScreen(ctx, mongoadapter.ScreenDoc{
		ID: "screen-1",
		Seats: []mongoadapter.SeatDoc{
			{Number: "A1", Row: "A", Column: 1, Type: "regular", Price: 200},
			{Number: "A2", Row: "A", Column: 2, Type: "regular", Price: 200, Status: "Unavailable"},
		},
	}))

	layout, err := layouts.FindLayoutForScreen(ctx, "screen-1")
	require.NoError(t, err)
	assert.Equal(t, 2, layout.Capacity)
	assert.True(t, layout.Seats[0].Available)
	assert.False(t, layout.Seats[1].Available)

	_, err = layouts.FindLayoutForScreen(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuditLogger_StoresEmittedEvents(t *testing.T) {
	db := startMongo(t)
	audit := mongoadapter.NewAuditLogger(db, observability.NewNopLogger())
	ctx := context.Background()

	audit.Emit(ctx, domain.TopicSeatStatusChanged, domain.SeatStatusChanged{ShowID: "show-1", Seats: []string{"A1"}, Status: domain.SeatPending})

	var doc bson.M
	require.NoError(t, db.Collection("audit_logs").FindOne(ctx, bson.M{"topic": domain.TopicSeatStatusChanged}).Decode(&doc))
	data := doc["data"].(bson.M)
	assert.Equal(t, "show-1", data["show_id"])
}
