package app_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/showtime-reservations/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/showtime-reservations/internal/adapters/mongo"
	"github.com/robertarktes/showtime-reservations/internal/adapters/rabbit"
	"github.com/robertarktes/showtime-reservations/internal/app"
	"github.com/robertarktes/showtime-reservations/internal/booking"
	"github.com/robertarktes/showtime-reservations/internal/config"
	"github.com/robertarktes/showtime-reservations/internal/domain"
	"github.com/robertarktes/showtime-reservations/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port nat.Port, scheme string) string {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })
	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, port)
	require.NoError(t, err)
	return scheme + host + ":" + mapped.Port()
}

func startApp(t *testing.T) *app.App {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	crdbAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "cockroachdb/cockroach:v24.1.1",
		Cmd:          []string{"start-single-node", "--insecure"},
		ExposedPorts: []string{"26257/tcp", "8080/tcp"},
		WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
	}, "26257", "postgresql://root@")
	mongoAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp"),
	}, "27017", "mongodb://")
	redisAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
	}, "6379", "")
	rabbitAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-management",
		ExposedPorts: []string{"5672/tcp", "15672/tcp"},
		WaitingFor:   wait.ForHTTP("/api/health/checks/alarms").WithPort("15672").WithBasicAuth("guest", "guest"),
	}, "5672", "amqp://guest:guest@")

	t.Setenv("CRDB_DSN", crdbAddr+"/defaultdb?sslmode=disable")
	t.Setenv("MONGO_URI", mongoAddr)
	t.Setenv("REDIS_ADDR", redisAddr)
	t.Setenv("RABBIT_URL", rabbitAddr+"/")
	cfg, err := config.Load()
	require.NoError(t, err)

	a, err := app.New(context.Background(), cfg, observability.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

// tapEvents binds a fresh queue to every notification topic.
func tapEvents(t *testing.T, a *app.App) <-chan amqp.Delivery {
	t.Helper()
	ch, err := a.Rabbit.Channel()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, "#", rabbit.EventsExchange, false, nil))
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	require.NoError(t, err)
	return msgs
}

func TestApp_HoldBookAndSettle(t *testing.T) {
	a := startApp(t)
	ctx := context.Background()
	for name, check := range a.ReadinessChecks() {
		require.NoError(t, check(ctx), name)
	}
	events := tapEvents(t, a)

	db := a.Mongo.Database(a.Config.MongoDB)
	logger := observability.NewNopLogger()
	require.NoError(t, mongoadapter.NewScreenLayouts(db, logger).CreateScreen(ctx, mongoadapter.ScreenDoc{
		ID: "screen-1",
		Seats: []mongoadapter.SeatDoc{
			{Number: "A1", Row: "A", Column: 1, Type: "regular", Price: 250},
			{Number: "A2", Row: "A", Column: 2, Type: "regular", Price: 250},
		},
	}))
	require.NoError(t, mongoadapter.NewShowStore(db, logger).InsertShow(ctx, domain.Show{
		ID: "show-1", ScreenID: "screen-1", VendorID: "vendor-1", Status: domain.ShowScheduled,
	}))
	wallets := crdb.NewWallets(a.Repo)
	require.NoError(t, wallets.Credit(ctx, "user-1", 1000, "top up", "topup:user-1"))

	held, err := a.Seating.HoldSeats(ctx, "show-1", []string{"A1", "A2"}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 500.0, held.SubTotal)

	res, err := a.Bookings.Create(ctx, booking.Request{
		ShowID: "show-1", UserID: "user-1", Seats: []string{"A1", "A2"},
		PaymentMethod: domain.PaymentWallet, ConvenienceFee: 40, TotalAmount: 540,
		HoldExpiresAt: held.ExpiresAt,
	})
	require.NoError(t, err)
	assert.True(t, res.Booking.Paid())
	ok, err := wallets.CheckBalance(ctx, "user-1", 460.01)
	require.NoError(t, err)
	assert.False(t, ok, "540 debited")

	select {
	case d := <-events:
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(d.Body, &msg))
		assert.Equal(t, domain.TopicSeatStatusChanged, d.RoutingKey)
	case <-time.After(10 * time.Second):
		t.Fatal("no notification published")
	}

	start := time.Now().Truncate(time.Second)
	require.NoError(t, a.Shows.ScheduleShow(ctx, "show-1", start, start.Add(time.Second)))
	n, err := a.Scheduler.RunOnce(ctx, start)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
	_, err = a.Scheduler.RunOnce(ctx, start.Add(time.Second))
	require.NoError(t, err)

	show, err := a.Seating.HoldSeats(ctx, "show-1", []string{"A1"}, "user-2")
	assert.Nil(t, show)
	assert.ErrorIs(t, err, domain.ErrShowNotBookable)

	// 500 gross, 75 commission.
	ok, err = wallets.CheckBalance(ctx, "vendor-1", 425)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = wallets.CheckBalance(ctx, a.Config.PlatformWalletID, 115)
	require.NoError(t, err)
	assert.True(t, ok)
}
