package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/robertarktes/showtime-reservations/internal/adapters/memory"
	"github.com/robertarktes/showtime-reservations/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	topics  []string
}

func (b *blockingSink) Emit(ctx context.Context, topic string, payload any) {
	<-b.release
	b.mu.Lock()
	b.topics = append(b.topics, topic)
	b.mu.Unlock()
}

func TestAsync_DeliversInOrder(t *testing.T) {
	rec := memory.NewNotifications()
	a := NewAsync(rec, 16, observability.NewNopLogger())

	a.Emit(context.Background(), "one", 1)
	a.Emit(context.Background(), "two", 2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))

	all := rec.All()
	require.Len(t, all, 2)
	assert.Equal(t, "one", all[0].Topic)
	assert.Equal(t, "two", all[1].Topic)
}

func TestAsync_DropsWhenFullWithoutBlocking(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	a := NewAsync(sink, 1, observability.NewNopLogger())

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			a.Emit(context.Background(), "seat.status_changed", i)
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}

	close(sink.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Less(t, len(sink.topics), 10)
	assert.NotEmpty(t, sink.topics)
}

func TestFanout(t *testing.T) {
	a, b := memory.NewNotifications(), memory.NewNotifications()
	Fanout{a, b, Nop{}}.Emit(context.Background(), "booking.confirmed", "x")
	assert.Len(t, a.ByTopic("booking.confirmed"), 1)
	assert.Len(t, b.ByTopic("booking.confirmed"), 1)
}
