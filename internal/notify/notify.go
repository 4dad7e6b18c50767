// Package notify decouples notification producers from slow sinks.
package notify

import (
	"context"
	"sync"

	"github.com/robertarktes/showtime-reservations/internal/domain"
	"github.com/robertarktes/showtime-reservations/internal/observability"
)

type message struct {
	topic   string
	payload any
}

// Async queues notifications into a bounded buffer drained by one goroutine.
// Emit never blocks: when the buffer is full the notification is dropped and
// counted.
type Async struct {
	next   domain.NotificationSink
	queue  chan message
	logger observability.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewAsync(next domain.NotificationSink, buffer int, logger observability.Logger) *Async {
	if buffer <= 0 {
		buffer = 1
	}
	a := &Async{
		next:   next,
		queue:  make(chan message, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
	go a.drain()
	return a
}

func (a *Async) Emit(ctx context.Context, topic string, payload any) {
	select {
	case a.queue <- message{topic: topic, payload: payload}:
	default:
		observability.NotificationsDropped.Inc()
		a.logger.WithField("topic", topic).Warn("notification buffer full, dropping")
	}
}

func (a *Async) drain() {
	defer close(a.done)
	for m := range a.queue {
		a.next.Emit(context.Background(), m.topic, m.payload)
	}
}

// Close stops accepting notifications and waits until the buffer is flushed
// or ctx is done. Emit must not be called after Close.
func (a *Async) Close(ctx context.Context) error {
	a.closeOnce.Do(func() { close(a.queue) })
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fanout forwards every notification to each sink in order.
type Fanout []domain.NotificationSink

func (f Fanout) Emit(ctx context.Context, topic string, payload any) {
	for _, s := range f {
		s.Emit(ctx, topic, payload)
	}
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Emit(context.Context, string, any) {}
