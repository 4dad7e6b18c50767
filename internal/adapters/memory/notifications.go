package memory

import (
	"context"
	"sync"
)

type Notification struct {
	Topic   string
	Payload any
}

// Notifications records every emitted notification.
type Notifications struct {
	mu     sync.Mutex
	events []Notification
}

func NewNotifications() *Notifications {
	return &Notifications{}
}

func (n *Notifications) Emit(ctx context.Context, topic string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, Notification{Topic: topic, Payload: payload})
}

func (n *Notifications) ByTopic(topic string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notification
	for _, e := range n.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

func (n *Notifications) All() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.events...)
}
