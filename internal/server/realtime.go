package server

import (
	"context"
	"sync"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"
)

const defaultSubscriberBuffer = 16

// ChangeDispatcher fans change notices out to every connected stream. Slow subscribers
// drop notices instead of blocking publishers; a client that misses one still catches
// up on its next pull.
type ChangeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]chan equipment.ChangeNotice
	nextID      int64
	bufferSize  int
}

// NewChangeDispatcher constructs an empty dispatcher.
func NewChangeDispatcher() *ChangeDispatcher {
	return &ChangeDispatcher{
		subscribers: make(map[int64]chan equipment.ChangeNotice),
		bufferSize:  defaultSubscriberBuffer,
	}
}

// Subscribe registers a stream that lives until ctx ends or cleanup is called.
func (d *ChangeDispatcher) Subscribe(ctx context.Context) (<-chan equipment.ChangeNotice, func()) {
	stream := make(chan equipment.ChangeNotice, d.bufferSize)

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subscribers[id] = stream
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subscribers, id)
			d.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

// Publish delivers notice to every subscriber without blocking.
func (d *ChangeDispatcher) Publish(notice equipment.ChangeNotice) {
	if notice.Type == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, stream := range d.subscribers {
		select {
		case stream <- notice:
		default:
		}
	}
}

// SubscriberCount reports the number of live subscriptions.
func (d *ChangeDispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}
