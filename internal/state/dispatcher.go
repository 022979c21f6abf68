package state

import (
	"context"
	"sync"
	"time"
)

const defaultBufferSize = 64

// Change announces that a store replaced or patched one of its slices.
type Change struct {
	Store     string
	Slice     string
	Timestamp time.Time
}

// Publisher receives slice changes from stores.
type Publisher interface {
	Publish(change Change)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Change) {}

// Dispatcher fans slice changes out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the change and is expected to
// re-read the slices it renders.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
	bufferSize  int
	closed      bool
}

type subscriber struct {
	id     int64
	stream chan Change
	done   chan struct{}
	cancel func()
}

// NewDispatcher constructs a dispatcher whose subscriber buffers hold bufferSize changes.
func NewDispatcher(bufferSize int) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Dispatcher{
		subscribers: make(map[int64]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber until ctx is done or the returned cancel
// function is called. The stream is closed on unsubscribe.
func (d *Dispatcher) Subscribe(ctx context.Context) (<-chan Change, func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		stream := make(chan Change)
		close(stream)
		return stream, func() {}
	}
	d.nextID++
	sub := &subscriber{
		id:     d.nextID,
		stream: make(chan Change, d.bufferSize),
		done:   make(chan struct{}),
	}
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(sub.done)
			d.unregister(sub.id)
		})
	}
	sub.cancel = cancel
	d.subscribers[sub.id] = sub
	d.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()
	return sub.stream, cancel
}

// Publish delivers change to every subscriber with buffer space left.
func (d *Dispatcher) Publish(change Change) {
	if change.Store == "" {
		return
	}
	if change.Timestamp.IsZero() {
		change.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.subscribers {
		select {
		case sub.stream <- change:
		default:
		}
	}
}

// Close unregisters every subscriber and rejects new ones.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	subscribers := make([]*subscriber, 0, len(d.subscribers))
	for _, sub := range d.subscribers {
		subscribers = append(subscribers, sub)
	}
	d.mu.Unlock()
	for _, sub := range subscribers {
		sub.cancel()
	}
}

func (d *Dispatcher) unregister(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub, ok := d.subscribers[id]
	if !ok {
		return
	}
	delete(d.subscribers, id)
	close(sub.stream)
}
