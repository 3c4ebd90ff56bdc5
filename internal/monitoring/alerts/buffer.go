package alerts

import (
	"sync"

	"agegate/internal/monitoring"
)

// RingBuffer is a bounded, thread-safe queue of alerts.
// When full, the oldest alerts are dropped to make room for new ones.
type RingBuffer struct {
	mu       sync.Mutex
	alerts   []monitoring.Alert
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int

	dropped int64
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 64
	}
	return &RingBuffer{
		alerts:   make([]monitoring.Alert, capacity),
		capacity: capacity,
	}
}

// Enqueue adds an alert, dropping the oldest if necessary.
func (b *RingBuffer) Enqueue(a monitoring.Alert) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		b.alerts[b.tail] = monitoring.Alert{}
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
	}

	b.alerts[b.head] = a
	b.head = (b.head + 1) % b.capacity
	b.count++
}

// DequeueBatch removes up to n alerts, oldest first.
func (b *RingBuffer) DequeueBatch(n int) []monitoring.Alert {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	if n > b.count {
		n = b.count
	}

	out := make([]monitoring.Alert, n)
	for i := range n {
		out[i] = b.alerts[b.tail]
		b.alerts[b.tail] = monitoring.Alert{}
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return out
}

func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped returns the total number of alerts discarded for space.
func (b *RingBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
