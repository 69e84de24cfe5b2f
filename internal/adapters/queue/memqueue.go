package queue

import (
	"sync"

	"github.com/ghalamif/AegisCDSS/internal/ports"
)

// MemQueue is an in-memory mailbox that preserves FIFO ordering.
// A capacity <= 0 means unbounded.
type MemQueue struct {
	mu    sync.Mutex
	data  []ports.Delivery
	cap   int
	ready chan struct{}
}

func NewMemQueue(capacity int) *MemQueue {
	initial := capacity
	if initial <= 0 {
		initial = 16
	}
	return &MemQueue{
		data:  make([]ports.Delivery, 0, initial),
		cap:   capacity,
		ready: make(chan struct{}, 1),
	}
}

func (q *MemQueue) Enqueue(d ports.Delivery) bool {
	q.mu.Lock()
	if q.cap > 0 && len(q.data) >= q.cap {
		q.mu.Unlock()
		return false
	}
	q.data = append(q.data, d)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

func (q *MemQueue) DequeueBatch(max int) []ports.Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]ports.Delivery, max)
	copy(out, q.data[:max])
	// clear moved slots so payloads are not retained by the backing array
	rest := copy(q.data, q.data[max:])
	for i := rest; i < len(q.data); i++ {
		q.data[i] = ports.Delivery{}
	}
	q.data = q.data[:rest]
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

func (q *MemQueue) Ready() <-chan struct{} { return q.ready }

var _ ports.Mailbox = (*MemQueue)(nil)
