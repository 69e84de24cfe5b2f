package ports

import "github.com/ghalamif/AegisCDSS/internal/domain"

// Delivery is one payload waiting to be handed to a subscriber.
type Delivery struct {
	Channel string
	Payload domain.Payload
	Handler Handler
}

// Mailbox is a FIFO of pending deliveries drained by a dispatch worker.
type Mailbox interface {
	Enqueue(d Delivery) bool
	DequeueBatch(max int) []Delivery
	Len() int
	// Ready is signalled after Enqueue. Receivers drain until empty on each signal.
	Ready() <-chan struct{}
}
