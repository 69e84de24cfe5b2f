package ports

import "github.com/ghalamif/AegisCDSS/internal/domain"

// Handler receives every payload published on a subscribed channel.
type Handler func(channel string, p domain.Payload)

// Subscription is the handle returned by Registry.Subscribe.
type Subscription interface {
	ID() string
	Channel() string
	Unsubscribe()
}

// Registry is the publish/subscribe primitive keyed by channel name.
type Registry interface {
	Subscribe(channel string, h Handler) (Subscription, error)
	Publish(channel string, p domain.Payload) error
}
