package domain

import "time"

// AddressesChannel receives the name of an output channel the first time an
// actor publishes on it, so downstream dispatchers can discover live channels.
const AddressesChannel = "CDSS.addresses"

// Payload is the unit carried on a channel: a value and the time it was observed.
type Payload struct {
	Value     any            `json:"value"`
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// Update pairs a payload with the channel it is published on. Collectors emit Updates.
type Update struct {
	Channel string  `json:"channel"`
	Payload Payload `json:"payload"`
}
