package domain

import (
	"sort"
	"time"
)

// TimestampSuffix is appended to a channel name to form its timestamp key.
const TimestampSuffix = "-timestamp"

// TimestampKey returns the snapshot key holding the timestamp of channel.
func TimestampKey(channel string) string {
	return channel + TimestampSuffix
}

// ChannelView is the state of one input channel at fire time.
type ChannelView struct {
	Channel   string
	Value     any
	Timestamp time.Time
}

// Snapshot is the read-only view of an actor's input channels handed to domain
// logic. It carries channel -> latest value and "<channel>-timestamp" -> latest
// timestamp for every input channel. There are no mutators; Map returns a copy.
type Snapshot struct {
	entries  map[string]any
	channels []string
}

// NewSnapshot builds a snapshot from channel views in declared input order.
// Unseen channels carry a zero timestamp.
func NewSnapshot(views []ChannelView) Snapshot {
	s := Snapshot{
		entries:  make(map[string]any, len(views)*2),
		channels: make([]string, 0, len(views)),
	}
	for _, v := range views {
		s.entries[v.Channel] = v.Value
		s.entries[TimestampKey(v.Channel)] = v.Timestamp
		s.channels = append(s.channels, v.Channel)
	}
	return s
}

// Get returns the raw entry for key, which is either a channel name or a timestamp key.
func (s Snapshot) Get(key string) (any, bool) {
	v, ok := s.entries[key]
	return v, ok
}

// Value returns the latest value of channel, or nil when channel is not an input.
func (s Snapshot) Value(channel string) any {
	return s.entries[channel]
}

// Float returns the latest value of channel as float64 when it is numeric.
func (s Snapshot) Float(channel string) (float64, bool) {
	v, ok := s.entries[channel]
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// Timestamp returns the latest timestamp of channel; ok is false until a message arrived.
func (s Snapshot) Timestamp(channel string) (time.Time, bool) {
	ts, _ := s.entries[TimestampKey(channel)].(time.Time)
	return ts, !ts.IsZero()
}

// Channels returns the input channels in declared order.
func (s Snapshot) Channels() []string {
	return append([]string(nil), s.channels...)
}

// Keys returns every key in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s Snapshot) Len() int { return len(s.entries) }

// Map returns a copy of the entries; changing it never affects the snapshot.
func (s Snapshot) Map() map[string]any {
	out := make(map[string]any, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}
