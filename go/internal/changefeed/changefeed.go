// Package changefeed moves row change events from a transport (Postgres LISTEN,
// NATS JetStream, Redis pub/sub) to in-process subscribers.
package changefeed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/pollsync/go/internal/livepoll/feed"
)

// ErrUnknownTable is returned for events naming a table the feed does not carry.
var ErrUnknownTable = errors.New("unknown table")

// Sink receives events and connection status from a Source.
type Sink interface {
	Publish(ctx context.Context, ev feed.Event) error
	SetStatus(st feed.Status)
}

// Source produces change events into a Sink until ctx is done or the transport fails.
type Source interface {
	Run(ctx context.Context, sink Sink) error
}

// KnownTable reports whether t is one of the subscribed tables.
func KnownTable(t feed.Table) bool {
	for _, known := range feed.Tables {
		if t == known {
			return true
		}
	}
	return false
}

// Encode serializes an event for a message bus.
func Encode(ev feed.Event) ([]byte, error) {
	if !KnownTable(ev.Table) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, ev.Table)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change event: %w", err)
	}
	return data, nil
}

// Decode parses a bus message produced by Encode.
func Decode(data []byte) (feed.Event, error) {
	var ev feed.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return feed.Event{}, fmt.Errorf("failed to unmarshal change event: %w", err)
	}
	if !KnownTable(ev.Table) {
		return feed.Event{}, fmt.Errorf("%w: %q", ErrUnknownTable, ev.Table)
	}
	switch ev.EventType {
	case feed.EventInsert, feed.EventUpdate, feed.EventDelete:
	default:
		return feed.Event{}, fmt.Errorf("unknown event type %q", ev.EventType)
	}
	return ev, nil
}

// EventID is a content hash of an encoded event, used as the bus deduplication key.
func EventID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
