// Package feed defines the row-level change events delivered by the store's change
// feed and turns them into typed domain values at the boundary.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
)

// EventType is the kind of row change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Table names a store table that has its own change stream.
type Table string

const (
	TablePolls        Table = "polls"
	TableVotes        Table = "poll_votes"
	TableParticipants Table = "participants"
	TableChat         Table = "chat_messages"
)

// Tables lists every table the engine subscribes to.
var Tables = []Table{TablePolls, TableVotes, TableParticipants, TableChat}

// Event is one raw row change. New is null on DELETE and Old is null on INSERT.
// Delivery is at-least-once with no ordering across tables.
type Event struct {
	EventType EventType       `json:"eventType"`
	Table     Table           `json:"table"`
	New       json.RawMessage `json:"new,omitempty"`
	Old       json.RawMessage `json:"old,omitempty"`
}

// Handler receives events for one table.
type Handler func(ctx context.Context, ev Event)

// Subscription is an active table subscription.
type Subscription interface {
	Unsubscribe()
}

// Feed delivers change events for individual tables.
type Feed interface {
	Subscribe(ctx context.Context, table Table, handler Handler) (Subscription, error)
}

// Status is the connection state of a feed transport.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
	// StatusReconnected means events may have been missed while disconnected.
	StatusReconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusReconnected:
		return "reconnected"
	default:
		return "disconnected"
	}
}

// StatusNotifier is implemented by feeds that can report transport reconnects.
type StatusNotifier interface {
	OnStatus(fn func(Status)) (cancel func())
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
