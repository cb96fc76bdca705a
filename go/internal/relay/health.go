package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mcdev12/pollsync/go/internal/livepoll/feed"
)

type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	EventsRelayed     uint64    `json:"events_relayed"`
	EventsFailed      uint64    `json:"events_failed"`
	LastEventTime     time.Time `json:"last_event_time"`
	DatabaseConnected bool      `json:"database_connected"`
	SourceStatus      string    `json:"source_status"`
	Errors            []string  `json:"errors"`
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

var _ Pinger = (*sql.DB)(nil)

type HealthChecker struct {
	relay *Relay
	db    Pinger
}

func NewHealthChecker(relay *Relay, db Pinger) *HealthChecker {
	return &HealthChecker{relay: relay, db: db}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy: true,
		Errors:  []string{},
	}

	relayed, failed, last, source := h.relay.Stats()
	status.EventsRelayed = relayed
	status.EventsFailed = failed
	status.LastEventTime = last
	status.SourceStatus = source.String()

	if err := h.db.PingContext(ctx); err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
	} else {
		status.DatabaseConnected = true
	}

	if source == feed.StatusDisconnected {
		status.Healthy = false
		status.Errors = append(status.Errors, "listener not connected")
	}

	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}
