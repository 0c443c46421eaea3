// Package server provides the HTTP server and routing for the arena engine.
package server

import (
	"time"

	"github.com/aristath/arena-engine/internal/events"
	"github.com/aristath/arena-engine/internal/memstore"
	"github.com/rs/zerolog"
)

// StatusMonitor periodically samples the memory store and emits a
// ProgressChanged event so SSE clients don't have to poll /api/progress.
type StatusMonitor struct {
	eventManager *events.Manager
	store        *memstore.Store
	log          zerolog.Logger

	lastDate   string
	lastStatus string
}

// NewStatusMonitor creates a new status monitor.
func NewStatusMonitor(eventManager *events.Manager, store *memstore.Store, log zerolog.Logger) *StatusMonitor {
	return &StatusMonitor{
		eventManager: eventManager,
		store:        store,
		log:          log.With().Str("component", "status_monitor").Logger(),
	}
}

// Start begins periodic status monitoring.
func (m *StatusMonitor) Start(interval time.Duration) {
	go m.monitor(interval)
}

func (m *StatusMonitor) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.checkProgress()
	for range ticker.C {
		m.checkProgress()
	}
}

// checkProgress emits ProgressChanged only when the current date or session
// status has actually moved, so idle periods between day barriers don't spam
// subscribers with identical snapshots.
func (m *StatusMonitor) checkProgress() {
	snap := m.store.Snapshot()
	if snap.Session == nil {
		return
	}

	if snap.Session.CurrentDate == m.lastDate && string(snap.Session.Status) == m.lastStatus {
		return
	}
	m.lastDate = snap.Session.CurrentDate
	m.lastStatus = string(snap.Session.Status)

	if m.eventManager == nil {
		return
	}
	m.eventManager.Emit(events.ProgressChanged, "status_monitor", map[string]interface{}{
		"current_date": snap.Session.CurrentDate,
		"status":       snap.Session.Status,
		"timestamp":    time.Now().Format(time.RFC3339),
	})
}
