package reliability

import (
	"context"
	"fmt"

	"github.com/aristath/arena-engine/internal/database"
	"github.com/rs/zerolog"
)

// DatabaseHealthService wraps one database.DB with the integrity-check and
// auto-recovery logic the maintenance jobs run on a schedule.
type DatabaseHealthService struct {
	db  *database.DB
	log zerolog.Logger
}

// NewDatabaseHealthService builds a health service for one database.
func NewDatabaseHealthService(db *database.DB, log zerolog.Logger) *DatabaseHealthService {
	return &DatabaseHealthService{db: db, log: log.With().Str("component", "db_health").Str("database", db.Name()).Logger()}
}

// CheckAndRecover runs a full integrity check and attempts a WAL checkpoint
// recovery if it fails. A second failed check after recovery is fatal — the
// maintenance job halts rather than risk silently running against corrupt
// session history.
func (h *DatabaseHealthService) CheckAndRecover() error {
	ctx := context.Background()
	if err := h.db.HealthCheck(ctx); err == nil {
		return nil
	}

	h.log.Warn().Msg("integrity check failed, attempting WAL checkpoint recovery")
	if err := h.db.WALCheckpoint("TRUNCATE"); err != nil {
		return fmt.Errorf("recovery checkpoint failed: %w", err)
	}

	if err := h.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("integrity check still failing after recovery: %w", err)
	}
	h.log.Info().Msg("recovered via WAL checkpoint")
	return nil
}

// Metrics is the size/growth snapshot surfaced by maintenance jobs.
type Metrics struct {
	SizeMB    float64
	WALSizeMB float64
}

// GetMetrics reports the database's current on-disk footprint.
func (h *DatabaseHealthService) GetMetrics() (Metrics, error) {
	stats, err := h.db.GetStats()
	if err != nil {
		return Metrics{}, fmt.Errorf("get stats: %w", err)
	}
	return Metrics{
		SizeMB:    float64(stats.SizeBytes) / 1024 / 1024,
		WALSizeMB: float64(stats.WALSizeBytes) / 1024 / 1024,
	}, nil
}
