package reliability

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/aristath/spyglass/internal/database"
)

// defaultMinFreeBytes halts maintenance when the data volume drops under
// this much free space.
const defaultMinFreeBytes = 500 * 1024 * 1024

// Maintenance runs the routine database upkeep pass: integrity check,
// WAL truncation, and a disk space guard.
type Maintenance struct {
	db           *database.DB
	dataDir      string
	minFreeBytes uint64
	log          zerolog.Logger
}

// NewMaintenance creates the maintenance job.
func NewMaintenance(db *database.DB, dataDir string, log zerolog.Logger) *Maintenance {
	return &Maintenance{
		db:           db,
		dataDir:      dataDir,
		minFreeBytes: defaultMinFreeBytes,
		log:          log.With().Str("module", "maintenance").Logger(),
	}
}

func (m *Maintenance) Name() string { return "maintenance" }

// Run executes one maintenance pass. An integrity failure or a full disk
// is an error; a failed WAL checkpoint is only logged.
func (m *Maintenance) Run(ctx context.Context) error {
	if err := m.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database integrity check failed: %w", err)
	}

	if err := m.db.WALCheckpoint("TRUNCATE"); err != nil {
		m.log.Warn().Err(err).Msg("wal checkpoint failed")
	}

	usage, err := disk.UsageWithContext(ctx, m.dataDir)
	if err != nil {
		m.log.Warn().Err(err).Msg("disk usage check failed")
		return nil
	}
	m.log.Debug().
		Uint64("free_bytes", usage.Free).
		Float64("used_pct", usage.UsedPercent).
		Msg("disk usage")
	if usage.Free < m.minFreeBytes {
		return fmt.Errorf("low disk space: %d bytes free on %s", usage.Free, m.dataDir)
	}
	return nil
}
