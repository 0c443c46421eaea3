// Package maintenance runs the engine's daily housekeeping: a WAL
// checkpoint and integrity check against the live arena database, a
// verification pass over the most recent backup, and a disk space guard
// that halts the job (and logs critically) before the volume fills.
package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	_ "modernc.org/sqlite"

	"github.com/aristath/arena-engine/internal/database"
	"github.com/aristath/arena-engine/internal/reliability"
)

const (
	criticalFreeGB = 0.5
	warnFreeGB     = 10.0
)

// Scheduler wraps a robfig/cron engine running this package's jobs on a
// fixed schedule, mirroring the donor's own thin cron wrapper.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// NewScheduler constructs a scheduler. Call AddDailyJob/AddWeeklyJob
// before Start.
func NewScheduler(log zerolog.Logger) *Scheduler {
	return &Scheduler{cron: cron.New(), log: log.With().Str("component", "maintenance_scheduler").Logger()}
}

// Start begins running registered jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop blocks until any in-flight job finishes, then stops the scheduler.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// AddDailyJob registers job to run once a day at 2 AM server time, the
// donor's own maintenance window.
func (s *Scheduler) AddDailyJob(job *DailyJob) error {
	_, err := s.cron.AddFunc("0 2 * * *", func() {
		if err := job.Run(); err != nil {
			s.log.Error().Err(err).Msg("daily maintenance failed")
		}
	})
	return err
}

// AddWeeklyJob registers job to run once a week, Sunday at 3 AM.
func (s *Scheduler) AddWeeklyJob(job *WeeklyBackupJob) error {
	_, err := s.cron.AddFunc("0 3 * * 0", func() {
		if err := job.Run(); err != nil {
			s.log.Error().Err(err).Msg("weekly backup failed")
		}
	})
	return err
}

// WeeklyBackupJob archives the arena database to Cloudflare R2 and prunes
// backups past the retention window. A no-op Run when r2 is nil, so a
// deployment without R2 credentials configured can still register it
// unconditionally.
type WeeklyBackupJob struct {
	r2            *reliability.R2BackupService
	retentionDays int
	log           zerolog.Logger
}

// NewWeeklyBackupJob constructs the weekly R2 backup job. r2 may be nil when
// R2 backup is disabled in configuration.
func NewWeeklyBackupJob(r2 *reliability.R2BackupService, retentionDays int, log zerolog.Logger) *WeeklyBackupJob {
	return &WeeklyBackupJob{r2: r2, retentionDays: retentionDays, log: log.With().Str("job", "weekly_backup").Logger()}
}

// Run uploads a fresh backup archive and rotates old ones.
func (j *WeeklyBackupJob) Run() error {
	if j.r2 == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := j.r2.CreateAndUploadBackup(ctx); err != nil {
		return fmt.Errorf("weekly backup: %w", err)
	}
	if err := j.r2.RotateOldBackups(ctx, j.retentionDays); err != nil {
		j.log.Warn().Err(err).Msg("backup rotation failed, continuing")
	}
	return nil
}

// Name identifies this job for scheduler logging.
func (j *WeeklyBackupJob) Name() string { return "weekly_backup" }

// DailyJob is the engine's one scheduled maintenance pass.
type DailyJob struct {
	db        *database.DB
	health    *reliability.DatabaseHealthService
	backupDir string
	log       zerolog.Logger
}

// NewDailyJob constructs the daily maintenance job over the live arena
// database and its backup directory.
func NewDailyJob(db *database.DB, backupDir string, log zerolog.Logger) *DailyJob {
	return &DailyJob{
		db:        db,
		health:    reliability.NewDatabaseHealthService(db, log),
		backupDir: backupDir,
		log:       log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Run executes the maintenance pass: integrity check + recovery, WAL
// checkpoint, disk space guard, then backup verification. A critical disk
// space shortage aborts the remaining steps and returns an error so the
// caller can decide whether to halt the engine.
func (j *DailyJob) Run() error {
	start := time.Now()

	if err := j.health.CheckAndRecover(); err != nil {
		return fmt.Errorf("daily maintenance: database integrity: %w", err)
	}

	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		j.log.Warn().Err(err).Msg("WAL checkpoint failed, continuing")
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	if err := j.verifyLatestBackup(); err != nil {
		j.log.Error().Err(err).Msg("backup verification failed")
	}

	j.log.Info().Dur("duration_ms", time.Since(start)).Msg("daily maintenance completed")
	return nil
}

// Name identifies this job for scheduler logging.
func (j *DailyJob) Name() string { return "daily_maintenance" }

func (j *DailyJob) checkDiskSpace() error {
	usage, err := disk.Usage(filepath.Dir(j.db.Path()))
	if err != nil {
		return fmt.Errorf("disk usage: %w", err)
	}
	freeGB := float64(usage.Free) / 1e9

	switch {
	case freeGB < criticalFreeGB:
		j.log.Error().Float64("free_gb", freeGB).Msg("critical: disk nearly full, halting maintenance")
		return fmt.Errorf("only %.2f GB free, halting", freeGB)
	case freeGB < warnFreeGB:
		j.log.Warn().Float64("free_gb", freeGB).Msg("disk space running low")
	}
	return nil
}

// verifyLatestBackup finds the most recently modified *.db file under
// backupDir and runs PRAGMA integrity_check against a fresh connection to
// it, independent of the live connection pool.
func (j *DailyJob) verifyLatestBackup() error {
	entries, err := os.ReadDir(j.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read backup dir: %w", err)
	}

	var latest string
	var latestMod time.Time
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".db" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestMod) {
			latestMod = info.ModTime()
			latest = filepath.Join(j.backupDir, e.Name())
		}
	}
	if latest == "" {
		return fmt.Errorf("no backup files found in %s", j.backupDir)
	}

	result, err := quickIntegrityCheck(latest)
	if err != nil {
		return fmt.Errorf("open backup %s: %w", latest, err)
	}
	if result != "ok" {
		return fmt.Errorf("backup %s failed integrity check: %s", latest, result)
	}
	j.log.Debug().Str("backup", latest).Msg("latest backup verified")
	return nil
}

// quickIntegrityCheck opens path with its own short-lived connection,
// independent of the live connection pool, and runs PRAGMA integrity_check.
func quickIntegrityCheck(path string) (string, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	var result string
	if err := conn.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return "", err
	}
	return result, nil
}
