package di

import (
	"fmt"
	"time"

	"github.com/cerbero/coordinator/internal/config"
	"github.com/cerbero/coordinator/internal/scheduler"
	"github.com/rs/zerolog"
)

// walCheckpointSchedule keeps the WAL files of both databases bounded
const walCheckpointSchedule = "@hourly"

// archiveTimeout bounds one archive upload
const archiveTimeout = 10 * time.Minute

// RegisterJobs builds the scheduler and registers the background jobs.
// An empty schedule disables the corresponding job.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	sched := scheduler.New(log)

	if cfg.Scan.Schedule != "" {
		if err := sched.AddJob(cfg.Scan.Schedule, scheduler.NewScanJob(container.ScanPipeline, cfg.Scan.Timeout, log)); err != nil {
			return fmt.Errorf("failed to register scan job: %w", err)
		}
	}

	if container.ArchiveService != nil && cfg.Archive.Schedule != "" {
		if err := sched.AddJob(cfg.Archive.Schedule, scheduler.NewArchiveJob(container.ArchiveService, archiveTimeout, log)); err != nil {
			return fmt.Errorf("failed to register archive job: %w", err)
		}
	}

	if err := sched.AddJob(walCheckpointSchedule, scheduler.NewWALCheckpointJob(log, container.Databases()...)); err != nil {
		return fmt.Errorf("failed to register WAL checkpoint job: %w", err)
	}

	container.Scheduler = sched
	return nil
}
