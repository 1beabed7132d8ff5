package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/cerbero/coordinator/internal/database"
	"github.com/cerbero/coordinator/internal/reliability"
	"github.com/cerbero/coordinator/internal/services"
	"github.com/rs/zerolog"
)

// ScanRunner runs one scan cycle
type ScanRunner interface {
	RunCycle(ctx context.Context) (*services.ScanReport, error)
}

// ScanJob triggers the scan pipeline
type ScanJob struct {
	runner  ScanRunner
	timeout time.Duration
	log     zerolog.Logger
}

// NewScanJob creates a scan job bounded by timeout (0 means unbounded)
func NewScanJob(runner ScanRunner, timeout time.Duration, log zerolog.Logger) *ScanJob {
	return &ScanJob{
		runner:  runner,
		timeout: timeout,
		log:     log.With().Str("job", "scan").Logger(),
	}
}

// Name returns the job name
func (j *ScanJob) Name() string {
	return "scan"
}

// Run executes one scan cycle
func (j *ScanJob) Run() error {
	ctx, cancel := withOptionalTimeout(j.timeout)
	defer cancel()

	report, err := j.runner.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("scan cycle failed: %w", err)
	}
	j.log.Debug().Str("cycle_id", report.CycleID).Int("units", len(report.Units)).Msg("Scan job finished")
	return nil
}

// Archiver uploads the dispatch ledger to object storage
type Archiver interface {
	Archive(ctx context.Context) (reliability.ArchiveResult, error)
}

// ArchiveJob ships new dispatch records to the archive bucket
type ArchiveJob struct {
	archiver Archiver
	timeout  time.Duration
	log      zerolog.Logger
}

// NewArchiveJob creates an archive job
func NewArchiveJob(archiver Archiver, timeout time.Duration, log zerolog.Logger) *ArchiveJob {
	return &ArchiveJob{
		archiver: archiver,
		timeout:  timeout,
		log:      log.With().Str("job", "archive").Logger(),
	}
}

// Name returns the job name
func (j *ArchiveJob) Name() string {
	return "archive"
}

// Run executes the archive
func (j *ArchiveJob) Run() error {
	ctx, cancel := withOptionalTimeout(j.timeout)
	defer cancel()

	result, err := j.archiver.Archive(ctx)
	if err != nil {
		return fmt.Errorf("archive failed: %w", err)
	}
	if result.Records == 0 {
		j.log.Debug().Msg("Nothing to archive")
	}
	return nil
}

// WALCheckpointJob truncates the write-ahead logs of the coordinator databases
type WALCheckpointJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewWALCheckpointJob creates a checkpoint job; nil databases are skipped
func NewWALCheckpointJob(log zerolog.Logger, databases ...*database.DB) *WALCheckpointJob {
	return &WALCheckpointJob{
		databases: databases,
		log:       log.With().Str("job", "wal_checkpoint").Logger(),
	}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run checkpoints every database; one failure does not stop the others
func (j *WALCheckpointJob) Run() error {
	var failed []string
	checked := 0
	for _, db := range j.databases {
		if db == nil {
			continue
		}
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to checkpoint WAL")
			failed = append(failed, db.Name())
			continue
		}
		checked++
	}

	j.log.Debug().Int("checked", checked).Msg("WAL checkpoints completed")
	if len(failed) > 0 {
		return fmt.Errorf("WAL checkpoint failed for %v", failed)
	}
	return nil
}

func withOptionalTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}
