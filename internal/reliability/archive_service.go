package reliability

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/cerbero/coordinator/internal/domain"
	"github.com/cerbero/coordinator/internal/events"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// DispatchWatermark names the archive watermark of the dispatch ledger
	DispatchWatermark = "dispatches"
	archivePrefix     = "dispatches/"
	batchVersion      = 1
	defaultBatchLimit = 5000
)

// LedgerSource pages dispatch records by ledger row id and tracks archive progress
type LedgerSource interface {
	ListAfter(ctx context.Context, afterID int64, limit int) ([]domain.DispatchRecord, int64, error)
	Watermark(ctx context.Context, name string) (domain.ArchiveCursor, error)
	SetWatermark(ctx context.Context, name string, cursor domain.ArchiveCursor) error
}

// ArchiveBatch is the msgpack document stored per upload
type ArchiveBatch struct {
	ArchivedAt time.Time               `msgpack:"archived_at"`
	Records    []domain.DispatchRecord `msgpack:"records"`
	Version    int                     `msgpack:"version"`
}

// ArchiveResult describes one archive run
type ArchiveResult struct {
	Key     string    `json:"key,omitempty"`
	Through time.Time `json:"through"`
	LastID  int64     `json:"last_id"`
	Records int       `json:"records"`
	Bytes   int       `json:"bytes"`
}

// ArchiveService copies dispatch records created since the last run to object storage.
// The watermark only advances after a successful upload, so a failed run is retried whole.
type ArchiveService struct {
	ledger     LedgerSource
	store      ObjectStore
	events     *events.Manager
	batchLimit int
	now        func() time.Time
	log        zerolog.Logger
}

// NewArchiveService creates an archive service. eventManager may be nil.
func NewArchiveService(ledger LedgerSource, store ObjectStore, eventManager *events.Manager, log zerolog.Logger) *ArchiveService {
	return &ArchiveService{
		ledger:     ledger,
		store:      store,
		events:     eventManager,
		batchLimit: defaultBatchLimit,
		now:        time.Now,
		log:        log.With().Str("service", "ledger_archive").Logger(),
	}
}

// Archive uploads the next batch of unarchived dispatch records
func (s *ArchiveService) Archive(ctx context.Context) (ArchiveResult, error) {
	cursor, err := s.ledger.Watermark(ctx, DispatchWatermark)
	if err != nil {
		return ArchiveResult{}, err
	}

	records, lastID, err := s.ledger.ListAfter(ctx, cursor.LastID, s.batchLimit)
	if err != nil {
		return ArchiveResult{}, err
	}
	if len(records) == 0 {
		return ArchiveResult{Through: cursor.Through, LastID: cursor.LastID}, nil
	}

	now := s.now().UTC()
	payload, err := msgpack.Marshal(&ArchiveBatch{
		ArchivedAt: now,
		Records:    records,
		Version:    batchVersion,
	})
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("failed to encode archive batch: %w", err)
	}

	key := ArchiveKey(now, lastID)
	if err := s.store.Upload(ctx, key, bytes.NewReader(payload), int64(len(payload))); err != nil {
		s.events.EmitError("archive", err, map[string]interface{}{"key": key})
		return ArchiveResult{}, err
	}

	through := records[len(records)-1].CreatedAt
	next := domain.ArchiveCursor{LastID: lastID, Through: through}
	if err := s.ledger.SetWatermark(ctx, DispatchWatermark, next); err != nil {
		return ArchiveResult{}, err
	}

	result := ArchiveResult{
		Key:     key,
		Through: through,
		LastID:  lastID,
		Records: len(records),
		Bytes:   len(payload),
	}

	s.log.Info().
		Str("key", key).
		Int("records", result.Records).
		Int("bytes", result.Bytes).
		Time("through", through).
		Int64("last_id", lastID).
		Msg("Dispatch ledger archived")

	s.events.EmitTyped("archive", &events.LedgerArchivedData{
		Key:     key,
		Records: result.Records,
		Bytes:   result.Bytes,
	})

	return result, nil
}

// ListArchives returns the uploaded dispatch archives
func (s *ArchiveService) ListArchives(ctx context.Context) ([]ObjectInfo, error) {
	return s.store.List(ctx, archivePrefix)
}

// ArchiveKey returns the object key of a batch archived at t ending at ledger row lastID.
// Row ids never repeat, so two runs within the same second get distinct keys.
func ArchiveKey(t time.Time, lastID int64) string {
	t = t.UTC()
	return fmt.Sprintf("%s%04d/%02d/%02d/%d-%d.msgpack", archivePrefix, t.Year(), int(t.Month()), t.Day(), t.Unix(), lastID)
}

// DecodeBatch decodes an uploaded archive
func DecodeBatch(data []byte) (ArchiveBatch, error) {
	var batch ArchiveBatch
	if err := msgpack.Unmarshal(data, &batch); err != nil {
		return ArchiveBatch{}, fmt.Errorf("failed to decode archive batch: %w", err)
	}
	return batch, nil
}
