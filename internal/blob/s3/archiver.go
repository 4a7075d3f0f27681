package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/arzfeed/arzfeed/internal/domain"
)

// UpdateLogSource provides read/delete access to aged update logs. The
// Postgres update-log store satisfies it.
type UpdateLogSource interface {
	ListBefore(ctx context.Context, cutoff time.Time) ([]domain.UpdateLog, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MinuteSource provides read/delete access to aged minute-level OHLC records.
// The Postgres OHLC store satisfies it.
type MinuteSource interface {
	ListAllInRange(ctx context.Context, tf domain.Timeframe, from, to time.Time) ([]domain.OHLCRecord, error)
	DeleteMinutesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Archiver moves aged update logs and minute-level OHLC records out of
// Postgres into JSONL objects in cold storage. Rows are deleted only after
// the uploaded object has been verified to exist, so a failed upload never
// loses data.
type Archiver struct {
	writer  domain.BlobWriter
	logs    UpdateLogSource
	minutes MinuteSource
	logger  *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, logs UpdateLogSource, minutes MinuteSource, logger *slog.Logger) *Archiver {
	return &Archiver{writer: writer, logs: logs, minutes: minutes, logger: logger}
}

// ArchiveUpdateLogs archives and purges update logs created before cutoff,
// returning how many records were archived.
func (a *Archiver) ArchiveUpdateLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	logs, err := a.logs.ListBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive update logs query: %w", err)
	}
	if len(logs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(logs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: marshal update logs: %w", err)
	}
	path := archivePath("update_logs", cutoff)
	if err := a.uploadVerified(ctx, path, buf); err != nil {
		return 0, err
	}

	deleted, err := a.logs.DeleteBefore(ctx, cutoff)
	if err != nil {
		// The archive exists; the purge can be retried on the next run.
		return int64(len(logs)), fmt.Errorf("s3blob: purge update logs: %w", err)
	}

	a.logger.Info("archived update logs",
		slog.String("path", path),
		slog.Int("archived", len(logs)),
		slog.Int64("purged", deleted),
	)
	return int64(len(logs)), nil
}

// ArchiveMinutes archives and purges minute-level OHLC records with period
// start before cutoff.
func (a *Archiver) ArchiveMinutes(ctx context.Context, cutoff time.Time) (int64, error) {
	recs, err := a.minutes.ListAllInRange(ctx, domain.TimeframeMinute, time.Time{}, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive minutes query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: marshal minute records: %w", err)
	}
	path := archivePath("ohlc_minute", cutoff)
	if err := a.uploadVerified(ctx, path, buf); err != nil {
		return 0, err
	}

	deleted, err := a.minutes.DeleteMinutesBefore(ctx, cutoff)
	if err != nil {
		return int64(len(recs)), fmt.Errorf("s3blob: purge minutes: %w", err)
	}

	a.logger.Info("archived minute records",
		slog.String("path", path),
		slog.Int("archived", len(recs)),
		slog.Int64("purged", deleted),
	)
	return int64(len(recs)), nil
}

// uploadVerified uploads the JSONL payload and confirms the object landed
// before the caller deletes anything.
func (a *Archiver) uploadVerified(ctx context.Context, path string, buf []byte) error {
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: upload archive %s: %w", path, err)
	}

	ok, err := a.writer.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: verify archive %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("s3blob: verify archive %s: object missing after upload", path)
	}
	return nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// cutoff date:
//
//	archive/update_logs/2026-05-31.jsonl
//	archive/ohlc_minute/2026-05-31.jsonl
func archivePath(kind string, cutoff time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, cutoff.UTC().Format("2006-01-02"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON. Each
// element is one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
