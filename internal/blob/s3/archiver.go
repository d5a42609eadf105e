package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

const (
	defaultBatchSize = 5000
	multipartAbove   = 64 * 1024 * 1024
	jsonlContentType = "application/x-ndjson"
)

// ArchiverConfig tunes an Archiver.
type ArchiverConfig struct {
	BatchSize int  // rows per uploaded part
	Delete    bool // remove archived rows from the database
}

// Archiver implements domain.Archiver: rows older than the cutoff are
// written to the bucket as JSONL parts, then optionally deleted. Uploads
// happen before deletion, so a failed run is retried in full by the next
// one and rows may be archived more than once.
type Archiver struct {
	writer domain.BlobWriter
	orders domain.OrderStore
	audit  domain.AuditStore
	cfg    ArchiverConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, orders domain.OrderStore, audit domain.AuditStore, cfg ArchiverConfig, logger *slog.Logger) *Archiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Archiver{
		writer: writer,
		orders: orders,
		audit:  audit,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
}

// ArchiveOrders moves orders created before the cutoff.
func (a *Archiver) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	n, err := archive(ctx, a, "orders", before,
		func(opts domain.ListOpts) ([]domain.Order, error) { return a.orders.List(ctx, opts) },
		a.orders.DeleteBefore,
	)
	if err != nil {
		return n, err
	}
	a.record(ctx, "archive.orders", before, n)
	return n, nil
}

// ArchiveAudit moves audit entries created before the cutoff. The entry
// recording the run itself is written after the move.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	n, err := archive(ctx, a, "audit", before,
		func(opts domain.ListOpts) ([]domain.AuditEntry, error) { return a.audit.List(ctx, opts) },
		a.audit.DeleteBefore,
	)
	if err != nil {
		return n, err
	}
	a.record(ctx, "archive.audit", before, n)
	return n, nil
}

// archive pages through rows before the cutoff, uploading each page as a
// part, then deletes them when configured.
func archive[T any](
	ctx context.Context,
	a *Archiver,
	kind string,
	before time.Time,
	list func(domain.ListOpts) ([]T, error),
	del func(context.Context, time.Time) (int64, error),
) (int64, error) {
	// Until is inclusive, DeleteBefore is exclusive.
	until := before.Add(-time.Microsecond)
	runID := a.now().UTC().Format("20060102T150405Z")

	var total int64
	for part := 0; ; part++ {
		rows, err := list(domain.ListOpts{Until: &until, Limit: a.cfg.BatchSize, Offset: part * a.cfg.BatchSize})
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s query: %w", kind, err)
		}
		if len(rows) == 0 {
			break
		}

		buf, err := marshalJSONL(rows)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
		}
		path := archivePath(kind, before, runID, part)
		if err := a.upload(ctx, path, buf); err != nil {
			return total, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
		}
		total += int64(len(rows))
		a.logger.Debug("archive part uploaded",
			slog.String("kind", kind),
			slog.String("path", path),
			slog.Int("rows", len(rows)),
		)
		if len(rows) < a.cfg.BatchSize {
			break
		}
	}

	if total > 0 && a.cfg.Delete {
		deleted, err := del(ctx, before)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s delete: %w", kind, err)
		}
		a.logger.Info("archived rows deleted", slog.String("kind", kind), slog.Int64("deleted", deleted))
	}
	return total, nil
}

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if len(buf) > multipartAbove {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
}

func (a *Archiver) record(ctx context.Context, event string, before time.Time, n int64) {
	if n == 0 {
		return
	}
	if err := a.audit.Log(ctx, event, map[string]any{
		"count":  n,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		a.logger.Warn("archive audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// archivePath partitions by the cutoff date and the run:
//
//	archive/orders/2026-03-01/20260401T030000Z-0000.jsonl
func archivePath(kind string, before time.Time, runID string, part int) string {
	return fmt.Sprintf("archive/%s/%s/%s-%04d.jsonl", kind, before.UTC().Format(time.DateOnly), runID, part)
}

// marshalJSONL encodes one compact JSON object per line.
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

var _ domain.Archiver = (*Archiver)(nil)
