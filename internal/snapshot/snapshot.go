// Package snapshot exports the ledger to object storage: a JSON document with
// the stats and every position, and a JSONL dump of the audit log.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

const (
	// SnapshotPrefix is the key prefix for snapshot documents.
	SnapshotPrefix = "snapshots/"
	// AuditPrefix is the key prefix for audit dumps.
	AuditPrefix = "audit/"

	pageSize = 500

	// multipartThreshold switches uploads to the multipart path.
	multipartThreshold = 8 << 20
	partSize           = 8 << 20
)

// Source is the read side of the ledger an export needs.
type Source interface {
	GetStats(ctx context.Context) (domain.Stats, error)
	Positions(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error)
}

// Document is the content of one snapshot object.
type Document struct {
	ID        string            `json:"id"`
	Asset     string            `json:"asset"`
	TakenAt   time.Time         `json:"taken_at"`
	Stats     domain.Stats      `json:"stats"`
	Open      int               `json:"open_positions"`
	Positions []domain.Position `json:"positions"`
}

// Result describes a finished upload.
type Result struct {
	Path  string    `json:"path"`
	Bytes int       `json:"bytes"`
	Count int       `json:"count"`
	At    time.Time `json:"at"`
}

// Exporter writes snapshots through a BlobWriter.
type Exporter struct {
	source Source
	audit  domain.AuditStore // optional
	blobs  domain.BlobWriter
	asset  string
	logger *slog.Logger
	now    func() time.Time
}

// NewExporter creates an Exporter. audit may be nil, in which case
// ExportAudit fails.
func NewExporter(source Source, audit domain.AuditStore, blobs domain.BlobWriter, asset string, logger *slog.Logger) *Exporter {
	return &Exporter{
		source: source,
		audit:  audit,
		blobs:  blobs,
		asset:  asset,
		logger: logger.With(slog.String("component", "snapshot")),
		now:    time.Now,
	}
}

// Export writes snapshots/<date>/<uuid>.json.
func (e *Exporter) Export(ctx context.Context) (Result, error) {
	stats, err := e.source.GetStats(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot: stats: %w", err)
	}
	positions, err := collect(ctx, func(opts domain.ListOpts) ([]domain.Position, error) {
		return e.source.Positions(ctx, opts)
	})
	if err != nil {
		return Result{}, fmt.Errorf("snapshot: positions: %w", err)
	}

	at := e.now().UTC()
	doc := Document{
		ID:        uuid.NewString(),
		Asset:     e.asset,
		TakenAt:   at,
		Stats:     stats,
		Positions: positions,
	}
	for _, p := range positions {
		if p.IsOpen() {
			doc.Open++
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot: marshal: %w", err)
	}
	res := Result{Path: objectPath(SnapshotPrefix, at, doc.ID, "json"), Bytes: len(data), Count: len(positions), At: at}
	if err := e.upload(ctx, res.Path, data, "application/json"); err != nil {
		return Result{}, err
	}
	e.logger.InfoContext(ctx, "snapshot: exported",
		slog.String("path", res.Path),
		slog.Int("positions", res.Count),
		slog.Int("bytes", res.Bytes),
	)
	return res, nil
}

// ExportAudit writes the audit log, oldest entry first, to
// audit/<date>/<uuid>.jsonl.
func (e *Exporter) ExportAudit(ctx context.Context) (Result, error) {
	if e.audit == nil {
		return Result{}, errors.New("snapshot: no audit store")
	}
	entries, err := collect(ctx, func(opts domain.ListOpts) ([]domain.AuditEntry, error) {
		return e.audit.List(ctx, opts)
	})
	if err != nil {
		return Result{}, fmt.Errorf("snapshot: audit: %w", err)
	}
	// List is newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	data, err := marshalJSONL(entries)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot: %w", err)
	}
	at := e.now().UTC()
	res := Result{Path: objectPath(AuditPrefix, at, uuid.NewString(), "jsonl"), Bytes: len(data), Count: len(entries), At: at}
	if err := e.upload(ctx, res.Path, data, "application/x-ndjson"); err != nil {
		return Result{}, err
	}
	e.logger.InfoContext(ctx, "snapshot: audit exported",
		slog.String("path", res.Path),
		slog.Int("entries", res.Count),
	)
	return res, nil
}

func (e *Exporter) upload(ctx context.Context, path string, data []byte, contentType string) error {
	var err error
	if len(data) >= multipartThreshold {
		err = e.blobs.PutMultipart(ctx, path, bytes.NewReader(data), partSize)
	} else {
		err = e.blobs.Put(ctx, path, bytes.NewReader(data), contentType)
	}
	if err != nil {
		return fmt.Errorf("snapshot: upload %s: %w", path, err)
	}
	return nil
}

// objectPath partitions objects by UTC day:
//
//	snapshots/2026-01-02/<uuid>.json
func objectPath(prefix string, at time.Time, id, ext string) string {
	return fmt.Sprintf("%s%s/%s.%s", prefix, at.Format(time.DateOnly), id, ext)
}

// collect pages through a list call until a short page comes back.
func collect[T any](ctx context.Context, list func(domain.ListOpts) ([]T, error)) ([]T, error) {
	out := []T{}
	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := list(domain.ListOpts{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
	}
}

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
