package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/perpledger/internal/domain"
)

// AuditStore implements domain.AuditStore on SQLite.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore creates an AuditStore over an open DB.
func NewAuditStore(d *DB) *AuditStore {
	return &AuditStore{db: d.db}
}

func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(payload), time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert audit log: %w", err)
	}
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`
	var args []any
	if opts.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, opts.Since.UnixNano())
	}
	if opts.Until != nil {
		query += ` AND created_at < ?`
		args = append(args, opts.Until.UnixNano())
	}
	query += ` ORDER BY id DESC`
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit log: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e      domain.AuditEntry
			detail string
			nanos  int64
		)
		if err := rows.Scan(&e.ID, &e.Event, &detail, &nanos); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
			return nil, fmt.Errorf("sqlite: decode audit detail: %w", err)
		}
		e.CreatedAt = time.Unix(0, nanos).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ domain.AuditStore = (*AuditStore)(nil)
