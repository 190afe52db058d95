package repository

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-auth-gate"
)

// AuditEntries persists audit records to the access_audit table.
type AuditEntries struct {
	db bun.IDB
}

var _ auth.AuditSink = (*AuditEntries)(nil)

// NewAuditEntries returns an audit sink over db.
func NewAuditEntries(db bun.IDB) *AuditEntries {
	return &AuditEntries{db: db}
}

func (r *AuditEntries) Append(ctx context.Context, record auth.AuditRecord) error {
	entry := &auth.AuditEntry{
		ID:         record.ID,
		Action:     string(record.Action),
		SubjectID:  record.SubjectID,
		Role:       record.Role,
		Route:      record.Route,
		Metadata:   record.Metadata,
		OccurredAt: record.OccurredAt,
	}
	if outcome, ok := record.Metadata["outcome"].(string); ok {
		entry.Outcome = outcome
	}

	if _, err := r.db.NewInsert().Model(entry).Exec(ctx); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListBySubject returns the newest entries for subjectID first.
func (r *AuditEntries) ListBySubject(ctx context.Context, subjectID string, limit int) ([]auth.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []auth.AuditEntry
	err := r.db.NewSelect().
		Model(&entries).
		Where("?TableAlias.subject_id = ?", subjectID).
		OrderExpr("?TableAlias.occurred_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	return entries, nil
}
