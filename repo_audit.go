package auth

import (
	"context"

	"github.com/uptrace/bun"
)

type auditLog struct {
	db bun.IDB
}

var _ AuditStore = (*auditLog)(nil)

func (r *auditLog) Append(ctx context.Context, entry *AuditEntry) error {
	_, err := r.db.NewInsert().Model(entry).Exec(ctx)
	return err
}

// ListAudit returns the most recent audit entries, newest first. An empty
// principalID lists entries for every principal.
func ListAudit(ctx context.Context, db bun.IDB, principalID string, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	records := []*AuditEntry{}
	q := db.NewSelect().
		Model(&records).
		Order("occurred_at DESC", "id DESC").
		Limit(limit)
	if principalID != "" {
		q = q.Where("?TableAlias.principal_id = ?", principalID)
	}

	if err := q.Scan(ctx); err != nil && !isRecordNotFound(err) {
		return nil, err
	}
	return records, nil
}
