package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type connections struct {
	db bun.IDB
}

var _ ConnectionStore = (*connections)(nil)

func (r *connections) FindByProvider(ctx context.Context, provider, profileID string) (*Connection, error) {
	record := &Connection{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider_name = ?", provider).
		Where("?TableAlias.provider_profile_id = ?", profileID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, recordNotFound("connection not found", map[string]any{
					"provider":   provider,
					"profile_id": profileID,
				})
		}
		return nil, err
	}
	return record, nil
}

// Create inserts the connection. A second link of the same provider
// identity fails with ErrStorageConflict.
func (r *connections) Create(ctx context.Context, conn *Connection) (*Connection, error) {
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}

	if _, err := r.db.NewInsert().Model(conn).Exec(ctx); err != nil {
		return nil, mapStoreErr(err, "failed to create connection")
	}
	return conn, nil
}

func (r *connections) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Connection, error) {
	records := []*Connection{}
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		Order("provider_name ASC").
		Scan(ctx)
	if err != nil && !isRecordNotFound(err) {
		return nil, err
	}
	return records, nil
}
