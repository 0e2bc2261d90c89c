package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type sessions struct {
	db bun.IDB
}

var _ SessionStore = (*sessions)(nil)

func (r *sessions) Create(ctx context.Context, session *Session) error {
	_, err := r.db.NewInsert().Model(session).Exec(ctx)
	return err
}

func (r *sessions) Get(ctx context.Context, id string) (*Session, error) {
	record := &Session{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, recordNotFound("session not found", map[string]any{"id": id})
		}
		return nil, err
	}
	return record, nil
}

func (r *sessions) Delete(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().
		Model((*Session)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (r *sessions) DeleteByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	res, err := r.db.NewDelete().
		Model((*Session)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	return affected(res, err)
}

func (r *sessions) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.NewDelete().
		Model((*Session)(nil)).
		Where("expires_at <= ?", now).
		Exec(ctx)
	return affected(res, err)
}
