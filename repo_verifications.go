package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"
)

type verifications struct {
	db bun.IDB
}

var _ VerificationStore = (*verifications)(nil)

func (r *verifications) Create(ctx context.Context, v *Verification) error {
	_, err := r.db.NewInsert().Model(v).Exec(ctx)
	return err
}

func (r *verifications) Get(ctx context.Context, id string) (*Verification, error) {
	record := &Verification{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, recordNotFound("verification not found", map[string]any{"id": id})
		}
		return nil, err
	}
	return record, nil
}

// Delete reports whether this call removed the row, which is what makes a
// verification single use under concurrent consumers.
func (r *verifications) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.NewDelete().
		Model((*Verification)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	n, err := affected(res, err)
	return n > 0, err
}

func (r *verifications) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.NewDelete().
		Model((*Verification)(nil)).
		Where("expires_at <= ?", now).
		Exec(ctx)
	return affected(res, err)
}

func affected(res sql.Result, err error) (int, error) {
	if err != nil {
		return 0, err
	}
	if res == nil {
		return 0, nil
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
