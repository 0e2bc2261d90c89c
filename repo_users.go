package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ResetUserPasswordSQL stores a new password hash. Completing a reset proves
// control of the email address so it is flagged as verified.
var ResetUserPasswordSQL = `UPDATE "users" AS "usr"
SET
	"is_email_verified" = TRUE,
	"password_hash" = ?,
	"updated_at" = ?
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
);`

type users struct {
	repository.Repository[*User]
	db bun.IDB
}

var _ UserStore = (*users)(nil)

func NewUsersRepository(db *bun.DB) repository.Repository[*User] {
	return repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})
}

func newUsers(repo repository.Repository[*User], db bun.IDB) *users {
	return &users{Repository: repo, db: db}
}

func (a *users) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.getBy(ctx, "id", id)
}

func (a *users) GetByUsername(ctx context.Context, username string) (*User, error) {
	return a.getBy(ctx, "username", NormalizeIdentifier(username))
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return a.getBy(ctx, "email", NormalizeIdentifier(email))
}

func (a *users) GetByIdentifier(ctx context.Context, identifier string) (*User, error) {
	identifier = NormalizeIdentifier(identifier)

	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.email = ?", identifier).
				WhereOr("?TableAlias.username = ?", identifier)
		}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, recordNotFound("user not found", map[string]any{
				"identifier": identifier,
			})
		}
		return nil, err
	}
	return record, nil
}

func (a *users) getBy(ctx context.Context, column string, value any) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where(fmt.Sprintf("?TableAlias.%s = ?", column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, recordNotFound("user not found", map[string]any{
					column: fmt.Sprint(value),
				})
		}
		return nil, err
	}
	return record, nil
}

func (a *users) Create(ctx context.Context, record *User) (*User, error) {
	prepareUserDefaults(record)
	created, err := a.Repository.CreateTx(ctx, a.db, record)
	if err != nil {
		return nil, mapStoreErr(err, "failed to create user")
	}
	return created, nil
}

func (a *users) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	res, err := a.db.NewRaw(ResetUserPasswordSQL, hash, time.Now().UTC(), id).Exec(ctx)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return recordNotFound("user not found", map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	record.Username = NormalizeIdentifier(record.Username)
	record.Email = NormalizeIdentifier(record.Email)

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}
