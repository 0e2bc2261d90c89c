package auth

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func newMockDB(t *testing.T) (*bun.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)

	db := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func TestSessionsDeleteExpired(t *testing.T) {
	db, mock := newMockDB(t)
	store := &sessions{db: db}

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "sessions"`)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.DeleteExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSessionsGetNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	store := &sessions{db: db}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "sessions"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "expires_at"}))

	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, isRecordNotFound(err))
}

func TestUsersGetByEmailNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	store := newUsers(NewUsersRepository(db), db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "users"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email"}))

	_, err := store.GetByEmail(context.Background(), "Ghost@Example.org")
	require.Error(t, err)
	assert.True(t, repository.IsRecordNotFound(err))
	assert.True(t, isRecordNotFound(err))

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.CategoryNotFound, richErr.Category)
	assert.Equal(t, "ghost@example.org", richErr.Metadata["email"])
}

func TestUsersGetByIdentifierIsOneQuery(t *testing.T) {
	db, mock := newMockDB(t)
	store := newUsers(NewUsersRepository(db), db)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`"usr"."email" = 'jdoe' OR "usr"."username" = 'jdoe'`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email"}).
			AddRow(id.String(), "jdoe", "jdoe@example.org"))

	user, err := store.GetByIdentifier(context.Background(), " JDoe ")
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
}

func TestVerificationsDeleteReportsRemoval(t *testing.T) {
	tests := []struct {
		name string
		rows int64
		want bool
	}{
		{name: "removed", rows: 1, want: true},
		{name: "already consumed", rows: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			store := &verifications{db: db}

			mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "verifications"`)).
				WillReturnResult(sqlmock.NewResult(0, tt.rows))

			deleted, err := store.Delete(context.Background(), "v1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, deleted)
		})
	}
}

func TestAuditStoreFailureIsReported(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "audit_log"`)).
		WillReturnError(errors.New("connection refused"))

	err := NewAuditLog(&auditLog{db: db}).
		WithLogger(nopTestLogger{}).
		Record(context.Background(), uuid.New(), AuditLogout, EntitySession, nil)
	require.Error(t, err)
	assert.True(t, IsAuditWriteFailure(err))
}

func TestIssueSessionMapsUniqueViolation(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "sessions"`)).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, Message: "duplicate key"})

	opts := DefaultOptions()
	opts.SigningKey = "test-signing-key-0123456789abcdef"

	_, err := NewSessionManager(NewRepositoryManager(db), opts).
		IssueSession(context.Background(), uuid.New(), false)
	require.Error(t, err)
	assert.True(t, IsStorageConflict(err))
}

func TestRunInTxRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repos := NewRepositoryManager(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "sessions"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := repos.RunInTx(context.Background(), func(ctx context.Context, tx Repositories) error {
		if err := tx.Sessions().Delete(ctx, "s1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

type nopTestLogger struct{}

func (nopTestLogger) Debug(string, ...any) {}
func (nopTestLogger) Info(string, ...any)  {}
func (nopTestLogger) Error(string, ...any) {}
