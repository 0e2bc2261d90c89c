package auth

import (
	"context"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager is the bun backed Repositories implementation
type RepositoryManager struct {
	db       *bun.DB
	idb      bun.IDB
	inTx     bool
	userRepo repository.Repository[*User]

	users         *users
	connections   *connections
	roles         *roles
	sessions      *sessions
	verifications *verifications
	audit         *auditLog
}

var _ Repositories = (*RepositoryManager)(nil)

func NewRepositoryManager(db *bun.DB) *RepositoryManager {
	return bindRepositories(db, db, NewUsersRepository(db), false)
}

func bindRepositories(db *bun.DB, idb bun.IDB, userRepo repository.Repository[*User], inTx bool) *RepositoryManager {
	return &RepositoryManager{
		db:            db,
		idb:           idb,
		inTx:          inTx,
		userRepo:      userRepo,
		users:         newUsers(userRepo, idb),
		connections:   &connections{db: idb},
		roles:         &roles{db: idb},
		sessions:      &sessions{db: idb},
		verifications: &verifications{db: idb},
		audit:         &auditLog{db: idb},
	}
}

func (m *RepositoryManager) Validate() error {
	if m.db == nil {
		return errors.New("repository manager requires a database")
	}

	if m.userRepo == nil {
		return errors.New("repository users should be initialized")
	}

	return nil
}

func (m *RepositoryManager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

// RunInTx runs fn in a database transaction. Calls made from inside a
// transaction join it instead of opening a new one.
func (m *RepositoryManager) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error {
	if m.inTx {
		return fn(ctx, m)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return m.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, bindRepositories(m.db, tx, m.userRepo, true))
	})
}

// DB returns the handle the stores are bound to
func (m *RepositoryManager) DB() bun.IDB { return m.idb }

func (m *RepositoryManager) Users() UserStore                 { return m.users }
func (m *RepositoryManager) Connections() ConnectionStore     { return m.connections }
func (m *RepositoryManager) Roles() RoleStore                 { return m.roles }
func (m *RepositoryManager) Sessions() SessionStore           { return m.sessions }
func (m *RepositoryManager) Verifications() VerificationStore { return m.verifications }
func (m *RepositoryManager) Audit() AuditStore                { return m.audit }
