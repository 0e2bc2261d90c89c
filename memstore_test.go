package auth_test

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/google/uuid"
)

// memRepos is an in memory auth.Repositories. RunInTx works on a copy of
// the state that replaces the committed state only when fn succeeds.
type memRepos struct {
	root  *memRepos
	mu    *sync.Mutex
	state *memState
	inTx  bool

	// failure knobs, read from root
	auditErr         error
	onConnectionSave func(conn auth.Connection) error
}

type memState struct {
	users         map[uuid.UUID]auth.User
	connections   map[uuid.UUID]auth.Connection
	userRoles     map[uuid.UUID][]string
	permissions   map[string][]auth.Permission
	sessions      map[string]auth.Session
	verifications map[string]auth.Verification
	audit         []auth.AuditEntry
}

func newMemRepos() *memRepos {
	r := &memRepos{
		mu: &sync.Mutex{},
		state: &memState{
			users:         map[uuid.UUID]auth.User{},
			connections:   map[uuid.UUID]auth.Connection{},
			userRoles:     map[uuid.UUID][]string{},
			permissions:   map[string][]auth.Permission{},
			sessions:      map[string]auth.Session{},
			verifications: map[string]auth.Verification{},
		},
	}
	r.root = r
	return r
}

func (s *memState) clone() *memState {
	out := &memState{
		users:         make(map[uuid.UUID]auth.User, len(s.users)),
		connections:   make(map[uuid.UUID]auth.Connection, len(s.connections)),
		userRoles:     make(map[uuid.UUID][]string, len(s.userRoles)),
		permissions:   make(map[string][]auth.Permission, len(s.permissions)),
		sessions:      make(map[string]auth.Session, len(s.sessions)),
		verifications: make(map[string]auth.Verification, len(s.verifications)),
		audit:         append([]auth.AuditEntry(nil), s.audit...),
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.connections {
		out.connections[k] = v
	}
	for k, v := range s.userRoles {
		out.userRoles[k] = append([]string(nil), v...)
	}
	for k, v := range s.permissions {
		out.permissions[k] = append([]auth.Permission(nil), v...)
	}
	for k, v := range s.sessions {
		out.sessions[k] = v
	}
	for k, v := range s.verifications {
		out.verifications[k] = v
	}
	return out
}

func (r *memRepos) RunInTx(ctx context.Context, fn func(ctx context.Context, tx auth.Repositories) error) error {
	if r.inTx {
		return fn(ctx, r)
	}

	r.mu.Lock()
	snapshot := r.state.clone()
	r.mu.Unlock()

	tx := &memRepos{root: r.root, mu: &sync.Mutex{}, state: snapshot, inTx: true}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	r.mu.Lock()
	r.state = snapshot
	r.mu.Unlock()
	return nil
}

func (r *memRepos) Users() auth.UserStore                 { return memUsers{r} }
func (r *memRepos) Connections() auth.ConnectionStore     { return memConnections{r} }
func (r *memRepos) Roles() auth.RoleStore                 { return memRoles{r} }
func (r *memRepos) Sessions() auth.SessionStore           { return memSessions{r} }
func (r *memRepos) Verifications() auth.VerificationStore { return memVerifications{r} }
func (r *memRepos) Audit() auth.AuditStore                { return memAudit{r} }

func notFound() error {
	return auth.ErrNotFound.Clone()
}

func conflict() error {
	return auth.ErrStorageConflict.Clone()
}

// seed helpers write straight into the committed state

func (r *memRepos) seedUser(t interface{ Helper() }, username, email, password string, roles ...string) *auth.User {
	t.Helper()
	u := auth.User{
		ID:             uuid.New(),
		Username:       username,
		Email:          email,
		Name:           username,
		EmailValidated: true,
	}
	if password != "" {
		hash, err := auth.HashPasswordWithCost(password, testCost)
		if err != nil {
			panic(err)
		}
		u.PasswordHash = hash
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.users[u.ID] = u
	if len(roles) > 0 {
		r.state.userRoles[u.ID] = roles
	}
	return &u
}

func (r *memRepos) seedConnection(userID uuid.UUID, provider, profileID string) auth.Connection {
	c := auth.Connection{ID: uuid.New(), UserID: userID, ProviderName: provider, ProviderProfileID: profileID}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.connections[c.ID] = c
	return c
}

func (r *memRepos) seedPermission(p auth.Permission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.permissions[p.RoleName] = append(r.state.permissions[p.RoleName], p)
}

func (r *memRepos) connectionsFor(provider, profileID string) []auth.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []auth.Connection{}
	for _, c := range r.state.connections {
		if c.ProviderName == provider && c.ProviderProfileID == profileID {
			out = append(out, c)
		}
	}
	return out
}

func (r *memRepos) userByUsername(username string) (auth.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.state.users {
		if u.Username == username {
			return u, true
		}
	}
	return auth.User{}, false
}

func (r *memRepos) auditActions() []auth.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.AuditAction, 0, len(r.state.audit))
	for _, e := range r.state.audit {
		out = append(out, e.Action)
	}
	return out
}

func (r *memRepos) sessionCount(userID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.state.sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

func (r *memRepos) verificationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.verifications)
}

type memUsers struct{ r *memRepos }

func (m memUsers) find(match func(auth.User) bool) (*auth.User, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	for _, u := range m.r.state.users {
		if match(u) {
			out := u
			return &out, nil
		}
	}
	return nil, notFound()
}

func (m memUsers) GetByID(_ context.Context, id uuid.UUID) (*auth.User, error) {
	return m.find(func(u auth.User) bool { return u.ID == id })
}

func (m memUsers) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	username = auth.NormalizeIdentifier(username)
	return m.find(func(u auth.User) bool { return u.Username == username })
}

func (m memUsers) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	email = auth.NormalizeIdentifier(email)
	return m.find(func(u auth.User) bool { return u.Email == email })
}

func (m memUsers) GetByIdentifier(_ context.Context, identifier string) (*auth.User, error) {
	identifier = auth.NormalizeIdentifier(identifier)
	return m.find(func(u auth.User) bool { return u.Email == identifier || u.Username == identifier })
}

func (m memUsers) Create(_ context.Context, user *auth.User) (*auth.User, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()

	user.Username = auth.NormalizeIdentifier(user.Username)
	user.Email = auth.NormalizeIdentifier(user.Email)
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	for _, u := range m.r.state.users {
		if u.ID == user.ID || u.Username == user.Username || u.Email == user.Email {
			return nil, conflict()
		}
	}

	m.r.state.users[user.ID] = *user
	out := *user
	return &out, nil
}

func (m memUsers) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	u, ok := m.r.state.users[id]
	if !ok {
		return notFound()
	}
	u.PasswordHash = hash
	u.EmailValidated = true
	m.r.state.users[id] = u
	return nil
}

type memConnections struct{ r *memRepos }

func (m memConnections) FindByProvider(_ context.Context, provider, profileID string) (*auth.Connection, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	for _, c := range m.r.state.connections {
		if c.ProviderName == provider && c.ProviderProfileID == profileID {
			out := c
			return &out, nil
		}
	}
	return nil, notFound()
}

func (m memConnections) Create(_ context.Context, conn *auth.Connection) (*auth.Connection, error) {
	if hook := m.r.root.onConnectionSave; hook != nil {
		if err := hook(*conn); err != nil {
			return nil, err
		}
	}

	m.r.mu.Lock()
	defer m.r.mu.Unlock()

	for _, c := range m.r.state.connections {
		if c.ProviderName == conn.ProviderName && c.ProviderProfileID == conn.ProviderProfileID {
			return nil, conflict()
		}
	}
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	m.r.state.connections[conn.ID] = *conn
	out := *conn
	return &out, nil
}

func (m memConnections) ListByUser(_ context.Context, userID uuid.UUID) ([]*auth.Connection, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	out := []*auth.Connection{}
	for _, c := range m.r.state.connections {
		if c.UserID == userID {
			conn := c
			out = append(out, &conn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderName < out[j].ProviderName })
	return out, nil
}

type memRoles struct{ r *memRepos }

func (m memRoles) RolesForUser(_ context.Context, userID uuid.UUID) ([]*auth.Role, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	out := []*auth.Role{}
	for _, name := range m.r.state.userRoles[userID] {
		role := &auth.Role{Name: name}
		for _, p := range m.r.state.permissions[name] {
			perm := p
			role.Permissions = append(role.Permissions, &perm)
		}
		out = append(out, role)
	}
	return out, nil
}

func (m memRoles) Grant(_ context.Context, userID uuid.UUID, roles ...string) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	existing := strings.Join(m.r.state.userRoles[userID], ",")
	for _, role := range roles {
		if !strings.Contains(","+existing+",", ","+role+",") {
			m.r.state.userRoles[userID] = append(m.r.state.userRoles[userID], role)
		}
	}
	return nil
}

func (m memRoles) AddPermission(_ context.Context, perm *auth.Permission) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	m.r.state.permissions[perm.RoleName] = append(m.r.state.permissions[perm.RoleName], *perm)
	return nil
}

type memSessions struct{ r *memRepos }

func (m memSessions) Create(_ context.Context, s *auth.Session) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	if _, ok := m.r.state.sessions[s.ID]; ok {
		return conflict()
	}
	m.r.state.sessions[s.ID] = *s
	return nil
}

func (m memSessions) Get(_ context.Context, id string) (*auth.Session, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	s, ok := m.r.state.sessions[id]
	if !ok {
		return nil, notFound()
	}
	return &s, nil
}

func (m memSessions) Delete(_ context.Context, id string) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	delete(m.r.state.sessions, id)
	return nil
}

func (m memSessions) DeleteByUser(_ context.Context, userID uuid.UUID) (int, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	n := 0
	for id, s := range m.r.state.sessions {
		if s.UserID == userID {
			delete(m.r.state.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m memSessions) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	n := 0
	for id, s := range m.r.state.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(m.r.state.sessions, id)
			n++
		}
	}
	return n, nil
}

type memVerifications struct{ r *memRepos }

func (m memVerifications) Create(_ context.Context, v *auth.Verification) error {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	m.r.state.verifications[v.ID] = *v
	return nil
}

func (m memVerifications) Get(_ context.Context, id string) (*auth.Verification, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	v, ok := m.r.state.verifications[id]
	if !ok {
		return nil, notFound()
	}
	return &v, nil
}

func (m memVerifications) Delete(_ context.Context, id string) (bool, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	if _, ok := m.r.state.verifications[id]; !ok {
		return false, nil
	}
	delete(m.r.state.verifications, id)
	return true, nil
}

func (m memVerifications) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	n := 0
	for id, v := range m.r.state.verifications {
		if !now.Before(v.ExpiresAt) {
			delete(m.r.state.verifications, id)
			n++
		}
	}
	return n, nil
}

type memAudit struct{ r *memRepos }

func (m memAudit) Append(_ context.Context, entry *auth.AuditEntry) error {
	if err := m.r.root.auditErr; err != nil {
		return err
	}
	m.r.mu.Lock()
	defer m.r.mu.Unlock()
	m.r.state.audit = append(m.r.state.audit, *entry)
	return nil
}
