package auth_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"
)

const testCost = bcrypt.MinCost

const testSigningKey = "test-signing-key-0123456789abcdef"

func testOptions() auth.Options {
	opts := auth.DefaultOptions()
	opts.SigningKey = testSigningKey
	opts.PasswordCost = testCost
	opts.SecureCookies = false
	return opts
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// MockProvider is a testify mock of auth.IdentityProvider
type MockProvider struct {
	mock.Mock
	name string
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

func (m *MockProvider) Name() string {
	return m.name
}

func (m *MockProvider) AuthCodeURL(state string) string {
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(state)
}

func (m *MockProvider) Exchange(ctx context.Context, artifact string) (*auth.Profile, error) {
	args := m.Called(ctx, artifact)
	profile, _ := args.Get(0).(*auth.Profile)
	return profile, args.Error(1)
}

// MockMailer is a testify mock of auth.Mailer
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, msg auth.MailMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// MockCSRF is a testify mock of auth.CSRFValidator
type MockCSRF struct {
	mock.Mock
}

func (m *MockCSRF) Validate(rc auth.RequestContext) error {
	args := m.Called(rc)
	return args.Error(0)
}

type testEnv struct {
	repos    *memRepos
	provider *MockProvider
	mailer   *MockMailer
	svc      *auth.Service
}

func newTestEnv(t *testing.T, opts ...func(*auth.Options)) *testEnv {
	t.Helper()

	cfg := testOptions()
	for _, opt := range opts {
		opt(&cfg)
	}

	env := &testEnv{
		repos:    newMemRepos(),
		provider: NewMockProvider("github"),
		mailer:   new(MockMailer),
	}

	env.svc = auth.NewService(env.repos, auth.NewProviderRegistry(env.provider), cfg).
		WithLogger(nopLogger{}).
		WithMailer(env.mailer)
	return env
}

// login issues a session for user straight through the session manager
func (e *testEnv) login(t *testing.T, user *auth.User) string {
	t.Helper()
	session, err := e.svc.Sessions.IssueSession(context.Background(), user.ID, false)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return session.Token
}

func postRC(token string, form url.Values) auth.RequestContext {
	if form == nil {
		form = url.Values{}
	}
	return auth.RequestContext{
		SessionToken: token,
		Method:       http.MethodPost,
		Path:         "/",
		Host:         "portal.example.com",
		Form:         form,
		Headers:      http.Header{},
		IP:           "203.0.113.7",
		UserAgent:    "go-test",
	}
}

func getRC(token string) auth.RequestContext {
	rc := postRC(token, nil)
	rc.Method = http.MethodGet
	return rc
}
