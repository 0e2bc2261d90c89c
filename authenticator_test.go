package auth_test

import (
	"context"
	"errors"
	"testing"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateWithPassword(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.repos.seedUser(t, "jdoe", "jdoe@example.org", "correct horse", auth.RoleAdmin)
	env.repos.seedUser(t, "oauthonly", "oauth@example.org", "")

	authenticator := env.svc.Authenticator

	t.Run("username", func(t *testing.T) {
		user, err := authenticator.AuthenticateWithPassword(ctx, "jdoe", "correct horse")
		require.NoError(t, err)
		assert.Equal(t, "jdoe", user.Username)
		assert.Equal(t, []string{auth.RoleAdmin}, user.RoleNames())
	})

	t.Run("email is case insensitive", func(t *testing.T) {
		user, err := authenticator.AuthenticateWithPassword(ctx, "  JDoe@Example.ORG ", "correct horse")
		require.NoError(t, err)
		assert.Equal(t, "jdoe", user.Username)
	})

	failures := []struct {
		name       string
		identifier string
		password   string
	}{
		{name: "unknown user", identifier: "nobody", password: "correct horse"},
		{name: "unknown email", identifier: "nobody@example.org", password: "correct horse"},
		{name: "wrong password", identifier: "jdoe", password: "wrong"},
		{name: "empty password", identifier: "jdoe", password: ""},
		{name: "empty identifier", identifier: "", password: "correct horse"},
		{name: "account without password", identifier: "oauthonly", password: ""},
		{name: "account without password and a guess", identifier: "oauthonly", password: "anything"},
	}

	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			user, err := authenticator.AuthenticateWithPassword(ctx, tt.identifier, tt.password)
			assert.Nil(t, user)
			assert.True(t, auth.IsInvalidCredentials(err), "got %v", err)
		})
	}
}

func TestAuthenticateWithPasswordRejectsMutations(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	const password = "s3cret!"
	env.repos.seedUser(t, "jdoe", "jdoe@example.org", password)

	for i := range password {
		mutated := []byte(password)
		mutated[i]++

		_, err := env.svc.Authenticator.AuthenticateWithPassword(ctx, "jdoe", string(mutated))
		assert.True(t, auth.IsInvalidCredentials(err), "mutation at %d accepted", i)
	}

	_, err := env.svc.Authenticator.AuthenticateWithPassword(ctx, "jdoe", password+"x")
	assert.True(t, auth.IsInvalidCredentials(err))

	_, err = env.svc.Authenticator.AuthenticateWithPassword(ctx, "jdoe", password[:len(password)-1])
	assert.True(t, auth.IsInvalidCredentials(err))
}

func TestAuthenticateWithProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes the profile", func(t *testing.T) {
		env := newTestEnv(t)
		env.provider.On("Exchange", mock.Anything, "code-1").
			Return(&auth.Profile{ProviderID: "p1", Email: " JDoe@Example.org "}, nil).Once()

		res := env.svc.Authenticator.AuthenticateWithProvider(ctx, "GitHub", "code-1")
		require.True(t, res.OK())
		assert.Equal(t, "github", res.Provider)
		assert.Equal(t, "jdoe@example.org", res.Profile.Email)
		env.provider.AssertExpectations(t)
	})

	t.Run("exchange failure becomes a provider error", func(t *testing.T) {
		env := newTestEnv(t)
		cause := errors.New("connection reset")
		env.provider.On("Exchange", mock.Anything, "code-1").Return(nil, cause).Once()

		res := env.svc.Authenticator.AuthenticateWithProvider(ctx, "github", "code-1")
		require.False(t, res.OK())
		require.NotNil(t, res.Err)
		assert.Equal(t, "github", res.Err.Provider)
		assert.ErrorIs(t, res.Err, cause)
		assert.NotContains(t, res.Err.Public(), "connection reset")
	})

	t.Run("unknown provider", func(t *testing.T) {
		env := newTestEnv(t)

		res := env.svc.Authenticator.AuthenticateWithProvider(ctx, "gitlab", "code-1")
		require.False(t, res.OK())
		assert.Equal(t, "lookup", res.Err.Operation)
	})

	t.Run("missing artifact never reaches the provider", func(t *testing.T) {
		env := newTestEnv(t)

		res := env.svc.Authenticator.AuthenticateWithProvider(ctx, "github", " ")
		require.False(t, res.OK())
		env.provider.AssertNotCalled(t, "Exchange", mock.Anything, mock.Anything)
	})

	t.Run("empty profile", func(t *testing.T) {
		env := newTestEnv(t)
		env.provider.On("Exchange", mock.Anything, "code-1").Return(&auth.Profile{}, nil).Once()

		res := env.svc.Authenticator.AuthenticateWithProvider(ctx, "github", "code-1")
		require.False(t, res.OK())
		assert.Equal(t, "profile", res.Err.Operation)
	})
}

func TestProviderRegistry(t *testing.T) {
	registry := auth.NewProviderRegistry(NewMockProvider("GitHub"), NewMockProvider("okta"), nil)

	assert.Equal(t, []string{"github", "okta"}, registry.Names())

	p, err := registry.Get(" OKTA ")
	require.NoError(t, err)
	assert.Equal(t, "okta", p.Name())

	_, err = registry.Get("gitlab")
	assert.True(t, auth.HasTextCode(err, auth.TextCodeProviderNotFound))
}
