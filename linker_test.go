package auth_test

import (
	"context"
	"errors"
	"testing"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkerRules(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(env *testEnv) auth.LinkRequest
		want  auth.LinkOutcome
		check func(t *testing.T, env *testEnv, req auth.LinkRequest, res *auth.LinkResult)
	}{
		{
			name: "already linked to the session principal",
			setup: func(env *testEnv) auth.LinkRequest {
				u := env.repos.seedUser(t, "owner", "owner@example.org", "")
				env.repos.seedConnection(u.ID, "github", "p1")
				return auth.LinkRequest{Provider: "github", Profile: auth.Profile{ProviderID: "p1"}, SessionUserID: u.ID}
			},
			want: auth.LinkAlreadyLinkedSelf,
			check: func(t *testing.T, env *testEnv, req auth.LinkRequest, res *auth.LinkResult) {
				assert.Nil(t, res.Session)
				assert.Len(t, env.repos.connectionsFor("github", "p1"), 1)
				assert.Empty(t, env.repos.auditActions())
			},
		},
		{
			name: "already linked to another principal",
			setup: func(env *testEnv) auth.LinkRequest {
				owner := env.repos.seedUser(t, "owner", "owner@example.org", "")
				other := env.repos.seedUser(t, "other", "other@example.org", "")
				env.repos.seedConnection(owner.ID, "github", "p1")
				return auth.LinkRequest{Provider: "github", Profile: auth.Profile{ProviderID: "p1"}, SessionUserID: other.ID}
			},
			want: auth.LinkAlreadyLinkedOther,
			check: func(t *testing.T, env *testEnv, req auth.LinkRequest, res *auth.LinkResult) {
				conns := env.repos.connectionsFor("github", "p1")
				require.Len(t, conns, 1)
				assert.NotEqual(t, req.SessionUserID, conns[0].UserID)
				assert.Nil(t, res.Session)
			},
		},
		{
			name: "links a new identity to the session principal",
			setup: func(env *testEnv) auth.LinkRequest {
				u := env.repos.seedUser(t, "owner", "owner@example.org", "")
				return auth.LinkRequest{Provider: "GitHub", Profile: auth.Profile{ProviderID: "p1"}, SessionUserID: u.ID}
			},
			want: auth.LinkLinked,
			check: func(t *testing.T, env *testEnv, req auth.LinkRequest, res *auth.LinkResult) {
				conns := env.repos.connectionsFor("github", "p1")
				require.Len(t, conns, 1)
				assert.Equal(t, req.SessionUserID, conns[0].UserID)
				assert.Nil(t, res.Session)
				assert.Equal(t, []auth.AuditAction{auth.AuditConnectionCreated}, env.repos.auditActions())
			},
		},
		{
			name: "resumes an anonymous callback for a linked identity",
			setup: func(env *testEnv) auth.LinkRequest {
				u := env.repos.seedUser(t, "owner", "owner@example.org", "")
				env.repos.seedConnection(u.ID, "github", "p1")
				return auth.LinkRequest{Provider: "github", Profile: auth.Profile{ProviderID: "p1"}, Remember: true}
			},
			want: auth.LinkResumed,
			check: func(t *testing.T, env *testEnv, req auth.LinkRequest, res *auth.LinkResult) {
				require.NotNil(t, res.Session)
				assert.Equal(t, res.UserID, res.Session.UserID)
				assert.True(t, res.Session.Persistent)
				assert.Equal(t, 1, env.repos.sessionCount(res.UserID))
				assert.Equal(t, []auth.AuditAction{auth.AuditProviderLogin}, env.repos.auditActions())
			},
		},
		{
			name: "matches a verified email to an existing principal",
			setup: func(env *testEnv) auth.LinkRequest {
				env.repos.seedUser(t, "jdoe", "jdoe@example.org", "")
				return auth.LinkRequest{Provider: "github", Profile: auth.Profile{
					ProviderID:    "p1",
					Email:         "JDoe@Example.org",
					EmailVerified: true,
					Username:      "J Doe!!",
				}}
			},
			want: auth.LinkMatchedByEmail,
			check: func(t *testing.T, env *testEnv, req auth.LinkRequest, res *auth.LinkResult) {
				owner, ok := env.repos.userByUsername("jdoe")
				require.True(t, ok)

				conns := env.repos.connectionsFor("github", "p1")
				require.Len(t, conns, 1)
				assert.Equal(t, owner.ID, conns[0].UserID)

				require.NotNil(t, res.Session)
				assert.Equal(t, owner.ID, res.Session.UserID)
				assert.Zero(t, env.repos.verificationCount())
			},
		},
		{
			name: "unverified email needs onboarding",
			setup: func(env *testEnv) auth.LinkRequest {
				env.repos.seedUser(t, "jdoe", "jdoe@example.org", "")
				return auth.LinkRequest{Provider: "github", Profile: auth.Profile{
					ProviderID: "p1",
					Email:      "jdoe@example.org",
					Username:   "jdoe",
				}}
			},
			want: auth.LinkNeedsOnboarding,
			check: func(t *testing.T, env *testEnv, req auth.LinkRequest, res *auth.LinkResult) {
				assert.Empty(t, env.repos.connectionsFor("github", "p1"))
				assert.Nil(t, res.Session)
				require.NotNil(t, res.Verification)
			},
		},
		{
			name: "no matching principal needs onboarding",
			setup: func(env *testEnv) auth.LinkRequest {
				return auth.LinkRequest{Provider: "github", Profile: auth.Profile{
					ProviderID:    "p1",
					Email:         "jdoe@example.org",
					EmailVerified: true,
					Username:      "J Doe!!",
					Name:          "Jane Doe",
				}}
			},
			want: auth.LinkNeedsOnboarding,
			check: func(t *testing.T, env *testEnv, req auth.LinkRequest, res *auth.LinkResult) {
				require.NotNil(t, res.Verification)
				assert.Equal(t, auth.PurposeOnboarding, res.Verification.Purpose)
				assert.Equal(t, "jdoe@example.org", res.Verification.Data.Email)
				assert.Equal(t, "j_doe__", res.Verification.Data.Username)
				assert.Equal(t, "j_doe__", res.SuggestedUsername)
				assert.Equal(t, "p1", res.Verification.Data.ProviderProfileID)
				assert.Equal(t, 1, env.repos.verificationCount())
				assert.Empty(t, env.repos.connectionsFor("github", "p1"))
				_, ok := env.repos.userByUsername("j_doe__")
				assert.False(t, ok)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			req := tt.setup(env)

			res, err := env.svc.Linker.Link(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)

			if tt.check != nil {
				tt.check(t, env, req, res)
			}
		})
	}
}

func TestLinkerUntrustedProviderEmail(t *testing.T) {
	env := newTestEnv(t, func(o *auth.Options) {
		o.TrustProviderEmail = false
	})
	env.repos.seedUser(t, "jdoe", "jdoe@example.org", "")

	res, err := env.svc.Linker.Link(context.Background(), auth.LinkRequest{
		Provider: "github",
		Profile:  auth.Profile{ProviderID: "p1", Email: "jdoe@example.org", EmailVerified: true},
	})
	require.NoError(t, err)
	assert.Equal(t, auth.LinkNeedsOnboarding, res.Outcome)
	assert.Empty(t, env.repos.connectionsFor("github", "p1"))
}

func TestLinkerReplayIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	u := env.repos.seedUser(t, "owner", "owner@example.org", "")

	req := auth.LinkRequest{Provider: "github", Profile: auth.Profile{ProviderID: "p1"}, SessionUserID: u.ID}

	first, err := env.svc.Linker.Link(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, auth.LinkLinked, first.Outcome)

	for i := 0; i < 2; i++ {
		res, err := env.svc.Linker.Link(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, auth.LinkAlreadyLinkedSelf, res.Outcome)
		assert.Nil(t, res.Session)
	}

	assert.Len(t, env.repos.connectionsFor("github", "p1"), 1)
	assert.Zero(t, env.repos.sessionCount(u.ID))
}

func TestLinkerConcurrentLinkFollowsExistingConnection(t *testing.T) {
	env := newTestEnv(t)
	winner := env.repos.seedUser(t, "winner", "winner@example.org", "")
	env.repos.seedUser(t, "jdoe", "jdoe@example.org", "")

	raced := false
	env.repos.onConnectionSave = func(conn auth.Connection) error {
		if raced {
			return nil
		}
		raced = true
		// another callback for the same identity commits first
		env.repos.seedConnection(winner.ID, conn.ProviderName, conn.ProviderProfileID)
		return auth.ErrStorageConflict.Clone()
	}

	res, err := env.svc.Linker.Link(context.Background(), auth.LinkRequest{
		Provider: "github",
		Profile:  auth.Profile{ProviderID: "p1", Email: "jdoe@example.org", EmailVerified: true},
	})
	require.NoError(t, err)

	assert.Equal(t, auth.LinkResumed, res.Outcome)
	assert.Equal(t, winner.ID, res.UserID)
	require.NotNil(t, res.Session)

	conns := env.repos.connectionsFor("github", "p1")
	require.Len(t, conns, 1)
	assert.Equal(t, winner.ID, conns[0].UserID)
}

func TestLinkerAuditFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	u := env.repos.seedUser(t, "owner", "owner@example.org", "")
	env.repos.auditErr = errors.New("disk full")

	_, err := env.svc.Linker.Link(context.Background(), auth.LinkRequest{
		Provider:      "github",
		Profile:       auth.Profile{ProviderID: "p1"},
		SessionUserID: u.ID,
	})
	require.Error(t, err)
	assert.True(t, auth.IsAuditWriteFailure(err))
	assert.Empty(t, env.repos.connectionsFor("github", "p1"))
}

func TestLinkerRequiresProfileID(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Linker.Link(context.Background(), auth.LinkRequest{Provider: "github"})
	assert.Error(t, err)
}

func TestCompleteOnboarding(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	link, err := env.svc.Linker.Link(ctx, auth.LinkRequest{
		Provider: "github",
		Profile:  auth.Profile{ProviderID: "p1", Email: "new@example.org", EmailVerified: true, Username: "newbie"},
	})
	require.NoError(t, err)
	require.Equal(t, auth.LinkNeedsOnboarding, link.Outcome)

	res, err := env.svc.Linker.CompleteOnboarding(ctx, auth.OnboardingRequest{
		VerificationID: link.Verification.ID,
		Username:       "newbie",
		Name:           "New Bie",
	}, testCost)
	require.NoError(t, err)

	assert.Equal(t, "newbie", res.User.Username)
	assert.Equal(t, "new@example.org", res.User.Email)
	assert.True(t, res.User.EmailValidated)
	assert.False(t, res.User.HasPassword())
	assert.NotEqual(t, uuid.Nil, res.User.ID)
	assert.Equal(t, res.User.ID, res.Connection.UserID)
	assert.Equal(t, res.User.ID, res.Session.UserID)
	assert.Zero(t, env.repos.verificationCount())

	// the verification is single use
	_, err = env.svc.Linker.CompleteOnboarding(ctx, auth.OnboardingRequest{
		VerificationID: link.Verification.ID,
		Username:       "newbie2",
		Name:           "New Bie",
	}, testCost)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeVerificationNotFound))
}

func TestCompleteOnboardingRollsBackOnConflict(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.repos.seedUser(t, "taken", "taken@example.org", "")

	link, err := env.svc.Linker.Link(ctx, auth.LinkRequest{
		Provider: "github",
		Profile:  auth.Profile{ProviderID: "p1", Email: "new@example.org", Username: "taken"},
	})
	require.NoError(t, err)

	_, err = env.svc.Linker.CompleteOnboarding(ctx, auth.OnboardingRequest{
		VerificationID: link.Verification.ID,
		Username:       "taken",
		Name:           "Someone",
	}, testCost)
	require.Error(t, err)
	assert.True(t, auth.IsStorageConflict(err))

	// verification survives the rolled back attempt
	assert.Equal(t, 1, env.repos.verificationCount())
	assert.Empty(t, env.repos.connectionsFor("github", "p1"))
}

func TestCompleteOnboardingEmailsDifferingInPunctuation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	onboard := func(profileID, email, username string) *auth.OnboardingResult {
		t.Helper()
		link, err := env.svc.Linker.Link(ctx, auth.LinkRequest{
			Provider: "github",
			Profile:  auth.Profile{ProviderID: profileID, Email: email, EmailVerified: true},
		})
		require.NoError(t, err)
		require.Equal(t, auth.LinkNeedsOnboarding, link.Outcome)

		res, err := env.svc.Linker.CompleteOnboarding(ctx, auth.OnboardingRequest{
			VerificationID: link.Verification.ID,
			Username:       username,
			Name:           username,
		}, testCost)
		require.NoError(t, err, email)
		return res
	}

	first := onboard("p1", "jdoe@example.org", "jdoe")
	second := onboard("p2", "j.doe@example.org", "jane")
	third := onboard("p3", "j_doe@example.org", "jdoe_2")

	assert.NotEqual(t, first.User.ID, second.User.ID)
	assert.NotEqual(t, first.User.ID, third.User.ID)
	assert.NotEqual(t, second.User.ID, third.User.ID)
	assert.Equal(t, "j.doe@example.org", second.User.Email)
}
