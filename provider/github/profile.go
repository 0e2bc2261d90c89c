package github

import (
	"strconv"

	auth "github.com/goliatone/go-portal-auth"
)

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// primaryEmail prefers the primary address, then any verified one
func primaryEmail(emails []githubEmail) (githubEmail, bool) {
	for _, e := range emails {
		if e.Primary {
			return e, true
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e, true
		}
	}
	return githubEmail{}, false
}

func mapProfile(user *githubUser, email string, emailVerified bool) *auth.Profile {
	name := user.Name
	if name == "" {
		name = user.Login
	}

	return &auth.Profile{
		ProviderID:    strconv.FormatInt(user.ID, 10),
		Email:         email,
		EmailVerified: emailVerified,
		Username:      user.Login,
		Name:          name,
	}
}
