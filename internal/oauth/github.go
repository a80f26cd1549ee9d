package oauth

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/prperemyshlev/eduportal-auth/internal/domain"
	"golang.org/x/oauth2/endpoints"
)

const (
	ProviderGitHub = "github"

	githubAPIBaseURL = "https://api.github.com"
)

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// NewGitHubProvider creates a GitHub sign-in provider requesting read:user
// and user:email
func NewGitHubProvider(creds Credentials, opts ...Option) Provider {
	return newProvider(ProviderGitHub, creds, endpoints.GitHub,
		[]string{"read:user", "user:email"}, githubAPIBaseURL, fetchGitHubProfile, opts...)
}

func fetchGitHubProfile(ctx context.Context, client *http.Client, baseURL string) (domain.OAuthProfile, error) {
	var user githubUser
	if err := getJSON(ctx, client, baseURL+"/user", &user); err != nil {
		return domain.OAuthProfile{}, err
	}
	if user.ID == 0 {
		return domain.OAuthProfile{}, errors.New("user has no id")
	}

	// the public profile email may be empty or unverified; only the primary
	// verified address is trusted
	var emails []githubEmail
	if err := getJSON(ctx, client, baseURL+"/user/emails", &emails); err != nil {
		return domain.OAuthProfile{}, err
	}

	profile := domain.OAuthProfile{ID: strconv.FormatInt(user.ID, 10), Name: user.Name}
	if profile.Name == "" {
		profile.Name = user.Login
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			profile.Email = e.Email
			break
		}
	}
	return profile, nil
}
