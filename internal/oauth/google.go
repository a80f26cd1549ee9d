package oauth

import (
	"context"
	"errors"
	"net/http"

	"github.com/prperemyshlev/eduportal-auth/internal/domain"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	ProviderGoogle = "google"

	googleAPIBaseURL = "https://openidconnect.googleapis.com"
)

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// NewGoogleProvider creates a Google sign-in provider requesting the openid,
// email and profile scopes
func NewGoogleProvider(creds Credentials, opts ...Option) Provider {
	p := newProvider(ProviderGoogle, creds, endpoints.Google,
		[]string{"openid", "email", "profile"}, googleAPIBaseURL, fetchGoogleProfile, opts...)
	p.authOpts = []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	return p
}

func fetchGoogleProfile(ctx context.Context, client *http.Client, baseURL string) (domain.OAuthProfile, error) {
	var info googleUserInfo
	if err := getJSON(ctx, client, baseURL+"/v1/userinfo", &info); err != nil {
		return domain.OAuthProfile{}, err
	}
	if info.Sub == "" {
		return domain.OAuthProfile{}, errors.New("userinfo has no subject")
	}

	profile := domain.OAuthProfile{ID: info.Sub, Name: info.Name}
	// an unverified address must not match an existing local account
	if info.EmailVerified {
		profile.Email = info.Email
	}
	return profile, nil
}
