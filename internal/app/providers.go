package app

import (
	"github.com/prperemyshlev/eduportal-auth/internal/config"
	"github.com/prperemyshlev/eduportal-auth/internal/oauth"
)

// newProviderRegistry registers every provider that has credentials configured
func newProviderRegistry(cfg config.OAuthConfig) *oauth.Registry {
	var providers []oauth.Provider

	if cfg.Google.Enabled() {
		providers = append(providers, oauth.NewGoogleProvider(credentials(cfg.Google)))
	}
	if cfg.GitHub.Enabled() {
		providers = append(providers, oauth.NewGitHubProvider(credentials(cfg.GitHub)))
	}

	return oauth.NewRegistry(providers...)
}

func credentials(p config.OAuthProviderConfig) oauth.Credentials {
	return oauth.Credentials{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  p.RedirectURL,
	}
}
