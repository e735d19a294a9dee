package provider

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

// ErrOAuthNotConfigured is returned when client credentials are missing.
var ErrOAuthNotConfigured = errors.New("google oauth is not configured")

// OAuthConfig holds Google OAuth client settings.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// GoogleOAuth performs the authorization code flow for read-only Gmail access.
type GoogleOAuth struct {
	config *oauth2.Config
}

func NewGoogleOAuth(cfg OAuthConfig) *GoogleOAuth {
	return &GoogleOAuth{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{gmail.GmailReadonlyScope},
			Endpoint:     google.Endpoint,
		},
	}
}

// Configured reports whether client credentials are present.
func (o *GoogleOAuth) Configured() bool {
	return o.config.ClientID != "" && o.config.ClientSecret != ""
}

// AuthURL returns the consent page URL. Offline access is requested so a
// refresh token comes back with the first exchange.
func (o *GoogleOAuth) AuthURL(state string) string {
	return o.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// Exchange trades an authorization code for a token.
func (o *GoogleOAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if !o.Configured() {
		return nil, ErrOAuthNotConfigured
	}
	token, err := o.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return token, nil
}

// TokenSource returns a source for the token. Tokens without a refresh
// token are used as is until they expire.
func (o *GoogleOAuth) TokenSource(ctx context.Context, token *oauth2.Token) oauth2.TokenSource {
	if token.RefreshToken == "" || !o.Configured() {
		return oauth2.StaticTokenSource(token)
	}
	return o.config.TokenSource(ctx, token)
}
