package http

import (
	"context"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"insight_server/pkg/apperr"
)

// OAuthFlow is the authorization code flow of the mailbox provider.
type OAuthFlow interface {
	Configured() bool
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// AuthHandler serves the login round trip. The access token is handed to
// the frontend and never stored server side.
type AuthHandler struct {
	oauth       OAuthFlow
	frontendURL string
	log         zerolog.Logger
}

func NewAuthHandler(oauth OAuthFlow, frontendURL string, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		oauth:       oauth,
		frontendURL: frontendURL,
		log:         log.With().Str("handler", "auth").Logger(),
	}
}

func (h *AuthHandler) Register(app fiber.Router) {
	g := app.Group("/auth")
	g.Get("/login", h.Login)
	g.Get("/callback", h.Callback)
}

// Login returns the consent page URL.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	if !h.oauth.Configured() {
		return apperr.ConfigError("google oauth is not configured")
	}
	return c.JSON(fiber.Map{"auth_url": h.oauth.AuthURL(uuid.NewString())})
}

// Callback exchanges the code and redirects to the frontend with the token.
func (h *AuthHandler) Callback(c *fiber.Ctx) error {
	if e := c.Query("error"); e != "" {
		return apperr.BadRequest("authorization denied: " + e)
	}
	code := c.Query("code")
	if code == "" {
		return apperr.InvalidInput("code", "is required")
	}

	token, err := h.oauth.Exchange(c.UserContext(), code)
	if err != nil {
		h.log.Warn().Err(err).Msg("oauth code exchange failed")
		return apperr.OAuthFailed("google", err).WithDetail("reason", err.Error())
	}

	target, err := url.Parse(h.frontendURL)
	if err != nil {
		return apperr.ConfigError("FRONTEND_URL is not a valid URL")
	}
	q := target.Query()
	q.Set("access_token", token.AccessToken)
	target.RawQuery = q.Encode()

	return c.Redirect(target.String(), fiber.StatusTemporaryRedirect)
}
