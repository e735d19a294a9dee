package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"insight_server/core/port/out"
	"insight_server/pkg/apperr"
)

// SourceFunc opens the mailbox behind an access token. A positive limit
// caps the number of messages the source returns.
type SourceFunc func(accessToken string, limit int) out.EmailSource

// ErrorMapper converts mailbox provider errors to application errors.
type ErrorMapper func(err error) *apperr.AppError

// accessToken reads the token from the access_token query parameter or a
// bearer Authorization header.
func accessToken(c *fiber.Ctx) (string, error) {
	if token := strings.TrimSpace(c.Query("access_token")); token != "" {
		return token, nil
	}
	auth := c.Get(fiber.HeaderAuthorization)
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		if token := strings.TrimSpace(auth[7:]); token != "" {
			return token, nil
		}
	}
	return "", apperr.MissingToken()
}

// queryLimit parses a non-negative integer query parameter.
func queryLimit(c *fiber.Ctx, key string, defaultValue int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return defaultValue, nil
	}
	n := c.QueryInt(key, -1)
	if n < 0 {
		return 0, apperr.InvalidInput(key, "must be a non-negative integer")
	}
	return n, nil
}
