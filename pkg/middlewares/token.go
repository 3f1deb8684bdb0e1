package middlewares

import (
	"strings"

	"video_processing_service/pkg/token"

	"github.com/gofiber/fiber/v2"
)

const (
	//QueryToken token in query name
	QueryToken = "auth"

	//CookieToken token in cookie name
	CookieToken = "auth_token"

	//TokenOwnerID get owner from token, set c.locals name
	TokenOwnerID = "OwnerID"

	bearerPrefix = "Bearer "
)

// tokenFrom Authorization header 優先，其次查詢參數，最後 Cookie
func tokenFrom(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimSpace(h[len(bearerPrefix):])
	}
	if q := c.Query(QueryToken); q != "" {
		return q
	}
	return c.Cookies(CookieToken)
}

// JWTMiddleware validates JWT and stores the owner id in c.Locals
func JWTMiddleware(verifier *token.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := tokenFrom(c)
		if tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing token",
			})
		}

		claims, err := verifier.Parse(tokenStr)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		c.Locals(TokenOwnerID, claims.OwnerID)
		return c.Next()
	}
}

// OwnerID 取得 JWTMiddleware 寫入的擁有者
func OwnerID(c *fiber.Ctx) string {
	id, _ := c.Locals(TokenOwnerID).(string)
	return id
}
