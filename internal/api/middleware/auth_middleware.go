package middleware

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/pkg/utils"
)

const apiKeyHeader = "X-API-Key"

type AuthMiddleware struct {
	s   service.ApiKeyService
	cfg config.Config
}

func NewAuthMiddleware(cfg config.Config, service service.ApiKeyService) *AuthMiddleware {
	return &AuthMiddleware{s: service, cfg: cfg}
}

// AuthMiddleware accepts a session cookie or an API key, given either in the
// X-API-Key header or the api_key query parameter, and stores the caller in
// Locals("user_id").
func (m *AuthMiddleware) AuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := c.Cookies(m.cfg.CookieName)
		apiKey := c.Get(apiKeyHeader)
		if apiKey == "" {
			apiKey = c.Query("api_key")
		}

		if tokenString == "" && apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing api key or session cookie",
				"code":  "unauthorized",
			})
		}

		if apiKey != "" {
			userID, err := m.s.GetUserID(c.UserContext(), apiKey)
			if err != nil {
				slog.Info(err.Error())
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "invalid api key",
					"code":  "unauthorized",
				})
			}
			c.Locals("user_id", strconv.FormatInt(userID, 10))
			return c.Next()
		}

		claims, err := utils.ValidateToken(m.cfg.SecretKey, tokenString)
		if err != nil {
			c.Cookie(&fiber.Cookie{
				Name:   m.cfg.CookieName,
				Value:  "",
				Path:   "/",
				MaxAge: -1,
			})

			slog.Info("token validation failed", "error", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or expired session",
				"code":  "unauthorized",
			})
		}

		c.Locals("user_id", claims.UserID)
		return c.Next()
	}
}
