package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/service"
)

type AuthHandler struct {
	s   service.AuthService
	cfg config.Config
}

func NewAuthHandler(cfg config.Config, service service.AuthService) *AuthHandler {
	return &AuthHandler{s: service, cfg: cfg}
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	authURL, err := h.s.LoginURL()
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Redirect(authURL, fiber.StatusTemporaryRedirect)
}

func (h *AuthHandler) LoginCallbackHandler(c *fiber.Ctx) error {
	if reason := c.Query("error"); reason != "" {
		return c.Redirect(h.cfg.FrontendURL+"/login?error="+reason, fiber.StatusTemporaryRedirect)
	}

	session, _, err := h.s.LoginCallback(c.UserContext(), c.Query("code"), c.Query("state"))
	if err != nil {
		return errorResponse(c, err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     h.cfg.CookieName,
		Value:    session,
		HTTPOnly: true,
		Secure:   true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
		Expires:  time.Now().Add(service.SessionDuration),
	})

	return c.Redirect(h.cfg.FrontendURL, fiber.StatusTemporaryRedirect)
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:   h.cfg.CookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	return c.SendStatus(fiber.StatusNoContent)
}
