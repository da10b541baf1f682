package handlers

import (
	"log/slog"
	"net/url"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/service"
)

type PlatformHandler struct {
	ps  service.PlatformService
	cfg config.Config
}

func NewPlatformHandler(ps service.PlatformService, cfg config.Config) *PlatformHandler {
	return &PlatformHandler{ps: ps, cfg: cfg}
}

// AddSocialAccount answers with the provider consent URL. It is a JSON reply
// rather than a redirect so API key clients can hand the URL to a browser.
func (h *PlatformHandler) AddSocialAccount(c *fiber.Ctx) error {
	authURL, err := h.ps.AuthURL(c.UserContext(), GetUserID(c), c.Params("platform"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"url": authURL})
}

// CallbackHandler is reached by the provider redirect, so it is not behind
// the auth middleware. The signed state identifies the user.
func (h *PlatformHandler) CallbackHandler(c *fiber.Ctx) error {
	target := h.cfg.FrontendURL + "/dashboard/accounts"

	if reason := c.Query("error"); reason != "" {
		return c.Redirect(target+"?error="+url.QueryEscape(reason), fiber.StatusTemporaryRedirect)
	}

	accounts, err := h.ps.Callback(c.UserContext(), c.Params("platform"), c.Query("code"), c.Query("state"))
	if err != nil {
		slog.Info(err.Error())
		kind := apperror.KindOf(err)
		return c.Redirect(target+"?error="+url.QueryEscape(string(kind)), fiber.StatusTemporaryRedirect)
	}

	slog.Info("social accounts connected", "platform", c.Params("platform"), "count", len(accounts))
	return c.Redirect(target, fiber.StatusTemporaryRedirect)
}

func (h *PlatformHandler) ListAccounts(c *fiber.Ctx) error {
	accounts, err := h.ps.List(c.UserContext(), GetUserID(c))
	if err != nil {
		return errorResponse(c, err)
	}
	if accounts == nil {
		accounts = []*models.SocialAccount{}
	}
	return c.JSON(accounts)
}

func (h *PlatformHandler) RemoveAccount(c *fiber.Ctx) error {
	accountID, err := paramID(c, "id")
	if err != nil {
		return errorResponse(c, err)
	}

	if err := h.ps.Delete(c.UserContext(), GetUserID(c), accountID); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
