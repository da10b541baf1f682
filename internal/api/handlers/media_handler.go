package handlers

import (
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

type MediaHandler struct {
	ms service.MediaService
	ks service.KeywordService
}

func NewMediaHandler(ms service.MediaService, ks service.KeywordService) *MediaHandler {
	return &MediaHandler{ms: ms, ks: ks}
}

func (h *MediaHandler) Upload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return errorResponse(c, apperror.InvalidRequest("file is required", "file"))
	}

	f, err := fh.Open()
	if err != nil {
		return errorResponse(c, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return errorResponse(c, err)
	}

	asset, err := h.ms.Upload(c.UserContext(), GetUserID(c), fh.Filename, data)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(asset)
}

func (h *MediaHandler) Get(c *fiber.Ctx) error {
	assetID, err := paramID(c, "id")
	if err != nil {
		return errorResponse(c, err)
	}

	asset, err := h.ms.Get(c.UserContext(), GetUserID(c), assetID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(asset)
}

// Keywords suggests keywords and hashtags for an uploaded image and an
// optional caption.
func (h *MediaHandler) Keywords(c *fiber.Ctx) error {
	assetID, err := paramID(c, "id")
	if err != nil {
		return errorResponse(c, err)
	}

	var req transfer.KeywordRequest
	if len(c.Body()) > 0 {
		if err := bind(c, &req); err != nil {
			return errorResponse(c, err)
		}
	}

	// ownership check before the bytes are read
	if _, err := h.ms.Get(c.UserContext(), GetUserID(c), assetID); err != nil {
		return errorResponse(c, err)
	}
	data, _, err := h.ms.Fetch(c.UserContext(), assetID)
	if err != nil {
		return errorResponse(c, err)
	}

	keywords, err := h.ks.Extract(c.UserContext(), data, req.Caption)
	if err != nil {
		return errorResponse(c, err)
	}
	hashtags, err := h.ks.Hashtags(c.UserContext(), [][]byte{data}, req.Caption)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"keywords": keywords,
		"hashtags": hashtags,
	})
}
