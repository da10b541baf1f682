package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

type PostHandler struct {
	s service.PostService
}

func NewPostHandler(service service.PostService) *PostHandler {
	return &PostHandler{s: service}
}

// CreatePost publishes now, stores a draft, or schedules, depending on the
// request. Immediate publishes answer with the final per-platform results.
func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var pc transfer.PostCreation
	if err := bind(c, &pc); err != nil {
		return errorResponse(c, err)
	}

	post, err := h.s.Submit(c.UserContext(), userID, &pc)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	userID := GetUserID(c)

	posts, err := h.s.List(c.UserContext(), userID)
	if err != nil {
		return errorResponse(c, err)
	}

	if posts == nil {
		posts = []*models.Post{}
	}
	return c.JSON(posts)
}

func (h *PostHandler) GetPost(c *fiber.Ctx) error {
	postID, err := paramID(c, "id")
	if err != nil {
		return errorResponse(c, err)
	}

	post, err := h.s.Get(c.UserContext(), GetUserID(c), postID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(post)
}

func (h *PostHandler) PublishDraft(c *fiber.Ctx) error {
	postID, err := paramID(c, "id")
	if err != nil {
		return errorResponse(c, err)
	}

	post, err := h.s.PublishDraft(c.UserContext(), GetUserID(c), postID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(post)
}

func (h *PostHandler) CancelPost(c *fiber.Ctx) error {
	postID, err := paramID(c, "id")
	if err != nil {
		return errorResponse(c, err)
	}

	if err := h.s.Cancel(c.UserContext(), GetUserID(c), postID); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
