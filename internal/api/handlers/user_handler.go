package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
)

type UserHandler struct {
	s service.UserService
}

func NewUserHandler(service service.UserService) *UserHandler {
	return &UserHandler{s: service}
}

func (h *UserHandler) GetUserInfo(c *fiber.Ctx) error {
	userId := GetUserID(c)

	userInfo, err := h.s.GetUserInfo(c.UserContext(), userId)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(userInfo)
}

func (h *UserHandler) DeleteUser(c *fiber.Ctx) error {
	userId := GetUserID(c)

	if err := h.s.RemoveUser(c.UserContext(), userId); err != nil {
		return errorResponse(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
