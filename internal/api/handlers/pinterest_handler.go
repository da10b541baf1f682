package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

type PinterestHandler struct {
	s service.PinterestService
}

func NewPinterestHandler(service service.PinterestService) *PinterestHandler {
	return &PinterestHandler{s: service}
}

func (h *PinterestHandler) ListBoards(c *fiber.Ctx) error {
	accountID := int64(c.QueryInt("account_id", 0))

	boards, err := h.s.ListBoards(c.UserContext(), GetUserID(c), accountID)
	if err != nil {
		return errorResponse(c, err)
	}
	if boards == nil {
		boards = []transfer.PinterestBoard{}
	}
	return c.JSON(boards)
}

func (h *PinterestHandler) CreateBoard(c *fiber.Ctx) error {
	var req transfer.CreateBoardRequest
	if err := bind(c, &req); err != nil {
		return errorResponse(c, err)
	}

	board, err := h.s.CreateBoard(c.UserContext(), GetUserID(c), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(board)
}
