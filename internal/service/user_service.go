package service

import (
	"context"
	"fmt"

	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
)

type UserService interface {
	GetUserInfo(ctx context.Context, id int64) (*models.User, error)
	RemoveUser(ctx context.Context, userID int64) error
}

type userService struct {
	u repository.UserRepository
}

func NewUserService(u repository.UserRepository) UserService {
	return &userService{
		u: u,
	}
}

func (s *userService) GetUserInfo(ctx context.Context, id int64) (*models.User, error) {
	user, isExist, err := s.u.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if !isExist {
		return nil, apperror.NotFound("user %d not found", id)
	}

	return user, nil
}

// RemoveUser deletes the user; accounts, posts and media cascade in the database.
func (s *userService) RemoveUser(ctx context.Context, userID int64) error {
	return s.u.Remove(ctx, userID)
}
