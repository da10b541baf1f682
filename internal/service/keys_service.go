package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/utils"
)

const (
	maxApiKeys   = 5
	apiKeyLength = 32
)

type ApiKeyService interface {
	Create(ctx context.Context, userID int64) (*models.ApiKey, error)
	List(ctx context.Context, userID int64) ([]*models.ApiKey, error)
	GetUserID(ctx context.Context, apiKey string) (int64, error)
	RemoveAPIKey(ctx context.Context, userID, keyID int64) error
}

type apiKeyService struct {
	k repository.ApiKeyRepository
}

func NewApiKeyService(k repository.ApiKeyRepository) ApiKeyService {
	return &apiKeyService{
		k: k,
	}
}

func (s *apiKeyService) Create(ctx context.Context, userID int64) (*models.ApiKey, error) {
	keys, err := s.k.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if len(keys) >= maxApiKeys {
		err = apperror.InvalidRequest(fmt.Sprintf("only %d api keys can be created", maxApiKeys))
		slog.Info(err.Error())
		return nil, err
	}

	key, err := utils.GenerateRandomKey(apiKeyLength)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to generate api key: %w", err)
	}

	apiKey := &models.ApiKey{
		UserID: userID,
		ApiKey: key,
	}

	apiKey.ID, err = s.k.Create(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to save api key: %w", err)
	}
	return apiKey, nil
}

func (s *apiKeyService) GetUserID(ctx context.Context, apiKey string) (int64, error) {
	userID, isExist, err := s.k.GetByKey(ctx, apiKey)
	if err != nil {
		return 0, err
	}

	if !isExist {
		return 0, apperror.NotFound("api key does not exist")
	}

	return userID, nil
}

func (s *apiKeyService) List(ctx context.Context, userID int64) ([]*models.ApiKey, error) {
	apiKeys, err := s.k.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return apiKeys, nil
}

func (s *apiKeyService) RemoveAPIKey(ctx context.Context, userID, keyID int64) error {
	if keyID == 0 {
		err := apperror.InvalidRequest("key id is not valid", "id")
		slog.Info(err.Error())
		return err
	}

	isValid, err := s.k.CheckByUserID(ctx, keyID, userID)
	if err != nil {
		return err
	}

	if !isValid {
		err = apperror.NotFound("api key %d does not exist", keyID)
		slog.Info(err.Error())
		return err
	}

	return s.k.Remove(ctx, keyID)
}
