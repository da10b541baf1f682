package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/utils"
	"golang.org/x/oauth2"
)

const oauthStateTTL = 15 * time.Minute

// PlatformService connects and disconnects social accounts.
type PlatformService interface {
	AuthURL(ctx context.Context, userID int64, platform string) (string, error)
	// Callback finishes the authorization and stores every account it grants.
	Callback(ctx context.Context, platform, code, state string) ([]*models.SocialAccount, error)
	List(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
	Delete(ctx context.Context, userID, accountID int64) error
}

type platformService struct {
	cfg       config.Config
	sa        repository.SocialAccountRepository
	providers OAuthProviders
}

func NewPlatformService(cfg config.Config, sa repository.SocialAccountRepository, providers OAuthProviders) PlatformService {
	return &platformService{
		cfg:       cfg,
		sa:        sa,
		providers: providers,
	}
}

func (s *platformService) provider(name string) (OAuthProvider, error) {
	platform, err := models.ParsePlatform(strings.ToLower(name))
	if err != nil {
		return nil, apperror.InvalidRequest(err.Error(), "platform")
	}
	p, ok := s.providers[platform]
	if !ok {
		return nil, apperror.InvalidRequest(fmt.Sprintf("platform %s cannot be connected", platform), "platform")
	}
	return p, nil
}

func (s *platformService) AuthURL(ctx context.Context, userID int64, platform string) (string, error) {
	if userID == 0 {
		err := apperror.InvalidRequest("user id is not valid")
		slog.Info(err.Error())
		return "", err
	}

	provider, err := s.provider(platform)
	if err != nil {
		return "", err
	}

	verifier := oauth2.GenerateVerifier()
	sealed, err := utils.Encrypt([]byte(verifier), []byte(s.cfg.SecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to seal oauth verifier: %w", err)
	}

	state, err := utils.GenerateState(s.cfg.SecretKey, utils.OAuthState{
		UserID:   userID,
		Platform: string(provider.Platform()),
		Verifier: sealed,
	}, oauthStateTTL)
	if err != nil {
		return "", fmt.Errorf("failed to sign oauth state: %w", err)
	}

	return provider.AuthURL(state, verifier), nil
}

func (s *platformService) Callback(ctx context.Context, platform, code, state string) ([]*models.SocialAccount, error) {
	if code == "" || state == "" {
		return nil, apperror.InvalidRequest("authorization code and state are required", "code", "state")
	}

	provider, err := s.provider(platform)
	if err != nil {
		return nil, err
	}

	claims, err := utils.ValidateState(s.cfg.SecretKey, state)
	if err != nil {
		return nil, apperror.InvalidRequest("oauth state is not valid", "state")
	}
	if claims.Platform != string(provider.Platform()) {
		return nil, apperror.InvalidRequest("oauth state was issued for another platform", "state")
	}

	verifier, err := utils.DecryptOptional(claims.Verifier, []byte(s.cfg.SecretKey))
	if err != nil {
		return nil, apperror.InvalidRequest("oauth state is not valid", "state")
	}

	token, err := provider.Exchange(ctx, code, verifier)
	if err != nil {
		slog.Info(err.Error())
		return nil, apperror.InvalidRequest("authorization code was rejected", "code")
	}

	profiles, err := provider.Profiles(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s profile: %w", provider.Platform(), err)
	}
	if len(profiles) == 0 {
		return nil, apperror.InvalidRequest(fmt.Sprintf("no publishable %s account was granted", provider.Platform()))
	}

	accounts := make([]*models.SocialAccount, 0, len(profiles))
	for _, profile := range profiles {
		tok := profile.Token
		if tok == nil {
			tok = token
		}
		access, err := utils.Encrypt([]byte(tok.AccessToken), []byte(s.cfg.SecretKey))
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt access token: %w", err)
		}
		refresh, err := utils.EncryptOptional(tok.RefreshToken, []byte(s.cfg.SecretKey))
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}

		account := &models.SocialAccount{
			UserID:          claims.UserID,
			Platform:        provider.Platform(),
			AccountID:       profile.ExternalID,
			AccountName:     profile.Name,
			AccountUsername: profile.Username,
			ProfilePicture:  profile.Picture,
			AccessToken:     access,
			RefreshToken:    refresh,
			TokenExpiresAt:  tok.ExpiresAt,
			AccountStatus:   models.AccountStatusActive,
		}
		id, err := s.sa.Create(ctx, nil, account)
		if err != nil {
			return nil, fmt.Errorf("failed to save social account: %w", err)
		}
		account.ID = id
		accounts = append(accounts, account)
	}

	slog.Info("social accounts connected", "user_id", claims.UserID, "platform", provider.Platform(), "count", len(accounts))
	return accounts, nil
}

func (s *platformService) List(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	if userID == 0 {
		err := apperror.InvalidRequest("user id is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	accounts, err := s.sa.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list social accounts: %w", err)
	}
	return accounts, nil
}

func (s *platformService) Delete(ctx context.Context, userID, accountID int64) error {
	if accountID == 0 {
		return apperror.InvalidRequest("account id is not valid", "id")
	}

	isValid, err := s.sa.CheckByUserID(ctx, accountID, userID)
	if err != nil {
		return fmt.Errorf("failed to check social account: %w", err)
	}
	if !isValid {
		return apperror.NotFound("social account %d not found", accountID)
	}

	if err := s.sa.Remove(ctx, accountID); err != nil {
		return fmt.Errorf("failed to remove social account: %w", err)
	}
	return nil
}

// resolveAccount picks the account a post is published through. An explicit
// accountID must belong to the user, match the platform and be active;
// otherwise the user's oldest active account on the platform is used.
func resolveAccount(ctx context.Context, sa repository.SocialAccountRepository, userID int64, platform models.Platform, accountID int64) (*models.SocialAccount, error) {
	if accountID != 0 {
		account, err := sa.GetByID(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("failed to load social account: %w", err)
		}
		if account == nil || account.UserID != userID || account.Platform != platform {
			return nil, apperror.InvalidRequest(
				fmt.Sprintf("account %d is not a connected %s account", accountID, platform), string(platform)+".account_id")
		}
		if !account.IsActive() {
			return nil, apperror.ExpiredCredential(string(platform), fmt.Errorf("account is %s", account.AccountStatus))
		}
		return account, nil
	}

	accounts, err := sa.ListActiveByPlatform(ctx, userID, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to list social accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, apperror.MissingAccount(string(platform))
	}
	return accounts[0], nil
}
