package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redsync/redsync/v4"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/utils"
	"golang.org/x/sync/singleflight"
)

const (
	refreshLockExpiry  = 30 * time.Second
	refreshConcurrency = 10
)

type TokenService interface {
	// GetValidCredential returns a decrypted token for the account, refreshing it
	// first when it expires within the refresh window.
	GetValidCredential(ctx context.Context, accountID int64) (*Credential, error)
	MarkRevoked(ctx context.Context, accountID int64) error
	// RefreshExpiring refreshes every active account expiring within the window.
	RefreshExpiring(ctx context.Context) (int, error)
}

type tokenService struct {
	sa        repository.SocialAccountRepository
	providers OAuthProviders
	secretKey []byte
	window    time.Duration
	rs        *redsync.Redsync
	group     singleflight.Group
	now       func() time.Time
}

// NewTokenService builds the token store. rs may be nil, in which case
// refreshes are only deduplicated within this process.
func NewTokenService(cfg config.Config, sa repository.SocialAccountRepository, providers OAuthProviders, rs *redsync.Redsync) TokenService {
	return &tokenService{
		sa:        sa,
		providers: providers,
		secretKey: []byte(cfg.SecretKey),
		window:    cfg.TokenRefreshWindow,
		rs:        rs,
		now:       time.Now,
	}
}

func (s *tokenService) GetValidCredential(ctx context.Context, accountID int64) (*Credential, error) {
	account, err := s.sa.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load social account: %w", err)
	}
	if account == nil {
		return nil, apperror.NotFound("social account %d not found", accountID)
	}
	if !account.IsActive() {
		return nil, apperror.ExpiredCredential(string(account.Platform), fmt.Errorf("account is %s", account.AccountStatus))
	}

	if !account.ExpiresWithin(s.now(), s.window) {
		return s.credential(account)
	}

	key := string(account.Platform) + ":" + strconv.FormatInt(account.ID, 10)
	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		return s.refresh(ctx, account.ID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.Debug("token refresh shared", "account_id", account.ID)
	}
	return v.(*Credential), nil
}

// refresh runs under the cross-instance lock. The account is reloaded after
// the lock is taken so a refresh finished elsewhere is not repeated.
func (s *tokenService) refresh(ctx context.Context, accountID int64) (*Credential, error) {
	if s.rs != nil {
		mutex := s.rs.NewMutex("token-refresh:"+strconv.FormatInt(accountID, 10),
			redsync.WithExpiry(refreshLockExpiry),
			redsync.WithTries(64),
			redsync.WithRetryDelay(100*time.Millisecond))
		if err := mutex.LockContext(ctx); err != nil {
			slog.Info(err.Error())
			return nil, fmt.Errorf("failed to lock token refresh: %w", err)
		}
		defer func() {
			if _, err := mutex.UnlockContext(context.WithoutCancel(ctx)); err != nil {
				slog.Info(err.Error())
			}
		}()
	}

	account, err := s.sa.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload social account: %w", err)
	}
	if account == nil {
		return nil, apperror.NotFound("social account %d not found", accountID)
	}
	if !account.IsActive() {
		return nil, apperror.ExpiredCredential(string(account.Platform), fmt.Errorf("account is %s", account.AccountStatus))
	}
	if !account.ExpiresWithin(s.now(), s.window) {
		return s.credential(account)
	}

	platform := string(account.Platform)
	provider, ok := s.providers[account.Platform]
	if !ok {
		return nil, apperror.ExpiredCredential(platform, fmt.Errorf("no oauth provider for %s", platform))
	}

	current, err := s.decryptToken(account)
	if err != nil {
		return nil, err
	}

	fresh, err := provider.Refresh(ctx, current)
	if err != nil {
		slog.Error("token refresh failed", "account_id", account.ID, "platform", platform, "error", err.Error())
		metrics.TokenRefreshTotal.WithLabelValues(platform, "failed").Inc()
		if serr := s.sa.SetStatus(ctx, account.ID, models.AccountStatusExpired); serr != nil {
			slog.Info(serr.Error())
		}
		return nil, apperror.ExpiredCredential(platform, err)
	}

	updated, err := s.encryptToken(fresh)
	if err != nil {
		return nil, err
	}
	if err := s.sa.SetToken(ctx, account.ID, updated); err != nil {
		return nil, fmt.Errorf("failed to store refreshed token: %w", err)
	}
	metrics.TokenRefreshTotal.WithLabelValues(platform, "ok").Inc()

	account.AccessToken = updated.AccessToken
	account.TokenExpiresAt = fresh.ExpiresAt
	return s.credential(account)
}

func (s *tokenService) MarkRevoked(ctx context.Context, accountID int64) error {
	if err := s.sa.SetStatus(ctx, accountID, models.AccountStatusRevoked); err != nil {
		return fmt.Errorf("failed to mark account revoked: %w", err)
	}
	return nil
}

func (s *tokenService) RefreshExpiring(ctx context.Context) (int, error) {
	accounts, err := s.sa.ListExpiring(ctx, s.now().Add(s.window))
	if err != nil {
		return 0, fmt.Errorf("failed to list expiring accounts: %w", err)
	}

	var refreshed atomic.Int64
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, refreshConcurrency)

	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		semaphore <- struct{}{}

		go func(accountID int64) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if _, err := s.GetValidCredential(ctx, accountID); err != nil {
				slog.Info("scheduled token refresh failed", "account_id", accountID, "error", err.Error())
				return
			}
			refreshed.Add(1)
		}(account.ID)
	}

	wg.Wait()
	return int(refreshed.Load()), ctx.Err()
}

func (s *tokenService) credential(account *models.SocialAccount) (*Credential, error) {
	token, err := utils.Decrypt(account.AccessToken, s.secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	return &Credential{
		AccountID:   account.ID,
		ExternalID:  account.AccountID,
		Platform:    account.Platform,
		AccessToken: token,
		ExpiresAt:   account.TokenExpiresAt,
	}, nil
}

func (s *tokenService) decryptToken(account *models.SocialAccount) (*OAuthToken, error) {
	access, err := utils.Decrypt(account.AccessToken, s.secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := utils.DecryptOptional(account.RefreshToken, s.secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	return &OAuthToken{AccessToken: access, RefreshToken: refresh, ExpiresAt: account.TokenExpiresAt}, nil
}

func (s *tokenService) encryptToken(token *OAuthToken) (*models.SocialAccount, error) {
	access, err := utils.Encrypt([]byte(token.AccessToken), s.secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := utils.EncryptOptional(token.RefreshToken, s.secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	return &models.SocialAccount{
		AccessToken:    access,
		RefreshToken:   refresh,
		TokenExpiresAt: token.ExpiresAt,
	}, nil
}
