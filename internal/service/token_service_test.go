package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestTokenService(accounts *fakeAccountRepo, provider *fakeOAuthProvider) TokenService {
	cfg := config.Config{SecretKey: testSecret, TokenRefreshWindow: 30 * time.Minute}
	return NewTokenService(cfg, accounts, OAuthProviders{provider.platform: provider}, nil)
}

func TestCredentialOutsideWindowIsNotRefreshed(t *testing.T) {
	accounts := newFakeAccountRepo()
	provider := &fakeOAuthProvider{platform: models.PlatformX}
	expires := time.Now().Add(2 * time.Hour)
	account := accounts.add(1, models.PlatformX, "current", &expires, []byte(testSecret))

	cred, err := newTestTokenService(accounts, provider).GetValidCredential(context.Background(), account.ID)
	require.NoError(t, err)

	assert.Equal(t, "current", cred.AccessToken)
	assert.Equal(t, account.AccountID, cred.ExternalID)
	assert.Zero(t, provider.refreshes.Load())
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	accounts := newFakeAccountRepo()
	provider := &fakeOAuthProvider{platform: models.PlatformPinterest, gate: make(chan struct{})}
	expires := time.Now().Add(5 * time.Minute)
	account := accounts.add(1, models.PlatformPinterest, "stale", &expires, []byte(testSecret))
	svc := newTestTokenService(accounts, provider)

	const callers = 20
	tokens := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred, err := svc.GetValidCredential(context.Background(), account.ID)
			if assert.NoError(t, err) {
				tokens[i] = cred.AccessToken
			}
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(provider.gate)
	wg.Wait()

	assert.EqualValues(t, 1, provider.refreshes.Load())
	for _, tok := range tokens {
		assert.Equal(t, "fresh-token", tok)
	}

	stored, err := accounts.GetByID(context.Background(), account.ID)
	require.NoError(t, err)
	plain, err := utils.Decrypt(stored.AccessToken, []byte(testSecret))
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", plain)
	assert.True(t, stored.TokenExpiresAt.After(time.Now().Add(time.Hour)))
}

func TestFailedRefreshExpiresAccount(t *testing.T) {
	accounts := newFakeAccountRepo()
	provider := &fakeOAuthProvider{platform: models.PlatformX, err: errors.New("invalid_grant")}
	expires := time.Now().Add(time.Minute)
	account := accounts.add(1, models.PlatformX, "stale", &expires, []byte(testSecret))
	svc := newTestTokenService(accounts, provider)

	_, err := svc.GetValidCredential(context.Background(), account.ID)
	assert.ErrorIs(t, err, apperror.ErrExpiredCredential)

	stored, err := accounts.GetByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AccountStatusExpired, stored.AccountStatus)

	_, err = svc.GetValidCredential(context.Background(), account.ID)
	assert.ErrorIs(t, err, apperror.ErrExpiredCredential)
	assert.EqualValues(t, 1, provider.refreshes.Load())
}

func TestUnknownAccount(t *testing.T) {
	svc := newTestTokenService(newFakeAccountRepo(), &fakeOAuthProvider{platform: models.PlatformX})

	_, err := svc.GetValidCredential(context.Background(), 99)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestRefreshExpiring(t *testing.T) {
	accounts := newFakeAccountRepo()
	provider := &fakeOAuthProvider{platform: models.PlatformFacebook}
	soon := time.Now().Add(10 * time.Minute)
	later := time.Now().Add(48 * time.Hour)
	for i := 0; i < 3; i++ {
		accounts.add(int64(i+1), models.PlatformFacebook, "stale", &soon, []byte(testSecret))
	}
	accounts.add(9, models.PlatformFacebook, "fine", &later, []byte(testSecret))
	accounts.add(9, models.PlatformFacebook, "forever", nil, []byte(testSecret))

	n, err := newTestTokenService(accounts, provider).RefreshExpiring(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, n)
	assert.EqualValues(t, 3, provider.refreshes.Load())
}

func TestMarkRevoked(t *testing.T) {
	accounts := newFakeAccountRepo()
	account := accounts.add(1, models.PlatformInstagram, "tok", nil, []byte(testSecret))
	svc := newTestTokenService(accounts, &fakeOAuthProvider{platform: models.PlatformInstagram})

	require.NoError(t, svc.MarkRevoked(context.Background(), account.ID))

	_, err := svc.GetValidCredential(context.Background(), account.ID)
	assert.ErrorIs(t, err, apperror.ErrExpiredCredential)
}
