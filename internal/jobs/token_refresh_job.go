package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/maheshrc27/postflow/internal/service"
)

type TokenRefreshJob struct {
	tokens  service.TokenService
	timeout time.Duration
}

func NewTokenRefreshJob(tokens service.TokenService, timeout time.Duration) *TokenRefreshJob {
	return &TokenRefreshJob{
		tokens:  tokens,
		timeout: timeout,
	}
}

// RefreshTokens refreshes every account whose token expires inside the refresh window.
func (j *TokenRefreshJob) RefreshTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	n, err := j.tokens.RefreshExpiring(ctx)
	if err != nil {
		slog.Info(err.Error())
	}
	if n > 0 {
		slog.Info("refreshed expiring tokens", "count", n)
	}
}
