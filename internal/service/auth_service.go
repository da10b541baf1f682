package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/utils"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

const (
	SessionDuration   = 7 * 24 * time.Hour
	loginStatePurpose = "login"
)

type AuthService interface {
	LoginURL() (string, error)
	// LoginCallback signs the Google user in, creating the user on first login,
	// and returns a session token.
	LoginCallback(ctx context.Context, code, state string) (string, *models.User, error)
}

type authService struct {
	cfg    config.Config
	u      repository.UserRepository
	oauth2 *oauth2.Config
}

func NewAuthService(cfg config.Config, u repository.UserRepository) AuthService {
	return &authService{
		cfg: cfg,
		u:   u,
		oauth2: &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURI,
			Scopes:       []string{googleoauth.UserinfoEmailScope, googleoauth.UserinfoProfileScope},
			Endpoint:     google.Endpoint,
		},
	}
}

func (s *authService) LoginURL() (string, error) {
	if s.oauth2.ClientID == "" || s.oauth2.RedirectURL == "" {
		err := errors.New("google login is not configured")
		slog.Info(err.Error())
		return "", err
	}
	state, err := utils.GenerateState(s.cfg.SecretKey, utils.OAuthState{Platform: loginStatePurpose}, oauthStateTTL)
	if err != nil {
		return "", fmt.Errorf("failed to sign login state: %w", err)
	}
	return s.oauth2.AuthCodeURL(state), nil
}

func (s *authService) LoginCallback(ctx context.Context, code, state string) (string, *models.User, error) {
	if code == "" || state == "" {
		return "", nil, apperror.InvalidRequest("code or state is empty", "code", "state")
	}
	claims, err := utils.ValidateState(s.cfg.SecretKey, state)
	if err != nil || claims.Platform != loginStatePurpose {
		return "", nil, apperror.InvalidRequest("login state is not valid", "state")
	}

	token, err := s.oauth2.Exchange(ctx, code)
	if err != nil {
		slog.Info(err.Error())
		return "", nil, apperror.InvalidRequest("authorization code was rejected", "code")
	}

	svc, err := googleoauth.NewService(ctx, option.WithTokenSource(s.oauth2.TokenSource(ctx, token)))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create google client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", nil, fmt.Errorf("failed to fetch google profile: %w", err)
	}

	user, isExist, err := s.u.GetByEmail(ctx, info.Email)
	if err != nil {
		return "", nil, err
	}

	if !isExist {
		user = &models.User{
			GoogleID:       info.Id,
			Email:          info.Email,
			Name:           info.Name,
			ProfilePicture: info.Picture,
		}
		user.ID, err = s.u.Create(ctx, nil, user)
		if err != nil {
			return "", nil, fmt.Errorf("failed to create user: %w", err)
		}
		slog.Info("user registered", "user_id", user.ID)
	} else if user.GoogleID == "" || user.Name != info.Name || user.ProfilePicture != info.Picture {
		user.GoogleID = info.Id
		user.Name = info.Name
		user.ProfilePicture = info.Picture
		if err := s.u.Update(ctx, user); err != nil {
			slog.Info(err.Error())
		}
	}

	session, err := utils.GenerateToken(s.cfg.SecretKey, strconv.FormatInt(user.ID, 10), SessionDuration)
	if err != nil {
		return "", nil, fmt.Errorf("failed to issue session: %w", err)
	}
	return session, user, nil
}
