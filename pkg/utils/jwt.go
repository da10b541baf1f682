package utils

import (
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "postflow"

type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// OAuthState travels through the provider redirect. Verifier holds the
// encrypted PKCE verifier for providers that use one.
type OAuthState struct {
	UserID   int64  `json:"uid"`
	Platform string `json:"platform"`
	Verifier string `json:"vrf,omitempty"`
	jwt.RegisteredClaims
}

func GenerateToken(secretKey, userID string, tokenDuration time.Duration) (string, error) {
	claims := CustomClaims{
		UserID:           userID,
		RegisteredClaims: registered(tokenDuration),
	}
	return sign(secretKey, claims)
}

func ValidateToken(secretKey, tokenString string) (*CustomClaims, error) {
	claims := &CustomClaims{}
	if err := parse(secretKey, tokenString, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func GenerateState(secretKey string, state OAuthState, ttl time.Duration) (string, error) {
	state.RegisteredClaims = registered(ttl)
	return sign(secretKey, state)
}

func ValidateState(secretKey, tokenString string) (*OAuthState, error) {
	state := &OAuthState{}
	if err := parse(secretKey, tokenString, state); err != nil {
		return nil, err
	}
	return state, nil
}

func registered(ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    issuer,
	}
}

func sign(secretKey string, claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(secretKey))
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	return signedToken, nil
}

func parse(secretKey, tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid token signing method")
		}
		return []byte(secretKey), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}
