package models

import (
	"time"
)

type AccountStatus string

const (
	AccountStatusActive  AccountStatus = "active"
	AccountStatusExpired AccountStatus = "expired"
	AccountStatusRevoked AccountStatus = "revoked"
)

// SocialAccount is a connected platform account. Tokens are stored AES-GCM
// encrypted and never leave the service in JSON.
type SocialAccount struct {
	ID              int64         `db:"id" json:"id"`
	UserID          int64         `db:"user_id" json:"user_id"`
	Platform        Platform      `db:"platform" json:"platform"`
	AccountID       string        `db:"account_id" json:"account_id"`
	AccountName     string        `db:"account_name" json:"account_name"`
	AccountUsername string        `db:"account_username" json:"account_username"`
	ProfilePicture  string        `db:"profile_picture_url" json:"profile_picture"`
	AccessToken     string        `db:"access_token" json:"-"`
	RefreshToken    string        `db:"refresh_token" json:"-"`
	TokenExpiresAt  *time.Time    `db:"token_expires_at" json:"token_expires_at,omitempty"`
	AccountStatus   AccountStatus `db:"account_status" json:"account_status"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

func (sa *SocialAccount) IsActive() bool {
	return sa.AccountStatus == AccountStatusActive
}

// ExpiresWithin reports whether the access token expires before now+window.
// Tokens without an expiry never need a refresh.
func (sa *SocialAccount) ExpiresWithin(now time.Time, window time.Duration) bool {
	if sa.TokenExpiresAt == nil {
		return false
	}
	return sa.TokenExpiresAt.Before(now.Add(window))
}
