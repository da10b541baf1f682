package models

import "time"

// PostingHistory records one publish attempt of a post on one account.
type PostingHistory struct {
	ID           int64     `db:"id" json:"id"`
	UserID       int64     `db:"user_id" json:"user_id"`
	PostID       int64     `db:"post_id" json:"post_id"`
	AccountID    int64     `db:"account_id" json:"account_id"`
	Platform     Platform  `db:"platform" json:"platform"`
	Status       string    `db:"status" json:"status"`
	ExternalID   string    `db:"external_id" json:"external_id,omitempty"`
	ErrorCode    string    `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
