package transfer

import "time"

// PlatformOptions customizes a post for one platform.
type PlatformOptions struct {
	PostType  string `json:"post_type,omitempty"`
	AccountID int64  `json:"account_id,omitempty"`
	Caption   string `json:"caption,omitempty"`
	Title     string `json:"title,omitempty" validate:"max=100"`
	Link      string `json:"link,omitempty" validate:"omitempty,url"`
	AltText   string `json:"alt_text,omitempty" validate:"max=500"`
	BoardID   string `json:"board_id,omitempty"`

	Truncate bool `json:"truncate,omitempty"`
	// TruncateSuffix defaults to "..." when omitted; "" truncates without a marker.
	TruncateSuffix  *string `json:"truncate_suffix,omitempty"`
	AutoThread      bool    `json:"auto_thread,omitempty"`
	ThreadNumbering bool    `json:"thread_numbering,omitempty"`
}

type PostCreation struct {
	Caption         string                     `json:"caption" validate:"max=2200"`
	Title           string                     `json:"title,omitempty" validate:"max=100"`
	Link            string                     `json:"link,omitempty" validate:"omitempty,url"`
	Platforms       []string                   `json:"platforms" validate:"required,min=1,dive,required"`
	ImageIDs        []int64                    `json:"image_ids" validate:"max=10"`
	PlatformOptions map[string]PlatformOptions `json:"platform_options,omitempty" validate:"dive"`
	ScheduledFor    *time.Time                 `json:"scheduled_for,omitempty"`
	IsDraft         bool                       `json:"is_draft"`
	AutoHashtags    bool                       `json:"auto_hashtags"`
}

type KeywordRequest struct {
	Caption string `json:"caption" validate:"max=2200"`
}
