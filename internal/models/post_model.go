package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostStatus string

const (
	PostStatusDraft           PostStatus = "draft"
	PostStatusScheduled       PostStatus = "scheduled"
	PostStatusProcessing      PostStatus = "processing"
	PostStatusPosted          PostStatus = "posted"
	PostStatusFailed          PostStatus = "failed"
	PostStatusPartiallyFailed PostStatus = "partially_failed"
	PostStatusCancelled       PostStatus = "cancelled"
)

var ErrInvalidTransition = errors.New("invalid post status transition")

// PostTransitions lists the statuses reachable from each status. Terminal
// statuses map to an empty list.
var PostTransitions = map[PostStatus][]PostStatus{
	PostStatusDraft:           {PostStatusScheduled, PostStatusProcessing, PostStatusCancelled},
	PostStatusScheduled:       {PostStatusProcessing, PostStatusCancelled},
	PostStatusProcessing:      {PostStatusPosted, PostStatusFailed, PostStatusPartiallyFailed},
	PostStatusPosted:          {},
	PostStatusFailed:          {},
	PostStatusPartiallyFailed: {},
	PostStatusCancelled:       {},
}

func (s PostStatus) IsTerminal() bool {
	return s == PostStatusPosted || s == PostStatusFailed ||
		s == PostStatusPartiallyFailed || s == PostStatusCancelled
}

func (s PostStatus) IsCancellable() bool {
	return s == PostStatusDraft || s == PostStatusScheduled
}

func (s PostStatus) CanTransitionTo(target PostStatus) bool {
	for _, t := range PostTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

func (s PostStatus) TransitionTo(target PostStatus) (PostStatus, error) {
	if !s.CanTransitionTo(target) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, target)
	}
	return target, nil
}

// AggregateStatus derives the final post status from the per platform results.
func AggregateStatus(results PlatformResults) PostStatus {
	var ok, failed int
	for _, r := range results {
		if r.Status == ResultStatusSuccess {
			ok++
		} else {
			failed++
		}
	}

	switch {
	case failed == 0 && ok > 0:
		return PostStatusPosted
	case ok == 0:
		return PostStatusFailed
	default:
		return PostStatusPartiallyFailed
	}
}

type Post struct {
	ID              int64           `db:"id" json:"id"`
	UserID          int64           `db:"user_id" json:"user_id"`
	Caption         string          `db:"caption" json:"caption"`
	Title           string          `db:"title" json:"title,omitempty"`
	Link            string          `db:"link" json:"link,omitempty"`
	Targets         PlatformTargets `db:"targets" json:"targets"`
	ImageIDs        []int64         `db:"-" json:"image_ids"`
	AutoHashtags    bool            `db:"auto_hashtags" json:"auto_hashtags"`
	ScheduledFor    *time.Time      `db:"scheduled_for" json:"scheduled_for,omitempty"`
	Status          PostStatus      `db:"status" json:"status"`
	PlatformResults PlatformResults `db:"platform_results" json:"platform_results"`
	PublishedAt     *time.Time      `db:"published_at" json:"published_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Platforms returns the target platforms of the post in a stable order.
func (p *Post) Platforms() []Platform {
	platforms := make([]Platform, 0, len(p.Targets))
	for _, platform := range AllPlatforms {
		if _, ok := p.Targets[platform]; ok {
			platforms = append(platforms, platform)
		}
	}
	return platforms
}

// CaptionFor returns the per platform caption override or the global caption.
func (p *Post) CaptionFor(platform Platform) string {
	if t, ok := p.Targets[platform]; ok && t.Caption != "" {
		return t.Caption
	}
	return p.Caption
}

// TitleFor returns the per platform title or the global title.
func (p *Post) TitleFor(platform Platform) string {
	if t, ok := p.Targets[platform]; ok && t.Title != "" {
		return t.Title
	}
	return p.Title
}

func (p *Post) LinkFor(platform Platform) string {
	if t, ok := p.Targets[platform]; ok && t.Link != "" {
		return t.Link
	}
	return p.Link
}

// PlatformTarget holds the per platform customization of a post.
type PlatformTarget struct {
	Platform  Platform `json:"platform"`
	PostType  string   `json:"post_type,omitempty"`
	AccountID int64    `json:"account_id"`
	Caption   string   `json:"caption,omitempty"`
	Title     string   `json:"title,omitempty"`
	Link      string   `json:"link,omitempty"`
	AltText   string   `json:"alt_text,omitempty"`

	BoardID string `json:"board_id,omitempty"`

	Truncate bool `json:"truncate,omitempty"`
	// TruncateSuffix is nil for the default "..."; an empty string means none.
	TruncateSuffix  *string `json:"truncate_suffix,omitempty"`
	AutoThread      bool    `json:"auto_thread,omitempty"`
	ThreadNumbering bool    `json:"thread_numbering,omitempty"`
}

type PlatformTargets map[Platform]PlatformTarget

func (t PlatformTargets) Value() (driver.Value, error) {
	return jsonValue(t)
}

func (t *PlatformTargets) Scan(src any) error {
	return jsonScan(src, t)
}

const (
	ResultStatusSuccess = "success"
	ResultStatusError   = "error"
)

type PlatformResult struct {
	Status       string    `json:"status"`
	ExternalID   string    `json:"external_id,omitempty"`
	URL          string    `json:"url,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ThreadIDs    []string  `json:"thread_ids,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type PlatformResults map[Platform]PlatformResult

func (r PlatformResults) Value() (driver.Value, error) {
	return jsonValue(r)
}

func (r *PlatformResults) Scan(src any) error {
	return jsonScan(src, r)
}

type MediaAsset struct {
	ID         int64     `db:"id" json:"id"`
	UserID     int64     `db:"user_id" json:"user_id"`
	FileName   string    `db:"file_name" json:"file_name"`
	StorageKey string    `db:"storage_key" json:"-"`
	FileType   string    `db:"file_type" json:"file_type"`
	FileSize   int64     `db:"file_size" json:"file_size"`
	Width      int       `db:"width" json:"width"`
	Height     int       `db:"height" json:"height"`
	FileURL    string    `db:"file_url" json:"file_url"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

type PostMedia struct {
	PostID       int64     `db:"post_id"`
	AssetID      int64     `db:"asset_id"`
	DisplayOrder int       `db:"display_order"`
	CreatedAt    time.Time `db:"created_at"`
}

func jsonValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonScan(src any, dst any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
