package transfer

type PinterestBoard struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Privacy     string `json:"privacy,omitempty"`
	PinCount    int    `json:"pin_count"`
}

type PinterestBoardList struct {
	Items    []PinterestBoard `json:"items"`
	Bookmark string           `json:"bookmark"`
}

type CreateBoardRequest struct {
	AccountID   int64  `json:"account_id"`
	Name        string `json:"name" validate:"required,max=50"`
	Description string `json:"description,omitempty" validate:"max=500"`
	Privacy     string `json:"privacy,omitempty" validate:"omitempty,oneof=PUBLIC PROTECTED SECRET"`
}

type PinterestImageItem struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type PinterestMediaSource struct {
	SourceType string               `json:"source_type"`
	URL        string               `json:"url,omitempty"`
	Items      []PinterestImageItem `json:"items,omitempty"`
}

type PinterestPinRequest struct {
	BoardID     string               `json:"board_id"`
	Title       string               `json:"title"`
	Description string               `json:"description,omitempty"`
	Link        string               `json:"link,omitempty"`
	AltText     string               `json:"alt_text,omitempty"`
	MediaSource PinterestMediaSource `json:"media_source"`
}

type PinterestPin struct {
	ID      string `json:"id"`
	BoardID string `json:"board_id"`
}

type PinterestUserAccount struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	ProfileImage string `json:"profile_image"`
	BusinessName string `json:"business_name"`
}
