package transfer

// Graph API payloads shared by the Facebook and Instagram adapters.

type GraphID struct {
	ID     string `json:"id"`
	PostID string `json:"post_id,omitempty"`
}

type GraphContainerStatus struct {
	ID         string `json:"id"`
	StatusCode string `json:"status_code"`
	Status     string `json:"status"`
}

type GraphPermalink struct {
	ID        string `json:"id"`
	Permalink string `json:"permalink"`
}

type GraphStoryResponse struct {
	Success bool   `json:"success"`
	PostID  string `json:"post_id"`
}

type InstagramUserInfo struct {
	UserID         string `json:"user_id"`
	ID             string `json:"id"`
	Username       string `json:"username"`
	Name           string `json:"name"`
	ProfilePicture string `json:"profile_picture_url"`
}

type FacebookPage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
	Picture     struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

type FacebookPageList struct {
	Data   []FacebookPage `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

type GraphErrorResponse struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		IsTransient  bool   `json:"is_transient"`
		FbtraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}
