package transfer

type XMediaUploadResponse struct {
	Data struct {
		ID       string `json:"id"`
		MediaKey string `json:"media_key"`
	} `json:"data"`
}

type XAltText struct {
	Text string `json:"text"`
}

type XMediaMetadataRequest struct {
	ID       string `json:"id"`
	Metadata struct {
		AltText XAltText `json:"alt_text"`
	} `json:"metadata"`
}

type XTweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type XTweetReply struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type XTweetRequest struct {
	Text  string       `json:"text"`
	Media *XTweetMedia `json:"media,omitempty"`
	Reply *XTweetReply `json:"reply,omitempty"`
}

type XTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type XUserResponse struct {
	Data struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		Username        string `json:"username"`
		ProfileImageURL string `json:"profile_image_url"`
	} `json:"data"`
}
