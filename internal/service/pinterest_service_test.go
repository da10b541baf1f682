package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinterestAPI struct {
	boardCalls atomic.Int32
	pinCalls   atomic.Int32
	lastPin    atomic.Pointer[transfer.PinterestPinRequest]
}

func (f *fakePinterestAPI) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/boards" && r.Method == http.MethodGet:
			f.boardCalls.Add(1)
			if r.URL.Query().Get("bookmark") == "" {
				_, _ = w.Write([]byte(`{"items":[{"id":"b1","name":"Recipes"}],"bookmark":"next"}`))
				return
			}
			_, _ = w.Write([]byte(`{"items":[{"id":"b2","name":"Travel"}],"bookmark":""}`))
		case r.URL.Path == "/boards" && r.Method == http.MethodPost:
			_, _ = w.Write([]byte(`{"id":"b3","name":"New"}`))
		case r.URL.Path == "/pins":
			f.pinCalls.Add(1)
			var body transfer.PinterestPinRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.lastPin.Store(&body)
			_, _ = w.Write([]byte(`{"id":"p1","board_id":"` + body.BoardID + `"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func pinRequest(boardID string, urls ...string) *PublishRequest {
	media := make([]PreparedMedia, 0, len(urls))
	for _, u := range urls {
		media = append(media, PreparedMedia{URL: u, AltText: "alt"})
	}
	return &PublishRequest{
		Post:       &models.Post{ID: 5},
		Target:     models.PlatformTarget{Platform: models.PlatformPinterest, BoardID: boardID},
		Caption:    "desc",
		Title:      "Title",
		Link:       "https://example.com",
		Media:      media,
		Credential: &Credential{AccountID: 7, AccessToken: "pin-token", Platform: models.PlatformPinterest},
	}
}

func TestPinterestPublishSingleImage(t *testing.T) {
	api := &fakePinterestAPI{}
	adapter := NewPinterestAdapter(ClientOptions{BaseURL: api.server(t).URL, MaxAttempts: 1})

	result, err := adapter.Publish(context.Background(), pinRequest("b2", "https://media.example.com/a.jpg"))
	require.NoError(t, err)

	assert.Equal(t, "p1", result.ExternalID)
	assert.Equal(t, "https://www.pinterest.com/pin/p1", result.URL)
	pin := api.lastPin.Load()
	require.NotNil(t, pin)
	assert.Equal(t, "image_url", pin.MediaSource.SourceType)
	assert.Equal(t, "https://media.example.com/a.jpg", pin.MediaSource.URL)
	assert.Equal(t, "Title", pin.Title)
	assert.EqualValues(t, 2, api.boardCalls.Load())
}

func TestPinterestPublishCarousel(t *testing.T) {
	api := &fakePinterestAPI{}
	adapter := NewPinterestAdapter(ClientOptions{BaseURL: api.server(t).URL, MaxAttempts: 1})

	_, err := adapter.Publish(context.Background(), pinRequest("b1", "https://m/1.jpg", "https://m/2.jpg"))
	require.NoError(t, err)

	pin := api.lastPin.Load()
	assert.Equal(t, "multiple_image_urls", pin.MediaSource.SourceType)
	assert.Len(t, pin.MediaSource.Items, 2)
}

func TestPinterestUnknownBoardReloadsOnceThenFails(t *testing.T) {
	api := &fakePinterestAPI{}
	adapter := NewPinterestAdapter(ClientOptions{BaseURL: api.server(t).URL, MaxAttempts: 1})

	_, err := adapter.Publish(context.Background(), pinRequest("missing", "https://m/1.jpg"))

	e, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.KindInvalidRequest, e.Kind)
	assert.Equal(t, []string{"pinterest.board_id"}, e.Fields)
	assert.Zero(t, api.pinCalls.Load())
	// two pages, loaded twice
	assert.EqualValues(t, 4, api.boardCalls.Load())
}

func TestPinterestBoardsAreCached(t *testing.T) {
	api := &fakePinterestAPI{}
	adapter := NewPinterestAdapter(ClientOptions{BaseURL: api.server(t).URL, MaxAttempts: 1})
	now := time.Now()
	adapter.now = func() time.Time { return now }
	cred := &Credential{AccountID: 7, AccessToken: "pin-token"}

	boards, err := adapter.Boards(context.Background(), cred)
	require.NoError(t, err)
	assert.Len(t, boards, 2)

	_, err = adapter.Boards(context.Background(), cred)
	require.NoError(t, err)
	assert.EqualValues(t, 2, api.boardCalls.Load())

	now = now.Add(boardCacheTTL + time.Second)
	_, err = adapter.Boards(context.Background(), cred)
	require.NoError(t, err)
	assert.EqualValues(t, 4, api.boardCalls.Load())

	_, err = adapter.CreateBoard(context.Background(), cred, transfer.CreateBoardRequest{Name: "New"})
	require.NoError(t, err)
	_, err = adapter.Boards(context.Background(), cred)
	require.NoError(t, err)
	assert.EqualValues(t, 6, api.boardCalls.Load())
}

func TestPinterestValidate(t *testing.T) {
	adapter := NewPinterestAdapter(ClientOptions{})
	target := models.PlatformTarget{Platform: models.PlatformPinterest, BoardID: "b1"}

	assert.NoError(t, adapter.Validate(&models.Post{Title: "t", ImageIDs: []int64{1}}, target))

	err := adapter.Validate(&models.Post{Title: "t", ImageIDs: []int64{1, 2}}, target)
	assert.ErrorIs(t, err, apperror.ErrInvalidRequest)

	idea := target
	idea.PostType = "idea_pin"
	assert.NoError(t, adapter.Validate(&models.Post{Title: "t", ImageIDs: []int64{1, 2, 3}}, idea))

	err = adapter.Validate(&models.Post{Title: "t", ImageIDs: []int64{1}}, models.PlatformTarget{Platform: models.PlatformPinterest})
	e, _ := apperror.As(err)
	require.NotNil(t, e)
	assert.Equal(t, []string{"pinterest.board_id"}, e.Fields)

	err = adapter.Validate(&models.Post{ImageIDs: []int64{1, 2}}, models.PlatformTarget{Platform: models.PlatformPinterest})
	e, _ = apperror.As(err)
	require.NotNil(t, e)
	assert.Equal(t, []string{"pinterest.title", "pinterest.board_id", "pinterest.image_ids"}, e.Fields)
	assert.Contains(t, e.Message, "requires a title")
	assert.Contains(t, e.Message, "requires a board_id")
}
