package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePageAPI struct {
	mu     sync.Mutex
	photos []uploadedPhoto
	feed   map[string]string
	story  string
}

type uploadedPhoto struct {
	published string
	hasFile   bool
}

func (f *fakePageAPI) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer page-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		f.mu.Lock()
		defer f.mu.Unlock()

		switch r.URL.Path {
		case "/page1/photos":
			_, _, err := r.FormFile("source")
			f.photos = append(f.photos, uploadedPhoto{published: r.FormValue("published"), hasFile: err == nil})
			n := strconv.Itoa(len(f.photos))
			_, _ = w.Write([]byte(`{"id":"photo` + n + `","post_id":"page1_` + n + `"}`))
		case "/page1/feed":
			assert.NoError(t, r.ParseForm())
			f.feed = map[string]string{
				"message":        r.FormValue("message"),
				"link":           r.FormValue("link"),
				"attached_media": r.FormValue("attached_media"),
			}
			_, _ = w.Write([]byte(`{"id":"page1_99"}`))
		case "/page1/photo_stories":
			assert.NoError(t, r.ParseForm())
			f.story = r.FormValue("photo_id")
			_, _ = w.Write([]byte(`{"success":true,"post_id":"story1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fbRequest(postType string, images int) *PublishRequest {
	media := make([]PreparedMedia, images)
	for i := range media {
		media[i] = PreparedMedia{Data: []byte{0xff, 0xd8, 0xff}, ContentType: "image/jpeg"}
	}
	return &PublishRequest{
		Post:       &models.Post{ID: 2},
		Target:     models.PlatformTarget{Platform: models.PlatformFacebook, PostType: postType},
		Caption:    "hello page",
		Link:       "https://example.com",
		Media:      media,
		Credential: &Credential{ExternalID: "page1", AccessToken: "page-token", Platform: models.PlatformFacebook},
	}
}

func newTestFacebookAdapter(url string) PlatformAdapter {
	return NewFacebookAdapter(ClientOptions{BaseURL: url, MaxAttempts: 1})
}

func TestFacebookTextPost(t *testing.T) {
	api := &fakePageAPI{}
	result, err := newTestFacebookAdapter(api.server(t).URL).Publish(context.Background(), fbRequest("", 0))
	require.NoError(t, err)

	assert.Equal(t, "page1_99", result.ExternalID)
	assert.Equal(t, "https://www.facebook.com/page1_99", result.URL)
	assert.Equal(t, "hello page", api.feed["message"])
	assert.Equal(t, "https://example.com", api.feed["link"])
	assert.Empty(t, api.photos)
}

func TestFacebookSinglePhoto(t *testing.T) {
	api := &fakePageAPI{}
	result, err := newTestFacebookAdapter(api.server(t).URL).Publish(context.Background(), fbRequest("", 1))
	require.NoError(t, err)

	require.Len(t, api.photos, 1)
	assert.Equal(t, "true", api.photos[0].published)
	assert.True(t, api.photos[0].hasFile)
	assert.Equal(t, "page1_1", result.ExternalID)
	assert.Nil(t, api.feed)
}

func TestFacebookMultiPhotoAttachesUnpublishedPhotos(t *testing.T) {
	api := &fakePageAPI{}
	result, err := newTestFacebookAdapter(api.server(t).URL).Publish(context.Background(), fbRequest("", 3))
	require.NoError(t, err)

	require.Len(t, api.photos, 3)
	for _, p := range api.photos {
		assert.Equal(t, "false", p.published)
	}
	var attached []map[string]string
	require.NoError(t, json.Unmarshal([]byte(api.feed["attached_media"]), &attached))
	assert.Equal(t, []map[string]string{{"media_fbid": "photo1"}, {"media_fbid": "photo2"}, {"media_fbid": "photo3"}}, attached)
	assert.Equal(t, "page1_99", result.ExternalID)
}

func TestFacebookStory(t *testing.T) {
	api := &fakePageAPI{}
	result, err := newTestFacebookAdapter(api.server(t).URL).Publish(context.Background(), fbRequest("story", 1))
	require.NoError(t, err)

	assert.Equal(t, "photo1", api.story)
	assert.Equal(t, "story1", result.ExternalID)
}

func TestFacebookValidate(t *testing.T) {
	adapter := NewFacebookAdapter(ClientOptions{})
	target := models.PlatformTarget{Platform: models.PlatformFacebook}

	assert.NoError(t, adapter.Validate(&models.Post{Caption: "hi"}, target))
	assert.ErrorIs(t, adapter.Validate(&models.Post{}, target), apperror.ErrInvalidRequest)

	ids := make([]int64, facebookMaxImages+1)
	err := adapter.Validate(&models.Post{Caption: strings.Repeat("a", facebookMaxCaption+1), ImageIDs: ids}, target)
	e, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, []string{"facebook.caption", "facebook.image_ids"}, e.Fields)
}
