package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeXAPI records tweets and fails the tweet numbered failAt (1-based) when set.
type fakeXAPI struct {
	mu      sync.Mutex
	tweets  []transfer.XTweetRequest
	uploads int
	failAt  int
}

func (f *fakeXAPI) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer x-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")

		f.mu.Lock()
		defer f.mu.Unlock()

		switch r.URL.Path {
		case "/2/media/upload":
			f.uploads++
			_, _ = w.Write([]byte(`{"data":{"id":"m` + strconv.Itoa(f.uploads) + `"}}`))
		case "/2/media/metadata":
			_, _ = w.Write([]byte(`{}`))
		case "/2/tweets":
			var body transfer.XTweetRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if f.failAt > 0 && len(f.tweets)+1 == f.failAt {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"detail":"You are not allowed to create a Tweet with duplicate content."}`))
				return
			}
			f.tweets = append(f.tweets, body)
			_, _ = w.Write([]byte(`{"data":{"id":"t` + strconv.Itoa(len(f.tweets)) + `"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func xRequest(caption string, target models.PlatformTarget, media ...PreparedMedia) *PublishRequest {
	target.Platform = models.PlatformX
	return &PublishRequest{
		Post:       &models.Post{ID: 1, Caption: caption},
		Target:     target,
		Caption:    caption,
		Media:      media,
		Credential: &Credential{AccessToken: "x-token", Platform: models.PlatformX},
	}
}

func newTestXAdapter(url string) PlatformAdapter {
	return NewXAdapter(ClientOptions{BaseURL: url, MaxAttempts: 1, BaseDelay: time.Millisecond})
}

func TestXPublishTruncatesLongCaption(t *testing.T) {
	api := &fakeXAPI{}
	adapter := newTestXAdapter(api.server(t).URL)

	result, err := adapter.Publish(context.Background(), xRequest(strings.Repeat("a", 300), models.PlatformTarget{Truncate: true}))
	require.NoError(t, err)

	require.Len(t, api.tweets, 1)
	text := api.tweets[0].Text
	assert.Equal(t, 280, utf8.RuneCountInString(text))
	assert.True(t, strings.HasSuffix(text, "..."))
	assert.Equal(t, "t1", result.ExternalID)
	assert.Equal(t, "https://x.com/i/status/t1", result.URL)
	assert.Empty(t, result.ThreadIDs)
}

func TestXPublishThreadRepliesInOrder(t *testing.T) {
	api := &fakeXAPI{}
	adapter := newTestXAdapter(api.server(t).URL)
	caption := strings.Repeat("word ", 150)

	result, err := adapter.Publish(context.Background(), xRequest(caption,
		models.PlatformTarget{AutoThread: true, ThreadNumbering: true},
		PreparedMedia{Data: []byte{0xff, 0xd8}, ContentType: "image/jpeg", AltText: "a photo"}))
	require.NoError(t, err)

	require.Greater(t, len(api.tweets), 1)
	assert.Equal(t, &transfer.XTweetMedia{MediaIDs: []string{"m1"}}, api.tweets[0].Media)
	assert.Nil(t, api.tweets[0].Reply)
	for i := 1; i < len(api.tweets); i++ {
		require.NotNil(t, api.tweets[i].Reply)
		assert.Equal(t, "t"+strconv.Itoa(i), api.tweets[i].Reply.InReplyToTweetID)
		assert.Nil(t, api.tweets[i].Media)
	}
	for _, tw := range api.tweets {
		assert.LessOrEqual(t, utf8.RuneCountInString(tw.Text), 280)
	}
	assert.Len(t, result.ThreadIDs, len(api.tweets))
	assert.Equal(t, "t1", result.ExternalID)
}

func TestXPublishThreadAbortKeepsPostedIDs(t *testing.T) {
	api := &fakeXAPI{failAt: 2}
	adapter := newTestXAdapter(api.server(t).URL)

	result, err := adapter.Publish(context.Background(), xRequest(strings.Repeat("word ", 150), models.PlatformTarget{AutoThread: true}))

	e, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeThreadAborted, e.Code)
	assert.Equal(t, apperror.KindPlatformPermanent, e.Kind)
	require.NotNil(t, result)
	assert.Equal(t, []string{"t1"}, result.ThreadIDs)
	assert.Equal(t, "t1", result.ExternalID)
}

func TestXPublishFirstTweetRejected(t *testing.T) {
	api := &fakeXAPI{failAt: 1}
	adapter := newTestXAdapter(api.server(t).URL)

	result, err := adapter.Publish(context.Background(), xRequest("hello", models.PlatformTarget{}))

	assert.Nil(t, result)
	assert.True(t, apperror.IsAuthRevoked(err))
}

func TestXValidate(t *testing.T) {
	adapter := NewXAdapter(ClientOptions{})
	long := strings.Repeat("a", 281)

	err := adapter.Validate(&models.Post{Caption: long}, models.PlatformTarget{Platform: models.PlatformX})
	assert.ErrorIs(t, err, apperror.ErrInvalidRequest)

	assert.NoError(t, adapter.Validate(&models.Post{Caption: long}, models.PlatformTarget{Platform: models.PlatformX, Truncate: true}))

	err = adapter.Validate(&models.Post{Caption: "hi", ImageIDs: []int64{1, 2, 3, 4, 5}}, models.PlatformTarget{Platform: models.PlatformX})
	assert.ErrorIs(t, err, apperror.ErrInvalidRequest)

	err = adapter.Validate(&models.Post{}, models.PlatformTarget{Platform: models.PlatformX})
	assert.ErrorIs(t, err, apperror.ErrInvalidRequest)

	err = adapter.Validate(&models.Post{Caption: long, ImageIDs: []int64{1, 2, 3, 4, 5}}, models.PlatformTarget{Platform: models.PlatformX})
	e, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, []string{"x.image_ids", "x.caption"}, e.Fields)
}

func TestXPublishDoesNotRepostAfterTimeout(t *testing.T) {
	var created atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/tweets" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		// The tweet is created but the answer never reaches the client.
		created.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	adapter := NewXAdapter(ClientOptions{BaseURL: srv.URL, Timeout: 50 * time.Millisecond, MaxAttempts: 3, BaseDelay: time.Millisecond})
	result, err := adapter.Publish(context.Background(), xRequest("hello", models.PlatformTarget{}))

	assert.Nil(t, result)
	assert.Equal(t, apperror.CodeTimeout, apperror.CodeOf(err))
	assert.EqualValues(t, 1, created.Load())
}
