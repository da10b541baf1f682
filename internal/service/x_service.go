package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"
	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
)

const (
	xAPIBaseURL   = "https://api.x.com"
	xMaxImages    = 4
	xStatusURLFmt = "https://x.com/i/status/%s"
)

type xAdapter struct {
	client *apiClient
}

func NewXAdapter(opts ClientOptions) PlatformAdapter {
	return &xAdapter{client: newAPIClient(models.PlatformX, xAPIBaseURL, opts)}
}

func (a *xAdapter) Platform() models.Platform {
	return models.PlatformX
}

func (a *xAdapter) NeedsPublicURL() bool {
	return false
}

func (a *xAdapter) MediaSpec(target models.PlatformTarget) (MediaSpec, error) {
	return specFor(models.PlatformX, PostTypeFor(target))
}

func (a *xAdapter) Validate(post *models.Post, target models.PlatformTarget) error {
	var v invalidFields
	if _, err := a.MediaSpec(target); v.addErr(err) != nil {
		return err
	}
	if imageCount(post) > xMaxImages {
		v.add(fmt.Sprintf("x accepts at most %d images", xMaxImages), "x.image_ids")
	}
	caption := post.CaptionFor(models.PlatformX)
	if caption == "" && imageCount(post) == 0 {
		v.add("a tweet needs text or an image", "x.caption")
	}
	if err := v.addErr(validateXCaption(caption, target)); err != nil {
		return err
	}
	return v.err()
}

func (a *xAdapter) Publish(ctx context.Context, req *PublishRequest) (*models.PlatformResult, error) {
	segments, err := xSegments(req.Caption, req.Target)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		segments = []string{""}
	}

	token := req.Credential.AccessToken

	mediaIDs := make([]string, 0, len(req.Media))
	for _, m := range req.Media {
		id, err := a.uploadMedia(ctx, token, m)
		if err != nil {
			return nil, err
		}
		mediaIDs = append(mediaIDs, id)
	}

	ids := make([]string, 0, len(segments))
	for i, text := range segments {
		body := transfer.XTweetRequest{Text: text}
		if i == 0 && len(mediaIDs) > 0 {
			body.Media = &transfer.XTweetMedia{MediaIDs: mediaIDs}
		}
		if i > 0 {
			body.Reply = &transfer.XTweetReply{InReplyToTweetID: ids[i-1]}
		}

		id, err := a.createTweet(ctx, token, body)
		if err != nil {
			if len(ids) == 0 {
				return nil, err
			}
			slog.Info("x thread aborted", "posted", len(ids), "total", len(segments), "error", err.Error())
			partial := &models.PlatformResult{
				Status:     models.ResultStatusError,
				ExternalID: ids[0],
				URL:        fmt.Sprintf(xStatusURLFmt, ids[0]),
				ThreadIDs:  ids,
			}
			return partial, threadAborted(err, len(ids), len(segments))
		}
		ids = append(ids, id)
	}

	result := successResult(ids[0], fmt.Sprintf(xStatusURLFmt, ids[0]))
	if len(ids) > 1 {
		result.ThreadIDs = ids
	}
	return result, nil
}

func threadAborted(cause error, posted, total int) error {
	kind := apperror.KindPlatformPermanent
	if apperror.IsRetryable(cause) {
		kind = apperror.KindPlatformTransient
	}
	return apperror.New(kind, "thread aborted after %d of %d tweets", posted, total).
		WithPlatform(string(models.PlatformX)).
		WithCode(apperror.CodeThreadAborted).
		WithCause(cause)
}

func (a *xAdapter) uploadMedia(ctx context.Context, token string, m PreparedMedia) (string, error) {
	var out transfer.XMediaUploadResponse
	_, err := a.client.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetAuthToken(token).
			SetFileReader("media", "image"+extensionFor(m.ContentType), bytes.NewReader(m.Data)).
			SetFormData(map[string]string{"media_category": "tweet_image"}).
			SetResult(&out).
			Post("/2/media/upload")
	})
	if err != nil {
		return "", err
	}
	if out.Data.ID == "" {
		return "", apperror.Permanent(string(models.PlatformX), apperror.CodeRejected, "media upload returned no id")
	}

	if m.AltText != "" {
		meta := transfer.XMediaMetadataRequest{ID: out.Data.ID}
		meta.Metadata.AltText = transfer.XAltText{Text: m.AltText}
		_, err := a.client.do(ctx, func(r *resty.Request) (*resty.Response, error) {
			return r.SetAuthToken(token).SetBody(meta).Post("/2/media/metadata")
		})
		if err != nil {
			slog.Info("failed to set alt text on x media", "media_id", out.Data.ID, "error", err.Error())
		}
	}

	return out.Data.ID, nil
}

func (a *xAdapter) createTweet(ctx context.Context, token string, body transfer.XTweetRequest) (string, error) {
	var out transfer.XTweetResponse
	_, err := a.client.doCreate(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetAuthToken(token).SetBody(body).SetResult(&out).Post("/2/tweets")
	})
	if err != nil {
		return "", err
	}
	if out.Data.ID == "" {
		return "", apperror.Permanent(string(models.PlatformX), apperror.CodeRejected, "tweet create returned no id")
	}
	return out.Data.ID, nil
}

func extensionFor(contentType string) string {
	if contentType == "image/png" {
		return ".png"
	}
	return ".jpg"
}
