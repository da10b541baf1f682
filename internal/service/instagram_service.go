package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
)

const (
	instagramGraphBaseURL = "https://graph.instagram.com/" + graphAPIVersion
	instagramMaxCaption   = 2200
	instagramMaxHashtags  = 30
	instagramMaxImages    = 10
)

// instagramAdapter publishes through the container workflow: create a media
// container per image, wait for it to finish processing, then publish.
type instagramAdapter struct {
	client       *apiClient
	pollInterval time.Duration
	pollAttempts int
}

func NewInstagramAdapter(opts ClientOptions) PlatformAdapter {
	return &instagramAdapter{
		client:       newAPIClient(models.PlatformInstagram, instagramGraphBaseURL, opts),
		pollInterval: 2 * time.Second,
		pollAttempts: 15,
	}
}

func (a *instagramAdapter) Platform() models.Platform {
	return models.PlatformInstagram
}

func (a *instagramAdapter) NeedsPublicURL() bool {
	return true
}

func (a *instagramAdapter) MediaSpec(target models.PlatformTarget) (MediaSpec, error) {
	return specFor(models.PlatformInstagram, PostTypeFor(target))
}

func (a *instagramAdapter) Validate(post *models.Post, target models.PlatformTarget) error {
	var v invalidFields
	if _, err := a.MediaSpec(target); v.addErr(err) != nil {
		return err
	}

	caption := post.CaptionFor(models.PlatformInstagram)
	if utf8.RuneCountInString(caption) > instagramMaxCaption {
		v.add(fmt.Sprintf("caption exceeds %d characters", instagramMaxCaption), "instagram.caption")
	}
	if countHashtags(caption) > instagramMaxHashtags {
		v.add(fmt.Sprintf("caption has more than %d hashtags", instagramMaxHashtags), "instagram.caption")
	}

	n := imageCount(post)
	if PostTypeFor(target) == "story" {
		if n != 1 {
			v.add("a story needs exactly one image", "instagram.image_ids")
		}
	} else if n < 1 || n > instagramMaxImages {
		v.add(fmt.Sprintf("instagram needs 1 to %d images", instagramMaxImages), "instagram.image_ids")
	}
	return v.err()
}

func (a *instagramAdapter) Publish(ctx context.Context, req *PublishRequest) (*models.PlatformResult, error) {
	igID := req.Credential.ExternalID
	token := req.Credential.AccessToken

	if len(req.Media) == 0 {
		return nil, apperror.InvalidRequest("instagram needs an image", "instagram.image_ids")
	}

	var containerID string
	var err error

	switch {
	case PostTypeFor(req.Target) == "story":
		containerID, err = a.createContainer(ctx, igID, token, map[string]any{
			"image_url":  req.Media[0].URL,
			"media_type": "STORIES",
		})

	case len(req.Media) == 1:
		payload := map[string]any{
			"image_url": req.Media[0].URL,
			"caption":   req.Caption,
		}
		if req.Media[0].AltText != "" {
			payload["alt_text"] = req.Media[0].AltText
		}
		containerID, err = a.createContainer(ctx, igID, token, payload)

	default:
		containerID, err = a.createCarousel(ctx, igID, token, req)
	}
	if err != nil {
		return nil, err
	}

	if err := a.waitForContainer(ctx, token, containerID); err != nil {
		return nil, err
	}

	var published transfer.GraphID
	_, err = a.client.doCreate(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetAuthToken(token).
			SetBody(map[string]string{"creation_id": containerID}).
			SetResult(&published).
			Post("/" + igID + "/media_publish")
	})
	if err != nil {
		return nil, err
	}
	if published.ID == "" {
		return nil, apperror.Permanent(string(models.PlatformInstagram), apperror.CodeRejected, "media_publish returned no id")
	}

	return successResult(published.ID, a.permalink(ctx, token, published.ID)), nil
}

func (a *instagramAdapter) createCarousel(ctx context.Context, igID, token string, req *PublishRequest) (string, error) {
	children := make([]string, 0, len(req.Media))
	for _, m := range req.Media {
		payload := map[string]any{
			"image_url":        m.URL,
			"is_carousel_item": true,
		}
		if m.AltText != "" {
			payload["alt_text"] = m.AltText
		}
		id, err := a.createContainer(ctx, igID, token, payload)
		if err != nil {
			return "", err
		}
		children = append(children, id)
	}

	for _, id := range children {
		if err := a.waitForContainer(ctx, token, id); err != nil {
			return "", err
		}
	}

	return a.createContainer(ctx, igID, token, map[string]any{
		"media_type": "CAROUSEL",
		"caption":    req.Caption,
		"children":   strings.Join(children, ","),
	})
}

func (a *instagramAdapter) createContainer(ctx context.Context, igID, token string, payload map[string]any) (string, error) {
	var out transfer.GraphID
	_, err := a.client.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetAuthToken(token).SetBody(payload).SetResult(&out).Post("/" + igID + "/media")
	})
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", apperror.Permanent(string(models.PlatformInstagram), apperror.CodeRejected, "no media container id returned")
	}
	return out.ID, nil
}

// waitForContainer polls status_code until the container is FINISHED.
func (a *instagramAdapter) waitForContainer(ctx context.Context, token, containerID string) error {
	for attempt := 0; attempt < a.pollAttempts; attempt++ {
		var status transfer.GraphContainerStatus
		_, err := a.client.do(ctx, func(r *resty.Request) (*resty.Response, error) {
			return r.SetAuthToken(token).
				SetQueryParam("fields", "status_code,status").
				SetResult(&status).
				Get("/" + containerID)
		})
		if err != nil {
			return err
		}

		switch status.StatusCode {
		case "FINISHED", "PUBLISHED":
			return nil
		case "ERROR", "EXPIRED":
			msg := status.Status
			if msg == "" {
				msg = "media container " + strings.ToLower(status.StatusCode)
			}
			return apperror.Permanent(string(models.PlatformInstagram), apperror.CodeRejected, msg)
		}

		select {
		case <-ctx.Done():
			return apperror.Transient(string(models.PlatformInstagram), apperror.CodeTimeout, ctx.Err())
		case <-time.After(a.pollInterval):
		}
	}
	return apperror.Transient(string(models.PlatformInstagram), apperror.CodeTimeout,
		fmt.Errorf("media container %s not ready after %d checks", containerID, a.pollAttempts))
}

// permalink is best effort; the media id is enough to identify the post.
func (a *instagramAdapter) permalink(ctx context.Context, token, mediaID string) string {
	var out transfer.GraphPermalink
	_, err := a.client.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetAuthToken(token).SetQueryParam("fields", "permalink").SetResult(&out).Get("/" + mediaID)
	})
	if err != nil {
		slog.Info("failed to fetch instagram permalink", "media_id", mediaID, "error", err.Error())
		return ""
	}
	return out.Permalink
}

func countHashtags(caption string) int {
	n := 0
	for _, word := range strings.Fields(caption) {
		if strings.HasPrefix(word, "#") && len(word) > 1 {
			n++
		}
	}
	return n
}
