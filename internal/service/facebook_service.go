package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
)

const (
	graphAPIVersion      = "v21.0"
	facebookGraphBaseURL = "https://graph.facebook.com/" + graphAPIVersion
	facebookPostURLFmt   = "https://www.facebook.com/%s"
	facebookMaxCaption   = 63206
	facebookMaxImages    = 10
)

// facebookAdapter posts to a Facebook Page. The stored credential is the page
// access token and the account id is the page id.
type facebookAdapter struct {
	client *apiClient
}

func NewFacebookAdapter(opts ClientOptions) PlatformAdapter {
	return &facebookAdapter{client: newAPIClient(models.PlatformFacebook, facebookGraphBaseURL, opts)}
}

func (a *facebookAdapter) Platform() models.Platform {
	return models.PlatformFacebook
}

func (a *facebookAdapter) NeedsPublicURL() bool {
	return false
}

func (a *facebookAdapter) MediaSpec(target models.PlatformTarget) (MediaSpec, error) {
	return specFor(models.PlatformFacebook, PostTypeFor(target))
}

func (a *facebookAdapter) Validate(post *models.Post, target models.PlatformTarget) error {
	var v invalidFields
	if _, err := a.MediaSpec(target); v.addErr(err) != nil {
		return err
	}

	caption := post.CaptionFor(models.PlatformFacebook)
	if utf8.RuneCountInString(caption) > facebookMaxCaption {
		v.add(fmt.Sprintf("caption exceeds %d characters", facebookMaxCaption), "facebook.caption")
	}

	n := imageCount(post)
	switch {
	case PostTypeFor(target) == "story":
		if n != 1 {
			v.add("a story needs exactly one image", "facebook.image_ids")
		}
	case n > facebookMaxImages:
		v.add(fmt.Sprintf("facebook accepts at most %d images", facebookMaxImages), "facebook.image_ids")
	case n == 0 && caption == "" && post.LinkFor(models.PlatformFacebook) == "":
		v.add("a post needs text, a link or an image", "facebook.caption")
	}
	return v.err()
}

func (a *facebookAdapter) Publish(ctx context.Context, req *PublishRequest) (*models.PlatformResult, error) {
	pageID := req.Credential.ExternalID
	token := req.Credential.AccessToken

	if PostTypeFor(req.Target) == "story" {
		return a.publishStory(ctx, pageID, token, req.Media)
	}

	switch len(req.Media) {
	case 0:
		form := map[string]string{"message": req.Caption}
		if req.Link != "" {
			form["link"] = req.Link
		}
		return a.postFeed(ctx, pageID, token, form)

	case 1:
		photo, err := a.uploadPhoto(ctx, pageID, token, req.Media[0], req.Caption, true)
		if err != nil {
			return nil, err
		}
		id := photo.PostID
		if id == "" {
			id = photo.ID
		}
		return successResult(id, fmt.Sprintf(facebookPostURLFmt, id)), nil

	default:
		attached := make([]map[string]string, 0, len(req.Media))
		for _, m := range req.Media {
			photo, err := a.uploadPhoto(ctx, pageID, token, m, "", false)
			if err != nil {
				return nil, err
			}
			attached = append(attached, map[string]string{"media_fbid": photo.ID})
		}
		encoded, err := json.Marshal(attached)
		if err != nil {
			return nil, fmt.Errorf("failed to encode attached media: %w", err)
		}

		form := map[string]string{"message": req.Caption, "attached_media": string(encoded)}
		if req.Link != "" {
			form["link"] = req.Link
		}
		return a.postFeed(ctx, pageID, token, form)
	}
}

func (a *facebookAdapter) postFeed(ctx context.Context, pageID, token string, form map[string]string) (*models.PlatformResult, error) {
	var out transfer.GraphID
	_, err := a.client.doCreate(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetAuthToken(token).SetFormData(form).SetResult(&out).Post("/" + pageID + "/feed")
	})
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, apperror.Permanent(string(models.PlatformFacebook), apperror.CodeRejected, "feed post returned no id")
	}
	return successResult(out.ID, fmt.Sprintf(facebookPostURLFmt, out.ID)), nil
}

// uploadPhoto sends the rendition as multipart. Unpublished photos are
// attached to a feed post or story afterwards.
func (a *facebookAdapter) uploadPhoto(ctx context.Context, pageID, token string, m PreparedMedia, caption string, published bool) (*transfer.GraphID, error) {
	form := map[string]string{"published": fmt.Sprintf("%t", published)}
	if caption != "" {
		form["caption"] = caption
	}
	if m.AltText != "" {
		form["alt_text_custom"] = m.AltText
	}

	call := a.client.do
	if published {
		call = a.client.doCreate
	}

	var out transfer.GraphID
	_, err := call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetAuthToken(token).
			SetFileReader("source", "image"+extensionFor(m.ContentType), bytes.NewReader(m.Data)).
			SetFormData(form).
			SetResult(&out).
			Post("/" + pageID + "/photos")
	})
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, apperror.Permanent(string(models.PlatformFacebook), apperror.CodeRejected, "photo upload returned no id")
	}
	return &out, nil
}

func (a *facebookAdapter) publishStory(ctx context.Context, pageID, token string, media []PreparedMedia) (*models.PlatformResult, error) {
	if len(media) != 1 {
		return nil, apperror.InvalidRequest("a story needs exactly one image", "facebook.image_ids")
	}
	photo, err := a.uploadPhoto(ctx, pageID, token, media[0], "", false)
	if err != nil {
		return nil, err
	}

	var out transfer.GraphStoryResponse
	_, err = a.client.doCreate(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetAuthToken(token).
			SetFormData(map[string]string{"photo_id": photo.ID}).
			SetResult(&out).
			Post("/" + pageID + "/photo_stories")
	})
	if err != nil {
		return nil, err
	}

	id := out.PostID
	if id == "" {
		id = photo.ID
	}
	return successResult(id, fmt.Sprintf(facebookPostURLFmt, id)), nil
}
