package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/models"
)

// MediaSpec is the rendition a platform accepts for one post type.
type MediaSpec struct {
	Width           int
	Height          int
	AspectTolerance float64
	MaxBytes        int64
	Formats         []string
}

func (s MediaSpec) allows(format string) bool {
	if len(s.Formats) == 0 {
		return format == "jpeg"
	}
	for _, f := range s.Formats {
		if f == format {
			return true
		}
	}
	return false
}

const mb = 1024 * 1024

// platformSpecs maps platform -> post type -> rendition. The first entry
// listed in defaultPostTypes is used when the target does not name a type.
var platformSpecs = map[models.Platform]map[string]MediaSpec{
	models.PlatformFacebook: {
		"feed":  {Width: 1200, Height: 630, AspectTolerance: 0.05, MaxBytes: 4 * mb},
		"story": {Width: 1080, Height: 1920, AspectTolerance: 0.05, MaxBytes: 4 * mb},
	},
	models.PlatformInstagram: {
		"feed_square":   {Width: 1080, Height: 1080, AspectTolerance: 0.02, MaxBytes: 8 * mb},
		"feed_portrait": {Width: 1080, Height: 1350, AspectTolerance: 0.02, MaxBytes: 8 * mb},
		"story":         {Width: 1080, Height: 1920, AspectTolerance: 0.02, MaxBytes: 8 * mb},
	},
	models.PlatformX: {
		"tweet":        {Width: 1200, Height: 675, AspectTolerance: 0.05, MaxBytes: 5 * mb},
		"tweet_square": {Width: 1200, Height: 1200, AspectTolerance: 0.05, MaxBytes: 5 * mb},
	},
	models.PlatformPinterest: {
		"pin":        {Width: 1000, Height: 1500, AspectTolerance: 0.05, MaxBytes: 20 * mb},
		"pin_square": {Width: 1000, Height: 1000, AspectTolerance: 0.05, MaxBytes: 20 * mb},
		"pin_wide":   {Width: 1000, Height: 500, AspectTolerance: 0.05, MaxBytes: 20 * mb},
		"idea_pin":   {Width: 1000, Height: 1500, AspectTolerance: 0.05, MaxBytes: 20 * mb},
	},
}

var defaultPostTypes = map[models.Platform]string{
	models.PlatformFacebook:  "feed",
	models.PlatformInstagram: "feed_square",
	models.PlatformX:         "tweet",
	models.PlatformPinterest: "pin",
}

// PostTypeFor returns the target's post type, falling back to the platform default.
func PostTypeFor(target models.PlatformTarget) string {
	if target.PostType != "" {
		return target.PostType
	}
	return defaultPostTypes[target.Platform]
}

func specFor(platform models.Platform, postType string) (MediaSpec, error) {
	spec, ok := platformSpecs[platform][postType]
	if !ok {
		return MediaSpec{}, apperror.InvalidRequest(
			fmt.Sprintf("unsupported post type %q", postType), string(platform)+".post_type")
	}
	return spec, nil
}

// Credential is a decrypted, currently valid access token for one connected account.
type Credential struct {
	AccountID   int64
	ExternalID  string
	Platform    models.Platform
	AccessToken string
	ExpiresAt   *time.Time
}

type PreparedMedia struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	// URL is the public location of the rendition for platforms that fetch media themselves.
	URL     string
	AltText string
}

type PublishRequest struct {
	Post       *models.Post
	Target     models.PlatformTarget
	Caption    string
	Title      string
	Link       string
	Media      []PreparedMedia
	Credential *Credential
}

// PlatformAdapter translates a post into one platform's publish calls.
type PlatformAdapter interface {
	Platform() models.Platform
	// Validate checks platform specific fields and image counts. It must not call the network.
	Validate(post *models.Post, target models.PlatformTarget) error
	MediaSpec(target models.PlatformTarget) (MediaSpec, error)
	// NeedsPublicURL reports whether the platform pulls media by URL instead of upload.
	NeedsPublicURL() bool
	Publish(ctx context.Context, req *PublishRequest) (*models.PlatformResult, error)
}

type Adapters map[models.Platform]PlatformAdapter

func NewAdapters(adapters ...PlatformAdapter) Adapters {
	out := make(Adapters, len(adapters))
	for _, a := range adapters {
		out[a.Platform()] = a
	}
	return out
}

func (a Adapters) Get(platform models.Platform) (PlatformAdapter, error) {
	adapter, ok := a[platform]
	if !ok {
		return nil, apperror.InvalidRequest(fmt.Sprintf("platform %s is not supported", platform), "platforms")
	}
	return adapter, nil
}

func successResult(externalID, url string) *models.PlatformResult {
	return &models.PlatformResult{
		Status:     models.ResultStatusSuccess,
		ExternalID: externalID,
		URL:        url,
		Timestamp:  time.Now().UTC(),
	}
}

// errorResult converts a publish failure into the result stored on the post.
func errorResult(err error) models.PlatformResult {
	return models.PlatformResult{
		Status:       models.ResultStatusError,
		ErrorCode:    apperror.CodeOf(err),
		ErrorMessage: err.Error(),
		Timestamp:    time.Now().UTC(),
	}
}

// invalidFields collects every validation problem of a post so the caller
// gets one InvalidRequest naming all offending fields.
type invalidFields struct {
	messages []string
	fields   []string
}

func (v *invalidFields) add(message string, fields ...string) {
	v.messages = append(v.messages, message)
	v.fields = append(v.fields, fields...)
}

// addErr records err when it is an InvalidRequest and returns any other error.
func (v *invalidFields) addErr(err error) error {
	if err == nil {
		return nil
	}
	e, ok := apperror.As(err)
	if !ok || e.Kind != apperror.KindInvalidRequest {
		return err
	}
	v.add(e.Message, e.Fields...)
	return nil
}

func (v *invalidFields) err() error {
	if len(v.messages) == 0 {
		return nil
	}
	return apperror.InvalidRequest(strings.Join(v.messages, "; "), v.fields...)
}

func imageCount(post *models.Post) int {
	return len(post.ImageIDs)
}
