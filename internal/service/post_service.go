package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
)

const (
	maxCaptionLength = 2200
	maxPostImages    = 10
)

// captionLimits bounds the caption after hashtags are appended. X is only
// bounded when no long caption strategy is selected.
var captionLimits = map[models.Platform]int{
	models.PlatformFacebook:  facebookMaxCaption,
	models.PlatformInstagram: instagramMaxCaption,
	models.PlatformX:         xMaxChars,
	models.PlatformPinterest: pinterestMaxDescription,
}

// PublishQueue defers publishing of scheduled posts.
type PublishQueue interface {
	EnqueuePublish(ctx context.Context, postID int64, at time.Time) error
	CancelPublish(ctx context.Context, postID int64) error
}

type PostService interface {
	Submit(ctx context.Context, userID int64, pc *transfer.PostCreation) (*models.Post, error)
	Publish(ctx context.Context, post *models.Post) (*models.Post, error)
	PublishDraft(ctx context.Context, userID, postID int64) (*models.Post, error)
	// PublishScheduled claims a due post. Returns (nil, nil) when the post was
	// cancelled or claimed by another worker.
	PublishScheduled(ctx context.Context, postID int64) (*models.Post, error)
	Cancel(ctx context.Context, userID, postID int64) error
	Get(ctx context.Context, userID, postID int64) (*models.Post, error)
	List(ctx context.Context, userID int64) ([]*models.Post, error)
}

type postService struct {
	pr          repository.PostRepository
	pm          repository.PostMediaRepository
	ma          repository.MediaAssetRepository
	sa          repository.SocialAccountRepository
	ph          repository.PostingHistoryRepository
	adapters    Adapters
	media       MediaService
	tokens      TokenService
	keywords    KeywordService
	queue       PublishQueue
	concurrency int
	now         func() time.Time
}

func NewPostService(
	cfg config.Config,
	pr repository.PostRepository,
	pm repository.PostMediaRepository,
	ma repository.MediaAssetRepository,
	sa repository.SocialAccountRepository,
	ph repository.PostingHistoryRepository,
	adapters Adapters,
	media MediaService,
	tokens TokenService,
	keywords KeywordService,
	queue PublishQueue) PostService {
	concurrency := cfg.Publishing.Concurrency
	if concurrency <= 0 {
		concurrency = len(models.AllPlatforms)
	}
	return &postService{
		pr:          pr,
		pm:          pm,
		ma:          ma,
		sa:          sa,
		ph:          ph,
		adapters:    adapters,
		media:       media,
		tokens:      tokens,
		keywords:    keywords,
		queue:       queue,
		concurrency: concurrency,
		now:         time.Now,
	}
}

func (s *postService) Submit(ctx context.Context, userID int64, pc *transfer.PostCreation) (*models.Post, error) {
	if pc == nil {
		err := apperror.InvalidRequest("request body is empty")
		slog.Info(err.Error())
		return nil, err
	}

	post, err := s.buildPost(ctx, userID, pc)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	scheduled := !pc.IsDraft && post.ScheduledFor != nil && post.ScheduledFor.After(s.now())
	switch {
	case scheduled:
		post.Status = models.PostStatusScheduled
	case pc.IsDraft:
		post.Status = models.PostStatusDraft
	default:
		// A past or missing schedule means publish now.
		post.Status = models.PostStatusDraft
		post.ScheduledFor = nil
	}

	id, err := s.pr.CreateWithMedia(ctx, post)
	if err != nil {
		return nil, fmt.Errorf("failed to save post: %w", err)
	}
	post.ID = id
	slog.Info("post submitted", "post_id", id, "status", post.Status, "platforms", len(post.Targets))

	switch {
	case pc.IsDraft:
		return post, nil
	case scheduled:
		// The scheduler sweep picks the post up if the enqueue is lost.
		if err := s.queue.EnqueuePublish(ctx, id, *post.ScheduledFor); err != nil {
			slog.Error("failed to enqueue scheduled post", "post_id", id, "error", err.Error())
		}
		return post, nil
	default:
		return s.Publish(ctx, post)
	}
}

// buildPost validates the request and resolves one account per platform.
// Adapter validation problems are collected into a single InvalidRequest.
func (s *postService) buildPost(ctx context.Context, userID int64, pc *transfer.PostCreation) (*models.Post, error) {
	if len(pc.Platforms) == 0 {
		return nil, apperror.InvalidRequest("at least one platform is required", "platforms")
	}
	if utf8.RuneCountInString(pc.Caption) > maxCaptionLength {
		return nil, apperror.InvalidRequest(fmt.Sprintf("caption exceeds %d characters", maxCaptionLength), "caption")
	}
	if len(pc.ImageIDs) > maxPostImages {
		return nil, apperror.InvalidRequest(fmt.Sprintf("at most %d images per post", maxPostImages), "image_ids")
	}

	platforms := make([]models.Platform, 0, len(pc.Platforms))
	seen := map[models.Platform]bool{}
	for _, name := range pc.Platforms {
		p, err := models.ParsePlatform(strings.ToLower(strings.TrimSpace(name)))
		if err != nil {
			return nil, apperror.InvalidRequest(err.Error(), "platforms")
		}
		if !seen[p] {
			seen[p] = true
			platforms = append(platforms, p)
		}
	}

	options := make(map[models.Platform]transfer.PlatformOptions, len(pc.PlatformOptions))
	for name, opt := range pc.PlatformOptions {
		p, err := models.ParsePlatform(strings.ToLower(name))
		if err != nil || !seen[p] {
			return nil, apperror.InvalidRequest(fmt.Sprintf("options given for platform %q which is not targeted", name), "platform_options."+name)
		}
		options[p] = opt
	}

	if err := s.checkImages(ctx, userID, pc.ImageIDs); err != nil {
		return nil, err
	}

	post := &models.Post{
		UserID:       userID,
		Caption:      pc.Caption,
		Title:        pc.Title,
		Link:         pc.Link,
		ImageIDs:     pc.ImageIDs,
		AutoHashtags: pc.AutoHashtags,
		ScheduledFor: pc.ScheduledFor,
		Targets:      make(models.PlatformTargets, len(platforms)),
	}

	for _, p := range platforms {
		opt := options[p]
		account, err := resolveAccount(ctx, s.sa, userID, p, opt.AccountID)
		if err != nil {
			return nil, err
		}
		post.Targets[p] = models.PlatformTarget{
			Platform:        p,
			PostType:        opt.PostType,
			AccountID:       account.ID,
			Caption:         opt.Caption,
			Title:           opt.Title,
			Link:            opt.Link,
			AltText:         opt.AltText,
			BoardID:         opt.BoardID,
			Truncate:        opt.Truncate,
			TruncateSuffix:  opt.TruncateSuffix,
			AutoThread:      opt.AutoThread,
			ThreadNumbering: opt.ThreadNumbering,
		}
	}

	var fields, messages []string
	for _, p := range platforms {
		adapter, err := s.adapters.Get(p)
		if err != nil {
			return nil, err
		}
		err = adapter.Validate(post, post.Targets[p])
		if err == nil {
			continue
		}
		e, ok := apperror.As(err)
		if !ok || e.Kind != apperror.KindInvalidRequest {
			return nil, err
		}
		fields = append(fields, e.Fields...)
		messages = append(messages, string(p)+": "+e.Message)
	}
	if len(fields) > 0 || len(messages) > 0 {
		return nil, apperror.InvalidRequest(strings.Join(messages, "; "), fields...)
	}

	return post, nil
}

func (s *postService) checkImages(ctx context.Context, userID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	seen := map[int64]bool{}
	unique := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	owned, err := s.ma.CountOwned(ctx, userID, unique)
	if err != nil {
		return fmt.Errorf("failed to check images: %w", err)
	}
	if owned != len(unique) {
		return apperror.InvalidRequest("one or more images do not exist", "image_ids")
	}
	return nil
}

func (s *postService) Publish(ctx context.Context, post *models.Post) (*models.Post, error) {
	return s.claimAndPublish(ctx, post, models.PostStatusDraft)
}

func (s *postService) PublishDraft(ctx context.Context, userID, postID int64) (*models.Post, error) {
	post, err := s.Get(ctx, userID, postID)
	if err != nil {
		return nil, err
	}
	if post.Status != models.PostStatusDraft {
		return nil, apperror.InvalidState("post %d is %s, only drafts can be published", postID, post.Status)
	}
	return s.Publish(ctx, post)
}

func (s *postService) PublishScheduled(ctx context.Context, postID int64) (*models.Post, error) {
	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to load post: %w", err)
	}
	if post == nil || post.Status != models.PostStatusScheduled {
		slog.Info("scheduled post no longer pending", "post_id", postID)
		return nil, nil
	}

	published, err := s.claimAndPublish(ctx, post, models.PostStatusScheduled)
	if errors.Is(err, apperror.ErrInvalidState) {
		slog.Info("scheduled post claimed elsewhere", "post_id", postID)
		return nil, nil
	}
	return published, err
}

func (s *postService) claimAndPublish(ctx context.Context, post *models.Post, from models.PostStatus) (*models.Post, error) {
	claimed, err := s.pr.TransitionStatus(ctx, post.ID, []models.PostStatus{from}, models.PostStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to claim post: %w", err)
	}
	if !claimed {
		return nil, apperror.InvalidState("post %d is no longer %s", post.ID, from)
	}
	post.Status = models.PostStatusProcessing

	// A claimed post must reach a terminal status even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	if post.ImageIDs == nil {
		media, err := s.pm.ListByPostID(ctx, post.ID)
		if err != nil {
			return nil, s.abandon(ctx, post, fmt.Errorf("failed to load post media: %w", err))
		}
		for _, m := range media {
			post.ImageIDs = append(post.ImageIDs, m.AssetID)
		}
	}

	results := s.fanOut(ctx, post)
	status := models.AggregateStatus(results)
	publishedAt := s.now().UTC()

	ok, err := s.pr.CompletePublish(ctx, post.ID, status, results, publishedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store publish results: %w", err)
	}
	if !ok {
		return nil, apperror.InvalidState("post %d left processing before results were stored", post.ID)
	}

	metrics.PostsCompletedTotal.WithLabelValues(string(status)).Inc()
	slog.Info("post published", "post_id", post.ID, "status", status)

	post.Status = status
	post.PlatformResults = results
	post.PublishedAt = &publishedAt
	return post, nil
}

// abandon fails every platform when the post cannot be published at all.
func (s *postService) abandon(ctx context.Context, post *models.Post, cause error) error {
	slog.Error(cause.Error(), "post_id", post.ID)
	results := make(models.PlatformResults, len(post.Targets))
	for p := range post.Targets {
		results[p] = errorResult(cause)
	}
	if _, err := s.pr.CompletePublish(ctx, post.ID, models.PostStatusFailed, results, s.now().UTC()); err != nil {
		slog.Info(err.Error())
	}
	return cause
}

func (s *postService) fanOut(ctx context.Context, post *models.Post) models.PlatformResults {
	platforms := post.Platforms()
	images := newImageLoader(s.media)
	hashtags := s.hashtags(ctx, post, images)

	results := make(models.PlatformResults, len(platforms))
	var mu sync.Mutex
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, s.concurrency)

	for _, p := range platforms {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(p models.Platform) {
			defer wg.Done()
			defer func() { <-semaphore }()

			var result models.PlatformResult
			func() {
				defer func() {
					if r := recover(); r != nil {
						slog.Error("platform publish panicked", "post_id", post.ID, "platform", p, "panic", r)
						result = errorResult(apperror.New(apperror.KindInternal, "publish panicked: %v", r))
					}
				}()
				result = s.publishTo(ctx, post, p, images, hashtags)
			}()

			mu.Lock()
			results[p] = result
			mu.Unlock()
		}(p)
	}

	wg.Wait()
	return results
}

func (s *postService) publishTo(ctx context.Context, post *models.Post, p models.Platform, images *imageLoader, hashtags []string) models.PlatformResult {
	start := time.Now()
	target := post.Targets[p]

	result, err := s.runAdapter(ctx, post, target, images, hashtags)
	var out models.PlatformResult
	if err != nil {
		out = errorResult(err)
		if result != nil {
			out.ExternalID = result.ExternalID
			out.URL = result.URL
			out.ThreadIDs = result.ThreadIDs
		}
		slog.Info("platform publish failed", "post_id", post.ID, "platform", p, "code", out.ErrorCode, "error", err.Error())

		if apperror.IsAuthRevoked(err) {
			if err := s.tokens.MarkRevoked(ctx, target.AccountID); err != nil {
				slog.Info(err.Error())
			}
		}
	} else {
		out = *result
	}

	metrics.PlatformPublishDuration.WithLabelValues(string(p)).Observe(time.Since(start).Seconds())
	metrics.PlatformPublishTotal.WithLabelValues(string(p), out.Status, out.ErrorCode).Inc()

	history := &models.PostingHistory{
		UserID:       post.UserID,
		PostID:       post.ID,
		AccountID:    target.AccountID,
		Platform:     p,
		Status:       out.Status,
		ExternalID:   out.ExternalID,
		ErrorCode:    out.ErrorCode,
		ErrorMessage: out.ErrorMessage,
	}
	if _, err := s.ph.Create(ctx, history); err != nil {
		slog.Info("failed to save posting history", "post_id", post.ID, "platform", p, "error", err.Error())
	}

	return out
}

func (s *postService) runAdapter(ctx context.Context, post *models.Post, target models.PlatformTarget, images *imageLoader, hashtags []string) (*models.PlatformResult, error) {
	p := target.Platform
	adapter, err := s.adapters.Get(p)
	if err != nil {
		return nil, err
	}
	spec, err := adapter.MediaSpec(target)
	if err != nil {
		return nil, err
	}

	media := make([]PreparedMedia, 0, len(post.ImageIDs))
	for i, id := range post.ImageIDs {
		data, err := images.get(ctx, id)
		if err != nil {
			return nil, err
		}
		normalized, err := s.media.Prepare(ctx, data, spec)
		if err != nil {
			return nil, err
		}
		prepared := PreparedMedia{
			Data:        normalized.Data,
			ContentType: normalized.ContentType,
			Width:       normalized.Width,
			Height:      normalized.Height,
			AltText:     target.AltText,
		}
		if adapter.NeedsPublicURL() {
			url, err := s.media.StoreRendition(ctx, post.ID, p, i, normalized)
			if err != nil {
				return nil, fmt.Errorf("failed to store rendition: %w", err)
			}
			prepared.URL = url
		}
		media = append(media, prepared)
	}

	cred, err := s.tokens.GetValidCredential(ctx, target.AccountID)
	if err != nil {
		return nil, err
	}

	return adapter.Publish(ctx, &PublishRequest{
		Post:       post,
		Target:     target,
		Caption:    captionWithHashtags(post.CaptionFor(p), hashtags, target),
		Title:      post.TitleFor(p),
		Link:       post.LinkFor(p),
		Media:      media,
		Credential: cred,
	})
}

// hashtags are computed once per post. Failures only cost the hashtags.
func (s *postService) hashtags(ctx context.Context, post *models.Post, images *imageLoader) []string {
	if !post.AutoHashtags || s.keywords == nil {
		return nil
	}

	var data [][]byte
	for _, id := range post.ImageIDs {
		img, err := images.get(ctx, id)
		if err != nil {
			continue
		}
		data = append(data, img)
	}

	tags, err := s.keywords.Hashtags(ctx, data, post.Caption)
	if err != nil {
		slog.Info("hashtag generation failed", "post_id", post.ID, "error", err.Error())
		return nil
	}
	return tags
}

// captionWithHashtags appends tags not already in the caption when the result
// still fits the platform limit.
func captionWithHashtags(caption string, hashtags []string, target models.PlatformTarget) string {
	if len(hashtags) == 0 {
		return caption
	}

	lower := strings.ToLower(caption)
	var extra []string
	for _, tag := range hashtags {
		if !strings.Contains(lower, strings.ToLower(tag)) {
			extra = append(extra, tag)
		}
	}
	if len(extra) == 0 {
		return caption
	}

	withTags := strings.TrimSpace(caption + "\n\n" + strings.Join(extra, " "))
	limit := captionLimits[target.Platform]
	if target.Platform == models.PlatformX && (target.Truncate || target.AutoThread) {
		return withTags
	}
	if target.Platform == models.PlatformInstagram && countHashtags(withTags) > instagramMaxHashtags {
		return caption
	}
	if limit > 0 && utf8.RuneCountInString(withTags) > limit {
		return caption
	}
	return withTags
}

func (s *postService) Cancel(ctx context.Context, userID, postID int64) error {
	post, err := s.Get(ctx, userID, postID)
	if err != nil {
		return err
	}

	cancelled, err := s.pr.TransitionStatus(ctx, postID,
		[]models.PostStatus{models.PostStatusDraft, models.PostStatusScheduled}, models.PostStatusCancelled)
	if err != nil {
		return fmt.Errorf("failed to cancel post: %w", err)
	}
	if !cancelled {
		current, err := s.pr.GetByID(ctx, postID)
		if err != nil {
			return fmt.Errorf("failed to load post: %w", err)
		}
		if current == nil {
			return apperror.NotFound("post %d not found", postID)
		}
		err = apperror.InvalidState("post %d is %s and can no longer be cancelled", postID, current.Status)
		slog.Info(err.Error())
		return err
	}

	if post.Status == models.PostStatusScheduled {
		if err := s.queue.CancelPublish(ctx, postID); err != nil {
			slog.Info("failed to drop queued publish task", "post_id", postID, "error", err.Error())
		}
	}
	slog.Info("post cancelled", "post_id", postID)
	return nil
}

func (s *postService) Get(ctx context.Context, userID, postID int64) (*models.Post, error) {
	if postID == 0 {
		return nil, apperror.InvalidRequest("post id is not valid", "id")
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to load post: %w", err)
	}
	if post == nil || post.UserID != userID {
		return nil, apperror.NotFound("post %d not found", postID)
	}

	media, err := s.pm.ListByPostID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to load post media: %w", err)
	}
	post.ImageIDs = make([]int64, 0, len(media))
	for _, m := range media {
		post.ImageIDs = append(post.ImageIDs, m.AssetID)
	}
	return post, nil
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	posts, err := s.pr.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return posts, nil
}

// imageLoader fetches each original once per publish and shares it across platforms.
type imageLoader struct {
	media MediaService
	mu    sync.Mutex
	items map[int64]*loadedImage
}

type loadedImage struct {
	once sync.Once
	data []byte
	err  error
}

func newImageLoader(media MediaService) *imageLoader {
	return &imageLoader{media: media, items: map[int64]*loadedImage{}}
}

func (l *imageLoader) get(ctx context.Context, id int64) ([]byte, error) {
	l.mu.Lock()
	item, ok := l.items[id]
	if !ok {
		item = &loadedImage{}
		l.items[id] = item
	}
	l.mu.Unlock()

	item.once.Do(func() {
		item.data, _, item.err = l.media.Fetch(ctx, id)
	})
	return item.data, item.err
}
