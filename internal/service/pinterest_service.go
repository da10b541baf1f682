package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
)

const (
	pinterestAPIBaseURL     = "https://api.pinterest.com/v5"
	pinterestPinURLFmt      = "https://www.pinterest.com/pin/%s"
	pinterestMaxTitle       = 100
	pinterestMaxDescription = 500
	pinterestMaxIdeaImages  = 5
	boardCacheSize          = 256
	boardCacheTTL           = 10 * time.Minute
)

type cachedBoards struct {
	boards    []transfer.PinterestBoard
	fetchedAt time.Time
}

// PinterestAdapter publishes pins and keeps a short lived cache of each
// account's boards so board ids can be checked before pinning.
type PinterestAdapter struct {
	client *apiClient
	boards *lru.Cache
	now    func() time.Time
}

func NewPinterestAdapter(opts ClientOptions) *PinterestAdapter {
	cache, err := lru.New(boardCacheSize)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &PinterestAdapter{
		client: newAPIClient(models.PlatformPinterest, pinterestAPIBaseURL, opts),
		boards: cache,
		now:    time.Now,
	}
}

func (a *PinterestAdapter) Platform() models.Platform {
	return models.PlatformPinterest
}

func (a *PinterestAdapter) NeedsPublicURL() bool {
	return true
}

func (a *PinterestAdapter) MediaSpec(target models.PlatformTarget) (MediaSpec, error) {
	return specFor(models.PlatformPinterest, PostTypeFor(target))
}

func (a *PinterestAdapter) Validate(post *models.Post, target models.PlatformTarget) error {
	var v invalidFields
	if _, err := a.MediaSpec(target); v.addErr(err) != nil {
		return err
	}

	title := post.TitleFor(models.PlatformPinterest)
	switch {
	case title == "":
		v.add("pinterest requires a title", "pinterest.title")
	case utf8.RuneCountInString(title) > pinterestMaxTitle:
		v.add(fmt.Sprintf("title exceeds %d characters", pinterestMaxTitle), "pinterest.title")
	}
	if target.BoardID == "" {
		v.add("pinterest requires a board_id", "pinterest.board_id")
	}
	if utf8.RuneCountInString(post.CaptionFor(models.PlatformPinterest)) > pinterestMaxDescription {
		v.add(fmt.Sprintf("description exceeds %d characters", pinterestMaxDescription), "pinterest.caption")
	}

	n := imageCount(post)
	if PostTypeFor(target) == "idea_pin" {
		if n < 1 || n > pinterestMaxIdeaImages {
			v.add(fmt.Sprintf("idea pins need 1 to %d images", pinterestMaxIdeaImages), "pinterest.image_ids")
		}
	} else if n != 1 {
		v.add("a pin needs exactly one image", "pinterest.image_ids")
	}
	return v.err()
}

func (a *PinterestAdapter) Publish(ctx context.Context, req *PublishRequest) (*models.PlatformResult, error) {
	if len(req.Media) == 0 {
		return nil, apperror.InvalidRequest("a pin needs an image", "pinterest.image_ids")
	}
	if err := a.checkBoard(ctx, req.Credential, req.Target.BoardID); err != nil {
		return nil, err
	}

	body := transfer.PinterestPinRequest{
		BoardID:     req.Target.BoardID,
		Title:       truncateRunes(req.Title, pinterestMaxTitle),
		Description: truncateRunes(req.Caption, pinterestMaxDescription),
		Link:        req.Link,
		AltText:     truncateRunes(req.Target.AltText, pinterestMaxDescription),
	}
	if len(req.Media) == 1 {
		body.MediaSource = transfer.PinterestMediaSource{SourceType: "image_url", URL: req.Media[0].URL}
	} else {
		items := make([]transfer.PinterestImageItem, 0, len(req.Media))
		for _, m := range req.Media {
			items = append(items, transfer.PinterestImageItem{URL: m.URL, Description: m.AltText})
		}
		body.MediaSource = transfer.PinterestMediaSource{SourceType: "multiple_image_urls", Items: items}
	}

	var pin transfer.PinterestPin
	_, err := a.client.doCreate(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetAuthToken(req.Credential.AccessToken).SetBody(body).SetResult(&pin).Post("/pins")
	})
	if err != nil {
		return nil, err
	}
	if pin.ID == "" {
		return nil, apperror.Permanent(string(models.PlatformPinterest), apperror.CodeRejected, "pin create returned no id")
	}

	return successResult(pin.ID, fmt.Sprintf(pinterestPinURLFmt, pin.ID)), nil
}

// Boards returns the account's boards, served from cache when fresh.
func (a *PinterestAdapter) Boards(ctx context.Context, cred *Credential) ([]transfer.PinterestBoard, error) {
	if v, ok := a.boards.Get(cred.AccountID); ok {
		entry := v.(cachedBoards)
		if a.now().Sub(entry.fetchedAt) < boardCacheTTL {
			return entry.boards, nil
		}
	}

	var all []transfer.PinterestBoard
	bookmark := ""
	for {
		var page transfer.PinterestBoardList
		_, err := a.client.do(ctx, func(r *resty.Request) (*resty.Response, error) {
			r.SetAuthToken(cred.AccessToken).SetQueryParam("page_size", "100").SetResult(&page)
			if bookmark != "" {
				r.SetQueryParam("bookmark", bookmark)
			}
			return r.Get("/boards")
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.Bookmark == "" {
			break
		}
		bookmark = page.Bookmark
	}

	a.boards.Add(cred.AccountID, cachedBoards{boards: all, fetchedAt: a.now()})
	return all, nil
}

func (a *PinterestAdapter) CreateBoard(ctx context.Context, cred *Credential, req transfer.CreateBoardRequest) (*transfer.PinterestBoard, error) {
	if req.Privacy == "" {
		req.Privacy = "PUBLIC"
	}
	body := map[string]string{"name": req.Name, "privacy": req.Privacy}
	if req.Description != "" {
		body["description"] = req.Description
	}

	var board transfer.PinterestBoard
	_, err := a.client.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetAuthToken(cred.AccessToken).SetBody(body).SetResult(&board).Post("/boards")
	})
	if err != nil {
		return nil, err
	}

	a.boards.Remove(cred.AccountID)
	return &board, nil
}

// checkBoard rejects board ids the account does not own. A stale cache gets
// one forced reload before the id is declared unknown.
func (a *PinterestAdapter) checkBoard(ctx context.Context, cred *Credential, boardID string) error {
	for attempt := 0; attempt < 2; attempt++ {
		boards, err := a.Boards(ctx, cred)
		if err != nil {
			return err
		}
		for _, b := range boards {
			if b.ID == boardID {
				return nil
			}
		}
		a.boards.Remove(cred.AccountID)
	}
	return apperror.InvalidRequest(fmt.Sprintf("board %s not found on this account", boardID), "pinterest.board_id")
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

type PinterestService interface {
	ListBoards(ctx context.Context, userID, accountID int64) ([]transfer.PinterestBoard, error)
	CreateBoard(ctx context.Context, userID int64, req transfer.CreateBoardRequest) (*transfer.PinterestBoard, error)
}

type pinterestService struct {
	adapter *PinterestAdapter
	sa      repository.SocialAccountRepository
	tokens  TokenService
}

func NewPinterestService(adapter *PinterestAdapter, sa repository.SocialAccountRepository, tokens TokenService) PinterestService {
	return &pinterestService{
		adapter: adapter,
		sa:      sa,
		tokens:  tokens,
	}
}

func (s *pinterestService) credential(ctx context.Context, userID, accountID int64) (*Credential, error) {
	account, err := resolveAccount(ctx, s.sa, userID, models.PlatformPinterest, accountID)
	if err != nil {
		return nil, err
	}
	return s.tokens.GetValidCredential(ctx, account.ID)
}

func (s *pinterestService) ListBoards(ctx context.Context, userID, accountID int64) ([]transfer.PinterestBoard, error) {
	cred, err := s.credential(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	boards, err := s.adapter.Boards(ctx, cred)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return boards, nil
}

func (s *pinterestService) CreateBoard(ctx context.Context, userID int64, req transfer.CreateBoardRequest) (*transfer.PinterestBoard, error) {
	cred, err := s.credential(ctx, userID, req.AccountID)
	if err != nil {
		return nil, err
	}
	board, err := s.adapter.CreateBoard(ctx, cred, req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return board, nil
}
