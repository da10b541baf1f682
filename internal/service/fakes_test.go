package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/pkg/utils"
)

// In-memory stand-ins for the repositories and remote dependencies.

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *fakeStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (s *fakeStore) PublicURL(key string) string {
	return "https://media.example.com/" + key
}

type fakeAssetRepo struct {
	mu     sync.Mutex
	assets map[int64]*models.MediaAsset
	nextID int64
}

func newFakeAssetRepo() *fakeAssetRepo {
	return &fakeAssetRepo{assets: map[int64]*models.MediaAsset{}}
}

func (r *fakeAssetRepo) Create(ctx context.Context, tx *sql.Tx, ma *models.MediaAsset) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	stored := *ma
	stored.ID = r.nextID
	r.assets[stored.ID] = &stored
	return stored.ID, nil
}

func (r *fakeAssetRepo) GetByID(ctx context.Context, id int64) (*models.MediaAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[id]
	if !ok {
		return nil, nil
	}
	out := *a
	return &out, nil
}

func (r *fakeAssetRepo) CountOwned(ctx context.Context, userID int64, ids []int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range ids {
		if a, ok := r.assets[id]; ok && a.UserID == userID {
			n++
		}
	}
	return n, nil
}

type fakePostMediaRepo struct {
	mu    sync.Mutex
	links map[int64][]*models.PostMedia
}

func newFakePostMediaRepo() *fakePostMediaRepo {
	return &fakePostMediaRepo{links: map[int64][]*models.PostMedia{}}
}

func (r *fakePostMediaRepo) Create(ctx context.Context, tx *sql.Tx, pm *models.PostMedia) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	link := *pm
	r.links[pm.PostID] = append(r.links[pm.PostID], &link)
	return nil
}

func (r *fakePostMediaRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.PostMedia, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]*models.PostMedia(nil), r.links[postID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out, nil
}

type fakePostRepo struct {
	mu     sync.Mutex
	posts  map[int64]*models.Post
	nextID int64
	media  *fakePostMediaRepo
	// beforeComplete runs before CompletePublish applies, to simulate races.
	beforeComplete func(postID int64)
}

func newFakePostRepo(media *fakePostMediaRepo) *fakePostRepo {
	return &fakePostRepo{posts: map[int64]*models.Post{}, media: media}
}

func (r *fakePostRepo) copyOf(p *models.Post) *models.Post {
	out := *p
	out.ImageIDs = nil
	return &out
}

func (r *fakePostRepo) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	stored := *post
	stored.ID = r.nextID
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	r.posts[stored.ID] = &stored
	return stored.ID, nil
}

func (r *fakePostRepo) CreateWithMedia(ctx context.Context, post *models.Post) (int64, error) {
	id, err := r.Create(ctx, nil, post)
	if err != nil {
		return 0, err
	}
	for i, assetID := range post.ImageIDs {
		if err := r.media.Create(ctx, nil, &models.PostMedia{PostID: id, AssetID: assetID, DisplayOrder: i}); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (r *fakePostRepo) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return nil, nil
	}
	return r.copyOf(p), nil
}

func (r *fakePostRepo) GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Post
	for _, p := range r.posts {
		if p.UserID == userID {
			out = append(out, r.copyOf(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *fakePostRepo) TransitionStatus(ctx context.Context, postID int64, from []models.PostStatus, to models.PostStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[postID]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if p.Status == f {
			p.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (r *fakePostRepo) CompletePublish(ctx context.Context, postID int64, status models.PostStatus, results models.PlatformResults, publishedAt time.Time) (bool, error) {
	if r.beforeComplete != nil {
		r.beforeComplete(postID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[postID]
	if !ok || p.Status != models.PostStatusProcessing {
		return false, nil
	}
	p.Status = status
	p.PlatformResults = results
	p.PublishedAt = &publishedAt
	return true, nil
}

func (r *fakePostRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Post
	for _, p := range r.posts {
		if p.Status == models.PostStatusScheduled && p.ScheduledFor != nil && !p.ScheduledFor.After(now) {
			out = append(out, r.copyOf(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(*out[j].ScheduledFor) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakePostRepo) ListStale(ctx context.Context, before time.Time, limit int) ([]*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Post
	for _, p := range r.posts {
		if p.Status == models.PostStatusProcessing && p.UpdatedAt.Before(before) {
			out = append(out, r.copyOf(p))
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakePostRepo) status(id int64) models.PostStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.posts[id].Status
}

func (r *fakePostRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.posts)
}

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[int64]*models.SocialAccount
	nextID   int64
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: map[int64]*models.SocialAccount{}}
}

// add stores an active account whose token is encrypted with key.
func (r *fakeAccountRepo) add(userID int64, platform models.Platform, token string, expiresAt *time.Time, key []byte) *models.SocialAccount {
	access, err := utils.Encrypt([]byte(token), key)
	if err != nil {
		panic(err)
	}
	refresh, err := utils.Encrypt([]byte("refresh-"+token), key)
	if err != nil {
		panic(err)
	}
	account := &models.SocialAccount{
		UserID:         userID,
		Platform:       platform,
		AccountID:      string(platform) + "-" + strconv.Itoa(r.size()+1),
		AccountName:    string(platform) + " account",
		AccessToken:    access,
		RefreshToken:   refresh,
		TokenExpiresAt: expiresAt,
		AccountStatus:  models.AccountStatusActive,
	}
	id, _ := r.Create(context.Background(), nil, account)
	account.ID = id
	return account
}

func (r *fakeAccountRepo) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}

func (r *fakeAccountRepo) Create(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if existing.UserID == sa.UserID && existing.Platform == sa.Platform && existing.AccountID == sa.AccountID {
			updated := *sa
			updated.ID = existing.ID
			updated.AccountStatus = models.AccountStatusActive
			r.accounts[existing.ID] = &updated
			return existing.ID, nil
		}
	}
	r.nextID++
	stored := *sa
	stored.ID = r.nextID
	if stored.AccountStatus == "" {
		stored.AccountStatus = models.AccountStatusActive
	}
	r.accounts[stored.ID] = &stored
	return stored.ID, nil
}

func (r *fakeAccountRepo) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	out := *a
	return &out, nil
}

func (r *fakeAccountRepo) filter(keep func(*models.SocialAccount) bool) []*models.SocialAccount {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SocialAccount
	for _, a := range r.accounts {
		if keep(a) {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *fakeAccountRepo) ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	return r.filter(func(a *models.SocialAccount) bool { return a.UserID == userID }), nil
}

func (r *fakeAccountRepo) ListActiveByPlatform(ctx context.Context, userID int64, platform models.Platform) ([]*models.SocialAccount, error) {
	return r.filter(func(a *models.SocialAccount) bool {
		return a.UserID == userID && a.Platform == platform && a.IsActive()
	}), nil
}

func (r *fakeAccountRepo) ListExpiring(ctx context.Context, before time.Time) ([]*models.SocialAccount, error) {
	return r.filter(func(a *models.SocialAccount) bool {
		return a.IsActive() && a.TokenExpiresAt != nil && a.TokenExpiresAt.Before(before)
	}), nil
}

func (r *fakeAccountRepo) CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountID]
	return ok && a.UserID == userID, nil
}

func (r *fakeAccountRepo) SetToken(ctx context.Context, id int64, sa *models.SocialAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return sql.ErrNoRows
	}
	a.AccessToken = sa.AccessToken
	if sa.RefreshToken != "" {
		a.RefreshToken = sa.RefreshToken
	}
	a.TokenExpiresAt = sa.TokenExpiresAt
	return nil
}

func (r *fakeAccountRepo) SetStatus(ctx context.Context, id int64, status models.AccountStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return sql.ErrNoRows
	}
	a.AccountStatus = status
	return nil
}

func (r *fakeAccountRepo) Remove(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, id)
	return nil
}

type fakeHistoryRepo struct {
	mu      sync.Mutex
	entries []*models.PostingHistory
}

func (r *fakeHistoryRepo) Create(ctx context.Context, ph *models.PostingHistory) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := *ph
	entry.ID = int64(len(r.entries) + 1)
	r.entries = append(r.entries, &entry)
	return entry.ID, nil
}

func (r *fakeHistoryRepo) ListByPostID(ctx context.Context, postID int64) ([]*models.PostingHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PostingHistory
	for _, e := range r.entries {
		if e.PostID == postID {
			out = append(out, e)
		}
	}
	return out, nil
}

// fakeAdapter validates nothing by default and publishes through publish.
type fakeAdapter struct {
	platform models.Platform
	needsURL bool
	validate func(post *models.Post, target models.PlatformTarget) error
	publish  func(ctx context.Context, req *PublishRequest) (*models.PlatformResult, error)
	calls    atomic.Int32
	mu       sync.Mutex
	requests []*PublishRequest
}

func newFakeAdapter(platform models.Platform) *fakeAdapter {
	return &fakeAdapter{platform: platform}
}

func (a *fakeAdapter) Platform() models.Platform { return a.platform }

func (a *fakeAdapter) Validate(post *models.Post, target models.PlatformTarget) error {
	if a.validate != nil {
		return a.validate(post, target)
	}
	return nil
}

func (a *fakeAdapter) MediaSpec(target models.PlatformTarget) (MediaSpec, error) {
	return specFor(a.platform, PostTypeFor(target))
}

func (a *fakeAdapter) NeedsPublicURL() bool { return a.needsURL }

func (a *fakeAdapter) Publish(ctx context.Context, req *PublishRequest) (*models.PlatformResult, error) {
	a.calls.Add(1)
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()
	if a.publish != nil {
		return a.publish(ctx, req)
	}
	return successResult(string(a.platform)+"-1", "https://"+string(a.platform)+".example.com/1"), nil
}

func (a *fakeAdapter) lastRequest() *PublishRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.requests) == 0 {
		return nil
	}
	return a.requests[len(a.requests)-1]
}

// fakeOAuthProvider counts refreshes and can block them until released.
type fakeOAuthProvider struct {
	platform  models.Platform
	refreshes atomic.Int32
	gate      chan struct{}
	err       error
	ttl       time.Duration
}

func (p *fakeOAuthProvider) Platform() models.Platform { return p.platform }

func (p *fakeOAuthProvider) AuthURL(state, verifier string) string {
	return "https://auth.example.com/" + string(p.platform) + "?state=" + state
}

func (p *fakeOAuthProvider) Exchange(ctx context.Context, code, verifier string) (*OAuthToken, error) {
	if p.err != nil {
		return nil, p.err
	}
	expires := time.Now().Add(time.Hour)
	return &OAuthToken{AccessToken: "access-" + code, RefreshToken: "refresh-" + code, ExpiresAt: &expires}, nil
}

func (p *fakeOAuthProvider) Refresh(ctx context.Context, token *OAuthToken) (*OAuthToken, error) {
	p.refreshes.Add(1)
	if p.gate != nil {
		<-p.gate
	}
	if p.err != nil {
		return nil, p.err
	}
	ttl := p.ttl
	if ttl == 0 {
		ttl = 2 * time.Hour
	}
	expires := time.Now().Add(ttl)
	return &OAuthToken{AccessToken: "fresh-token", RefreshToken: "fresh-refresh", ExpiresAt: &expires}, nil
}

func (p *fakeOAuthProvider) Profiles(ctx context.Context, token *OAuthToken) ([]AccountProfile, error) {
	return []AccountProfile{{ExternalID: "ext-1", Name: "Example", Username: "example"}}, nil
}

type fakeQueue struct {
	mu        sync.Mutex
	enqueued  map[int64]time.Time
	cancelled []int64
	err       error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{enqueued: map[int64]time.Time{}}
}

func (q *fakeQueue) EnqueuePublish(ctx context.Context, postID int64, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.enqueued[postID] = at
	return nil
}

func (q *fakeQueue) CancelPublish(ctx context.Context, postID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, postID)
	delete(q.enqueued, postID)
	return nil
}
