package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type duePosts struct {
	repository.PostRepository
	posts []*models.Post
	err   error
	limit int

	stale       []*models.Post
	staleBefore time.Time
	// CompletePublish only applies to posts marked processing.
	processing map[int64]bool
	completed  map[int64]models.PlatformResults
	statuses   map[int64]models.PostStatus
}

func (d *duePosts) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	d.limit = limit
	return d.posts, d.err
}

func (d *duePosts) ListStale(ctx context.Context, before time.Time, limit int) ([]*models.Post, error) {
	d.staleBefore = before
	return d.stale, nil
}

func (d *duePosts) CompletePublish(ctx context.Context, postID int64, status models.PostStatus, results models.PlatformResults, publishedAt time.Time) (bool, error) {
	if !d.processing[postID] {
		return false, nil
	}
	d.processing[postID] = false
	if d.completed == nil {
		d.completed = map[int64]models.PlatformResults{}
		d.statuses = map[int64]models.PostStatus{}
	}
	d.completed[postID] = results
	d.statuses[postID] = status
	return true, nil
}

type recordingQueue struct {
	mu       sync.Mutex
	enqueued []int64
	failFor  map[int64]bool
}

func (q *recordingQueue) EnqueuePublish(ctx context.Context, postID int64, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failFor[postID] {
		return errors.New("redis unavailable")
	}
	q.enqueued = append(q.enqueued, postID)
	return nil
}

func (q *recordingQueue) CancelPublish(ctx context.Context, postID int64) error {
	return nil
}

func TestSweepEnqueuesDuePosts(t *testing.T) {
	repo := &duePosts{posts: []*models.Post{{ID: 1}, {ID: 2}, {ID: 3}}}
	queue := &recordingQueue{}
	j := NewPostSchedulerJob(repo, queue, 50, time.Minute)

	n, err := j.SweepOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{1, 2, 3}, queue.enqueued)
	assert.Equal(t, 50, repo.limit)
}

func TestSweepContinuesPastEnqueueFailures(t *testing.T) {
	repo := &duePosts{posts: []*models.Post{{ID: 1}, {ID: 2}, {ID: 3}}}
	queue := &recordingQueue{failFor: map[int64]bool{2: true}}

	n, err := NewPostSchedulerJob(repo, queue, 0, 0).SweepOnce(context.Background())

	assert.Error(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 3}, queue.enqueued)
	assert.Equal(t, 100, repo.limit)
}

func TestSweepListFailure(t *testing.T) {
	repo := &duePosts{err: errors.New("db down")}
	queue := &recordingQueue{}
	j := NewPostSchedulerJob(repo, queue, 10, time.Minute)

	_, err := j.SweepOnce(context.Background())
	assert.Error(t, err)

	j.Sweep()
	assert.Empty(t, queue.enqueued)
	assert.False(t, j.running.Load())
}

func TestReapFailsStaleProcessingPosts(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	posted := models.PlatformResult{Status: models.ResultStatusSuccess, ExternalID: "x1"}
	repo := &duePosts{
		stale: []*models.Post{
			{ID: 1, Status: models.PostStatusProcessing, Targets: models.PlatformTargets{
				models.PlatformX:         {Platform: models.PlatformX},
				models.PlatformPinterest: {Platform: models.PlatformPinterest},
			}},
			{ID: 2, Status: models.PostStatusProcessing, Targets: models.PlatformTargets{
				models.PlatformX:        {Platform: models.PlatformX},
				models.PlatformFacebook: {Platform: models.PlatformFacebook},
			}, PlatformResults: models.PlatformResults{models.PlatformX: posted}},
			// Finished by its worker between the list and the update.
			{ID: 3, Status: models.PostStatusProcessing, Targets: models.PlatformTargets{
				models.PlatformX: {Platform: models.PlatformX},
			}},
		},
		processing: map[int64]bool{1: true, 2: true},
	}
	j := NewPostSchedulerJob(repo, &recordingQueue{}, 10, 20*time.Minute)
	j.now = func() time.Time { return now }

	n, err := j.ReapOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, now.Add(-20*time.Minute), repo.staleBefore)

	assert.Equal(t, models.PostStatusFailed, repo.statuses[1])
	require.Len(t, repo.completed[1], 2)
	for _, r := range repo.completed[1] {
		assert.Equal(t, models.ResultStatusError, r.Status)
		assert.Equal(t, apperror.CodeTimeout, r.ErrorCode)
	}

	assert.Equal(t, models.PostStatusPartiallyFailed, repo.statuses[2])
	assert.Equal(t, posted, repo.completed[2][models.PlatformX])
	assert.Equal(t, apperror.CodeTimeout, repo.completed[2][models.PlatformFacebook].ErrorCode)

	assert.NotContains(t, repo.completed, int64(3))
}

func TestSweepReapsBeforeEnqueueing(t *testing.T) {
	repo := &duePosts{
		posts: []*models.Post{{ID: 5}},
		stale: []*models.Post{{ID: 9, Status: models.PostStatusProcessing, Targets: models.PlatformTargets{
			models.PlatformInstagram: {Platform: models.PlatformInstagram},
		}}},
		processing: map[int64]bool{9: true},
	}
	queue := &recordingQueue{}

	NewPostSchedulerJob(repo, queue, 10, time.Minute).Sweep()

	assert.Equal(t, models.PostStatusFailed, repo.statuses[9])
	assert.Equal(t, []int64{5}, queue.enqueued)
}

func TestSchedulerStartStopLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	posts := NewPostSchedulerJob(&duePosts{}, &recordingQueue{}, 10, time.Minute)
	tokens := NewTokenRefreshJob(nil, time.Second)
	s, err := NewScheduler(posts, time.Hour, tokens, time.Hour)
	require.NoError(t, err)

	s.Start()
	s.Stop()
}
