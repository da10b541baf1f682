package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
)

// PostSchedulerJob hands due scheduled posts to the publish queue. It backs up
// the task enqueued at submit time, which may have been lost. It also fails
// posts left in processing by a worker that never stored its results.
type PostSchedulerJob struct {
	pr         repository.PostRepository
	queue      service.PublishQueue
	batch      int
	staleAfter time.Duration
	running    atomic.Bool
	now        func() time.Time
}

func NewPostSchedulerJob(pr repository.PostRepository, queue service.PublishQueue, batch int, staleAfter time.Duration) *PostSchedulerJob {
	if batch <= 0 {
		batch = 100
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return &PostSchedulerJob{
		pr:         pr,
		queue:      queue,
		batch:      batch,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Sweep is skipped while a previous sweep is still running.
func (j *PostSchedulerJob) Sweep() {
	if !j.running.CompareAndSwap(false, true) {
		slog.Info("scheduler sweep still running, skipping tick")
		return
	}
	defer j.running.Store(false)

	ctx := context.Background()
	if _, err := j.ReapOnce(ctx); err != nil {
		metrics.SchedulerSweepErrors.Inc()
		slog.Error("stale post reap failed", "error", err.Error())
	}
	if _, err := j.SweepOnce(ctx); err != nil {
		metrics.SchedulerSweepErrors.Inc()
		slog.Error("scheduler sweep failed", "error", err.Error())
	}
}

// SweepOnce enqueues every due post and returns how many were handed over.
// Posts whose enqueue fails stay scheduled and are retried on the next sweep.
func (j *PostSchedulerJob) SweepOnce(ctx context.Context) (int, error) {
	now := j.now()
	due, err := j.pr.ListDue(ctx, now, j.batch)
	if err != nil {
		return 0, err
	}

	queued := 0
	var firstErr error
	for _, post := range due {
		if err := j.queue.EnqueuePublish(ctx, post.ID, now); err != nil {
			slog.Info("failed to enqueue due post", "post_id", post.ID, "error", err.Error())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		queued++
	}

	metrics.SchedulerDueTotal.Add(float64(queued))
	return queued, firstErr
}

// ReapOnce fails posts that stayed in processing longer than staleAfter and
// returns how many were moved. Results a platform already reported are kept.
// The update only applies while the post is still processing, so a worker
// finishing concurrently wins.
func (j *PostSchedulerJob) ReapOnce(ctx context.Context) (int, error) {
	now := j.now().UTC()
	stale, err := j.pr.ListStale(ctx, now.Add(-j.staleAfter), j.batch)
	if err != nil {
		return 0, err
	}

	reaped := 0
	var firstErr error
	for _, post := range stale {
		results := staleResults(post, j.staleAfter, now)
		status := models.AggregateStatus(results)

		ok, err := j.pr.CompletePublish(ctx, post.ID, status, results, now)
		if err != nil {
			slog.Info("failed to fail stale post", "post_id", post.ID, "error", err.Error())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !ok {
			continue
		}

		reaped++
		metrics.PostsCompletedTotal.WithLabelValues(string(status)).Inc()
		slog.Warn("stale processing post failed", "post_id", post.ID, "status", status)
	}

	metrics.SchedulerReapedTotal.Add(float64(reaped))
	return reaped, firstErr
}

func staleResults(post *models.Post, staleAfter time.Duration, now time.Time) models.PlatformResults {
	results := make(models.PlatformResults, len(post.Targets))
	for _, p := range post.Platforms() {
		if r, ok := post.PlatformResults[p]; ok && r.Status == models.ResultStatusSuccess {
			results[p] = r
			continue
		}
		results[p] = models.PlatformResult{
			Status:       models.ResultStatusError,
			ErrorCode:    apperror.CodeTimeout,
			ErrorMessage: fmt.Sprintf("publish did not finish within %s", staleAfter),
			Timestamp:    now,
		}
	}
	return results
}
