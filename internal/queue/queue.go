package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
)

// TaskID is the asynq id of the publish task of a post. One id per post
// keeps the submit path and the scheduler sweep from enqueueing twice.
func TaskID(postID int64) string {
	return "post:" + strconv.FormatInt(postID, 10)
}

func NewPublishTask(postID int64) (*asynq.Task, error) {
	payload, err := json.Marshal(PublishPostPayload{PostID: postID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePublishPost, payload), nil
}

func (q *Queue) EnqueuePublish(ctx context.Context, postID int64, at time.Time) error {
	task, err := NewPublishTask(postID)
	if err != nil {
		return err
	}

	info, err := q.enqueue(ctx, task, postID, at)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		var replaced bool
		replaced, err = q.releaseFinished(postID)
		if err != nil {
			return err
		}
		if !replaced {
			slog.Debug("publish task already queued", "post_id", postID)
			return nil
		}
		info, err = q.enqueue(ctx, task, postID, at)
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
	}
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	slog.Info("publish task scheduled", "post_id", postID, "task_id", info.ID, "process_at", at)
	return nil
}

func (q *Queue) enqueue(ctx context.Context, task *asynq.Task, postID int64, at time.Time) (*asynq.TaskInfo, error) {
	return q.client.EnqueueContext(ctx, task,
		asynq.TaskID(TaskID(postID)),
		asynq.Queue(QueueName),
		asynq.ProcessAt(at),
		asynq.MaxRetry(MaxRetry))
}

// releaseFinished deletes the task holding the id of the post when it will
// never run again, so a new publish task can take the id. Pending, scheduled,
// retry and active tasks are left alone.
func (q *Queue) releaseFinished(postID int64) (bool, error) {
	id := TaskID(postID)
	info, err := q.inspector.GetTaskInfo(QueueName, id)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		// Gone between the enqueue and the lookup.
		return true, nil
	}
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	if info.State != asynq.TaskStateArchived && info.State != asynq.TaskStateCompleted {
		return false, nil
	}

	if err := q.inspector.DeleteTask(QueueName, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		slog.Info(err.Error())
		return false, err
	}
	slog.Info("replacing finished publish task", "post_id", postID, "state", info.State.String())
	return true, nil
}

func (q *Queue) CancelPublish(ctx context.Context, postID int64) error {
	err := q.inspector.DeleteTask(QueueName, TaskID(postID))
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	return err
}
