package queue

import (
	"context"

	"github.com/hibiken/asynq"
)

const (
	TaskTypePublishPost = "post:publish"
	// QueueName is the asynq queue publish tasks are placed on.
	QueueName = "default"
	// MaxRetry covers failures before the post is claimed; a claimed post
	// always finishes in a terminal status and is never republished.
	MaxRetry = 3
)

type PublishPostPayload struct {
	PostID int64 `json:"post_id"`
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type taskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

// Queue defers publishing of scheduled posts to the asynq worker pool.
type Queue struct {
	client    enqueuer
	inspector taskInspector
}

func NewQueue(client *asynq.Client, inspector *asynq.Inspector) *Queue {
	return &Queue{
		client:    client,
		inspector: inspector,
	}
}
