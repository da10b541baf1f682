package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/service"
)

type Worker struct {
	posts service.PostService
}

func NewWorker(posts service.PostService) *Worker {
	return &Worker{posts: posts}
}

func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskTypePublishPost, w.HandlePublishPostTask)
}

func (w *Worker) HandlePublishPostTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishPostPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid publish payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.PostID == 0 {
		return fmt.Errorf("publish payload has no post id: %w", asynq.SkipRetry)
	}

	post, err := w.posts.PublishScheduled(ctx, payload.PostID)
	if err != nil {
		slog.Error("scheduled publish failed", "post_id", payload.PostID, "error", err.Error())
		return err
	}
	if post != nil {
		slog.Info("scheduled post processed", "post_id", post.ID, "status", post.Status)
	}
	return nil
}
