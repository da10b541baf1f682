package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/maheshrc27/postflow/internal/models"
)

type PostRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error)
	// CreateWithMedia inserts the post and its ordered image links in one transaction.
	CreateWithMedia(ctx context.Context, post *models.Post) (int64, error)
	GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error)
	// TransitionStatus moves the post to `to` only if its current status is one of `from`.
	TransitionStatus(ctx context.Context, postID int64, from []models.PostStatus, to models.PostStatus) (bool, error)
	// CompletePublish writes the final status and every platform result in one update.
	CompletePublish(ctx context.Context, postID int64, status models.PostStatus, results models.PlatformResults, publishedAt time.Time) (bool, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error)
	// ListStale returns processing posts last updated before the cutoff.
	ListStale(ctx context.Context, before time.Time, limit int) ([]*models.Post, error)
}

type postRepository struct {
	db *sql.DB
	pm PostMediaRepository
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{
		db: db,
		pm: NewPostMediaRepository(db),
	}
}

const postColumns = `id, user_id, caption, title, link, targets, auto_hashtags, scheduled_for, status, platform_results, published_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*models.Post, error) {
	var post models.Post
	var scheduledFor, publishedAt sql.NullTime
	err := row.Scan(&post.ID, &post.UserID, &post.Caption, &post.Title, &post.Link, &post.Targets,
		&post.AutoHashtags, &scheduledFor, &post.Status, &post.PlatformResults, &publishedAt,
		&post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if scheduledFor.Valid {
		post.ScheduledFor = &scheduledFor.Time
	}
	if publishedAt.Valid {
		post.PublishedAt = &publishedAt.Time
	}
	return &post, nil
}

func (r *postRepository) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	query := `
		INSERT INTO posts (user_id, caption, title, link, targets, auto_hashtags, scheduled_for, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	args := []any{post.UserID, post.Caption, post.Title, post.Link, post.Targets, post.AutoHashtags, post.ScheduledFor, post.Status}

	var id int64
	var err error

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *postRepository) CreateWithMedia(ctx context.Context, post *models.Post) (id int64, err error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	id, err = r.Create(ctx, tx, post)
	if err != nil {
		return 0, err
	}

	for i, assetID := range post.ImageIDs {
		err = r.pm.Create(ctx, tx, &models.PostMedia{PostID: id, AssetID: assetID, DisplayOrder: i})
		if err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(); err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return id, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`

	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return post, nil
}

func (r *postRepository) GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return posts, nil
}

func (r *postRepository) TransitionStatus(ctx context.Context, postID int64, from []models.PostStatus, to models.PostStatus) (bool, error) {
	query := `
		UPDATE posts
		SET status = $1,
			updated_at = $2
		WHERE id = $3 AND status = ANY($4)
	`

	fromStatuses := make([]string, len(from))
	for i, s := range from {
		fromStatuses[i] = string(s)
	}

	result, err := r.db.ExecContext(ctx, query, to, time.Now(), postID, pq.Array(fromStatuses))
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}

func (r *postRepository) CompletePublish(ctx context.Context, postID int64, status models.PostStatus, results models.PlatformResults, publishedAt time.Time) (bool, error) {
	query := `
		UPDATE posts
		SET status = $1,
			platform_results = $2,
			published_at = $3,
			updated_at = $3
		WHERE id = $4 AND status = $5
	`

	result, err := r.db.ExecContext(ctx, query, status, results, publishedAt, postID, models.PostStatusProcessing)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}

func (r *postRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts
		WHERE status = $1 AND scheduled_for <= $2
		ORDER BY scheduled_for
		LIMIT $3`

	return r.list(ctx, query, models.PostStatusScheduled, now, limit)
}

func (r *postRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`

	return r.list(ctx, query, models.PostStatusProcessing, before, limit)
}

func (r *postRepository) list(ctx context.Context, query string, args ...any) ([]*models.Post, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return posts, nil
}
