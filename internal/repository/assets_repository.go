package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/lib/pq"
	"github.com/maheshrc27/postflow/internal/models"
)

type MediaAssetRepository interface {
	Create(ctx context.Context, tx *sql.Tx, ma *models.MediaAsset) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.MediaAsset, error)
	// CountOwned returns how many of ids belong to userID.
	CountOwned(ctx context.Context, userID int64, ids []int64) (int, error)
}

type mediaAssetRepository struct {
	db *sql.DB
}

func NewMediaAssetRepository(db *sql.DB) MediaAssetRepository {
	return &mediaAssetRepository{db: db}
}

func (r *mediaAssetRepository) Create(ctx context.Context, tx *sql.Tx, ma *models.MediaAsset) (int64, error) {
	var id int64
	var err error

	query := `
		INSERT INTO media_assets (user_id, file_name, storage_key, file_type, file_size, width, height, file_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	args := []any{ma.UserID, ma.FileName, ma.StorageKey, ma.FileType, ma.FileSize, ma.Width, ma.Height, ma.FileURL}

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

func (r *mediaAssetRepository) GetByID(ctx context.Context, id int64) (*models.MediaAsset, error) {
	query := `
		SELECT id, user_id, file_name, storage_key, file_type, file_size, width, height, file_url, created_at
		FROM media_assets
		WHERE id = $1
	`

	var ma models.MediaAsset
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&ma.ID,
		&ma.UserID,
		&ma.FileName,
		&ma.StorageKey,
		&ma.FileType,
		&ma.FileSize,
		&ma.Width,
		&ma.Height,
		&ma.FileURL,
		&ma.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &ma, nil
}

func (r *mediaAssetRepository) CountOwned(ctx context.Context, userID int64, ids []int64) (int, error) {
	query := `SELECT COUNT(DISTINCT id) FROM media_assets WHERE user_id = $1 AND id = ANY($2)`

	var count int
	if err := r.db.QueryRowContext(ctx, query, userID, pq.Array(ids)).Scan(&count); err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return count, nil
}
