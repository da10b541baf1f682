package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"log/slog"
	"math"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/utils"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	jpegStartQuality = 85
	jpegQualityStep  = 5
	jpegMinQuality   = 50
)

var allowedUploadTypes = map[string]struct{}{
	"jpg": {}, "png": {}, "gif": {}, "webp": {},
}

type NormalizedMedia struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	Quality     int
}

type MediaService interface {
	Upload(ctx context.Context, userID int64, fileName string, data []byte) (*models.MediaAsset, error)
	Get(ctx context.Context, userID, assetID int64) (*models.MediaAsset, error)
	Fetch(ctx context.Context, assetID int64) ([]byte, *models.MediaAsset, error)
	Prepare(ctx context.Context, data []byte, spec MediaSpec) (*NormalizedMedia, error)
	StoreRendition(ctx context.Context, postID int64, platform models.Platform, index int, media *NormalizedMedia) (string, error)
}

type mediaService struct {
	store    ObjectStore
	ma       repository.MediaAssetRepository
	maxBytes int64
}

func NewMediaService(store ObjectStore, ma repository.MediaAssetRepository, maxUploadBytes int64) MediaService {
	return &mediaService{
		store:    store,
		ma:       ma,
		maxBytes: maxUploadBytes,
	}
}

func (s *mediaService) Upload(ctx context.Context, userID int64, fileName string, data []byte) (*models.MediaAsset, error) {
	if len(data) == 0 {
		return nil, apperror.InvalidRequest("file is empty", "file")
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, apperror.MediaTooLarge("file is %d bytes, limit is %d", len(data), s.maxBytes)
	}

	kind, err := filetype.Match(data)
	if err != nil || kind == types.Unknown {
		return nil, apperror.InvalidRequest("unsupported file type", "file")
	}
	if _, ok := allowedUploadTypes[kind.Extension]; !ok {
		return nil, apperror.InvalidRequest(fmt.Sprintf("file type %s is not allowed", kind.Extension), "file")
	}

	imgCfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		slog.Info(err.Error())
		return nil, apperror.InvalidRequest("image could not be decoded", "file")
	}

	key, err := utils.NewStorageKey(fmt.Sprintf("uploads/%d", userID), kind.Extension)
	if err != nil {
		return nil, fmt.Errorf("failed to generate storage key: %w", err)
	}

	if err := s.store.Put(ctx, key, data, kind.MIME.Value); err != nil {
		return nil, err
	}

	asset := &models.MediaAsset{
		UserID:     userID,
		FileName:   fileName,
		StorageKey: key,
		FileType:   kind.MIME.Value,
		FileSize:   int64(len(data)),
		Width:      imgCfg.Width,
		Height:     imgCfg.Height,
		FileURL:    s.store.PublicURL(key),
	}

	id, err := s.ma.Create(ctx, nil, asset)
	if err != nil {
		return nil, fmt.Errorf("failed to save media asset: %w", err)
	}
	asset.ID = id

	return asset, nil
}

func (s *mediaService) Get(ctx context.Context, userID, assetID int64) (*models.MediaAsset, error) {
	asset, err := s.ma.GetByID(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset == nil || asset.UserID != userID {
		return nil, apperror.NotFound("media %d not found", assetID)
	}
	return asset, nil
}

func (s *mediaService) Fetch(ctx context.Context, assetID int64) ([]byte, *models.MediaAsset, error) {
	asset, err := s.ma.GetByID(ctx, assetID)
	if err != nil {
		return nil, nil, err
	}
	if asset == nil {
		return nil, nil, apperror.NotFound("media %d not found", assetID)
	}

	data, err := s.store.Get(ctx, asset.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	return data, asset, nil
}

func (s *mediaService) Prepare(ctx context.Context, data []byte, spec MediaSpec) (*NormalizedMedia, error) {
	out, err := Normalize(data, spec)
	if err != nil {
		metrics.MediaNormalizeTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.MediaNormalizeTotal.WithLabelValues("ok").Inc()
	return out, nil
}

func (s *mediaService) StoreRendition(ctx context.Context, postID int64, platform models.Platform, index int, media *NormalizedMedia) (string, error) {
	ext := "jpg"
	if media.ContentType == "image/png" {
		ext = "png"
	}
	key := fmt.Sprintf("renditions/%d/%s/%d.%s", postID, platform, index, ext)
	if err := s.store.Put(ctx, key, media.Data, media.ContentType); err != nil {
		return "", err
	}
	return s.store.PublicURL(key), nil
}

// Normalize crops and scales the image to exactly spec.Width x spec.Height,
// then lowers JPEG quality until the result fits spec.MaxBytes.
func Normalize(data []byte, spec MediaSpec) (*NormalizedMedia, error) {
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, errors.New("media spec must have positive dimensions")
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperror.InvalidRequest("image could not be decoded", "image_ids")
	}

	flat := flatten(src)
	cropped := cropToRatio(flat, float64(spec.Width)/float64(spec.Height), spec.AspectTolerance)

	dst := image.NewRGBA(image.Rect(0, 0, spec.Width, spec.Height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), cropped, cropped.Bounds(), draw.Src, nil)

	if spec.allows("jpeg") {
		return encodeJPEGWithin(dst, spec)
	}
	if spec.allows("png") {
		var buf bytes.Buffer
		if err := png.Encode(&buf, dst); err != nil {
			return nil, fmt.Errorf("failed to encode png: %w", err)
		}
		if spec.MaxBytes > 0 && int64(buf.Len()) > spec.MaxBytes {
			return nil, apperror.MediaTooLarge("png rendition is %d bytes, limit is %d", buf.Len(), spec.MaxBytes)
		}
		return &NormalizedMedia{Data: buf.Bytes(), ContentType: "image/png", Width: spec.Width, Height: spec.Height}, nil
	}
	return nil, apperror.InvalidRequest("no supported output format", "formats")
}

func encodeJPEGWithin(img image.Image, spec MediaSpec) (*NormalizedMedia, error) {
	var lastSize int
	for q := jpegStartQuality; q >= jpegMinQuality; q -= jpegQualityStep {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg: %w", err)
		}
		lastSize = buf.Len()
		if spec.MaxBytes <= 0 || int64(lastSize) <= spec.MaxBytes {
			return &NormalizedMedia{
				Data:        buf.Bytes(),
				ContentType: "image/jpeg",
				Width:       spec.Width,
				Height:      spec.Height,
				Quality:     q,
			}, nil
		}
	}
	return nil, apperror.MediaTooLarge("rendition is %d bytes at quality %d, limit is %d", lastSize, jpegMinQuality, spec.MaxBytes)
}

// flatten draws the image over white so transparent areas do not turn black in JPEG.
func flatten(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

// cropToRatio center-crops img to ratio (width/height) when it differs by more than tolerance.
func cropToRatio(img *image.RGBA, ratio, tolerance float64) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	current := float64(w) / float64(h)

	if math.Abs(current-ratio)/ratio <= tolerance {
		return img
	}

	var rect image.Rectangle
	if current > ratio {
		newW := int(math.Round(float64(h) * ratio))
		x0 := (w - newW) / 2
		rect = image.Rect(x0, 0, x0+newW, h)
	} else {
		newH := int(math.Round(float64(w) / ratio))
		y0 := (h - newH) / 2
		rect = image.Rect(0, y0, w, y0+newH)
	}
	return img.SubImage(rect.Add(b.Min))
}
