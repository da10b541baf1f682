package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/maheshrc27/postflow/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func noisePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	rnd := rand.New(rand.NewSource(1))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(rnd.Intn(256))
	}
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func TestNormalizeExactDimensions(t *testing.T) {
	src := solidPNG(t, 1920, 1080, color.RGBA{R: 200, G: 10, B: 10, A: 255})

	for _, tc := range []struct {
		platform string
		spec     MediaSpec
	}{
		{"instagram square", platformSpecs["instagram"]["feed_square"]},
		{"facebook feed", platformSpecs["facebook"]["feed"]},
		{"pinterest pin", platformSpecs["pinterest"]["pin"]},
		{"x tweet", platformSpecs["x"]["tweet"]},
	} {
		t.Run(tc.platform, func(t *testing.T) {
			out, err := Normalize(src, tc.spec)
			require.NoError(t, err)

			w, h := decodeSize(t, out.Data)
			assert.Equal(t, tc.spec.Width, w)
			assert.Equal(t, tc.spec.Height, h)
			assert.Equal(t, "image/jpeg", out.ContentType)
			assert.Equal(t, jpegStartQuality, out.Quality)
			assert.LessOrEqual(t, int64(len(out.Data)), tc.spec.MaxBytes)
		})
	}
}

func TestNormalizeFlattensTransparency(t *testing.T) {
	src := solidPNG(t, 400, 400, color.RGBA{})
	out, err := Normalize(src, MediaSpec{Width: 100, Height: 100, MaxBytes: mb})
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
	r, g, b, _ := img.At(50, 50).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func TestNormalizeLowersQualityUntilItFits(t *testing.T) {
	src := noisePNG(t, 300, 300)

	full, err := Normalize(src, MediaSpec{Width: 300, Height: 300})
	require.NoError(t, err)
	require.Equal(t, jpegStartQuality, full.Quality)

	budget := int64(len(full.Data)) - 1
	out, err := Normalize(src, MediaSpec{Width: 300, Height: 300, MaxBytes: budget})
	require.NoError(t, err)
	assert.Less(t, out.Quality, jpegStartQuality)
	assert.GreaterOrEqual(t, out.Quality, jpegMinQuality)
	assert.LessOrEqual(t, int64(len(out.Data)), budget)
}

func TestNormalizeMediaTooLarge(t *testing.T) {
	src := noisePNG(t, 300, 300)

	_, err := Normalize(src, MediaSpec{Width: 300, Height: 300, MaxBytes: 200})
	require.Error(t, err)
	assert.Equal(t, apperror.KindMediaTooLarge, apperror.KindOf(err))
}

func TestNormalizePNGOnly(t *testing.T) {
	src := solidPNG(t, 200, 100, color.Black)

	out, err := Normalize(src, MediaSpec{Width: 50, Height: 50, Formats: []string{"png"}, MaxBytes: mb})
	require.NoError(t, err)
	assert.Equal(t, "image/png", out.ContentType)

	cfg, err := png.DecodeConfig(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, err := Normalize([]byte("not an image"), MediaSpec{Width: 10, Height: 10})
	assert.Equal(t, apperror.KindInvalidRequest, apperror.KindOf(err))
}

func TestCropToRatioCentered(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1920, 1080))

	cropped := cropToRatio(img, 1.0, 0.02)
	assert.Equal(t, image.Rect(420, 0, 1500, 1080), cropped.Bounds())

	within := cropToRatio(img, 1920.0/1080.0, 0.02)
	assert.Equal(t, img.Bounds(), within.Bounds())
}

func TestMediaUploadStoresOriginal(t *testing.T) {
	store := newFakeStore()
	assets := newFakeAssetRepo()
	svc := NewMediaService(store, assets, 10*mb)

	data := solidPNG(t, 640, 480, color.White)
	asset, err := svc.Upload(context.Background(), 3, "photo.png", data)
	require.NoError(t, err)

	assert.Equal(t, 640, asset.Width)
	assert.Equal(t, 480, asset.Height)
	assert.Equal(t, "image/png", asset.FileType)
	assert.Equal(t, int64(len(data)), asset.FileSize)
	assert.Contains(t, store.objects, asset.StorageKey)

	fetched, got, err := svc.Fetch(context.Background(), asset.ID)
	require.NoError(t, err)
	assert.Equal(t, data, fetched)
	assert.Equal(t, asset.ID, got.ID)
}

func TestMediaUploadRejectsNonImages(t *testing.T) {
	svc := NewMediaService(newFakeStore(), newFakeAssetRepo(), 10*mb)

	_, err := svc.Upload(context.Background(), 3, "notes.txt", []byte("plain text file"))
	assert.Equal(t, apperror.KindInvalidRequest, apperror.KindOf(err))
}
