package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	cfg "github.com/maheshrc27/postflow/configs"
)

// ObjectStore keeps uploaded originals and generated renditions.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	PublicURL(key string) string
}

type r2Store struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

// NewR2Store builds an S3 client against Cloudflare R2, or against R2.Endpoint when set.
func NewR2Store(ctx context.Context, r2 cfg.R2) (ObjectStore, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(r2.AccessKey, r2.SecretKey, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to load r2 config: %w", err)
	}

	endpoint := r2.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", r2.AccountID)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = r2.Endpoint != ""
	})

	return &r2Store{
		client:    client,
		bucket:    r2.BucketName,
		publicURL: strings.TrimRight(r2.PublicURL, "/"),
	}, nil
}

func (r *r2Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	}

	if _, err := r.client.PutObject(ctx, input); err != nil {
		slog.Info(err.Error())
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

func (r *r2Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

func (r *r2Store) PublicURL(key string) string {
	return r.publicURL + "/" + key
}
