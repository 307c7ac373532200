// Package archive keeps a copy of every published CSV in an
// S3-compatible bucket, one object per source per run.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/archive")

type Config struct {
	// host:port of the S3 endpoint, empty disables archiving
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	UseSSL    bool   `json:"use_ssl"`
	Bucket    string `json:"bucket"`
	// key prefix inside the bucket, e.g. "citizen-connect"
	Prefix string `json:"prefix"`
}

func (c Config) Enabled() bool {
	return c.Endpoint != ""
}

type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewStore(config Config) (*Store, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to archive endpoint: %w", err)
	}
	return &Store{
		client: client,
		bucket: config.Bucket,
		prefix: config.Prefix,
	}, nil
}

// Put writes one run artifact and returns its object key. The bucket
// is created on first use.
func (s *Store) Put(ctx context.Context, source string, runTime time.Time, csv []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "Put")
	defer span.End()
	span.SetAttributes(
		attribute.String("source", source),
		attribute.Int("csv_bytes", len(csv)),
	)

	err := s.ensureBucket(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to ensure archive bucket")
		return "", err
	}

	key := path.Join(s.prefix, source, runTime.UTC().Format(time.RFC3339)+".csv")
	_, err = s.client.PutObject(
		ctx, s.bucket, key,
		bytes.NewReader(csv), int64(len(csv)),
		minio.PutObjectOptions{ContentType: "text/csv"},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write archive object")
		return "", fmt.Errorf("archive %s: %w", key, err)
	}

	slog.InfoContext(
		ctx, "archived run artifact",
		"bucket", s.bucket,
		"key", key,
	)
	return key, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check archive bucket: %w", err)
	}
	if exists {
		return nil
	}
	err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	if err != nil {
		return fmt.Errorf("create archive bucket: %w", err)
	}
	return nil
}
