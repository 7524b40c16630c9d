package storage

import (
	"context"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ Store = (*MinioStore)(nil)

// maxPresignTTL is the longest expiry accepted by S3 signature v4.
const maxPresignTTL = 7 * 24 * time.Hour

// MinioStore keeps derived media in an S3 compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	region string
}

// NewMinioStore connects to an S3 compatible endpoint. The region is fixed so
// presigning never needs a bucket location lookup.
func NewMinioStore(endpoint, accessKey, secretKey string, ssl bool, region, bucket string) (*MinioStore, error) {
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: ssl,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	return &MinioStore{client: client, bucket: bucket, region: region}, nil
}

func (s *MinioStore) EnsureContainer(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "MinioStore.EnsureContainer", trace.WithAttributes(
		attribute.String("bucket", s.bucket),
	))
	defer span.End()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to check bucket")
		return err
	}
	if exists {
		span.SetStatus(codes.Ok, "bucket exists")
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		if minio.ToErrorResponse(err).Code == "BucketAlreadyOwnedByYou" {
			span.SetStatus(codes.Ok, "bucket exists")
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to make bucket")
		return err
	}

	span.SetStatus(codes.Ok, "bucket created")
	return nil
}

func (s *MinioStore) UploadFile(ctx context.Context, remotePath, localPath, contentType string) error {
	ctx, span := tracer.Start(ctx, "MinioStore.UploadFile", trace.WithAttributes(
		attribute.String("remote_path", remotePath),
		attribute.String("content_type", contentType),
	))
	defer span.End()

	_, err := s.client.FPutObject(ctx, s.bucket, remotePath, localPath, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: blobCacheControl,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put object")
		return err
	}

	span.SetStatus(codes.Ok, "put object")
	return nil
}

// SignReadURL presigns a GET request. S3 signatures carry no start time, so
// only the expiry is applied.
func (s *MinioStore) SignReadURL(ctx context.Context, remotePath string, ttl time.Duration) (string, error) {
	ctx, span := tracer.Start(ctx, "MinioStore.SignReadURL", trace.WithAttributes(
		attribute.String("remote_path", remotePath),
		attribute.String("ttl", ttl.String()),
	))
	defer span.End()

	if ttl > maxPresignTTL {
		ttl = maxPresignTTL
	}

	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, remotePath, ttl, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to presign url")
		return "", err
	}

	span.SetStatus(codes.Ok, "presigned url")
	return presigned.String(), nil
}
