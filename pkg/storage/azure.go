package storage

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ Store = (*AzureStore)(nil)

const blobCacheControl = "private, max-age=0, no-cache"

// AzureStore keeps derived media in an Azure Blob container.
type AzureStore struct {
	client    *azblob.Client
	container string
	now       func() time.Time
}

// NewAzureStore authenticates with a shared key so signed URLs can be minted
// locally.
func NewAzureStore(accountName, accountKey, serviceURL, container string) (*AzureStore, error) {
	if container == "" {
		return nil, errors.New("container is required")
	}

	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, err
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, err
	}

	return NewAzureStoreFromClient(client, container), nil
}

// NewAzureStoreFromConnectionString builds a store from an account connection
// string containing an AccountKey.
func NewAzureStoreFromConnectionString(connectionString, container string) (*AzureStore, error) {
	if container == "" {
		return nil, errors.New("container is required")
	}

	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, err
	}

	return NewAzureStoreFromClient(client, container), nil
}

// NewAzureStoreFromClient wraps an existing client. container must belong to
// the client's storage account.
func NewAzureStoreFromClient(client *azblob.Client, container string) *AzureStore {
	return &AzureStore{client: client, container: container, now: time.Now}
}

func (s *AzureStore) EnsureContainer(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "AzureStore.EnsureContainer", trace.WithAttributes(
		attribute.String("container", s.container),
	))
	defer span.End()

	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create container")
		return err
	}

	span.SetStatus(codes.Ok, "container ready")
	return nil
}

func (s *AzureStore) UploadFile(ctx context.Context, remotePath, localPath, contentType string) error {
	ctx, span := tracer.Start(ctx, "AzureStore.UploadFile", trace.WithAttributes(
		attribute.String("remote_path", remotePath),
		attribute.String("content_type", contentType),
	))
	defer span.End()

	file, err := os.Open(localPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open local file")
		return err
	}
	defer file.Close()

	_, err = s.client.UploadFile(ctx, s.container, remotePath, file, &azblob.UploadFileOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType:  to.Ptr(contentType),
			BlobCacheControl: to.Ptr(blobCacheControl),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload file")
		return err
	}

	span.SetStatus(codes.Ok, "uploaded file")
	return nil
}

// SignReadURL mints a read-only blob SAS whose validity starts SignatureSkew
// in the past and ends ttl from now.
func (s *AzureStore) SignReadURL(ctx context.Context, remotePath string, ttl time.Duration) (string, error) {
	_, span := tracer.Start(ctx, "AzureStore.SignReadURL", trace.WithAttributes(
		attribute.String("remote_path", remotePath),
		attribute.String("ttl", ttl.String()),
	))
	defer span.End()

	now := s.now().UTC()
	start := now.Add(-SignatureSkew)

	signed, err := s.client.ServiceClient().
		NewContainerClient(s.container).
		NewBlobClient(remotePath).
		GetSASURL(sas.BlobPermissions{Read: true}, now.Add(ttl), &blob.GetSASURLOptions{StartTime: &start})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to sign url")
		return "", err
	}

	span.SetStatus(codes.Ok, "signed url")
	return signed, nil
}
