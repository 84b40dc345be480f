package storage

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/wenwu/saas-platform/vps-service/internal/models"
)

// AzureProvider stores archives in one Azure Blob Storage container. The
// storage row maps account name to AccessKey and account key to SecretKey.
type AzureProvider struct {
	client    *azblob.Client
	container string
	prefix    string
}

func NewAzureProvider(st *models.BackupStorage) (*AzureProvider, error) {
	account := strOrEmpty(st.AccessKey)
	key := strOrEmpty(st.SecretKey)
	container := strOrEmpty(st.Bucket)
	if account == "" || key == "" || container == "" {
		return nil, fmt.Errorf("azure storage %s is missing account, key or container", st.Name)
	}

	cred, err := azblob.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("create azure credential: %w", err)
	}

	endpoint := strOrEmpty(st.Endpoint)
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", account)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure client: %w", err)
	}

	return &AzureProvider{
		client:    client,
		container: container,
		prefix:    strOrEmpty(st.Directory),
	}, nil
}

func (p *AzureProvider) blobName(remotePath string) string {
	if p.prefix == "" {
		return remotePath
	}
	return path.Join(p.prefix, remotePath)
}

func (p *AzureProvider) Store(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	_, err = p.client.UploadFile(ctx, p.container, p.blobName(remotePath), f, nil)
	if err != nil {
		return fmt.Errorf("upload to azure: %w", err)
	}
	return nil
}

func (p *AzureProvider) Fetch(ctx context.Context, remotePath, localPath string) error {
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}
	defer f.Close()

	_, err = p.client.DownloadFile(ctx, p.container, p.blobName(remotePath), f, nil)
	if err != nil {
		return fmt.Errorf("download from azure: %w", err)
	}
	return nil
}

func (p *AzureProvider) Delete(ctx context.Context, remotePath string) error {
	_, err := p.client.DeleteBlob(ctx, p.container, p.blobName(remotePath), nil)
	if err != nil {
		return fmt.Errorf("delete from azure: %w", err)
	}
	return nil
}

func (p *AzureProvider) UsedBytes(ctx context.Context) (int64, error) {
	var total int64
	opts := &azblob.ListBlobsFlatOptions{}
	if p.prefix != "" {
		opts.Prefix = &p.prefix
	}

	pager := p.client.NewListBlobsFlatPager(p.container, opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("list azure blobs: %w", err)
		}
		for _, blob := range page.Segment.BlobItems {
			if blob.Properties != nil && blob.Properties.ContentLength != nil {
				total += *blob.Properties.ContentLength
			}
		}
	}
	return total, nil
}

func (p *AzureProvider) Ping(ctx context.Context) error {
	pager := p.client.NewListBlobsFlatPager(p.container, &azblob.ListBlobsFlatOptions{
		MaxResults: ptr(int32(1)),
	})
	if pager.More() {
		if _, err := pager.NextPage(ctx); err != nil {
			return fmt.Errorf("probe container %s: %w", p.container, err)
		}
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
