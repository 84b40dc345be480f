package storage

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/wenwu/saas-platform/vps-service/internal/models"
)

// S3Provider stores archives in an S3-compatible bucket (AWS, MinIO, Ceph RGW).
type S3Provider struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

func NewS3Provider(st *models.BackupStorage) (*S3Provider, error) {
	bucket := strOrEmpty(st.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 storage %s has no bucket configured", st.Name)
	}

	cfg := aws.NewConfig().
		WithCredentials(credentials.NewStaticCredentials(strOrEmpty(st.AccessKey), strOrEmpty(st.SecretKey), "")).
		WithRegion(strOrEmpty(st.Region))

	// Non-AWS endpoints (MinIO) need path-style addressing.
	if endpoint := strOrEmpty(st.Endpoint); endpoint != "" {
		cfg = cfg.WithEndpoint(endpoint).WithS3ForcePathStyle(true)
	}
	if cfg.Region == nil || *cfg.Region == "" {
		cfg = cfg.WithRegion("us-east-1")
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("create s3 session: %w", err)
	}

	return &S3Provider{
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		bucket:   bucket,
		prefix:   strOrEmpty(st.Directory),
	}, nil
}

func (p *S3Provider) key(remotePath string) string {
	if p.prefix == "" {
		return remotePath
	}
	return path.Join(p.prefix, remotePath)
}

func (p *S3Provider) Store(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	_, err = p.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(remotePath)),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("upload to s3: %w", err)
	}
	return nil
}

func (p *S3Provider) Fetch(ctx context.Context, remotePath, localPath string) error {
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}
	defer f.Close()

	downloader := s3manager.NewDownloaderWithClient(p.client)
	_, err = downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(remotePath)),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	return nil
}

func (p *S3Provider) Delete(ctx context.Context, remotePath string) error {
	_, err := p.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(remotePath)),
	})
	if err != nil {
		return fmt.Errorf("delete from s3: %w", err)
	}
	return nil
}

func (p *S3Provider) UsedBytes(ctx context.Context) (int64, error) {
	var total int64
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
	}
	if p.prefix != "" {
		input.Prefix = aws.String(p.prefix)
	}

	err := p.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, last bool) bool {
		for _, obj := range page.Contents {
			if obj.Size != nil {
				total += *obj.Size
			}
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("list s3 objects: %w", err)
	}
	return total, nil
}

func (p *S3Provider) Ping(ctx context.Context) error {
	_, err := p.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(p.bucket),
	})
	if err != nil {
		return fmt.Errorf("head bucket %s: %w", p.bucket, err)
	}
	return nil
}
