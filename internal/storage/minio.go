package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioProvider implements Provider against any S3-compatible store via
// minio-go. Multipart operations use the low-level Core API so parts can
// be streamed independently and assembled by part number.
type MinioProvider struct {
	core          *minio.Core
	bucket        string
	publicBaseURL string
}

// MinioConfig holds connection parameters for the object store.
type MinioConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
}

// NewMinioProvider connects to the object store. It does not verify the
// bucket exists; callers can Stat a probe key at startup if they want an
// early reachability check.
func NewMinioProvider(cfg MinioConfig) (*MinioProvider, error) {
	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}
	return &MinioProvider{
		core:          core,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

func (p *MinioProvider) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := p.core.Client.PutObject(ctx, p.bucket, key, reader, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (p *MinioProvider) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	// GetObject defers errors until first read; stat first so missing
	// keys surface as ErrNotFound instead of a read failure later.
	if _, err := p.Stat(ctx, key); err != nil {
		return nil, err
	}
	obj, err := p.core.Client.GetObject(ctx, p.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return obj, nil
}

func (p *MinioProvider) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	info, err := p.core.Client.StatObject(ctx, p.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return ObjectInfo{}, ErrNotFound
		}
		return ObjectInfo{}, fmt.Errorf("stat %s: %w", key, err)
	}
	return ObjectInfo{Key: key, Size: info.Size, ContentType: info.ContentType}, nil
}

func (p *MinioProvider) Delete(ctx context.Context, key string) error {
	if err := p.core.Client.RemoveObject(ctx, p.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Move is copy-then-delete; not atomic. A crash between the two calls
// leaves both keys present, which the pending-key lifecycle tolerates.
func (p *MinioProvider) Move(ctx context.Context, src, dst string) error {
	_, err := p.core.Client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: p.bucket, Object: dst},
		minio.CopySrcOptions{Bucket: p.bucket, Object: src},
	)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return ErrNotFound
		}
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	if err := p.core.Client.RemoveObject(ctx, p.bucket, src, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s after copy: %w", src, err)
	}
	return nil
}

func (p *MinioProvider) PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := p.core.Client.PresignedPutObject(ctx, p.bucket, key, expiry)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func (p *MinioProvider) CreateMultipart(ctx context.Context, key, contentType string) (string, error) {
	uploadID, err := p.core.NewMultipartUpload(ctx, p.bucket, key, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("create multipart %s: %w", key, err)
	}
	return uploadID, nil
}

func (p *MinioProvider) PutPart(ctx context.Context, key, uploadID string, partNumber int, reader io.Reader, size int64) (Part, error) {
	part, err := p.core.PutObjectPart(ctx, p.bucket, key, uploadID, partNumber, reader, size, minio.PutObjectPartOptions{})
	if err != nil {
		return Part{}, fmt.Errorf("put part %d of %s: %w", partNumber, key, err)
	}
	return Part{Number: part.PartNumber, Token: part.ETag, Size: part.Size}, nil
}

func (p *MinioProvider) CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) error {
	complete := make([]minio.CompletePart, len(parts))
	for i, part := range parts {
		complete[i] = minio.CompletePart{PartNumber: part.Number, ETag: part.Token}
	}
	_, err := p.core.CompleteMultipartUpload(ctx, p.bucket, key, uploadID, complete, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("complete multipart %s: %w", key, err)
	}
	return nil
}

func (p *MinioProvider) AbortMultipart(ctx context.Context, key, uploadID string) error {
	if err := p.core.AbortMultipartUpload(ctx, p.bucket, key, uploadID); err != nil {
		return fmt.Errorf("abort multipart %s: %w", key, err)
	}
	return nil
}

func (p *MinioProvider) PublicURL(key string) string {
	if p.publicBaseURL == "" {
		return "/" + key
	}
	return p.publicBaseURL + "/" + key
}
