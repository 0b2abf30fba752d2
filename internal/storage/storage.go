// Package storage defines the Provider interface for object storage backends.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when no object exists at the requested key.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// Part identifies one completed chunk of a multipart upload. Token is the
// opaque completion token returned by the backend (an ETag for S3-style
// stores) and must be echoed back verbatim on completion.
type Part struct {
	Number int    `json:"part_number"`
	Token  string `json:"completion_token"`
	Size   int64  `json:"size"`
}

// Provider abstracts object storage operations.
//
// Move is copy-then-delete: the backing stores offer no atomic rename, so
// a failure after the copy can leave both keys present. Pending keys are
// invisible to readers and reclaimed by lifecycle cleanup, which makes
// that outcome acceptable.
type Provider interface {
	// Put writes data to storage under the given key.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	// Open returns a reader for the given storage key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Stat returns object metadata, or ErrNotFound.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
	// Move copies src to dst and deletes src.
	Move(ctx context.Context, src, dst string) error

	// PresignPut returns a time-limited pre-authorized write URL for key.
	PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error)

	// CreateMultipart opens a multipart session for key and returns its id.
	CreateMultipart(ctx context.Context, key, contentType string) (string, error)
	// PutPart streams one chunk into an open multipart session.
	PutPart(ctx context.Context, key, uploadID string, partNumber int, reader io.Reader, size int64) (Part, error)
	// CompleteMultipart assembles the object from parts. Parts must be
	// sorted by part number by the caller.
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) error
	// AbortMultipart discards an open multipart session.
	AbortMultipart(ctx context.Context, key, uploadID string) error

	// PublicURL returns the consumer-facing URL for a permanent key.
	PublicURL(key string) string
}
