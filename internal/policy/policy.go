// Package policy holds upload policy gates: size ceilings, allowlists,
// visibility values, and the global uploads-enabled flag.
package policy

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cardshelf/cardshelf/internal/config"
)

// Sentinel errors for policy violations.
var (
	ErrUploadsDisabled       = errors.New("uploads are disabled")
	ErrFileTooLarge          = errors.New("file exceeds the size limit")
	ErrAggregateTooLarge     = errors.New("declared sizes exceed the session limit")
	ErrExtensionNotAllowed   = errors.New("file extension not allowed")
	ErrContentTypeNotAllowed = errors.New("content type not allowed")
	ErrInvalidVisibility     = errors.New("invalid visibility")
)

// Visibility values for committed cards.
const (
	VisibilityPublic   = "public"
	VisibilityPrivate  = "private"
	VisibilityUnlisted = "unlisted"
)

// originalExtensions is the fixed extension set accepted for the original
// package file.
var originalExtensions = map[string]struct{}{
	".png":   {},
	".json":  {},
	".charx": {},
	".cpack": {},
}

// contentTypeAllowlist covers the original package formats plus the
// preview/asset types a package may carry.
var contentTypeAllowlist = map[string]struct{}{
	"image/png":                {},
	"image/jpeg":               {},
	"image/webp":               {},
	"image/gif":                {},
	"audio/mpeg":               {},
	"audio/ogg":                {},
	"application/json":         {},
	"application/zip":          {},
	"application/octet-stream": {},
}

// Service answers policy questions from loaded configuration. All lookups
// are read-only; concurrent uploads never contend here.
type Service struct {
	cfg config.UploadConfig
}

// NewService creates a policy service from upload configuration.
func NewService(cfg config.Config) *Service {
	return &Service{cfg: cfg.Upload}
}

// CheckUploadsEnabled returns ErrUploadsDisabled when uploads are off.
func (s *Service) CheckUploadsEnabled() error {
	if !s.cfg.Enabled {
		return ErrUploadsDisabled
	}
	return nil
}

// PresignEnabled reports whether direct-to-store uploads are configured.
func (s *Service) PresignEnabled() bool { return s.cfg.PresignEnabled }

// DirectLimit is the single-request upload ceiling in bytes.
func (s *Service) DirectLimit() int64 { return s.cfg.DirectLimitMB << 20 }

// ChunkSize is the fixed chunk size for the chunked transport in bytes.
func (s *Service) ChunkSize() int64 { return s.cfg.ChunkSizeMB << 20 }

// PartMax is the maximum accepted multipart part size in bytes. There is
// deliberately no minimum: the final part may be arbitrarily small.
func (s *Service) PartMax() int64 { return s.cfg.PartMaxMB << 20 }

// FileMax is the per-file declared size cap for the presign path in bytes.
func (s *Service) FileMax() int64 { return s.cfg.FileMaxMB << 20 }

// SessionMax is the aggregate declared size cap per session in bytes.
func (s *Service) SessionMax() int64 { return s.cfg.SessionMaxMB << 20 }

// PresignTTL is the lifetime of issued presigned URLs.
func (s *Service) PresignTTL() time.Duration {
	d, err := time.ParseDuration(s.cfg.PresignTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// ValidateVisibility checks v against the fixed visibility enumeration.
func (s *Service) ValidateVisibility(v string) error {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityUnlisted:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidVisibility, v)
}

// ValidateOriginalFilename checks the extension of the original package.
func (s *Service) ValidateOriginalFilename(filename string) error {
	ext := strings.ToLower(path.Ext(filename))
	if _, ok := originalExtensions[ext]; !ok {
		return fmt.Errorf("%w: %q", ErrExtensionNotAllowed, ext)
	}
	return nil
}

// ValidateContentType checks a declared content type against the allowlist.
func (s *Service) ValidateContentType(contentType string) error {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	if _, ok := contentTypeAllowlist[ct]; !ok {
		return fmt.Errorf("%w: %q", ErrContentTypeNotAllowed, contentType)
	}
	return nil
}
