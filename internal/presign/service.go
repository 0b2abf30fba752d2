// Package presign issues short-lived direct-to-store write URLs for
// upload sessions.
package presign

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"context"

	"github.com/google/uuid"

	"github.com/cardshelf/cardshelf/internal/policy"
	"github.com/cardshelf/cardshelf/internal/sessions"
	"github.com/cardshelf/cardshelf/internal/storage"
)

// Validation errors for presign requests.
var (
	ErrNoFiles      = errors.New("at least one file is required")
	ErrTooManyFiles = errors.New("too many files in one session")
	ErrBadFileKey   = errors.New("invalid logical file key")
)

// maxFilesPerSession bounds how many logical files one session may declare
// (original + preview + sampled assets).
const maxFilesPerSession = 32

// FileSpec declares one logical file the client intends to upload.
type FileSpec struct {
	Key         string `json:"key"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Target is one issued write URL and its pending object key.
type Target struct {
	UploadURL string `json:"upload_url"`
	ObjectKey string `json:"object_key"`
}

// Response carries everything the client needs to perform the uploads and
// later confirm the session.
type Response struct {
	SessionID string            `json:"session_id"`
	URLs      map[string]Target `json:"urls"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Service validates presign requests and issues per-object write URLs.
// It never verifies that objects are actually written; absence at
// finalize time is a normal failure mode handled there.
type Service struct {
	store    storage.Provider
	sessions sessions.Store
	policy   *policy.Service
	logger   *slog.Logger
}

// NewService creates a presign broker.
func NewService(log *slog.Logger, store storage.Provider, sessionStore sessions.Store, pol *policy.Service) *Service {
	return &Service{
		store:    store,
		sessions: sessionStore,
		policy:   pol,
		logger:   log.With(slog.String("service", "presign")),
	}
}

// Issue validates the declared files and returns one presigned write URL
// per logical key, namespaced under a session-scoped pending prefix. All
// caps are checked before any URL is issued.
func (s *Service) Issue(ctx context.Context, ownerID string, files []FileSpec) (Response, error) {
	if err := s.policy.CheckUploadsEnabled(); err != nil {
		return Response{}, err
	}
	if len(files) == 0 {
		return Response{}, ErrNoFiles
	}
	if len(files) > maxFilesPerSession {
		return Response{}, fmt.Errorf("%w: %d declared, max %d", ErrTooManyFiles, len(files), maxFilesPerSession)
	}

	var aggregate int64
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if err := validateKey(f.Key); err != nil {
			return Response{}, err
		}
		if _, dup := seen[f.Key]; dup {
			return Response{}, fmt.Errorf("%w: duplicate key %q", ErrBadFileKey, f.Key)
		}
		seen[f.Key] = struct{}{}
		if f.Size <= 0 || f.Size > s.policy.FileMax() {
			return Response{}, fmt.Errorf("%w: %q declares %d bytes", policy.ErrFileTooLarge, f.Key, f.Size)
		}
		if err := s.policy.ValidateContentType(f.ContentType); err != nil {
			return Response{}, err
		}
		if f.Key == "original" {
			if err := s.policy.ValidateOriginalFilename(f.Filename); err != nil {
				return Response{}, err
			}
		}
		aggregate += f.Size
	}
	if aggregate > s.policy.SessionMax() {
		return Response{}, fmt.Errorf("%w: %d bytes declared", policy.ErrAggregateTooLarge, aggregate)
	}

	expiresAt := time.Now().UTC().Add(s.policy.PresignTTL())
	sessionID := uuid.NewString()

	urls := make(map[string]Target, len(files))
	keys := make([]string, 0, len(files))
	for _, f := range files {
		objectKey := storage.PendingKey(sessionID, f.Key+strings.ToLower(path.Ext(f.Filename)))
		url, err := s.store.PresignPut(ctx, objectKey, s.policy.PresignTTL())
		if err != nil {
			return Response{}, fmt.Errorf("presign %q: %w", f.Key, err)
		}
		urls[f.Key] = Target{UploadURL: url, ObjectKey: objectKey}
		keys = append(keys, objectKey)
	}

	// The session records the issued keys so the finalizer can verify
	// namespace membership without trusting client input.
	session, err := s.sessions.Create(ctx, sessions.Session{
		ID:         sessionID,
		OwnerID:    ownerID,
		Strategy:   sessions.StrategyPresigned,
		ObjectKeys: keys,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		return Response{}, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("presigned upload session issued",
		slog.String("session_id", session.ID),
		slog.Int("files", len(files)),
		slog.Int64("declared_bytes", aggregate),
	)
	return Response{SessionID: session.ID, URLs: urls, ExpiresAt: expiresAt}, nil
}

func validateKey(key string) error {
	if key == "" || strings.ContainsAny(key, "/\\") || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrBadFileKey, key)
	}
	return nil
}
