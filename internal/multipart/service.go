// Package multipart coordinates chunked uploads through the storage
// provider's multipart API.
package multipart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cardshelf/cardshelf/internal/policy"
	"github.com/cardshelf/cardshelf/internal/sessions"
	"github.com/cardshelf/cardshelf/internal/storage"
)

// Part number bounds for multipart uploads.
const (
	MinPartNumber = 1
	MaxPartNumber = 10000
)

// Validation errors for multipart operations.
var (
	ErrBadPartNumber = errors.New("part number out of range")
	ErrPartTooLarge  = errors.New("part exceeds the size limit")
	ErrNoParts       = errors.New("at least one part is required")
)

// OpenResponse tells the client where to send parts.
type OpenResponse struct {
	SessionID string    `json:"session_id"`
	UploadID  string    `json:"upload_id"`
	ObjectKey string    `json:"object_key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service drives the chunked upload lifecycle: open, per-part upload, and
// completion or abort. Each open creates one session bound to one pending
// object key and one provider upload id.
type Service struct {
	store    storage.Provider
	sessions sessions.Store
	policy   *policy.Service
	logger   *slog.Logger
}

// NewService creates a multipart coordinator.
func NewService(log *slog.Logger, store storage.Provider, sessionStore sessions.Store, pol *policy.Service) *Service {
	return &Service{
		store:    store,
		sessions: sessionStore,
		policy:   pol,
		logger:   log.With(slog.String("service", "multipart")),
	}
}

// Open starts a chunked upload for one original package file and returns
// the session the client must address every part to.
func (s *Service) Open(ctx context.Context, ownerID, filename, contentType string, declaredSize int64) (OpenResponse, error) {
	if err := s.policy.CheckUploadsEnabled(); err != nil {
		return OpenResponse{}, err
	}
	if err := s.policy.ValidateOriginalFilename(filename); err != nil {
		return OpenResponse{}, err
	}
	if err := s.policy.ValidateContentType(contentType); err != nil {
		return OpenResponse{}, err
	}
	if declaredSize <= 0 || declaredSize > s.policy.SessionMax() {
		return OpenResponse{}, fmt.Errorf("%w: %d bytes declared", policy.ErrAggregateTooLarge, declaredSize)
	}

	sessionID := uuid.NewString()
	objectKey := storage.PendingKey(sessionID, "original"+strings.ToLower(path.Ext(filename)))
	uploadID, err := s.store.CreateMultipart(ctx, objectKey, contentType)
	if err != nil {
		return OpenResponse{}, fmt.Errorf("open multipart upload: %w", err)
	}

	expiresAt := time.Now().UTC().Add(s.policy.PresignTTL())
	session, err := s.sessions.Create(ctx, sessions.Session{
		ID:         sessionID,
		OwnerID:    ownerID,
		Strategy:   sessions.StrategyChunked,
		ObjectKeys: []string{objectKey},
		UploadID:   uploadID,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		s.abortQuietly(ctx, objectKey, uploadID)
		return OpenResponse{}, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("chunked upload opened",
		slog.String("session_id", session.ID),
		slog.Int64("declared_bytes", declaredSize),
	)
	return OpenResponse{
		SessionID: session.ID,
		UploadID:  uploadID,
		ObjectKey: objectKey,
		ExpiresAt: expiresAt,
	}, nil
}

// UploadPart stores one part of an open chunked upload. Parts may arrive
// in any order and any part except by convention the last may be up to
// the configured maximum; there is no minimum size.
func (s *Service) UploadPart(ctx context.Context, ownerID, sessionID string, partNumber int, body io.Reader, size int64) (storage.Part, error) {
	if partNumber < MinPartNumber || partNumber > MaxPartNumber {
		return storage.Part{}, fmt.Errorf("%w: %d", ErrBadPartNumber, partNumber)
	}
	if size <= 0 || size > s.policy.PartMax() {
		return storage.Part{}, fmt.Errorf("%w: %d bytes", ErrPartTooLarge, size)
	}
	session, err := s.sessions.Get(ctx, sessionID, ownerID)
	if err != nil {
		return storage.Part{}, err
	}
	if session.Strategy != sessions.StrategyChunked || session.UploadID == "" {
		return storage.Part{}, sessions.ErrSessionNotFound
	}

	part, err := s.store.PutPart(ctx, session.ObjectKeys[0], session.UploadID, partNumber, body, size)
	if err != nil {
		return storage.Part{}, fmt.Errorf("store part %d: %w", partNumber, err)
	}
	return part, nil
}

// Complete assembles the uploaded parts into the pending object. The
// caller supplies every part it uploaded, in any order, with the
// completion tokens the store returned.
func (s *Service) Complete(ctx context.Context, ownerID, sessionID string, parts []storage.Part) (sessions.Session, error) {
	if len(parts) == 0 {
		return sessions.Session{}, ErrNoParts
	}
	session, err := s.sessions.Get(ctx, sessionID, ownerID)
	if err != nil {
		return sessions.Session{}, err
	}
	if session.Strategy != sessions.StrategyChunked || session.UploadID == "" {
		return sessions.Session{}, sessions.ErrSessionNotFound
	}

	ordered := make([]storage.Part, len(parts))
	copy(ordered, parts)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })
	for i, p := range ordered {
		if p.Number < MinPartNumber || p.Number > MaxPartNumber {
			return sessions.Session{}, fmt.Errorf("%w: %d", ErrBadPartNumber, p.Number)
		}
		if i > 0 && ordered[i-1].Number == p.Number {
			return sessions.Session{}, fmt.Errorf("%w: duplicate part %d", ErrBadPartNumber, p.Number)
		}
	}

	if err := s.store.CompleteMultipart(ctx, session.ObjectKeys[0], session.UploadID, ordered); err != nil {
		return sessions.Session{}, fmt.Errorf("complete multipart upload: %w", err)
	}
	s.logger.Info("chunked upload completed",
		slog.String("session_id", session.ID),
		slog.Int("parts", len(ordered)),
	)
	return session, nil
}

// Abort cancels an open chunked upload and discards its stored parts.
func (s *Service) Abort(ctx context.Context, ownerID, sessionID string) error {
	session, err := s.sessions.Get(ctx, sessionID, ownerID)
	if err != nil {
		return err
	}
	if session.Strategy != sessions.StrategyChunked || session.UploadID == "" {
		return sessions.ErrSessionNotFound
	}
	if err := s.store.AbortMultipart(ctx, session.ObjectKeys[0], session.UploadID); err != nil {
		return fmt.Errorf("abort multipart upload: %w", err)
	}
	// Consume so the session cannot be reused after abort.
	if _, err := s.sessions.Consume(ctx, sessionID, ownerID); err != nil && !errors.Is(err, sessions.ErrSessionNotFound) {
		return err
	}
	return nil
}

func (s *Service) abortQuietly(ctx context.Context, key, uploadID string) {
	if err := s.store.AbortMultipart(ctx, key, uploadID); err != nil {
		s.logger.Warn("abort orphaned multipart upload", slog.String("key", key), slog.String("error", err.Error()))
	}
}
