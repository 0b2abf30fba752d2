// Package ingest turns uploaded bytes into committed cards. It is the
// trust boundary of the pipeline: everything a client derived locally is
// re-derived here from the raw object before a row is written.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/cardshelf/cardshelf/internal/blocklist"
	"github.com/cardshelf/cardshelf/internal/cardfile"
	"github.com/cardshelf/cardshelf/internal/cards"
	"github.com/cardshelf/cardshelf/internal/policy"
	"github.com/cardshelf/cardshelf/internal/sessions"
	"github.com/cardshelf/cardshelf/internal/storage"
)

// Finalization errors.
var (
	ErrKeyOutsideSession = errors.New("object key does not belong to the session")
	ErrOriginalMissing   = errors.New("original package was not uploaded")
)

// BlockedTagsError reports which tags barred a card from being committed.
type BlockedTagsError struct {
	Tags []string
}

func (e *BlockedTagsError) Error() string {
	return "blocked tags: " + strings.Join(e.Tags, ", ")
}

// ConfirmRequest is the client's claim about a finished upload session.
// Name, token counts and feature flags are observational: the server
// re-derives them and logs disagreement without failing the request.
type ConfirmRequest struct {
	SessionID   string                `json:"session_id"`
	Name        string                `json:"name"`
	Visibility  string                `json:"visibility"`
	Tags        []string              `json:"tags"`
	OriginalKey string                `json:"original_key"`
	PreviewKey  string                `json:"preview_key,omitempty"`
	AssetKeys   map[string]string     `json:"asset_keys,omitempty"`
	Digest      string                `json:"content_digest,omitempty"`
	Tokens      cardfile.TokenCounts  `json:"tokens"`
	Flags       cardfile.FeatureFlags `json:"flags"`
}

// Service finalizes upload sessions and ingests direct uploads.
type Service struct {
	store     storage.Provider
	sessions  sessions.Store
	cards     cards.Store
	blocklist *blocklist.Service
	policy    *policy.Service
	logger    *slog.Logger
}

// NewService creates an ingestion finalizer.
func NewService(log *slog.Logger, store storage.Provider, sessionStore sessions.Store, cardStore cards.Store, block *blocklist.Service, pol *policy.Service) *Service {
	return &Service{
		store:     store,
		sessions:  sessionStore,
		cards:     cardStore,
		blocklist: block,
		policy:    pol,
		logger:    log.With(slog.String("service", "ingest")),
	}
}

// Confirm consumes an upload session and commits its content as a card.
// The session is consumed exactly once up front; any later failure
// deletes every object moved so far and surfaces the original error.
func (s *Service) Confirm(ctx context.Context, ownerID string, req ConfirmRequest) (cards.Card, cards.Version, error) {
	if err := s.policy.ValidateVisibility(req.Visibility); err != nil {
		return cards.Card{}, cards.Version{}, err
	}
	session, err := s.sessions.Consume(ctx, req.SessionID, ownerID)
	if err != nil {
		return cards.Card{}, cards.Version{}, err
	}

	issued := make(map[string]struct{}, len(session.ObjectKeys))
	for _, k := range session.ObjectKeys {
		issued[k] = struct{}{}
	}
	claimed := []string{req.OriginalKey}
	if req.PreviewKey != "" {
		claimed = append(claimed, req.PreviewKey)
	}
	for _, k := range req.AssetKeys {
		claimed = append(claimed, k)
	}
	for _, k := range claimed {
		if !storage.InSession(k, session.ID) {
			return cards.Card{}, cards.Version{}, fmt.Errorf("%w: %q", ErrKeyOutsideSession, k)
		}
		if _, ok := issued[k]; !ok {
			return cards.Card{}, cards.Version{}, fmt.Errorf("%w: %q was not issued", ErrKeyOutsideSession, k)
		}
	}

	data, err := s.readObject(ctx, req.OriginalKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return cards.Card{}, cards.Version{}, ErrOriginalMissing
		}
		return cards.Card{}, cards.Version{}, err
	}

	format, err := cardfile.Detect(data, path.Base(req.OriginalKey))
	if err != nil {
		return cards.Card{}, cards.Version{}, err
	}
	pkg, err := cardfile.Normalize(data, format)
	if err != nil {
		return cards.Card{}, cards.Version{}, err
	}
	s.observeClaims(session.ID, req, pkg.Card, cardfile.Digest(data))

	cardID := uuid.NewString()
	var moved []string
	fail := func(cause error) (cards.Card, cards.Version, error) {
		s.deleteAll(ctx, moved)
		return cards.Card{}, cards.Version{}, cause
	}

	originalKey := storage.PermanentKey(cardID, "original"+strings.ToLower(path.Ext(req.OriginalKey)))
	if err := s.store.Move(ctx, req.OriginalKey, originalKey); err != nil {
		return fail(fmt.Errorf("move original: %w", err))
	}
	moved = append(moved, originalKey)

	previewKey, err := s.placePreview(ctx, cardID, req.PreviewKey, pkg, format, originalKey)
	if err != nil {
		return fail(err)
	}
	if previewKey != "" && previewKey != originalKey {
		moved = append(moved, previewKey)
	}

	mapping := make(map[string]string, len(req.AssetKeys))
	assetKeys := make([]string, 0, len(req.AssetKeys))
	for ref, pendingKey := range req.AssetKeys {
		if !strings.HasPrefix(ref, cardfile.RefScheme) {
			return fail(fmt.Errorf("%w: bad asset reference %q", ErrKeyOutsideSession, ref))
		}
		rel := strings.TrimPrefix(ref, cardfile.RefScheme)
		permKey := storage.PermanentKey(cardID, rel)
		if err := s.store.Move(ctx, pendingKey, permKey); err != nil {
			return fail(fmt.Errorf("move asset %q: %w", ref, err))
		}
		moved = append(moved, permKey)
		mapping[ref] = s.store.PublicURL(permKey)
		assetKeys = append(assetKeys, permKey)
	}

	// Clients that never staged individual assets (chunked transfers in
	// particular) still get their archive sample published; references must
	// not reach the committed record unresolved.
	if format == cardfile.FormatCharx && len(req.AssetKeys) == 0 {
		keys, sampled, err := s.sampleAndPublish(ctx, cardID, data)
		moved = append(moved, keys...)
		if err != nil {
			return fail(err)
		}
		for ref, public := range sampled {
			mapping[ref] = public
		}
		assetKeys = append(assetKeys, keys...)
	}

	card, version, err := s.commit(ctx, commitParams{
		cardID:      cardID,
		ownerID:     ownerID,
		visibility:  req.Visibility,
		clientTags:  req.Tags,
		data:        data,
		pkg:         pkg,
		format:      format,
		originalKey: originalKey,
		previewKey:  previewKey,
		assetKeys:   assetKeys,
		refMapping:  mapping,
	})
	if err != nil {
		return fail(err)
	}

	s.sweepPending(ctx, session)
	s.logger.Info("card ingested",
		slog.String("card_id", card.ID),
		slog.String("session_id", session.ID),
		slog.String("format", string(format)),
	)
	return card, version, nil
}

// Direct ingests a package carried inline in one request. No session is
// involved; bytes go straight through detection and commit.
func (s *Service) Direct(ctx context.Context, ownerID, filename, visibility string, tags []string, data []byte) (cards.Card, cards.Version, error) {
	if err := s.policy.CheckUploadsEnabled(); err != nil {
		return cards.Card{}, cards.Version{}, err
	}
	if int64(len(data)) > s.policy.DirectLimit() {
		return cards.Card{}, cards.Version{}, fmt.Errorf("%w: %d bytes", policy.ErrFileTooLarge, len(data))
	}
	if err := s.policy.ValidateOriginalFilename(filename); err != nil {
		return cards.Card{}, cards.Version{}, err
	}
	if err := s.policy.ValidateVisibility(visibility); err != nil {
		return cards.Card{}, cards.Version{}, err
	}

	format, err := cardfile.Detect(data, filename)
	if err != nil {
		return cards.Card{}, cards.Version{}, err
	}
	pkg, err := cardfile.Normalize(data, format)
	if err != nil {
		return cards.Card{}, cards.Version{}, err
	}

	cardID := uuid.NewString()
	var moved []string
	fail := func(cause error) (cards.Card, cards.Version, error) {
		s.deleteAll(ctx, moved)
		return cards.Card{}, cards.Version{}, cause
	}

	originalKey := storage.PermanentKey(cardID, "original"+strings.ToLower(path.Ext(filename)))
	if err := s.putObject(ctx, originalKey, data); err != nil {
		return fail(fmt.Errorf("store original: %w", err))
	}
	moved = append(moved, originalKey)

	previewKey, err := s.placePreview(ctx, cardID, "", pkg, format, originalKey)
	if err != nil {
		return fail(err)
	}
	if previewKey != "" && previewKey != originalKey {
		moved = append(moved, previewKey)
	}

	// For archive formats a bounded sample of packaged assets is published
	// alongside the card; the rest stay inside the original archive.
	mapping := make(map[string]string)
	var assetKeys []string
	if format == cardfile.FormatCharx {
		keys, sampled, err := s.sampleAndPublish(ctx, cardID, data)
		moved = append(moved, keys...)
		if err != nil {
			return fail(err)
		}
		for ref, public := range sampled {
			mapping[ref] = public
		}
		assetKeys = keys
	}

	card, version, err := s.commit(ctx, commitParams{
		cardID:      cardID,
		ownerID:     ownerID,
		visibility:  visibility,
		clientTags:  tags,
		data:        data,
		pkg:         pkg,
		format:      format,
		originalKey: originalKey,
		previewKey:  previewKey,
		assetKeys:   assetKeys,
		refMapping:  mapping,
	})
	if err != nil {
		return fail(err)
	}
	s.logger.Info("card ingested",
		slog.String("card_id", card.ID),
		slog.String("format", string(format)),
	)
	return card, version, nil
}

type commitParams struct {
	cardID      string
	ownerID     string
	visibility  string
	clientTags  []string
	data        []byte
	pkg         *cardfile.Package
	format      cardfile.Format
	originalKey string
	previewKey  string
	assetKeys   []string
	refMapping  map[string]string
}

func (s *Service) commit(ctx context.Context, p commitParams) (cards.Card, cards.Version, error) {
	tags := blocklist.NormalizeAll(append(append([]string{}, p.clientTags...), p.pkg.Card.Tags...))
	if offending := s.blocklist.Check(tags); len(offending) > 0 {
		return cards.Card{}, cards.Version{}, &BlockedTagsError{Tags: offending}
	}

	structured, err := json.Marshal(p.pkg.Card.Raw)
	if err != nil {
		return cards.Card{}, cards.Version{}, err
	}
	structured, err = cardfile.RewriteJSON(structured, p.refMapping)
	if err != nil {
		return cards.Card{}, cards.Version{}, fmt.Errorf("rewrite asset references: %w", err)
	}

	return s.cards.Create(ctx, cards.CreateParams{
		ID:             p.cardID,
		OwnerID:        p.ownerID,
		Name:           p.pkg.Card.Name,
		Visibility:     p.visibility,
		ContentDigest:  cardfile.Digest(p.data),
		Format:         p.format,
		OriginalKey:    p.originalKey,
		PreviewKey:     p.previewKey,
		AssetKeys:      p.assetKeys,
		StructuredData: structured,
		Tags:           tags,
		Tokens:         p.pkg.Card.Tokens,
		Flags:          p.pkg.Card.Flags,
		SizeBytes:      int64(len(p.data)),
	})
}

// placePreview settles the preview object. A client-uploaded preview is
// moved; otherwise the preview derived during normalization is written;
// for plain PNG cards the original image doubles as preview. A failed
// preview move never aborts ingestion: the card falls back to the derived
// preview or the main image.
func (s *Service) placePreview(ctx context.Context, cardID, pendingKey string, pkg *cardfile.Package, format cardfile.Format, originalKey string) (string, error) {
	if pendingKey != "" {
		key := storage.PermanentKey(cardID, "preview"+strings.ToLower(path.Ext(pendingKey)))
		err := s.store.Move(ctx, pendingKey, key)
		if err == nil {
			return key, nil
		}
		s.logger.Warn("preview move failed, using fallback",
			slog.String("key", pendingKey),
			slog.String("error", err.Error()),
		)
	}
	if len(pkg.Preview) > 0 {
		kind := mimetype.Detect(pkg.Preview)
		key := storage.PermanentKey(cardID, "preview"+kind.Extension())
		if err := s.store.Put(ctx, key, bytes.NewReader(pkg.Preview), int64(len(pkg.Preview)), kind.String()); err != nil {
			return "", fmt.Errorf("store preview: %w", err)
		}
		return key, nil
	}
	if format == cardfile.FormatPNGCard {
		return originalKey, nil
	}
	return "", nil
}

// observeClaims compares client-derived metadata against the server's
// derivation. Disagreement is logged, never fatal; the derived values win.
func (s *Service) observeClaims(sessionID string, req ConfirmRequest, card *cardfile.Card, digest string) {
	if req.Name != "" && req.Name != card.Name {
		s.logger.Warn("validation mismatch",
			slog.String("session_id", sessionID),
			slog.String("field", "name"),
			slog.String("claimed", req.Name),
			slog.String("derived", card.Name),
		)
	}
	if req.Digest != "" && req.Digest != digest {
		s.logger.Warn("validation mismatch",
			slog.String("session_id", sessionID),
			slog.String("field", "content_digest"),
			slog.String("claimed", req.Digest),
			slog.String("derived", digest),
		)
	}
	if req.Tokens != (cardfile.TokenCounts{}) && req.Tokens != card.Tokens {
		s.logger.Warn("validation mismatch",
			slog.String("session_id", sessionID),
			slog.String("field", "tokens"),
			slog.Int("claimed_total", req.Tokens.Total),
			slog.Int("derived_total", card.Tokens.Total),
		)
	}
	if req.Flags != (cardfile.FeatureFlags{}) && req.Flags != card.Flags {
		s.logger.Warn("validation mismatch",
			slog.String("session_id", sessionID),
			slog.String("field", "flags"),
		)
	}
}

// sampleAndPublish inflates a bounded sample of archive assets and writes
// each under the card's namespace. Keys placed before a failure are still
// returned so the caller can compensate.
func (s *Service) sampleAndPublish(ctx context.Context, cardID string, data []byte) ([]string, map[string]string, error) {
	sampled, err := cardfile.SampleAssets(data)
	if err != nil {
		return nil, nil, err
	}
	var keys []string
	mapping := make(map[string]string, len(sampled))
	for name, content := range sampled {
		permKey := storage.PermanentKey(cardID, name)
		if err := s.putObject(ctx, permKey, content); err != nil {
			return keys, mapping, fmt.Errorf("store asset %q: %w", name, err)
		}
		keys = append(keys, permKey)
		mapping[cardfile.RefScheme+name] = s.store.PublicURL(permKey)
	}
	return keys, mapping, nil
}

func (s *Service) readObject(ctx context.Context, key string) ([]byte, error) {
	info, err := s.store.Stat(ctx, key)
	if err != nil {
		return nil, err
	}
	if info.Size > s.policy.SessionMax() {
		return nil, fmt.Errorf("%w: %d bytes stored", policy.ErrAggregateTooLarge, info.Size)
	}
	rc, err := s.store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *Service) putObject(ctx context.Context, key string, data []byte) error {
	kind := mimetype.Detect(data)
	return s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), kind.String())
}

// deleteAll is the compensating path: remove everything moved so far and
// keep only the original failure visible. Cleanup failures are logged.
func (s *Service) deleteAll(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("compensating delete failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}

// sweepPending removes session objects that were uploaded but never
// referenced by the confirmation. Moved objects are already gone from the
// pending namespace. Best effort; lifecycle cleanup covers anything missed.
func (s *Service) sweepPending(ctx context.Context, session sessions.Session) {
	for _, key := range session.ObjectKeys {
		if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("pending object sweep failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}
