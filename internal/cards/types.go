// Package cards persists committed card records. Rows here are created
// only by the ingestion finalizer, after it has re-derived and accepted
// every authoritative field from raw bytes.
package cards

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cardshelf/cardshelf/internal/cardfile"
)

// ErrCardNotFound is returned when no card matches a lookup.
var ErrCardNotFound = errors.New("card not found")

// Card is the committed record for one character card. It always points
// at exactly one current version.
type Card struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"owner_id"`
	Slug             string    `json:"slug"`
	Name             string    `json:"name"`
	Visibility       string    `json:"visibility"`
	CurrentVersionID string    `json:"current_version_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// Version is one immutable ingested revision of a card, referencing only
// permanent object keys.
type Version struct {
	ID             string                `json:"id"`
	CardID         string                `json:"card_id"`
	ContentDigest  string                `json:"content_digest"`
	Format         cardfile.Format       `json:"container_format"`
	OriginalKey    string                `json:"original_key"`
	PreviewKey     string                `json:"preview_key,omitempty"`
	AssetKeys      []string              `json:"asset_keys"`
	StructuredData []byte                `json:"-"`
	Tags           []string              `json:"tags"`
	Tokens         cardfile.TokenCounts  `json:"tokens"`
	Flags          cardfile.FeatureFlags `json:"flags"`
	SizeBytes      int64                 `json:"size_bytes"`
	CreatedAt      time.Time             `json:"created_at"`
}

// CreateParams carries everything the finalizer derived for a new card.
// ID is assigned by the finalizer before objects are moved so permanent
// keys and the card row share a namespace; when empty the store picks one.
type CreateParams struct {
	ID             string
	OwnerID        string
	Name           string
	Visibility     string
	ContentDigest  string
	Format         cardfile.Format
	OriginalKey    string
	PreviewKey     string
	AssetKeys      []string
	StructuredData []byte
	Tags           []string
	Tokens         cardfile.TokenCounts
	Flags          cardfile.FeatureFlags
	SizeBytes      int64
}

// Store persists committed cards.
type Store interface {
	// Create commits a card and its first version together.
	Create(ctx context.Context, params CreateParams) (Card, Version, error)
	// GetBySlug returns a card and its current version.
	GetBySlug(ctx context.Context, slug string) (Card, Version, error)
}

// Slugify derives a URL slug from a card name plus a short random suffix
// so distinct uploads of identically named cards never collide.
func Slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 48 {
		slug = strings.Trim(slug[:48], "-")
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if slug == "" {
		return suffix
	}
	return slug + "-" + suffix
}
