// Package cardfile parses character card packages from raw bytes.
//
// Everything in this package is a pure function over byte slices with no
// platform I/O, so the upload client and the server-side finalizer run the
// identical logic and derive identical results from identical input.
package cardfile

import "errors"

// Format classifies the outer container of an uploaded package.
type Format string

const (
	// FormatPNGCard is a PNG image with the card JSON embedded in a tEXt chunk.
	FormatPNGCard Format = "png"
	// FormatJSONCard is a flat JSON card file with no image.
	FormatJSONCard Format = "json"
	// FormatCharx is a ZIP package with card.json at the root plus icon/ and assets/ entries.
	FormatCharx Format = "charx"
	// FormatPack is a ZIP package holding one or more per-character subdirectories.
	FormatPack Format = "cpack"
)

// ErrUnrecognizedFormat is returned when no byte signature matches and the
// content is not valid structured text.
var ErrUnrecognizedFormat = errors.New("unrecognized package format")

// TokenCounts holds deterministic token estimates derived from card text.
type TokenCounts struct {
	Description int `json:"description"`
	Greetings   int `json:"greetings"`
	Lorebook    int `json:"lorebook"`
	Total       int `json:"total"`
}

// FeatureFlags are boolean/numeric facts derived from the structured data.
// The server recomputes these during finalization and never trusts the
// client-declared values.
type FeatureFlags struct {
	HasAlternateGreetings bool `json:"has_alternate_greetings"`
	HasLorebook           bool `json:"has_lorebook"`
	HasEmbeddedImages     bool `json:"has_embedded_images"`
	GreetingCount         int  `json:"greeting_count"`
	LorebookEntryCount    int  `json:"lorebook_entry_count"`
	EmbeddedImageCount    int  `json:"embedded_image_count"`
}

// Card is the canonical in-memory representation extracted from any format.
type Card struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	CreatorNotes string         `json:"creator_notes"`
	SpecVersion  string         `json:"spec_version"`
	Format       Format         `json:"format"`
	Tags         []string       `json:"tags"`
	Tokens       TokenCounts    `json:"tokens"`
	Flags        FeatureFlags   `json:"flags"`
	Raw          map[string]any `json:"-"`
}

// AssetDescriptor describes an embedded asset prior to reference rewriting.
// OriginalPath is the reference string inside the structured data (the
// embedded:// URI), not a storage key.
type AssetDescriptor struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Ext          string `json:"ext"`
	OriginalPath string `json:"original_path"`
	SizeBytes    int64  `json:"size_bytes"`
}

// CharacterRef identifies one character subdirectory inside a multi-character pack.
type CharacterRef struct {
	Dir  string `json:"dir"`
	Name string `json:"name"`
}

// Package is the result of normalizing a detected package: the canonical
// card, a preview image (nil for flat JSON), descriptors for embedded
// assets, and the character roster for multi-character packs.
type Package struct {
	Card             *Card
	Preview          []byte
	Assets           []AssetDescriptor
	Characters       []CharacterRef
	IsMultiCharacter bool
}
