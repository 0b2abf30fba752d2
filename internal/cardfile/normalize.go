package cardfile

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
)

// Well-known entry names inside the ZIP package kinds.
const (
	charxCardEntry   = "card.json"
	charxIconPrefix  = "icon/"
	charxAssetPrefix = "assets/"
	packManifest     = "pack.json"
	packCardName     = "card.json"
	packThumbName    = "thumb.png"
)

// maxSampledAssets bounds how many charx asset entries are inflated during
// normalization; the rest stay indexed-only and are described from the
// central directory.
const maxSampledAssets = 8

// Normalize extracts the canonical card, preview image, and asset
// descriptors from a detected package.
func Normalize(data []byte, format Format) (*Package, error) {
	switch format {
	case FormatPNGCard:
		return normalizePNG(data)
	case FormatJSONCard:
		return normalizeJSON(data)
	case FormatCharx:
		return normalizeCharx(data)
	case FormatPack:
		return normalizePack(data)
	default:
		return nil, ErrUnrecognizedFormat
	}
}

func normalizePNG(data []byte) (*Package, error) {
	raw, err := EmbeddedCardJSON(data)
	if err != nil {
		return nil, err
	}
	card, err := ParseCard(raw, FormatPNGCard)
	if err != nil {
		return nil, err
	}
	// The raw image itself is the preview unless a smaller embedded icon
	// is available.
	preview := data
	if icon, ok := EmbeddedIcon(data); ok {
		preview = icon
	}
	return &Package{Card: card, Preview: preview}, nil
}

func normalizeJSON(data []byte) (*Package, error) {
	card, err := ParseCard(data, FormatJSONCard)
	if err != nil {
		return nil, err
	}
	return &Package{Card: card}, nil
}

func normalizeCharx(data []byte) (*Package, error) {
	ix, err := NewIndex(data)
	if err != nil {
		return nil, err
	}
	entry, ok := ix.Lookup(charxCardEntry)
	if !ok {
		return nil, fmt.Errorf("%w: archive has no %s", ErrUnrecognizedFormat, charxCardEntry)
	}
	raw, err := ix.Extract(entry)
	if err != nil {
		return nil, err
	}
	card, err := ParseCard(raw, FormatCharx)
	if err != nil {
		return nil, err
	}

	var preview []byte
	var assets []AssetDescriptor
	for _, e := range ix.Entries() {
		switch {
		case strings.HasPrefix(e.Name, charxIconPrefix) && preview == nil:
			if int64(e.UncompressedSize) <= DefaultBudget.MaxBytes {
				preview, err = ix.Extract(e)
				if err != nil {
					return nil, err
				}
			}
		case strings.HasPrefix(e.Name, charxAssetPrefix) && !strings.HasSuffix(e.Name, "/"):
			assets = append(assets, describeAsset(e))
		}
	}
	return &Package{Card: card, Preview: preview, Assets: assets}, nil
}

func normalizePack(data []byte) (*Package, error) {
	ix, err := NewIndex(data)
	if err != nil {
		return nil, err
	}

	dirs := characterDirs(ix)
	if len(dirs) == 0 {
		return nil, fmt.Errorf("%w: archive has no character directories", ErrUnrecognizedFormat)
	}

	representative := dirs[0]
	if entry, ok := ix.Lookup(packManifest); ok {
		if raw, err := ix.Extract(entry); err == nil {
			var manifest struct {
				Thumbnail string `json:"thumbnail"`
			}
			if json.Unmarshal(raw, &manifest) == nil {
				for _, d := range dirs {
					if d == strings.Trim(manifest.Thumbnail, "/") {
						representative = d
						break
					}
				}
			}
		}
	}

	entry, ok := ix.Lookup(representative + "/" + packCardName)
	if !ok {
		return nil, fmt.Errorf("%w: character %q has no %s", ErrUnrecognizedFormat, representative, packCardName)
	}
	raw, err := ix.Extract(entry)
	if err != nil {
		return nil, err
	}
	card, err := ParseCard(raw, FormatPack)
	if err != nil {
		return nil, err
	}

	var preview []byte
	if thumb, ok := ix.Lookup(representative + "/" + packThumbName); ok {
		preview, err = ix.Extract(thumb)
		if err != nil {
			return nil, err
		}
	}

	roster := make([]CharacterRef, 0, len(dirs))
	for _, d := range dirs {
		name := d
		if d == representative {
			name = card.Name
		}
		roster = append(roster, CharacterRef{Dir: d, Name: name})
	}

	return &Package{
		Card:             card,
		Preview:          preview,
		Characters:       roster,
		IsMultiCharacter: len(dirs) >= 2,
	}, nil
}

// SampleAssets inflates up to maxSampledAssets charx asset entries for
// display purposes, budget-checked against the central directory before
// inflation.
func SampleAssets(data []byte) (map[string][]byte, error) {
	ix, err := NewIndex(data)
	if err != nil {
		return nil, err
	}
	budget := Budget{MaxEntries: maxSampledAssets, MaxBytes: DefaultBudget.MaxBytes}
	return ix.ExtractMatching(func(e Entry) bool {
		return strings.HasPrefix(e.Name, charxAssetPrefix) && !strings.HasSuffix(e.Name, "/")
	}, budget)
}

func characterDirs(ix *Index) []string {
	seen := make(map[string]struct{})
	for _, e := range ix.Entries() {
		dir, base := path.Split(e.Name)
		if base != packCardName {
			continue
		}
		dir = strings.Trim(dir, "/")
		if dir == "" || strings.Contains(dir, "/") {
			continue
		}
		seen[dir] = struct{}{}
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

func describeAsset(e Entry) AssetDescriptor {
	base := path.Base(e.Name)
	ext := strings.TrimPrefix(path.Ext(base), ".")
	return AssetDescriptor{
		Name:         strings.TrimSuffix(base, path.Ext(base)),
		Type:         assetType(ext),
		Ext:          ext,
		OriginalPath: RefScheme + e.Name,
		SizeBytes:    int64(e.UncompressedSize),
	}
}

func assetType(ext string) string {
	switch strings.ToLower(ext) {
	case "png", "jpg", "jpeg", "gif", "webp":
		return "image"
	case "mp3", "wav", "ogg":
		return "audio"
	default:
		return "file"
	}
}

// ParseCard decodes card JSON into the canonical representation and
// derives token counts and feature flags. Both the nested layout (card
// fields under "data") and the legacy flat layout are accepted.
func ParseCard(raw []byte, format Format) (*Card, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse card json: %w", err)
	}

	fields := doc
	if nested, ok := doc["data"].(map[string]any); ok {
		fields = nested
	}

	card := &Card{
		Name:         stringField(fields, "name"),
		Description:  stringField(fields, "description"),
		CreatorNotes: stringField(fields, "creator_notes"),
		SpecVersion:  stringField(doc, "spec_version"),
		Format:       format,
		Tags:         stringSlice(fields, "tags"),
		Raw:          doc,
	}
	if card.Name == "" {
		return nil, fmt.Errorf("card json has no name")
	}

	greetings := stringSlice(fields, "alternate_greetings")
	var lorebook []string
	if book, ok := fields["character_book"].(map[string]any); ok {
		if entries, ok := book["entries"].([]any); ok {
			for _, e := range entries {
				if m, ok := e.(map[string]any); ok {
					lorebook = append(lorebook, stringField(m, "content"))
				}
			}
		}
	}

	refs := CollectRefs(doc)
	card.Tokens = deriveTokens(card.Description, greetings, lorebook)
	card.Flags = deriveFlags(len(greetings), len(lorebook), len(refs))
	return card, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringSlice(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
