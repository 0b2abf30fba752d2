package cardfile

import (
	"bytes"
	"encoding/json"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	pngMagic = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	zipMagic = []byte{'P', 'K', 0x03, 0x04}
)

// Detect classifies raw package bytes. The filename extension is a routing
// hint for the ZIP kinds so multi-hundred-MB archives skip content
// inspection, but byte signatures win whenever the two disagree.
func Detect(data []byte, filename string) (Format, error) {
	if len(data) == 0 {
		return "", ErrUnrecognizedFormat
	}
	ext := strings.ToLower(path.Ext(filename))

	if bytes.HasPrefix(data, zipMagic) {
		switch ext {
		case ".charx":
			return FormatCharx, nil
		case ".cpack":
			return FormatPack, nil
		}
		return classifyArchive(data)
	}
	if bytes.HasPrefix(data, pngMagic) {
		return FormatPNGCard, nil
	}

	// Non-PNG images carry no embedded card metadata; reject them rather
	// than guessing.
	head := data
	if len(head) > 3072 {
		head = head[:3072]
	}
	mtype := mimetype.Detect(head)
	if strings.HasPrefix(mtype.String(), "image/") {
		return "", ErrUnrecognizedFormat
	}

	if looksLikeJSON(data) {
		return FormatJSONCard, nil
	}
	return "", ErrUnrecognizedFormat
}

// classifyArchive distinguishes the two ZIP package kinds by central
// directory layout: card.json at the root means charx, per-character
// subdirectories mean cpack.
func classifyArchive(data []byte) (Format, error) {
	ix, err := NewIndex(data)
	if err != nil {
		return "", err
	}
	if _, ok := ix.Lookup("card.json"); ok {
		return FormatCharx, nil
	}
	for _, e := range ix.Entries() {
		dir, base := path.Split(e.Name)
		if base == "card.json" && dir != "" {
			return FormatPack, nil
		}
	}
	return "", ErrUnrecognizedFormat
}

func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}
