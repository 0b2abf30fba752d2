package cardfile

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// tEXt chunk keys for embedded card payloads. Values are base64-encoded so
// the chunk stays within the Latin-1 text constraint of the PNG spec.
const (
	textKeyCard = "chara"
	textKeyIcon = "icon"
)

// MaxEmbeddedIconBytes is the decoded-size ceiling for the optional
// embedded icon; larger icons are ignored and the full image serves as
// the preview instead.
const MaxEmbeddedIconBytes = 1 << 20

// ErrNoEmbeddedCard is returned when a PNG carries no card metadata chunk.
var ErrNoEmbeddedCard = errors.New("png has no embedded card metadata")

// EmbeddedCardJSON returns the decoded card JSON from the image's tEXt
// metadata chunk.
func EmbeddedCardJSON(data []byte) ([]byte, error) {
	raw, ok := findTextChunk(data, textKeyCard)
	if !ok {
		return nil, ErrNoEmbeddedCard
	}
	decoded, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("decode embedded card payload: %w", err)
	}
	return decoded, nil
}

// EmbeddedIcon returns the decoded optional icon asset, if present and
// under the size ceiling.
func EmbeddedIcon(data []byte) ([]byte, bool) {
	raw, ok := findTextChunk(data, textKeyIcon)
	if !ok {
		return nil, false
	}
	decoded, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil || len(decoded) == 0 || len(decoded) > MaxEmbeddedIconBytes {
		return nil, false
	}
	return decoded, true
}

// WithCardJSON returns a copy of the PNG with its card metadata chunk
// replaced by cardJSON. Existing card chunks are dropped.
func WithCardJSON(data []byte, cardJSON []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, pngMagic) {
		return nil, errors.New("not a png image")
	}
	encoded := base64.StdEncoding.EncodeToString(cardJSON)
	chunk := buildTextChunk(textKeyCard, []byte(encoded))

	out := make([]byte, 0, len(data)+len(chunk))
	out = append(out, pngMagic...)

	inserted := false
	err := walkChunks(data, func(typ string, full []byte) error {
		if typ == "tEXt" && textChunkKey(full) == textKeyCard {
			return nil // drop stale card chunk
		}
		if typ == "IEND" && !inserted {
			out = append(out, chunk...)
			inserted = true
		}
		out = append(out, full...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, errors.New("png has no IEND chunk")
	}
	return out, nil
}

// walkChunks iterates PNG chunks, handing each full chunk (length, type,
// data, crc) to fn.
func walkChunks(data []byte, fn func(typ string, full []byte) error) error {
	pos := len(pngMagic)
	for pos+12 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos:]))
		end := pos + 12 + length
		if end > len(data) {
			return errors.New("truncated png chunk")
		}
		typ := string(data[pos+4 : pos+8])
		if err := fn(typ, data[pos:end]); err != nil {
			return err
		}
		if typ == "IEND" {
			return nil
		}
		pos = end
	}
	return errors.New("png has no IEND chunk")
}

func findTextChunk(data []byte, key string) ([]byte, bool) {
	if !bytes.HasPrefix(data, pngMagic) {
		return nil, false
	}
	var value []byte
	found := false
	_ = walkChunks(data, func(typ string, full []byte) error {
		if typ != "tEXt" || found {
			return nil
		}
		body := full[8 : len(full)-4]
		sep := bytes.IndexByte(body, 0)
		if sep < 0 || string(body[:sep]) != key {
			return nil
		}
		value = body[sep+1:]
		found = true
		return nil
	})
	return value, found
}

func textChunkKey(full []byte) string {
	body := full[8 : len(full)-4]
	sep := bytes.IndexByte(body, 0)
	if sep < 0 {
		return ""
	}
	return string(body[:sep])
}

func buildTextChunk(key string, value []byte) []byte {
	body := make([]byte, 0, len(key)+1+len(value))
	body = append(body, key...)
	body = append(body, 0)
	body = append(body, value...)

	chunk := make([]byte, 8, 8+len(body)+4)
	binary.BigEndian.PutUint32(chunk[0:], uint32(len(body)))
	copy(chunk[4:8], "tEXt")
	chunk = append(chunk, body...)

	crc := crc32.NewIEEE()
	crc.Write(chunk[4:])
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	return append(chunk, sum[:]...)
}
