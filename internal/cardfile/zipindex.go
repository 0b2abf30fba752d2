package cardfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// ZIP record signatures and layout constants.
const (
	eocdSignature        = 0x06054b50
	centralDirSignature  = 0x02014b50
	localHeaderSignature = 0x04034b50
	zip64LocatorSig      = 0x07064b50

	eocdMinLen       = 22
	centralDirMinLen = 46
	localHeaderLen   = 30
	maxCommentLen    = 65535

	methodStored  = 0
	methodDeflate = 8
)

// ErrZip64Unsupported is returned for archives that require ZIP64 records.
// Truncating a ZIP64 archive silently would corrupt extraction, so this is
// a hard failure.
var ErrZip64Unsupported = errors.New("zip64 archives are not supported")

// ErrNotZip is returned when no end-of-central-directory record is found.
var ErrNotZip = errors.New("no zip end-of-central-directory record")

// Entry is one central-directory record. Sizes come from the central
// directory and are trusted only for budgeting, never for allocation
// beyond the declared budget.
type Entry struct {
	Name             string
	Method           uint16
	CompressedSize   uint32
	UncompressedSize uint32
	HeaderOffset     uint32
}

// Index is a selective view of a ZIP archive: the central directory is
// parsed up front, entry payloads are inflated only on demand.
type Index struct {
	data    []byte
	entries []Entry
	byName  map[string]int
}

// Budget caps selective extraction. MaxBytes is checked against the
// central directory's declared uncompressed size before any inflation
// happens, bounding worst-case decompression cost.
type Budget struct {
	MaxEntries int
	MaxBytes   int64
}

// DefaultBudget is the recommended extraction cap for untrusted archives.
var DefaultBudget = Budget{MaxEntries: 100, MaxBytes: 100 << 20}

// NewIndex parses the central directory of the archive in data without
// touching entry payloads.
func NewIndex(data []byte) (*Index, error) {
	eocd, err := findEOCD(data)
	if err != nil {
		return nil, err
	}

	total := binary.LittleEndian.Uint16(data[eocd+10:])
	cdOffset := binary.LittleEndian.Uint32(data[eocd+16:])
	if total == 0xffff || cdOffset == 0xffffffff {
		return nil, ErrZip64Unsupported
	}
	// A ZIP64 locator directly preceding the EOCD also means ZIP64.
	if eocd >= 20 && binary.LittleEndian.Uint32(data[eocd-20:]) == zip64LocatorSig {
		return nil, ErrZip64Unsupported
	}

	ix := &Index{
		data:    data,
		entries: make([]Entry, 0, total),
		byName:  make(map[string]int, total),
	}

	pos := int(cdOffset)
	for i := 0; i < int(total); i++ {
		if pos+centralDirMinLen > len(data) {
			return nil, fmt.Errorf("central directory truncated at entry %d", i)
		}
		if binary.LittleEndian.Uint32(data[pos:]) != centralDirSignature {
			return nil, fmt.Errorf("bad central directory signature at entry %d", i)
		}
		method := binary.LittleEndian.Uint16(data[pos+10:])
		compSize := binary.LittleEndian.Uint32(data[pos+20:])
		uncompSize := binary.LittleEndian.Uint32(data[pos+24:])
		nameLen := int(binary.LittleEndian.Uint16(data[pos+28:]))
		extraLen := int(binary.LittleEndian.Uint16(data[pos+30:]))
		commentLen := int(binary.LittleEndian.Uint16(data[pos+32:]))
		headerOffset := binary.LittleEndian.Uint32(data[pos+42:])
		if compSize == 0xffffffff || uncompSize == 0xffffffff || headerOffset == 0xffffffff {
			return nil, ErrZip64Unsupported
		}
		if pos+centralDirMinLen+nameLen > len(data) {
			return nil, fmt.Errorf("central directory name truncated at entry %d", i)
		}
		name := string(data[pos+centralDirMinLen : pos+centralDirMinLen+nameLen])
		ix.byName[name] = len(ix.entries)
		ix.entries = append(ix.entries, Entry{
			Name:             name,
			Method:           method,
			CompressedSize:   compSize,
			UncompressedSize: uncompSize,
			HeaderOffset:     headerOffset,
		})
		pos += centralDirMinLen + nameLen + extraLen + commentLen
	}
	return ix, nil
}

// Entries returns all central-directory entries in archive order.
func (ix *Index) Entries() []Entry { return ix.entries }

// Lookup finds an entry by exact name.
func (ix *Index) Lookup(name string) (Entry, bool) {
	i, ok := ix.byName[name]
	if !ok {
		return Entry{}, false
	}
	return ix.entries[i], true
}

// Extract seeks to the entry's local header, validates its signature, and
// inflates only that entry. Stored and deflate methods are supported.
func (ix *Index) Extract(e Entry) ([]byte, error) {
	pos := int(e.HeaderOffset)
	if pos+localHeaderLen > len(ix.data) {
		return nil, fmt.Errorf("local header for %q out of range", e.Name)
	}
	if binary.LittleEndian.Uint32(ix.data[pos:]) != localHeaderSignature {
		return nil, fmt.Errorf("bad local header signature for %q", e.Name)
	}
	nameLen := int(binary.LittleEndian.Uint16(ix.data[pos+26:]))
	extraLen := int(binary.LittleEndian.Uint16(ix.data[pos+28:]))
	start := pos + localHeaderLen + nameLen + extraLen
	end := start + int(e.CompressedSize)
	if start > len(ix.data) || end > len(ix.data) {
		return nil, fmt.Errorf("payload for %q out of range", e.Name)
	}
	payload := ix.data[start:end]

	switch e.Method {
	case methodStored:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case methodDeflate:
		r := flate.NewReader(bytes.NewReader(payload))
		defer r.Close()
		out, err := io.ReadAll(io.LimitReader(r, int64(e.UncompressedSize)+1))
		if err != nil {
			return nil, fmt.Errorf("inflate %q: %w", e.Name, err)
		}
		if int64(len(out)) != int64(e.UncompressedSize) {
			return nil, fmt.Errorf("inflate %q: got %d bytes, central directory declared %d", e.Name, len(out), e.UncompressedSize)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("entry %q uses unsupported compression method %d", e.Name, e.Method)
	}
}

// ExtractMatching extracts entries accepted by pred, in archive order,
// until the budget is exhausted. An entry whose declared uncompressed size
// exceeds the remaining byte budget is skipped without inflation.
func (ix *Index) ExtractMatching(pred func(Entry) bool, budget Budget) (map[string][]byte, error) {
	out := make(map[string][]byte)
	remaining := budget.MaxBytes
	for _, e := range ix.entries {
		if len(out) >= budget.MaxEntries {
			break
		}
		if !pred(e) {
			continue
		}
		if int64(e.UncompressedSize) > remaining {
			continue
		}
		data, err := ix.Extract(e)
		if err != nil {
			return nil, err
		}
		out[e.Name] = data
		remaining -= int64(len(data))
	}
	return out, nil
}

// findEOCD scans backward from the buffer tail for the EOCD signature,
// bounded by the maximum legal comment length.
func findEOCD(data []byte) (int, error) {
	if len(data) < eocdMinLen {
		return 0, ErrNotZip
	}
	floor := len(data) - eocdMinLen - maxCommentLen
	if floor < 0 {
		floor = 0
	}
	for pos := len(data) - eocdMinLen; pos >= floor; pos-- {
		if binary.LittleEndian.Uint32(data[pos:]) != eocdSignature {
			continue
		}
		// The comment length must account for exactly the bytes that
		// follow, otherwise this is a false positive inside entry data.
		commentLen := int(binary.LittleEndian.Uint16(data[pos+20:]))
		if pos+eocdMinLen+commentLen == len(data) {
			return pos, nil
		}
	}
	return 0, ErrNotZip
}
