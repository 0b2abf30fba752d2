// Package uploader is the client-side orchestrator: it derives card
// metadata locally with the same cardfile logic the server runs, picks a
// transport strategy, and drives the upload to a committed card.
package uploader

import (
	"context"
	"fmt"

	"github.com/gabriel-vasile/mimetype"

	"github.com/cardshelf/cardshelf/internal/cardfile"
	"github.com/cardshelf/cardshelf/internal/cards"
	"github.com/cardshelf/cardshelf/internal/ingest"
	"github.com/cardshelf/cardshelf/internal/multipart"
	"github.com/cardshelf/cardshelf/internal/presign"
	"github.com/cardshelf/cardshelf/internal/storage"
)

// Stage names reported through the progress callback.
type Stage string

const (
	StagePreparing  Stage = "preparing"
	StageUploading  Stage = "uploading"
	StageFinalizing Stage = "finalizing"
	StageDone       Stage = "done"
	StageError      Stage = "error"
)

// Progress is one progress report. Percent is derived from completed and
// total parts; single-shot transports report 0 then 100.
type Progress struct {
	Stage          Stage
	PartsCompleted int
	TotalParts     int
	Percent        float64
	Err            error
}

// ProgressFunc receives progress reports. May be nil.
type ProgressFunc func(Progress)

// Transport is the wire surface the orchestrator drives. Implementations
// wrap the platform's HTTP API; tests wire the services in directly.
type Transport interface {
	// Direct sends the whole package inline in one request.
	Direct(ctx context.Context, filename, visibility string, tags []string, data []byte) (cards.Card, cards.Version, error)
	// Presign obtains write URLs for the declared files.
	Presign(ctx context.Context, files []presign.FileSpec) (presign.Response, error)
	// PutURL writes data to a presigned URL.
	PutURL(ctx context.Context, url string, data []byte, contentType string) error
	// OpenMultipart starts a chunked upload.
	OpenMultipart(ctx context.Context, filename, contentType string, size int64) (multipart.OpenResponse, error)
	// UploadPart sends one chunk. The orchestrator never retries a part on
	// its own; a failed part fails the upload.
	UploadPart(ctx context.Context, sessionID string, partNumber int, data []byte) (storage.Part, error)
	// CompleteMultipart assembles the uploaded chunks.
	CompleteMultipart(ctx context.Context, sessionID string, parts []storage.Part) error
	// Confirm finalizes an upload session into a card.
	Confirm(ctx context.Context, req ingest.ConfirmRequest) (cards.Card, cards.Version, error)
}

// Options configure one upload. Limits mirror the server's policy; the
// server still enforces its own.
type Options struct {
	Visibility     string
	Tags           []string
	DirectLimit    int64
	ChunkSize      int64
	PresignEnabled bool
	OnProgress     ProgressFunc
}

// Uploader drives uploads over a Transport.
type Uploader struct {
	transport Transport
}

// New creates an uploader.
func New(t Transport) *Uploader {
	return &Uploader{transport: t}
}

// Upload ingests one package file end to end and returns the committed
// card. Strategy selection: packages over the direct limit go chunked;
// otherwise presigned when enabled, else direct.
func (u *Uploader) Upload(ctx context.Context, filename string, data []byte, opts Options) (cards.Card, cards.Version, error) {
	report := opts.OnProgress
	if report == nil {
		report = func(Progress) {}
	}
	report(Progress{Stage: StagePreparing})

	format, err := cardfile.Detect(data, filename)
	if err != nil {
		report(Progress{Stage: StageError, Err: err})
		return cards.Card{}, cards.Version{}, err
	}
	pkg, err := cardfile.Normalize(data, format)
	if err != nil {
		report(Progress{Stage: StageError, Err: err})
		return cards.Card{}, cards.Version{}, err
	}

	var (
		card    cards.Card
		version cards.Version
	)
	switch {
	case int64(len(data)) > opts.DirectLimit:
		card, version, err = u.chunked(ctx, filename, data, pkg, opts, report)
	case opts.PresignEnabled:
		card, version, err = u.presigned(ctx, filename, data, pkg, opts, report)
	default:
		report(Progress{Stage: StageUploading, TotalParts: 1})
		card, version, err = u.transport.Direct(ctx, filename, opts.Visibility, opts.Tags, data)
	}
	if err != nil {
		report(Progress{Stage: StageError, Err: err})
		return cards.Card{}, cards.Version{}, err
	}
	report(Progress{Stage: StageDone, Percent: 100})
	return card, version, nil
}

func (u *Uploader) presigned(ctx context.Context, filename string, data []byte, pkg *cardfile.Package, opts Options, report ProgressFunc) (cards.Card, cards.Version, error) {
	files := []presign.FileSpec{{
		Key:         "original",
		Filename:    filename,
		Size:        int64(len(data)),
		ContentType: mimetype.Detect(data).String(),
	}}
	if len(pkg.Preview) > 0 {
		kind := mimetype.Detect(pkg.Preview)
		files = append(files, presign.FileSpec{
			Key:         "preview",
			Filename:    "preview" + kind.Extension(),
			Size:        int64(len(pkg.Preview)),
			ContentType: kind.String(),
		})
	}

	resp, err := u.transport.Presign(ctx, files)
	if err != nil {
		return cards.Card{}, cards.Version{}, err
	}

	total := len(files)
	report(Progress{Stage: StageUploading, TotalParts: total})
	uploads := map[string][]byte{"original": data}
	if len(pkg.Preview) > 0 {
		uploads["preview"] = pkg.Preview
	}
	done := 0
	for _, f := range files {
		target, ok := resp.URLs[f.Key]
		if !ok {
			return cards.Card{}, cards.Version{}, fmt.Errorf("no upload target for %q", f.Key)
		}
		if err := u.transport.PutURL(ctx, target.UploadURL, uploads[f.Key], f.ContentType); err != nil {
			return cards.Card{}, cards.Version{}, fmt.Errorf("upload %q: %w", f.Key, err)
		}
		done++
		report(Progress{
			Stage:          StageUploading,
			PartsCompleted: done,
			TotalParts:     total,
			Percent:        float64(done) / float64(total) * 100,
		})
	}

	req := u.confirmRequest(resp.SessionID, resp.URLs["original"].ObjectKey, data, pkg, opts)
	if target, ok := resp.URLs["preview"]; ok {
		req.PreviewKey = target.ObjectKey
	}
	report(Progress{Stage: StageFinalizing, PartsCompleted: total, TotalParts: total, Percent: 100})
	return u.transport.Confirm(ctx, req)
}

func (u *Uploader) chunked(ctx context.Context, filename string, data []byte, pkg *cardfile.Package, opts Options, report ProgressFunc) (cards.Card, cards.Version, error) {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		return cards.Card{}, cards.Version{}, fmt.Errorf("chunk size not configured")
	}

	contentType := mimetype.Detect(data).String()
	open, err := u.transport.OpenMultipart(ctx, filename, contentType, int64(len(data)))
	if err != nil {
		return cards.Card{}, cards.Version{}, err
	}

	total := (len(data) + int(chunkSize) - 1) / int(chunkSize)
	report(Progress{Stage: StageUploading, TotalParts: total})

	parts := make([]storage.Part, 0, total)
	for i := 0; i < total; i++ {
		start := i * int(chunkSize)
		end := start + int(chunkSize)
		if end > len(data) {
			end = len(data)
		}
		part, err := u.transport.UploadPart(ctx, open.SessionID, i+1, data[start:end])
		if err != nil {
			return cards.Card{}, cards.Version{}, fmt.Errorf("upload part %d: %w", i+1, err)
		}
		parts = append(parts, part)
		report(Progress{
			Stage:          StageUploading,
			PartsCompleted: i + 1,
			TotalParts:     total,
			Percent:        float64(i+1) / float64(total) * 100,
		})
	}

	if err := u.transport.CompleteMultipart(ctx, open.SessionID, parts); err != nil {
		return cards.Card{}, cards.Version{}, err
	}

	report(Progress{Stage: StageFinalizing, PartsCompleted: total, TotalParts: total, Percent: 100})
	return u.transport.Confirm(ctx, u.confirmRequest(open.SessionID, open.ObjectKey, data, pkg, opts))
}

// confirmRequest packs the locally derived metadata into the confirmation
// claim. The server re-derives everything; these values only let it flag
// client drift.
func (u *Uploader) confirmRequest(sessionID, originalKey string, data []byte, pkg *cardfile.Package, opts Options) ingest.ConfirmRequest {
	return ingest.ConfirmRequest{
		SessionID:   sessionID,
		Name:        pkg.Card.Name,
		Visibility:  opts.Visibility,
		Tags:        opts.Tags,
		OriginalKey: originalKey,
		Digest:      cardfile.Digest(data),
		Tokens:      pkg.Card.Tokens,
		Flags:       pkg.Card.Flags,
	}
}
