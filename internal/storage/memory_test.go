package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

func putString(t *testing.T, p *MemoryProvider, key, data string) {
	t.Helper()
	if err := p.Put(context.Background(), key, bytes.NewReader([]byte(data)), int64(len(data)), "application/octet-stream"); err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}

func readKey(t *testing.T, p *MemoryProvider, key string) string {
	t.Helper()
	rc, err := p.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("open %s: %v", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return string(data)
}

func TestMemoryProviderObjectLifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	putString(t, p, "pending/s1/original.png", "payload")

	info, err := p.Stat(ctx, "pending/s1/original.png")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size != int64(len("payload")) {
		t.Errorf("size = %d", info.Size)
	}

	if err := p.Move(ctx, "pending/s1/original.png", "cards/c1/original.png"); err != nil {
		t.Fatalf("move: %v", err)
	}
	if _, err := p.Stat(ctx, "pending/s1/original.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("source survives move: %v", err)
	}
	if got := readKey(t, p, "cards/c1/original.png"); got != "payload" {
		t.Errorf("moved payload = %q", got)
	}

	if err := p.Move(ctx, "pending/s1/missing", "cards/c1/x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("move missing = %v, want ErrNotFound", err)
	}

	if err := p.Delete(ctx, "cards/c1/original.png"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := p.Open(ctx, "cards/c1/original.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("open deleted = %v, want ErrNotFound", err)
	}
}

func TestMemoryProviderMultipartOutOfOrder(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	uploadID, err := p.CreateMultipart(ctx, "pending/s1/original.charx", "application/zip")
	if err != nil {
		t.Fatalf("create multipart: %v", err)
	}

	chunks := map[int]string{1: "first-", 2: "second-", 3: "third"}
	var parts []Part
	for _, n := range []int{3, 1, 2} {
		part, err := p.PutPart(ctx, "pending/s1/original.charx", uploadID, n, bytes.NewReader([]byte(chunks[n])), int64(len(chunks[n])))
		if err != nil {
			t.Fatalf("put part %d: %v", n, err)
		}
		parts = append(parts, part)
	}

	if err := p.CompleteMultipart(ctx, "pending/s1/original.charx", uploadID, parts); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := readKey(t, p, "pending/s1/original.charx"); got != "first-second-third" {
		t.Errorf("assembled = %q", got)
	}
}

func TestMemoryProviderMultipartBadToken(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	uploadID, _ := p.CreateMultipart(ctx, "k", "application/zip")
	part, err := p.PutPart(ctx, "k", uploadID, 1, bytes.NewReader([]byte("data")), 4)
	if err != nil {
		t.Fatalf("put part: %v", err)
	}
	part.Token = "forged"
	if err := p.CompleteMultipart(ctx, "k", uploadID, []Part{part}); err == nil {
		t.Error("forged completion token accepted")
	}
}

func TestMemoryProviderMultipartAbort(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	uploadID, _ := p.CreateMultipart(ctx, "k", "application/zip")
	if _, err := p.PutPart(ctx, "k", uploadID, 1, bytes.NewReader([]byte("data")), 4); err != nil {
		t.Fatalf("put part: %v", err)
	}
	if err := p.AbortMultipart(ctx, "k", uploadID); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if _, err := p.PutPart(ctx, "k", uploadID, 2, bytes.NewReader([]byte("more")), 4); !errors.Is(err, ErrNotFound) {
		t.Errorf("put after abort = %v, want ErrNotFound", err)
	}
	if _, err := p.Stat(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("aborted upload left an object: %v", err)
	}
}
