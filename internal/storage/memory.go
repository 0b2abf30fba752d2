package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryProvider is a map-backed Provider used by tests and local
// development. It mirrors the copy-then-delete and multipart semantics of
// the real store, including opaque per-part completion tokens.
type MemoryProvider struct {
	mu       sync.RWMutex
	objects  map[string]memoryObject
	sessions map[string]*memorySession
}

type memoryObject struct {
	data        []byte
	contentType string
}

type memorySession struct {
	key         string
	contentType string
	parts       map[int]memoryPart
}

type memoryPart struct {
	data  []byte
	token string
}

// NewMemoryProvider creates an empty in-memory store.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		objects:  make(map[string]memoryObject),
		sessions: make(map[string]*memorySession),
	}
}

func (p *MemoryProvider) Put(_ context.Context, key string, reader io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[key] = memoryObject{data: data, contentType: contentType}
	return nil
}

func (p *MemoryProvider) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	obj, ok := p.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (p *MemoryProvider) Stat(_ context.Context, key string) (ObjectInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	obj, ok := p.objects[key]
	if !ok {
		return ObjectInfo{}, ErrNotFound
	}
	return ObjectInfo{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType}, nil
}

func (p *MemoryProvider) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.objects, key)
	return nil
}

func (p *MemoryProvider) Move(_ context.Context, src, dst string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	obj, ok := p.objects[src]
	if !ok {
		return ErrNotFound
	}
	p.objects[dst] = obj
	delete(p.objects, src)
	return nil
}

func (p *MemoryProvider) PresignPut(_ context.Context, key string, _ time.Duration) (string, error) {
	return "memory://" + key, nil
}

func (p *MemoryProvider) CreateMultipart(_ context.Context, key, contentType string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := uuid.NewString()
	p.sessions[id] = &memorySession{key: key, contentType: contentType, parts: make(map[int]memoryPart)}
	return id, nil
}

func (p *MemoryProvider) PutPart(_ context.Context, key, uploadID string, partNumber int, reader io.Reader, _ int64) (Part, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return Part{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	session, ok := p.sessions[uploadID]
	if !ok || session.key != key {
		return Part{}, ErrNotFound
	}
	sum := sha256.Sum256(data)
	token := hex.EncodeToString(sum[:8])
	session.parts[partNumber] = memoryPart{data: data, token: token}
	return Part{Number: partNumber, Token: token, Size: int64(len(data))}, nil
}

func (p *MemoryProvider) CompleteMultipart(_ context.Context, key, uploadID string, parts []Part) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	session, ok := p.sessions[uploadID]
	if !ok || session.key != key {
		return ErrNotFound
	}
	// Mirror S3 semantics: the caller supplies the authoritative part
	// order and tokens must match what PutPart returned.
	sorted := make([]Part, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	var assembled []byte
	for _, part := range sorted {
		stored, ok := session.parts[part.Number]
		if !ok {
			return fmt.Errorf("part %d was never uploaded", part.Number)
		}
		if stored.token != part.Token {
			return fmt.Errorf("part %d completion token mismatch", part.Number)
		}
		assembled = append(assembled, stored.data...)
	}
	p.objects[key] = memoryObject{data: assembled, contentType: session.contentType}
	delete(p.sessions, uploadID)
	return nil
}

func (p *MemoryProvider) AbortMultipart(_ context.Context, key, uploadID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	session, ok := p.sessions[uploadID]
	if ok && session.key == key {
		delete(p.sessions, uploadID)
	}
	return nil
}

func (p *MemoryProvider) PublicURL(key string) string {
	return "/" + key
}

// Keys returns all stored object keys with the given prefix, sorted.
// Test helper for asserting cleanup behavior.
func (p *MemoryProvider) Keys(prefix string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var keys []string
	for k := range p.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
