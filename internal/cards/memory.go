package cards

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store for pipeline tests.
type MemStore struct {
	mu       sync.Mutex
	cards    map[string]Card
	versions map[string]Version
	bySlug   map[string]string
}

// NewMemStore creates an empty in-memory card store.
func NewMemStore() *MemStore {
	return &MemStore{
		cards:    make(map[string]Card),
		versions: make(map[string]Version),
		bySlug:   make(map[string]string),
	}
}

func (m *MemStore) Create(_ context.Context, params CreateParams) (Card, Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if params.ID == "" {
		params.ID = uuid.NewString()
	}
	card := Card{
		ID:         params.ID,
		OwnerID:    params.OwnerID,
		Slug:       Slugify(params.Name),
		Name:       params.Name,
		Visibility: params.Visibility,
		CreatedAt:  now,
	}
	version := Version{
		ID:             uuid.NewString(),
		CardID:         card.ID,
		ContentDigest:  params.ContentDigest,
		Format:         params.Format,
		OriginalKey:    params.OriginalKey,
		PreviewKey:     params.PreviewKey,
		AssetKeys:      params.AssetKeys,
		StructuredData: params.StructuredData,
		Tags:           params.Tags,
		Tokens:         params.Tokens,
		Flags:          params.Flags,
		SizeBytes:      params.SizeBytes,
		CreatedAt:      now,
	}
	card.CurrentVersionID = version.ID
	m.cards[card.ID] = card
	m.versions[version.ID] = version
	m.bySlug[card.Slug] = card.ID
	return card, version, nil
}

func (m *MemStore) GetBySlug(_ context.Context, slug string) (Card, Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.bySlug[slug]
	if !ok {
		return Card{}, Version{}, ErrCardNotFound
	}
	card := m.cards[id]
	return card, m.versions[card.CurrentVersionID], nil
}
