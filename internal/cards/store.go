package cards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardshelf/cardshelf/internal/cardfile"
	"github.com/cardshelf/cardshelf/internal/db"
)

// DBStore persists cards in PostgreSQL. Card and version are committed in
// one transaction so a card row never exists without its version.
type DBStore struct {
	pool *pgxpool.Pool
}

// NewDBStore creates a database-backed card store.
func NewDBStore(pool *pgxpool.Pool) *DBStore {
	return &DBStore{pool: pool}
}

func (s *DBStore) Create(ctx context.Context, params CreateParams) (Card, Version, error) {
	ownerID, err := db.ParseUUID(params.OwnerID)
	if err != nil {
		return Card{}, Version{}, err
	}
	tokens, err := json.Marshal(params.Tokens)
	if err != nil {
		return Card{}, Version{}, err
	}
	flags, err := json.Marshal(params.Flags)
	if err != nil {
		return Card{}, Version{}, err
	}
	assetKeys, err := json.Marshal(params.AssetKeys)
	if err != nil {
		return Card{}, Version{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Card{}, Version{}, fmt.Errorf("begin card commit: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if params.ID == "" {
		params.ID = uuid.NewString()
	}
	card := Card{
		ID:         params.ID,
		OwnerID:    params.OwnerID,
		Slug:       Slugify(params.Name),
		Name:       params.Name,
		Visibility: params.Visibility,
	}
	pgCardID, err := db.ParseUUID(card.ID)
	if err != nil {
		return Card{}, Version{}, err
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO cards (id, owner_id, slug, name, visibility)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		pgCardID, ownerID, card.Slug, card.Name, card.Visibility,
	).Scan(&card.CreatedAt)
	if err != nil {
		return Card{}, Version{}, fmt.Errorf("insert card: %w", err)
	}

	version := Version{
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
	}
	previewKey := pgtype.Text{String: params.PreviewKey, Valid: params.PreviewKey != ""}
	err = tx.QueryRow(ctx,
		`INSERT INTO card_versions (card_id, content_digest, container_format, original_key,
		                            preview_key, asset_keys, structured_data, tags,
		                            token_counts, feature_flags, size_bytes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at`,
		pgCardID, params.ContentDigest, string(params.Format), params.OriginalKey,
		previewKey, assetKeys, params.StructuredData, params.Tags,
		tokens, flags, params.SizeBytes,
	).Scan(&version.ID, &version.CreatedAt)
	if err != nil {
		return Card{}, Version{}, fmt.Errorf("insert card version: %w", err)
	}

	versionID, err := db.ParseUUID(version.ID)
	if err != nil {
		return Card{}, Version{}, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE cards SET current_version_id = $1, updated_at = now() WHERE id = $2`,
		versionID, pgCardID,
	); err != nil {
		return Card{}, Version{}, fmt.Errorf("set current version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Card{}, Version{}, fmt.Errorf("commit card: %w", err)
	}
	card.CurrentVersionID = version.ID
	return card, version, nil
}

func (s *DBStore) GetBySlug(ctx context.Context, slug string) (Card, Version, error) {
	var (
		card       Card
		version    Version
		format     string
		previewKey pgtype.Text
		assetKeys  []byte
		tokens     []byte
		flags      []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT c.id, c.owner_id, c.slug, c.name, c.visibility, c.current_version_id, c.created_at,
		        v.id, v.content_digest, v.container_format, v.original_key, v.preview_key,
		        v.asset_keys, v.structured_data, v.tags, v.token_counts, v.feature_flags,
		        v.size_bytes, v.created_at
		 FROM cards c
		 JOIN card_versions v ON v.id = c.current_version_id
		 WHERE c.slug = $1`,
		slug,
	).Scan(
		&card.ID, &card.OwnerID, &card.Slug, &card.Name, &card.Visibility, &card.CurrentVersionID, &card.CreatedAt,
		&version.ID, &version.ContentDigest, &format, &version.OriginalKey, &previewKey,
		&assetKeys, &version.StructuredData, &version.Tags, &tokens, &flags,
		&version.SizeBytes, &version.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Card{}, Version{}, ErrCardNotFound
		}
		return Card{}, Version{}, err
	}
	version.CardID = card.ID
	version.Format = cardfile.Format(format)
	version.PreviewKey = db.TextToString(previewKey)
	if err := json.Unmarshal(assetKeys, &version.AssetKeys); err != nil {
		return Card{}, Version{}, fmt.Errorf("decode asset keys: %w", err)
	}
	if err := json.Unmarshal(tokens, &version.Tokens); err != nil {
		return Card{}, Version{}, fmt.Errorf("decode token counts: %w", err)
	}
	if err := json.Unmarshal(flags, &version.Flags); err != nil {
		return Card{}, Version{}, fmt.Errorf("decode feature flags: %w", err)
	}
	return card, version, nil
}
