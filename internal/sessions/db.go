package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardshelf/cardshelf/internal/db"
)

// DBStore persists sessions in the upload_sessions table.
type DBStore struct {
	pool *pgxpool.Pool
}

// NewDBStore creates a database-backed session store.
func NewDBStore(pool *pgxpool.Pool) *DBStore {
	return &DBStore{pool: pool}
}

func (s *DBStore) Create(ctx context.Context, session Session) (Session, error) {
	ownerID, err := db.ParseUUID(session.OwnerID)
	if err != nil {
		return Session{}, err
	}
	keys, err := json.Marshal(session.ObjectKeys)
	if err != nil {
		return Session{}, err
	}
	uploadID := pgtype.Text{String: session.UploadID, Valid: session.UploadID != ""}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	pgID, err := db.ParseUUID(session.ID)
	if err != nil {
		return Session{}, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO upload_sessions (id, owner_id, strategy, object_keys, upload_id, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		pgID, ownerID, session.Strategy, keys, uploadID,
		pgtype.Timestamptz{Time: session.ExpiresAt, Valid: true},
	)
	if err != nil {
		return Session{}, fmt.Errorf("create upload session: %w", err)
	}
	return session, nil
}

func (s *DBStore) Get(ctx context.Context, id, ownerID string) (Session, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Session{}, ErrSessionNotFound
	}
	pgOwner, err := db.ParseUUID(ownerID)
	if err != nil {
		return Session{}, ErrSessionNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, strategy, object_keys, upload_id, expires_at
		 FROM upload_sessions
		 WHERE id = $1 AND owner_id = $2 AND consumed_at IS NULL AND expires_at > now()`,
		pgID, pgOwner,
	)
	return scanSession(row)
}

func (s *DBStore) Consume(ctx context.Context, id, ownerID string) (Session, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Session{}, ErrSessionNotFound
	}
	pgOwner, err := db.ParseUUID(ownerID)
	if err != nil {
		return Session{}, ErrSessionNotFound
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE upload_sessions SET consumed_at = now()
		 WHERE id = $1 AND owner_id = $2 AND consumed_at IS NULL AND expires_at > now()
		 RETURNING id, owner_id, strategy, object_keys, upload_id, expires_at`,
		pgID, pgOwner,
	)
	session, err := scanSession(row)
	if err != nil {
		return Session{}, err
	}
	session.ConsumedAt = time.Now().UTC()
	return session, nil
}

func scanSession(row pgx.Row) (Session, error) {
	var (
		session  Session
		keys     []byte
		uploadID pgtype.Text
		expires  pgtype.Timestamptz
	)
	err := row.Scan(&session.ID, &session.OwnerID, &session.Strategy, &keys, &uploadID, &expires)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	if err := json.Unmarshal(keys, &session.ObjectKeys); err != nil {
		return Session{}, fmt.Errorf("decode session object keys: %w", err)
	}
	session.UploadID = db.TextToString(uploadID)
	session.ExpiresAt = db.TimeFromPg(expires)
	return session, nil
}
