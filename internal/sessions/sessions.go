// Package sessions tracks upload sessions from creation to one-shot
// consumption by the ingestion finalizer.
package sessions

import (
	"context"
	"errors"
	"time"
)

// Transport strategies recorded on a session.
const (
	StrategyDirect    = "direct"
	StrategyPresigned = "presigned"
	StrategyChunked   = "chunked"
)

// ErrSessionNotFound covers every ownership or lifecycle violation:
// unknown id, foreign owner, expired, or already consumed. Callers get no
// more detail than "not found" by design.
var ErrSessionNotFound = errors.New("upload session not found")

// Session is one upload session. ObjectKeys are the pending keys the
// session may write; UploadID is set only for the chunked strategy.
type Session struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Strategy   string    `json:"strategy"`
	ObjectKeys []string  `json:"object_keys"`
	UploadID   string    `json:"upload_id,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	ConsumedAt time.Time `json:"-"`
}

// Store persists upload sessions.
type Store interface {
	// Create persists a new session and returns it with its assigned id.
	Create(ctx context.Context, s Session) (Session, error)
	// Get returns a live (unconsumed, unexpired) session owned by ownerID.
	Get(ctx context.Context, id, ownerID string) (Session, error)
	// Consume atomically marks a live session consumed and returns it.
	// A session can be consumed exactly once.
	Consume(ctx context.Context, id, ownerID string) (Session, error)
}
