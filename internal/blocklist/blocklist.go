// Package blocklist answers whether tags are barred from the platform.
package blocklist

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Service holds the normalized block-list in memory. Ingestion reads it
// without touching the database; Reload refreshes the set.
type Service struct {
	pool *pgxpool.Pool

	mu      sync.RWMutex
	blocked map[string]struct{}
}

// NewService creates a block-list service. Call Reload before first use
// when pool is set; a nil pool yields an empty list (tests populate via
// SetBlocked).
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool, blocked: make(map[string]struct{})}
}

// Reload replaces the in-memory set from the blocked_tags table.
func (s *Service) Reload(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	rows, err := s.pool.Query(ctx, `SELECT tag FROM blocked_tags`)
	if err != nil {
		return err
	}
	defer rows.Close()

	blocked := make(map[string]struct{})
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return err
		}
		blocked[Normalize(tag)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.blocked = blocked
	s.mu.Unlock()
	return nil
}

// SetBlocked replaces the set directly. Test hook.
func (s *Service) SetBlocked(tags ...string) {
	blocked := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		blocked[Normalize(t)] = struct{}{}
	}
	s.mu.Lock()
	s.blocked = blocked
	s.mu.Unlock()
}

// Check returns the blocked tags present in the given list, normalized
// and sorted. An empty result means the list passes.
func (s *Service) Check(tags []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var offending []string
	seen := make(map[string]struct{})
	for _, tag := range tags {
		norm := Normalize(tag)
		if _, blocked := s.blocked[norm]; !blocked {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		offending = append(offending, norm)
	}
	sort.Strings(offending)
	return offending
}

// Normalize lowercases and trims a tag for comparison and storage.
func Normalize(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// NormalizeAll normalizes and deduplicates a tag list, dropping empties
// and preserving first-occurrence order.
func NormalizeAll(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		norm := Normalize(tag)
		if norm == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}
