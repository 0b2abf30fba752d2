package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cardshelf/cardshelf/internal/blocklist"
	"github.com/cardshelf/cardshelf/internal/cardfile"
	"github.com/cardshelf/cardshelf/internal/cards"
	"github.com/cardshelf/cardshelf/internal/config"
	"github.com/cardshelf/cardshelf/internal/policy"
	"github.com/cardshelf/cardshelf/internal/sessions"
	"github.com/cardshelf/cardshelf/internal/storage"
)

const testCardJSON = `{
	"spec_version": "3.0",
	"data": {
		"name": "Aster",
		"description": "A wandering cartographer.",
		"tags": ["Adventure"],
		"alternate_greetings": ["Well met."]
	}
}`

type testEnv struct {
	svc       *Service
	provider  *storage.MemoryProvider
	sessions  *sessions.MemStore
	cards     *cards.MemStore
	blocklist *blocklist.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg, err := config.Load("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	env := &testEnv{
		provider:  storage.NewMemoryProvider(),
		sessions:  sessions.NewMemStore(),
		cards:     cards.NewMemStore(),
		blocklist: blocklist.NewService(nil),
	}
	env.svc = NewService(slog.Default(), env.provider, env.sessions, env.cards, env.blocklist, policy.NewService(cfg))
	return env
}

// cardPNG encodes a real 1x1 PNG and embeds the card JSON in it.
func cardPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	data, err := cardfile.WithCardJSON(buf.Bytes(), []byte(testCardJSON))
	if err != nil {
		t.Fatalf("embed card: %v", err)
	}
	return data
}

func charxBundle(t *testing.T, cardJSON string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"card.json":           cardJSON,
		"icon/main.png":       "icon-bytes",
		"assets/img/face.png": "face-bytes",
	} {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// seedSession records a presigned session and writes its non-nil objects
// to the pending namespace. A nil value issues the key without uploading.
func seedSession(t *testing.T, env *testEnv, ownerID string, files map[string][]byte) sessions.Session {
	t.Helper()
	ctx := context.Background()
	session := sessions.Session{
		OwnerID:   ownerID,
		Strategy:  sessions.StrategyPresigned,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	session.ID = uuid.NewString()
	for name, data := range files {
		key := storage.PendingKey(session.ID, name)
		session.ObjectKeys = append(session.ObjectKeys, key)
		if data == nil {
			continue
		}
		if err := env.provider.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/octet-stream"); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
	created, err := env.sessions.Create(ctx, session)
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return created
}

func TestConfirmPresignedFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	original := cardPNG(t)
	preview := []byte("preview-bytes")

	session := seedSession(t, env, "owner-1", map[string][]byte{
		"original.png": original,
		"preview.png":  preview,
	})

	card, version, err := env.svc.Confirm(ctx, "owner-1", ConfirmRequest{
		SessionID:   session.ID,
		Name:        "Client Claimed Name",
		Visibility:  policy.VisibilityPublic,
		Tags:        []string{"Fantasy"},
		OriginalKey: storage.PendingKey(session.ID, "original.png"),
		PreviewKey:  storage.PendingKey(session.ID, "preview.png"),
		Digest:      "not-the-real-digest",
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// Derived metadata wins over the client claims; wrong name and digest
	// claims are observational, never fatal.
	if card.Name != "Aster" {
		t.Errorf("name = %q, want derived Aster", card.Name)
	}
	if version.ContentDigest != cardfile.Digest(original) {
		t.Error("content digest does not match original bytes")
	}
	if version.SizeBytes != int64(len(original)) {
		t.Errorf("size = %d", version.SizeBytes)
	}
	// Client tags merge with card tags, normalized.
	if strings.Join(version.Tags, ",") != "fantasy,adventure" {
		t.Errorf("tags = %v", version.Tags)
	}

	if got := env.provider.Keys(storage.PendingPrefix + "/"); len(got) != 0 {
		t.Errorf("pending namespace not swept: %v", got)
	}
	permanent := env.provider.Keys(storage.PermanentPrefix + "/")
	if len(permanent) != 2 {
		t.Fatalf("permanent objects = %v, want original and preview", permanent)
	}
	if !strings.HasSuffix(version.OriginalKey, "original.png") {
		t.Errorf("original key = %q", version.OriginalKey)
	}
	if !strings.HasPrefix(version.OriginalKey, storage.PermanentPrefix+"/"+card.ID+"/") {
		t.Errorf("original key %q not namespaced by card id", version.OriginalKey)
	}

	// The session is consumed exactly once.
	if _, _, err := env.svc.Confirm(ctx, "owner-1", ConfirmRequest{
		SessionID:   session.ID,
		Visibility:  policy.VisibilityPublic,
		OriginalKey: storage.PendingKey(session.ID, "original.png"),
	}); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Errorf("second confirm = %v, want ErrSessionNotFound", err)
	}

	// The committed card is retrievable.
	got, _, err := env.cards.GetBySlug(ctx, card.Slug)
	if err != nil {
		t.Fatalf("get by slug: %v", err)
	}
	if got.ID != card.ID {
		t.Errorf("slug lookup returned %q", got.ID)
	}
}

func TestConfirmBlockedTagsCleansUp(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.blocklist.SetBlocked("gore")

	session := seedSession(t, env, "owner-1", map[string][]byte{
		"original.png": cardPNG(t),
	})

	_, _, err := env.svc.Confirm(ctx, "owner-1", ConfirmRequest{
		SessionID:   session.ID,
		Visibility:  policy.VisibilityPublic,
		Tags:        []string{"Gore"},
		OriginalKey: storage.PendingKey(session.ID, "original.png"),
	})
	var blocked *BlockedTagsError
	if !errors.As(err, &blocked) {
		t.Fatalf("err = %v, want BlockedTagsError", err)
	}
	if strings.Join(blocked.Tags, ",") != "gore" {
		t.Errorf("blocked tags = %v", blocked.Tags)
	}

	// Every moved object is compensated; nothing leaks in either namespace.
	if got := env.provider.Keys(""); len(got) != 0 {
		t.Errorf("objects left behind: %v", got)
	}
}

func TestConfirmRejectsForeignKeys(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	tests := []struct {
		name string
		key  func(sessionID string) string
	}{
		{name: "other session", key: func(string) string { return "pending/other-session/original.png" }},
		{name: "permanent namespace", key: func(string) string { return "cards/abc/original.png" }},
		{name: "traversal", key: func(id string) string { return "pending/" + id + "/../escape.png" }},
		{name: "never issued", key: func(id string) string { return storage.PendingKey(id, "sneaky.png") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Each attempt needs a fresh session: confirm consumes it
			// before key validation.
			s := seedSession(t, env, "owner-1", map[string][]byte{"original.png": nil})
			_, _, err := env.svc.Confirm(ctx, "owner-1", ConfirmRequest{
				SessionID:   s.ID,
				Visibility:  policy.VisibilityPublic,
				OriginalKey: tt.key(s.ID),
			})
			if !errors.Is(err, ErrKeyOutsideSession) {
				t.Errorf("err = %v, want ErrKeyOutsideSession", err)
			}
		})
	}
}

func TestConfirmPreviewMoveFallsBack(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	original := cardPNG(t)

	// The preview key was issued but the client never wrote the object;
	// ingestion proceeds with a fallback preview.
	session := seedSession(t, env, "owner-1", map[string][]byte{
		"original.png": original,
		"preview.png":  nil,
	})

	card, version, err := env.svc.Confirm(ctx, "owner-1", ConfirmRequest{
		SessionID:   session.ID,
		Visibility:  policy.VisibilityPublic,
		OriginalKey: storage.PendingKey(session.ID, "original.png"),
		PreviewKey:  storage.PendingKey(session.ID, "preview.png"),
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if version.PreviewKey == "" {
		t.Fatal("no fallback preview")
	}
	if !strings.HasPrefix(version.PreviewKey, storage.PermanentKey(card.ID)+"/") {
		t.Errorf("preview key = %q", version.PreviewKey)
	}
	if _, err := env.provider.Stat(ctx, version.PreviewKey); err != nil {
		t.Errorf("fallback preview not stored: %v", err)
	}
}

func TestConfirmCharxSamplesAssets(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	cardJSON := `{
		"data": {
			"name": "Briar",
			"description": "Portrait: embedded://assets/img/face.png"
		}
	}`
	data := charxBundle(t, cardJSON)

	// No asset keys are declared; the finalizer publishes the archive
	// sample itself so no reference stays unresolved.
	session := seedSession(t, env, "owner-1", map[string][]byte{
		"original.charx": data,
	})

	_, version, err := env.svc.Confirm(ctx, "owner-1", ConfirmRequest{
		SessionID:   session.ID,
		Visibility:  policy.VisibilityPublic,
		OriginalKey: storage.PendingKey(session.ID, "original.charx"),
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(version.AssetKeys) != 1 {
		t.Fatalf("asset keys = %v", version.AssetKeys)
	}
	structured := string(version.StructuredData)
	if strings.Contains(structured, "embedded://") {
		t.Errorf("unrewritten reference in structured data: %s", structured)
	}
	if !strings.Contains(structured, "/"+version.AssetKeys[0]) {
		t.Errorf("structured data does not reference the public asset: %s", structured)
	}
	if _, err := env.provider.Stat(ctx, version.AssetKeys[0]); err != nil {
		t.Errorf("sampled asset not stored: %v", err)
	}
}

func TestConfirmMissingOriginal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// The key was issued but the client never wrote the object.
	session := seedSession(t, env, "owner-1", map[string][]byte{"original.png": nil})

	_, _, err := env.svc.Confirm(ctx, "owner-1", ConfirmRequest{
		SessionID:   session.ID,
		Visibility:  policy.VisibilityPublic,
		OriginalKey: storage.PendingKey(session.ID, "original.png"),
	})
	if !errors.Is(err, ErrOriginalMissing) {
		t.Errorf("err = %v, want ErrOriginalMissing", err)
	}
}

func TestDirectCharxRewritesAssets(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	cardJSON := `{
		"data": {
			"name": "Briar",
			"description": "Portrait: embedded://assets/img/face.png",
			"tags": ["forest"]
		}
	}`
	data := charxBundle(t, cardJSON)

	card, version, err := env.svc.Direct(ctx, "owner-1", "briar.charx", policy.VisibilityUnlisted, nil, data)
	if err != nil {
		t.Fatalf("direct: %v", err)
	}
	if card.Name != "Briar" {
		t.Errorf("name = %q", card.Name)
	}
	if version.Format != cardfile.FormatCharx {
		t.Errorf("format = %q", version.Format)
	}
	if len(version.AssetKeys) != 1 {
		t.Fatalf("asset keys = %v", version.AssetKeys)
	}

	structured := string(version.StructuredData)
	if strings.Contains(structured, "embedded://") {
		t.Errorf("unrewritten reference in structured data: %s", structured)
	}
	if !strings.Contains(structured, "/"+version.AssetKeys[0]) {
		t.Errorf("structured data does not reference the public asset: %s", structured)
	}

	// Original, preview (from icon/), and one sampled asset.
	permanent := env.provider.Keys(storage.PermanentPrefix + "/")
	if len(permanent) != 3 {
		t.Errorf("permanent objects = %v", permanent)
	}
}

func TestDirectSizeLimit(t *testing.T) {
	cfg, _ := config.Load("/nonexistent/config.toml")
	cfg.Upload.DirectLimitMB = 1
	env := newTestEnv(t)
	env.svc = NewService(slog.Default(), env.provider, env.sessions, env.cards, env.blocklist, policy.NewService(cfg))

	big := make([]byte, (1<<20)+1)
	_, _, err := env.svc.Direct(context.Background(), "owner-1", "card.png", policy.VisibilityPublic, nil, big)
	if !errors.Is(err, policy.ErrFileTooLarge) {
		t.Errorf("err = %v, want ErrFileTooLarge", err)
	}
}

func TestDirectValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	data := cardPNG(t)

	if _, _, err := env.svc.Direct(ctx, "owner-1", "card.bmp", policy.VisibilityPublic, nil, data); !errors.Is(err, policy.ErrExtensionNotAllowed) {
		t.Errorf("extension: err = %v", err)
	}
	if _, _, err := env.svc.Direct(ctx, "owner-1", "card.png", "friends-only", nil, data); !errors.Is(err, policy.ErrInvalidVisibility) {
		t.Errorf("visibility: err = %v", err)
	}
	if _, _, err := env.svc.Direct(ctx, "owner-1", "card.png", policy.VisibilityPublic, nil, []byte("not a card")); !errors.Is(err, cardfile.ErrUnrecognizedFormat) {
		t.Errorf("format: err = %v", err)
	}
}
