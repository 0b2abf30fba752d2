package presign

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/cardshelf/cardshelf/internal/config"
	"github.com/cardshelf/cardshelf/internal/policy"
	"github.com/cardshelf/cardshelf/internal/sessions"
	"github.com/cardshelf/cardshelf/internal/storage"
)

func testService(t *testing.T) (*Service, *sessions.MemStore) {
	t.Helper()
	cfg, err := config.Load("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	sessionStore := sessions.NewMemStore()
	svc := NewService(slog.Default(), storage.NewMemoryProvider(), sessionStore, policy.NewService(cfg))
	return svc, sessionStore
}

func TestIssue(t *testing.T) {
	svc, sessionStore := testService(t)

	resp, err := svc.Issue(context.Background(), "owner-1", []FileSpec{
		{Key: "original", Filename: "card.png", Size: 1 << 20, ContentType: "image/png"},
		{Key: "preview", Filename: "preview.png", Size: 64 << 10, ContentType: "image/png"},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatal("no session id")
	}
	if len(resp.URLs) != 2 {
		t.Fatalf("urls = %d, want 2", len(resp.URLs))
	}
	for key, target := range resp.URLs {
		if target.UploadURL == "" {
			t.Errorf("%q has no upload url", key)
		}
		if !storage.InSession(target.ObjectKey, resp.SessionID) {
			t.Errorf("%q key %q outside session namespace", key, target.ObjectKey)
		}
	}
	if !strings.HasSuffix(resp.URLs["original"].ObjectKey, "original.png") {
		t.Errorf("original key = %q", resp.URLs["original"].ObjectKey)
	}

	session, err := sessionStore.Get(context.Background(), resp.SessionID, "owner-1")
	if err != nil {
		t.Fatalf("session not recorded: %v", err)
	}
	if session.Strategy != sessions.StrategyPresigned {
		t.Errorf("strategy = %q", session.Strategy)
	}
	if len(session.ObjectKeys) != 2 {
		t.Errorf("recorded keys = %v", session.ObjectKeys)
	}
}

func TestIssueValidation(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	valid := FileSpec{Key: "original", Filename: "card.png", Size: 1024, ContentType: "image/png"}

	tests := []struct {
		name    string
		files   []FileSpec
		wantErr error
	}{
		{name: "no files", files: nil, wantErr: ErrNoFiles},
		{
			name:    "duplicate keys",
			files:   []FileSpec{valid, valid},
			wantErr: ErrBadFileKey,
		},
		{
			name:    "slash in key",
			files:   []FileSpec{{Key: "a/b", Filename: "x.png", Size: 10, ContentType: "image/png"}},
			wantErr: ErrBadFileKey,
		},
		{
			name:    "traversal in key",
			files:   []FileSpec{{Key: "..", Filename: "x.png", Size: 10, ContentType: "image/png"}},
			wantErr: ErrBadFileKey,
		},
		{
			name:    "zero size",
			files:   []FileSpec{{Key: "original", Filename: "card.png", Size: 0, ContentType: "image/png"}},
			wantErr: policy.ErrFileTooLarge,
		},
		{
			name:    "file over cap",
			files:   []FileSpec{{Key: "original", Filename: "card.png", Size: 51 << 20, ContentType: "image/png"}},
			wantErr: policy.ErrFileTooLarge,
		},
		{
			name:    "bad extension on original",
			files:   []FileSpec{{Key: "original", Filename: "card.exe", Size: 10, ContentType: "application/octet-stream"}},
			wantErr: policy.ErrExtensionNotAllowed,
		},
		{
			name:    "bad content type",
			files:   []FileSpec{{Key: "original", Filename: "card.png", Size: 10, ContentType: "text/html"}},
			wantErr: policy.ErrContentTypeNotAllowed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Issue(ctx, "owner-1", tt.files); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIssueAggregateCap(t *testing.T) {
	svc, _ := testService(t)
	// 21 files of 50MB exceed the 1024MB session cap while each file
	// stays under the per-file cap.
	files := make([]FileSpec, 21)
	for i := range files {
		files[i] = FileSpec{
			Key:         string(rune('a' + i)),
			Filename:    "asset.png",
			Size:        50 << 20,
			ContentType: "image/png",
		}
	}
	files[0].Key = "original"
	files[0].Filename = "card.cpack"
	files[0].ContentType = "application/zip"

	if _, err := svc.Issue(context.Background(), "owner-1", files); !errors.Is(err, policy.ErrAggregateTooLarge) {
		t.Errorf("err = %v, want ErrAggregateTooLarge", err)
	}
}

func TestIssueUploadsDisabled(t *testing.T) {
	cfg, _ := config.Load("/nonexistent/config.toml")
	cfg.Upload.Enabled = false
	svc := NewService(slog.Default(), storage.NewMemoryProvider(), sessions.NewMemStore(), policy.NewService(cfg))
	_, err := svc.Issue(context.Background(), "owner-1", []FileSpec{{Key: "original", Filename: "c.png", Size: 1, ContentType: "image/png"}})
	if !errors.Is(err, policy.ErrUploadsDisabled) {
		t.Errorf("err = %v, want ErrUploadsDisabled", err)
	}
}
