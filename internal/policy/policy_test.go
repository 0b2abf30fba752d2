package policy

import (
	"errors"
	"testing"

	"github.com/cardshelf/cardshelf/internal/config"
)

func testService(t *testing.T) *Service {
	t.Helper()
	cfg, err := config.Load("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	return NewService(cfg)
}

func TestSizeCeilings(t *testing.T) {
	s := testService(t)
	if got := s.DirectLimit(); got != 40<<20 {
		t.Errorf("DirectLimit = %d", got)
	}
	if got := s.ChunkSize(); got != 50<<20 {
		t.Errorf("ChunkSize = %d", got)
	}
	if got := s.PartMax(); got != 100<<20 {
		t.Errorf("PartMax = %d", got)
	}
	if got := s.SessionMax(); got != 1024<<20 {
		t.Errorf("SessionMax = %d", got)
	}
}

func TestUploadsDisabled(t *testing.T) {
	cfg, _ := config.Load("/nonexistent/config.toml")
	cfg.Upload.Enabled = false
	s := NewService(cfg)
	if err := s.CheckUploadsEnabled(); !errors.Is(err, ErrUploadsDisabled) {
		t.Errorf("err = %v, want ErrUploadsDisabled", err)
	}
}

func TestValidateOriginalFilename(t *testing.T) {
	s := testService(t)
	for _, name := range []string{"card.png", "card.json", "bundle.charx", "bundle.cpack", "CARD.PNG"} {
		if err := s.ValidateOriginalFilename(name); err != nil {
			t.Errorf("%q rejected: %v", name, err)
		}
	}
	for _, name := range []string{"card.zip", "card.exe", "card", "card.jpeg"} {
		if err := s.ValidateOriginalFilename(name); !errors.Is(err, ErrExtensionNotAllowed) {
			t.Errorf("%q: err = %v, want ErrExtensionNotAllowed", name, err)
		}
	}
}

func TestValidateContentType(t *testing.T) {
	s := testService(t)
	for _, ct := range []string{"image/png", "application/json; charset=utf-8", "APPLICATION/ZIP", "audio/ogg"} {
		if err := s.ValidateContentType(ct); err != nil {
			t.Errorf("%q rejected: %v", ct, err)
		}
	}
	for _, ct := range []string{"text/html", "application/x-msdownload", ""} {
		if err := s.ValidateContentType(ct); !errors.Is(err, ErrContentTypeNotAllowed) {
			t.Errorf("%q: err = %v, want ErrContentTypeNotAllowed", ct, err)
		}
	}
}

func TestValidateVisibility(t *testing.T) {
	s := testService(t)
	for _, v := range []string{VisibilityPublic, VisibilityPrivate, VisibilityUnlisted} {
		if err := s.ValidateVisibility(v); err != nil {
			t.Errorf("%q rejected: %v", v, err)
		}
	}
	if err := s.ValidateVisibility("friends-only"); !errors.Is(err, ErrInvalidVisibility) {
		t.Errorf("err = %v, want ErrInvalidVisibility", err)
	}
}

func TestPresignTTLFallback(t *testing.T) {
	cfg, _ := config.Load("/nonexistent/config.toml")
	cfg.Upload.PresignTTL = "not-a-duration"
	s := NewService(cfg)
	if got := s.PresignTTL(); got <= 0 {
		t.Errorf("PresignTTL fallback = %v", got)
	}
}
