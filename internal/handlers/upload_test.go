package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/cardshelf/cardshelf/internal/cardfile"
	"github.com/cardshelf/cardshelf/internal/ingest"
	"github.com/cardshelf/cardshelf/internal/multipart"
	"github.com/cardshelf/cardshelf/internal/policy"
	"github.com/cardshelf/cardshelf/internal/presign"
	"github.com/cardshelf/cardshelf/internal/sessions"
)

func TestUploadErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "blocked tags", err: &ingest.BlockedTagsError{Tags: []string{"gore"}}, want: http.StatusUnprocessableEntity},
		{name: "session not found", err: sessions.ErrSessionNotFound, want: http.StatusNotFound},
		{name: "uploads disabled", err: policy.ErrUploadsDisabled, want: http.StatusForbidden},
		{name: "file too large", err: fmt.Errorf("direct: %w", policy.ErrFileTooLarge), want: http.StatusRequestEntityTooLarge},
		{name: "part too large", err: multipart.ErrPartTooLarge, want: http.StatusRequestEntityTooLarge},
		{name: "bad extension", err: policy.ErrExtensionNotAllowed, want: http.StatusBadRequest},
		{name: "bad part number", err: multipart.ErrBadPartNumber, want: http.StatusBadRequest},
		{name: "foreign key", err: ingest.ErrKeyOutsideSession, want: http.StatusBadRequest},
		{name: "no files", err: presign.ErrNoFiles, want: http.StatusBadRequest},
		{name: "original missing", err: ingest.ErrOriginalMissing, want: http.StatusConflict},
		{name: "unrecognized format", err: cardfile.ErrUnrecognizedFormat, want: http.StatusUnprocessableEntity},
		{name: "zip64", err: cardfile.ErrZip64Unsupported, want: http.StatusUnprocessableEntity},
		{name: "unexpected", err: errors.New("disk on fire"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var httpErr *echo.HTTPError
			if !errors.As(uploadError(tt.err), &httpErr) {
				t.Fatalf("uploadError did not return *echo.HTTPError")
			}
			if httpErr.Code != tt.want {
				t.Errorf("status = %d, want %d", httpErr.Code, tt.want)
			}
		})
	}
}
