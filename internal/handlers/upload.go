package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/cardshelf/cardshelf/internal/auth"
	"github.com/cardshelf/cardshelf/internal/cardfile"
	"github.com/cardshelf/cardshelf/internal/cards"
	"github.com/cardshelf/cardshelf/internal/ingest"
	"github.com/cardshelf/cardshelf/internal/multipart"
	"github.com/cardshelf/cardshelf/internal/policy"
	"github.com/cardshelf/cardshelf/internal/presign"
	"github.com/cardshelf/cardshelf/internal/sessions"
	"github.com/cardshelf/cardshelf/internal/storage"
)

// UploadHandler serves the upload API: presigned sessions, chunked
// uploads, session confirmation, and single-shot direct ingestion.
type UploadHandler struct {
	presign   *presign.Service
	multipart *multipart.Service
	ingest    *ingest.Service
	logger    *slog.Logger
}

// NewUploadHandler creates an upload handler.
func NewUploadHandler(log *slog.Logger, presignSvc *presign.Service, multipartSvc *multipart.Service, ingestSvc *ingest.Service) *UploadHandler {
	return &UploadHandler{
		presign:   presignSvc,
		multipart: multipartSvc,
		ingest:    ingestSvc,
		logger:    log.With(slog.String("handler", "upload")),
	}
}

// Register mounts the upload routes on the Echo instance.
func (h *UploadHandler) Register(e *echo.Echo) {
	e.POST("/uploads/presign", h.Presign)
	e.POST("/uploads/multipart", h.OpenMultipart)
	e.PUT("/uploads/multipart/:session_id/parts/:part_number", h.UploadPart)
	e.POST("/uploads/multipart/:session_id/complete", h.CompleteMultipart)
	e.DELETE("/uploads/multipart/:session_id", h.AbortMultipart)
	e.POST("/uploads/confirm", h.Confirm)
	e.POST("/uploads/direct", h.Direct)
}

// PresignRequest is the body for POST /uploads/presign.
type PresignRequest struct {
	Files []presign.FileSpec `json:"files"`
}

// Presign issues one presigned write URL per declared file.
func (h *UploadHandler) Presign(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	var req PresignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	resp, err := h.presign.Issue(c.Request().Context(), userID, req.Files)
	if err != nil {
		return uploadError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// OpenMultipartRequest is the body for POST /uploads/multipart.
type OpenMultipartRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// OpenMultipart starts a chunked upload session.
func (h *UploadHandler) OpenMultipart(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	var req OpenMultipartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	resp, err := h.multipart.Open(c.Request().Context(), userID, req.Filename, req.ContentType, req.Size)
	if err != nil {
		return uploadError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// UploadPart streams one chunk of an open multipart session. The body is
// the raw part; Content-Length must be set.
func (h *UploadHandler) UploadPart(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	partNumber, err := strconv.Atoi(c.Param("part_number"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid part number")
	}
	size := c.Request().ContentLength
	if size < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "content length is required")
	}
	part, err := h.multipart.UploadPart(c.Request().Context(), userID, c.Param("session_id"), partNumber, c.Request().Body, size)
	if err != nil {
		return uploadError(err)
	}
	return c.JSON(http.StatusOK, part)
}

// CompleteMultipartRequest is the body for the complete call.
type CompleteMultipartRequest struct {
	Parts []storage.Part `json:"parts"`
}

// CompleteMultipart assembles the uploaded parts into the pending object.
// Confirmation is a separate call so the two strategies share one
// finalization path.
func (h *UploadHandler) CompleteMultipart(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	var req CompleteMultipartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	session, err := h.multipart.Complete(c.Request().Context(), userID, c.Param("session_id"), req.Parts)
	if err != nil {
		return uploadError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id": session.ID,
		"object_key": session.ObjectKeys[0],
	})
}

// AbortMultipart cancels an open chunked upload.
func (h *UploadHandler) AbortMultipart(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	if err := h.multipart.Abort(c.Request().Context(), userID, c.Param("session_id")); err != nil {
		return uploadError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Confirm finalizes an upload session into a committed card.
func (h *UploadHandler) Confirm(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	var req ingest.ConfirmRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	card, version, err := h.ingest.Confirm(c.Request().Context(), userID, req)
	if err != nil {
		return uploadError(err)
	}
	return c.JSON(http.StatusCreated, cardResponse(card, version))
}

// Direct ingests a package carried inline as a multipart form. Fields:
// file (the package), visibility, tags (comma separated).
func (h *UploadHandler) Direct(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	visibility := c.FormValue("visibility")
	if visibility == "" {
		visibility = policy.VisibilityPrivate
	}
	var tags []string
	if raw := strings.TrimSpace(c.FormValue("tags")); raw != "" {
		tags = strings.Split(raw, ",")
	}

	card, version, err := h.ingest.Direct(c.Request().Context(), userID, fileHeader.Filename, visibility, tags, data)
	if err != nil {
		return uploadError(err)
	}
	return c.JSON(http.StatusCreated, cardResponse(card, version))
}

// CardResponse is the committed card body shared by confirm, direct, and
// card lookups.
type CardResponse struct {
	Card    cards.Card    `json:"card"`
	Version cards.Version `json:"version"`
}

func cardResponse(card cards.Card, version cards.Version) CardResponse {
	return CardResponse{Card: card, Version: version}
}

// uploadError maps pipeline errors onto HTTP statuses.
func uploadError(err error) error {
	var blocked *ingest.BlockedTagsError
	switch {
	case errors.As(err, &blocked):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, blocked.Error())
	case errors.Is(err, sessions.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, policy.ErrUploadsDisabled):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, policy.ErrFileTooLarge),
		errors.Is(err, policy.ErrAggregateTooLarge),
		errors.Is(err, multipart.ErrPartTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, policy.ErrExtensionNotAllowed),
		errors.Is(err, policy.ErrContentTypeNotAllowed),
		errors.Is(err, policy.ErrInvalidVisibility),
		errors.Is(err, presign.ErrNoFiles),
		errors.Is(err, presign.ErrTooManyFiles),
		errors.Is(err, presign.ErrBadFileKey),
		errors.Is(err, multipart.ErrBadPartNumber),
		errors.Is(err, multipart.ErrNoParts),
		errors.Is(err, ingest.ErrKeyOutsideSession):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ingest.ErrOriginalMissing):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, cardfile.ErrUnrecognizedFormat),
		errors.Is(err, cardfile.ErrZip64Unsupported),
		errors.Is(err, cardfile.ErrNotZip),
		errors.Is(err, cardfile.ErrNoEmbeddedCard):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
