package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cardshelf/cardshelf/internal/cards"
	"github.com/cardshelf/cardshelf/internal/storage"
)

// CardsHandler serves committed card lookups.
type CardsHandler struct {
	cards  cards.Store
	store  storage.Provider
	logger *slog.Logger
}

// NewCardsHandler creates a cards handler.
func NewCardsHandler(log *slog.Logger, cardStore cards.Store, store storage.Provider) *CardsHandler {
	return &CardsHandler{
		cards:  cardStore,
		store:  store,
		logger: log.With(slog.String("handler", "cards")),
	}
}

// Register mounts the card routes on the Echo instance.
func (h *CardsHandler) Register(e *echo.Echo) {
	e.GET("/cards/:slug", h.GetBySlug)
}

// CardDetail extends the card body with resolved public URLs.
type CardDetail struct {
	CardResponse
	OriginalURL string   `json:"original_url"`
	PreviewURL  string   `json:"preview_url,omitempty"`
	AssetURLs   []string `json:"asset_urls,omitempty"`
}

// GetBySlug returns a card and its current version by slug.
func (h *CardsHandler) GetBySlug(c echo.Context) error {
	card, version, err := h.cards.GetBySlug(c.Request().Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, cards.ErrCardNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "card not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	detail := CardDetail{
		CardResponse: cardResponse(card, version),
		OriginalURL:  h.store.PublicURL(version.OriginalKey),
	}
	if version.PreviewKey != "" {
		detail.PreviewURL = h.store.PublicURL(version.PreviewKey)
	}
	for _, key := range version.AssetKeys {
		detail.AssetURLs = append(detail.AssetURLs, h.store.PublicURL(key))
	}
	return c.JSON(http.StatusOK, detail)
}
