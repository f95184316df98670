package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"blockhyre/internal/app/dto"
	domainlistings "blockhyre/internal/domain/listings"
)

type ListingHTTP interface {
	Create(c *gin.Context)
	Get(c *gin.Context)
	Mine(c *gin.Context)
}

type ListingHandler struct {
	Listings domainlistings.Repository
	Logger   *slog.Logger
}

type createListingRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	Category       string `json:"category"`
	DailyRateCents int64  `json:"daily_rate_cents"`
	PhotoURL       string `json:"photo_url"`
}

func (h ListingHandler) Create(c *gin.Context) {
	principal, ok := requireRole(c, "owner")
	if !ok {
		return
	}
	if h.Listings == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "listings unavailable"})
		return
	}
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	listing, err := domainlistings.NewListing(domainlistings.CreateParams{
		ID:             domainlistings.ListingID(uuid.NewString()),
		Owner:          principal.ID,
		Title:          req.Title,
		Description:    req.Description,
		Category:       req.Category,
		DailyRateCents: req.DailyRateCents,
		PhotoURL:       req.PhotoURL,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Listings.Save(c.Request.Context(), listing); err != nil {
		if h.Logger != nil {
			h.Logger.Error("listing save failed", "error", err, "owner_id", principal.ID)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, dto.MapListingView(listing))
}

func (h ListingHandler) Get(c *gin.Context) {
	if h.Listings == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "listings unavailable"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "listing id is required"})
		return
	}
	listing, err := h.Listings.ByID(c.Request.Context(), domainlistings.ListingID(id))
	if err != nil {
		if errors.Is(err, domainlistings.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
			return
		}
		if h.Logger != nil {
			h.Logger.Error("listing load failed", "error", err, "listing_id", id)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, dto.MapListingView(listing))
}

func (h ListingHandler) Mine(c *gin.Context) {
	principal, ok := requireRole(c, "owner")
	if !ok {
		return
	}
	if h.Listings == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "listings unavailable"})
		return
	}
	listings, err := h.Listings.ByOwner(c.Request.Context(), principal.ID)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("listing query failed", "error", err, "owner_id", principal.ID)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, dto.MapListingViewList(listings))
}

var _ ListingHTTP = (*ListingHandler)(nil)
