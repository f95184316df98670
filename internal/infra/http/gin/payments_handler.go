package ginserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"blockhyre/internal/app/policies"
	chatsvc "blockhyre/internal/app/services/chat"
	domainlistings "blockhyre/internal/domain/listings"
	domainuser "blockhyre/internal/domain/user"
	"blockhyre/internal/infra/security"
)

const signatureHeader = "X-Payments-Signature"

type PaymentsHTTP interface {
	Confirm(c *gin.Context)
}

// PaymentsHandler ingests settlement callbacks from the payments provider and
// turns them into system notices in the owner/renter thread.
type PaymentsHandler struct {
	Service  *chatsvc.Service
	Listings domainlistings.Repository
	Verifier security.WebhookVerifier
	Logger   *slog.Logger
}

type rentalConfirmedEvent struct {
	Event string `json:"event"`
	policies.RentalConfirmation
}

func (h PaymentsHandler) Confirm(c *gin.Context) {
	if h.Service == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat unavailable"})
		return
	}
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
		return
	}
	if err := h.Verifier.Verify(payload, c.GetHeader(signatureHeader)); err != nil {
		if errors.Is(err, security.ErrSecretRequired) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "webhook not configured"})
			return
		}
		if h.Logger != nil {
			h.Logger.Warn("webhook rejected", "error", err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	var event rentalConfirmedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if strings.TrimSpace(event.OwnerID) == "" || strings.TrimSpace(event.RenterID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id and renter_id are required"})
		return
	}

	conversation, err := h.Service.FindOrCreateConversation(c.Request.Context(), event.OwnerID, event.RenterID, listingContext(c, h.Listings, event.ListingID))
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("webhook conversation lookup failed", "error", err, "rental_id", event.RentalID)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	data := h.templateData(c, event.RentalConfirmation)
	if err := h.Service.SendSystemMessage(c.Request.Context(), conversation.ID, "RENTAL_CONFIRMED", data, ""); err != nil {
		if h.Logger != nil {
			h.Logger.Error("webhook notice failed", "error", err, "rental_id", event.RentalID, "conversation_id", conversation.ID)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if h.Logger != nil {
		h.Logger.Info("rental confirmed", "rental_id", event.RentalID, "conversation_id", conversation.ID)
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": conversation.ID})
}

func (h PaymentsHandler) templateData(c *gin.Context, event policies.RentalConfirmation) chatsvc.TemplateData {
	data := chatsvc.TemplateData{}
	if h.Listings != nil && event.ListingID != "" {
		if listing, err := h.Listings.ByID(c.Request.Context(), domainlistings.ListingID(event.ListingID)); err == nil {
			data["ListingTitle"] = listing.Title
		}
	}
	if data["ListingTitle"] == "" {
		data["ListingTitle"] = "the tool"
	}
	if h.Service.Users != nil {
		if owner, err := h.Service.Users.ByID(c.Request.Context(), domainuser.ID(event.OwnerID)); err == nil {
			data["OwnerName"] = owner.Name
			data["OwnerEmail"] = owner.Email
		}
		if renter, err := h.Service.Users.ByID(c.Request.Context(), domainuser.ID(event.RenterID)); err == nil {
			data["RenterName"] = renter.Name
			data["RenterEmail"] = renter.Email
		}
	}
	return data
}

func listingContext(c *gin.Context, repo domainlistings.Repository, listingID string) *chatsvc.ListingContext {
	listingID = strings.TrimSpace(listingID)
	if listingID == "" || repo == nil {
		return nil
	}
	listing, err := repo.ByID(c.Request.Context(), domainlistings.ListingID(listingID))
	if err != nil {
		return &chatsvc.ListingContext{ID: listingID}
	}
	return &chatsvc.ListingContext{ID: listingID, Title: listing.Title}
}

var _ PaymentsHTTP = (*PaymentsHandler)(nil)
