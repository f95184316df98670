package dto

import (
	"time"

	domainlistings "blockhyre/internal/domain/listings"
)

// ListingView is the public snapshot of a tool listing.
type ListingView struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Category       string    `json:"category,omitempty"`
	DailyRateCents int64     `json:"daily_rate_cents"`
	PhotoURL       string    `json:"photo_url,omitempty"`
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ListingViewList struct {
	Items []ListingView `json:"items"`
}

func MapListingView(listing *domainlistings.Listing) ListingView {
	if listing == nil {
		return ListingView{}
	}
	return ListingView{
		ID:             string(listing.ID),
		OwnerID:        listing.Owner,
		Title:          listing.Title,
		Description:    listing.Description,
		Category:       listing.Category,
		DailyRateCents: listing.DailyRateCents,
		PhotoURL:       listing.PhotoURL,
		State:          string(listing.State),
		CreatedAt:      listing.CreatedAt,
		UpdatedAt:      listing.UpdatedAt,
	}
}

func MapListingViewList(listings []domainlistings.Listing) ListingViewList {
	items := make([]ListingView, 0, len(listings))
	for i := range listings {
		items = append(items, MapListingView(&listings[i]))
	}
	return ListingViewList{Items: items}
}
