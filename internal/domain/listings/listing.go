package listings

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrIDRequired    = errors.New("listings: id is required")
	ErrOwnerRequired = errors.New("listings: owner is required")
	ErrTitleRequired = errors.New("listings: title is required")
	ErrNotFound      = errors.New("listings: not found")
)

type ListingID string

type State string

const (
	ListingDraft  State = "draft"
	ListingActive State = "active"
	ListingPaused State = "paused"
)

// Listing is a tool offered for hire by its owner.
type Listing struct {
	ID             ListingID
	Owner          string
	Title          string
	Description    string
	Category       string
	DailyRateCents int64
	PhotoURL       string
	State          State
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Repository interface {
	ByID(ctx context.Context, id ListingID) (*Listing, error)
	ByOwner(ctx context.Context, ownerID string) ([]Listing, error)
	Save(ctx context.Context, listing *Listing) error
}

type CreateParams struct {
	ID             ListingID
	Owner          string
	Title          string
	Description    string
	Category       string
	DailyRateCents int64
	PhotoURL       string
	CreatedAt      time.Time
}

func NewListing(params CreateParams) (*Listing, error) {
	id := strings.TrimSpace(string(params.ID))
	if id == "" {
		return nil, ErrIDRequired
	}
	owner := strings.TrimSpace(params.Owner)
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	createdAt = createdAt.UTC()
	return &Listing{
		ID:             ListingID(id),
		Owner:          owner,
		Title:          title,
		Description:    strings.TrimSpace(params.Description),
		Category:       strings.TrimSpace(params.Category),
		DailyRateCents: params.DailyRateCents,
		PhotoURL:       strings.TrimSpace(params.PhotoURL),
		State:          ListingActive,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}, nil
}
