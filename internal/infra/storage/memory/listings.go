package memory

import (
	"context"
	"sort"
	"sync"

	domainlistings "blockhyre/internal/domain/listings"
)

// ListingRepository is an in-memory listing store for tests and dev runs.
type ListingRepository struct {
	mu    sync.RWMutex
	items map[domainlistings.ListingID]*domainlistings.Listing
}

func NewListingRepository() *ListingRepository {
	return &ListingRepository{
		items: make(map[domainlistings.ListingID]*domainlistings.Listing),
	}
}

func (r *ListingRepository) ByID(ctx context.Context, id domainlistings.ListingID) (*domainlistings.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	listing, ok := r.items[id]
	if !ok {
		return nil, domainlistings.ErrNotFound
	}
	copied := *listing
	return &copied, nil
}

func (r *ListingRepository) ByOwner(ctx context.Context, ownerID string) ([]domainlistings.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domainlistings.Listing, 0)
	for _, listing := range r.items {
		if listing.Owner == ownerID {
			out = append(out, *listing)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *ListingRepository) Save(ctx context.Context, listing *domainlistings.Listing) error {
	if listing == nil {
		return domainlistings.ErrIDRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *listing
	r.items[listing.ID] = &copied
	return nil
}

var _ domainlistings.Repository = (*ListingRepository)(nil)
