package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"blockhyre/internal/domain/listings"
)

type ListingRepository struct {
	col *mongo.Collection
}

func NewListingRepository(db *mongo.Database) *ListingRepository {
	return &ListingRepository{col: db.Collection("listings")}
}

func (r *ListingRepository) ByID(ctx context.Context, id listings.ListingID) (*listings.Listing, error) {
	var doc listingDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, listings.ErrNotFound
		}
		return nil, err
	}
	return doc.toListing(), nil
}

func (r *ListingRepository) ByOwner(ctx context.Context, ownerID string) ([]listings.Listing, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.col.Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	out := make([]listings.Listing, 0)
	for cursor.Next(ctx) {
		var doc listingDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, *doc.toListing())
	}
	return out, cursor.Err()
}

func (r *ListingRepository) Save(ctx context.Context, listing *listings.Listing) error {
	doc := newListingDocument(listing)
	opts := options.Replace().SetUpsert(true)
	_, err := r.col.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts)
	return err
}

type listingDocument struct {
	ID             string    `bson:"_id"`
	OwnerID        string    `bson:"owner_id"`
	Title          string    `bson:"title"`
	Description    string    `bson:"description,omitempty"`
	Category       string    `bson:"category,omitempty"`
	DailyRateCents int64     `bson:"daily_rate_cents"`
	PhotoURL       string    `bson:"photo_url,omitempty"`
	State          string    `bson:"state"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func newListingDocument(l *listings.Listing) listingDocument {
	return listingDocument{
		ID:             string(l.ID),
		OwnerID:        l.Owner,
		Title:          l.Title,
		Description:    l.Description,
		Category:       l.Category,
		DailyRateCents: l.DailyRateCents,
		PhotoURL:       l.PhotoURL,
		State:          string(l.State),
		CreatedAt:      l.CreatedAt,
		UpdatedAt:      l.UpdatedAt,
	}
}

func (d listingDocument) toListing() *listings.Listing {
	state := listings.State(d.State)
	if state == "" {
		state = listings.ListingActive
	}
	return &listings.Listing{
		ID:             listings.ListingID(d.ID),
		Owner:          d.OwnerID,
		Title:          d.Title,
		Description:    d.Description,
		Category:       d.Category,
		DailyRateCents: d.DailyRateCents,
		PhotoURL:       d.PhotoURL,
		State:          state,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

var _ listings.Repository = (*ListingRepository)(nil)
