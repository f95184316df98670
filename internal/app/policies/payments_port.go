package policies

import "context"

// RentalConfirmation is the payload the payments provider posts back once a
// rental charge settles.
type RentalConfirmation struct {
	RentalID    string `json:"rental_id"`
	ListingID   string `json:"listing_id"`
	OwnerID     string `json:"owner_id"`
	RenterID    string `json:"renter_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// PaymentsPort is the outbound boundary to the payments provider. The
// realtime side only consumes its webhook confirmations, but outbound charge
// calls cross the same port.
type PaymentsPort interface {
	PlaceHold(ctx context.Context, rentalID string, amountCents int64, currency string) (string, error)
	Capture(ctx context.Context, holdID string) error
	Refund(ctx context.Context, rentalID string, amountCents int64, currency string) error
}
