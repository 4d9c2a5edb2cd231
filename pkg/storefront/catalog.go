package storefront

import (
	"context"
	"time"
)

// ListAccounts returns the account catalogue; availableOnly hides sold-out stock.
func (service *Service) ListAccounts(ctx context.Context, availableOnly bool) ([]Account, error) {
	return service.store.ListAccounts(ctx, availableOnly)
}

// CreateAccount adds a new account stock line.
func (service *Service) CreateAccount(ctx context.Context, input AccountInput) (Account, error) {
	account, operationError := service.store.CreateAccount(ctx, input)
	service.logOperation(ctx, OperationLog{Operation: operationCreateAccount, RecordID: account.ID, Amount: input.Price, Error: operationError})
	return account, operationError
}

// UpdateAccount replaces the editable fields of an account.
// Quantity set here is an admin restock; confirmations only ever decrement it.
func (service *Service) UpdateAccount(ctx context.Context, accountID RecordID, input AccountInput) (Account, error) {
	account, operationError := service.store.UpdateAccount(ctx, accountID, input)
	service.logOperation(ctx, OperationLog{Operation: operationUpdateAccount, RecordID: accountID, Amount: input.Price, Error: operationError})
	return account, operationError
}

// DeleteAccount removes an account that no order references.
func (service *Service) DeleteAccount(ctx context.Context, accountID RecordID) error {
	operationError := service.store.DeleteAccount(ctx, accountID)
	service.logOperation(ctx, OperationLog{Operation: operationDeleteAccount, RecordID: accountID, Error: operationError})
	return operationError
}

// ListListings returns every listing with its occupancy as of now.
func (service *Service) ListListings(ctx context.Context) ([]ListingView, error) {
	now := service.nowFn().UTC()
	listings, err := service.store.ListListings(ctx)
	if err != nil {
		return nil, err
	}
	active, err := service.store.ActiveRentals(ctx, now)
	if err != nil {
		return nil, err
	}
	return buildListingViews(listings, active, now), nil
}

// CreateListing adds a rentable handle.
func (service *Service) CreateListing(ctx context.Context, input ListingInput) (UsernameListing, error) {
	listing, operationError := service.store.CreateListing(ctx, input)
	service.logOperation(ctx, OperationLog{Operation: operationCreateListing, RecordID: listing.ID, Amount: input.PriceDay, Error: operationError})
	return listing, operationError
}

// UpdateListing replaces the handle and prices of a listing.
// Existing rentals keep the price they were charged.
func (service *Service) UpdateListing(ctx context.Context, listingID RecordID, input ListingInput) (UsernameListing, error) {
	listing, operationError := service.store.UpdateListing(ctx, listingID, input)
	service.logOperation(ctx, OperationLog{Operation: operationUpdateListing, RecordID: listingID, Amount: input.PriceDay, Error: operationError})
	return listing, operationError
}

// DeleteListing removes a listing that no rental references.
func (service *Service) DeleteListing(ctx context.Context, listingID RecordID) error {
	operationError := service.store.DeleteListing(ctx, listingID)
	service.logOperation(ctx, OperationLog{Operation: operationDeleteListing, RecordID: listingID, Error: operationError})
	return operationError
}

func buildListingViews(listings []UsernameListing, active []Rental, now time.Time) []ListingView {
	current := make(map[RecordID]Rental, len(active))
	for _, rental := range active {
		if rental.Status != StatusConfirmed || rental.ExpiresAt == nil || !rental.ExpiresAt.After(now) {
			continue
		}
		existing, seen := current[rental.ListingID]
		if !seen || rental.ExpiresAt.After(*existing.ExpiresAt) {
			current[rental.ListingID] = rental
		}
	}
	views := make([]ListingView, 0, len(listings))
	for _, listing := range listings {
		view := ListingView{Listing: listing}
		if rental, occupied := current[listing.ID]; occupied {
			rentalCopy := rental
			view.Occupied = true
			view.CurrentRental = &rentalCopy
		}
		views = append(views, view)
	}
	return views
}
