package gormstore

import (
	"github.com/MarkoPoloResearchLab/tonstore/pkg/storefront"
)

func mapAccount(row Account) storefront.Account {
	return storefront.Account{
		ID:          storefront.RecordID(row.ID),
		Country:     row.Country,
		CountryCode: row.CountryCode,
		Flag:        row.Flag,
		Quantity:    row.Quantity,
		Price:       storefront.NanoTON(row.PriceNano),
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
}

func mapListing(row UsernameListing) storefront.UsernameListing {
	return storefront.UsernameListing{
		ID:         storefront.RecordID(row.ID),
		Handle:     row.Handle,
		PriceDay:   storefront.NanoTON(row.PriceDayNano),
		PriceWeek:  storefront.NanoTON(row.PriceWeekNano),
		PriceMonth: storefront.NanoTON(row.PriceMonthNano),
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
}

func mapOrder(row Order) (storefront.Order, error) {
	status, err := storefront.ParseStatus(row.Status)
	if err != nil {
		return storefront.Order{}, err
	}
	evidence, err := decodeEvidence(row.Evidence)
	if err != nil {
		return storefront.Order{}, err
	}
	order := storefront.Order{
		ID:            storefront.RecordID(row.ID),
		AccountID:     storefront.RecordID(row.AccountID),
		Buyer:         storefront.TelegramID(row.Buyer),
		WalletAddress: row.WalletAddress,
		Blob:          row.Blob,
		TxHash:        row.TxHash,
		TxHashNorm:    row.TxHashNorm,
		HashSource:    storefront.HashSource(row.HashSource),
		TonAmount:     storefront.NanoTON(row.TonAmountNano),
		Status:        status,
		FailureReason: row.FailureReason,
		Evidence:      evidence,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
		SettledAt:     utcPointer(row.SettledAt),
	}
	if row.Account != nil {
		account := mapAccount(*row.Account)
		order.Account = &account
	}
	return order, nil
}

func mapRental(row Rental) (storefront.Rental, error) {
	status, err := storefront.ParseStatus(row.Status)
	if err != nil {
		return storefront.Rental{}, err
	}
	period, err := storefront.ParsePeriod(row.Period)
	if err != nil {
		return storefront.Rental{}, err
	}
	evidence, err := decodeEvidence(row.Evidence)
	if err != nil {
		return storefront.Rental{}, err
	}
	rental := storefront.Rental{
		ID:            storefront.RecordID(row.ID),
		ListingID:     storefront.RecordID(row.ListingID),
		Buyer:         storefront.TelegramID(row.Buyer),
		WalletAddress: row.WalletAddress,
		Blob:          row.Blob,
		TxHash:        row.TxHash,
		TxHashNorm:    row.TxHashNorm,
		HashSource:    storefront.HashSource(row.HashSource),
		Period:        period,
		TonAmount:     storefront.NanoTON(row.TonAmountNano),
		Status:        status,
		FailureReason: row.FailureReason,
		Evidence:      evidence,
		StartsAt:      utcPointer(row.StartsAt),
		ExpiresAt:     utcPointer(row.ExpiresAt),
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
		SettledAt:     utcPointer(row.SettledAt),
	}
	if row.Listing != nil {
		listing := mapListing(*row.Listing)
		rental.Listing = &listing
	}
	return rental, nil
}

func mapRentals(rows []Rental) ([]storefront.Rental, error) {
	rentals := make([]storefront.Rental, 0, len(rows))
	for _, row := range rows {
		rental, err := mapRental(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRental, errorCodeInvalid, err)
		}
		rentals = append(rentals, rental)
	}
	return rentals, nil
}
