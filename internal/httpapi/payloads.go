package httpapi

import (
	"encoding/json"
	"time"

	"github.com/MarkoPoloResearchLab/tonstore/pkg/storefront"
)

type accountRequest struct {
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	Flag        string `json:"flag"`
	Quantity    int64  `json:"quantity"`
	// BaseQuantity is the stock the editor last saw; updates apply the difference.
	BaseQuantity *int64      `json:"baseQuantity,omitempty"`
	Price        json.Number `json:"price"`
}

type listingRequest struct {
	Username   string      `json:"username"`
	PriceDay   json.Number `json:"priceDay"`
	PriceWeek  json.Number `json:"priceWeek"`
	PriceMonth json.Number `json:"priceMonth"`
}

type buyRequest struct {
	WalletAddress string `json:"walletAddress"`
	Boc           string `json:"boc"`
}

type rentRequest struct {
	WalletAddress string `json:"walletAddress"`
	Boc           string `json:"boc"`
	Period        string `json:"period"`
}

type grantAdminRequest struct {
	TelegramID int64 `json:"telegramId"`
}

type accountPayload struct {
	ID          int64  `json:"id"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	Flag        string `json:"flag"`
	Quantity    int64  `json:"quantity"`
	Price       string `json:"price"`
	PriceNano   int64  `json:"priceNano"`
}

type rentalSummaryPayload struct {
	ID        int64      `json:"id"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type listingPayload struct {
	ID             int64                 `json:"id"`
	Username       string                `json:"username"`
	PriceDay       string                `json:"priceDay"`
	PriceWeek      string                `json:"priceWeek"`
	PriceMonth     string                `json:"priceMonth"`
	PriceDayNano   int64                 `json:"priceDayNano"`
	PriceWeekNano  int64                 `json:"priceWeekNano"`
	PriceMonthNano int64                 `json:"priceMonthNano"`
	Occupied       bool                  `json:"occupied"`
	CurrentRental  *rentalSummaryPayload `json:"currentRental,omitempty"`
}

type orderReceiptPayload struct {
	OrderID int64  `json:"orderId"`
	TxHash  string `json:"txHash"`
	Status  string `json:"status"`
}

type rentalReceiptPayload struct {
	RentalID int64  `json:"rentalId"`
	TxHash   string `json:"txHash"`
	Status   string `json:"status"`
}

type orderPayload struct {
	OrderID       int64                          `json:"orderId"`
	AccountID     int64                          `json:"accountId"`
	TelegramID    int64                          `json:"telegramId"`
	WalletAddress string                         `json:"walletAddress"`
	Status        string                         `json:"status"`
	TxHash        string                         `json:"txHash"`
	TonAmount     string                         `json:"tonAmount"`
	TonAmountNano int64                          `json:"tonAmountNano"`
	FailureReason string                         `json:"failureReason,omitempty"`
	Evidence      *storefront.SettlementEvidence `json:"evidence,omitempty"`
	CreatedAt     time.Time                      `json:"createdAt"`
	SettledAt     *time.Time                     `json:"settledAt,omitempty"`
	Account       *accountPayload                `json:"account,omitempty"`
}

type rentalPayload struct {
	RentalID      int64                          `json:"rentalId"`
	ListingID     int64                          `json:"listingId"`
	Username      string                         `json:"username,omitempty"`
	TelegramID    int64                          `json:"telegramId"`
	WalletAddress string                         `json:"walletAddress"`
	Period        string                         `json:"period"`
	Status        string                         `json:"status"`
	TxHash        string                         `json:"txHash"`
	TonAmount     string                         `json:"tonAmount"`
	TonAmountNano int64                          `json:"tonAmountNano"`
	FailureReason string                         `json:"failureReason,omitempty"`
	Evidence      *storefront.SettlementEvidence `json:"evidence,omitempty"`
	StartsAt      *time.Time                     `json:"startsAt,omitempty"`
	ExpiresAt     *time.Time                     `json:"expiresAt,omitempty"`
	CreatedAt     time.Time                      `json:"createdAt"`
	SettledAt     *time.Time                     `json:"settledAt,omitempty"`
}

type countsPayload struct {
	Total     int64 `json:"total"`
	Confirmed int64 `json:"confirmed"`
}

type statsPayload struct {
	Orders      countsPayload `json:"orders"`
	Rentals     countsPayload `json:"rentals"`
	Revenue     string        `json:"revenue"`
	RevenueNano int64         `json:"revenueNano"`
}

type sessionPayload struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type adminPayload struct {
	TelegramID int64     `json:"telegramId"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (request accountRequest) toInput() (storefront.AccountInput, error) {
	price, err := storefront.ParseTON(request.Price.String())
	if err != nil {
		return storefront.AccountInput{}, err
	}
	input, err := storefront.NewAccountInput(request.Country, request.CountryCode, request.Flag, request.Quantity, price)
	if err != nil || request.BaseQuantity == nil {
		return input, err
	}
	return input.WithQuantityBase(*request.BaseQuantity)
}

func (request listingRequest) toInput() (storefront.ListingInput, error) {
	handle, err := storefront.NewHandle(request.Username)
	if err != nil {
		return storefront.ListingInput{}, err
	}
	prices := make([]storefront.NanoTON, 0, 3)
	for _, raw := range []json.Number{request.PriceDay, request.PriceWeek, request.PriceMonth} {
		price, parseErr := storefront.ParseTON(raw.String())
		if parseErr != nil {
			return storefront.ListingInput{}, parseErr
		}
		prices = append(prices, price)
	}
	return storefront.NewListingInput(handle, prices[0], prices[1], prices[2])
}

func newAccountPayload(account storefront.Account) accountPayload {
	return accountPayload{
		ID:          account.ID.Int64(),
		Country:     account.Country,
		CountryCode: account.CountryCode,
		Flag:        account.Flag,
		Quantity:    account.Quantity,
		Price:       account.Price.TON(),
		PriceNano:   account.Price.Int64(),
	}
}

func newListingPayload(listing storefront.UsernameListing) listingPayload {
	return listingPayload{
		ID:             listing.ID.Int64(),
		Username:       listing.Handle,
		PriceDay:       listing.PriceDay.TON(),
		PriceWeek:      listing.PriceWeek.TON(),
		PriceMonth:     listing.PriceMonth.TON(),
		PriceDayNano:   listing.PriceDay.Int64(),
		PriceWeekNano:  listing.PriceWeek.Int64(),
		PriceMonthNano: listing.PriceMonth.Int64(),
	}
}

func newListingViewPayload(view storefront.ListingView) listingPayload {
	payload := newListingPayload(view.Listing)
	payload.Occupied = view.Occupied
	if view.CurrentRental != nil {
		payload.CurrentRental = &rentalSummaryPayload{ID: view.CurrentRental.ID.Int64(), ExpiresAt: view.CurrentRental.ExpiresAt}
	}
	return payload
}

func newOrderPayload(order storefront.Order) orderPayload {
	payload := orderPayload{
		OrderID:       order.ID.Int64(),
		AccountID:     order.AccountID.Int64(),
		TelegramID:    order.Buyer.Int64(),
		WalletAddress: order.WalletAddress,
		Status:        order.Status.String(),
		TxHash:        order.TxHash,
		TonAmount:     order.TonAmount.TON(),
		TonAmountNano: order.TonAmount.Int64(),
		FailureReason: order.FailureReason,
		Evidence:      order.Evidence,
		CreatedAt:     order.CreatedAt,
		SettledAt:     order.SettledAt,
	}
	if order.Account != nil {
		account := newAccountPayload(*order.Account)
		payload.Account = &account
	}
	return payload
}

func newRentalPayload(rental storefront.Rental) rentalPayload {
	payload := rentalPayload{
		RentalID:      rental.ID.Int64(),
		ListingID:     rental.ListingID.Int64(),
		TelegramID:    rental.Buyer.Int64(),
		WalletAddress: rental.WalletAddress,
		Period:        rental.Period.String(),
		Status:        rental.Status.String(),
		TxHash:        rental.TxHash,
		TonAmount:     rental.TonAmount.TON(),
		TonAmountNano: rental.TonAmount.Int64(),
		FailureReason: rental.FailureReason,
		Evidence:      rental.Evidence,
		StartsAt:      rental.StartsAt,
		ExpiresAt:     rental.ExpiresAt,
		CreatedAt:     rental.CreatedAt,
		SettledAt:     rental.SettledAt,
	}
	if rental.Listing != nil {
		payload.Username = rental.Listing.Handle
	}
	return payload
}

func newStatsPayload(stats storefront.Stats) statsPayload {
	return statsPayload{
		Orders:      countsPayload{Total: stats.Orders.Total, Confirmed: stats.Orders.Confirmed},
		Rentals:     countsPayload{Total: stats.Rentals.Total, Confirmed: stats.Rentals.Confirmed},
		Revenue:     stats.Revenue.TON(),
		RevenueNano: stats.Revenue.Int64(),
	}
}
