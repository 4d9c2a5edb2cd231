package storefront

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the settlement parameters shared by every flow.
type Config struct {
	// MerchantAddress receives every payment and is the address polled during verification.
	MerchantAddress string
	// SenderLookback widens the address-mode match window before the record's creation time.
	SenderLookback time.Duration
}

// Service orchestrates purchases and rentals over a Store.
type Service struct {
	store       Store
	broadcaster Broadcaster
	verifier    Verifier
	queue       JobQueue
	nowFn       func() time.Time
	config      Config
	logger      OperationLogger
	notifier    Notifier
}

// NewService wires a Service.
func NewService(store Store, broadcaster Broadcaster, verifier Verifier, queue JobQueue, now func() time.Time, config Config, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if broadcaster == nil {
		return nil, fmt.Errorf("%w: broadcaster dependency is nil", ErrInvalidServiceConfig)
	}
	if verifier == nil {
		return nil, fmt.Errorf("%w: verifier dependency is nil", ErrInvalidServiceConfig)
	}
	if queue == nil {
		return nil, fmt.Errorf("%w: queue dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	config.MerchantAddress = strings.TrimSpace(config.MerchantAddress)
	if config.MerchantAddress == "" {
		return nil, fmt.Errorf("%w: merchant address is empty", ErrInvalidServiceConfig)
	}
	if config.SenderLookback <= 0 {
		config.SenderLookback = defaultSenderLookback
	}
	service := &Service{
		store:       store,
		broadcaster: broadcaster,
		verifier:    verifier,
		queue:       queue,
		nowFn:       now,
		config:      config,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// BuyAccountRequest is a buyer's request for one account unit.
type BuyAccountRequest struct {
	AccountID     RecordID
	Buyer         TelegramID
	WalletAddress WalletAddress
	Blob          TransactionBlob
}

// RentUsernameRequest is a buyer's request to lease a listing.
type RentUsernameRequest struct {
	ListingID     RecordID
	Buyer         TelegramID
	WalletAddress WalletAddress
	Blob          TransactionBlob
	Period        Period
}

// Receipt is returned as soon as a record is PENDING.
type Receipt struct {
	RecordID RecordID
	TxHash   string
	Status   Status
}

// BuyAccount broadcasts the buyer's payment and records a PENDING order.
func (service *Service) BuyAccount(ctx context.Context, request BuyAccountRequest) (Receipt, error) {
	var price NanoTON
	receipt, operationError := service.buyAccount(ctx, request, &price)
	service.logOperation(ctx, OperationLog{
		Operation: operationBuyAccount,
		Kind:      JobKindOrder,
		RecordID:  receipt.RecordID,
		Buyer:     request.Buyer,
		TxHash:    receipt.TxHash,
		Amount:    price,
		Outcome:   receipt.Status,
		Error:     operationError,
	})
	return receipt, operationError
}

func (service *Service) buyAccount(ctx context.Context, request BuyAccountRequest, price *NanoTON) (Receipt, error) {
	if err := validatePurchaseFields(request.AccountID, request.Buyer, request.WalletAddress, request.Blob); err != nil {
		return Receipt{}, WrapError(operationBuyAccount, subjectOrder, codeValidate, err)
	}
	account, err := service.store.GetAccount(ctx, request.AccountID)
	if errors.Is(err, ErrNotFound) {
		return Receipt{}, WrapError(operationBuyAccount, subjectAccount, codeUnavailable, ErrItemUnavailable)
	}
	if err != nil {
		return Receipt{}, err
	}
	if account.Quantity < 1 {
		return Receipt{}, WrapError(operationBuyAccount, subjectAccount, codeUnavailable, ErrItemUnavailable)
	}
	*price = account.Price

	broadcastReceipt, err := service.broadcast(ctx, request.Blob)
	if err != nil {
		return Receipt{}, WrapError(operationBuyAccount, subjectTransaction, codeBroadcast, err)
	}

	var order Order
	err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		created, err := transactionStore.CreateOrder(ctx, Order{
			AccountID:     account.ID,
			Buyer:         request.Buyer,
			WalletAddress: request.WalletAddress.String(),
			Blob:          request.Blob.String(),
			TxHash:        broadcastReceipt.Hash,
			TxHashNorm:    broadcastReceipt.NormalizedHash,
			HashSource:    broadcastReceipt.Source,
			TonAmount:     account.Price,
			Status:        StatusPending,
			CreatedAt:     service.nowFn().UTC(),
		})
		if err != nil {
			return err
		}
		order = created
		return transactionStore.ClaimTransactionHash(ctx, created.TxHash, JobKindOrder, created.ID)
	})
	if err != nil {
		return Receipt{TxHash: broadcastReceipt.Hash}, WrapError(operationBuyAccount, subjectOrder, codePersist, err)
	}
	service.enqueue(ctx, Job{Kind: JobKindOrder, RecordID: order.ID})
	return Receipt{RecordID: order.ID, TxHash: order.TxHash, Status: order.Status}, nil
}

// RentUsername broadcasts the buyer's payment and records a PENDING rental.
// The listing must be free at request time; occupancy is re-checked on confirmation.
func (service *Service) RentUsername(ctx context.Context, request RentUsernameRequest) (Receipt, error) {
	var price NanoTON
	receipt, operationError := service.rentUsername(ctx, request, &price)
	service.logOperation(ctx, OperationLog{
		Operation: operationRentUsername,
		Kind:      JobKindRental,
		RecordID:  receipt.RecordID,
		Buyer:     request.Buyer,
		TxHash:    receipt.TxHash,
		Amount:    price,
		Outcome:   receipt.Status,
		Error:     operationError,
	})
	return receipt, operationError
}

func (service *Service) rentUsername(ctx context.Context, request RentUsernameRequest, price *NanoTON) (Receipt, error) {
	if err := validatePurchaseFields(request.ListingID, request.Buyer, request.WalletAddress, request.Blob); err != nil {
		return Receipt{}, WrapError(operationRentUsername, subjectRental, codeValidate, err)
	}
	if _, err := ParsePeriod(request.Period.String()); err != nil {
		return Receipt{}, WrapError(operationRentUsername, subjectRental, codeValidate, err)
	}
	listing, err := service.store.GetListing(ctx, request.ListingID)
	if err != nil {
		return Receipt{}, WrapError(operationRentUsername, subjectListing, codeLoad, err)
	}
	_, occupied, err := service.store.ActiveRental(ctx, listing.ID, service.nowFn().UTC())
	if err != nil {
		return Receipt{}, err
	}
	if occupied {
		return Receipt{}, WrapError(operationRentUsername, subjectListing, codeUnavailable, ErrAlreadyOccupied)
	}
	amount, err := listing.PriceFor(request.Period)
	if err != nil {
		return Receipt{}, WrapError(operationRentUsername, subjectRental, codeValidate, err)
	}
	*price = amount

	broadcastReceipt, err := service.broadcast(ctx, request.Blob)
	if err != nil {
		return Receipt{}, WrapError(operationRentUsername, subjectTransaction, codeBroadcast, err)
	}

	var rental Rental
	err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		created, err := transactionStore.CreateRental(ctx, Rental{
			ListingID:     listing.ID,
			Buyer:         request.Buyer,
			WalletAddress: request.WalletAddress.String(),
			Blob:          request.Blob.String(),
			TxHash:        broadcastReceipt.Hash,
			TxHashNorm:    broadcastReceipt.NormalizedHash,
			HashSource:    broadcastReceipt.Source,
			Period:        request.Period,
			TonAmount:     amount,
			Status:        StatusPending,
			CreatedAt:     service.nowFn().UTC(),
		})
		if err != nil {
			return err
		}
		rental = created
		return transactionStore.ClaimTransactionHash(ctx, created.TxHash, JobKindRental, created.ID)
	})
	if err != nil {
		return Receipt{TxHash: broadcastReceipt.Hash}, WrapError(operationRentUsername, subjectRental, codePersist, err)
	}
	service.enqueue(ctx, Job{Kind: JobKindRental, RecordID: rental.ID})
	return Receipt{RecordID: rental.ID, TxHash: rental.TxHash, Status: rental.Status}, nil
}

// GetOrderStatus returns an order only to the buyer who placed it.
func (service *Service) GetOrderStatus(ctx context.Context, orderID RecordID, requester TelegramID) (Order, error) {
	order, err := service.store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, WrapError(operationGetOrder, subjectOrder, codeLoad, err)
	}
	if order.Buyer != requester {
		return Order{}, WrapError(operationGetOrder, subjectOrder, codeNotFound, ErrNotFound)
	}
	return order, nil
}

// GetRentalStatus returns a rental only to the buyer who placed it.
func (service *Service) GetRentalStatus(ctx context.Context, rentalID RecordID, requester TelegramID) (Rental, error) {
	rental, err := service.store.GetRental(ctx, rentalID)
	if err != nil {
		return Rental{}, WrapError(operationGetRental, subjectRental, codeLoad, err)
	}
	if rental.Buyer != requester {
		return Rental{}, WrapError(operationGetRental, subjectRental, codeNotFound, ErrNotFound)
	}
	return rental, nil
}

func (service *Service) broadcast(ctx context.Context, blob TransactionBlob) (BroadcastReceipt, error) {
	receipt, err := service.broadcaster.Broadcast(ctx, blob)
	if err != nil {
		return BroadcastReceipt{}, fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	if strings.TrimSpace(receipt.Hash) == "" {
		return BroadcastReceipt{}, fmt.Errorf("%w: empty transaction hash", ErrBroadcastFailed)
	}
	if receipt.Source == "" {
		receipt.Source = HashSourceLedger
	}
	return receipt, nil
}

// enqueue never fails the request; a job that cannot be queued is picked up by RecoverPending.
func (service *Service) enqueue(ctx context.Context, job Job) {
	err := service.queue.Enqueue(job)
	if err == nil {
		return
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationEnqueue,
		Kind:      job.Kind,
		RecordID:  job.RecordID,
		Outcome:   StatusPending,
		Error:     err,
	})
}

func validatePurchaseFields(itemID RecordID, buyer TelegramID, walletAddress WalletAddress, blob TransactionBlob) error {
	if itemID <= 0 {
		return fmt.Errorf("%w: item id is required", ErrInvalidRecordID)
	}
	if buyer <= 0 {
		return fmt.Errorf("%w: buyer is required", ErrInvalidTelegramID)
	}
	if walletAddress.IsZero() {
		return fmt.Errorf("%w: wallet address is required", ErrInvalidWalletAddress)
	}
	if blob.IsZero() {
		return fmt.Errorf("%w: transaction blob is required", ErrInvalidTransactionBlob)
	}
	return nil
}
