package storefront

import (
	"context"
	"strconv"
	"time"
)

// Store is the persistence contract used by Service.
// Methods that transition a record only touch rows still in StatusPending and
// return ErrRecordSettled otherwise.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	ListAccounts(ctx context.Context, availableOnly bool) ([]Account, error)
	GetAccount(ctx context.Context, accountID RecordID) (Account, error)
	CreateAccount(ctx context.Context, input AccountInput) (Account, error)
	UpdateAccount(ctx context.Context, accountID RecordID, input AccountInput) (Account, error)
	DeleteAccount(ctx context.Context, accountID RecordID) error
	DecrementAccountStock(ctx context.Context, accountID RecordID) error

	ListListings(ctx context.Context) ([]UsernameListing, error)
	GetListing(ctx context.Context, listingID RecordID) (UsernameListing, error)
	LockListing(ctx context.Context, listingID RecordID) (UsernameListing, error)
	CreateListing(ctx context.Context, input ListingInput) (UsernameListing, error)
	UpdateListing(ctx context.Context, listingID RecordID, input ListingInput) (UsernameListing, error)
	DeleteListing(ctx context.Context, listingID RecordID) error
	ActiveRental(ctx context.Context, listingID RecordID, at time.Time) (Rental, bool, error)
	ActiveRentals(ctx context.Context, at time.Time) ([]Rental, error)

	ClaimTransactionHash(ctx context.Context, txHash string, kind JobKind, recordID RecordID) error
	ClaimLedgerTransaction(ctx context.Context, ledgerHash string, kind JobKind, recordID RecordID) error
	IsLedgerTransactionClaimed(ctx context.Context, ledgerHash string) (bool, error)
	CreateOrder(ctx context.Context, order Order) (Order, error)
	GetOrder(ctx context.Context, orderID RecordID) (Order, error)
	SettleOrder(ctx context.Context, orderID RecordID, settlement Settlement) error
	ListOrders(ctx context.Context, filter RecordFilter) ([]Order, error)
	CreateRental(ctx context.Context, rental Rental) (Rental, error)
	GetRental(ctx context.Context, rentalID RecordID) (Rental, error)
	SettleRental(ctx context.Context, rentalID RecordID, settlement Settlement) error
	ListRentals(ctx context.Context, filter RecordFilter) ([]Rental, error)
	ListPendingRecordIDs(ctx context.Context, kind JobKind) ([]RecordID, error)

	Stats(ctx context.Context) (Stats, error)
	CreateAdmin(ctx context.Context, telegramID TelegramID, createdAt time.Time) (Admin, error)
	IsAdmin(ctx context.Context, telegramID TelegramID) (bool, error)
}

// BroadcastReceipt identifies a submitted transaction. NormalizedHash is the
// ledger's normalized external message hash when it reports one.
type BroadcastReceipt struct {
	Hash           string
	NormalizedHash string
	Source         HashSource
}

// Broadcaster submits signed transaction blobs to the network.
type Broadcaster interface {
	Broadcast(ctx context.Context, blob TransactionBlob) (BroadcastReceipt, error)
}

// SettlementExpectation describes the payment a record is waiting for.
type SettlementExpectation struct {
	TransactionHash string
	NormalizedHash  string
	HashSource      HashSource
	Destination     string
	Sender          string
	Amount          NanoTON
	NotBefore       time.Time
}

// SettlementVerdict is the outcome of a bounded verification run.
type SettlementVerdict struct {
	Verified bool
	Evidence *SettlementEvidence
	Attempts int
}

// Verifier confirms that an expected payment reached the ledger.
// A non-nil error means verification was interrupted and the record must stay PENDING.
type Verifier interface {
	Verify(ctx context.Context, expectation SettlementExpectation) (SettlementVerdict, error)
}

// JobKind names the record type a settlement job refers to.
type JobKind string

const (
	JobKindOrder  JobKind = "order"
	JobKindRental JobKind = "rental"
)

// Job asks a worker to settle one PENDING record.
type Job struct {
	Kind     JobKind
	RecordID RecordID
}

// Key identifies the job for de-duplication.
func (job Job) Key() string {
	return string(job.Kind) + ":" + strconv.FormatInt(job.RecordID.Int64(), 10)
}

// JobQueue accepts settlement jobs without blocking the caller.
type JobQueue interface {
	Enqueue(job Job) error
}

// Notification reports a terminal settlement to the buyer.
type Notification struct {
	Kind          JobKind
	RecordID      RecordID
	Buyer         TelegramID
	Item          string
	Status        Status
	FailureReason string
	Amount        NanoTON
	ExpiresAt     *time.Time
}

// Notifier delivers settlement notifications.
type Notifier interface {
	NotifySettlement(ctx context.Context, notification Notification) error
}
