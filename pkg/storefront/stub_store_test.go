package storefront

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

type stubStore struct {
	txMutex  sync.Mutex
	mu       sync.Mutex
	nextID   int64
	accounts map[RecordID]Account
	listings map[RecordID]UsernameListing
	orders   map[RecordID]Order
	rentals  map[RecordID]Rental
	claims   map[string]RecordID
	ledger   map[string]RecordID
	admins   map[TelegramID]Admin
	failOn   map[string]error
}

func newStubStore(t *testing.T) *stubStore {
	t.Helper()
	return &stubStore{
		accounts: map[RecordID]Account{},
		listings: map[RecordID]UsernameListing{},
		orders:   map[RecordID]Order{},
		rentals:  map[RecordID]Rental{},
		claims:   map[string]RecordID{},
		ledger:   map[string]RecordID{},
		admins:   map[TelegramID]Admin{},
		failOn:   map[string]error{},
	}
}

type stubSnapshot struct {
	nextID   int64
	accounts map[RecordID]Account
	listings map[RecordID]UsernameListing
	orders   map[RecordID]Order
	rentals  map[RecordID]Rental
	claims   map[string]RecordID
	ledger   map[string]RecordID
	admins   map[TelegramID]Admin
}

func (store *stubStore) snapshot() stubSnapshot {
	store.mu.Lock()
	defer store.mu.Unlock()
	return stubSnapshot{
		nextID:   store.nextID,
		accounts: copyMap(store.accounts),
		listings: copyMap(store.listings),
		orders:   copyMap(store.orders),
		rentals:  copyMap(store.rentals),
		claims:   copyMap(store.claims),
		ledger:   copyMap(store.ledger),
		admins:   copyMap(store.admins),
	}
}

func (store *stubStore) restore(snapshot stubSnapshot) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.nextID = snapshot.nextID
	store.accounts = snapshot.accounts
	store.listings = snapshot.listings
	store.orders = snapshot.orders
	store.rentals = snapshot.rentals
	store.claims = snapshot.claims
	store.ledger = snapshot.ledger
	store.admins = snapshot.admins
}

func copyMap[K comparable, V any](source map[K]V) map[K]V {
	copied := make(map[K]V, len(source))
	for key, value := range source {
		copied[key] = value
	}
	return copied
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.txMutex.Lock()
	defer store.txMutex.Unlock()
	snapshot := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.restore(snapshot)
		return err
	}
	return nil
}

func (store *stubStore) fail(method string) error {
	return store.failOn[method]
}

func (store *stubStore) allocateID() RecordID {
	store.nextID++
	return RecordID(store.nextID)
}

func (store *stubStore) ListAccounts(_ context.Context, availableOnly bool) ([]Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	accounts := make([]Account, 0, len(store.accounts))
	for _, account := range store.accounts {
		if availableOnly && account.Quantity < 1 {
			continue
		}
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(left, right int) bool { return accounts[left].ID < accounts[right].ID })
	return accounts, nil
}

func (store *stubStore) GetAccount(_ context.Context, accountID RecordID) (Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	account, ok := store.accounts[accountID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return account, nil
}

func (store *stubStore) CreateAccount(_ context.Context, input AccountInput) (Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	account := Account{ID: store.allocateID(), Country: input.Country, CountryCode: input.CountryCode, Flag: input.Flag, Quantity: input.Quantity, Price: input.Price}
	store.accounts[account.ID] = account
	return account, nil
}

func (store *stubStore) UpdateAccount(_ context.Context, accountID RecordID, input AccountInput) (Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	account, ok := store.accounts[accountID]
	if !ok {
		return Account{}, ErrNotFound
	}
	quantity := input.Quantity
	if input.QuantityBase != nil {
		quantity = account.Quantity + input.Quantity - *input.QuantityBase
	}
	if quantity < 0 {
		return Account{}, ErrInvalidQuantity
	}
	account.Country, account.CountryCode, account.Flag, account.Quantity, account.Price = input.Country, input.CountryCode, input.Flag, quantity, input.Price
	store.accounts[accountID] = account
	return account, nil
}

func (store *stubStore) DeleteAccount(_ context.Context, accountID RecordID) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.accounts[accountID]; !ok {
		return ErrNotFound
	}
	for _, order := range store.orders {
		if order.AccountID == accountID {
			return ErrRecordReferenced
		}
	}
	delete(store.accounts, accountID)
	return nil
}

func (store *stubStore) DecrementAccountStock(_ context.Context, accountID RecordID) error {
	if err := store.fail("DecrementAccountStock"); err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	account, ok := store.accounts[accountID]
	if !ok || account.Quantity < 1 {
		return ErrItemUnavailable
	}
	account.Quantity--
	store.accounts[accountID] = account
	return nil
}

func (store *stubStore) ListListings(_ context.Context) ([]UsernameListing, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	listings := make([]UsernameListing, 0, len(store.listings))
	for _, listing := range store.listings {
		listings = append(listings, listing)
	}
	sort.Slice(listings, func(left, right int) bool { return listings[left].ID < listings[right].ID })
	return listings, nil
}

func (store *stubStore) GetListing(_ context.Context, listingID RecordID) (UsernameListing, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	listing, ok := store.listings[listingID]
	if !ok {
		return UsernameListing{}, ErrNotFound
	}
	return listing, nil
}

func (store *stubStore) LockListing(ctx context.Context, listingID RecordID) (UsernameListing, error) {
	return store.GetListing(ctx, listingID)
}

func (store *stubStore) CreateListing(_ context.Context, input ListingInput) (UsernameListing, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, listing := range store.listings {
		if listing.Handle == input.Handle.String() {
			return UsernameListing{}, ErrListingExists
		}
	}
	listing := UsernameListing{ID: store.allocateID(), Handle: input.Handle.String(), PriceDay: input.PriceDay, PriceWeek: input.PriceWeek, PriceMonth: input.PriceMonth}
	store.listings[listing.ID] = listing
	return listing, nil
}

func (store *stubStore) UpdateListing(_ context.Context, listingID RecordID, input ListingInput) (UsernameListing, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	listing, ok := store.listings[listingID]
	if !ok {
		return UsernameListing{}, ErrNotFound
	}
	listing.Handle, listing.PriceDay, listing.PriceWeek, listing.PriceMonth = input.Handle.String(), input.PriceDay, input.PriceWeek, input.PriceMonth
	store.listings[listingID] = listing
	return listing, nil
}

func (store *stubStore) DeleteListing(_ context.Context, listingID RecordID) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.listings[listingID]; !ok {
		return ErrNotFound
	}
	for _, rental := range store.rentals {
		if rental.ListingID == listingID {
			return ErrRecordReferenced
		}
	}
	delete(store.listings, listingID)
	return nil
}

func (store *stubStore) ActiveRental(ctx context.Context, listingID RecordID, at time.Time) (Rental, bool, error) {
	active, _ := store.ActiveRentals(ctx, at)
	for _, rental := range active {
		if rental.ListingID == listingID {
			return rental, true, nil
		}
	}
	return Rental{}, false, nil
}

func (store *stubStore) ActiveRentals(_ context.Context, at time.Time) ([]Rental, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var active []Rental
	for _, rental := range store.rentals {
		if rental.Status == StatusConfirmed && rental.ExpiresAt != nil && rental.ExpiresAt.After(at) {
			active = append(active, rental)
		}
	}
	return active, nil
}

func (store *stubStore) ClaimTransactionHash(_ context.Context, txHash string, _ JobKind, recordID RecordID) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.claims[txHash]; exists {
		return ErrDuplicateTransaction
	}
	store.claims[txHash] = recordID
	return nil
}

func (store *stubStore) ClaimLedgerTransaction(_ context.Context, ledgerHash string, _ JobKind, recordID RecordID) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.ledger[ledgerHash]; exists {
		return ErrLedgerTransactionClaimed
	}
	store.ledger[ledgerHash] = recordID
	return nil
}

func (store *stubStore) IsLedgerTransactionClaimed(_ context.Context, ledgerHash string) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	_, exists := store.ledger[ledgerHash]
	return exists, nil
}

func (store *stubStore) CreateOrder(_ context.Context, order Order) (Order, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, existing := range store.orders {
		if existing.TxHash == order.TxHash {
			return Order{}, ErrDuplicateTransaction
		}
	}
	order.ID = store.allocateID()
	store.orders[order.ID] = order
	return order, nil
}

func (store *stubStore) GetOrder(_ context.Context, orderID RecordID) (Order, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	order, ok := store.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	return order, nil
}

func (store *stubStore) SettleOrder(_ context.Context, orderID RecordID, settlement Settlement) error {
	if err := store.fail("SettleOrder:" + settlement.Status.String()); err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	order, ok := store.orders[orderID]
	if !ok || order.Status != StatusPending {
		return ErrRecordSettled
	}
	settledAt := settlement.SettledAt
	order.Status, order.FailureReason, order.Evidence, order.SettledAt = settlement.Status, settlement.FailureReason, settlement.Evidence, &settledAt
	store.orders[orderID] = order
	return nil
}

func (store *stubStore) ListOrders(_ context.Context, filter RecordFilter) ([]Order, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var orders []Order
	for _, order := range store.orders {
		if filter.Status == "" || order.Status == filter.Status {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (store *stubStore) CreateRental(_ context.Context, rental Rental) (Rental, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, existing := range store.rentals {
		if existing.TxHash == rental.TxHash {
			return Rental{}, ErrDuplicateTransaction
		}
	}
	rental.ID = store.allocateID()
	store.rentals[rental.ID] = rental
	return rental, nil
}

func (store *stubStore) GetRental(_ context.Context, rentalID RecordID) (Rental, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	rental, ok := store.rentals[rentalID]
	if !ok {
		return Rental{}, ErrNotFound
	}
	return rental, nil
}

func (store *stubStore) SettleRental(_ context.Context, rentalID RecordID, settlement Settlement) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	rental, ok := store.rentals[rentalID]
	if !ok || rental.Status != StatusPending {
		return ErrRecordSettled
	}
	settledAt := settlement.SettledAt
	rental.Status, rental.FailureReason, rental.Evidence, rental.SettledAt = settlement.Status, settlement.FailureReason, settlement.Evidence, &settledAt
	rental.StartsAt, rental.ExpiresAt = settlement.StartsAt, settlement.ExpiresAt
	store.rentals[rentalID] = rental
	return nil
}

func (store *stubStore) ListRentals(_ context.Context, filter RecordFilter) ([]Rental, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var rentals []Rental
	for _, rental := range store.rentals {
		if filter.Status == "" || rental.Status == filter.Status {
			rentals = append(rentals, rental)
		}
	}
	return rentals, nil
}

func (store *stubStore) ListPendingRecordIDs(_ context.Context, kind JobKind) ([]RecordID, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var recordIDs []RecordID
	switch kind {
	case JobKindOrder:
		for _, order := range store.orders {
			if order.Status == StatusPending {
				recordIDs = append(recordIDs, order.ID)
			}
		}
	case JobKindRental:
		for _, rental := range store.rentals {
			if rental.Status == StatusPending {
				recordIDs = append(recordIDs, rental.ID)
			}
		}
	}
	sort.Slice(recordIDs, func(left, right int) bool { return recordIDs[left] < recordIDs[right] })
	return recordIDs, nil
}

func (store *stubStore) Stats(_ context.Context) (Stats, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var stats Stats
	for _, order := range store.orders {
		stats.Orders.Total++
		if order.Status == StatusConfirmed {
			stats.Orders.Confirmed++
			stats.Revenue += order.TonAmount
		}
	}
	for _, rental := range store.rentals {
		stats.Rentals.Total++
		if rental.Status == StatusConfirmed {
			stats.Rentals.Confirmed++
			stats.Revenue += rental.TonAmount
		}
	}
	return stats, nil
}

func (store *stubStore) CreateAdmin(_ context.Context, telegramID TelegramID, createdAt time.Time) (Admin, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.admins[telegramID]; exists {
		return Admin{}, ErrAdminExists
	}
	admin := Admin{TelegramID: telegramID, CreatedAt: createdAt}
	store.admins[telegramID] = admin
	return admin, nil
}

func (store *stubStore) IsAdmin(_ context.Context, telegramID TelegramID) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	_, exists := store.admins[telegramID]
	return exists, nil
}

func (store *stubStore) seedAccount(t *testing.T, quantity int64, price NanoTON) Account {
	t.Helper()
	input, err := NewAccountInput("Germany", "de", "🇩🇪", quantity, price)
	if err != nil {
		t.Fatalf("account input: %v", err)
	}
	account, err := store.CreateAccount(context.Background(), input)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account
}

func (store *stubStore) seedListing(t *testing.T, handle string) UsernameListing {
	t.Helper()
	input, err := NewListingInput(mustHandle(t, handle), mustTON(t, "1"), mustTON(t, "5"), mustTON(t, "15"))
	if err != nil {
		t.Fatalf("listing input: %v", err)
	}
	listing, err := store.CreateListing(context.Background(), input)
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return listing
}

func (store *stubStore) orderCount() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.orders)
}

func (store *stubStore) rentalCount() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.rentals)
}

type stubBroadcaster struct {
	mu      sync.Mutex
	receipt BroadcastReceipt
	err     error
	calls   int
}

func (broadcaster *stubBroadcaster) Broadcast(_ context.Context, _ TransactionBlob) (BroadcastReceipt, error) {
	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	broadcaster.calls++
	return broadcaster.receipt, broadcaster.err
}

type stubVerifier struct {
	mu           sync.Mutex
	verdict      SettlementVerdict
	err          error
	expectations []SettlementExpectation
}

func (verifier *stubVerifier) Verify(_ context.Context, expectation SettlementExpectation) (SettlementVerdict, error) {
	verifier.mu.Lock()
	defer verifier.mu.Unlock()
	verifier.expectations = append(verifier.expectations, expectation)
	return verifier.verdict, verifier.err
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []Job
	err  error
}

func (queue *recordingQueue) Enqueue(job Job) error {
	queue.mu.Lock()
	defer queue.mu.Unlock()
	if queue.err != nil {
		return queue.err
	}
	queue.jobs = append(queue.jobs, job)
	return nil
}

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []Notification
}

func (notifier *recordingNotifier) NotifySettlement(_ context.Context, notification Notification) error {
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	notifier.notifications = append(notifier.notifications, notification)
	return nil
}

type serviceFixture struct {
	store       *stubStore
	broadcaster *stubBroadcaster
	verifier    *stubVerifier
	queue       *recordingQueue
	notifier    *recordingNotifier
	service     *Service
	now         time.Time
}

const testMerchantAddress = "0:1111111111111111111111111111111111111111111111111111111111111111"

func newServiceFixture(t *testing.T, options ...ServiceOption) *serviceFixture {
	t.Helper()
	fixture := &serviceFixture{
		store:       newStubStore(t),
		broadcaster: &stubBroadcaster{receipt: BroadcastReceipt{Hash: "H1", Source: HashSourceLedger}},
		verifier:    &stubVerifier{verdict: SettlementVerdict{Verified: true, Attempts: 1}},
		queue:       &recordingQueue{},
		notifier:    &recordingNotifier{},
		now:         time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC),
	}
	options = append([]ServiceOption{WithNotifier(fixture.notifier)}, options...)
	service, err := NewService(fixture.store, fixture.broadcaster, fixture.verifier, fixture.queue, func() time.Time { return fixture.now }, Config{MerchantAddress: testMerchantAddress}, options...)
	if err != nil {
		t.Fatalf("service init failed: %v", err)
	}
	fixture.service = service
	return fixture
}

func mustTON(t *testing.T, raw string) NanoTON {
	t.Helper()
	amount, err := ParseTON(raw)
	if err != nil {
		t.Fatalf("parse ton %q: %v", raw, err)
	}
	return amount
}

func mustHandle(t *testing.T, raw string) Handle {
	t.Helper()
	handle, err := NewHandle(raw)
	if err != nil {
		t.Fatalf("handle %q: %v", raw, err)
	}
	return handle
}

func mustWallet(t *testing.T, raw string) WalletAddress {
	t.Helper()
	address, err := NewWalletAddress(raw)
	if err != nil {
		t.Fatalf("wallet %q: %v", raw, err)
	}
	return address
}

func mustBlob(t *testing.T, raw string) TransactionBlob {
	t.Helper()
	blob, err := NewTransactionBlob(raw)
	if err != nil {
		t.Fatalf("blob %q: %v", raw, err)
	}
	return blob
}

var errStubFailure = errors.New("stub failure")
