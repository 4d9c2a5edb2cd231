package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tonstore/pkg/storefront"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgUniqueViolationCode      = "23505"
	sqliteConstraintUnique     = 2067
	sqliteConstraintPrimaryKey = 1555
	errorOperationStore        = "store"
	errorSubjectAccount        = "account"
	errorSubjectListing        = "listing"
	errorSubjectOrder          = "order"
	errorSubjectRental         = "rental"
	errorSubjectClaim          = "claim"
	errorSubjectAdmin          = "admin"
	errorSubjectStats          = "stats"
	errorCodeCreate            = "create"
	errorCodeDecrement         = "decrement"
	errorCodeDelete            = "delete"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeLock              = "lock"
	errorCodeSettle            = "settle"
	errorCodeUpdate            = "update"
)

// uniqueConstraint names a unique index by its PostgreSQL constraint name and
// by the table.column SQLite reports in the violation message.
type uniqueConstraint struct {
	name   string
	column string
}

var (
	constraintListingHandle = uniqueConstraint{name: "uniq_username_listings_handle", column: "username_listings.handle"}
	constraintOrderTxHash   = uniqueConstraint{name: "uniq_orders_tx_hash", column: "orders.tx_hash"}
	constraintRentalTxHash  = uniqueConstraint{name: "uniq_rentals_tx_hash", column: "rentals.tx_hash"}
	constraintClaimPrimary  = uniqueConstraint{name: "transaction_claims_pkey", column: "transaction_claims.tx_hash"}
	constraintLedgerPrimary = uniqueConstraint{name: "ledger_claims_pkey", column: "ledger_claims.ledger_hash"}
	constraintAdminTelegram = uniqueConstraint{name: "uniq_admins_telegram_id", column: "admins.telegram_id"}
)

// Store implements storefront.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore storefront.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) ListAccounts(ctx context.Context, availableOnly bool) ([]storefront.Account, error) {
	query := store.db.WithContext(ctx).Order("id ASC")
	if availableOnly {
		query = query.Where("quantity > 0")
	}
	var rows []Account
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	accounts := make([]storefront.Account, 0, len(rows))
	for _, row := range rows {
		accounts = append(accounts, mapAccount(row))
	}
	return accounts, nil
}

func (store *Store) GetAccount(ctx context.Context, accountID storefront.RecordID) (storefront.Account, error) {
	var row Account
	if err := store.db.WithContext(ctx).Where("id = ?", accountID.Int64()).Take(&row).Error; err != nil {
		return storefront.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, notFound(err))
	}
	return mapAccount(row), nil
}

func (store *Store) CreateAccount(ctx context.Context, input storefront.AccountInput) (storefront.Account, error) {
	row := Account{
		Country:     input.Country,
		CountryCode: input.CountryCode,
		Flag:        input.Flag,
		Quantity:    input.Quantity,
		PriceNano:   input.Price.Int64(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return storefront.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return mapAccount(row), nil
}

// UpdateAccount rewrites an account under a row lock. With a QuantityBase the
// quantity moves by Quantity-QuantityBase, so units confirmed since the editor
// loaded the account stay sold; otherwise Quantity is written as given.
func (store *Store) UpdateAccount(ctx context.Context, accountID storefront.RecordID, input storefront.AccountInput) (storefront.Account, error) {
	var updated storefront.Account
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var current Account
		err := transaction.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", accountID.Int64()).Take(&current).Error
		if err != nil {
			return notFound(err)
		}
		delta := input.Quantity - current.Quantity
		if input.QuantityBase != nil {
			delta = input.Quantity - *input.QuantityBase
		}
		result := transaction.
			Model(&Account{}).
			Where("id = ? AND quantity + ? >= 0", accountID.Int64(), delta).
			Updates(map[string]any{
				"country":      input.Country,
				"country_code": input.CountryCode,
				"flag":         input.Flag,
				"quantity":     gorm.Expr("quantity + ?", delta),
				"price_nano":   input.Price.Int64(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return storefront.ErrInvalidQuantity
		}
		var row Account
		if err := transaction.Where("id = ?", accountID.Int64()).Take(&row).Error; err != nil {
			return err
		}
		updated = mapAccount(row)
		return nil
	})
	if err != nil {
		return storefront.Account{}, wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
	}
	return updated, nil
}

func (store *Store) DeleteAccount(ctx context.Context, accountID storefront.RecordID) error {
	var references int64
	if err := store.db.WithContext(ctx).Model(&Order{}).Where("account_id = ?", accountID.Int64()).Count(&references).Error; err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeDelete, err)
	}
	if references > 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeDelete, storefront.ErrRecordReferenced)
	}
	result := store.db.WithContext(ctx).Where("id = ?", accountID.Int64()).Delete(&Account{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeDelete, storefront.ErrNotFound)
	}
	return nil
}

// DecrementAccountStock removes one unit only while stock remains.
func (store *Store) DecrementAccountStock(ctx context.Context, accountID storefront.RecordID) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("id = ? AND quantity > 0", accountID.Int64()).
		Update("quantity", gorm.Expr("quantity - ?", 1))
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeDecrement, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeDecrement, storefront.ErrItemUnavailable)
	}
	return nil
}

func (store *Store) ListListings(ctx context.Context) ([]storefront.UsernameListing, error) {
	var rows []UsernameListing
	if err := store.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectListing, errorCodeList, err)
	}
	listings := make([]storefront.UsernameListing, 0, len(rows))
	for _, row := range rows {
		listings = append(listings, mapListing(row))
	}
	return listings, nil
}

func (store *Store) GetListing(ctx context.Context, listingID storefront.RecordID) (storefront.UsernameListing, error) {
	var row UsernameListing
	if err := store.db.WithContext(ctx).Where("id = ?", listingID.Int64()).Take(&row).Error; err != nil {
		return storefront.UsernameListing{}, wrapStoreError(errorSubjectListing, errorCodeGet, notFound(err))
	}
	return mapListing(row), nil
}

// LockListing reads a listing with a row lock; SQLite serialises writers instead.
func (store *Store) LockListing(ctx context.Context, listingID storefront.RecordID) (storefront.UsernameListing, error) {
	var row UsernameListing
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", listingID.Int64()).
		Take(&row).Error
	if err != nil {
		return storefront.UsernameListing{}, wrapStoreError(errorSubjectListing, errorCodeLock, notFound(err))
	}
	return mapListing(row), nil
}

func (store *Store) CreateListing(ctx context.Context, input storefront.ListingInput) (storefront.UsernameListing, error) {
	row := UsernameListing{
		Handle:         input.Handle.String(),
		PriceDayNano:   input.PriceDay.Int64(),
		PriceWeekNano:  input.PriceWeek.Int64(),
		PriceMonthNano: input.PriceMonth.Int64(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintListingHandle) {
		return storefront.UsernameListing{}, wrapStoreError(errorSubjectListing, errorCodeDuplicate, storefront.ErrListingExists)
	}
	if err != nil {
		return storefront.UsernameListing{}, wrapStoreError(errorSubjectListing, errorCodeCreate, err)
	}
	return mapListing(row), nil
}

func (store *Store) UpdateListing(ctx context.Context, listingID storefront.RecordID, input storefront.ListingInput) (storefront.UsernameListing, error) {
	result := store.db.WithContext(ctx).
		Model(&UsernameListing{}).
		Where("id = ?", listingID.Int64()).
		Updates(map[string]any{
			"handle":           input.Handle.String(),
			"price_day_nano":   input.PriceDay.Int64(),
			"price_week_nano":  input.PriceWeek.Int64(),
			"price_month_nano": input.PriceMonth.Int64(),
		})
	if isUniqueViolation(result.Error, constraintListingHandle) {
		return storefront.UsernameListing{}, wrapStoreError(errorSubjectListing, errorCodeDuplicate, storefront.ErrListingExists)
	}
	if result.Error != nil {
		return storefront.UsernameListing{}, wrapStoreError(errorSubjectListing, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return storefront.UsernameListing{}, wrapStoreError(errorSubjectListing, errorCodeUpdate, storefront.ErrNotFound)
	}
	return store.GetListing(ctx, listingID)
}

func (store *Store) DeleteListing(ctx context.Context, listingID storefront.RecordID) error {
	var references int64
	if err := store.db.WithContext(ctx).Model(&Rental{}).Where("listing_id = ?", listingID.Int64()).Count(&references).Error; err != nil {
		return wrapStoreError(errorSubjectListing, errorCodeDelete, err)
	}
	if references > 0 {
		return wrapStoreError(errorSubjectListing, errorCodeDelete, storefront.ErrRecordReferenced)
	}
	result := store.db.WithContext(ctx).Where("id = ?", listingID.Int64()).Delete(&UsernameListing{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectListing, errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectListing, errorCodeDelete, storefront.ErrNotFound)
	}
	return nil
}

// ActiveRental returns the confirmed rental of a listing that is unexpired at the given instant.
func (store *Store) ActiveRental(ctx context.Context, listingID storefront.RecordID, at time.Time) (storefront.Rental, bool, error) {
	var rows []Rental
	err := store.activeRentals(ctx, at).
		Where("listing_id = ?", listingID.Int64()).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return storefront.Rental{}, false, wrapStoreError(errorSubjectRental, errorCodeGet, err)
	}
	if len(rows) == 0 {
		return storefront.Rental{}, false, nil
	}
	rental, err := mapRental(rows[0])
	if err != nil {
		return storefront.Rental{}, false, wrapStoreError(errorSubjectRental, errorCodeInvalid, err)
	}
	return rental, true, nil
}

func (store *Store) ActiveRentals(ctx context.Context, at time.Time) ([]storefront.Rental, error) {
	var rows []Rental
	if err := store.activeRentals(ctx, at).Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectRental, errorCodeList, err)
	}
	return mapRentals(rows)
}

func (store *Store) activeRentals(ctx context.Context, at time.Time) *gorm.DB {
	return store.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at > ?", storefront.StatusConfirmed.String(), at.UTC()).
		Order("expires_at DESC")
}

// ClaimTransactionHash reserves txHash for one record across every record kind.
func (store *Store) ClaimTransactionHash(ctx context.Context, txHash string, kind storefront.JobKind, recordID storefront.RecordID) error {
	claim := TransactionClaim{TxHash: txHash, Kind: string(kind), RecordID: recordID.Int64()}
	err := store.db.WithContext(ctx).Create(&claim).Error
	if isUniqueViolation(err, constraintClaimPrimary) {
		return wrapStoreError(errorSubjectClaim, errorCodeDuplicate, storefront.ErrDuplicateTransaction)
	}
	if err != nil {
		return wrapStoreError(errorSubjectClaim, errorCodeCreate, err)
	}
	return nil
}

// ClaimLedgerTransaction records that ledgerHash confirmed recordID. A ledger
// transaction confirms at most one record.
func (store *Store) ClaimLedgerTransaction(ctx context.Context, ledgerHash string, kind storefront.JobKind, recordID storefront.RecordID) error {
	claim := LedgerClaim{LedgerHash: ledgerHash, Kind: string(kind), RecordID: recordID.Int64()}
	err := store.db.WithContext(ctx).Create(&claim).Error
	if isUniqueViolation(err, constraintLedgerPrimary) {
		return wrapStoreError(errorSubjectClaim, errorCodeDuplicate, storefront.ErrLedgerTransactionClaimed)
	}
	if err != nil {
		return wrapStoreError(errorSubjectClaim, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) IsLedgerTransactionClaimed(ctx context.Context, ledgerHash string) (bool, error) {
	var count int64
	if err := store.db.WithContext(ctx).Model(&LedgerClaim{}).Where("ledger_hash = ?", ledgerHash).Count(&count).Error; err != nil {
		return false, wrapStoreError(errorSubjectClaim, errorCodeGet, err)
	}
	return count > 0, nil
}

func (store *Store) CreateOrder(ctx context.Context, order storefront.Order) (storefront.Order, error) {
	row := Order{
		AccountID:     order.AccountID.Int64(),
		Buyer:         order.Buyer.Int64(),
		WalletAddress: order.WalletAddress,
		Blob:          order.Blob,
		TxHash:        order.TxHash,
		TxHashNorm:    order.TxHashNorm,
		HashSource:    string(order.HashSource),
		TonAmountNano: order.TonAmount.Int64(),
		Status:        order.Status.String(),
		FailureReason: order.FailureReason,
		CreatedAt:     order.CreatedAt.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintOrderTxHash) {
		return storefront.Order{}, wrapStoreError(errorSubjectOrder, errorCodeDuplicate, storefront.ErrDuplicateTransaction)
	}
	if err != nil {
		return storefront.Order{}, wrapStoreError(errorSubjectOrder, errorCodeCreate, err)
	}
	created, err := mapOrder(row)
	if err != nil {
		return storefront.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return created, nil
}

func (store *Store) GetOrder(ctx context.Context, orderID storefront.RecordID) (storefront.Order, error) {
	var row Order
	if err := store.db.WithContext(ctx).Preload("Account").Where("id = ?", orderID.Int64()).Take(&row).Error; err != nil {
		return storefront.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, notFound(err))
	}
	order, err := mapOrder(row)
	if err != nil {
		return storefront.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return order, nil
}

// SettleOrder applies a terminal status to an order still PENDING.
func (store *Store) SettleOrder(ctx context.Context, orderID storefront.RecordID, settlement storefront.Settlement) error {
	evidence, err := encodeEvidence(settlement.Evidence)
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeSettle, err)
	}
	result := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("id = ? AND status = ?", orderID.Int64(), storefront.StatusPending.String()).
		Updates(map[string]any{
			"status":         settlement.Status.String(),
			"failure_reason": settlement.FailureReason,
			"evidence":       evidence,
			"settled_at":     settlement.SettledAt.UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeSettle, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectOrder, errorCodeSettle, storefront.ErrRecordSettled)
	}
	return nil
}

func (store *Store) ListOrders(ctx context.Context, filter storefront.RecordFilter) ([]storefront.Order, error) {
	var rows []Order
	if err := store.filtered(ctx, filter).Preload("Account").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	orders := make([]storefront.Order, 0, len(rows))
	for _, row := range rows {
		order, err := mapOrder(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (store *Store) CreateRental(ctx context.Context, rental storefront.Rental) (storefront.Rental, error) {
	row := Rental{
		ListingID:     rental.ListingID.Int64(),
		Buyer:         rental.Buyer.Int64(),
		WalletAddress: rental.WalletAddress,
		Blob:          rental.Blob,
		TxHash:        rental.TxHash,
		TxHashNorm:    rental.TxHashNorm,
		HashSource:    string(rental.HashSource),
		Period:        rental.Period.String(),
		TonAmountNano: rental.TonAmount.Int64(),
		Status:        rental.Status.String(),
		FailureReason: rental.FailureReason,
		CreatedAt:     rental.CreatedAt.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintRentalTxHash) {
		return storefront.Rental{}, wrapStoreError(errorSubjectRental, errorCodeDuplicate, storefront.ErrDuplicateTransaction)
	}
	if err != nil {
		return storefront.Rental{}, wrapStoreError(errorSubjectRental, errorCodeCreate, err)
	}
	created, err := mapRental(row)
	if err != nil {
		return storefront.Rental{}, wrapStoreError(errorSubjectRental, errorCodeInvalid, err)
	}
	return created, nil
}

func (store *Store) GetRental(ctx context.Context, rentalID storefront.RecordID) (storefront.Rental, error) {
	var row Rental
	if err := store.db.WithContext(ctx).Preload("Listing").Where("id = ?", rentalID.Int64()).Take(&row).Error; err != nil {
		return storefront.Rental{}, wrapStoreError(errorSubjectRental, errorCodeGet, notFound(err))
	}
	rental, err := mapRental(row)
	if err != nil {
		return storefront.Rental{}, wrapStoreError(errorSubjectRental, errorCodeInvalid, err)
	}
	return rental, nil
}

// SettleRental applies a terminal status and occupancy window to a rental still PENDING.
func (store *Store) SettleRental(ctx context.Context, rentalID storefront.RecordID, settlement storefront.Settlement) error {
	evidence, err := encodeEvidence(settlement.Evidence)
	if err != nil {
		return wrapStoreError(errorSubjectRental, errorCodeSettle, err)
	}
	result := store.db.WithContext(ctx).
		Model(&Rental{}).
		Where("id = ? AND status = ?", rentalID.Int64(), storefront.StatusPending.String()).
		Updates(map[string]any{
			"status":         settlement.Status.String(),
			"failure_reason": settlement.FailureReason,
			"evidence":       evidence,
			"settled_at":     settlement.SettledAt.UTC(),
			"starts_at":      utcPointer(settlement.StartsAt),
			"expires_at":     utcPointer(settlement.ExpiresAt),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectRental, errorCodeSettle, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRental, errorCodeSettle, storefront.ErrRecordSettled)
	}
	return nil
}

func (store *Store) ListRentals(ctx context.Context, filter storefront.RecordFilter) ([]storefront.Rental, error) {
	var rows []Rental
	if err := store.filtered(ctx, filter).Preload("Listing").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectRental, errorCodeList, err)
	}
	return mapRentals(rows)
}

func (store *Store) ListPendingRecordIDs(ctx context.Context, kind storefront.JobKind) ([]storefront.RecordID, error) {
	var model any
	switch kind {
	case storefront.JobKindOrder:
		model = &Order{}
	case storefront.JobKindRental:
		model = &Rental{}
	default:
		return nil, storefront.ErrInvalidJobKind
	}
	var ids []int64
	err := store.db.WithContext(ctx).
		Model(model).
		Where("status = ?", storefront.StatusPending.String()).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, wrapStoreError(string(kind), errorCodeList, err)
	}
	recordIDs := make([]storefront.RecordID, 0, len(ids))
	for _, id := range ids {
		recordIDs = append(recordIDs, storefront.RecordID(id))
	}
	return recordIDs, nil
}

func (store *Store) Stats(ctx context.Context) (storefront.Stats, error) {
	var stats storefront.Stats
	var revenue int64
	for _, target := range []struct {
		model  any
		counts *storefront.RecordCounts
	}{
		{model: &Order{}, counts: &stats.Orders},
		{model: &Rental{}, counts: &stats.Rentals},
	} {
		var row statsRow
		err := store.db.WithContext(ctx).
			Model(target.model).
			Select(
				"count(*) as total, "+
					"coalesce(sum(case when status = ? then 1 else 0 end),0) as confirmed, "+
					"coalesce(sum(case when status = ? then ton_amount_nano else 0 end),0) as revenue",
				storefront.StatusConfirmed.String(), storefront.StatusConfirmed.String(),
			).
			Scan(&row).Error
		if err != nil {
			return storefront.Stats{}, wrapStoreError(errorSubjectStats, errorCodeGet, err)
		}
		target.counts.Total = row.Total
		target.counts.Confirmed = row.Confirmed
		revenue += row.Revenue
	}
	stats.Revenue = storefront.NanoTON(revenue)
	return stats, nil
}

func (store *Store) CreateAdmin(ctx context.Context, telegramID storefront.TelegramID, createdAt time.Time) (storefront.Admin, error) {
	row := Admin{TelegramID: telegramID.Int64(), CreatedAt: createdAt.UTC()}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintAdminTelegram) {
		return storefront.Admin{}, wrapStoreError(errorSubjectAdmin, errorCodeDuplicate, storefront.ErrAdminExists)
	}
	if err != nil {
		return storefront.Admin{}, wrapStoreError(errorSubjectAdmin, errorCodeCreate, err)
	}
	return storefront.Admin{TelegramID: telegramID, CreatedAt: row.CreatedAt}, nil
}

func (store *Store) IsAdmin(ctx context.Context, telegramID storefront.TelegramID) (bool, error) {
	var count int64
	if err := store.db.WithContext(ctx).Model(&Admin{}).Where("telegram_id = ?", telegramID.Int64()).Count(&count).Error; err != nil {
		return false, wrapStoreError(errorSubjectAdmin, errorCodeGet, err)
	}
	return count > 0, nil
}

func (store *Store) filtered(ctx context.Context, filter storefront.RecordFilter) *gorm.DB {
	query := store.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status.String())
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	return query
}

func wrapStoreError(subject string, code string, err error) error {
	return storefront.WrapError(errorOperationStore, subject, code, err)
}

type statsRow struct {
	Total     int64
	Confirmed int64
	Revenue   int64
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storefront.ErrNotFound
	}
	return err
}

func encodeEvidence(evidence *storefront.SettlementEvidence) (datatypes.JSON, error) {
	if evidence == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(evidence)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(encoded), nil
}

func decodeEvidence(raw datatypes.JSON) (*storefront.SettlementEvidence, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var evidence storefront.SettlementEvidence
	if err := json.Unmarshal(raw, &evidence); err != nil {
		return nil, err
	}
	return &evidence, nil
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	converted := value.UTC()
	return &converted
}

// isUniqueViolation reports whether err is a uniqueness failure of constraint.
// Foreign key, check and not-null failures never match.
func isUniqueViolation(err error, constraint uniqueConstraint) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint.name
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code != sqliteConstraintUnique && code != sqliteConstraintPrimaryKey {
			return false
		}
		return strings.Contains(sqliteErr.Error(), constraint.column)
	}
	return false
}
