package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// Account represents the accounts table.
type Account struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	Country     string    `gorm:"not null"`
	CountryCode string    `gorm:"size:8;not null"`
	Flag        string    `gorm:"not null;default:''"`
	Quantity    int64     `gorm:"not null;default:0;check:chk_accounts_quantity,quantity >= 0"`
	PriceNano   int64     `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// UsernameListing mirrors the username_listings table.
type UsernameListing struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	Handle         string    `gorm:"size:64;not null;uniqueIndex:uniq_username_listings_handle"`
	PriceDayNano   int64     `gorm:"not null"`
	PriceWeekNano  int64     `gorm:"not null"`
	PriceMonthNano int64     `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (UsernameListing) TableName() string { return "username_listings" }

// Order mirrors the orders table.
type Order struct {
	ID            int64          `gorm:"primaryKey;autoIncrement"`
	AccountID     int64          `gorm:"not null;index:idx_orders_account"`
	Buyer         int64          `gorm:"not null;index:idx_orders_buyer"`
	WalletAddress string         `gorm:"size:128;not null"`
	Blob          string         `gorm:"type:text;not null"`
	TxHash        string         `gorm:"size:128;not null;uniqueIndex:uniq_orders_tx_hash"`
	TxHashNorm    string         `gorm:"size:128;not null;default:''"`
	HashSource    string         `gorm:"size:16;not null"`
	TonAmountNano int64          `gorm:"not null"`
	Status        string         `gorm:"size:16;not null;index:idx_orders_status"`
	FailureReason string         `gorm:"size:64;not null;default:''"`
	Evidence      datatypes.JSON `gorm:""`
	CreatedAt     time.Time      `gorm:"not null;index:idx_orders_created"`
	UpdatedAt     time.Time      `gorm:"not null"`
	SettledAt     *time.Time     `gorm:""`
	Account       *Account       `gorm:"foreignKey:AccountID;constraint:OnDelete:RESTRICT"`
}

func (Order) TableName() string { return "orders" }

// Rental mirrors the rentals table.
type Rental struct {
	ID            int64            `gorm:"primaryKey;autoIncrement"`
	ListingID     int64            `gorm:"not null;index:idx_rentals_listing_expiry,priority:1"`
	Buyer         int64            `gorm:"not null;index:idx_rentals_buyer"`
	WalletAddress string           `gorm:"size:128;not null"`
	Blob          string           `gorm:"type:text;not null"`
	TxHash        string           `gorm:"size:128;not null;uniqueIndex:uniq_rentals_tx_hash"`
	TxHashNorm    string           `gorm:"size:128;not null;default:''"`
	HashSource    string           `gorm:"size:16;not null"`
	Period        string           `gorm:"size:8;not null"`
	TonAmountNano int64            `gorm:"not null"`
	Status        string           `gorm:"size:16;not null;index:idx_rentals_status"`
	FailureReason string           `gorm:"size:64;not null;default:''"`
	Evidence      datatypes.JSON   `gorm:""`
	StartsAt      *time.Time       `gorm:""`
	ExpiresAt     *time.Time       `gorm:"index:idx_rentals_listing_expiry,priority:2"`
	CreatedAt     time.Time        `gorm:"not null;index:idx_rentals_created"`
	UpdatedAt     time.Time        `gorm:"not null"`
	SettledAt     *time.Time       `gorm:""`
	Listing       *UsernameListing `gorm:"foreignKey:ListingID;constraint:OnDelete:RESTRICT"`
}

func (Rental) TableName() string { return "rentals" }

// TransactionClaim reserves a transaction hash across orders and rentals.
type TransactionClaim struct {
	TxHash    string    `gorm:"size:128;primaryKey"`
	Kind      string    `gorm:"size:16;not null"`
	RecordID  int64     `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (TransactionClaim) TableName() string { return "transaction_claims" }

// LedgerClaim binds an observed ledger transaction to the one record it confirmed.
type LedgerClaim struct {
	LedgerHash string    `gorm:"size:128;primaryKey"`
	Kind       string    `gorm:"size:16;not null"`
	RecordID   int64     `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (LedgerClaim) TableName() string { return "ledger_claims" }

// Admin mirrors the admins table.
type Admin struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	TelegramID int64     `gorm:"not null;uniqueIndex:uniq_admins_telegram_id"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (Admin) TableName() string { return "admins" }

func allModels() []any {
	return []any{&Account{}, &UsernameListing{}, &Order{}, &Rental{}, &TransactionClaim{}, &LedgerClaim{}, &Admin{}}
}
