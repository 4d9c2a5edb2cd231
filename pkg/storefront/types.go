package storefront

import (
	"encoding/base64"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NanoPerTON is the number of nanoTON in one TON.
const NanoPerTON int64 = 1_000_000_000

const (
	tonDecimalPlaces     = 9
	maxWalletAddressSize = 128
	handlePrefix         = "@"
)

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,32}$`)

// NanoTON is a settlement amount in integer minor units.
type NanoTON int64

// NewNanoTON validates a strictly positive amount.
func NewNanoTON(raw int64) (NanoTON, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return NanoTON(raw), nil
}

// ParseTON converts a decimal TON string ("5", "5.25") into nanoTON without rounding.
func ParseTON(raw string) (NanoTON, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a decimal", ErrInvalidAmount, raw)
	}
	shifted := value.Shift(tonDecimalPlaces)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, tonDecimalPlaces)
	}
	if shifted.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	return NewNanoTON(shifted.IntPart())
}

// Int64 exposes the raw nanoTON value.
func (amount NanoTON) Int64() int64 {
	return int64(amount)
}

// TON renders the amount as a display string in whole TON units.
func (amount NanoTON) TON() string {
	return decimal.New(int64(amount), -tonDecimalPlaces).String()
}

// TelegramID identifies a Telegram user.
type TelegramID int64

// NewTelegramID validates a Telegram user id.
func NewTelegramID(raw int64) (TelegramID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidTelegramID)
	}
	return TelegramID(raw), nil
}

// ParseTelegramID parses a decimal Telegram user id.
func ParseTelegramID(raw string) (TelegramID, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTelegramID, raw)
	}
	return NewTelegramID(parsed)
}

// Int64 exposes the raw id.
func (id TelegramID) Int64() int64 {
	return int64(id)
}

// String renders the id in decimal.
func (id TelegramID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// RecordID identifies a persisted account, listing, order or rental.
type RecordID int64

// NewRecordID validates a positive record id.
func NewRecordID(raw int64) (RecordID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidRecordID)
	}
	return RecordID(raw), nil
}

// ParseRecordID parses a decimal record id, typically from a URL path.
func ParseRecordID(raw string) (RecordID, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRecordID, raw)
	}
	return NewRecordID(parsed)
}

// Int64 exposes the raw id.
func (id RecordID) Int64() int64 {
	return int64(id)
}

// Status is the settlement lifecycle of an order or rental.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
)

// ParseStatus validates a status string.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, nil
	case StatusConfirmed:
		return StatusConfirmed, nil
	case StatusFailed:
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// IsTerminal reports whether no further transition is allowed.
func (status Status) IsTerminal() bool {
	return status == StatusConfirmed || status == StatusFailed
}

func (status Status) String() string {
	return string(status)
}

// Period is a rental duration.
type Period string

const (
	PeriodDay   Period = "DAY"
	PeriodWeek  Period = "WEEK"
	PeriodMonth Period = "MONTH"
)

// ParsePeriod validates a rental period.
func ParsePeriod(raw string) (Period, error) {
	switch Period(strings.ToUpper(strings.TrimSpace(raw))) {
	case PeriodDay:
		return PeriodDay, nil
	case PeriodWeek:
		return PeriodWeek, nil
	case PeriodMonth:
		return PeriodMonth, nil
	default:
		return "", fmt.Errorf("%w: must be DAY, WEEK, or MONTH", ErrInvalidPeriod)
	}
}

// Duration returns the occupancy window of the period.
func (period Period) Duration() time.Duration {
	switch period {
	case PeriodDay:
		return 86400 * time.Second
	case PeriodWeek:
		return 604800 * time.Second
	case PeriodMonth:
		return 2592000 * time.Second
	default:
		return 0
	}
}

func (period Period) String() string {
	return string(period)
}

// HashSource tells whether a transaction hash came from the ledger or was derived locally.
type HashSource string

const (
	HashSourceLedger  HashSource = "ledger"
	HashSourceDerived HashSource = "derived"
)

// WalletAddress is the buyer's sending wallet.
type WalletAddress struct {
	value string
}

// NewWalletAddress validates and trims a wallet address.
func NewWalletAddress(raw string) (WalletAddress, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return WalletAddress{}, fmt.Errorf("%w: empty value", ErrInvalidWalletAddress)
	}
	if len(trimmed) > maxWalletAddressSize || strings.ContainsAny(trimmed, " \t\r\n") {
		return WalletAddress{}, fmt.Errorf("%w: malformed value", ErrInvalidWalletAddress)
	}
	return WalletAddress{value: trimmed}, nil
}

func (address WalletAddress) String() string {
	return address.value
}

// IsZero reports whether the address was never set.
func (address WalletAddress) IsZero() bool {
	return address.value == ""
}

// TransactionBlob is a base64-encoded signed message (BOC).
type TransactionBlob struct {
	value string
	raw   []byte
}

// NewTransactionBlob validates a base64 BOC.
func NewTransactionBlob(encoded string) (TransactionBlob, error) {
	trimmed := strings.TrimSpace(encoded)
	if trimmed == "" {
		return TransactionBlob{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionBlob)
	}
	decoded, err := decodeBase64(trimmed)
	if err != nil || len(decoded) == 0 {
		return TransactionBlob{}, fmt.Errorf("%w: not base64", ErrInvalidTransactionBlob)
	}
	return TransactionBlob{value: trimmed, raw: decoded}, nil
}

// String returns the encoded blob as submitted.
func (blob TransactionBlob) String() string {
	return blob.value
}

// Bytes returns the decoded blob.
func (blob TransactionBlob) Bytes() []byte {
	return blob.raw
}

// IsZero reports whether the blob was never set.
func (blob TransactionBlob) IsZero() bool {
	return blob.value == ""
}

func decodeBase64(encoded string) ([]byte, error) {
	for _, encoding := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		decoded, err := encoding.DecodeString(encoded)
		if err == nil {
			return decoded, nil
		}
	}
	return nil, fmt.Errorf("decode base64")
}

// Handle is a normalised Telegram username, always prefixed with "@".
type Handle struct {
	value string
}

// NewHandle normalises a username and prefixes it with "@".
func NewHandle(raw string) (Handle, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), handlePrefix)
	if !handlePattern.MatchString(trimmed) {
		return Handle{}, fmt.Errorf("%w: %q", ErrInvalidHandle, raw)
	}
	return Handle{value: handlePrefix + trimmed}, nil
}

func (handle Handle) String() string {
	return handle.value
}

// Account is a stock of identical purchasable accounts for one country.
type Account struct {
	ID          RecordID
	Country     string
	CountryCode string
	Flag        string
	Quantity    int64
	Price       NanoTON
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AccountInput carries admin-editable account fields.
type AccountInput struct {
	Country     string
	CountryCode string
	Flag        string
	Quantity    int64
	Price       NanoTON
	// QuantityBase is the stock the editor saw. When set, an update moves the
	// stored quantity by Quantity-QuantityBase instead of overwriting it, so
	// units confirmed in between stay sold. Without it the update is an
	// explicit absolute restock.
	QuantityBase *int64
}

// NewAccountInput validates admin-provided account fields.
func NewAccountInput(country string, countryCode string, flag string, quantity int64, price NanoTON) (AccountInput, error) {
	input := AccountInput{
		Country:     strings.TrimSpace(country),
		CountryCode: strings.ToUpper(strings.TrimSpace(countryCode)),
		Flag:        strings.TrimSpace(flag),
		Quantity:    quantity,
		Price:       price,
	}
	if input.Country == "" || input.CountryCode == "" {
		return AccountInput{}, fmt.Errorf("%w: country and code are required", ErrInvalidCountry)
	}
	if quantity < 0 {
		return AccountInput{}, fmt.Errorf("%w: must not be negative", ErrInvalidQuantity)
	}
	if price <= 0 {
		return AccountInput{}, fmt.Errorf("%w: price must be greater than zero", ErrInvalidAmount)
	}
	return input, nil
}

// WithQuantityBase returns a copy of input that applies its quantity as a delta from base.
func (input AccountInput) WithQuantityBase(base int64) (AccountInput, error) {
	if base < 0 {
		return AccountInput{}, fmt.Errorf("%w: base must not be negative", ErrInvalidQuantity)
	}
	input.QuantityBase = &base
	return input, nil
}

// UsernameListing is a rentable handle with per-period prices.
type UsernameListing struct {
	ID         RecordID
	Handle     string
	PriceDay   NanoTON
	PriceWeek  NanoTON
	PriceMonth NanoTON
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PriceFor returns the listing price for a rental period.
func (listing UsernameListing) PriceFor(period Period) (NanoTON, error) {
	switch period {
	case PeriodDay:
		return listing.PriceDay, nil
	case PeriodWeek:
		return listing.PriceWeek, nil
	case PeriodMonth:
		return listing.PriceMonth, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
}

// ListingInput carries admin-editable listing fields.
type ListingInput struct {
	Handle     Handle
	PriceDay   NanoTON
	PriceWeek  NanoTON
	PriceMonth NanoTON
}

// NewListingInput validates admin-provided listing fields.
func NewListingInput(handle Handle, priceDay NanoTON, priceWeek NanoTON, priceMonth NanoTON) (ListingInput, error) {
	if handle.value == "" {
		return ListingInput{}, fmt.Errorf("%w: empty value", ErrInvalidHandle)
	}
	if priceDay <= 0 || priceWeek <= 0 || priceMonth <= 0 {
		return ListingInput{}, fmt.Errorf("%w: prices must be greater than zero", ErrInvalidAmount)
	}
	return ListingInput{Handle: handle, PriceDay: priceDay, PriceWeek: priceWeek, PriceMonth: priceMonth}, nil
}

// SettlementEvidence snapshots the ledger transaction that settled a record.
type SettlementEvidence struct {
	TransactionHash string    `json:"transactionHash"`
	MessageHash     string    `json:"messageHash,omitempty"`
	Value           NanoTON   `json:"valueNano"`
	Counterparty    string    `json:"counterparty"`
	ObservedAt      time.Time `json:"observedAt"`
	Attempts        int       `json:"attempts"`
}

// Order is the purchase of one account unit.
type Order struct {
	ID            RecordID
	AccountID     RecordID
	Buyer         TelegramID
	WalletAddress string
	Blob          string
	TxHash        string
	TxHashNorm    string
	HashSource    HashSource
	TonAmount     NanoTON
	Status        Status
	FailureReason string
	Evidence      *SettlementEvidence
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SettledAt     *time.Time
	Account       *Account
}

// Rental is the lease of a username listing for one period.
type Rental struct {
	ID            RecordID
	ListingID     RecordID
	Buyer         TelegramID
	WalletAddress string
	Blob          string
	TxHash        string
	TxHashNorm    string
	HashSource    HashSource
	Period        Period
	TonAmount     NanoTON
	Status        Status
	FailureReason string
	Evidence      *SettlementEvidence
	StartsAt      *time.Time
	ExpiresAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SettledAt     *time.Time
	Listing       *UsernameListing
}

// ListingView is a listing with its derived occupancy.
type ListingView struct {
	Listing       UsernameListing
	Occupied      bool
	CurrentRental *Rental
}

// Admin grants access to the admin surface.
type Admin struct {
	TelegramID TelegramID
	CreatedAt  time.Time
}

// RecordCounts summarises one record kind.
type RecordCounts struct {
	Total     int64
	Confirmed int64
}

// Stats aggregates admin dashboard figures.
type Stats struct {
	Orders  RecordCounts
	Rentals RecordCounts
	Revenue NanoTON
}

// RecordFilter narrows admin record listings.
type RecordFilter struct {
	Status Status
	Limit  int
}

// Settlement is the terminal write applied to a PENDING order or rental.
type Settlement struct {
	Status        Status
	FailureReason string
	Evidence      *SettlementEvidence
	SettledAt     time.Time
	StartsAt      *time.Time
	ExpiresAt     *time.Time
}
