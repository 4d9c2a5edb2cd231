// Package telegramauth authenticates Mini App users by Telegram initData or a session token.
package telegramauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tonstore/pkg/storefront"
)

const (
	webAppDataKey         = "WebAppData"
	DefaultInitDataMaxAge = time.Hour
	fieldHash             = "hash"
	fieldAuthDate         = "auth_date"
	fieldUser             = "user"
	fieldQueryID          = "query_id"
)

var (
	// ErrUnauthenticated covers every credential that cannot be trusted.
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrInvalidSignature  = fmt.Errorf("%w: init data signature mismatch", ErrUnauthenticated)
	ErrInitDataExpired   = fmt.Errorf("%w: init data expired", ErrUnauthenticated)
	ErrMalformedInitData = fmt.Errorf("%w: malformed init data", ErrUnauthenticated)
)

// User is the Telegram account carried in initData.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// InitData is a verified Mini App launch payload.
type InitData struct {
	User     User
	QueryID  string
	AuthDate time.Time
}

// InitDataValidator checks initData signatures with the bot token.
type InitDataValidator struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewInitDataValidator derives the signing secret from botToken.
func NewInitDataValidator(botToken string, maxAge time.Duration, now func() time.Time) (*InitDataValidator, error) {
	trimmed := strings.TrimSpace(botToken)
	if trimmed == "" {
		return nil, fmt.Errorf("telegramauth: bot token is required")
	}
	if maxAge <= 0 {
		maxAge = DefaultInitDataMaxAge
	}
	if now == nil {
		now = time.Now
	}
	return &InitDataValidator{secret: hmacSHA256([]byte(webAppDataKey), []byte(trimmed)), maxAge: maxAge, now: now}, nil
}

// Validate verifies the hash and freshness of raw initData.
func (validator *InitDataValidator) Validate(raw string) (InitData, error) {
	values, err := url.ParseQuery(strings.TrimSpace(raw))
	if err != nil {
		return InitData{}, ErrMalformedInitData
	}
	receivedHash := values.Get(fieldHash)
	if receivedHash == "" {
		return InitData{}, ErrMalformedInitData
	}
	received, err := hex.DecodeString(receivedHash)
	if err != nil {
		return InitData{}, ErrInvalidSignature
	}
	expected := hmacSHA256(validator.secret, []byte(DataCheckString(values)))
	if !hmac.Equal(expected, received) {
		return InitData{}, ErrInvalidSignature
	}

	authUnix, err := strconv.ParseInt(values.Get(fieldAuthDate), 10, 64)
	if err != nil {
		return InitData{}, ErrMalformedInitData
	}
	authDate := time.Unix(authUnix, 0).UTC()
	if validator.now().Sub(authDate) > validator.maxAge {
		return InitData{}, ErrInitDataExpired
	}

	var user User
	if err := json.Unmarshal([]byte(values.Get(fieldUser)), &user); err != nil || user.ID <= 0 {
		return InitData{}, ErrMalformedInitData
	}
	return InitData{User: user, QueryID: values.Get(fieldQueryID), AuthDate: authDate}, nil
}

// TelegramID returns the storefront identity of the initData user.
func (data InitData) TelegramID() storefront.TelegramID {
	return storefront.TelegramID(data.User.ID)
}

// DataCheckString joins every field except hash as sorted key=value lines.
func DataCheckString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if key == fieldHash {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, key+"="+values.Get(key))
	}
	return strings.Join(lines, "\n")
}

// Sign computes the hash Telegram would attach to values. Used by tests and tooling.
func Sign(botToken string, values url.Values) string {
	secret := hmacSHA256([]byte(webAppDataKey), []byte(strings.TrimSpace(botToken)))
	return hex.EncodeToString(hmacSHA256(secret, []byte(DataCheckString(values))))
}

func hmacSHA256(key []byte, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}
