package telegramauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tonstore/pkg/storefront"
	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	DefaultSessionTTL    = 24 * time.Hour
	DefaultSessionIssuer = "tonstore"
	minimumSecretLength  = 32
)

// ErrInvalidSession means the bearer token failed verification.
var ErrInvalidSession = fmt.Errorf("%w: invalid session token", ErrUnauthenticated)

// SessionIssuer signs and verifies HS256 session tokens.
type SessionIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionIssuer validates the signing secret.
func NewSessionIssuer(secret string, issuer string, ttl time.Duration, now func() time.Time) (*SessionIssuer, error) {
	trimmed := strings.TrimSpace(secret)
	if len(trimmed) < minimumSecretLength {
		return nil, fmt.Errorf("telegramauth: session secret must be at least %d characters", minimumSecretLength)
	}
	if strings.TrimSpace(issuer) == "" {
		issuer = DefaultSessionIssuer
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if now == nil {
		now = time.Now
	}
	return &SessionIssuer{secret: []byte(trimmed), issuer: strings.TrimSpace(issuer), ttl: ttl, now: now}, nil
}

// Issue returns a signed token for telegramID and its expiry.
func (issuer *SessionIssuer) Issue(telegramID storefront.TelegramID) (string, time.Time, error) {
	issuedAt := issuer.now().UTC()
	expiresAt := issuedAt.Add(issuer.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    issuer.issuer,
		Subject:   telegramID.String(),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		NotBefore: jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(issuer.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify parses a token and returns its subject.
func (issuer *SessionIssuer) Verify(token string) (storefront.TelegramID, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return issuer.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(issuer.now),
	)
	if err != nil || !parsed.Valid {
		return 0, ErrInvalidSession
	}
	telegramID, err := storefront.ParseTelegramID(claims.Subject)
	if err != nil {
		return 0, ErrInvalidSession
	}
	return telegramID, nil
}
