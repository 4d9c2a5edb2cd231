package telegramauth

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/MarkoPoloResearchLab/tonstore/pkg/storefront"
)

const (
	SchemeInitData = "tma"
	SchemeBearer   = "bearer"
)

// ErrMissingCredentials means no supported Authorization header was sent.
var ErrMissingCredentials = fmt.Errorf("%w: missing credentials", ErrUnauthenticated)

// Identity is an authenticated Telegram user.
type Identity struct {
	TelegramID storefront.TelegramID
	Username   string
	Scheme     string
}

// Authenticator resolves an Authorization header into an Identity.
type Authenticator struct {
	initData *InitDataValidator
	sessions *SessionIssuer
}

// NewAuthenticator combines initData validation with optional session tokens.
func NewAuthenticator(initData *InitDataValidator, sessions *SessionIssuer) (*Authenticator, error) {
	if initData == nil {
		return nil, fmt.Errorf("telegramauth: init data validator is required")
	}
	return &Authenticator{initData: initData, sessions: sessions}, nil
}

// Authenticate accepts "tma <initData>" and "Bearer <token>".
func (authenticator *Authenticator) Authenticate(header string) (Identity, error) {
	scheme, credentials, found := strings.Cut(strings.TrimSpace(header), " ")
	credentials = strings.TrimSpace(credentials)
	if !found || credentials == "" {
		return Identity{}, ErrMissingCredentials
	}
	switch strings.ToLower(scheme) {
	case SchemeInitData:
		data, err := authenticator.initData.Validate(decodeInitData(credentials))
		if err != nil {
			return Identity{}, err
		}
		return Identity{TelegramID: data.TelegramID(), Username: data.User.Username, Scheme: SchemeInitData}, nil
	case SchemeBearer:
		if authenticator.sessions == nil {
			return Identity{}, ErrMissingCredentials
		}
		telegramID, err := authenticator.sessions.Verify(credentials)
		if err != nil {
			return Identity{}, err
		}
		return Identity{TelegramID: telegramID, Scheme: SchemeBearer}, nil
	default:
		return Identity{}, ErrMissingCredentials
	}
}

// Sessions exposes the token issuer, nil when sessions are disabled.
func (authenticator *Authenticator) Sessions() *SessionIssuer {
	return authenticator.sessions
}

// Clients sometimes URL-encode the whole initData string once more.
func decodeInitData(raw string) string {
	if strings.ContainsAny(raw, "=&") {
		return raw
	}
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}
