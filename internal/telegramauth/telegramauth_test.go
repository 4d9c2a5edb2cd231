package telegramauth

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"
)

const (
	testBotToken      = "123456:TEST-TOKEN"
	testSessionSecret = "0123456789abcdef0123456789abcdef"
)

var testNow = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func signedInitData(t *testing.T, authDate time.Time, userJSON string) string {
	t.Helper()
	values := url.Values{}
	values.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	values.Set("query_id", "AAH")
	values.Set("user", userJSON)
	values.Set("hash", Sign(testBotToken, values))
	return values.Encode()
}

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	validator, err := NewInitDataValidator(testBotToken, time.Hour, func() time.Time { return testNow })
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	sessions, err := NewSessionIssuer(testSessionSecret, "", time.Hour, func() time.Time { return testNow })
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	authenticator, err := NewAuthenticator(validator, sessions)
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	return authenticator
}

func TestAuthenticateInitData(t *testing.T) {
	t.Parallel()
	authenticator := newTestAuthenticator(t)
	raw := signedInitData(t, testNow.Add(-time.Minute), `{"id":4242,"username":"buyer"}`)

	for _, header := range []string{"tma " + raw, "TMA " + raw, "tma " + url.QueryEscape(raw)} {
		identity, err := authenticator.Authenticate(header)
		if err != nil {
			t.Fatalf("authenticate %q: %v", header[:8], err)
		}
		if identity.TelegramID != 4242 || identity.Username != "buyer" || identity.Scheme != SchemeInitData {
			t.Fatalf("unexpected identity %+v", identity)
		}
	}
}

func TestAuthenticateRejectsTamperedOrStaleInitData(t *testing.T) {
	t.Parallel()
	authenticator := newTestAuthenticator(t)
	fresh := signedInitData(t, testNow.Add(-time.Minute), `{"id":4242}`)
	tampered := strings.Replace(fresh, "4242", "4243", 1)
	stale := signedInitData(t, testNow.Add(-2*time.Hour), `{"id":4242}`)
	noUser := signedInitData(t, testNow, `{}`)

	testCases := []struct {
		name     string
		header   string
		expected error
	}{
		{name: "tampered", header: "tma " + tampered, expected: ErrInvalidSignature},
		{name: "stale", header: "tma " + stale, expected: ErrInitDataExpired},
		{name: "no user", header: "tma " + noUser, expected: ErrMalformedInitData},
		{name: "no hash", header: "tma auth_date=1", expected: ErrMalformedInitData},
		{name: "empty", header: "", expected: ErrMissingCredentials},
		{name: "unknown scheme", header: "Basic abc", expected: ErrMissingCredentials},
	}
	for _, testCase := range testCases {
		_, err := authenticator.Authenticate(testCase.header)
		if !errors.Is(err, testCase.expected) {
			t.Fatalf("%s: expected %v, got %v", testCase.name, testCase.expected, err)
		}
		if !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("%s: expected unauthenticated root, got %v", testCase.name, err)
		}
	}
}

func TestSessionTokenRoundTrip(t *testing.T) {
	t.Parallel()
	authenticator := newTestAuthenticator(t)
	token, expiresAt, err := authenticator.Sessions().Issue(4242)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !expiresAt.Equal(testNow.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}
	identity, err := authenticator.Authenticate("Bearer " + token)
	if err != nil || identity.TelegramID != 4242 || identity.Scheme != SchemeBearer {
		t.Fatalf("unexpected identity %+v (%v)", identity, err)
	}
	if _, err := authenticator.Authenticate("Bearer " + token + "x"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected invalid session, got %v", err)
	}
}

func TestSessionTokenExpires(t *testing.T) {
	t.Parallel()
	current := testNow
	sessions, err := NewSessionIssuer(testSessionSecret, "tonstore", time.Minute, func() time.Time { return current })
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	token, _, err := sessions.Issue(7)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	current = testNow.Add(2 * time.Minute)
	if _, err := sessions.Verify(token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
	other, _ := NewSessionIssuer(testSessionSecret, "someone-else", time.Minute, func() time.Time { return testNow })
	current = testNow
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected issuer mismatch to fail, got %v", err)
	}
}

func TestConstructorsValidateSecrets(t *testing.T) {
	t.Parallel()
	if _, err := NewInitDataValidator(" ", 0, nil); err == nil {
		t.Fatalf("expected bot token error")
	}
	if _, err := NewSessionIssuer("short", "", 0, nil); err == nil {
		t.Fatalf("expected short secret error")
	}
	if _, err := NewAuthenticator(nil, nil); err == nil {
		t.Fatalf("expected validator error")
	}
}

func TestDataCheckStringSortsAndSkipsHash(t *testing.T) {
	t.Parallel()
	values := url.Values{"b": {"2"}, "a": {"1"}, "hash": {"x"}}
	if got := DataCheckString(values); got != "a=1\nb=2" {
		t.Fatalf("unexpected data check string %q", got)
	}
}
