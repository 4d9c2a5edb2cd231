package settlement

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/tonstore/internal/toncenter"
	"github.com/MarkoPoloResearchLab/tonstore/pkg/storefront"
	"github.com/stretchr/testify/require"
)

const merchantAddress = "0:1111111111111111111111111111111111111111111111111111111111111111"

var buyerRaw = "0:" + strings.Repeat("ab", 32)

type pollResult struct {
	transactions []toncenter.Transaction
	err          error
}

type scriptedSource struct {
	mu      sync.Mutex
	results []pollResult
	calls   int
	address string
	limit   int
}

func (source *scriptedSource) FetchRecentTransactions(_ context.Context, address string, limit int) ([]toncenter.Transaction, error) {
	source.mu.Lock()
	defer source.mu.Unlock()
	source.address = address
	source.limit = limit
	index := source.calls
	source.calls++
	if index >= len(source.results) {
		return nil, nil
	}
	return source.results[index].transactions, source.results[index].err
}

type countingRecorder struct {
	mu       sync.Mutex
	polls    map[string]int
	verdicts map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{polls: map[string]int{}, verdicts: map[string]int{}}
}

func (recorder *countingRecorder) ObservePoll(result string) {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	recorder.polls[result]++
}

func (recorder *countingRecorder) ObserveVerdict(outcome string) {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	recorder.verdicts[outcome]++
}

type claimSet struct {
	mu      sync.Mutex
	claimed map[string]bool
	err     error
	lookups int
}

func (claims *claimSet) IsLedgerTransactionClaimed(_ context.Context, ledgerHash string) (bool, error) {
	claims.mu.Lock()
	defer claims.mu.Unlock()
	claims.lookups++
	return claims.claimed[ledgerHash], claims.err
}

func noWait(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func newTestVerifier(t *testing.T, source TransactionSource, options ...Option) *Verifier {
	t.Helper()
	verifier, err := New(source, append([]Option{WithWaitFunc(noWait), WithAttempts(3)}, options...)...)
	require.NoError(t, err)
	return verifier
}

func hashExpectation(amount storefront.NanoTON) storefront.SettlementExpectation {
	return storefront.SettlementExpectation{
		TransactionHash: "H1",
		HashSource:      storefront.HashSourceLedger,
		Destination:     merchantAddress,
		Sender:          buyerRaw,
		Amount:          amount,
	}
}

func TestWithinTolerance(t *testing.T) {
	expected := storefront.NanoTON(10_000_000_000)
	require.True(t, WithinTolerance(expected, 10_050_000_000, 100))
	require.False(t, WithinTolerance(expected, 10_500_000_000, 100))
	require.True(t, WithinTolerance(expected, 9_900_000_000, 100))
	require.False(t, WithinTolerance(expected, 9_899_999_999, 100))
	require.True(t, WithinTolerance(expected, expected, 0))
	require.False(t, WithinTolerance(expected, expected+1, 0))
}

func TestParseTolerancePercent(t *testing.T) {
	for raw, expected := range map[string]int64{"2": 200, "0.5": 50, " 1 ": 100, "0": 0, "100": 10000} {
		basisPoints, err := ParseTolerancePercent(raw)
		require.NoError(t, err, raw)
		require.Equal(t, expected, basisPoints, raw)
	}
	for _, raw := range []string{"", "-1", "101", "0.001", "two"} {
		_, err := ParseTolerancePercent(raw)
		require.ErrorIs(t, err, ErrInvalidTolerance, raw)
	}
}

func TestVerifyMatchesHashWithinTolerance(t *testing.T) {
	source := &scriptedSource{results: []pollResult{
		{},
		{transactions: []toncenter.Transaction{
			{Hash: "OTHER", Value: 10_050_000_000},
			{Hash: "TX", MessageHash: "H1", Value: 10_050_000_000, Counterparty: buyerRaw},
		}},
	}}
	recorder := newCountingRecorder()
	verifier := newTestVerifier(t, source, WithToleranceBasisPoints(100), WithRecorder(recorder), WithFetchLimit(25))

	verdict, err := verifier.Verify(context.Background(), hashExpectation(10_000_000_000))
	require.NoError(t, err)
	require.True(t, verdict.Verified)
	require.Equal(t, 2, verdict.Attempts)
	require.NotNil(t, verdict.Evidence)
	require.Equal(t, "TX", verdict.Evidence.TransactionHash)
	require.Equal(t, storefront.NanoTON(10_050_000_000), verdict.Evidence.Value)
	require.Equal(t, 2, source.calls)
	require.Equal(t, merchantAddress, source.address)
	require.Equal(t, 25, source.limit)
	require.Equal(t, 1, recorder.verdicts[VerdictVerified])
	require.Equal(t, 2, recorder.polls[PollResultOK])
}

func TestVerifyRejectsAmountOutsideTolerance(t *testing.T) {
	mismatched := pollResult{transactions: []toncenter.Transaction{{Hash: "H1", Value: 10_500_000_000}}}
	source := &scriptedSource{results: []pollResult{mismatched, mismatched, mismatched}}
	recorder := newCountingRecorder()
	verifier := newTestVerifier(t, source, WithToleranceBasisPoints(100), WithRecorder(recorder))

	verdict, err := verifier.Verify(context.Background(), hashExpectation(10_000_000_000))
	require.NoError(t, err)
	require.False(t, verdict.Verified)
	require.Nil(t, verdict.Evidence)
	require.Equal(t, 3, verdict.Attempts)
	require.Equal(t, 3, source.calls)
	require.Equal(t, 1, recorder.verdicts[VerdictUnverified])
}

func TestVerifySkipsUnavailablePolls(t *testing.T) {
	source := &scriptedSource{results: []pollResult{
		{err: toncenter.ErrLedgerUnavailable},
		{err: toncenter.ErrLedgerUnavailable},
		{transactions: []toncenter.Transaction{{Hash: "H1", Value: 5_000_000_000}}},
	}}
	recorder := newCountingRecorder()
	verifier := newTestVerifier(t, source, WithRecorder(recorder))

	verdict, err := verifier.Verify(context.Background(), hashExpectation(5_000_000_000))
	require.NoError(t, err)
	require.True(t, verdict.Verified)
	require.Equal(t, 3, verdict.Attempts)
	require.Equal(t, 2, recorder.polls[PollResultUnavailable])
}

func TestVerifyAddressModeUsesSenderAndWindow(t *testing.T) {
	notBefore := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	source := &scriptedSource{results: []pollResult{{transactions: []toncenter.Transaction{
		{Hash: "OLD", Value: 5_000_000_000, Counterparty: buyerRaw, Timestamp: notBefore.Add(-time.Second)},
		{Hash: "STRANGER", Value: 5_000_000_000, Counterparty: merchantAddress, Timestamp: notBefore.Add(time.Minute)},
		{Hash: "MATCH", Value: 5_000_000_000, Counterparty: buyerRaw, Timestamp: notBefore.Add(time.Minute)},
	}}}}
	verifier := newTestVerifier(t, source)

	verdict, err := verifier.Verify(context.Background(), storefront.SettlementExpectation{
		TransactionHash: "derived",
		HashSource:      storefront.HashSourceDerived,
		Destination:     merchantAddress,
		Sender:          strings.ToUpper(buyerRaw),
		Amount:          5_000_000_000,
		NotBefore:       notBefore,
	})
	require.NoError(t, err)
	require.True(t, verdict.Verified)
	require.Equal(t, "MATCH", verdict.Evidence.TransactionHash)
}

func TestVerifyReturnsContextErrorWhenInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &scriptedSource{}
	verifier := newTestVerifier(t, source, WithWaitFunc(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := verifier.Verify(ctx, hashExpectation(5_000_000_000))
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, 0, source.calls)
}

func TestVerifyRejectsIncompleteExpectation(t *testing.T) {
	verifier := newTestVerifier(t, &scriptedSource{})
	_, err := verifier.Verify(context.Background(), storefront.SettlementExpectation{HashSource: storefront.HashSourceDerived, Destination: merchantAddress, Amount: 1})
	require.ErrorIs(t, err, storefront.ErrInvalidWalletAddress)
	_, err = verifier.Verify(context.Background(), storefront.SettlementExpectation{TransactionHash: "H1", Destination: merchantAddress})
	require.ErrorIs(t, err, storefront.ErrInvalidAmount)
}

func TestNormalizeAddress(t *testing.T) {
	require.Equal(t, buyerRaw, NormalizeAddress(" "+strings.ToUpper(buyerRaw)+" "))
	require.Equal(t, "not-an-address", NormalizeAddress("not-an-address"))
}

func TestNewRequiresSource(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestVerifyMatchesNormalizedHash(t *testing.T) {
	source := &scriptedSource{results: []pollResult{{transactions: []toncenter.Transaction{
		{Hash: "TX", MessageHash: "H1N", Value: 5_000_000_000},
	}}}}
	verifier := newTestVerifier(t, source)
	expectation := hashExpectation(5_000_000_000)
	expectation.NormalizedHash = "H1N"

	verdict, err := verifier.Verify(context.Background(), expectation)
	require.NoError(t, err)
	require.True(t, verdict.Verified)
	require.Equal(t, "TX", verdict.Evidence.TransactionHash)
}

func TestVerifyPrefersHashMatchOverSenderMatch(t *testing.T) {
	source := &scriptedSource{results: []pollResult{{transactions: []toncenter.Transaction{
		{Hash: "SENDER", Value: 5_000_000_000, Counterparty: buyerRaw},
		{Hash: "HASHED", MessageHash: "H1", Value: 5_000_000_000, Counterparty: buyerRaw},
	}}}}
	verifier := newTestVerifier(t, source)

	verdict, err := verifier.Verify(context.Background(), hashExpectation(5_000_000_000))
	require.NoError(t, err)
	require.Equal(t, "HASHED", verdict.Evidence.TransactionHash)
}

func TestVerifyPassesOverClaimedPayments(t *testing.T) {
	notBefore := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	payments := []toncenter.Transaction{
		{Hash: "LEDGER-TX-2", Value: 5_000_000_000, Counterparty: buyerRaw, Timestamp: notBefore.Add(2 * time.Minute)},
		{Hash: "LEDGER-TX-1", Value: 5_000_000_000, Counterparty: buyerRaw, Timestamp: notBefore.Add(time.Minute)},
	}
	expectation := storefront.SettlementExpectation{
		TransactionHash: "derived",
		HashSource:      storefront.HashSourceDerived,
		Destination:     merchantAddress,
		Sender:          buyerRaw,
		Amount:          5_000_000_000,
		NotBefore:       notBefore,
	}

	t.Run("next unclaimed payment", func(t *testing.T) {
		claims := &claimSet{claimed: map[string]bool{"LEDGER-TX-2": true}}
		verifier := newTestVerifier(t, &scriptedSource{results: []pollResult{{transactions: payments}}}, WithClaimLookup(claims))
		verdict, err := verifier.Verify(context.Background(), expectation)
		require.NoError(t, err)
		require.True(t, verdict.Verified)
		require.Equal(t, "LEDGER-TX-1", verdict.Evidence.TransactionHash)
	})

	t.Run("every payment claimed", func(t *testing.T) {
		claims := &claimSet{claimed: map[string]bool{"LEDGER-TX-1": true, "LEDGER-TX-2": true}}
		poll := pollResult{transactions: payments}
		source := &scriptedSource{results: []pollResult{poll, poll, poll}}
		verifier := newTestVerifier(t, source, WithClaimLookup(claims))
		verdict, err := verifier.Verify(context.Background(), expectation)
		require.NoError(t, err)
		require.False(t, verdict.Verified)
		require.Equal(t, 3, source.calls)
		require.Equal(t, 6, claims.lookups)
	})

	t.Run("lookup failure counts as an unavailable poll", func(t *testing.T) {
		claims := &claimSet{err: errors.New("database is locked")}
		recorder := newCountingRecorder()
		poll := pollResult{transactions: payments}
		verifier := newTestVerifier(t, &scriptedSource{results: []pollResult{poll, poll, poll}}, WithClaimLookup(claims), WithRecorder(recorder))
		verdict, err := verifier.Verify(context.Background(), expectation)
		require.NoError(t, err)
		require.False(t, verdict.Verified)
		require.Equal(t, 3, recorder.polls[PollResultUnavailable])
	})
}

// The ledger reports the merchant-side transaction: its in_msg hash is the
// internal message, not the external message hash returned on broadcast.
const (
	toncenterSendBocBody  = `{"ok":true,"result":{"@type":"ext.message.info","hash":"p+fi9ZsSi9sKpg9W9SEe/v34O5KZS49KXS4YEmoKFN4=","hash_norm":"U2mLQ0GJAoAiIE9UM5c275SwBvQnUzgSvG15UPUWBPw="}}`
	toncenterTransactions = `{"ok":true,"result":[
		{"@type":"raw.transaction","address":{"@type":"accountAddress","account_address":"EQAREREREREREREREREREREREREREREREREREREREREREeYT"},
		 "utime":1740830460,"data":"te6cckEC...","transaction_id":{"@type":"internal.transactionId","lt":"53910420000001","hash":"G1ucyz6NAGpSMN6b2iP/ke3HlNT1ZBBWCDC0GFKORGw="},
		 "fee":"123651","storage_fee":"51","other_fee":"123600",
		 "in_msg":{"@type":"raw.message","hash":"O+0ss6Os97ao70CEIMxoLVUg4ml201QlT1KMllYSBU8=","source":"UQCrq6urq6urq6urq6urq6urq6urq6urq6urq6urq6urq5jh","destination":"EQAREREREREREREREREREREREREREREREREREREREREREeYT","value":"5000000000","extra_currencies":[],"fwd_fee":"266669","ihr_fee":"0","created_lt":"53910419000002","body_hash":"lqKW0iTyhcZ77pPDD4owkVfw2qNdxbh+QQt4YwoJz8c=","msg_data":{"@type":"msg.dataText","text":""},"message":""},
		 "out_msgs":[]},
		{"@type":"raw.transaction","address":{"@type":"accountAddress","account_address":"EQAREREREREREREREREREREREREREREREREREREREREREeYT"},
		 "utime":1740830100,"data":"te6cckEC...","transaction_id":{"@type":"internal.transactionId","lt":"53910400000001","hash":"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="},
		 "fee":"0","storage_fee":"0","other_fee":"0",
		 "in_msg":{"@type":"raw.message","hash":"BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBA=","source":"","destination":"","value":"0","extra_currencies":[],"fwd_fee":"0","ihr_fee":"0","created_lt":"0","body_hash":"","msg_data":{"@type":"msg.dataRaw","body":"","init_state":""},"message":""},
		 "out_msgs":[]}
	]}`
)

func TestVerifySettlesRealLedgerPaymentWithBroadcastHash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "sendBocReturnHash") {
			_, _ = w.Write([]byte(toncenterSendBocBody))
			return
		}
		_, _ = w.Write([]byte(toncenterTransactions))
	}))
	t.Cleanup(server.Close)
	client, err := toncenter.NewClient(toncenter.Config{BaseURL: server.URL, BroadcastTimeout: time.Second, FetchTimeout: time.Second})
	require.NoError(t, err)
	blob, err := storefront.NewTransactionBlob("te6ccgEBAQEAAgAAAA==")
	require.NoError(t, err)
	receipt, err := client.Broadcast(context.Background(), blob)
	require.NoError(t, err)
	require.Equal(t, storefront.HashSourceLedger, receipt.Source)

	claims := &claimSet{claimed: map[string]bool{}}
	verifier := newTestVerifier(t, client, WithClaimLookup(claims))
	verdict, err := verifier.Verify(context.Background(), storefront.SettlementExpectation{
		TransactionHash: receipt.Hash,
		NormalizedHash:  receipt.NormalizedHash,
		HashSource:      receipt.Source,
		Destination:     "EQAREREREREREREREREREREREREREREREREREREREREREeYT",
		Sender:          "EQCrq6urq6urq6urq6urq6urq6urq6urq6urq6urq6urq8Uk",
		Amount:          5_000_000_000,
		NotBefore:       time.Unix(1740830400, 0).UTC(),
	})
	require.NoError(t, err)
	require.True(t, verdict.Verified)
	require.Equal(t, "G1ucyz6NAGpSMN6b2iP/ke3HlNT1ZBBWCDC0GFKORGw=", verdict.Evidence.TransactionHash)
	require.Equal(t, "O+0ss6Os97ao70CEIMxoLVUg4ml201QlT1KMllYSBU8=", verdict.Evidence.MessageHash)
	require.Equal(t, 1, claims.lookups)
}
