package toncenter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/tonstore/pkg/storefront"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey = "secret-key"
	testBlob   = "te6ccgEBAQEAAgAAAA=="
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{BaseURL: server.URL + "/", APIKey: testAPIKey, BroadcastTimeout: time.Second, FetchTimeout: time.Second})
	require.NoError(t, err)
	return client
}

func mustBlob(t *testing.T) storefront.TransactionBlob {
	t.Helper()
	blob, err := storefront.NewTransactionBlob(testBlob)
	require.NoError(t, err)
	return blob
}

func TestBroadcastReturnsLedgerHash(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, pathSendBoc, r.URL.Path)
		require.Equal(t, testAPIKey, r.Header.Get(headerAPIKey))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, testBlob, body["boc"])
		_, _ = w.Write([]byte(`{"ok":true,"result":{"@type":"ext.message.info","hash":"H1","hash_norm":"H1N"}}`))
	})

	receipt, err := client.Broadcast(context.Background(), mustBlob(t))
	require.NoError(t, err)
	require.Equal(t, storefront.BroadcastReceipt{Hash: "H1", NormalizedHash: "H1N", Source: storefront.HashSourceLedger}, receipt)
}

func TestBroadcastDerivesDeterministicHashWhenMissing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"result":{"@type":"ok"}}`))
	})

	first, err := client.Broadcast(context.Background(), mustBlob(t))
	require.NoError(t, err)
	second, err := client.Broadcast(context.Background(), mustBlob(t))
	require.NoError(t, err)
	require.Equal(t, storefront.HashSourceDerived, first.Source)
	require.Equal(t, first.Hash, second.Hash)
	require.Equal(t, DeriveHash(mustBlob(t)), first.Hash)
	require.Len(t, first.Hash, 64)
}

func TestBroadcastFailures(t *testing.T) {
	testCases := []struct {
		name     string
		status   int
		body     string
		expected error
	}{
		{name: "rejected", status: http.StatusOK, body: `{"ok":false,"error":"cannot deserialize bag of cells","code":500}`, expected: ErrBroadcastRejected},
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, expected: ErrLedgerUnavailable},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"ok":false,"error":"Ratelimit exceed","code":429}`, expected: ErrBroadcastRejected},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(testCase.status)
				_, _ = w.Write([]byte(testCase.body))
			})
			_, err := client.Broadcast(context.Background(), mustBlob(t))
			require.Error(t, err)
			require.True(t, errors.Is(err, testCase.expected), "got %v", err)
		})
	}
}

func TestFetchRecentTransactionsMapsIncomingMessages(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathGetTransactions, r.URL.Path)
		require.Equal(t, "EQMerchant", r.URL.Query().Get("address"))
		require.Equal(t, "10", r.URL.Query().Get("limit"))
		require.Equal(t, testAPIKey, r.Header.Get(headerAPIKey))
		_, _ = w.Write([]byte(`{"ok":true,"result":[
			{"utime":1700000000,"transaction_id":{"hash":"TX1","lt":"42"},"in_msg":{"hash":"MSG1","source":"EQBuyer","destination":"EQMerchant","value":"5000000000"}},
			{"utime":1700000005,"transaction_id":{"hash":"TX2","lt":"43"},"in_msg":{"hash":"MSG2","source":"","destination":"EQMerchant","value":"0"}},
			{"utime":1700000006,"transaction_id":{"hash":"TX3","lt":"44"}}
		]}`))
	})

	transactions, err := client.FetchRecentTransactions(context.Background(), "EQMerchant", 10)
	require.NoError(t, err)
	require.Len(t, transactions, 1)
	require.Equal(t, Transaction{
		Hash:         "TX1",
		MessageHash:  "MSG1",
		Value:        storefront.NanoTON(5_000_000_000),
		Counterparty: "EQBuyer",
		Timestamp:    time.Unix(1700000000, 0).UTC(),
		LogicalTime:  42,
	}, transactions[0])
}

func TestFetchRecentTransactionsUnavailable(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		body   string
	}{
		{name: "not ok", status: http.StatusOK, body: `{"ok":false,"error":"LITE_SERVER_UNKNOWN"}`},
		{name: "bad gateway", status: http.StatusBadGateway, body: ``},
		{name: "garbage", status: http.StatusOK, body: `<html>`},
		{name: "wrong result shape", status: http.StatusOK, body: `{"ok":true,"result":{"unexpected":true}}`},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(testCase.status)
				_, _ = w.Write([]byte(testCase.body))
			})
			_, err := client.FetchRecentTransactions(context.Background(), "EQMerchant", 10)
			require.ErrorIs(t, err, ErrLedgerUnavailable)
		})
	}
}

func TestFetchRecentTransactionsTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})
	client, err := NewClient(Config{BaseURL: server.URL, FetchTimeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = client.FetchRecentTransactions(context.Background(), "EQMerchant", 10)
	require.ErrorIs(t, err, ErrLedgerUnavailable)
}
