// Package toncenter is a thin client for the toncenter v2 HTTP API.
package toncenter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tonstore/pkg/storefront"
)

const (
	DefaultBaseURL          = "https://toncenter.com/api/v2"
	defaultBroadcastTimeout = 15 * time.Second
	defaultFetchTimeout     = 10 * time.Second
	defaultFetchLimit       = 10
	maxFetchLimit           = 100
	headerAPIKey            = "X-API-Key"
	pathSendBoc             = "/sendBocReturnHash"
	pathGetTransactions     = "/getTransactions"
	maxResponseBytes        = 4 << 20
)

var (
	// ErrLedgerUnavailable marks transient failures: network, timeout, non-2xx or ok=false.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrBroadcastRejected means the API refused the submitted blob.
	ErrBroadcastRejected = errors.New("broadcast rejected")
)

// Config configures a Client.
type Config struct {
	BaseURL          string
	APIKey           string
	BroadcastTimeout time.Duration
	FetchTimeout     time.Duration
	HTTPClient       *http.Client
}

// Client talks to toncenter. It is safe for concurrent use.
type Client struct {
	baseURL          string
	apiKey           string
	broadcastTimeout time.Duration
	fetchTimeout     time.Duration
	httpClient       *http.Client
}

// Transaction is an incoming ledger transaction observed on an address.
type Transaction struct {
	Hash         string
	MessageHash  string
	Value        storefront.NanoTON
	Counterparty string
	Timestamp    time.Time
	LogicalTime  uint64
}

// NewClient validates the configuration and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("toncenter base url: %w", err)
	}
	client := &Client{
		baseURL:          baseURL,
		apiKey:           strings.TrimSpace(cfg.APIKey),
		broadcastTimeout: cfg.BroadcastTimeout,
		fetchTimeout:     cfg.FetchTimeout,
		httpClient:       cfg.HTTPClient,
	}
	if client.broadcastTimeout <= 0 {
		client.broadcastTimeout = defaultBroadcastTimeout
	}
	if client.fetchTimeout <= 0 {
		client.fetchTimeout = defaultFetchTimeout
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{}
	}
	return client, nil
}

type envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
	Code   int             `json:"code"`
}

type sendBocResult struct {
	Hash     string `json:"hash"`
	HashNorm string `json:"hash_norm"`
}

type rawTransaction struct {
	Utime         int64 `json:"utime"`
	TransactionID struct {
		Hash string `json:"hash"`
		LT   string `json:"lt"`
	} `json:"transaction_id"`
	InMsg *struct {
		Hash        string `json:"hash"`
		Source      string `json:"source"`
		Destination string `json:"destination"`
		Value       string `json:"value"`
	} `json:"in_msg"`
}

// Broadcast submits a signed blob and returns its message hash.
// When the API accepts the blob without reporting a hash, the receipt carries
// the hex SHA-256 of the decoded blob and HashSourceDerived.
func (client *Client) Broadcast(ctx context.Context, blob storefront.TransactionBlob) (storefront.BroadcastReceipt, error) {
	body, err := json.Marshal(map[string]string{"boc": blob.String()})
	if err != nil {
		return storefront.BroadcastReceipt{}, err
	}
	requestCtx, cancel := context.WithTimeout(ctx, client.broadcastTimeout)
	defer cancel()
	request, err := http.NewRequestWithContext(requestCtx, http.MethodPost, client.baseURL+pathSendBoc, bytes.NewReader(body))
	if err != nil {
		return storefront.BroadcastReceipt{}, err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := client.do(request)
	if err != nil {
		if errors.Is(err, ErrLedgerUnavailable) && response.Error != "" {
			return storefront.BroadcastReceipt{}, fmt.Errorf("%w: %s", ErrBroadcastRejected, response.Error)
		}
		return storefront.BroadcastReceipt{}, err
	}
	var result sendBocResult
	if len(response.Result) > 0 && string(response.Result) != "null" {
		if err := json.Unmarshal(response.Result, &result); err != nil {
			return storefront.BroadcastReceipt{}, fmt.Errorf("%w: decode sendBoc result: %v", ErrLedgerUnavailable, err)
		}
	}
	if hash := strings.TrimSpace(result.Hash); hash != "" {
		return storefront.BroadcastReceipt{
			Hash:           hash,
			NormalizedHash: strings.TrimSpace(result.HashNorm),
			Source:         storefront.HashSourceLedger,
		}, nil
	}
	return storefront.BroadcastReceipt{Hash: DeriveHash(blob), Source: storefront.HashSourceDerived}, nil
}

// FetchRecentTransactions returns the newest transactions of an address.
func (client *Client) FetchRecentTransactions(ctx context.Context, address string, limit int) ([]Transaction, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("toncenter: address is required")
	}
	if limit <= 0 {
		limit = defaultFetchLimit
	}
	if limit > maxFetchLimit {
		limit = maxFetchLimit
	}
	query := url.Values{}
	query.Set("address", strings.TrimSpace(address))
	query.Set("limit", strconv.Itoa(limit))
	query.Set("archival", "false")

	requestCtx, cancel := context.WithTimeout(ctx, client.fetchTimeout)
	defer cancel()
	request, err := http.NewRequestWithContext(requestCtx, http.MethodGet, client.baseURL+pathGetTransactions+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	response, err := client.do(request)
	if err != nil {
		return nil, err
	}
	var rawTransactions []rawTransaction
	if err := json.Unmarshal(response.Result, &rawTransactions); err != nil {
		return nil, fmt.Errorf("%w: decode transactions: %v", ErrLedgerUnavailable, err)
	}
	transactions := make([]Transaction, 0, len(rawTransactions))
	for _, raw := range rawTransactions {
		transaction, ok := mapTransaction(raw)
		if ok {
			transactions = append(transactions, transaction)
		}
	}
	return transactions, nil
}

// DeriveHash is the deterministic fallback identifier of a blob.
func DeriveHash(blob storefront.TransactionBlob) string {
	sum := sha256.Sum256(blob.Bytes())
	return hex.EncodeToString(sum[:])
}

func (client *Client) do(request *http.Request) (envelope, error) {
	request.Header.Set("Accept", "application/json")
	if client.apiKey != "" {
		request.Header.Set(headerAPIKey, client.apiKey)
	}
	response, err := client.httpClient.Do(request)
	if err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return envelope{}, fmt.Errorf("%w: read body: %v", ErrLedgerUnavailable, err)
	}
	var decoded envelope
	decodeErr := json.Unmarshal(payload, &decoded)
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return decoded, fmt.Errorf("%w: status %d", ErrLedgerUnavailable, response.StatusCode)
	}
	if decodeErr != nil {
		return envelope{}, fmt.Errorf("%w: decode body: %v", ErrLedgerUnavailable, decodeErr)
	}
	if !decoded.OK {
		return decoded, fmt.Errorf("%w: %s", ErrLedgerUnavailable, decoded.Error)
	}
	return decoded, nil
}

// Outgoing-only and zero-value records never settle a payment and are skipped.
func mapTransaction(raw rawTransaction) (Transaction, bool) {
	if raw.InMsg == nil || strings.TrimSpace(raw.InMsg.Source) == "" {
		return Transaction{}, false
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw.InMsg.Value), 10, 64)
	if err != nil || value <= 0 {
		return Transaction{}, false
	}
	logicalTime, _ := strconv.ParseUint(raw.TransactionID.LT, 10, 64)
	return Transaction{
		Hash:         raw.TransactionID.Hash,
		MessageHash:  raw.InMsg.Hash,
		Value:        storefront.NanoTON(value),
		Counterparty: raw.InMsg.Source,
		Timestamp:    time.Unix(raw.Utime, 0).UTC(),
		LogicalTime:  logicalTime,
	}, true
}
