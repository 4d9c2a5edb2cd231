// Package settlement confirms that an expected TON payment reached the merchant address.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/tonstore/internal/toncenter"
	"github.com/MarkoPoloResearchLab/tonstore/pkg/storefront"
	"github.com/shopspring/decimal"
	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"
)

const (
	DefaultInterval             = 5 * time.Second
	DefaultAttempts             = 12
	DefaultFetchLimit           = 10
	DefaultToleranceBasisPoints = 200

	basisPointsScale = 10000

	PollResultOK          = "ok"
	PollResultUnavailable = "unavailable"
	VerdictVerified       = "verified"
	VerdictUnverified     = "unverified"
	VerdictInterrupted    = "interrupted"
)

// ErrInvalidTolerance is returned for tolerance strings that are not a percent in [0, 100].
var ErrInvalidTolerance = errors.New("invalid settlement tolerance")

// TransactionSource lists recent incoming transactions of an address.
type TransactionSource interface {
	FetchRecentTransactions(ctx context.Context, address string, limit int) ([]toncenter.Transaction, error)
}

// Recorder receives verification metrics.
type Recorder interface {
	ObservePoll(result string)
	ObserveVerdict(outcome string)
}

// ClaimLookup reports whether a ledger transaction already confirmed a record.
type ClaimLookup interface {
	IsLedgerTransactionClaimed(ctx context.Context, ledgerHash string) (bool, error)
}

// WaitFunc blocks for the given duration or until ctx is done.
type WaitFunc func(ctx context.Context, duration time.Duration) error

// Option configures a Verifier.
type Option func(*Verifier)

// Verifier polls the ledger for a bounded number of attempts.
type Verifier struct {
	source               TransactionSource
	interval             time.Duration
	attempts             int
	fetchLimit           int
	toleranceBasisPoints int64
	wait                 WaitFunc
	logger               *zap.Logger
	recorder             Recorder
	claims               ClaimLookup
}

func WithInterval(interval time.Duration) Option {
	return func(verifier *Verifier) {
		if interval >= 0 {
			verifier.interval = interval
		}
	}
}

func WithAttempts(attempts int) Option {
	return func(verifier *Verifier) {
		if attempts > 0 {
			verifier.attempts = attempts
		}
	}
}

func WithFetchLimit(limit int) Option {
	return func(verifier *Verifier) {
		if limit > 0 {
			verifier.fetchLimit = limit
		}
	}
}

func WithToleranceBasisPoints(basisPoints int64) Option {
	return func(verifier *Verifier) {
		if basisPoints >= 0 && basisPoints <= basisPointsScale {
			verifier.toleranceBasisPoints = basisPoints
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(verifier *Verifier) {
		if logger != nil {
			verifier.logger = logger
		}
	}
}

// WithWaitFunc replaces the sleep between polls.
func WithWaitFunc(wait WaitFunc) Option {
	return func(verifier *Verifier) {
		if wait != nil {
			verifier.wait = wait
		}
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(verifier *Verifier) {
		verifier.recorder = recorder
	}
}

// WithClaimLookup makes the verifier pass over payments that already settled another record.
func WithClaimLookup(claims ClaimLookup) Option {
	return func(verifier *Verifier) {
		verifier.claims = claims
	}
}

// New builds a Verifier reading from source.
func New(source TransactionSource, options ...Option) (*Verifier, error) {
	if source == nil {
		return nil, fmt.Errorf("settlement: transaction source is required")
	}
	verifier := &Verifier{
		source:               source,
		interval:             DefaultInterval,
		attempts:             DefaultAttempts,
		fetchLimit:           DefaultFetchLimit,
		toleranceBasisPoints: DefaultToleranceBasisPoints,
		wait:                 sleepContext,
		logger:               zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(verifier)
		}
	}
	return verifier, nil
}

// Verify waits one interval before every poll. Transactions carrying the
// expected hash win over sender matches, and payments already claimed by other
// records are passed over. Exhausting the attempts yields an unverified
// verdict; a cancelled context yields the context error.
func (verifier *Verifier) Verify(ctx context.Context, expectation storefront.SettlementExpectation) (storefront.SettlementVerdict, error) {
	matcher, err := verifier.newMatcher(expectation)
	if err != nil {
		return storefront.SettlementVerdict{}, err
	}
	logger := verifier.logger.With(
		zap.String("tx_hash", expectation.TransactionHash),
		zap.String("hash_source", string(expectation.HashSource)),
		zap.Int64("amount_nano", expectation.Amount.Int64()),
	)
	for attempt := 1; attempt <= verifier.attempts; attempt++ {
		if err := verifier.wait(ctx, verifier.interval); err != nil {
			verifier.observeVerdict(VerdictInterrupted)
			return storefront.SettlementVerdict{Attempts: attempt - 1}, err
		}
		transactions, err := verifier.source.FetchRecentTransactions(ctx, expectation.Destination, verifier.fetchLimit)
		var transaction toncenter.Transaction
		var found bool
		if err == nil {
			transaction, found, err = verifier.firstUnclaimed(ctx, matcher.candidates(transactions))
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				verifier.observeVerdict(VerdictInterrupted)
				return storefront.SettlementVerdict{Attempts: attempt}, ctxErr
			}
			verifier.observePoll(PollResultUnavailable)
			logger.Warn("ledger poll failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		verifier.observePoll(PollResultOK)
		if found {
			verifier.observeVerdict(VerdictVerified)
			logger.Info("payment observed", zap.Int("attempt", attempt), zap.String("ledger_hash", transaction.Hash))
			return verifiedVerdict(transaction, attempt), nil
		}
	}
	verifier.observeVerdict(VerdictUnverified)
	logger.Info("payment not observed", zap.Int("attempts", verifier.attempts))
	return storefront.SettlementVerdict{Attempts: verifier.attempts}, nil
}

func (verifier *Verifier) firstUnclaimed(ctx context.Context, candidates []toncenter.Transaction) (toncenter.Transaction, bool, error) {
	for _, candidate := range candidates {
		if verifier.claims == nil {
			return candidate, true, nil
		}
		claimed, err := verifier.claims.IsLedgerTransactionClaimed(ctx, candidate.Hash)
		if err != nil {
			return toncenter.Transaction{}, false, fmt.Errorf("settlement: claim lookup: %w", err)
		}
		if !claimed {
			return candidate, true, nil
		}
	}
	return toncenter.Transaction{}, false, nil
}

func verifiedVerdict(transaction toncenter.Transaction, attempt int) storefront.SettlementVerdict {
	return storefront.SettlementVerdict{
		Verified: true,
		Attempts: attempt,
		Evidence: &storefront.SettlementEvidence{
			TransactionHash: transaction.Hash,
			MessageHash:     transaction.MessageHash,
			Value:           transaction.Value,
			Counterparty:    transaction.Counterparty,
			ObservedAt:      transaction.Timestamp,
			Attempts:        attempt,
		},
	}
}

type matcher struct {
	expectation          storefront.SettlementExpectation
	hashes               []string
	sender               string
	toleranceBasisPoints int64
}

func (verifier *Verifier) newMatcher(expectation storefront.SettlementExpectation) (matcher, error) {
	if strings.TrimSpace(expectation.Destination) == "" {
		return matcher{}, fmt.Errorf("settlement: destination is required")
	}
	if expectation.Amount <= 0 {
		return matcher{}, storefront.ErrInvalidAmount
	}
	var hashes []string
	switch expectation.HashSource {
	case storefront.HashSourceDerived:
		if strings.TrimSpace(expectation.Sender) == "" {
			return matcher{}, storefront.ErrInvalidWalletAddress
		}
	default:
		if strings.TrimSpace(expectation.TransactionHash) == "" {
			return matcher{}, fmt.Errorf("settlement: transaction hash is required")
		}
		hashes = append(hashes, strings.TrimSpace(expectation.TransactionHash))
		if normalized := strings.TrimSpace(expectation.NormalizedHash); normalized != "" && normalized != hashes[0] {
			hashes = append(hashes, normalized)
		}
	}
	return matcher{
		expectation:          expectation,
		hashes:               hashes,
		sender:               NormalizeAddress(expectation.Sender),
		toleranceBasisPoints: verifier.toleranceBasisPoints,
	}, nil
}

// candidates returns the transactions that can settle the expectation, hash
// matches first. The ledger reports the merchant-side internal message, whose
// hash differs from the broadcast external message, so sender, window and
// amount serve as the fallback.
func (m matcher) candidates(transactions []toncenter.Transaction) []toncenter.Transaction {
	var byHash, bySender []toncenter.Transaction
	for _, transaction := range transactions {
		if !WithinTolerance(m.expectation.Amount, transaction.Value, m.toleranceBasisPoints) {
			continue
		}
		switch {
		case m.matchesHash(transaction):
			byHash = append(byHash, transaction)
		case m.matchesSender(transaction):
			bySender = append(bySender, transaction)
		}
	}
	return append(byHash, bySender...)
}

func (m matcher) matchesHash(transaction toncenter.Transaction) bool {
	for _, hash := range m.hashes {
		if transaction.Hash == hash || transaction.MessageHash == hash {
			return true
		}
	}
	return false
}

func (m matcher) matchesSender(transaction toncenter.Transaction) bool {
	if m.sender == "" || transaction.Timestamp.Before(m.expectation.NotBefore) {
		return false
	}
	return NormalizeAddress(transaction.Counterparty) == m.sender
}

// WithinTolerance reports whether |observed - expected| <= expected * basisPoints / 10000.
func WithinTolerance(expected, observed storefront.NanoTON, basisPoints int64) bool {
	expectedValue := decimal.NewFromInt(expected.Int64())
	deviation := decimal.NewFromInt(observed.Int64()).Sub(expectedValue).Abs().Mul(decimal.NewFromInt(basisPointsScale))
	return deviation.LessThanOrEqual(expectedValue.Mul(decimal.NewFromInt(basisPoints)))
}

// ParseTolerancePercent converts a percent string such as "2" or "0.5" into basis points.
func ParseTolerancePercent(raw string) (int64, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidTolerance, err)
	}
	basisPoints := value.Mul(decimal.NewFromInt(100))
	if basisPoints.IsNegative() || basisPoints.GreaterThan(decimal.NewFromInt(basisPointsScale)) || !basisPoints.Equal(basisPoints.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTolerance, raw)
	}
	return basisPoints.IntPart(), nil
}

// NormalizeAddress maps user-friendly and raw TON addresses to the raw form.
// Unparseable input is returned trimmed so that exact matches still work.
func NormalizeAddress(address string) string {
	trimmed := strings.TrimSpace(address)
	accountID, err := ton.ParseAccountID(trimmed)
	if err != nil {
		return trimmed
	}
	return accountID.ToRaw()
}

func (verifier *Verifier) observePoll(result string) {
	if verifier.recorder != nil {
		verifier.recorder.ObservePoll(result)
	}
}

func (verifier *Verifier) observeVerdict(outcome string) {
	if verifier.recorder != nil {
		verifier.recorder.ObserveVerdict(outcome)
	}
}

func sleepContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
