package storefront

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type recorderLogger struct {
	mu      sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recorderLogger) find(operation string) *OperationLog {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	for index := range logger.entries {
		if logger.entries[index].Operation == operation {
			entry := logger.entries[index]
			return &entry
		}
	}
	return nil
}

func TestServiceLogsBuyOperation(t *testing.T) {
	t.Parallel()
	logger := &recorderLogger{}
	fixture := newServiceFixture(t, WithOperationLogger(logger))
	account := fixture.store.seedAccount(t, 3, mustTON(t, "5"))
	receipt := buyOne(t, fixture, account.ID)

	entry := logger.find(operationBuyAccount)
	if entry == nil {
		t.Fatalf("expected buy log entry")
	}
	if entry.RecordID != receipt.RecordID || entry.Buyer != buyerID || entry.TxHash != "H1" || entry.Amount != mustTON(t, "5") {
		t.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.Error != nil || entry.Status != operationStatusOK || entry.Outcome != StatusPending {
		t.Fatalf("expected successful log entry, got %+v", entry)
	}
}

func TestServiceLogsErrorStatus(t *testing.T) {
	t.Parallel()
	logger := &recorderLogger{}
	fixture := newServiceFixture(t, WithOperationLogger(logger))
	fixture.broadcaster.err = errors.New("boom")
	account := fixture.store.seedAccount(t, 3, mustTON(t, "5"))

	_, err := fixture.service.BuyAccount(context.Background(), BuyAccountRequest{
		AccountID: account.ID, Buyer: buyerID, WalletAddress: mustWallet(t, buyerWallet), Blob: mustBlob(t, sampleBlob),
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	entry := logger.find(operationBuyAccount)
	if entry == nil || entry.Status != operationStatusError || entry.Error == nil {
		t.Fatalf("expected error log entry, got %+v", entry)
	}
}
