package storefront

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// maxClaimRounds bounds re-verification after the observed payment turned out
// to be claimed by a concurrent settlement.
const maxClaimRounds = 3

// Settle verifies the payment behind a PENDING record and applies its terminal state.
// Terminal records are left untouched. A returned error means the record is still PENDING.
func (service *Service) Settle(ctx context.Context, job Job) error {
	switch job.Kind {
	case JobKindOrder:
		return service.settleOrder(ctx, job.RecordID)
	case JobKindRental:
		return service.settleRental(ctx, job.RecordID)
	default:
		return WrapError(operationSettle, string(job.Kind), codeValidate, fmt.Errorf("%w: %q", ErrInvalidJobKind, job.Kind))
	}
}

func (service *Service) settleOrder(ctx context.Context, orderID RecordID) error {
	order, err := service.store.GetOrder(ctx, orderID)
	if err != nil {
		return WrapError(operationSettle, subjectOrder, codeLoad, err)
	}
	if order.Status.IsTerminal() {
		return nil
	}
	expectation := service.expectation(order.TxHash, order.TxHashNorm, order.HashSource, order.WalletAddress, order.TonAmount, order.CreatedAt)
	var verdict SettlementVerdict
	var settlement Settlement
	for round := 1; ; round++ {
		verdict, err = service.verifier.Verify(ctx, expectation)
		if err != nil {
			return WrapError(operationSettle, subjectOrder, codeVerify, err)
		}
		settlement = service.verdictSettlement(verdict)
		if !verdict.Verified {
			err = service.store.SettleOrder(ctx, order.ID, settlement)
			break
		}
		err = service.settleClaimed(ctx, JobKindOrder, order.ID, settlement, func(ctx context.Context, transactionStore Store) error {
			if err := transactionStore.SettleOrder(ctx, order.ID, settlement); err != nil {
				return err
			}
			return transactionStore.DecrementAccountStock(ctx, order.AccountID)
		})
		if errors.Is(err, ErrItemUnavailable) {
			settlement = failedSettlement(settlement, FailureSoldOut)
			err = service.settleClaimed(ctx, JobKindOrder, order.ID, settlement, func(ctx context.Context, transactionStore Store) error {
				return transactionStore.SettleOrder(ctx, order.ID, settlement)
			})
		}
		if !errors.Is(err, ErrLedgerTransactionClaimed) {
			break
		}
		if round == maxClaimRounds {
			settlement = unclaimedSettlement(settlement)
			err = service.store.SettleOrder(ctx, order.ID, settlement)
			break
		}
	}

	settlement, err = service.resolveSettlementError(ctx, settlement, err, func(fallback Settlement) error {
		return service.store.SettleOrder(ctx, order.ID, fallback)
	})
	if errors.Is(err, ErrRecordSettled) {
		return nil
	}
	item := fmt.Sprintf("account #%d", order.AccountID.Int64())
	if account, loadErr := service.store.GetAccount(ctx, order.AccountID); loadErr == nil {
		item = account.Country
	}
	service.finishSettlement(ctx, Notification{
		Kind:          JobKindOrder,
		RecordID:      order.ID,
		Buyer:         order.Buyer,
		Item:          item,
		Status:        settlement.Status,
		FailureReason: settlement.FailureReason,
		Amount:        order.TonAmount,
	}, order.TxHash, verdict.Attempts, err)
	return err
}

func (service *Service) settleRental(ctx context.Context, rentalID RecordID) error {
	rental, err := service.store.GetRental(ctx, rentalID)
	if err != nil {
		return WrapError(operationSettle, subjectRental, codeLoad, err)
	}
	if rental.Status.IsTerminal() {
		return nil
	}
	expectation := service.expectation(rental.TxHash, rental.TxHashNorm, rental.HashSource, rental.WalletAddress, rental.TonAmount, rental.CreatedAt)
	var verdict SettlementVerdict
	var settlement Settlement
	for round := 1; ; round++ {
		verdict, err = service.verifier.Verify(ctx, expectation)
		if err != nil {
			return WrapError(operationSettle, subjectRental, codeVerify, err)
		}
		settlement = service.verdictSettlement(verdict)
		if !verdict.Verified {
			err = service.store.SettleRental(ctx, rental.ID, settlement)
			break
		}
		err = service.settleClaimed(ctx, JobKindRental, rental.ID, settlement, func(ctx context.Context, transactionStore Store) error {
			if _, err := transactionStore.LockListing(ctx, rental.ListingID); err != nil {
				return err
			}
			active, occupied, err := transactionStore.ActiveRental(ctx, rental.ListingID, settlement.SettledAt)
			if err != nil {
				return err
			}
			if occupied && active.ID != rental.ID {
				return ErrAlreadyOccupied
			}
			startsAt := settlement.SettledAt
			expiresAt := startsAt.Add(rental.Period.Duration())
			settlement.StartsAt = &startsAt
			settlement.ExpiresAt = &expiresAt
			return transactionStore.SettleRental(ctx, rental.ID, settlement)
		})
		if errors.Is(err, ErrAlreadyOccupied) {
			settlement = failedSettlement(settlement, FailureOccupied)
			err = service.settleClaimed(ctx, JobKindRental, rental.ID, settlement, func(ctx context.Context, transactionStore Store) error {
				return transactionStore.SettleRental(ctx, rental.ID, settlement)
			})
		}
		if !errors.Is(err, ErrLedgerTransactionClaimed) {
			break
		}
		if round == maxClaimRounds {
			settlement = unclaimedSettlement(settlement)
			err = service.store.SettleRental(ctx, rental.ID, settlement)
			break
		}
	}

	settlement, err = service.resolveSettlementError(ctx, settlement, err, func(fallback Settlement) error {
		return service.store.SettleRental(ctx, rental.ID, fallback)
	})
	if errors.Is(err, ErrRecordSettled) {
		return nil
	}
	item := fmt.Sprintf("username #%d", rental.ListingID.Int64())
	if listing, loadErr := service.store.GetListing(ctx, rental.ListingID); loadErr == nil {
		item = listing.Handle
	}
	service.finishSettlement(ctx, Notification{
		Kind:          JobKindRental,
		RecordID:      rental.ID,
		Buyer:         rental.Buyer,
		Item:          item,
		Status:        settlement.Status,
		FailureReason: settlement.FailureReason,
		Amount:        rental.TonAmount,
		ExpiresAt:     settlement.ExpiresAt,
	}, rental.TxHash, verdict.Attempts, err)
	return err
}

// RecoverPending enqueues every PENDING record so none waits forever after a restart
// or a rejected enqueue. It returns the number of jobs accepted by the queue.
func (service *Service) RecoverPending(ctx context.Context) (int, error) {
	enqueued := 0
	var enqueueErrors []error
	for _, kind := range []JobKind{JobKindOrder, JobKindRental} {
		recordIDs, err := service.store.ListPendingRecordIDs(ctx, kind)
		if err != nil {
			return enqueued, WrapError(operationRecover, string(kind), codeLoad, err)
		}
		for _, recordID := range recordIDs {
			job := Job{Kind: kind, RecordID: recordID}
			if err := service.queue.Enqueue(job); err != nil {
				enqueueErrors = append(enqueueErrors, fmt.Errorf("%s: %w", job.Key(), err))
				continue
			}
			enqueued++
		}
	}
	operationError := errors.Join(enqueueErrors...)
	service.logOperation(ctx, OperationLog{
		Operation: operationRecover,
		Attempts:  enqueued,
		Error:     operationError,
	})
	return enqueued, operationError
}

func (service *Service) expectation(txHash string, normalizedHash string, source HashSource, sender string, amount NanoTON, createdAt time.Time) SettlementExpectation {
	return SettlementExpectation{
		TransactionHash: txHash,
		NormalizedHash:  normalizedHash,
		HashSource:      source,
		Destination:     service.config.MerchantAddress,
		Sender:          sender,
		Amount:          amount,
		NotBefore:       createdAt.Add(-service.config.SenderLookback),
	}
}

func (service *Service) verdictSettlement(verdict SettlementVerdict) Settlement {
	settlement := Settlement{
		Status:    StatusConfirmed,
		Evidence:  verdict.Evidence,
		SettledAt: service.nowFn().UTC(),
	}
	if !verdict.Verified {
		settlement = failedSettlement(settlement, FailureUnverified)
	}
	return settlement
}

// settleClaimed applies a terminal write together with the claim on the observed
// ledger transaction, so one payment settles at most one record. A conflict
// surfaces as ErrLedgerTransactionClaimed and rolls the write back.
func (service *Service) settleClaimed(ctx context.Context, kind JobKind, recordID RecordID, settlement Settlement, apply func(ctx context.Context, transactionStore Store) error) error {
	return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := apply(ctx, transactionStore); err != nil {
			return err
		}
		if settlement.Evidence == nil || settlement.Evidence.TransactionHash == "" {
			return nil
		}
		return transactionStore.ClaimLedgerTransaction(ctx, settlement.Evidence.TransactionHash, kind, recordID)
	})
}

// unclaimedSettlement fails a record whose only matching payments belong to other records.
func unclaimedSettlement(settlement Settlement) Settlement {
	return Settlement{
		Status:        StatusFailed,
		FailureReason: FailureUnverified,
		SettledAt:     settlement.SettledAt,
	}
}

func failedSettlement(settlement Settlement, reason string) Settlement {
	return Settlement{
		Status:        StatusFailed,
		FailureReason: reason,
		Evidence:      settlement.Evidence,
		SettledAt:     settlement.SettledAt,
	}
}

// resolveSettlementError marks the record FAILED when the terminal write broke
// for a reason other than shutdown or a concurrent settlement.
func (service *Service) resolveSettlementError(ctx context.Context, settlement Settlement, err error, markFailed func(Settlement) error) (Settlement, error) {
	if err == nil || errors.Is(err, ErrRecordSettled) || ctx.Err() != nil {
		return settlement, err
	}
	fallback := failedSettlement(settlement, FailureInternal)
	if fallbackErr := markFailed(fallback); fallbackErr != nil {
		return settlement, errors.Join(err, fallbackErr)
	}
	return fallback, WrapError(operationSettle, subjectTransaction, codeConfirm, err)
}

func (service *Service) finishSettlement(ctx context.Context, notification Notification, txHash string, attempts int, settleErr error) {
	service.logOperation(ctx, OperationLog{
		Operation: operationSettle,
		Kind:      notification.Kind,
		RecordID:  notification.RecordID,
		Buyer:     notification.Buyer,
		TxHash:    txHash,
		Amount:    notification.Amount,
		Outcome:   notification.Status,
		Reason:    notification.FailureReason,
		Attempts:  attempts,
		Error:     settleErr,
	})
	if service.notifier == nil {
		return
	}
	if settleErr != nil && notification.FailureReason != FailureInternal {
		return
	}
	if err := service.notifier.NotifySettlement(ctx, notification); err != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationNotify,
			Kind:      notification.Kind,
			RecordID:  notification.RecordID,
			Buyer:     notification.Buyer,
			Error:     err,
		})
	}
}
