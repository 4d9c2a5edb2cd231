package storefront

import (
	"context"
	"errors"
)

// ListOrders returns orders for the admin surface, newest first.
func (service *Service) ListOrders(ctx context.Context, filter RecordFilter) ([]Order, error) {
	normalized, err := normalizeRecordFilter(filter)
	if err != nil {
		return nil, err
	}
	return service.store.ListOrders(ctx, normalized)
}

// ListRentals returns rentals for the admin surface, newest first.
func (service *Service) ListRentals(ctx context.Context, filter RecordFilter) ([]Rental, error) {
	normalized, err := normalizeRecordFilter(filter)
	if err != nil {
		return nil, err
	}
	return service.store.ListRentals(ctx, normalized)
}

// Stats returns record counts and the revenue of confirmed records.
func (service *Service) Stats(ctx context.Context) (Stats, error) {
	return service.store.Stats(ctx)
}

// GrantAdmin adds a Telegram user to the admin table.
func (service *Service) GrantAdmin(ctx context.Context, telegramID TelegramID) (Admin, error) {
	if telegramID <= 0 {
		return Admin{}, WrapError(operationGrantAdmin, subjectAdmin, codeValidate, ErrInvalidTelegramID)
	}
	admin, operationError := service.store.CreateAdmin(ctx, telegramID, service.nowFn().UTC())
	service.logOperation(ctx, OperationLog{Operation: operationGrantAdmin, Buyer: telegramID, Error: operationError})
	return admin, operationError
}

// EnsureAdmin grants admin rights unless they are already present.
func (service *Service) EnsureAdmin(ctx context.Context, telegramID TelegramID) error {
	_, err := service.GrantAdmin(ctx, telegramID)
	if errors.Is(err, ErrAdminExists) {
		return nil
	}
	return err
}

// IsAdmin reports whether the Telegram user may use the admin surface.
func (service *Service) IsAdmin(ctx context.Context, telegramID TelegramID) (bool, error) {
	if telegramID <= 0 {
		return false, nil
	}
	return service.store.IsAdmin(ctx, telegramID)
}

func normalizeRecordFilter(filter RecordFilter) (RecordFilter, error) {
	if filter.Status != "" {
		status, err := ParseStatus(filter.Status.String())
		if err != nil {
			return RecordFilter{}, err
		}
		filter.Status = status
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultRecordListLimit
	}
	if filter.Limit > maximumRecordListLimit {
		filter.Limit = maximumRecordListLimit
	}
	return filter, nil
}
