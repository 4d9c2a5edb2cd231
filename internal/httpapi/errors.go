package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/tonstore/internal/telegramauth"
	"github.com/MarkoPoloResearchLab/tonstore/pkg/storefront"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeInvalidPayload   = "invalid_payload"
	codePayloadTooLarge  = "payload_too_large"
	codeInvalidRequest   = "invalid_request"
	codeItemUnavailable  = "item_unavailable"
	codeAlreadyOccupied  = "already_occupied"
	codeBroadcastFailed  = "broadcast_failed"
	codeDuplicateTx      = "duplicate_transaction"
	codeNotFound         = "not_found"
	codeListingExists    = "listing_exists"
	codeAdminExists      = "admin_exists"
	codeRecordReferenced = "record_referenced"
	codeUnauthorized     = "unauthorized"
	codeForbidden        = "forbidden"
	codeRateLimited      = "rate_limited"
	codeSessionsDisabled = "sessions_disabled"
	codeInternal         = "internal_error"
)

var validationPrefix = storefront.ErrValidation.Error() + ": "

var validationCodes = []struct {
	err  error
	code string
}{
	{storefront.ErrInvalidRecordID, "invalid_id"},
	{storefront.ErrInvalidTelegramID, "invalid_telegram_id"},
	{storefront.ErrInvalidWalletAddress, "invalid_wallet_address"},
	{storefront.ErrInvalidTransactionBlob, "invalid_boc"},
	{storefront.ErrInvalidAmount, "invalid_amount"},
	{storefront.ErrInvalidQuantity, "invalid_quantity"},
	{storefront.ErrInvalidPeriod, "invalid_period"},
	{storefront.ErrInvalidHandle, "invalid_username"},
	{storefront.ErrInvalidCountry, "invalid_country"},
	{storefront.ErrInvalidStatus, "invalid_status"},
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// mapToHTTPError translates domain errors into a status and error code.
func mapToHTTPError(err error) (int, string, string) {
	switch {
	case errors.Is(err, storefront.ErrValidation):
		for _, candidate := range validationCodes {
			if errors.Is(err, candidate.err) {
				return http.StatusBadRequest, candidate.code, strings.TrimPrefix(candidate.err.Error(), validationPrefix)
			}
		}
		return http.StatusBadRequest, codeInvalidRequest, storefront.ErrValidation.Error()
	case errors.Is(err, storefront.ErrItemUnavailable):
		return http.StatusBadRequest, codeItemUnavailable, "item is not available"
	case errors.Is(err, storefront.ErrBroadcastFailed):
		return http.StatusBadRequest, codeBroadcastFailed, "transaction broadcast failed"
	case errors.Is(err, storefront.ErrAlreadyOccupied):
		return http.StatusConflict, codeAlreadyOccupied, "username is already rented"
	case errors.Is(err, storefront.ErrDuplicateTransaction):
		return http.StatusConflict, codeDuplicateTx, "transaction already submitted"
	case errors.Is(err, storefront.ErrListingExists):
		return http.StatusConflict, codeListingExists, "username already listed"
	case errors.Is(err, storefront.ErrAdminExists):
		return http.StatusConflict, codeAdminExists, "admin already exists"
	case errors.Is(err, storefront.ErrRecordReferenced):
		return http.StatusConflict, codeRecordReferenced, "record has purchase history"
	case errors.Is(err, storefront.ErrNotFound):
		return http.StatusNotFound, codeNotFound, "not found"
	case errors.Is(err, telegramauth.ErrUnauthenticated):
		return http.StatusUnauthorized, codeUnauthorized, "valid Telegram credentials required"
	default:
		return http.StatusInternalServerError, codeInternal, "internal error"
	}
}

func (handler *httpHandler) respondError(ctx *gin.Context, operation string, err error) {
	status, code, message := mapToHTTPError(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error(operation+" failed", zap.String("request_id", ctx.GetString(headerRequestID)), zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, message))
}

func (handler *httpHandler) respondBindError(ctx *gin.Context, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		ctx.JSON(http.StatusRequestEntityTooLarge, errorResponse(codePayloadTooLarge, "request body too large"))
		return
	}
	ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
}
