package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/MarkoPoloResearchLab/tonstore/internal/telegramauth"
	"github.com/MarkoPoloResearchLab/tonstore/pkg/storefront"
	"github.com/gin-gonic/gin"
)

const (
	operationSession       = "session"
	operationListAccounts  = "list_accounts"
	operationSaveAccount   = "save_account"
	operationDeleteAccount = "delete_account"
	operationBuyAccount    = "buy_account"
	operationOrderStatus   = "order_status"
	operationListListings  = "list_listings"
	operationSaveListing   = "save_listing"
	operationDeleteListing = "delete_listing"
	operationRentUsername  = "rent_username"
	operationRentalStatus  = "rental_status"
	operationAdminOrders   = "admin_orders"
	operationAdminRentals  = "admin_rentals"
	operationAdminStats    = "admin_stats"
	operationGrantAdmin    = "grant_admin"
)

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	if handler.sessions == nil {
		ctx.JSON(http.StatusNotFound, errorResponse(codeSessionsDisabled, "session tokens are not enabled"))
		return
	}
	identity, _ := identityFrom(ctx)
	if identity.Scheme != telegramauth.SchemeInitData {
		ctx.JSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "sessions are issued for Telegram initData only"))
		return
	}
	token, expiresAt, err := handler.sessions.Issue(identity.TelegramID)
	if err != nil {
		handler.respondError(ctx, operationSession, err)
		return
	}
	ctx.JSON(http.StatusOK, sessionPayload{Token: token, ExpiresAt: expiresAt})
}

func (handler *httpHandler) handleListAccounts(ctx *gin.Context) {
	handler.respondAccounts(ctx, true)
}

// handleAdminAccounts includes sold-out stock.
func (handler *httpHandler) handleAdminAccounts(ctx *gin.Context) {
	handler.respondAccounts(ctx, false)
}

func (handler *httpHandler) respondAccounts(ctx *gin.Context, availableOnly bool) {
	accounts, err := handler.service.ListAccounts(ctx.Request.Context(), availableOnly)
	if err != nil {
		handler.respondError(ctx, operationListAccounts, err)
		return
	}
	payload := make([]accountPayload, 0, len(accounts))
	for _, account := range accounts {
		payload = append(payload, newAccountPayload(account))
	}
	ctx.JSON(http.StatusOK, gin.H{"accounts": payload})
}

func (handler *httpHandler) handleCreateAccount(ctx *gin.Context) {
	var request accountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.respondBindError(ctx, err)
		return
	}
	input, err := request.toInput()
	if err != nil {
		handler.respondError(ctx, operationSaveAccount, err)
		return
	}
	account, err := handler.service.CreateAccount(ctx.Request.Context(), input)
	if err != nil {
		handler.respondError(ctx, operationSaveAccount, err)
		return
	}
	ctx.JSON(http.StatusCreated, newAccountPayload(account))
}

func (handler *httpHandler) handleUpdateAccount(ctx *gin.Context) {
	accountID, err := storefront.ParseRecordID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, operationSaveAccount, err)
		return
	}
	var request accountRequest
	if bindErr := ctx.ShouldBindJSON(&request); bindErr != nil {
		handler.respondBindError(ctx, bindErr)
		return
	}
	input, err := request.toInput()
	if err != nil {
		handler.respondError(ctx, operationSaveAccount, err)
		return
	}
	account, err := handler.service.UpdateAccount(ctx.Request.Context(), accountID, input)
	if err != nil {
		handler.respondError(ctx, operationSaveAccount, err)
		return
	}
	ctx.JSON(http.StatusOK, newAccountPayload(account))
}

func (handler *httpHandler) handleDeleteAccount(ctx *gin.Context) {
	accountID, err := storefront.ParseRecordID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, operationDeleteAccount, err)
		return
	}
	if err := handler.service.DeleteAccount(ctx.Request.Context(), accountID); err != nil {
		handler.respondError(ctx, operationDeleteAccount, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (handler *httpHandler) handleBuyAccount(ctx *gin.Context) {
	identity, _ := identityFrom(ctx)
	accountID, err := storefront.ParseRecordID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, operationBuyAccount, err)
		return
	}
	var request buyRequest
	if bindErr := ctx.ShouldBindJSON(&request); bindErr != nil {
		handler.respondBindError(ctx, bindErr)
		return
	}
	walletAddress, err := storefront.NewWalletAddress(request.WalletAddress)
	if err != nil {
		handler.respondError(ctx, operationBuyAccount, err)
		return
	}
	blob, err := storefront.NewTransactionBlob(request.Boc)
	if err != nil {
		handler.respondError(ctx, operationBuyAccount, err)
		return
	}

	purchaseCtx, cancel := handler.purchaseContext(ctx)
	defer cancel()
	receipt, err := handler.service.BuyAccount(purchaseCtx, storefront.BuyAccountRequest{
		AccountID:     accountID,
		Buyer:         identity.TelegramID,
		WalletAddress: walletAddress,
		Blob:          blob,
	})
	if err != nil {
		handler.respondError(ctx, operationBuyAccount, err)
		return
	}
	ctx.JSON(http.StatusOK, orderReceiptPayload{OrderID: receipt.RecordID.Int64(), TxHash: receipt.TxHash, Status: receipt.Status.String()})
}

func (handler *httpHandler) handleOrderStatus(ctx *gin.Context) {
	identity, _ := identityFrom(ctx)
	orderID, err := storefront.ParseRecordID(ctx.Param("orderId"))
	if err != nil {
		handler.respondError(ctx, operationOrderStatus, err)
		return
	}
	order, err := handler.service.GetOrderStatus(ctx.Request.Context(), orderID, identity.TelegramID)
	if err != nil {
		handler.respondError(ctx, operationOrderStatus, err)
		return
	}
	ctx.JSON(http.StatusOK, newOrderPayload(order))
}

func (handler *httpHandler) handleListListings(ctx *gin.Context) {
	views, err := handler.service.ListListings(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, operationListListings, err)
		return
	}
	payload := make([]listingPayload, 0, len(views))
	for _, view := range views {
		payload = append(payload, newListingViewPayload(view))
	}
	ctx.JSON(http.StatusOK, gin.H{"usernames": payload})
}

func (handler *httpHandler) handleCreateListing(ctx *gin.Context) {
	var request listingRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.respondBindError(ctx, err)
		return
	}
	input, err := request.toInput()
	if err != nil {
		handler.respondError(ctx, operationSaveListing, err)
		return
	}
	listing, err := handler.service.CreateListing(ctx.Request.Context(), input)
	if err != nil {
		handler.respondError(ctx, operationSaveListing, err)
		return
	}
	ctx.JSON(http.StatusCreated, newListingPayload(listing))
}

func (handler *httpHandler) handleUpdateListing(ctx *gin.Context) {
	listingID, err := storefront.ParseRecordID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, operationSaveListing, err)
		return
	}
	var request listingRequest
	if bindErr := ctx.ShouldBindJSON(&request); bindErr != nil {
		handler.respondBindError(ctx, bindErr)
		return
	}
	input, err := request.toInput()
	if err != nil {
		handler.respondError(ctx, operationSaveListing, err)
		return
	}
	listing, err := handler.service.UpdateListing(ctx.Request.Context(), listingID, input)
	if err != nil {
		handler.respondError(ctx, operationSaveListing, err)
		return
	}
	ctx.JSON(http.StatusOK, newListingPayload(listing))
}

func (handler *httpHandler) handleDeleteListing(ctx *gin.Context) {
	listingID, err := storefront.ParseRecordID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, operationDeleteListing, err)
		return
	}
	if err := handler.service.DeleteListing(ctx.Request.Context(), listingID); err != nil {
		handler.respondError(ctx, operationDeleteListing, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (handler *httpHandler) handleRentUsername(ctx *gin.Context) {
	identity, _ := identityFrom(ctx)
	listingID, err := storefront.ParseRecordID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, operationRentUsername, err)
		return
	}
	var request rentRequest
	if bindErr := ctx.ShouldBindJSON(&request); bindErr != nil {
		handler.respondBindError(ctx, bindErr)
		return
	}
	walletAddress, err := storefront.NewWalletAddress(request.WalletAddress)
	if err != nil {
		handler.respondError(ctx, operationRentUsername, err)
		return
	}
	blob, err := storefront.NewTransactionBlob(request.Boc)
	if err != nil {
		handler.respondError(ctx, operationRentUsername, err)
		return
	}
	period, err := storefront.ParsePeriod(request.Period)
	if err != nil {
		handler.respondError(ctx, operationRentUsername, err)
		return
	}

	purchaseCtx, cancel := handler.purchaseContext(ctx)
	defer cancel()
	receipt, err := handler.service.RentUsername(purchaseCtx, storefront.RentUsernameRequest{
		ListingID:     listingID,
		Buyer:         identity.TelegramID,
		WalletAddress: walletAddress,
		Blob:          blob,
		Period:        period,
	})
	if err != nil {
		handler.respondError(ctx, operationRentUsername, err)
		return
	}
	ctx.JSON(http.StatusOK, rentalReceiptPayload{RentalID: receipt.RecordID.Int64(), TxHash: receipt.TxHash, Status: receipt.Status.String()})
}

func (handler *httpHandler) handleRentalStatus(ctx *gin.Context) {
	identity, _ := identityFrom(ctx)
	rentalID, err := storefront.ParseRecordID(ctx.Param("rentalId"))
	if err != nil {
		handler.respondError(ctx, operationRentalStatus, err)
		return
	}
	rental, err := handler.service.GetRentalStatus(ctx.Request.Context(), rentalID, identity.TelegramID)
	if err != nil {
		handler.respondError(ctx, operationRentalStatus, err)
		return
	}
	ctx.JSON(http.StatusOK, newRentalPayload(rental))
}

func (handler *httpHandler) handleAdminOrders(ctx *gin.Context) {
	filter, err := parseRecordFilter(ctx)
	if err != nil {
		handler.respondError(ctx, operationAdminOrders, err)
		return
	}
	orders, err := handler.service.ListOrders(ctx.Request.Context(), filter)
	if err != nil {
		handler.respondError(ctx, operationAdminOrders, err)
		return
	}
	payload := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		payload = append(payload, newOrderPayload(order))
	}
	ctx.JSON(http.StatusOK, gin.H{"orders": payload})
}

func (handler *httpHandler) handleAdminRentals(ctx *gin.Context) {
	filter, err := parseRecordFilter(ctx)
	if err != nil {
		handler.respondError(ctx, operationAdminRentals, err)
		return
	}
	rentals, err := handler.service.ListRentals(ctx.Request.Context(), filter)
	if err != nil {
		handler.respondError(ctx, operationAdminRentals, err)
		return
	}
	payload := make([]rentalPayload, 0, len(rentals))
	for _, rental := range rentals {
		payload = append(payload, newRentalPayload(rental))
	}
	ctx.JSON(http.StatusOK, gin.H{"rentals": payload})
}

func (handler *httpHandler) handleAdminStats(ctx *gin.Context) {
	stats, err := handler.service.Stats(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, operationAdminStats, err)
		return
	}
	ctx.JSON(http.StatusOK, newStatsPayload(stats))
}

func (handler *httpHandler) handleGrantAdmin(ctx *gin.Context) {
	var request grantAdminRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.respondBindError(ctx, err)
		return
	}
	telegramID, err := storefront.NewTelegramID(request.TelegramID)
	if err != nil {
		handler.respondError(ctx, operationGrantAdmin, err)
		return
	}
	admin, err := handler.service.GrantAdmin(ctx.Request.Context(), telegramID)
	if err != nil {
		handler.respondError(ctx, operationGrantAdmin, err)
		return
	}
	ctx.JSON(http.StatusCreated, adminPayload{TelegramID: admin.TelegramID.Int64(), CreatedAt: admin.CreatedAt})
}

// purchaseContext detaches from client disconnects once a payment may already be broadcast.
func (handler *httpHandler) purchaseContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx.Request.Context()), handler.cfg.PurchaseTimeout)
}

func parseRecordFilter(ctx *gin.Context) (storefront.RecordFilter, error) {
	var filter storefront.RecordFilter
	if rawStatus := ctx.Query("status"); rawStatus != "" {
		status, err := storefront.ParseStatus(rawStatus)
		if err != nil {
			return storefront.RecordFilter{}, err
		}
		filter.Status = status
	}
	if rawLimit := ctx.Query("limit"); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit < 0 {
			return storefront.RecordFilter{}, storefront.ErrValidation
		}
		filter.Limit = limit
	}
	return filter, nil
}
