package storefront

import "time"

const (
	operationBuyAccount    = "buy_account"
	operationRentUsername  = "rent_username"
	operationSettle        = "settle"
	operationEnqueue       = "enqueue_settlement"
	operationRecover       = "recover_pending"
	operationNotify        = "notify"
	operationCreateAccount = "create_account"
	operationUpdateAccount = "update_account"
	operationDeleteAccount = "delete_account"
	operationCreateListing = "create_listing"
	operationUpdateListing = "update_listing"
	operationDeleteListing = "delete_listing"
	operationGrantAdmin    = "grant_admin"
	operationGetOrder      = "get_order"
	operationGetRental     = "get_rental"
	operationStatusOK      = "ok"
	operationStatusError   = "error"
	subjectOrder           = "order"
	subjectRental          = "rental"
	subjectAccount         = "account"
	subjectListing         = "listing"
	subjectAdmin           = "admin"
	subjectTransaction     = "transaction"
	codeValidate           = "validate"
	codeUnavailable        = "unavailable"
	codeBroadcast          = "broadcast"
	codePersist            = "persist"
	codeNotFound           = "not_found"
	codeVerify             = "verify"
	codeConfirm            = "confirm"
	codeLoad               = "load"
	defaultSenderLookback  = 120 * time.Second
	defaultRecordListLimit = 200
	maximumRecordListLimit = 1000
)

// Failure reasons stored on FAILED records.
const (
	FailureUnverified = "unverified"
	FailureSoldOut    = "sold_out"
	FailureOccupied   = "occupied"
	FailureInternal   = "internal_error"
)
