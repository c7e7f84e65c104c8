package server

import (
	"errors"
	"net/http"

	nativecommon "nftlend/native/common"
	"nftlend/native/lending"
)

const (
	kindPaused   = "paused"
	kindInternal = "internal"
)

var kindLabels = map[error]string{
	lending.ErrInvalidParams:       "invalid_params",
	lending.ErrIllegalState:        "illegal_state",
	lending.ErrPermissionDenied:    "permission_denied",
	lending.ErrInvalidToken:        "invalid_token",
	lending.ErrInsufficientBalance: "insufficient_balance",
	lending.ErrPaymentFailed:       "payment_failed",
	lending.ErrNoOfferFound:        "no_offer_found",
	lending.ErrDuplicatedOperation: "duplicated_operation",
	lending.ErrInvalidNonce:        "invalid_nonce",
	lending.ErrInvalidSignature:    "invalid_signature",
}

// errorKind returns the metric label for err, empty on success.
func errorKind(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, nativecommon.ErrModulePaused) {
		return kindPaused
	}
	if kind := lending.KindOf(err); kind != nil {
		return kindLabels[kind]
	}
	return kindInternal
}

// toStatus maps an engine error onto the HTTP status reported to clients.
func toStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, lending.ErrInvalidParams),
		errors.Is(err, lending.ErrInvalidNonce),
		errors.Is(err, lending.ErrInvalidToken):
		return http.StatusBadRequest
	case errors.Is(err, lending.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, lending.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, lending.ErrNoOfferFound):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrIllegalState),
		errors.Is(err, lending.ErrDuplicatedOperation):
		return http.StatusConflict
	case errors.Is(err, lending.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, lending.ErrPaymentFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage hides the detail of unclassified failures.
func errorMessage(err error) string {
	if toStatus(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
