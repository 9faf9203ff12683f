package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MarkoPoloResearchLab/mutualaid/internal/marketplace"
	"github.com/MarkoPoloResearchLab/mutualaid/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mutualaid/pkg/rental"
)

var errorStatuses = []struct {
	target error
	status int
	code   string
}{
	{target: ledger.ErrInsufficientBalance, status: http.StatusPaymentRequired, code: "insufficient_funds"},
	{target: ledger.ErrWalletUnavailable, status: http.StatusServiceUnavailable, code: "wallet_unavailable"},
	{target: ledger.ErrDuplicateEntry, status: http.StatusConflict, code: "already_paid"},
	{target: rental.ErrRentalNotFound, status: http.StatusNotFound, code: "rental_not_found"},
	{target: rental.ErrInvalidTransition, status: http.StatusConflict, code: "invalid_transition"},
	{target: marketplace.ErrNotParticipant, status: http.StatusForbidden, code: "not_participant"},
	{target: rental.ErrInvalidDateRange, status: http.StatusBadRequest, code: "invalid_date_range"},
	{target: rental.ErrInvalidItemID, status: http.StatusBadRequest, code: "invalid_item_id"},
	{target: rental.ErrInvalidRentalID, status: http.StatusBadRequest, code: "invalid_rental_id"},
	{target: rental.ErrInvalidStatus, status: http.StatusBadRequest, code: "invalid_status"},
	{target: rental.ErrSelfRental, status: http.StatusBadRequest, code: "self_rental"},
	{target: rental.ErrInvalidPrice, status: http.StatusBadRequest, code: "invalid_price"},
	{target: ledger.ErrInvalidUserID, status: http.StatusBadRequest, code: "invalid_user_id"},
	{target: ledger.ErrInvalidCredits, status: http.StatusBadRequest, code: "invalid_credits"},
	{target: marketplace.ErrInvalidTaskPayment, status: http.StatusBadRequest, code: "invalid_task_payment"},
	{target: marketplace.ErrGrantLimitExceeded, status: http.StatusBadRequest, code: "grant_limit_exceeded"},
	{target: marketplace.ErrMalformedRequest, status: http.StatusBadRequest, code: "malformed_request"},
}

func statusForError(err error) (int, string) {
	for _, candidate := range errorStatuses {
		if errors.Is(err, candidate.target) {
			return candidate.status, candidate.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
