package marketplace

import (
	"errors"

	"github.com/MarkoPoloResearchLab/mutualaid/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mutualaid/pkg/rental"
)

var (
	ErrNotParticipant       = errors.New("user is not a rental participant")
	ErrInvalidTaskPayment   = errors.New("invalid task payment")
	ErrGrantLimitExceeded   = errors.New("grant exceeds limit")
	ErrInvalidServiceConfig = errors.New("invalid marketplace config")
	ErrMalformedRequest     = errors.New("malformed request")
)

const genericFailureMessage = "Something went wrong. Please try again."

var userMessages = []struct {
	target  error
	message string
}{
	{target: ledger.ErrWalletUnavailable, message: "Your wallet is temporarily unavailable. Please try again in a moment."},
	{target: ledger.ErrInsufficientBalance, message: "You do not have enough credits for this action."},
	{target: ledger.ErrDuplicateEntry, message: "This payment has already been made."},
	{target: ledger.ErrInvalidUserID, message: "The other participant could not be identified."},
	{target: ledger.ErrInvalidCredits, message: "The credit amount must be greater than zero."},
	{target: rental.ErrInvalidDateRange, message: "The rental must end after it starts."},
	{target: rental.ErrRentalNotFound, message: "That rental could not be found."},
	{target: rental.ErrInvalidRentalID, message: "Choose a rental to update."},
	{target: rental.ErrInvalidTransition, message: "This rental can no longer be moved to that status."},
	{target: rental.ErrInvalidStatus, message: "That rental status is not recognized."},
	{target: rental.ErrSelfRental, message: "You cannot rent your own item."},
	{target: rental.ErrInvalidItemID, message: "Choose an item to rent."},
	{target: rental.ErrInvalidPrice, message: "The rental price is not valid."},
	{target: ErrNotParticipant, message: "Only the owner or the renter can change this rental."},
	{target: ErrInvalidTaskPayment, message: "This task payment is not valid."},
	{target: ErrGrantLimitExceeded, message: "That top-up is larger than allowed."},
	{target: ErrMalformedRequest, message: "Some of the details could not be read. Check them and try again."},
}

// UserMessage renders err in user terms. Raw backend errors are never exposed.
func UserMessage(err error) string {
	for _, candidate := range userMessages {
		if errors.Is(err, candidate.target) {
			return candidate.message
		}
	}
	return genericFailureMessage
}
