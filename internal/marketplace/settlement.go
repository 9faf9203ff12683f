package marketplace

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/mutualaid/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mutualaid/pkg/rental"
)

// ErrCompensationFailed means a posting could not be undone after its status change lost.
var ErrCompensationFailed = errors.New("settlement compensation failed")

// settlementPosting returns the credit movement attached to an edge, if any.
//
//	accepted -> active:    renter pays the fee to the owner and the deposit is held
//	active   -> completed: deposit returned
//	active   -> cancelled: deposit returned, fee stays with the owner
func settlementPosting(current rental.Rental, next rental.Status) (ledger.Posting, bool, error) {
	referenceID := fmt.Sprintf("rental:%s:%s", current.ID, next)
	metadata, err := buildMetadata(map[string]string{
		"rental_id": current.ID,
		"item_id":   current.ItemID,
		"from":      current.Status.String(),
		"to":        next.String(),
	})
	if err != nil {
		return ledger.Posting{}, false, err
	}
	posting := ledger.Posting{ReferenceID: referenceID, Metadata: metadata}
	switch {
	case current.Status == rental.StatusAccepted && next == rental.StatusActive:
		if current.TotalCredits > 0 {
			fee := ledger.PositiveCredits(current.TotalCredits)
			posting.Legs = append(posting.Legs,
				ledger.DebitLeg(current.RenterID, fee, ledger.ReasonRentalCharge),
				ledger.CreditLeg(current.OwnerID, fee, ledger.ReasonRentalIncome),
			)
		}
		if current.DepositCredits > 0 {
			posting.Legs = append(posting.Legs, ledger.DebitLeg(current.RenterID, ledger.PositiveCredits(current.DepositCredits), ledger.ReasonDepositHold))
		}
	case current.Status == rental.StatusActive && (next == rental.StatusCompleted || next == rental.StatusCancelled):
		if current.DepositCredits > 0 {
			posting.Legs = append(posting.Legs, ledger.CreditLeg(current.RenterID, ledger.PositiveCredits(current.DepositCredits), ledger.ReasonDepositRefund))
		}
	}
	return posting, len(posting.Legs) > 0, nil
}

// settleAndTransition posts the edge's credit movement and then compare-and-sets
// the status. A lost status change is compensated with the inverse posting.
func (service *Service) settleAndTransition(ctx context.Context, current rental.Rental, next rental.Status) (rental.Rental, error) {
	if err := rental.ValidateTransition(current.Status, next); err != nil {
		return service.rentals.Transition(ctx, current, next)
	}
	posting, settles, err := settlementPosting(current, next)
	if err != nil {
		return rental.Rental{}, err
	}
	if !settles {
		return service.rentals.Transition(ctx, current, next)
	}
	if current.Status == rental.StatusAccepted {
		obligation, err := current.Obligation()
		if err != nil {
			return rental.Rental{}, err
		}
		if err := service.authorize(ctx, current.RenterID, obligation); err != nil {
			return rental.Rental{}, err
		}
	}
	if _, err := service.ledger.Post(ctx, posting); err != nil {
		return rental.Rental{}, err
	}
	updated, transitionErr := service.rentals.Transition(ctx, current, next)
	if transitionErr == nil {
		return updated, nil
	}
	reversal := posting.Inverse()
	reversal.ReferenceID = posting.ReferenceID + ":reversal"
	for index, leg := range reversal.Legs {
		if leg.Reason == ledger.ReasonRentalCharge {
			reversal.Legs[index].Reason = ledger.ReasonRentalRefund
		}
	}
	if _, err := service.ledger.Post(ctx, reversal); err != nil {
		service.logger.Error("rental settlement compensation failed",
			zap.String("rental_id", current.ID),
			zap.String("reference_id", posting.ReferenceID),
			zap.NamedError("transition_error", transitionErr),
			zap.Error(err),
		)
		return rental.Rental{}, fmt.Errorf("%w: %w: %w", ErrCompensationFailed, transitionErr, err)
	}
	service.logger.Warn("rental settlement reversed",
		zap.String("rental_id", current.ID),
		zap.String("reference_id", reversal.ReferenceID),
		zap.Error(transitionErr),
	)
	return rental.Rental{}, transitionErr
}
