package rental

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/mutualaid/pkg/ledger"
)

// Rental is an agreement to lend an item over a date range.
type Rental struct {
	ID             string
	ItemID         string
	OwnerID        ledger.UserID
	RenterID       ledger.UserID
	StartDate      time.Time
	EndDate        time.Time
	DailyPrice     ledger.Credits
	DepositCredits ledger.Credits
	TotalCredits   ledger.Credits
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Involves reports whether the user is the owner or the renter.
func (rental Rental) Involves(userID ledger.UserID) bool {
	return rental.OwnerID == userID || rental.RenterID == userID
}

// Obligation is what the renter must cover when the rental starts.
func (rental Rental) Obligation() (ledger.Credits, error) {
	return addCredits(rental.TotalCredits, rental.DepositCredits)
}

// RentalRequest carries the caller-supplied terms of a new rental.
type RentalRequest struct {
	ItemID         string
	OwnerID        ledger.UserID
	RenterID       ledger.UserID
	StartDate      time.Time
	EndDate        time.Time
	DailyPrice     ledger.Credits
	DepositCredits ledger.Credits
}

// Validate checks the request and returns the frozen total.
func (request RentalRequest) Validate() (ledger.Credits, error) {
	if strings.TrimSpace(request.ItemID) == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidItemID)
	}
	if request.OwnerID.IsZero() || request.RenterID.IsZero() {
		return 0, fmt.Errorf("%w: owner and renter are required", ledger.ErrInvalidUserID)
	}
	if request.OwnerID == request.RenterID {
		return 0, ErrSelfRental
	}
	if request.DepositCredits < 0 {
		return 0, fmt.Errorf("%w: deposit must not be negative", ErrInvalidPrice)
	}
	total, err := QuoteTotal(request.StartDate, request.EndDate, request.DailyPrice)
	if err != nil {
		return 0, err
	}
	if _, err := addCredits(total, request.DepositCredits); err != nil {
		return 0, err
	}
	return total, nil
}

// Store persists rentals.
type Store interface {
	InsertRental(ctx context.Context, rental Rental) error
	GetRental(ctx context.Context, rentalID string) (Rental, error)
	// UpdateRentalStatus moves the rental to next only while it is still in expected.
	// It returns ErrRentalNotFound for unknown ids and ErrStatusConflict when the status moved.
	UpdateRentalStatus(ctx context.Context, rentalID string, expected Status, next Status, at time.Time) (Rental, error)
	// ListRentals returns rentals where the user is owner or renter, newest first.
	ListRentals(ctx context.Context, userID ledger.UserID) ([]Rental, error)
}

func addCredits(left ledger.Credits, right ledger.Credits) (ledger.Credits, error) {
	if right > 0 && left > ledger.Credits(math.MaxInt64)-right {
		return 0, fmt.Errorf("%w: total overflows", ErrInvalidPrice)
	}
	return left + right, nil
}
