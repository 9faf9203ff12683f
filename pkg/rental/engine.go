package rental

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MarkoPoloResearchLab/mutualaid/pkg/ledger"
)

// Engine owns rental pricing and the status transition function.
type Engine struct {
	store  Store
	nowFn  func() time.Time
	newID  func() string
	logger OperationLogger
}

// NewEngine wires an Engine.
func NewEngine(store Store, now func() time.Time, options ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidEngineConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidEngineConfig)
	}
	engine := &Engine{store: store, nowFn: now, newID: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(engine)
		}
	}
	return engine, nil
}

// RequestRental validates the request, freezes its price and stores it as requested.
// No credits move here.
func (engine *Engine) RequestRental(ctx context.Context, request RentalRequest) (Rental, error) {
	total, err := request.Validate()
	if err != nil {
		engine.logOperation(ctx, OperationLog{Operation: operationRequestRental, ItemID: request.ItemID, To: StatusRequested, Code: codeInvalidRequest, Error: err})
		return Rental{}, err
	}
	now := engine.nowFn().UTC()
	rental := Rental{
		ID:             engine.newID(),
		ItemID:         strings.TrimSpace(request.ItemID),
		OwnerID:        request.OwnerID,
		RenterID:       request.RenterID,
		StartDate:      request.StartDate.UTC(),
		EndDate:        request.EndDate.UTC(),
		DailyPrice:     request.DailyPrice,
		DepositCredits: request.DepositCredits,
		TotalCredits:   total,
		Status:         StatusRequested,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := engine.store.InsertRental(ctx, rental); err != nil {
		engine.logOperation(ctx, OperationLog{Operation: operationRequestRental, RentalID: rental.ID, ItemID: rental.ItemID, To: StatusRequested, Code: codeStore, Error: err})
		return Rental{}, err
	}
	engine.logOperation(ctx, OperationLog{Operation: operationRequestRental, RentalID: rental.ID, ItemID: rental.ItemID, To: StatusRequested})
	return rental, nil
}

// GetRental loads a rental by id.
func (engine *Engine) GetRental(ctx context.Context, rentalID string) (Rental, error) {
	normalizedID := strings.TrimSpace(rentalID)
	if normalizedID == "" {
		return Rental{}, fmt.Errorf("%w: empty value", ErrInvalidRentalID)
	}
	return engine.store.GetRental(ctx, normalizedID)
}

// UpdateRentalStatus moves a rental along the transition table.
func (engine *Engine) UpdateRentalStatus(ctx context.Context, rentalID string, next Status) (Rental, error) {
	current, err := engine.GetRental(ctx, rentalID)
	if err != nil {
		engine.logOperation(ctx, OperationLog{Operation: operationUpdateStatus, RentalID: rentalID, To: next, Code: lookupCode(err), Error: err})
		return Rental{}, err
	}
	return engine.Transition(ctx, current, next)
}

// Transition applies current.Status -> next as a compare-and-set, so a rental
// that moved since current was read is rejected with ErrInvalidTransition.
func (engine *Engine) Transition(ctx context.Context, current Rental, next Status) (Rental, error) {
	entry := OperationLog{Operation: operationUpdateStatus, RentalID: current.ID, ItemID: current.ItemID, From: current.Status, To: next}
	if err := ValidateTransition(current.Status, next); err != nil {
		entry.Code = codeInvalidTransition
		entry.Error = err
		engine.logOperation(ctx, entry)
		return Rental{}, err
	}
	updated, err := engine.store.UpdateRentalStatus(ctx, current.ID, current.Status, next, engine.nowFn().UTC())
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			err = fmt.Errorf("%w: %w", ErrInvalidTransition, err)
			entry.Code = codeInvalidTransition
		} else {
			entry.Code = lookupCode(err)
		}
		entry.Error = err
		engine.logOperation(ctx, entry)
		return Rental{}, err
	}
	engine.logOperation(ctx, entry)
	return updated, nil
}

// ListRentals returns every rental the user owns or rents, newest first.
func (engine *Engine) ListRentals(ctx context.Context, userID ledger.UserID) ([]Rental, error) {
	if userID.IsZero() {
		return nil, fmt.Errorf("%w: empty value", ledger.ErrInvalidUserID)
	}
	return engine.store.ListRentals(ctx, userID)
}

// ValidateTransition returns ErrInvalidTransition for any edge outside the table.
func ValidateTransition(from Status, to Status) error {
	if from.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func (engine *Engine) logOperation(ctx context.Context, entry OperationLog) {
	if engine.logger == nil {
		return
	}
	if entry.Error != nil {
		entry.Status = operationStatusError
	} else {
		entry.Status = operationStatusOK
	}
	engine.logger.LogRentalOperation(ctx, entry)
}

func lookupCode(err error) string {
	switch {
	case errors.Is(err, ErrRentalNotFound):
		return codeNotFound
	case errors.Is(err, ErrInvalidRentalID):
		return codeInvalidRequest
	default:
		return codeStore
	}
}
