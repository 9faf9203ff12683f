package rental

import "errors"

// Domain-level error values returned by the rental engine.
var (
	ErrInvalidDateRange    = errors.New("invalid date range")
	ErrRentalNotFound      = errors.New("rental not found")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrStatusConflict      = errors.New("rental status changed concurrently")
	ErrInvalidStatus       = errors.New("invalid rental status")
	ErrInvalidRentalID     = errors.New("invalid rental id")
	ErrInvalidItemID       = errors.New("invalid item id")
	ErrSelfRental          = errors.New("owner cannot rent own item")
	ErrInvalidPrice        = errors.New("invalid price")
	ErrInvalidEngineConfig = errors.New("invalid engine config")
)
