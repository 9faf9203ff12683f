package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Credits is a non-negative count of platform credits.
type Credits int64

// PositiveCredits is a strictly positive credit amount.
type PositiveCredits int64

// UserID identifies a wallet owner.
type UserID struct {
	value string
}

// MetadataJSON stores arbitrary posting metadata.
type MetadataJSON struct {
	value string
}

// EntryType defines the direction of a wallet entry.
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// Reason records why credits moved.
type Reason string

const (
	ReasonGrant         Reason = "grant"
	ReasonTaskPayment   Reason = "task_payment"
	ReasonRentalCharge  Reason = "rental_charge"
	ReasonRentalIncome  Reason = "rental_income"
	ReasonRentalRefund  Reason = "rental_refund"
	ReasonDepositHold   Reason = "deposit_hold"
	ReasonDepositRefund Reason = "deposit_refund"
)

// NewCredits validates a balance-like value.
func NewCredits(raw int64) (Credits, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidCredits)
	}
	return Credits(raw), nil
}

// Int64 returns the raw value.
func (credits Credits) Int64() int64 {
	return int64(credits)
}

// NewPositiveCredits validates an amount and ensures it is strictly positive.
func NewPositiveCredits(raw int64) (PositiveCredits, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidCredits)
	}
	return PositiveCredits(raw), nil
}

// Int64 returns the raw value.
func (amount PositiveCredits) Int64() int64 {
	return int64(amount)
}

// ToCredits widens the amount to Credits.
func (amount PositiveCredits) ToCredits() Credits {
	return Credits(amount)
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// IsZero reports whether the id was never initialized.
func (id UserID) IsZero() bool {
	return id.value == ""
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = defaultMetadataJSON
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return defaultMetadataJSON
	}
	return metadata.value
}

// ParseEntryType validates a stored entry type.
func ParseEntryType(raw string) (EntryType, error) {
	switch EntryType(raw) {
	case EntryCredit, EntryDebit:
		return EntryType(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryType, raw)
	}
}

// String returns the stored representation.
func (entryType EntryType) String() string {
	return string(entryType)
}

// ParseReason validates a stored reason.
func ParseReason(raw string) (Reason, error) {
	switch Reason(raw) {
	case ReasonGrant, ReasonTaskPayment, ReasonRentalCharge, ReasonRentalIncome, ReasonRentalRefund, ReasonDepositHold, ReasonDepositRefund:
		return Reason(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidReason, raw)
	}
}

// String returns the stored representation.
func (reason Reason) String() string {
	return string(reason)
}

// Wallet is the authoritative balance record for one user.
type Wallet struct {
	UserID         UserID
	Balance        Credits
	UpdatedUnixUTC int64
}

// Entry is a single immutable line of wallet history.
type Entry struct {
	EntryID        string
	UserID         UserID
	Type           EntryType
	Amount         PositiveCredits
	BalanceAfter   Credits
	Reason         Reason
	ReferenceID    string
	Metadata       MetadataJSON
	CreatedUnixUTC int64
}

// Leg is one signed balance movement inside a Posting.
type Leg struct {
	UserID UserID
	Delta  int64
	Reason Reason
}

// CreditLeg builds a leg that adds credits to a wallet.
func CreditLeg(userID UserID, amount PositiveCredits, reason Reason) Leg {
	return Leg{UserID: userID, Delta: amount.Int64(), Reason: reason}
}

// DebitLeg builds a leg that removes credits from a wallet.
func DebitLeg(userID UserID, amount PositiveCredits, reason Reason) Leg {
	return Leg{UserID: userID, Delta: -amount.Int64(), Reason: reason}
}

// Inverse returns the compensating leg.
func (leg Leg) Inverse() Leg {
	return Leg{UserID: leg.UserID, Delta: -leg.Delta, Reason: leg.Reason}
}

// Posting groups legs that must be applied atomically.
type Posting struct {
	ReferenceID string
	Metadata    MetadataJSON
	Legs        []Leg
}

// Inverse returns a posting that undoes every leg of the receiver.
func (posting Posting) Inverse() Posting {
	legs := make([]Leg, 0, len(posting.Legs))
	for _, leg := range posting.Legs {
		legs = append(legs, leg.Inverse())
	}
	return Posting{ReferenceID: posting.ReferenceID, Metadata: posting.Metadata, Legs: legs}
}

// Store is the persistence contract used by Service.
// AdjustBalance must be a single conditional update: it either applies delta
// leaving the balance non-negative or fails with ErrInsufficientBalance.
// InsertEntry fails with ErrDuplicateEntry when an entry with the same
// reference id, user and reason already exists.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateWallet(ctx context.Context, userID UserID) (Wallet, error)
	AdjustBalance(ctx context.Context, userID UserID, delta int64, atUnixUTC int64) (Credits, error)
	InsertEntry(ctx context.Context, entry Entry) error
	ListEntries(ctx context.Context, userID UserID, limit int) ([]Entry, error)
}
