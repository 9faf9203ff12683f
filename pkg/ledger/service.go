package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Service contains the wallet domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() int64
	newID  func() string
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, newID: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Balance reads the current balance straight from the store.
func (service *Service) Balance(ctx context.Context, userID UserID) (Credits, error) {
	if userID.IsZero() {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	wallet, err := service.store.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrWalletUnavailable, err)
	}
	return wallet.Balance, nil
}

// Credit adds credits to a wallet and returns the resulting balance.
func (service *Service) Credit(ctx context.Context, userID UserID, amount PositiveCredits, reason Reason, referenceID string, metadata MetadataJSON) (Credits, error) {
	entries, err := service.Post(ctx, Posting{
		ReferenceID: referenceID,
		Metadata:    metadata,
		Legs:        []Leg{CreditLeg(userID, amount, reason)},
	})
	if err != nil {
		return 0, err
	}
	return entries[0].BalanceAfter, nil
}

// Debit removes credits from a wallet and returns the resulting balance.
func (service *Service) Debit(ctx context.Context, userID UserID, amount PositiveCredits, reason Reason, referenceID string, metadata MetadataJSON) (Credits, error) {
	entries, err := service.Post(ctx, Posting{
		ReferenceID: referenceID,
		Metadata:    metadata,
		Legs:        []Leg{DebitLeg(userID, amount, reason)},
	})
	if err != nil {
		return 0, err
	}
	return entries[0].BalanceAfter, nil
}

// Transfer moves credits between two wallets in one transaction.
func (service *Service) Transfer(ctx context.Context, fromUserID UserID, toUserID UserID, amount PositiveCredits, reason Reason, referenceID string, metadata MetadataJSON) error {
	_, err := service.Post(ctx, Posting{
		ReferenceID: referenceID,
		Metadata:    metadata,
		Legs: []Leg{
			DebitLeg(fromUserID, amount, reason),
			CreditLeg(toUserID, amount, reason),
		},
	})
	return err
}

// Post applies every leg of the posting atomically, debits first.
func (service *Service) Post(ctx context.Context, posting Posting) ([]Entry, error) {
	legs, err := orderedLegs(posting)
	if err != nil {
		return nil, err
	}
	var written []Entry
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		written = make([]Entry, 0, len(legs))
		nowUnixUTC := service.nowFn()
		for _, leg := range legs {
			if _, err := transactionStore.GetOrCreateWallet(ctx, leg.UserID); err != nil {
				return err
			}
			balanceAfter, err := transactionStore.AdjustBalance(ctx, leg.UserID, leg.Delta, nowUnixUTC)
			if err != nil {
				return err
			}
			entry := Entry{
				EntryID:        service.newID(),
				UserID:         leg.UserID,
				Type:           legEntryType(leg),
				Amount:         legAmount(leg),
				BalanceAfter:   balanceAfter,
				Reason:         leg.Reason,
				ReferenceID:    posting.ReferenceID,
				Metadata:       posting.Metadata,
				CreatedUnixUTC: nowUnixUTC,
			}
			if err := transactionStore.InsertEntry(ctx, entry); err != nil {
				return err
			}
			written = append(written, entry)
		}
		return nil
	})
	for _, leg := range legs {
		service.logOperation(ctx, OperationLog{
			Operation:   legOperation(leg),
			UserID:      leg.UserID,
			Amount:      legAmount(leg).ToCredits(),
			Reason:      leg.Reason,
			ReferenceID: posting.ReferenceID,
			Metadata:    posting.Metadata,
			Error:       operationError,
		})
	}
	if operationError != nil {
		return nil, operationError
	}
	return written, nil
}

// ListEntries lists the newest wallet entries for a user.
func (service *Service) ListEntries(ctx context.Context, userID UserID, limit int) ([]Entry, error) {
	if userID.IsZero() {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	normalizedLimit, err := normalizeListLimit(limit)
	if err != nil {
		return nil, err
	}
	entries, err := service.store.ListEntries(ctx, userID, normalizedLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWalletUnavailable, err)
	}
	return entries, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func orderedLegs(posting Posting) ([]Leg, error) {
	if len(posting.Legs) == 0 {
		return nil, fmt.Errorf("%w: no legs", ErrInvalidPosting)
	}
	legs := make([]Leg, 0, len(posting.Legs))
	for _, leg := range posting.Legs {
		if leg.UserID.IsZero() {
			return nil, fmt.Errorf("%w: leg without user", ErrInvalidUserID)
		}
		if leg.Delta == 0 {
			return nil, fmt.Errorf("%w: zero delta", ErrInvalidCredits)
		}
		if _, err := ParseReason(leg.Reason.String()); err != nil {
			return nil, err
		}
		legs = append(legs, leg)
	}
	if strings.TrimSpace(posting.ReferenceID) == "" {
		return nil, fmt.Errorf("%w: reference id is required", ErrInvalidPosting)
	}
	sort.SliceStable(legs, func(left, right int) bool {
		return legs[left].Delta < 0 && legs[right].Delta > 0
	})
	return legs, nil
}

func legEntryType(leg Leg) EntryType {
	if leg.Delta < 0 {
		return EntryDebit
	}
	return EntryCredit
}

func legOperation(leg Leg) string {
	if leg.Delta < 0 {
		return operationDebit
	}
	return operationCredit
}

func legAmount(leg Leg) PositiveCredits {
	if leg.Delta < 0 {
		return PositiveCredits(-leg.Delta)
	}
	return PositiveCredits(leg.Delta)
}

func normalizeListLimit(limit int) (int, error) {
	if limit < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidListLimit)
	}
	if limit == 0 {
		return defaultListEntriesLimit, nil
	}
	if limit > maxListEntriesLimit {
		return maxListEntriesLimit, nil
	}
	return limit, nil
}
