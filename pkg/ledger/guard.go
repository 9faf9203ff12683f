package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// BalanceReader fetches an authoritative balance.
type BalanceReader interface {
	Balance(ctx context.Context, userID UserID) (Credits, error)
}

// ShortfallReporter receives advisory insufficient-balance events.
type ShortfallReporter interface {
	ReportShortfall(ctx context.Context, userID UserID, required Credits, current Credits)
}

// ShortfallReporterFunc adapts a function to ShortfallReporter.
type ShortfallReporterFunc func(ctx context.Context, userID UserID, required Credits, current Credits)

// ReportShortfall calls the function.
func (reporter ShortfallReporterFunc) ReportShortfall(ctx context.Context, userID UserID, required Credits, current Credits) {
	reporter(ctx, userID, required, current)
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithShortfallReporter wires a reporter notified whenever a refreshed check fails.
func WithShortfallReporter(reporter ShortfallReporter) GuardOption {
	return func(guard *Guard) {
		guard.reporter = reporter
	}
}

// Guard authorizes balance-dependent operations for a single user.
// Only CheckBalance and Authorize may gate a mutation; both refresh first.
type Guard struct {
	reader   BalanceReader
	userID   UserID
	reporter ShortfallReporter

	mutex sync.RWMutex
	view  BalanceView
}

// BalanceView is the last balance a Guard observed. It is a projection for
// optimistic display and can never authorize a mutation.
type BalanceView struct {
	balance Credits
	loaded  bool
}

// NewGuard binds a Guard to a reader and a wallet owner.
func NewGuard(reader BalanceReader, userID UserID, options ...GuardOption) (*Guard, error) {
	if reader == nil {
		return nil, fmt.Errorf("%w: balance reader is nil", ErrInvalidServiceConfig)
	}
	if userID.IsZero() {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	guard := &Guard{reader: reader, userID: userID}
	for _, option := range options {
		if option != nil {
			option(guard)
		}
	}
	return guard, nil
}

// UserID returns the wallet owner the guard is bound to.
func (guard *Guard) UserID() UserID {
	return guard.userID
}

// Refresh re-reads the balance and updates the projection.
func (guard *Guard) Refresh(ctx context.Context) (Credits, error) {
	balance, err := guard.reader.Balance(ctx, guard.userID)
	if err != nil {
		return 0, walletUnavailable(err)
	}
	guard.mutex.Lock()
	guard.view = BalanceView{balance: balance, loaded: true}
	guard.mutex.Unlock()
	return balance, nil
}

// CheckBalance refreshes the wallet and reports whether it covers required.
// A wallet that cannot be loaded never covers anything.
func (guard *Guard) CheckBalance(ctx context.Context, required Credits) (bool, error) {
	sufficient, _, err := guard.check(ctx, required)
	return sufficient, err
}

// Authorize is CheckBalance expressed as an error for mutating callers.
func (guard *Guard) Authorize(ctx context.Context, required Credits) error {
	sufficient, balance, err := guard.check(ctx, required)
	if err != nil {
		return err
	}
	if !sufficient {
		return fmt.Errorf("%w: balance %d below required %d", ErrInsufficientBalance, balance, required)
	}
	return nil
}

func (guard *Guard) check(ctx context.Context, required Credits) (bool, Credits, error) {
	balance, err := guard.Refresh(ctx)
	if err != nil {
		return false, 0, err
	}
	if balance >= required {
		return true, balance, nil
	}
	if guard.reporter != nil {
		guard.reporter.ReportShortfall(ctx, guard.userID, required, balance)
	}
	return false, balance, nil
}

// View returns the last observed balance without touching the store.
func (guard *Guard) View() BalanceView {
	guard.mutex.RLock()
	defer guard.mutex.RUnlock()
	return guard.view
}

// Balance returns the projected balance and whether one was ever loaded.
func (view BalanceView) Balance() (Credits, bool) {
	return view.balance, view.loaded
}

// CanAfford is an optimistic check for UI gating only.
func (view BalanceView) CanAfford(required Credits) bool {
	return view.loaded && view.balance >= required
}

func walletUnavailable(err error) error {
	if errors.Is(err, ErrWalletUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrWalletUnavailable, err)
}
