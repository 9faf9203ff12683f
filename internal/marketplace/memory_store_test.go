package marketplace

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/mutualaid/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mutualaid/pkg/notify"
	"github.com/MarkoPoloResearchLab/mutualaid/pkg/rental"
)

var errBackendDown = errors.New("backend down")

// memoryStore implements ledger.Store and rental.Store in memory.
type memoryStore struct {
	mutex    sync.Mutex
	balances map[ledger.UserID]ledger.Credits
	entries  []ledger.Entry
	rentals  map[string]rental.Rental

	walletError  error
	listError    error
	beforeUpdate func(rentalID string)
}

type memoryTx struct {
	store *memoryStore
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		balances: make(map[ledger.UserID]ledger.Credits),
		rentals:  make(map[string]rental.Rental),
	}
}

func (store *memoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	balances := make(map[ledger.UserID]ledger.Credits, len(store.balances))
	for userID, balance := range store.balances {
		balances[userID] = balance
	}
	entries := append([]ledger.Entry(nil), store.entries...)
	if err := fn(ctx, &memoryTx{store: store}); err != nil {
		store.balances = balances
		store.entries = entries
		return err
	}
	return nil
}

func (store *memoryStore) GetOrCreateWallet(ctx context.Context, userID ledger.UserID) (ledger.Wallet, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.getOrCreateWallet(userID)
}

func (store *memoryStore) AdjustBalance(ctx context.Context, userID ledger.UserID, delta int64, atUnixUTC int64) (ledger.Credits, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.adjustBalance(userID, delta)
}

func (store *memoryStore) InsertEntry(ctx context.Context, entry ledger.Entry) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.insertEntry(entry)
}

func (store *memoryStore) insertEntry(entry ledger.Entry) error {
	for _, existing := range store.entries {
		if existing.ReferenceID == entry.ReferenceID && existing.UserID == entry.UserID && existing.Reason == entry.Reason {
			return ledger.ErrDuplicateEntry
		}
	}
	store.entries = append(store.entries, entry)
	return nil
}

func (store *memoryStore) ListEntries(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Entry, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.listEntries(userID, limit), nil
}

func (store *memoryStore) getOrCreateWallet(userID ledger.UserID) (ledger.Wallet, error) {
	if store.walletError != nil {
		return ledger.Wallet{}, store.walletError
	}
	return ledger.Wallet{UserID: userID, Balance: store.balances[userID]}, nil
}

func (store *memoryStore) adjustBalance(userID ledger.UserID, delta int64) (ledger.Credits, error) {
	updated := store.balances[userID].Int64() + delta
	if updated < 0 {
		return 0, ledger.ErrInsufficientBalance
	}
	store.balances[userID] = ledger.Credits(updated)
	return ledger.Credits(updated), nil
}

func (store *memoryStore) listEntries(userID ledger.UserID, limit int) []ledger.Entry {
	out := make([]ledger.Entry, 0)
	for index := len(store.entries) - 1; index >= 0 && len(out) < limit; index-- {
		if store.entries[index].UserID == userID {
			out = append(out, store.entries[index])
		}
	}
	return out
}

func (transaction *memoryTx) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, transaction)
}

func (transaction *memoryTx) GetOrCreateWallet(ctx context.Context, userID ledger.UserID) (ledger.Wallet, error) {
	return transaction.store.getOrCreateWallet(userID)
}

func (transaction *memoryTx) AdjustBalance(ctx context.Context, userID ledger.UserID, delta int64, atUnixUTC int64) (ledger.Credits, error) {
	return transaction.store.adjustBalance(userID, delta)
}

func (transaction *memoryTx) InsertEntry(ctx context.Context, entry ledger.Entry) error {
	return transaction.store.insertEntry(entry)
}

func (transaction *memoryTx) ListEntries(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Entry, error) {
	return transaction.store.listEntries(userID, limit), nil
}

func (store *memoryStore) InsertRental(ctx context.Context, record rental.Rental) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.rentals[record.ID] = record
	return nil
}

func (store *memoryStore) GetRental(ctx context.Context, rentalID string) (rental.Rental, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, ok := store.rentals[rentalID]
	if !ok {
		return rental.Rental{}, rental.ErrRentalNotFound
	}
	return record, nil
}

func (store *memoryStore) UpdateRentalStatus(ctx context.Context, rentalID string, expected rental.Status, next rental.Status, at time.Time) (rental.Rental, error) {
	if store.beforeUpdate != nil {
		store.beforeUpdate(rentalID)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, ok := store.rentals[rentalID]
	if !ok {
		return rental.Rental{}, rental.ErrRentalNotFound
	}
	if record.Status != expected {
		return rental.Rental{}, rental.ErrStatusConflict
	}
	record.Status = next
	record.UpdatedAt = at
	store.rentals[rentalID] = record
	return record, nil
}

func (store *memoryStore) ListRentals(ctx context.Context, userID ledger.UserID) ([]rental.Rental, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.listError != nil {
		return nil, store.listError
	}
	out := make([]rental.Rental, 0)
	for _, record := range store.rentals {
		if record.Involves(userID) {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(left, right int) bool {
		return out[left].CreatedAt.After(out[right].CreatedAt)
	})
	return out, nil
}

func (store *memoryStore) forceStatus(rentalID string, status rental.Status) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record := store.rentals[rentalID]
	record.Status = status
	store.rentals[rentalID] = record
}

func (store *memoryStore) balanceOf(userID ledger.UserID) ledger.Credits {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.balances[userID]
}

func (store *memoryStore) setBalance(userID ledger.UserID, balance ledger.Credits) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.balances[userID] = balance
}

func (store *memoryStore) setWalletError(err error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.walletError = err
}

func (store *memoryStore) setListError(err error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.listError = err
}

func (store *memoryStore) rentalCount() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.rentals)
}

type marketplaceFixture struct {
	store   *memoryStore
	service *Service
}

func newFixture(test *testing.T, options ...Option) marketplaceFixture {
	test.Helper()
	store := newMemoryStore()
	ledgerService, err := ledger.NewService(store, func() int64 { return 1700000000 })
	if err != nil {
		test.Fatalf("ledger service: %v", err)
	}
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var clockMutex sync.Mutex
	engine, err := rental.NewEngine(store, func() time.Time {
		clockMutex.Lock()
		defer clockMutex.Unlock()
		tick = tick.Add(time.Second)
		return tick
	})
	if err != nil {
		test.Fatalf("rental engine: %v", err)
	}
	service, err := NewService(ledgerService, engine, notify.NewHub(), options...)
	if err != nil {
		test.Fatalf("marketplace service: %v", err)
	}
	return marketplaceFixture{store: store, service: service}
}

func mustUserID(test *testing.T, raw string) ledger.UserID {
	test.Helper()
	value, err := ledger.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}
