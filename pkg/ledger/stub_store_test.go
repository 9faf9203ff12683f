package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
)

var errStoreFailure = errors.New("store error")

// stubStore is an in-memory Store whose transactions roll back on error.
type stubStore struct {
	mutex sync.Mutex
	state stubState

	getWalletError   error
	adjustError      error
	insertEntryError error
	listEntriesError error
	withTxCalls      int
}

type stubState struct {
	balances map[UserID]Credits
	entries  []Entry
}

type stubTx struct {
	store *stubStore
}

func newStubStore(test *testing.T, balances map[string]int64) *stubStore {
	test.Helper()
	store := &stubStore{state: stubState{balances: make(map[UserID]Credits)}}
	for rawUserID, rawBalance := range balances {
		store.state.balances[mustUserID(test, rawUserID)] = mustCredits(test, rawBalance)
	}
	return store
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.withTxCalls++
	snapshot := store.state.clone()
	if err := fn(ctx, &stubTx{store: store}); err != nil {
		store.state = snapshot
		return err
	}
	return nil
}

func (store *stubStore) GetOrCreateWallet(ctx context.Context, userID UserID) (Wallet, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.getOrCreateWallet(userID)
}

func (store *stubStore) AdjustBalance(ctx context.Context, userID UserID, delta int64, atUnixUTC int64) (Credits, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.adjustBalance(userID, delta)
}

func (store *stubStore) InsertEntry(ctx context.Context, entry Entry) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.insertEntry(entry)
}

func (store *stubStore) ListEntries(ctx context.Context, userID UserID, limit int) ([]Entry, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.listEntries(userID, limit)
}

func (store *stubStore) getOrCreateWallet(userID UserID) (Wallet, error) {
	if store.getWalletError != nil {
		return Wallet{}, store.getWalletError
	}
	balance, ok := store.state.balances[userID]
	if !ok {
		store.state.balances[userID] = 0
	}
	return Wallet{UserID: userID, Balance: balance}, nil
}

func (store *stubStore) adjustBalance(userID UserID, delta int64) (Credits, error) {
	if store.adjustError != nil {
		return 0, store.adjustError
	}
	updated := store.state.balances[userID].Int64() + delta
	if updated < 0 {
		return 0, ErrInsufficientBalance
	}
	store.state.balances[userID] = Credits(updated)
	return Credits(updated), nil
}

func (store *stubStore) insertEntry(entry Entry) error {
	if store.insertEntryError != nil {
		return store.insertEntryError
	}
	for _, existing := range store.state.entries {
		if existing.EntryID == entry.EntryID {
			return ErrDuplicateEntry
		}
	}
	store.state.entries = append(store.state.entries, entry)
	return nil
}

func (store *stubStore) listEntries(userID UserID, limit int) ([]Entry, error) {
	if store.listEntriesError != nil {
		return nil, store.listEntriesError
	}
	out := make([]Entry, 0, limit)
	for index := len(store.state.entries) - 1; index >= 0 && len(out) < limit; index-- {
		if store.state.entries[index].UserID == userID {
			out = append(out, store.state.entries[index])
		}
	}
	return out, nil
}

func (store *stubStore) balanceOf(test *testing.T, rawUserID string) Credits {
	test.Helper()
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.state.balances[mustUserID(test, rawUserID)]
}

func (store *stubStore) setBalance(test *testing.T, rawUserID string, raw int64) {
	test.Helper()
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.state.balances[mustUserID(test, rawUserID)] = mustCredits(test, raw)
}

func (store *stubStore) entryCount() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.state.entries)
}

func (state stubState) clone() stubState {
	balances := make(map[UserID]Credits, len(state.balances))
	for userID, balance := range state.balances {
		balances[userID] = balance
	}
	return stubState{balances: balances, entries: append([]Entry(nil), state.entries...)}
}

func (transaction *stubTx) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, transaction)
}

func (transaction *stubTx) GetOrCreateWallet(ctx context.Context, userID UserID) (Wallet, error) {
	return transaction.store.getOrCreateWallet(userID)
}

func (transaction *stubTx) AdjustBalance(ctx context.Context, userID UserID, delta int64, atUnixUTC int64) (Credits, error) {
	return transaction.store.adjustBalance(userID, delta)
}

func (transaction *stubTx) InsertEntry(ctx context.Context, entry Entry) error {
	return transaction.store.insertEntry(entry)
}

func (transaction *stubTx) ListEntries(ctx context.Context, userID UserID, limit int) ([]Entry, error) {
	return transaction.store.listEntries(userID, limit)
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 100 }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustCredits(test *testing.T, raw int64) Credits {
	test.Helper()
	value, err := NewCredits(raw)
	if err != nil {
		test.Fatalf("credits: %v", err)
	}
	return value
}

func mustPositiveCredits(test *testing.T, raw int64) PositiveCredits {
	test.Helper()
	value, err := NewPositiveCredits(raw)
	if err != nil {
		test.Fatalf("positive credits: %v", err)
	}
	return value
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	value, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return value
}
