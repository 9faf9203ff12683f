package rental

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/mutualaid/pkg/ledger"
)

var errStoreFailure = errors.New("store error")

type stubStore struct {
	mutex   sync.Mutex
	rentals map[string]Rental

	insertError error
	updateError error
	inserts     int
}

func newStubStore() *stubStore {
	return &stubStore{rentals: make(map[string]Rental)}
}

func (store *stubStore) InsertRental(ctx context.Context, rental Rental) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.insertError != nil {
		return store.insertError
	}
	store.inserts++
	store.rentals[rental.ID] = rental
	return nil
}

func (store *stubStore) GetRental(ctx context.Context, rentalID string) (Rental, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	rental, ok := store.rentals[rentalID]
	if !ok {
		return Rental{}, ErrRentalNotFound
	}
	return rental, nil
}

func (store *stubStore) UpdateRentalStatus(ctx context.Context, rentalID string, expected Status, next Status, at time.Time) (Rental, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.updateError != nil {
		return Rental{}, store.updateError
	}
	rental, ok := store.rentals[rentalID]
	if !ok {
		return Rental{}, ErrRentalNotFound
	}
	if rental.Status != expected {
		return Rental{}, ErrStatusConflict
	}
	rental.Status = next
	rental.UpdatedAt = at
	store.rentals[rentalID] = rental
	return rental, nil
}

func (store *stubStore) ListRentals(ctx context.Context, userID ledger.UserID) ([]Rental, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	out := make([]Rental, 0)
	for _, rental := range store.rentals {
		if rental.Involves(userID) {
			out = append(out, rental)
		}
	}
	sort.Slice(out, func(left, right int) bool {
		return out[left].CreatedAt.After(out[right].CreatedAt)
	})
	return out, nil
}

func (store *stubStore) forceStatus(rentalID string, status Status) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	rental := store.rentals[rentalID]
	rental.Status = status
	store.rentals[rentalID] = rental
}

// steppingClock advances one minute per call.
type steppingClock struct {
	mutex   sync.Mutex
	current time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{current: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (clock *steppingClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(time.Minute)
	return clock.current
}

type recorderLogger struct {
	mutex   sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogRentalOperation(_ context.Context, entry OperationLog) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.entries = append(logger.entries, entry)
}

func mustNewEngine(test *testing.T, store Store, options ...EngineOption) *Engine {
	test.Helper()
	engine, err := NewEngine(store, newSteppingClock().Now, options...)
	if err != nil {
		test.Fatalf("new engine: %v", err)
	}
	return engine
}

func mustUserID(test *testing.T, raw string) ledger.UserID {
	test.Helper()
	value, err := ledger.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustTime(test *testing.T, raw string) time.Time {
	test.Helper()
	value, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		test.Fatalf("time: %v", err)
	}
	return value
}

func newRequest(test *testing.T, ownerID string, renterID string) RentalRequest {
	test.Helper()
	return RentalRequest{
		ItemID:         "drill-1",
		OwnerID:        mustUserID(test, ownerID),
		RenterID:       mustUserID(test, renterID),
		StartDate:      mustTime(test, "2024-03-01T00:00:00Z"),
		EndDate:        mustTime(test, "2024-03-03T00:00:00Z"),
		DailyPrice:     10,
		DepositCredits: 5,
	}
}

func mustRequestRental(test *testing.T, engine *Engine, request RentalRequest) Rental {
	test.Helper()
	rental, err := engine.RequestRental(context.Background(), request)
	if err != nil {
		test.Fatalf("request rental: %v", err)
	}
	return rental
}
