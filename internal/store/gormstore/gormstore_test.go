package gormstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/mutualaid/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mutualaid/pkg/rental"
)

func openTestStore(test *testing.T) *Store {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(test.TempDir()+"/mutualaid.db"), &gorm.Config{})
	require.NoError(test, err)
	sqlDB, err := db.DB()
	require.NoError(test, err)
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(test, AutoMigrate(db))
	return New(db)
}

func mustUserID(test *testing.T, raw string) ledger.UserID {
	test.Helper()
	userID, err := ledger.NewUserID(raw)
	require.NoError(test, err)
	return userID
}

func newLedgerService(test *testing.T, store *Store) *ledger.Service {
	test.Helper()
	service, err := ledger.NewService(store, func() int64 { return time.Now().UTC().Unix() })
	require.NoError(test, err)
	return service
}

func TestGetOrCreateWalletIsIdempotent(test *testing.T) {
	store := openTestStore(test)
	ctx := context.Background()
	userID := mustUserID(test, "user-1")

	first, err := store.GetOrCreateWallet(ctx, userID)
	require.NoError(test, err)
	require.Equal(test, ledger.Credits(0), first.Balance)

	_, err = store.AdjustBalance(ctx, userID, 12, time.Now().Unix())
	require.NoError(test, err)

	second, err := store.GetOrCreateWallet(ctx, userID)
	require.NoError(test, err)
	require.Equal(test, ledger.Credits(12), second.Balance)
}

func TestAdjustBalanceIsConditional(test *testing.T) {
	store := openTestStore(test)
	ctx := context.Background()
	userID := mustUserID(test, "user-1")
	_, err := store.GetOrCreateWallet(ctx, userID)
	require.NoError(test, err)

	balance, err := store.AdjustBalance(ctx, userID, 10, time.Now().Unix())
	require.NoError(test, err)
	require.Equal(test, ledger.Credits(10), balance)

	_, err = store.AdjustBalance(ctx, userID, -11, time.Now().Unix())
	require.ErrorIs(test, err, ledger.ErrInsufficientBalance)
	require.Equal(test, "insufficient", ledger.ErrorCode(err))

	balance, err = store.AdjustBalance(ctx, userID, -10, time.Now().Unix())
	require.NoError(test, err)
	require.Equal(test, ledger.Credits(0), balance)
}

func TestPostRollsBackEveryLegOnFailure(test *testing.T) {
	store := openTestStore(test)
	ctx := context.Background()
	service := newLedgerService(test, store)
	payer := mustUserID(test, "payer")
	payee := mustUserID(test, "payee")
	_, err := service.Credit(ctx, payer, 5, ledger.ReasonGrant, "grant-1", ledger.MetadataJSON{})
	require.NoError(test, err)

	err = service.Transfer(ctx, payer, payee, 6, ledger.ReasonTaskPayment, "task-1", ledger.MetadataJSON{})
	require.ErrorIs(test, err, ledger.ErrInsufficientBalance)

	payerBalance, err := service.Balance(ctx, payer)
	require.NoError(test, err)
	require.Equal(test, ledger.Credits(5), payerBalance)
	payeeBalance, err := service.Balance(ctx, payee)
	require.NoError(test, err)
	require.Equal(test, ledger.Credits(0), payeeBalance)
	entries, err := service.ListEntries(ctx, payee, 0)
	require.NoError(test, err)
	require.Empty(test, entries)
}

func TestEntriesRoundTripNewestFirst(test *testing.T) {
	store := openTestStore(test)
	ctx := context.Background()
	service := newLedgerService(test, store)
	userID := mustUserID(test, "user-1")
	metadata, err := ledger.NewMetadataJSON(`{"note":"welcome"}`)
	require.NoError(test, err)

	_, err = service.Credit(ctx, userID, 30, ledger.ReasonGrant, "grant-1", metadata)
	require.NoError(test, err)
	_, err = service.Debit(ctx, userID, 8, ledger.ReasonDepositHold, "rental-1", ledger.MetadataJSON{})
	require.NoError(test, err)

	entries, err := service.ListEntries(ctx, userID, 10)
	require.NoError(test, err)
	require.Len(test, entries, 2)
	require.Equal(test, ledger.EntryDebit, entries[0].Type)
	require.Equal(test, ledger.Credits(22), entries[0].BalanceAfter)
	require.Equal(test, ledger.ReasonDepositHold, entries[0].Reason)
	require.Equal(test, ledger.EntryCredit, entries[1].Type)
	require.JSONEq(test, `{"note":"welcome"}`, entries[1].Metadata.String())
}

func TestInsertEntryDetectsDuplicates(test *testing.T) {
	store := openTestStore(test)
	ctx := context.Background()
	userID := mustUserID(test, "user-1")
	entry := ledger.Entry{
		EntryID:        "3f1c3a3e-6d4f-4c1b-9d55-1b7c4f0f6a10",
		UserID:         userID,
		Type:           ledger.EntryCredit,
		Amount:         1,
		BalanceAfter:   1,
		Reason:         ledger.ReasonGrant,
		ReferenceID:    "grant-1",
		CreatedUnixUTC: time.Now().Unix(),
	}
	require.NoError(test, store.InsertEntry(ctx, entry))
	err := store.InsertEntry(ctx, entry)
	require.ErrorIs(test, err, ledger.ErrDuplicateEntry)
}

func TestReplayedTransferIsRejected(test *testing.T) {
	store := openTestStore(test)
	service := newLedgerService(test, store)
	ctx := context.Background()
	payer := mustUserID(test, "payer-1")
	payee := mustUserID(test, "payee-1")

	_, err := service.Credit(ctx, payer, 100, ledger.ReasonGrant, "grant-1", ledger.MetadataJSON{})
	require.NoError(test, err)
	require.NoError(test, service.Transfer(ctx, payer, payee, 30, ledger.ReasonTaskPayment, "task:task-42", ledger.MetadataJSON{}))

	err = service.Transfer(ctx, payer, payee, 30, ledger.ReasonTaskPayment, "task:task-42", ledger.MetadataJSON{})
	require.ErrorIs(test, err, ledger.ErrDuplicateEntry)

	payerBalance, err := service.Balance(ctx, payer)
	require.NoError(test, err)
	require.Equal(test, ledger.Credits(70), payerBalance)
	payeeBalance, err := service.Balance(ctx, payee)
	require.NoError(test, err)
	require.Equal(test, ledger.Credits(30), payeeBalance)

	entries, err := store.ListEntries(ctx, payer, 10)
	require.NoError(test, err)
	require.Len(test, entries, 2)

	// Same reference under a different reason is a distinct entry.
	_, err = service.Debit(ctx, payer, 5, ledger.ReasonDepositHold, "task:task-42", ledger.MetadataJSON{})
	require.NoError(test, err)
}

func TestConcurrentDebitsNeverOverdraw(test *testing.T) {
	store := openTestStore(test)
	ctx := context.Background()
	service := newLedgerService(test, store)
	userID := mustUserID(test, "user-1")
	_, err := service.Credit(ctx, userID, 30, ledger.ReasonGrant, "grant-1", ledger.MetadataJSON{})
	require.NoError(test, err)

	const workers = 8
	var waitGroup sync.WaitGroup
	var mutex sync.Mutex
	successes := 0
	for index := 0; index < workers; index++ {
		waitGroup.Add(1)
		referenceID := fmt.Sprintf("task-%d", index)
		go func() {
			defer waitGroup.Done()
			if _, debitErr := service.Debit(ctx, userID, 10, ledger.ReasonTaskPayment, referenceID, ledger.MetadataJSON{}); debitErr == nil {
				mutex.Lock()
				successes++
				mutex.Unlock()
			}
		}()
	}
	waitGroup.Wait()

	require.Equal(test, 3, successes)
	balance, err := service.Balance(ctx, userID)
	require.NoError(test, err)
	require.Equal(test, ledger.Credits(0), balance)
}

func TestRentalLifecycle(test *testing.T) {
	store := openTestStore(test)
	ctx := context.Background()
	owner := mustUserID(test, "owner-1")
	renter := mustUserID(test, "renter-1")
	created := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	record := rental.Rental{
		ID:             "7a0d5e52-2f0e-4d7d-8d8c-0a4f2f0d4b11",
		ItemID:         "tent-2",
		OwnerID:        owner,
		RenterID:       renter,
		StartDate:      time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC),
		DailyPrice:     7,
		DepositCredits: 3,
		TotalCredits:   14,
		Status:         rental.StatusRequested,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	require.NoError(test, store.InsertRental(ctx, record))

	loaded, err := store.GetRental(ctx, record.ID)
	require.NoError(test, err)
	require.Equal(test, ledger.Credits(14), loaded.TotalCredits)
	require.True(test, loaded.StartDate.Equal(record.StartDate))

	updated, err := store.UpdateRentalStatus(ctx, record.ID, rental.StatusRequested, rental.StatusAccepted, created.Add(time.Hour))
	require.NoError(test, err)
	require.Equal(test, rental.StatusAccepted, updated.Status)

	_, err = store.UpdateRentalStatus(ctx, record.ID, rental.StatusRequested, rental.StatusCancelled, created.Add(2*time.Hour))
	require.ErrorIs(test, err, rental.ErrStatusConflict)

	_, err = store.UpdateRentalStatus(ctx, "missing", rental.StatusRequested, rental.StatusAccepted, created)
	require.ErrorIs(test, err, rental.ErrRentalNotFound)

	_, err = store.GetRental(ctx, "missing")
	require.True(test, errors.Is(err, rental.ErrRentalNotFound))

	_, err = store.GetRental(ctx, "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(test, err, rental.ErrRentalNotFound)
}

func TestListRentalsFiltersAndOrders(test *testing.T) {
	store := openTestStore(test)
	ctx := context.Background()
	engine, err := rental.NewEngine(store, steppingClock())
	require.NoError(test, err)
	owner := mustUserID(test, "owner-1")
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	request := func(ownerID string, renterID string) rental.RentalRequest {
		return rental.RentalRequest{
			ItemID:     "bike",
			OwnerID:    mustUserID(test, ownerID),
			RenterID:   mustUserID(test, renterID),
			StartDate:  start,
			EndDate:    start.Add(36 * time.Hour),
			DailyPrice: 4,
		}
	}

	older, err := engine.RequestRental(ctx, request("owner-1", "renter-1"))
	require.NoError(test, err)
	newer, err := engine.RequestRental(ctx, request("renter-2", "owner-1"))
	require.NoError(test, err)
	_, err = engine.RequestRental(ctx, request("owner-3", "renter-3"))
	require.NoError(test, err)

	rentals, err := engine.ListRentals(ctx, owner)
	require.NoError(test, err)
	require.Len(test, rentals, 2)
	require.Equal(test, newer.ID, rentals[0].ID)
	require.Equal(test, older.ID, rentals[1].ID)
	require.Equal(test, ledger.Credits(8), rentals[1].TotalCredits)
}

func TestRentalsAcceptCustomIDs(test *testing.T) {
	store := openTestStore(test)
	ctx := context.Background()
	engine, err := rental.NewEngine(store, steppingClock(), rental.WithIDGenerator(func() string { return "rental-custom-1" }))
	require.NoError(test, err)
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	created, err := engine.RequestRental(ctx, rental.RentalRequest{
		ItemID:     "ladder",
		OwnerID:    mustUserID(test, "owner-1"),
		RenterID:   mustUserID(test, "renter-1"),
		StartDate:  start,
		EndDate:    start.Add(24 * time.Hour),
		DailyPrice: 5,
	})
	require.NoError(test, err)
	require.Equal(test, "rental-custom-1", created.ID)

	loaded, err := engine.GetRental(ctx, "rental-custom-1")
	require.NoError(test, err)
	require.Equal(test, rental.StatusRequested, loaded.Status)

	accepted, err := engine.UpdateRentalStatus(ctx, "rental-custom-1", rental.StatusAccepted)
	require.NoError(test, err)
	require.Equal(test, rental.StatusAccepted, accepted.Status)
}

func steppingClock() func() time.Time {
	var mutex sync.Mutex
	current := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mutex.Lock()
		defer mutex.Unlock()
		current = current.Add(time.Minute)
		return current
	}
}
