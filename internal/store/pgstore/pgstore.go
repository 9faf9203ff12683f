package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarkoPoloResearchLab/mutualaid/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mutualaid/pkg/rental"
)

const (
	pgUniqueViolationCode   = "23505"
	pgInvalidTextRepCode    = "22P02"
	errorOperationStore     = "store"
	errorSubjectWallet      = "wallet"
	errorSubjectBalance     = "balance"
	errorSubjectEntry       = "entry"
	errorSubjectRental      = "rental"
	errorSubjectSchema      = "schema"
	errorSubjectTransaction = "transaction"
	errorCodeAdjust         = "adjust"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInsufficient   = "insufficient"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeMigrate        = "migrate"
	errorCodeUpdateStatus   = "update_status"

	sqlInsertOrGetWallet = `
		insert into wallets(user_id) values($1)
		on conflict (user_id) do update set user_id = excluded.user_id
		returning user_id, balance, extract(epoch from updated_at)::bigint
	`

	sqlAdjustBalance = `
		update wallets
		set balance = balance + $2, updated_at = to_timestamp($3)
		where user_id = $1 and balance + $2 >= 0
		returning balance
	`

	sqlInsertEntry = `
		insert into wallet_entries(
			entry_id, user_id, type, amount, balance_after, reason, reference_id, metadata, created_at
		)
		values(
			$1, $2, $3, $4, $5, $6, $7,
			coalesce(nullif($8,''),'{}')::jsonb,
			to_timestamp($9)
		)
	`

	sqlListEntries = `
		select
			entry_id::text,
			user_id,
			type,
			amount,
			balance_after,
			reason,
			reference_id,
			coalesce(metadata::text,'{}'),
			extract(epoch from created_at)::bigint
		from wallet_entries
		where user_id = $1
		order by created_at desc, sequence desc
		limit $2
	`

	sqlRentalColumns = `
		id::text, item_id, owner_id, renter_id, start_date, end_date,
		daily_price, total_credits, deposit_credits, status, created_at, updated_at
	`

	sqlInsertRental = `
		insert into rentals(
			id, item_id, owner_id, renter_id, start_date, end_date,
			daily_price, total_credits, deposit_credits, status, created_at, updated_at
		)
		values($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	sqlSelectRental = `select ` + sqlRentalColumns + ` from rentals where id = $1`

	sqlUpdateRentalStatus = `
		update rentals
		set status = $3, updated_at = $4
		where id = $1 and status = $2
		returning ` + sqlRentalColumns

	sqlListRentals = `
		select ` + sqlRentalColumns + `
		from rentals
		where owner_id = $1 or renter_id = $1
		order by created_at desc
	`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// queries holds the statements shared by Store and TxStore.
type queries struct {
	db querier
}

// Store implements ledger.Store and rental.Store using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool *pgxpool.Pool
}

// TxStore implements ledger.Store for an active transaction.
type TxStore struct {
	queries
	tx pgx.Tx
}

var (
	_ ledger.Store = (*Store)(nil)
	_ ledger.Store = (*TxStore)(nil)
	_ rental.Store = (*Store)(nil)
)

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{db: tx}, tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

func (store queries) GetOrCreateWallet(ctx context.Context, userID ledger.UserID) (ledger.Wallet, error) {
	var (
		userValue      string
		balanceValue   int64
		updatedUnixUTC int64
	)
	err := store.db.QueryRow(ctx, sqlInsertOrGetWallet, userID.String()).Scan(&userValue, &balanceValue, &updatedUnixUTC)
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLookup, err)
	}
	parsedUserID, err := ledger.NewUserID(userValue)
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	balance, err := ledger.NewCredits(balanceValue)
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	return ledger.Wallet{UserID: parsedUserID, Balance: balance, UpdatedUnixUTC: updatedUnixUTC}, nil
}

func (store queries) AdjustBalance(ctx context.Context, userID ledger.UserID, delta int64, atUnixUTC int64) (ledger.Credits, error) {
	var balanceValue int64
	err := store.db.QueryRow(ctx, sqlAdjustBalance, userID.String(), delta, atUnixUTC).Scan(&balanceValue)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, wrapStoreError(errorSubjectBalance, errorCodeInsufficient, ledger.ErrInsufficientBalance)
		}
		return 0, wrapStoreError(errorSubjectBalance, errorCodeAdjust, err)
	}
	balance, err := ledger.NewCredits(balanceValue)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

func (store queries) InsertEntry(ctx context.Context, entry ledger.Entry) error {
	createdUnixUTC := entry.CreatedUnixUTC
	if createdUnixUTC == 0 {
		createdUnixUTC = time.Now().UTC().Unix()
	}
	_, err := store.db.Exec(ctx, sqlInsertEntry,
		entry.EntryID,
		entry.UserID.String(),
		entry.Type.String(),
		entry.Amount.Int64(),
		entry.BalanceAfter.Int64(),
		entry.Reason.String(),
		entry.ReferenceID,
		entry.Metadata.String(),
		createdUnixUTC,
	)
	if isUniqueConflict(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateEntry)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store queries) ListEntries(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Entry, error) {
	rows, err := store.db.Query(ctx, sqlListEntries, userID.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entries, nil
}

func (store queries) InsertRental(ctx context.Context, record rental.Rental) error {
	_, err := store.db.Exec(ctx, sqlInsertRental,
		record.ID,
		record.ItemID,
		record.OwnerID.String(),
		record.RenterID.String(),
		record.StartDate.UTC(),
		record.EndDate.UTC(),
		record.DailyPrice.Int64(),
		record.TotalCredits.Int64(),
		record.DepositCredits.Int64(),
		record.Status.String(),
		record.CreatedAt.UTC(),
		record.UpdatedAt.UTC(),
	)
	if isUniqueConflict(err) {
		return wrapStoreError(errorSubjectRental, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectRental, errorCodeInsert, err)
	}
	return nil
}

func (store queries) GetRental(ctx context.Context, rentalID string) (rental.Rental, error) {
	record, err := scanRental(store.db.QueryRow(ctx, sqlSelectRental, rentalID))
	if err != nil {
		if isMissingRow(err) {
			return rental.Rental{}, wrapStoreError(errorSubjectRental, errorCodeGet, rental.ErrRentalNotFound)
		}
		return rental.Rental{}, wrapStoreError(errorSubjectRental, errorCodeGet, err)
	}
	return record, nil
}

func (store queries) UpdateRentalStatus(ctx context.Context, rentalID string, expected rental.Status, next rental.Status, at time.Time) (rental.Rental, error) {
	record, err := scanRental(store.db.QueryRow(ctx, sqlUpdateRentalStatus, rentalID, expected.String(), next.String(), at.UTC()))
	if err == nil {
		return record, nil
	}
	if !isMissingRow(err) {
		return rental.Rental{}, wrapStoreError(errorSubjectRental, errorCodeUpdateStatus, err)
	}
	if _, lookupErr := store.GetRental(ctx, rentalID); lookupErr != nil {
		return rental.Rental{}, lookupErr
	}
	return rental.Rental{}, wrapStoreError(errorSubjectRental, errorCodeUpdateStatus, rental.ErrStatusConflict)
}

func (store queries) ListRentals(ctx context.Context, userID ledger.UserID) ([]rental.Rental, error) {
	rows, err := store.db.Query(ctx, sqlListRentals, userID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectRental, errorCodeList, err)
	}
	defer rows.Close()
	records := make([]rental.Rental, 0)
	for rows.Next() {
		record, err := scanRental(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRental, errorCodeInvalid, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectRental, errorCodeList, err)
	}
	return records, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func scanEntries(rows pgx.Rows) ([]ledger.Entry, error) {
	entries := make([]ledger.Entry, 0)
	for rows.Next() {
		var (
			entryIDValue      string
			userValue         string
			typeValue         string
			amountValue       int64
			balanceAfterValue int64
			reasonValue       string
			referenceID       string
			metadataValue     string
			createdUnixUTC    int64
		)
		if err := rows.Scan(&entryIDValue, &userValue, &typeValue, &amountValue, &balanceAfterValue, &reasonValue, &referenceID, &metadataValue, &createdUnixUTC); err != nil {
			return nil, err
		}
		userID, err := ledger.NewUserID(userValue)
		if err != nil {
			return nil, err
		}
		entryType, err := ledger.ParseEntryType(typeValue)
		if err != nil {
			return nil, err
		}
		amount, err := ledger.NewPositiveCredits(amountValue)
		if err != nil {
			return nil, err
		}
		balanceAfter, err := ledger.NewCredits(balanceAfterValue)
		if err != nil {
			return nil, err
		}
		reason, err := ledger.ParseReason(reasonValue)
		if err != nil {
			return nil, err
		}
		metadata, err := ledger.NewMetadataJSON(metadataValue)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ledger.Entry{
			EntryID:        entryIDValue,
			UserID:         userID,
			Type:           entryType,
			Amount:         amount,
			BalanceAfter:   balanceAfter,
			Reason:         reason,
			ReferenceID:    referenceID,
			Metadata:       metadata,
			CreatedUnixUTC: createdUnixUTC,
		})
	}
	return entries, rows.Err()
}

func scanRental(row pgx.Row) (rental.Rental, error) {
	var (
		record      rental.Rental
		ownerValue  string
		renterValue string
		statusValue string
		dailyPrice  int64
		total       int64
		deposit     int64
	)
	err := row.Scan(
		&record.ID,
		&record.ItemID,
		&ownerValue,
		&renterValue,
		&record.StartDate,
		&record.EndDate,
		&dailyPrice,
		&total,
		&deposit,
		&statusValue,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return rental.Rental{}, err
	}
	if record.OwnerID, err = ledger.NewUserID(ownerValue); err != nil {
		return rental.Rental{}, err
	}
	if record.RenterID, err = ledger.NewUserID(renterValue); err != nil {
		return rental.Rental{}, err
	}
	if record.Status, err = rental.ParseStatus(statusValue); err != nil {
		return rental.Rental{}, err
	}
	record.DailyPrice = ledger.Credits(dailyPrice)
	record.TotalCredits = ledger.Credits(total)
	record.DepositCredits = ledger.Credits(deposit)
	record.StartDate = record.StartDate.UTC()
	record.EndDate = record.EndDate.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

func isUniqueConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	return false
}

// isMissingRow also covers ids a legacy uuid column cannot parse.
func isMissingRow(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgInvalidTextRepCode
	}
	return false
}
