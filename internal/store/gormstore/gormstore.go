package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/mutualaid/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mutualaid/pkg/rental"
)

const (
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	pgInvalidTextRepCode  = "22P02"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectWallet    = "wallet"
	errorSubjectBalance   = "balance"
	errorSubjectEntry     = "entry"
	errorSubjectRental    = "rental"
	errorCodeAdjust       = "adjust"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeInsufficient = "insufficient"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeLookup       = "lookup"
	errorCodeUpdateStatus = "update_status"
)

// Store implements ledger.Store and rental.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetOrCreateWallet(ctx context.Context, userID ledger.UserID) (ledger.Wallet, error) {
	now := time.Now().UTC()
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&Wallet{UserID: userID.String(), CreatedAt: now, UpdatedAt: now}).Error
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLookup, err)
	}
	var model Wallet
	if err := store.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&model).Error; err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, err)
	}
	return mapWallet(model)
}

// AdjustBalance applies delta in a single conditional update, so two concurrent
// debits can never both succeed against the same credits.
func (store *Store) AdjustBalance(ctx context.Context, userID ledger.UserID, delta int64, atUnixUTC int64) (ledger.Credits, error) {
	result := store.db.WithContext(ctx).
		Model(&Wallet{}).
		Where("user_id = ? AND balance + ? >= 0", userID.String(), delta).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", delta),
			"updated_at": time.Unix(atUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeAdjust, result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeInsufficient, ledger.ErrInsufficientBalance)
	}
	var model Wallet
	if err := store.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&model).Error; err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	balance, err := ledger.NewCredits(model.Balance)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

func (store *Store) InsertEntry(ctx context.Context, entry ledger.Entry) error {
	model := WalletEntry{
		EntryID:      entry.EntryID,
		UserID:       entry.UserID.String(),
		Type:         entry.Type.String(),
		Amount:       entry.Amount.Int64(),
		BalanceAfter: entry.BalanceAfter.Int64(),
		Reason:       entry.Reason.String(),
		ReferenceID:  entry.ReferenceID,
		Metadata:     datatypesJSON(entry.Metadata.String()),
		CreatedAt:    time.Unix(entry.CreatedUnixUTC, 0).UTC(),
	}
	if entry.CreatedUnixUTC == 0 {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueConflict(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateEntry)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListEntries(ctx context.Context, userID ledger.UserID, limit int) ([]ledger.Entry, error) {
	var rows []WalletEntry
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Order("sequence DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapWalletEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) InsertRental(ctx context.Context, record rental.Rental) error {
	model := Rental{
		ID:             record.ID,
		ItemID:         record.ItemID,
		OwnerID:        record.OwnerID.String(),
		RenterID:       record.RenterID.String(),
		StartDate:      record.StartDate.UTC(),
		EndDate:        record.EndDate.UTC(),
		DailyPrice:     record.DailyPrice.Int64(),
		TotalCredits:   record.TotalCredits.Int64(),
		DepositCredits: record.DepositCredits.Int64(),
		Status:         record.Status.String(),
		CreatedAt:      record.CreatedAt.UTC(),
		UpdatedAt:      record.UpdatedAt.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueConflict(err) {
		return wrapStoreError(errorSubjectRental, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectRental, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetRental(ctx context.Context, rentalID string) (rental.Rental, error) {
	var model Rental
	err := store.db.WithContext(ctx).Where("id = ?", rentalID).Take(&model).Error
	if err != nil {
		if isMissingRow(err) {
			return rental.Rental{}, wrapStoreError(errorSubjectRental, errorCodeGet, rental.ErrRentalNotFound)
		}
		return rental.Rental{}, wrapStoreError(errorSubjectRental, errorCodeGet, err)
	}
	record, err := mapRental(model)
	if err != nil {
		return rental.Rental{}, wrapStoreError(errorSubjectRental, errorCodeInvalid, err)
	}
	return record, nil
}

func (store *Store) UpdateRentalStatus(ctx context.Context, rentalID string, expected rental.Status, next rental.Status, at time.Time) (rental.Rental, error) {
	result := store.db.WithContext(ctx).
		Model(&Rental{}).
		Where("id = ? AND status = ?", rentalID, expected.String()).
		Updates(map[string]interface{}{
			"status":     next.String(),
			"updated_at": at.UTC(),
		})
	if result.Error != nil {
		if isMissingRow(result.Error) {
			return rental.Rental{}, wrapStoreError(errorSubjectRental, errorCodeUpdateStatus, rental.ErrRentalNotFound)
		}
		return rental.Rental{}, wrapStoreError(errorSubjectRental, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := store.GetRental(ctx, rentalID); err != nil {
			return rental.Rental{}, err
		}
		return rental.Rental{}, wrapStoreError(errorSubjectRental, errorCodeUpdateStatus, rental.ErrStatusConflict)
	}
	return store.GetRental(ctx, rentalID)
}

func (store *Store) ListRentals(ctx context.Context, userID ledger.UserID) ([]rental.Rental, error) {
	var rows []Rental
	err := store.db.WithContext(ctx).
		Where("owner_id = ? OR renter_id = ?", userID.String(), userID.String()).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRental, errorCodeList, err)
	}
	records := make([]rental.Rental, 0, len(rows))
	for _, row := range rows {
		record, err := mapRental(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRental, errorCodeInvalid, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func mapWallet(model Wallet) (ledger.Wallet, error) {
	userID, err := ledger.NewUserID(model.UserID)
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	balance, err := ledger.NewCredits(model.Balance)
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	return ledger.Wallet{UserID: userID, Balance: balance, UpdatedUnixUTC: model.UpdatedAt.Unix()}, nil
}

func mapWalletEntry(row WalletEntry) (ledger.Entry, error) {
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Entry{}, err
	}
	entryType, err := ledger.ParseEntryType(row.Type)
	if err != nil {
		return ledger.Entry{}, err
	}
	amount, err := ledger.NewPositiveCredits(row.Amount)
	if err != nil {
		return ledger.Entry{}, err
	}
	balanceAfter, err := ledger.NewCredits(row.BalanceAfter)
	if err != nil {
		return ledger.Entry{}, err
	}
	reason, err := ledger.ParseReason(row.Reason)
	if err != nil {
		return ledger.Entry{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.Entry{
		EntryID:        row.EntryID,
		UserID:         userID,
		Type:           entryType,
		Amount:         amount,
		BalanceAfter:   balanceAfter,
		Reason:         reason,
		ReferenceID:    row.ReferenceID,
		Metadata:       metadata,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func mapRental(row Rental) (rental.Rental, error) {
	ownerID, err := ledger.NewUserID(row.OwnerID)
	if err != nil {
		return rental.Rental{}, err
	}
	renterID, err := ledger.NewUserID(row.RenterID)
	if err != nil {
		return rental.Rental{}, err
	}
	status, err := rental.ParseStatus(row.Status)
	if err != nil {
		return rental.Rental{}, err
	}
	return rental.Rental{
		ID:             row.ID,
		ItemID:         row.ItemID,
		OwnerID:        ownerID,
		RenterID:       renterID,
		StartDate:      row.StartDate.UTC(),
		EndDate:        row.EndDate.UTC(),
		DailyPrice:     ledger.Credits(row.DailyPrice),
		DepositCredits: ledger.Credits(row.DepositCredits),
		TotalCredits:   ledger.Credits(row.TotalCredits),
		Status:         status,
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

var (
	_ ledger.Store = (*Store)(nil)
	_ rental.Store = (*Store)(nil)
)

// isMissingRow also covers ids a legacy uuid column cannot parse.
func isMissingRow(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgInvalidTextRepCode
	}
	return false
}
