package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Wallet mirrors the wallets table. Balance can never go negative.
type Wallet struct {
	UserID    string    `gorm:"primaryKey"`
	Balance   int64     `gorm:"not null;default:0;check:chk_wallets_balance_non_negative,balance >= 0"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Wallet) TableName() string { return "wallets" }

// WalletEntry mirrors the append-only wallet_entries table.
type WalletEntry struct {
	Sequence     int64          `gorm:"primaryKey;autoIncrement"`
	EntryID      string         `gorm:"not null;uniqueIndex:uniq_wallet_entries_entry_id"`
	UserID       string         `gorm:"not null;index:idx_wallet_entries_user_created,priority:1;uniqueIndex:uniq_wallet_entries_reference,priority:2"`
	Type         string         `gorm:"not null"`
	Amount       int64          `gorm:"not null"`
	BalanceAfter int64          `gorm:"not null"`
	Reason       string         `gorm:"not null;uniqueIndex:uniq_wallet_entries_reference,priority:3"`
	ReferenceID  string         `gorm:"not null;uniqueIndex:uniq_wallet_entries_reference,priority:1"`
	Metadata     datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt    time.Time      `gorm:"not null;index:idx_wallet_entries_user_created,priority:2"`
}

func (WalletEntry) TableName() string { return "wallet_entries" }

func (entry *WalletEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// Rental mirrors the rentals table.
type Rental struct {
	ID             string    `gorm:"column:id;primaryKey"`
	ItemID         string    `gorm:"not null"`
	OwnerID        string    `gorm:"not null;index:idx_rentals_owner"`
	RenterID       string    `gorm:"not null;index:idx_rentals_renter"`
	StartDate      time.Time `gorm:"not null"`
	EndDate        time.Time `gorm:"not null"`
	DailyPrice     int64     `gorm:"not null"`
	TotalCredits   int64     `gorm:"not null"`
	DepositCredits int64     `gorm:"not null;default:0"`
	Status         string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;index:idx_rentals_created"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (Rental) TableName() string { return "rentals" }

func (rental *Rental) BeforeCreate(tx *gorm.DB) error {
	if rental.ID == "" {
		rental.ID = uuid.NewString()
	}
	return nil
}

// AutoMigrate creates or updates every table the store uses.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Wallet{}, &WalletEntry{}, &Rental{})
}
