package httpapi

import (
	"encoding/json"
	"time"

	"github.com/MarkoPoloResearchLab/mutualaid/internal/marketplace"
	"github.com/MarkoPoloResearchLab/mutualaid/pkg/rental"
)

type grantRequest struct {
	Credits int64  `json:"credits"`
	Note    string `json:"note"`
}

type taskPaymentRequest struct {
	TaskID    string `json:"task_id"`
	Title     string `json:"title"`
	PayeeID   string `json:"payee_id"`
	Credits   int64  `json:"credits"`
	Completed bool   `json:"completed"`
}

type rentalRequest struct {
	ItemID         string `json:"item_id"`
	OwnerID        string `json:"owner_id"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	DailyPrice     int64  `json:"daily_price"`
	DepositCredits int64  `json:"deposit_credits"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type walletPayload struct {
	Balance int64          `json:"balance"`
	Entries []entryPayload `json:"entries"`
}

type entryPayload struct {
	EntryID        string          `json:"entry_id"`
	Type           string          `json:"type"`
	Amount         int64           `json:"amount"`
	BalanceAfter   int64           `json:"balance_after"`
	Reason         string          `json:"reason"`
	ReferenceID    string          `json:"reference_id"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

type rentalPayload struct {
	ID             string    `json:"id"`
	ItemID         string    `json:"item_id"`
	OwnerID        string    `json:"owner_id"`
	RenterID       string    `json:"renter_id"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	DailyPrice     int64     `json:"daily_price"`
	DepositCredits int64     `json:"deposit_credits"`
	TotalCredits   int64     `json:"total_credits"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func newWalletPayload(snapshot marketplace.WalletSnapshot) walletPayload {
	entries := make([]entryPayload, 0, len(snapshot.Entries))
	for _, entry := range snapshot.Entries {
		entries = append(entries, entryPayload{
			EntryID:        entry.EntryID,
			Type:           entry.Type.String(),
			Amount:         entry.Amount.Int64(),
			BalanceAfter:   entry.BalanceAfter.Int64(),
			Reason:         entry.Reason.String(),
			ReferenceID:    entry.ReferenceID,
			Metadata:       json.RawMessage(entry.Metadata.String()),
			CreatedUnixUTC: entry.CreatedUnixUTC,
		})
	}
	return walletPayload{Balance: snapshot.Balance.Int64(), Entries: entries}
}

func newRentalPayload(record rental.Rental) rentalPayload {
	return rentalPayload{
		ID:             record.ID,
		ItemID:         record.ItemID,
		OwnerID:        record.OwnerID.String(),
		RenterID:       record.RenterID.String(),
		StartDate:      record.StartDate,
		EndDate:        record.EndDate,
		DailyPrice:     record.DailyPrice.Int64(),
		DepositCredits: record.DepositCredits.Int64(),
		TotalCredits:   record.TotalCredits.Int64(),
		Status:         record.Status.String(),
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
}

func newRentalPayloads(records []rental.Rental) []rentalPayload {
	payloads := make([]rentalPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, newRentalPayload(record))
	}
	return payloads
}
