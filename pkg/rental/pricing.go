package rental

import (
	"fmt"
	"math"
	"time"

	"github.com/MarkoPoloResearchLab/mutualaid/pkg/ledger"
)

const billingDay = 24 * time.Hour

// BillableDays counts started days in [start, end), with a minimum of one.
func BillableDays(start time.Time, end time.Time) (int64, error) {
	if !end.After(start) {
		return 0, fmt.Errorf("%w: end %s is not after start %s", ErrInvalidDateRange, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	duration := end.Sub(start)
	days := int64(duration / billingDay)
	if duration%billingDay != 0 {
		days++
	}
	if days < 1 {
		days = 1
	}
	return days, nil
}

// QuoteTotal prices a rental. The result is frozen into the rental at creation.
func QuoteTotal(start time.Time, end time.Time, dailyPrice ledger.Credits) (ledger.Credits, error) {
	if dailyPrice < 0 {
		return 0, fmt.Errorf("%w: daily price must not be negative", ErrInvalidPrice)
	}
	days, err := BillableDays(start, end)
	if err != nil {
		return 0, err
	}
	if dailyPrice > 0 && days > math.MaxInt64/dailyPrice.Int64() {
		return 0, fmt.Errorf("%w: total overflows", ErrInvalidPrice)
	}
	return ledger.Credits(days * dailyPrice.Int64()), nil
}
