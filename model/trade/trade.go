package trade

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is a single executed trade normalized from a provider wire frame.
// Values are immutable once decoded; pass them by value.
type Trade struct {
	Symbol string
	Price  decimal.Decimal
	Size   decimal.Decimal // never negative
	Time   time.Time
}
