package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FXObservation is one observed conversion factor for a directed currency pair
// on a date: an amount in FromCurrency multiplied by Rate yields ToCurrency.
// Observations are append-only and unique per (pair, date).
type FXObservation struct {
	ID           string
	FromCurrency string
	ToCurrency   string
	Date         time.Time
	Rate         decimal.Decimal
	CreatedAt    time.Time
}
