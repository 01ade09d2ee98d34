package model

import "github.com/shopspring/decimal"

// Security represents immutable reference data for a tradable instrument.
type Security struct {
	ID       string
	Name     string
	Symbol   string
	Currency string // trading currency (ISO 4217)

	// IsADR classifies depositary receipts whose dividends are declared in the
	// issuer's home currency. Dividend conversion keys off the declared
	// AmountCurrency, which covers ADRs and ordinary foreign listings alike;
	// the flag is reference data for reporting.
	IsADR bool

	WithholdingRate decimal.Decimal // dividend withholding tax rate, e.g. 0.15
}
