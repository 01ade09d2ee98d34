package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot represents a single acquisition of a security.
//
// TradeFX is the security-currency to base-currency conversion factor observed on
// the acquisition date. It is locked at lot creation and never changes for the
// life of the lot; restating it with a later rate is a correctness bug.
// Quantity and AverageCost are mutated only by corporate-action processing.
type Lot struct {
	ID              string
	PortfolioID     string
	SecurityID      string
	AcquisitionDate time.Time
	Quantity        decimal.Decimal
	AverageCost     decimal.Decimal // per share, in security currency
	TradeFX         decimal.Decimal // security currency -> base currency, locked at trade date
	CostBasisLocal  decimal.Decimal // quantity * averageCost, security currency
	CostBasisBase   decimal.Decimal // costBasisLocal * tradeFX, base currency
	CreatedAt       time.Time
}

// TotalCostLocal returns quantity * average cost in the security currency.
func (l Lot) TotalCostLocal() decimal.Decimal {
	return l.Quantity.Mul(l.AverageCost)
}
