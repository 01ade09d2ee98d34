package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pricing pack statuses. A pack is mutable while building; once marked fresh it
// is the immutable unit of valuation reproducibility and is never touched again.
const (
	PackStatusBuilding = "building"
	PackStatusFresh    = "fresh"
)

// PricingPack identifies a dated snapshot of closing prices and FX rates.
// Every valuation reads price and FX from exactly one pack.
type PricingPack struct {
	ID        string
	AsOf      time.Time
	Status    string
	CreatedAt time.Time
}

// PackPrice is the closing price for one security inside a pack.
type PackPrice struct {
	PackID     string
	SecurityID string
	Close      decimal.Decimal
}

// PackFXRate is the currency -> base conversion factor inside a pack.
type PackFXRate struct {
	PackID   string
	Currency string
	Rate     decimal.Decimal
}
