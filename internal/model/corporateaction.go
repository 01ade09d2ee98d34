package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Corporate action types.
const (
	ActionDividend     = "dividend"
	ActionSplit        = "split"
	ActionReverseSplit = "reverse_split"
	ActionMerger       = "merger"
	ActionSpinoff      = "spinoff"
)

// Corporate action processing statuses.
const (
	ActionStatusPending   = "pending"
	ActionStatusProcessed = "processed"
)

// CorporateAction represents a dividend, split, merger or spinoff event for a
// security. Actions are created on ingestion, transition to processed exactly
// once, and are never deleted; a reversal is a new offsetting action linked
// through ReversesActionID.
type CorporateAction struct {
	ID             string
	SecurityID     string
	Type           string
	ExDate         time.Time
	PayDate        time.Time
	EffectiveDate  time.Time
	AmountPerShare decimal.Decimal // dividends: declared amount per share
	AmountCurrency string          // dividends: currency the amount is declared in
	RatioFrom      decimal.Decimal // splits: shares before
	RatioTo        decimal.Decimal // splits: shares after
	ExchangeRatio  decimal.Decimal // mergers/spinoffs: target shares per source share
	TargetSecurity string          // mergers/spinoffs: security receiving the position
	Status         string
	ReversesAction string // set when this action offsets a previously processed one
	CreatedAt      time.Time
	ProcessedAt    time.Time
}

// SplitMultiplier returns the quantity multiplier ratioTo/ratioFrom.
func (a CorporateAction) SplitMultiplier() decimal.Decimal {
	return a.RatioTo.Div(a.RatioFrom)
}

// PriceMultiplier returns the per-share price multiplier ratioFrom/ratioTo.
func (a CorporateAction) PriceMultiplier() decimal.Decimal {
	return a.RatioFrom.Div(a.RatioTo)
}

// DividendLotEntry is the per-lot outcome of processing a dividend action.
// Amounts are in base currency; FXRate is the pay-date conversion factor that
// produced them (1 for base-currency securities).
type DividendLotEntry struct {
	LotID           string
	Quantity        decimal.Decimal
	PerShareBase    decimal.Decimal
	Gross           decimal.Decimal
	Withholding     decimal.Decimal
	Net             decimal.Decimal
	FXRate          decimal.Decimal
	FXDate          time.Time // always the pay date
}

// DividendResult aggregates the lot entries for one processed dividend action.
type DividendResult struct {
	ActionID         string
	SecurityID       string
	Entries          []DividendLotEntry
	TotalGross       decimal.Decimal
	TotalWithholding decimal.Decimal
	TotalNet         decimal.Decimal
	PostingID        string
}

// SplitResult reports the lot mutations applied by a split action.
type SplitResult struct {
	ActionID        string
	SecurityID      string
	LotIDs          []string
	SplitMultiplier decimal.Decimal
	PriceMultiplier decimal.Decimal
	TotalBasis      decimal.Decimal // unchanged by the split, verified
}

// MergerResult reports the lot transfer applied by a merger or spinoff action.
type MergerResult struct {
	ActionID         string
	SourceSecurityID string
	TargetSecurityID string
	ClosedLotIDs     []string
	OpenedLotIDs     []string
	BasisTransferred decimal.Decimal // base currency
}
