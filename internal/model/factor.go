package model

import "time"

// FactorNames is the fixed set of macro factors the analyzer regresses against,
// in reporting order.
var FactorNames = []string{
	"real_rate",
	"inflation_surprise",
	"credit_spread",
	"currency_index",
	"equity_risk_premium",
}

// FactorObservation is one daily return of a macro factor series.
type FactorObservation struct {
	Factor string
	Date   time.Time
	Return float64
}

// FactorExposure is the cached result of regressing a portfolio's daily returns
// against the macro factor set for one pricing pack. It is derived data, never
// authoritative: always recomputable from the daily value and factor series.
type FactorExposure struct {
	PortfolioID   string
	PackID        string
	Betas         map[string]float64
	Alpha         float64
	RSquared      float64
	Systematic    float64 // share of variance explained by the factors
	Idiosyncratic float64 // complement of Systematic
	Observations  int
	ComputedAt    time.Time
}
