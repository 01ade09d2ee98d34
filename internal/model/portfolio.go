package model

import "time"

// Portfolio represents a portfolio from the database.
type Portfolio struct {
	ID           string
	Name         string
	BaseCurrency string
	IsArchived   bool
}

// PortfolioDailyValue is one point of the append-only valuation series consumed
// by the performance calculator: total base-currency value and net external cash
// flow for a portfolio on a date, computed from a single pricing pack.
type PortfolioDailyValue struct {
	PortfolioID string
	Date        time.Time
	PackID      string
	TotalValue  float64
	NetCashFlow float64
}
