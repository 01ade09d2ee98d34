package apperrors

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Domain entity errors represent missing or invalid entities in the system.
// These errors indicate that a requested resource does not exist.
var (
	// ErrPortfolioNotFound indicates that a portfolio with the given ID does not exist.
	ErrPortfolioNotFound = errors.New("portfolio not found")

	// ErrSecurityNotFound indicates that a security with the given ID does not exist.
	ErrSecurityNotFound = errors.New("security not found")

	// ErrLotNotFound indicates that a lot with the given ID does not exist.
	ErrLotNotFound = errors.New("lot not found")

	// ErrActionNotFound indicates that a corporate action with the given ID does not exist.
	ErrActionNotFound = errors.New("corporate action not found")

	// ErrPackNotFound indicates that a pricing pack with the given ID does not exist.
	ErrPackNotFound = errors.New("pricing pack not found")

	// ErrPriceNotFound indicates a pricing pack carries no price for the requested security.
	ErrPriceNotFound = errors.New("price not found in pricing pack")
)

// Calculation errors represent numeric contracts that could not be met.
var (
	// ErrRateNotFound indicates no FX observation exists for the exact pair and
	// date required. The resolver never interpolates and never defaults to 1.0;
	// the affected calculation fails instead.
	ErrRateNotFound = errors.New("fx rate not found")

	// ErrInsufficientData indicates fewer observations than the statistical
	// minimum for a calculation. It is an expected result for thin series, not
	// an operational failure.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrBasisIntegrity indicates a post-split cost basis check failed. This is
	// always fatal: it signals a logic defect, and the whole split is aborted
	// rather than partially applied.
	ErrBasisIntegrity = errors.New("cost basis integrity violation")

	// ErrConvergence indicates an iterative solver exhausted its iteration
	// budget without meeting tolerance.
	ErrConvergence = errors.New("solver did not converge")
)

// Business logic errors represent validation failures or constraint violations.
var (
	// ErrActionAlreadyProcessed indicates an action was already applied; callers
	// relying on idempotency can treat this as success.
	ErrActionAlreadyProcessed = errors.New("corporate action already processed")

	// ErrPackNotFresh indicates a valuation was requested against a pack that is
	// still building. Valuations read only from immutable fresh packs.
	ErrPackNotFresh = errors.New("pricing pack is not fresh")

	// ErrDuplicateObservation indicates an FX observation already exists for the
	// pair and date. The observation table is append-only and unique.
	ErrDuplicateObservation = errors.New("duplicate fx observation")

	// ErrInvalidDateRange indicates that the provided date range is invalid
	// (e.g., start date is after end date).
	ErrInvalidDateRange = errors.New("invalid date range")

	// ErrUnsupportedAction indicates a corporate action type or shape the
	// processor does not implement (e.g. partial spinoff basis splits).
	ErrUnsupportedAction = errors.New("unsupported corporate action")
)

// BasisIntegrityError carries the numeric evidence of a failed post-split basis
// check. It wraps ErrBasisIntegrity so callers can match with errors.Is.
type BasisIntegrityError struct {
	SecurityID string
	ActionID   string
	Before     decimal.Decimal
	After      decimal.Decimal
}

func (e *BasisIntegrityError) Error() string {
	return fmt.Sprintf("cost basis integrity violation for security %s (action %s): basis before %s, after %s",
		e.SecurityID, e.ActionID, e.Before.String(), e.After.String())
}

func (e *BasisIntegrityError) Unwrap() error { return ErrBasisIntegrity }

// RateNotFoundError identifies the exact pair and date a lookup failed for.
// It wraps ErrRateNotFound so callers can match with errors.Is.
type RateNotFoundError struct {
	From, To string
	Date     time.Time
}

func (e *RateNotFoundError) Error() string {
	return fmt.Sprintf("fx rate not found for %s/%s on %s", e.From, e.To, e.Date.Format("2006-01-02"))
}

func (e *RateNotFoundError) Unwrap() error { return ErrRateNotFound }
