package service

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avandermeer/portfolio-analytics/internal/apperrors"
	"github.com/avandermeer/portfolio-analytics/internal/model"
	"github.com/avandermeer/portfolio-analytics/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FXService is the single source of truth for FX lookups. Every component that
// needs a rate goes through Rate so the temporal anchor (trade date, pack date,
// pay date) is decided by the caller exactly once and never re-derived.
type FXService struct {
	fxRepo *repository.FXRepository
}

// NewFXService creates a new FXService with the provided repository dependencies.
func NewFXService(fxRepo *repository.FXRepository) *FXService {
	return &FXService{fxRepo: fxRepo}
}

// Rate returns the conversion factor from one currency to another on a date:
// an amount in `from` multiplied by the returned rate yields `to`.
//
// Same-currency requests return 1 without touching the store. An exact-date
// observation for the directed pair is preferred; when only the opposite
// direction was observed, its reciprocal is returned. A missing observation is
// a RateNotFound failure for the affected calculation; the resolver never
// interpolates across dates and never defaults to 1.
func (s *FXService) Rate(from, to string, date time.Time) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	rate, err := s.fxRepo.GetRate(from, to, date)
	if err == nil {
		return rate, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, fmt.Errorf("fx lookup %s/%s: %w", from, to, err)
	}

	inverse, err := s.fxRepo.GetRate(to, from, date)
	if err == nil {
		return decimal.NewFromInt(1).Div(inverse), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, fmt.Errorf("fx lookup %s/%s: %w", to, from, err)
	}

	return decimal.Decimal{}, &apperrors.RateNotFoundError{From: from, To: to, Date: date}
}

// RecordObservation appends one observed rate for a directed pair and date.
// The observation table is append-only and unique per (pair, date); a second
// observation for the same key is rejected, never overwritten.
func (s *FXService) RecordObservation(from, to string, date time.Time, rate decimal.Decimal) (model.FXObservation, error) {
	if !rate.IsPositive() {
		return model.FXObservation{}, fmt.Errorf("rate for %s/%s must be positive, got %s", from, to, rate.String())
	}

	obs := model.FXObservation{
		ID:           uuid.NewString(),
		FromCurrency: from,
		ToCurrency:   to,
		Date:         date,
		Rate:         rate,
	}

	if err := s.fxRepo.InsertObservation(obs); err != nil {
		return model.FXObservation{}, err
	}

	return obs, nil
}
