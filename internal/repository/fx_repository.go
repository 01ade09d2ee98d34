package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avandermeer/portfolio-analytics/internal/apperrors"
	"github.com/avandermeer/portfolio-analytics/internal/model"
	"github.com/shopspring/decimal"
)

type FXRepository struct {
	db *sql.DB
}

func NewFXRepository(db *sql.DB) *FXRepository {
	return &FXRepository{db: db}
}

// GetRate returns the observed rate for the exact directed pair and date.
// Missing observations surface as sql.ErrNoRows for the resolver to translate;
// this layer performs no interpolation and no reciprocal fallback.
func (s *FXRepository) GetRate(fromCurrency, toCurrency string, date time.Time) (decimal.Decimal, error) {
	query := `
		SELECT rate
		FROM fx_observation
		WHERE from_currency = ? AND to_currency = ? AND date = ?
	`

	var rateStr string
	err := s.db.QueryRow(query, fromCurrency, toCurrency, date.Format("2006-01-02")).Scan(&rateStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Decimal{}, err
		}
		return decimal.Decimal{}, fmt.Errorf("failed to query fx_observation table: %w", err)
	}

	rate, err := ParseDecimal(rateStr)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to parse fx rate: %w", err)
	}

	return rate, nil
}

func (s *FXRepository) InsertObservation(obs model.FXObservation) error {
	query := `
		INSERT INTO fx_observation (id, from_currency, to_currency, date, rate)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		obs.ID,
		obs.FromCurrency,
		obs.ToCurrency,
		obs.Date.Format("2006-01-02"),
		obs.Rate.String(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%s/%s on %s: %w",
				obs.FromCurrency, obs.ToCurrency, obs.Date.Format("2006-01-02"),
				apperrors.ErrDuplicateObservation)
		}
		return fmt.Errorf("failed to insert fx observation: %w", err)
	}

	return nil
}
