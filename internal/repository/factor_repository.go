package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avandermeer/portfolio-analytics/internal/model"
)

type FactorRepository struct {
	db *sql.DB
}

func NewFactorRepository(db *sql.DB) *FactorRepository {
	return &FactorRepository{db: db}
}

// GetFactorSeries returns the daily returns of one factor between startDate and
// endDate inclusive, ordered ascending by date.
func (s *FactorRepository) GetFactorSeries(factor string, startDate, endDate time.Time) ([]model.FactorObservation, error) {
	query := `
		SELECT factor, date, return
		FROM factor_observation
		WHERE factor = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`

	rows, err := s.db.Query(query,
		factor,
		startDate.Format("2006-01-02"),
		endDate.Format("2006-01-02"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query factor_observation table: %w", err)
	}
	defer rows.Close()

	var series []model.FactorObservation
	for rows.Next() {
		var o model.FactorObservation
		var dateStr string

		if err := rows.Scan(&o.Factor, &dateStr, &o.Return); err != nil {
			return nil, fmt.Errorf("failed to scan factor_observation table results: %w", err)
		}

		if o.Date, err = ParseTime(dateStr); err != nil {
			return nil, fmt.Errorf("failed to parse date: %w", err)
		}

		series = append(series, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating factor_observation table: %w", err)
	}

	return series, nil
}

func (s *FactorRepository) InsertFactorObservation(o model.FactorObservation) error {
	query := `INSERT INTO factor_observation (factor, date, return) VALUES (?, ?, ?)`

	_, err := s.db.Exec(query, o.Factor, o.Date.Format("2006-01-02"), o.Return)
	if err != nil {
		return fmt.Errorf("failed to insert factor observation: %w", err)
	}

	return nil
}

// SaveExposure caches a regression result for (portfolio, pack), replacing any
// previous cache entry. Exposures are derived data, so replacement is safe.
func (s *FactorRepository) SaveExposure(e model.FactorExposure) error {
	betas, err := json.Marshal(e.Betas)
	if err != nil {
		return fmt.Errorf("failed to encode betas: %w", err)
	}

	query := `
		INSERT INTO factor_exposure (portfolio_id, pack_id, betas, alpha, r_squared,
			systematic, idiosyncratic, observations, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(portfolio_id, pack_id) DO UPDATE SET
			betas = excluded.betas,
			alpha = excluded.alpha,
			r_squared = excluded.r_squared,
			systematic = excluded.systematic,
			idiosyncratic = excluded.idiosyncratic,
			observations = excluded.observations,
			computed_at = excluded.computed_at
	`

	_, err = s.db.Exec(query,
		e.PortfolioID,
		e.PackID,
		string(betas),
		e.Alpha,
		e.RSquared,
		e.Systematic,
		e.Idiosyncratic,
		e.Observations,
		e.ComputedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save factor exposure: %w", err)
	}

	return nil
}

// GetExposure returns the cached regression result for (portfolio, pack), or
// sql.ErrNoRows when nothing has been cached yet.
func (s *FactorRepository) GetExposure(portfolioID, packID string) (model.FactorExposure, error) {
	query := `
		SELECT portfolio_id, pack_id, betas, alpha, r_squared, systematic,
			idiosyncratic, observations, computed_at
		FROM factor_exposure
		WHERE portfolio_id = ? AND pack_id = ?
	`

	var e model.FactorExposure
	var betasStr, computedStr string

	err := s.db.QueryRow(query, portfolioID, packID).Scan(
		&e.PortfolioID,
		&e.PackID,
		&betasStr,
		&e.Alpha,
		&e.RSquared,
		&e.Systematic,
		&e.Idiosyncratic,
		&e.Observations,
		&computedStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FactorExposure{}, err
	}
	if err != nil {
		return model.FactorExposure{}, fmt.Errorf("failed to query factor_exposure table: %w", err)
	}

	if err := json.Unmarshal([]byte(betasStr), &e.Betas); err != nil {
		return model.FactorExposure{}, fmt.Errorf("failed to decode betas: %w", err)
	}
	if e.ComputedAt, err = ParseTime(computedStr); err != nil {
		return model.FactorExposure{}, fmt.Errorf("failed to parse computed_at: %w", err)
	}

	return e, nil
}
