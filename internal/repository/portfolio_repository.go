package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/avandermeer/portfolio-analytics/internal/apperrors"
	"github.com/avandermeer/portfolio-analytics/internal/model"
)

type PortfolioRepository struct {
	db *sql.DB
}

func NewPortfolioRepository(db *sql.DB) *PortfolioRepository {
	return &PortfolioRepository{db: db}
}

func (s *PortfolioRepository) GetPortfolio(id string) (model.Portfolio, error) {
	query := `SELECT id, name, base_currency, is_archived FROM portfolio WHERE id = ?`

	var p model.Portfolio
	err := s.db.QueryRow(query, id).Scan(&p.ID, &p.Name, &p.BaseCurrency, &p.IsArchived)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Portfolio{}, fmt.Errorf("portfolio %s: %w", id, apperrors.ErrPortfolioNotFound)
	}
	if err != nil {
		return model.Portfolio{}, fmt.Errorf("failed to query portfolio table: %w", err)
	}

	return p, nil
}

// GetActivePortfolios returns all non-archived portfolios, the pre-warm batch universe.
func (s *PortfolioRepository) GetActivePortfolios() ([]model.Portfolio, error) {
	query := `SELECT id, name, base_currency, is_archived FROM portfolio WHERE is_archived = FALSE ORDER BY name ASC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio table: %w", err)
	}
	defer rows.Close()

	var portfolios []model.Portfolio
	for rows.Next() {
		var p model.Portfolio
		if err := rows.Scan(&p.ID, &p.Name, &p.BaseCurrency, &p.IsArchived); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio table results: %w", err)
		}
		portfolios = append(portfolios, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolio table: %w", err)
	}

	return portfolios, nil
}

func (s *PortfolioRepository) CreatePortfolio(p model.Portfolio) error {
	query := `INSERT INTO portfolio (id, name, base_currency, is_archived) VALUES (?, ?, ?, ?)`

	_, err := s.db.Exec(query, p.ID, p.Name, p.BaseCurrency, p.IsArchived)
	if err != nil {
		return fmt.Errorf("failed to insert portfolio: %w", err)
	}

	return nil
}
