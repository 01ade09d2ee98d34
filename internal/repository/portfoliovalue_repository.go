package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/avandermeer/portfolio-analytics/internal/model"
)

type PortfolioValueRepository struct {
	db *sql.DB
}

func NewPortfolioValueRepository(db *sql.DB) *PortfolioValueRepository {
	return &PortfolioValueRepository{db: db}
}

// GetSeries returns the daily value series for a portfolio between startDate and
// endDate inclusive, ordered ascending by date.
func (s *PortfolioValueRepository) GetSeries(portfolioID string, startDate, endDate time.Time) ([]model.PortfolioDailyValue, error) {
	query := `
		SELECT portfolio_id, date, pack_id, total_value, net_cash_flow
		FROM portfolio_daily_value
		WHERE portfolio_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`

	rows, err := s.db.Query(query,
		portfolioID,
		startDate.Format("2006-01-02"),
		endDate.Format("2006-01-02"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio_daily_value table: %w", err)
	}
	defer rows.Close()

	var series []model.PortfolioDailyValue
	for rows.Next() {
		var v model.PortfolioDailyValue
		var dateStr string

		err := rows.Scan(&v.PortfolioID, &dateStr, &v.PackID, &v.TotalValue, &v.NetCashFlow)
		if err != nil {
			return nil, fmt.Errorf("failed to scan portfolio_daily_value table results: %w", err)
		}

		if v.Date, err = ParseTime(dateStr); err != nil {
			return nil, fmt.Errorf("failed to parse date: %w", err)
		}

		series = append(series, v)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolio_daily_value table: %w", err)
	}

	return series, nil
}

func (s *PortfolioValueRepository) InsertDailyValue(v model.PortfolioDailyValue) error {
	query := `
		INSERT INTO portfolio_daily_value (portfolio_id, date, pack_id, total_value, net_cash_flow)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		v.PortfolioID,
		v.Date.Format("2006-01-02"),
		v.PackID,
		v.TotalValue,
		v.NetCashFlow,
	)
	if err != nil {
		return fmt.Errorf("failed to insert daily value: %w", err)
	}

	return nil
}
