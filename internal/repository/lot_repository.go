package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/avandermeer/portfolio-analytics/internal/apperrors"
	"github.com/avandermeer/portfolio-analytics/internal/model"
	"github.com/shopspring/decimal"
)

type LotRepository struct {
	db *sql.DB
}

func NewLotRepository(db *sql.DB) *LotRepository {
	return &LotRepository{db: db}
}

const lotColumns = `id, portfolio_id, security_id, acquisition_date, quantity,
	average_cost, trade_fx, cost_basis_local, cost_basis_base, created_at`

func scanLot(scanner interface{ Scan(...any) error }) (model.Lot, error) {
	var l model.Lot
	var acquisitionStr, quantityStr, avgCostStr, tradeFXStr, basisLocalStr, basisBaseStr, createdAtStr string

	err := scanner.Scan(
		&l.ID,
		&l.PortfolioID,
		&l.SecurityID,
		&acquisitionStr,
		&quantityStr,
		&avgCostStr,
		&tradeFXStr,
		&basisLocalStr,
		&basisBaseStr,
		&createdAtStr,
	)
	if err != nil {
		return model.Lot{}, err
	}

	if l.AcquisitionDate, err = ParseTime(acquisitionStr); err != nil {
		return model.Lot{}, fmt.Errorf("failed to parse acquisition_date: %w", err)
	}
	if l.Quantity, err = ParseDecimal(quantityStr); err != nil {
		return model.Lot{}, fmt.Errorf("failed to parse quantity: %w", err)
	}
	if l.AverageCost, err = ParseDecimal(avgCostStr); err != nil {
		return model.Lot{}, fmt.Errorf("failed to parse average_cost: %w", err)
	}
	if l.TradeFX, err = ParseDecimal(tradeFXStr); err != nil {
		return model.Lot{}, fmt.Errorf("failed to parse trade_fx: %w", err)
	}
	if l.CostBasisLocal, err = ParseDecimal(basisLocalStr); err != nil {
		return model.Lot{}, fmt.Errorf("failed to parse cost_basis_local: %w", err)
	}
	if l.CostBasisBase, err = ParseDecimal(basisBaseStr); err != nil {
		return model.Lot{}, fmt.Errorf("failed to parse cost_basis_base: %w", err)
	}
	if l.CreatedAt, err = ParseTime(createdAtStr); err != nil {
		return model.Lot{}, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return l, nil
}

func (s *LotRepository) GetLot(id string) (model.Lot, error) {
	query := `SELECT ` + lotColumns + ` FROM lot WHERE id = ?`

	lot, err := scanLot(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Lot{}, fmt.Errorf("lot %s: %w", id, apperrors.ErrLotNotFound)
	}
	if err != nil {
		return model.Lot{}, fmt.Errorf("failed to query lot table: %w", err)
	}
	return lot, nil
}

// GetOpenLotsBySecurity returns lots of a security that still hold shares,
// ordered by acquisition date. When tx is non-nil the read joins the
// corporate-action transaction so the lot loop sees a consistent snapshot.
func (s *LotRepository) GetOpenLotsBySecurity(tx *sql.Tx, securityID string) ([]model.Lot, error) {
	query := `
		SELECT ` + lotColumns + `
		FROM lot
		WHERE security_id = ? AND CAST(quantity AS REAL) > 0
		ORDER BY acquisition_date ASC, created_at ASC
	`

	var rows *sql.Rows
	var err error
	if tx != nil {
		rows, err = tx.Query(query, securityID)
	} else {
		rows, err = s.db.Query(query, securityID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query lot table: %w", err)
	}
	defer rows.Close()

	var lots []model.Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lot table results: %w", err)
		}
		lots = append(lots, lot)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lot table: %w", err)
	}

	return lots, nil
}

// GetOpenLotsByPortfolio returns all open lots of a portfolio, ordered by
// security then acquisition date.
func (s *LotRepository) GetOpenLotsByPortfolio(portfolioID string) ([]model.Lot, error) {
	query := `
		SELECT ` + lotColumns + `
		FROM lot
		WHERE portfolio_id = ? AND CAST(quantity AS REAL) > 0
		ORDER BY security_id ASC, acquisition_date ASC
	`

	rows, err := s.db.Query(query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lot table: %w", err)
	}
	defer rows.Close()

	var lots []model.Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lot table results: %w", err)
		}
		lots = append(lots, lot)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lot table: %w", err)
	}

	return lots, nil
}

func (s *LotRepository) InsertLot(lot model.Lot) error {
	return s.insertLot(nil, lot)
}

// InsertLotTx inserts a lot inside a corporate-action transaction (merger and
// spinoff target lots).
func (s *LotRepository) InsertLotTx(tx *sql.Tx, lot model.Lot) error {
	return s.insertLot(tx, lot)
}

func (s *LotRepository) insertLot(tx *sql.Tx, lot model.Lot) error {
	query := `
		INSERT INTO lot (id, portfolio_id, security_id, acquisition_date, quantity,
			average_cost, trade_fx, cost_basis_local, cost_basis_base)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	args := []any{
		lot.ID,
		lot.PortfolioID,
		lot.SecurityID,
		lot.AcquisitionDate.Format("2006-01-02"),
		lot.Quantity.String(),
		lot.AverageCost.String(),
		lot.TradeFX.String(),
		lot.CostBasisLocal.String(),
		lot.CostBasisBase.String(),
	}

	var err error
	if tx != nil {
		_, err = tx.Exec(query, args...)
	} else {
		_, err = s.db.Exec(query, args...)
	}
	if err != nil {
		return fmt.Errorf("failed to insert lot: %w", err)
	}

	return nil
}

// UpdateLotTx rescales a lot's quantity, average cost and bases inside a
// corporate-action transaction. Trade FX is deliberately not updatable.
func (s *LotRepository) UpdateLotTx(tx *sql.Tx, lotID string, quantity, averageCost, basisLocal, basisBase decimal.Decimal) error {
	query := `
		UPDATE lot
		SET quantity = ?, average_cost = ?, cost_basis_local = ?, cost_basis_base = ?
		WHERE id = ?
	`

	result, err := tx.Exec(query,
		quantity.String(),
		averageCost.String(),
		basisLocal.String(),
		basisBase.String(),
		lotID,
	)
	if err != nil {
		return fmt.Errorf("failed to update lot: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("lot %s: %w", lotID, apperrors.ErrLotNotFound)
	}

	return nil
}
