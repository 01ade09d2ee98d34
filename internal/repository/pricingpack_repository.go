package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/avandermeer/portfolio-analytics/internal/apperrors"
	"github.com/avandermeer/portfolio-analytics/internal/model"
	"github.com/shopspring/decimal"
)

type PricingPackRepository struct {
	db *sql.DB
}

func NewPricingPackRepository(db *sql.DB) *PricingPackRepository {
	return &PricingPackRepository{db: db}
}

func (s *PricingPackRepository) GetPack(id string) (model.PricingPack, error) {
	query := `SELECT id, as_of, status, created_at FROM pricing_pack WHERE id = ?`

	var pack model.PricingPack
	var asOfStr, createdAtStr string

	err := s.db.QueryRow(query, id).Scan(&pack.ID, &asOfStr, &pack.Status, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PricingPack{}, fmt.Errorf("pricing pack %s: %w", id, apperrors.ErrPackNotFound)
	}
	if err != nil {
		return model.PricingPack{}, fmt.Errorf("failed to query pricing_pack table: %w", err)
	}

	if pack.AsOf, err = ParseTime(asOfStr); err != nil {
		return model.PricingPack{}, fmt.Errorf("failed to parse as_of: %w", err)
	}
	if pack.CreatedAt, err = ParseTime(createdAtStr); err != nil {
		return model.PricingPack{}, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return pack, nil
}

func (s *PricingPackRepository) CreatePack(pack model.PricingPack) error {
	query := `INSERT INTO pricing_pack (id, as_of, status) VALUES (?, ?, ?)`

	_, err := s.db.Exec(query, pack.ID, pack.AsOf.Format("2006-01-02"), pack.Status)
	if err != nil {
		return fmt.Errorf("failed to insert pricing pack: %w", err)
	}

	return nil
}

// MarkFresh flips a building pack to fresh. After this point the pack's rows
// are immutable; split-driven historical rescaling is the single sanctioned
// exception and runs through GetPricesBeforeTx and UpdatePriceTx.
func (s *PricingPackRepository) MarkFresh(id string) error {
	query := `UPDATE pricing_pack SET status = ? WHERE id = ? AND status = ?`

	result, err := s.db.Exec(query, model.PackStatusFresh, id, model.PackStatusBuilding)
	if err != nil {
		return fmt.Errorf("failed to mark pack fresh: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("pricing pack %s: %w", id, apperrors.ErrPackNotFound)
	}

	return nil
}

func (s *PricingPackRepository) InsertPrice(price model.PackPrice) error {
	query := `INSERT INTO pack_price (pack_id, security_id, close) VALUES (?, ?, ?)`

	_, err := s.db.Exec(query, price.PackID, price.SecurityID, price.Close.String())
	if err != nil {
		return fmt.Errorf("failed to insert pack price: %w", err)
	}

	return nil
}

func (s *PricingPackRepository) InsertFXRate(rate model.PackFXRate) error {
	query := `INSERT INTO pack_fx_rate (pack_id, currency, rate) VALUES (?, ?, ?)`

	_, err := s.db.Exec(query, rate.PackID, rate.Currency, rate.Rate.String())
	if err != nil {
		return fmt.Errorf("failed to insert pack fx rate: %w", err)
	}

	return nil
}

// GetPrice returns the closing price for a security from one pack only.
func (s *PricingPackRepository) GetPrice(packID, securityID string) (decimal.Decimal, error) {
	query := `SELECT close FROM pack_price WHERE pack_id = ? AND security_id = ?`

	var closeStr string
	err := s.db.QueryRow(query, packID, securityID).Scan(&closeStr)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, fmt.Errorf("security %s in pack %s: %w", securityID, packID, apperrors.ErrPriceNotFound)
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to query pack_price table: %w", err)
	}

	price, err := ParseDecimal(closeStr)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to parse pack price: %w", err)
	}

	return price, nil
}

// GetFXRate returns the currency -> base conversion factor from one pack only.
// Base-currency rows are stored as 1 when the pack is built.
func (s *PricingPackRepository) GetFXRate(packID, currency string) (decimal.Decimal, error) {
	query := `SELECT rate FROM pack_fx_rate WHERE pack_id = ? AND currency = ?`

	var rateStr string
	err := s.db.QueryRow(query, packID, currency).Scan(&rateStr)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, fmt.Errorf("currency %s in pack %s: %w", currency, packID, apperrors.ErrRateNotFound)
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to query pack_fx_rate table: %w", err)
	}

	rate, err := ParseDecimal(rateStr)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to parse pack fx rate: %w", err)
	}

	return rate, nil
}

// GetLatestFreshPack returns the most recent pack that has been marked fresh,
// or ErrPackNotFound when none exists yet.
func (s *PricingPackRepository) GetLatestFreshPack() (model.PricingPack, error) {
	query := `
		SELECT id, as_of, status, created_at
		FROM pricing_pack
		WHERE status = ?
		ORDER BY as_of DESC
		LIMIT 1
	`

	var pack model.PricingPack
	var asOfStr, createdAtStr string

	err := s.db.QueryRow(query, model.PackStatusFresh).Scan(&pack.ID, &asOfStr, &pack.Status, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PricingPack{}, fmt.Errorf("no fresh pricing pack: %w", apperrors.ErrPackNotFound)
	}
	if err != nil {
		return model.PricingPack{}, fmt.Errorf("failed to query pricing_pack table: %w", err)
	}

	if pack.AsOf, err = ParseTime(asOfStr); err != nil {
		return model.PricingPack{}, fmt.Errorf("failed to parse as_of: %w", err)
	}
	if pack.CreatedAt, err = ParseTime(createdAtStr); err != nil {
		return model.PricingPack{}, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return pack, nil
}

// GetPricesBeforeTx returns (pack_id, close) pairs for a security across all
// packs dated strictly before the given date, read inside the corporate-action
// transaction that is about to rescale them.
func (s *PricingPackRepository) GetPricesBeforeTx(tx *sql.Tx, securityID string, before string) (map[string]decimal.Decimal, error) {
	query := `
		SELECT pp.pack_id, pp.close
		FROM pack_price pp
		JOIN pricing_pack p ON p.id = pp.pack_id
		WHERE pp.security_id = ? AND p.as_of < ?
	`

	rows, err := tx.Query(query, securityID, before)
	if err != nil {
		return nil, fmt.Errorf("failed to query pack_price table: %w", err)
	}
	defer rows.Close()

	prices := make(map[string]decimal.Decimal)
	for rows.Next() {
		var packID, closeStr string
		if err := rows.Scan(&packID, &closeStr); err != nil {
			return nil, fmt.Errorf("failed to scan pack_price table results: %w", err)
		}
		price, err := ParseDecimal(closeStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse pack price: %w", err)
		}
		prices[packID] = price
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pack_price table: %w", err)
	}

	return prices, nil
}

// UpdatePriceTx rewrites one historical pack price inside a corporate-action
// transaction. Used only for split continuity rescaling.
func (s *PricingPackRepository) UpdatePriceTx(tx *sql.Tx, packID, securityID string, close decimal.Decimal) error {
	query := `UPDATE pack_price SET close = ? WHERE pack_id = ? AND security_id = ?`

	_, err := tx.Exec(query, close.String(), packID, securityID)
	if err != nil {
		return fmt.Errorf("failed to update pack price: %w", err)
	}

	return nil
}
