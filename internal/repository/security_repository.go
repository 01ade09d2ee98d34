package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/avandermeer/portfolio-analytics/internal/apperrors"
	"github.com/avandermeer/portfolio-analytics/internal/model"
)

type SecurityRepository struct {
	db *sql.DB
}

func NewSecurityRepository(db *sql.DB) *SecurityRepository {
	return &SecurityRepository{db: db}
}

func (s *SecurityRepository) GetSecurity(id string) (model.Security, error) {
	query := `
		SELECT id, name, symbol, currency, is_adr, withholding_rate
		FROM security
		WHERE id = ?
	`

	var sec model.Security
	var symbol sql.NullString
	var withholdingStr string

	err := s.db.QueryRow(query, id).Scan(
		&sec.ID,
		&sec.Name,
		&symbol,
		&sec.Currency,
		&sec.IsADR,
		&withholdingStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Security{}, fmt.Errorf("security %s: %w", id, apperrors.ErrSecurityNotFound)
	}
	if err != nil {
		return model.Security{}, fmt.Errorf("failed to query security table: %w", err)
	}

	if symbol.Valid {
		sec.Symbol = symbol.String
	}

	sec.WithholdingRate, err = ParseDecimal(withholdingStr)
	if err != nil {
		return model.Security{}, fmt.Errorf("failed to parse withholding_rate: %w", err)
	}

	return sec, nil
}

func (s *SecurityRepository) CreateSecurity(sec model.Security) error {
	query := `
		INSERT INTO security (id, name, symbol, currency, is_adr, withholding_rate)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		sec.ID,
		sec.Name,
		sec.Symbol,
		sec.Currency,
		sec.IsADR,
		sec.WithholdingRate.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert security: %w", err)
	}

	return nil
}
