package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avandermeer/portfolio-analytics/internal/apperrors"
	"github.com/avandermeer/portfolio-analytics/internal/model"
)

type CorporateActionRepository struct {
	db *sql.DB
}

func NewCorporateActionRepository(db *sql.DB) *CorporateActionRepository {
	return &CorporateActionRepository{db: db}
}

func (s *CorporateActionRepository) GetAction(id string) (model.CorporateAction, error) {
	query := `
		SELECT id, security_id, type, ex_date, pay_date, effective_date,
			amount_per_share, amount_currency, ratio_from, ratio_to,
			exchange_ratio, target_security_id, status, reverses_action_id,
			created_at, processed_at
		FROM corporate_action
		WHERE id = ?
	`

	var a model.CorporateAction
	var exStr, payStr, effectiveStr, amountStr, amountCcy sql.NullString
	var ratioFromStr, ratioToStr, exchangeStr, targetID, reversesID, processedStr sql.NullString
	var createdAtStr string

	err := s.db.QueryRow(query, id).Scan(
		&a.ID,
		&a.SecurityID,
		&a.Type,
		&exStr,
		&payStr,
		&effectiveStr,
		&amountStr,
		&amountCcy,
		&ratioFromStr,
		&ratioToStr,
		&exchangeStr,
		&targetID,
		&a.Status,
		&reversesID,
		&createdAtStr,
		&processedStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CorporateAction{}, fmt.Errorf("corporate action %s: %w", id, apperrors.ErrActionNotFound)
	}
	if err != nil {
		return model.CorporateAction{}, fmt.Errorf("failed to query corporate_action table: %w", err)
	}

	if exStr.Valid {
		if a.ExDate, err = ParseTime(exStr.String); err != nil {
			return model.CorporateAction{}, fmt.Errorf("failed to parse ex_date: %w", err)
		}
	}
	if payStr.Valid {
		if a.PayDate, err = ParseTime(payStr.String); err != nil {
			return model.CorporateAction{}, fmt.Errorf("failed to parse pay_date: %w", err)
		}
	}
	if effectiveStr.Valid {
		if a.EffectiveDate, err = ParseTime(effectiveStr.String); err != nil {
			return model.CorporateAction{}, fmt.Errorf("failed to parse effective_date: %w", err)
		}
	}
	if amountStr.Valid {
		if a.AmountPerShare, err = ParseDecimal(amountStr.String); err != nil {
			return model.CorporateAction{}, fmt.Errorf("failed to parse amount_per_share: %w", err)
		}
	}
	if amountCcy.Valid {
		a.AmountCurrency = amountCcy.String
	}
	if ratioFromStr.Valid {
		if a.RatioFrom, err = ParseDecimal(ratioFromStr.String); err != nil {
			return model.CorporateAction{}, fmt.Errorf("failed to parse ratio_from: %w", err)
		}
	}
	if ratioToStr.Valid {
		if a.RatioTo, err = ParseDecimal(ratioToStr.String); err != nil {
			return model.CorporateAction{}, fmt.Errorf("failed to parse ratio_to: %w", err)
		}
	}
	if exchangeStr.Valid {
		if a.ExchangeRatio, err = ParseDecimal(exchangeStr.String); err != nil {
			return model.CorporateAction{}, fmt.Errorf("failed to parse exchange_ratio: %w", err)
		}
	}
	if targetID.Valid {
		a.TargetSecurity = targetID.String
	}
	if reversesID.Valid {
		a.ReversesAction = reversesID.String
	}
	if a.CreatedAt, err = ParseTime(createdAtStr); err != nil {
		return model.CorporateAction{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if processedStr.Valid {
		if a.ProcessedAt, err = ParseTime(processedStr.String); err != nil {
			return model.CorporateAction{}, fmt.Errorf("failed to parse processed_at: %w", err)
		}
	}

	return a, nil
}

// GetPendingActionIDs returns the ids of pending actions due on or before the
// given date, ordered by due date. A dividend is due at its pay date, every
// other action at its effective date.
func (s *CorporateActionRepository) GetPendingActionIDs(dueBy time.Time) ([]string, error) {
	query := `
		SELECT id
		FROM corporate_action
		WHERE status = ?
		  AND COALESCE(pay_date, effective_date) <= ?
		ORDER BY COALESCE(pay_date, effective_date), created_at
	`

	rows, err := s.db.Query(query, model.ActionStatusPending, dueBy.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to query corporate_action table: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan corporate_action row: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating corporate_action table: %w", err)
	}

	return ids, nil
}

func (s *CorporateActionRepository) InsertAction(a model.CorporateAction) error {
	query := `
		INSERT INTO corporate_action (id, security_id, type, ex_date, pay_date,
			effective_date, amount_per_share, amount_currency, ratio_from, ratio_to,
			exchange_ratio, target_security_id, status, reverses_action_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		a.ID,
		a.SecurityID,
		a.Type,
		nullDate(a.ExDate),
		nullDate(a.PayDate),
		nullDate(a.EffectiveDate),
		nullDecimalString(a.AmountPerShare.String(), a.Type == model.ActionDividend),
		nullString(a.AmountCurrency),
		nullDecimalString(a.RatioFrom.String(), a.Type == model.ActionSplit || a.Type == model.ActionReverseSplit),
		nullDecimalString(a.RatioTo.String(), a.Type == model.ActionSplit || a.Type == model.ActionReverseSplit),
		nullDecimalString(a.ExchangeRatio.String(), a.Type == model.ActionMerger || a.Type == model.ActionSpinoff),
		nullString(a.TargetSecurity),
		model.ActionStatusPending,
		nullString(a.ReversesAction),
	)
	if err != nil {
		return fmt.Errorf("failed to insert corporate action: %w", err)
	}

	return nil
}

// MarkProcessedTx flips the action from pending to processed inside the same
// transaction as its lot mutations. A zero-row update means another processor
// got there first (or the action was already applied): the caller treats that
// as the idempotent no-op case.
func (s *CorporateActionRepository) MarkProcessedTx(tx *sql.Tx, id string) (bool, error) {
	query := `
		UPDATE corporate_action
		SET status = ?, processed_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := tx.Exec(query,
		model.ActionStatusProcessed,
		time.Now().UTC().Format(time.RFC3339),
		id,
		model.ActionStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark action processed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}

	return affected == 1, nil
}

func nullDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format("2006-01-02")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullDecimalString(s string, present bool) any {
	if !present {
		return nil
	}
	return s
}
