package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/avandermeer/portfolio-analytics/internal/model"
)

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// InsertPostingTx stores the posting description inside the corporate-action
// transaction so the posting appears if and only if the action commits.
func (s *LedgerRepository) InsertPostingTx(tx *sql.Tx, p model.LedgerPosting) error {
	lotIDs, err := json.Marshal(p.LotIDs)
	if err != nil {
		return fmt.Errorf("failed to encode lot ids: %w", err)
	}

	legs, err := json.Marshal(p.Legs)
	if err != nil {
		return fmt.Errorf("failed to encode posting legs: %w", err)
	}

	query := `
		INSERT INTO ledger_posting (id, action_id, lot_ids, legs, reference_date)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err = tx.Exec(query,
		p.ID,
		p.ActionID,
		string(lotIDs),
		string(legs),
		p.ReferenceDate.Format("2006-01-02"),
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger posting: %w", err)
	}

	return nil
}

// GetPostingByAction returns the posting generated by a processed action, or
// sql.ErrNoRows when the action produced none.
func (s *LedgerRepository) GetPostingByAction(actionID string) (model.LedgerPosting, error) {
	query := `
		SELECT id, action_id, lot_ids, legs, reference_date, created_at
		FROM ledger_posting
		WHERE action_id = ?
	`

	var p model.LedgerPosting
	var lotIDsStr, legsStr, refStr, createdStr string

	err := s.db.QueryRow(query, actionID).Scan(&p.ID, &p.ActionID, &lotIDsStr, &legsStr, &refStr, &createdStr)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LedgerPosting{}, err
	}
	if err != nil {
		return model.LedgerPosting{}, fmt.Errorf("failed to query ledger_posting table: %w", err)
	}

	if err := json.Unmarshal([]byte(lotIDsStr), &p.LotIDs); err != nil {
		return model.LedgerPosting{}, fmt.Errorf("failed to decode lot ids: %w", err)
	}
	if err := json.Unmarshal([]byte(legsStr), &p.Legs); err != nil {
		return model.LedgerPosting{}, fmt.Errorf("failed to decode posting legs: %w", err)
	}
	if p.ReferenceDate, err = ParseTime(refStr); err != nil {
		return model.LedgerPosting{}, fmt.Errorf("failed to parse reference_date: %w", err)
	}
	if p.CreatedAt, err = ParseTime(createdStr); err != nil {
		return model.LedgerPosting{}, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return p, nil
}
