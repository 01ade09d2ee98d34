package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger posting leg sides.
const (
	LegDebit  = "debit"
	LegCredit = "credit"
)

// PostingLeg is one debit or credit line of a ledger posting, in base currency.
type PostingLeg struct {
	Account string
	Side    string
	Amount  decimal.Decimal
}

// LedgerPosting describes the double-entry effect of one processed corporate
// action. It carries everything an external ledger writer needs to emit
// balanced postings: the action, the lots it touched, and debit/credit legs
// that sum to zero. The core stores it for audit but does not own the ledger's
// storage format.
type LedgerPosting struct {
	ID            string
	ActionID      string
	LotIDs        []string
	Legs          []PostingLeg
	ReferenceDate time.Time
	CreatedAt     time.Time
}

// Balanced reports whether total debits equal total credits.
func (p LedgerPosting) Balanced() bool {
	var debits, credits decimal.Decimal
	for _, leg := range p.Legs {
		switch leg.Side {
		case LegDebit:
			debits = debits.Add(leg.Amount)
		case LegCredit:
			credits = credits.Add(leg.Amount)
		}
	}
	return debits.Equal(credits)
}
