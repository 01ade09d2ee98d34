package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/avandermeer/portfolio-analytics/internal/model"
	"github.com/avandermeer/portfolio-analytics/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MakeID returns a fresh UUID for test entities.
func MakeID() string {
	return uuid.NewString()
}

// Date is a shorthand for a UTC midnight date in tests.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Dec parses a decimal literal, failing the test on a typo.
func Dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", value, err)
	}
	return d
}

// SecurityBuilder provides a fluent interface for creating test securities.
//
// Example usage:
//
//	sec := testutil.NewSecurity().WithCurrency("CAD").ADR().Build(t, db)
type SecurityBuilder struct {
	security model.Security
}

// NewSecurity creates a SecurityBuilder with sensible defaults: a base-currency
// common stock with no withholding.
func NewSecurity() *SecurityBuilder {
	return &SecurityBuilder{security: model.Security{
		ID:              MakeID(),
		Name:            "Test Security",
		Symbol:          "TST",
		Currency:        "USD",
		WithholdingRate: decimal.Zero,
	}}
}

// WithCurrency sets the trading currency.
func (b *SecurityBuilder) WithCurrency(ccy string) *SecurityBuilder {
	b.security.Currency = ccy
	return b
}

// ADR marks the security as a foreign issue subject to pay-date FX rules.
func (b *SecurityBuilder) ADR() *SecurityBuilder {
	b.security.IsADR = true
	return b
}

// WithWithholding sets the dividend withholding rate.
func (b *SecurityBuilder) WithWithholding(t *testing.T, rate string) *SecurityBuilder {
	b.security.WithholdingRate = Dec(t, rate)
	return b
}

// WithName sets a custom name.
func (b *SecurityBuilder) WithName(name string) *SecurityBuilder {
	b.security.Name = name
	return b
}

// Build inserts the security and returns it.
func (b *SecurityBuilder) Build(t *testing.T, db *sql.DB) model.Security {
	t.Helper()
	if err := repository.NewSecurityRepository(db).CreateSecurity(b.security); err != nil {
		t.Fatalf("failed to create test security: %v", err)
	}
	return b.security
}

// CreatePortfolio inserts a portfolio with the given base currency.
func CreatePortfolio(t *testing.T, db *sql.DB, name, baseCurrency string) model.Portfolio {
	t.Helper()
	p := model.Portfolio{
		ID:           MakeID(),
		Name:         name,
		BaseCurrency: baseCurrency,
	}
	if err := repository.NewPortfolioRepository(db).CreatePortfolio(p); err != nil {
		t.Fatalf("failed to create test portfolio: %v", err)
	}
	return p
}

// CreateLot inserts a lot with its trade FX already locked.
func CreateLot(t *testing.T, db *sql.DB, portfolioID, securityID string, acquired time.Time, quantity, avgCost, tradeFX decimal.Decimal) model.Lot {
	t.Helper()
	costLocal := quantity.Mul(avgCost)
	lot := model.Lot{
		ID:              MakeID(),
		PortfolioID:     portfolioID,
		SecurityID:      securityID,
		AcquisitionDate: acquired,
		Quantity:        quantity,
		AverageCost:     avgCost,
		TradeFX:         tradeFX,
		CostBasisLocal:  costLocal,
		CostBasisBase:   costLocal.Mul(tradeFX),
	}
	if err := repository.NewLotRepository(db).InsertLot(lot); err != nil {
		t.Fatalf("failed to create test lot: %v", err)
	}
	return lot
}

// CreateFXObservation inserts one observed rate for a directed pair and date.
func CreateFXObservation(t *testing.T, db *sql.DB, from, to string, date time.Time, rate decimal.Decimal) {
	t.Helper()
	obs := model.FXObservation{
		ID:           MakeID(),
		FromCurrency: from,
		ToCurrency:   to,
		Date:         date,
		Rate:         rate,
	}
	if err := repository.NewFXRepository(db).InsertObservation(obs); err != nil {
		t.Fatalf("failed to create test fx observation: %v", err)
	}
}

// PackBuilder provides a fluent interface for creating fresh pricing packs.
//
// Example usage:
//
//	pack := testutil.NewPack(asOf).
//	    WithPrice(sec.ID, "175").
//	    WithFXRate("CAD", "1.37").
//	    Build(t, db)
type PackBuilder struct {
	pack    model.PricingPack
	prices  map[string]string
	fxRates map[string]string
	fresh   bool
}

// NewPack creates a PackBuilder for the given as-of date; packs build fresh
// unless Building is called.
func NewPack(asOf time.Time) *PackBuilder {
	return &PackBuilder{
		pack:    model.PricingPack{ID: MakeID(), AsOf: asOf, Status: model.PackStatusBuilding},
		prices:  make(map[string]string),
		fxRates: make(map[string]string),
		fresh:   true,
	}
}

// WithPrice adds a closing price for a security.
func (b *PackBuilder) WithPrice(securityID, close string) *PackBuilder {
	b.prices[securityID] = close
	return b
}

// WithFXRate adds a currency -> base conversion factor.
func (b *PackBuilder) WithFXRate(currency, rate string) *PackBuilder {
	b.fxRates[currency] = rate
	return b
}

// Building leaves the pack in building status.
func (b *PackBuilder) Building() *PackBuilder {
	b.fresh = false
	return b
}

// Build inserts the pack with its rows and returns it.
func (b *PackBuilder) Build(t *testing.T, db *sql.DB) model.PricingPack {
	t.Helper()
	repo := repository.NewPricingPackRepository(db)

	if err := repo.CreatePack(b.pack); err != nil {
		t.Fatalf("failed to create test pack: %v", err)
	}
	for securityID, close := range b.prices {
		err := repo.InsertPrice(model.PackPrice{PackID: b.pack.ID, SecurityID: securityID, Close: Dec(t, close)})
		if err != nil {
			t.Fatalf("failed to insert test pack price: %v", err)
		}
	}
	for currency, rate := range b.fxRates {
		err := repo.InsertFXRate(model.PackFXRate{PackID: b.pack.ID, Currency: currency, Rate: Dec(t, rate)})
		if err != nil {
			t.Fatalf("failed to insert test pack fx rate: %v", err)
		}
	}
	if b.fresh {
		if err := repo.MarkFresh(b.pack.ID); err != nil {
			t.Fatalf("failed to mark test pack fresh: %v", err)
		}
		b.pack.Status = model.PackStatusFresh
	}
	return b.pack
}

// CreateAction inserts a pending corporate action.
func CreateAction(t *testing.T, db *sql.DB, action model.CorporateAction) model.CorporateAction {
	t.Helper()
	if action.ID == "" {
		action.ID = MakeID()
	}
	action.Status = model.ActionStatusPending
	if err := repository.NewCorporateActionRepository(db).InsertAction(action); err != nil {
		t.Fatalf("failed to create test corporate action: %v", err)
	}
	return action
}

// CreateDailyValue appends one point to a portfolio's daily value series.
func CreateDailyValue(t *testing.T, db *sql.DB, portfolioID, packID string, date time.Time, totalValue, netCashFlow float64) {
	t.Helper()
	v := model.PortfolioDailyValue{
		PortfolioID: portfolioID,
		Date:        date,
		PackID:      packID,
		TotalValue:  totalValue,
		NetCashFlow: netCashFlow,
	}
	if err := repository.NewPortfolioValueRepository(db).InsertDailyValue(v); err != nil {
		t.Fatalf("failed to create test daily value: %v", err)
	}
}

// CreateFactorObservation appends one daily factor return.
func CreateFactorObservation(t *testing.T, db *sql.DB, factor string, date time.Time, ret float64) {
	t.Helper()
	o := model.FactorObservation{Factor: factor, Date: date, Return: ret}
	if err := repository.NewFactorRepository(db).InsertFactorObservation(o); err != nil {
		t.Fatalf("failed to create test factor observation: %v", err)
	}
}
