package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/avandermeer/portfolio-analytics/internal/repository"
	"github.com/avandermeer/portfolio-analytics/internal/service"
)

// Services bundles the fully wired service layer over one test database.
type Services struct {
	FX              *service.FXService
	Valuation       *service.ValuationService
	CorporateAction *service.CorporateActionService
	Performance     *service.PerformanceService
	Attribution     *service.AttributionService
	Factor          *service.FactorService
}

// NewServices wires all services against the given test database with USD as
// the base currency and a 2% risk-free rate.
func NewServices(t *testing.T, db *sql.DB) *Services {
	t.Helper()

	securityRepo := repository.NewSecurityRepository(db)
	lotRepo := repository.NewLotRepository(db)
	fxRepo := repository.NewFXRepository(db)
	packRepo := repository.NewPricingPackRepository(db)
	actionRepo := repository.NewCorporateActionRepository(db)
	valueRepo := repository.NewPortfolioValueRepository(db)
	factorRepo := repository.NewFactorRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	portfolioRepo := repository.NewPortfolioRepository(db)

	fxService := service.NewFXService(fxRepo)

	return &Services{
		FX:              fxService,
		Valuation:       service.NewValuationService(lotRepo, securityRepo, packRepo, valueRepo, fxService, "USD"),
		CorporateAction: service.NewCorporateActionService(db, actionRepo, lotRepo, securityRepo, packRepo, ledgerRepo, fxService, "USD"),
		Performance:     service.NewPerformanceService(valueRepo, 0.02),
		Attribution:     service.NewAttributionService(lotRepo, securityRepo, packRepo, fxService, "USD"),
		Factor:          service.NewFactorService(valueRepo, factorRepo, portfolioRepo, packRepo, 4, 10*time.Second),
	}
}
